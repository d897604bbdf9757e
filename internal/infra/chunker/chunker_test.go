package chunker

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestCharBudget(t *testing.T) {
	require.Equal(t, 0, CharBudget(0))
	require.Equal(t, MinChunkChars, CharBudget(100))
	require.Equal(t, 4000, CharBudget(2000))
	require.Equal(t, 256000, CharBudget(128000))
}

func TestChunkSingleWhenFits(t *testing.T) {
	text := strings.Repeat("word ", 100)
	require.Equal(t, []string{text}, Chunk(text, len(text)))
	require.Equal(t, []string{text}, Chunk(text, len(text)+1))
	require.Equal(t, []string{text}, Chunk(text, 0))
	require.Equal(t, []string{""}, Chunk("", 10))
}

func TestChunkTwelveThousandIntoThree(t *testing.T) {
	paragraph := func(fill byte) string { return strings.Repeat(string(fill), 3998) }
	text := paragraph('a') + "\n\n" + paragraph('b') + "\n\n" + strings.Repeat("c", 4000)
	require.Len(t, text, 12000)

	chunks := Split(text, 2000)
	require.Len(t, chunks, 3)
	require.Equal(t, paragraph('a')+"\n\n", chunks[0])
	require.Equal(t, paragraph('b')+"\n\n", chunks[1])
	require.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunkPrefersBoundaries(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		limit int
		first string
	}{
		{
			name:  "paragraph",
			text:  "aaaaaaa bbbbbbb.\n\ncccc dddd eeee",
			limit: 24,
			first: "aaaaaaa bbbbbbb.\n\n",
		},
		{
			name:  "line",
			text:  "aaaaaaa bbbbbbb\ncccc dddd eeee",
			limit: 24,
			first: "aaaaaaa bbbbbbb\n",
		},
		{
			name:  "sentence",
			text:  "First part here. Second part goes on",
			limit: 24,
			first: "First part here. ",
		},
		{
			name:  "word",
			text:  "alpha beta gamma delta epsilon",
			limit: 20,
			first: "alpha beta gamma ",
		},
		{
			name:  "paragraph too early falls back to word",
			text:  "ab\n\ncdefgh ijklmnop qrstuvwxyz",
			limit: 20,
			first: "ab\n\ncdefgh ijklmnop ",
		},
		{
			name:  "hard cut",
			text:  strings.Repeat("x", 30),
			limit: 12,
			first: strings.Repeat("x", 12),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks := Chunk(tc.text, tc.limit)
			require.Greater(t, len(chunks), 1)
			require.Equal(t, tc.first, chunks[0])
			require.Equal(t, tc.text, strings.Join(chunks, ""))
		})
	}
}

func TestChunkHardCutKeepsRunes(t *testing.T) {
	text := strings.Repeat("界", 50)
	chunks := Chunk(text, 10)
	for _, chunk := range chunks {
		require.True(t, utf8.ValidString(chunk))
		require.NotEmpty(t, chunk)
		require.LessOrEqual(t, len(chunk), 10)
	}
	require.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunkRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pieces := []string{"lorem", "ipsum", " ", " ", ". ", "\n", "\n\n", "日本語", "é", "!", "?"}
	for i := 0; i < 200; i++ {
		var builder strings.Builder
		n := rng.Intn(400)
		for j := 0; j < n; j++ {
			builder.WriteString(pieces[rng.Intn(len(pieces))])
		}
		text := builder.String()
		limit := 4 + rng.Intn(200)

		chunks := Chunk(text, limit)
		require.Equal(t, text, strings.Join(chunks, ""))
		if len(text) <= limit {
			require.Equal(t, []string{text}, chunks)
			continue
		}
		for _, chunk := range chunks {
			require.NotEmpty(t, chunk)
			require.LessOrEqual(t, len(chunk), limit)
			require.True(t, utf8.ValidString(chunk))
		}
	}
}
