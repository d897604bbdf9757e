package chatgpt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/pagedigest/internal/infra/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, srv *httptest.Server, cfg llm.Config) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	client, err := NewClient(cfg, testLogger())
	require.NoError(t, err)
	return client
}

func TestSendChatUsesProviderTokenField(t *testing.T) {
	cases := []struct {
		name  string
		id    string
		field string
		want  string
		other string
	}{
		{name: "openai default", id: "openai", want: FieldMaxCompletionTokens, other: FieldMaxTokens},
		{name: "compatible default", id: "ollama", want: FieldMaxTokens, other: FieldMaxCompletionTokens},
		{name: "override", id: "ollama", field: FieldMaxCompletionTokens, want: FieldMaxCompletionTokens, other: FieldMaxTokens},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var raw map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/chat/completions", r.URL.Path)
				require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
				fmt.Fprint(w, `{"model":"m1","choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
			}))
			defer srv.Close()

			client := newTestClient(t, srv, llm.Config{ID: tc.id, APIKey: "sk", TokenLimitField: tc.field})
			out, err := client.SendChat(context.Background(), []llm.Message{{Role: llm.RoleUser, Text: "hello"}}, llm.Options{MaxOutputTokens: 256, JSONMode: true})
			require.NoError(t, err)
			require.Equal(t, "hi", out.Text)
			require.Equal(t, "m1", out.Model)
			require.Equal(t, 5, out.Usage.TotalTokens)

			require.EqualValues(t, 256, raw[tc.want])
			require.NotContains(t, raw, tc.other)
			require.Equal(t, map[string]any{"type": "json_object"}, raw["response_format"])
		})
	}
}

func TestSendChatEncodesImagesOnlyWithVision(t *testing.T) {
	var raw struct {
		Messages []struct {
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &raw))
		require.Equal(t, "Bearer sk", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	messages := []llm.Message{
		{Role: llm.RoleSystem, Text: "sys"},
		{Role: llm.RoleUser, Text: "look", Images: []llm.Image{
			{Base64: "AAAA", MimeType: "image/png"},
			{URL: "https://example.com/a.jpg"},
		}},
	}

	client := newTestClient(t, srv, llm.Config{ID: "openai", APIKey: "sk", Vision: true})
	_, err := client.SendChat(context.Background(), messages, llm.Options{})
	require.NoError(t, err)
	var parts []ContentPart
	require.NoError(t, json.Unmarshal(raw.Messages[1].Content, &parts))
	require.Len(t, parts, 3)
	require.Equal(t, "look", parts[0].Text)
	require.Equal(t, "data:image/png;base64,AAAA", parts[1].ImageURL.URL)
	require.Equal(t, "https://example.com/a.jpg", parts[2].ImageURL.URL)

	blind := newTestClient(t, srv, llm.Config{ID: "openai", APIKey: "sk"})
	_, err = blind.SendChat(context.Background(), messages, llm.Options{})
	require.NoError(t, err)
	var text string
	require.NoError(t, json.Unmarshal(raw.Messages[1].Content, &text))
	require.Equal(t, "look", text)
}

func TestSendChatStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, llm.Config{ID: "openai", APIKey: "sk"})
	_, err := client.SendChat(context.Background(), []llm.Message{{Role: llm.RoleUser, Text: "x"}}, llm.Options{})
	var statusErr *llm.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	require.Contains(t, statusErr.Body, "bad key")
}

func TestSendChatTimeoutAndCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(t, srv, llm.Config{ID: "ollama", Timeout: 50 * time.Millisecond})
	_, err := client.SendChat(context.Background(), []llm.Message{{Role: llm.RoleUser, Text: "x"}}, llm.Options{})
	require.ErrorIs(t, err, llm.ErrTimeout)
	require.NotErrorIs(t, err, llm.ErrCancelled)

	slow := newTestClient(t, srv, llm.Config{ID: "ollama", Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err = slow.SendChat(ctx, []llm.Message{{Role: llm.RoleUser, Text: "x"}}, llm.Options{})
	require.ErrorIs(t, err, llm.ErrCancelled)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestStreamChatSkipsMalformedChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, llm.Config{ID: "ollama"})
	stream, err := client.StreamChat(context.Background(), []llm.Message{{Role: llm.RoleUser, Text: "x"}}, llm.Options{})
	require.NoError(t, err)

	var deltas []string
	text, err := llm.CollectStream(stream, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	require.Equal(t, "Hello", text)
	require.Equal(t, []string{"Hel", "lo"}, deltas)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(llm.Config{ID: "openai", Model: "m"}, testLogger())
	require.Error(t, err)

	_, err = NewClient(llm.Config{ID: "ollama"}, testLogger())
	require.Error(t, err)

	_, err = NewClient(llm.Config{ID: "ollama", Model: "m", TokenLimitField: "max_output"}, testLogger())
	require.Error(t, err)

	client, err := NewClient(llm.Config{ID: "ollama", Model: "m"}, testLogger())
	require.NoError(t, err)
	require.Nil(t, client.headers())
}
