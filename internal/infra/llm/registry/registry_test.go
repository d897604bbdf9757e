package registry

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/pagedigest/internal/infra/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewBuildsEachFamily(t *testing.T) {
	configs := []llm.Config{
		{ID: "openai", Family: llm.FamilyOpenAI, APIKey: "sk", Model: "gpt-4o-mini", Vision: true},
		{ID: "ollama", Family: llm.FamilyOpenAI, BaseURL: "http://localhost:11434/v1", Model: "llama3"},
		{ID: "anthropic", Family: llm.FamilyAnthropic, APIKey: "ak", Model: "claude"},
		{ID: "gemini", Family: llm.FamilyGemini, APIKey: "gk", Model: "gemini-2.0-flash"},
	}
	reg, err := New(configs, "openai", Constructors(), testLogger())
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 4)
	require.Equal(t, "anthropic", list[0].ID())
	require.Equal(t, llm.FamilyAnthropic, list[0].Family())

	def, err := reg.Get("")
	require.NoError(t, err)
	require.Equal(t, "openai", def.ID())
	require.True(t, def.SupportsVision())

	gem, err := reg.Get("gemini")
	require.NoError(t, err)
	require.Equal(t, llm.FamilyGemini, gem.Family())

	_, err = reg.Get("missing")
	require.Error(t, err)
}

func TestNewSkipsBrokenProviders(t *testing.T) {
	configs := []llm.Config{
		{ID: "anthropic", Family: llm.FamilyAnthropic, Model: "claude"},
		{ID: "gemini", Family: llm.FamilyGemini, APIKey: "gk", Model: "gemini-2.0-flash"},
	}
	reg, err := New(configs, "gemini", Constructors(), testLogger())
	require.NoError(t, err)
	require.Len(t, reg.List(), 1)
}

func TestNewRejectsUnknownFamily(t *testing.T) {
	_, err := New([]llm.Config{{ID: "x", Family: "cohere"}}, "", Constructors(), testLogger())
	require.Error(t, err)
}
