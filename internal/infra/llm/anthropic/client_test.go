package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/pagedigest/internal/infra/llm"
)

func newTestClient(t *testing.T, srv *httptest.Server, vision bool) *Client {
	t.Helper()
	client, err := NewClient(llm.Config{
		ID:      "anthropic",
		BaseURL: srv.URL,
		APIKey:  "ak",
		Model:   "claude-test",
		Vision:  vision,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return client
}

func TestSendChatMovesSystemAndEncodesImages(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "ak", r.Header.Get("x-api-key"))
		require.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"model":"claude-test-1","content":[{"type":"text","text":"{\"tldr\":"},{"type":"text","text":"\"x\"}"}],"usage":{"input_tokens":10,"output_tokens":4}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, true)
	out, err := client.SendChat(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Text: "rules"},
		{Role: llm.RoleUser, Text: "page", Images: []llm.Image{
			{Base64: "QUJD", MimeType: "image/webp"},
			{URL: "https://example.com/remote.png"},
		}},
	}, llm.Options{JSONMode: true})
	require.NoError(t, err)
	require.Equal(t, `{"tldr":"x"}`, out.Text)
	require.Equal(t, "claude-test-1", out.Model)
	require.Equal(t, 14, out.Usage.TotalTokens)

	require.Equal(t, []TextBlock{{Type: "text", Text: "rules"}}, got.System)
	require.Equal(t, defaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	content := got.Messages[0].Content
	require.Len(t, content, 2)
	require.Equal(t, "image", content[0].Type)
	require.Equal(t, "image/webp", content[0].Source.MediaType)
	require.Equal(t, "QUJD", content[0].Source.Data)
	require.Equal(t, "text", content[1].Type)
}

func TestSendChatHonorsMaxOutputTokens(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"content":[{"type":"text","text":"ok"}]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, false)
	out, err := client.SendChat(context.Background(), []llm.Message{{Role: llm.RoleUser, Text: "x", Images: []llm.Image{{Base64: "QUJD"}}}}, llm.Options{MaxOutputTokens: 512})
	require.NoError(t, err)
	require.Equal(t, "claude-test", out.Model)
	require.Equal(t, 512, got.MaxTokens)
	require.Len(t, got.Messages[0].Content, 1)
}

func TestStreamChatEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi \"}}\n\n")
		fmt.Fprint(w, "data: garbage\n\n")
		fmt.Fprint(w, "event: ping\ndata: {\"type\":\"ping\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"there\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"ignored\"}}\n\n")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, false)
	stream, err := client.StreamChat(context.Background(), []llm.Message{{Role: llm.RoleUser, Text: "x"}}, llm.Options{})
	require.NoError(t, err)
	text, err := llm.CollectStream(stream, nil)
	require.NoError(t, err)
	require.Equal(t, "Hi there", text)
}

func TestStreamChatErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"partial\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"busy\"}}\n\n")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, false)
	stream, err := client.StreamChat(context.Background(), []llm.Message{{Role: llm.RoleUser, Text: "x"}}, llm.Options{})
	require.NoError(t, err)
	text, err := llm.CollectStream(stream, nil)
	require.Equal(t, "partial", text)
	var streamErr *llm.StreamError
	require.ErrorAs(t, err, &streamErr)
	require.Contains(t, streamErr.Message, "overloaded_error")
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(llm.Config{ID: "anthropic", Model: "m"}, slog.Default())
	require.Error(t, err)
}
