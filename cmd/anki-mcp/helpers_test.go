package main

import (
	"context"
	"testing"
	"time"

	"github.com/danieldreier/anki-mcp/internal/ankiconnect"
	"github.com/danieldreier/anki-mcp/internal/ankitest"
	"github.com/danieldreier/anki-mcp/internal/config"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type toolHandler func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.AnkiConnectURL = url
	cfg.MaxRetries = 1
	cfg.RetryDelay = config.Duration{Duration: time.Millisecond}
	cfg.RequestTimeout = config.Duration{Duration: 2 * time.Second}
	return cfg
}

// newTestService wires an AnkiService to a fresh fake AnkiConnect.
func newTestService(t *testing.T) (*AnkiService, *ankitest.Server) {
	t.Helper()
	srv := ankitest.NewServer()
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	manager := ankiconnect.NewManagerFromConfig(cfg, zap.NewNop())
	t.Cleanup(manager.ReleaseAll)
	return NewAnkiService(manager, cfg, zap.NewNop()), srv
}

func newRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// callTool runs a handler and returns its text and error flag.
func callTool(t *testing.T, h toolHandler, args map[string]interface{}) (string, bool) {
	t.Helper()
	res, err := h(context.Background(), newRequest("test", args))
	require.NoError(t, err, "handlers report failures in the result")
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text, res.IsError
}

// mustText runs a handler that is expected to succeed.
func mustText(t *testing.T, h toolHandler, args map[string]interface{}) string {
	t.Helper()
	text, isError := callTool(t, h, args)
	require.False(t, isError, "unexpected error result: %s", text)
	return text
}

// mustError runs a handler that is expected to fail.
func mustError(t *testing.T, h toolHandler, args map[string]interface{}) string {
	t.Helper()
	text, isError := callTool(t, h, args)
	require.True(t, isError, "expected an error result, got: %s", text)
	return text
}

func addNote(t *testing.T, srv *ankitest.Server, deck, front, back string, tags ...string) int64 {
	t.Helper()
	srv.Collection.CreateDeck(deck)
	id, err := srv.Collection.AddNote(deck, "Basic", map[string]string{"Front": front, "Back": back}, tags)
	require.NoError(t, err)
	return id
}

func firstCard(t *testing.T, srv *ankitest.Server, noteID int64) ankitest.Card {
	t.Helper()
	note, err := srv.Collection.Note(noteID)
	require.NoError(t, err)
	require.NotEmpty(t, note.Cards)
	card, ok := srv.Collection.Card(note.Cards[0])
	require.True(t, ok)
	return card
}

// ids converts note ids to the []interface{} shape of decoded JSON.
func ids(values ...int64) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

func strs(values ...string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
