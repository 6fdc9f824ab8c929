package ankiconnect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danieldreier/anki-mcp/internal/ankitest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Version:        6,
		ConnectTimeout: time.Second,
		RequestTimeout: 2 * time.Second,
		IdleTimeout:    2 * time.Second,
		MaxConns:       4,
	}
}

func TestClient_InvokeOnce_BuildsEnvelope(t *testing.T) {
	srv := ankitest.NewServer()
	defer srv.Close()
	client := NewClient(testClientConfig(srv.URL))
	defer client.Close()

	out := client.InvokeOnce(context.Background(), "createDeck", map[string]any{"deck": "Spanish"})
	require.Equal(t, OutcomeSuccess, out.Kind, "err: %v", out.Err)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "createDeck", reqs[0].Action)
	assert.Equal(t, 6, reqs[0].Version)
	want := map[string]json.RawMessage{"deck": json.RawMessage(`"Spanish"`)}
	if diff := cmp.Diff(want, reqs[0].Params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}

	_, exists := srv.Collection.DeckID("Spanish")
	assert.True(t, exists)
}

func TestClient_InvokeOnce_EmptyParamsAreAnObject(t *testing.T) {
	var body map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"result": 6, "error": null}`))
	}))
	defer srv.Close()
	client := NewClient(testClientConfig(srv.URL))
	defer client.Close()

	out := client.InvokeOnce(context.Background(), "version", nil)

	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.JSONEq(t, `6`, string(out.Result))
	assert.JSONEq(t, `{}`, string(body["params"]))
}

func TestClient_InvokeOnce_Classification(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		kind  OutcomeKind
		cause Cause
	}{
		{"logical error", `{"result": null, "error": "deck was not found: Nope"}`, OutcomeLogical, ""},
		{"null result", `{"result": null, "error": null}`, OutcomeSuccess, ""},
		{"missing result", `{"error": null}`, OutcomeSuccess, ""},
		{"empty error string", `{"result": [1], "error": ""}`, OutcomeSuccess, ""},
		{"malformed body", `{"result": [1,`, OutcomeTransient, CauseDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			client := NewClient(testClientConfig(srv.URL))
			defer client.Close()

			out := client.InvokeOnce(context.Background(), "findNotes", map[string]any{"query": "x"})

			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.cause, out.Cause)
		})
	}
}

func TestClient_InvokeOnce_LogicalCarriesRemoteMessage(t *testing.T) {
	srv := ankitest.NewServer()
	defer srv.Close()
	client := NewClient(testClientConfig(srv.URL))
	defer client.Close()

	out := client.InvokeOnce(context.Background(), "addNote", map[string]any{
		"note": map[string]any{"deckName": "Missing", "modelName": "Basic", "fields": map[string]string{"Front": "a", "Back": "b"}},
	})

	require.Equal(t, OutcomeLogical, out.Kind)
	assert.True(t, IsLogical(out.Err))
	assert.Equal(t, "AnkiConnect error: deck was not found: Missing", out.Err.Error())
}

func TestClient_InvokeOnce_InjectedFaults(t *testing.T) {
	tests := []struct {
		name  string
		fault ankitest.Fault
		cause Cause
	}{
		{"http status", ankitest.FaultStatus, CauseOther},
		{"malformed", ankitest.FaultMalformed, CauseDecode},
		{"dropped connection", ankitest.FaultDrop, CauseConnect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := ankitest.NewServer()
			defer srv.Close()
			srv.InjectFaults(tt.fault)
			client := NewClient(testClientConfig(srv.URL))
			defer client.Close()

			out := client.InvokeOnce(context.Background(), "deckNames", nil)
			assert.Equal(t, OutcomeTransient, out.Kind)
			assert.Equal(t, tt.cause, out.Cause)

			// The fault is consumed: the next attempt succeeds.
			out = client.InvokeOnce(context.Background(), "deckNames", nil)
			assert.Equal(t, OutcomeSuccess, out.Kind)
		})
	}
}

func TestClient_InvokeOnce_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(testClientConfig(url))
	defer client.Close()

	out := client.InvokeOnce(context.Background(), "version", nil)

	assert.Equal(t, OutcomeTransient, out.Kind)
	assert.Equal(t, CauseConnect, out.Cause)
}

func TestClient_InvokeOnce_ReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testClientConfig(srv.URL)
	cfg.RequestTimeout = 50 * time.Millisecond
	client := NewClient(cfg)
	defer client.Close()

	out := client.InvokeOnce(context.Background(), "sync", nil)

	assert.Equal(t, OutcomeTransient, out.Kind)
	assert.Equal(t, CauseConnect, out.Cause)
	assert.True(t, isTimeout(out.Err), "expected a timeout, got %v", out.Err)
}

func TestClient_InvokeOnce_CancelledContextAborts(t *testing.T) {
	srv := ankitest.NewServer()
	defer srv.Close()
	client := NewClient(testClientConfig(srv.URL))
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := client.InvokeOnce(ctx, "version", nil)

	assert.Equal(t, OutcomeAbort, out.Kind)
	assert.True(t, errors.Is(out.Err, context.Canceled))
}

func TestClient_InvokeOnce_Validation(t *testing.T) {
	client := NewClient(testClientConfig("http://127.0.0.1:1"))
	defer client.Close()

	out := client.InvokeOnce(context.Background(), "", nil)
	assert.Equal(t, OutcomeAbort, out.Kind)
	assert.True(t, IsValidation(out.Err))

	out = client.InvokeOnce(context.Background(), "addNote", map[string]any{"bad": make(chan int)})
	assert.Equal(t, OutcomeAbort, out.Kind)
	assert.True(t, IsValidation(out.Err))
}

func TestClient_RateLimit(t *testing.T) {
	srv := ankitest.NewServer()
	defer srv.Close()
	cfg := testClientConfig(srv.URL)
	cfg.MaxConns = 1
	cfg.RateLimit = 20 // one token every 50ms, burst 1
	client := NewClient(cfg)
	defer client.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		out := client.InvokeOnce(context.Background(), "version", nil)
		require.Equal(t, OutcomeSuccess, out.Kind)
	}

	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestInvoker_RecoversFromFaultsOverHTTP(t *testing.T) {
	srv := ankitest.NewServer()
	defer srv.Close()
	srv.InjectFaults(ankitest.FaultStatus, ankitest.FaultMalformed)

	client := NewClient(testClientConfig(srv.URL))
	inv := NewInvoker(client, 2, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	defer inv.Close()

	decks, err := Call[[]string](context.Background(), inv, "deckNames", nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"Default"}, decks)
	assert.Equal(t, 1, srv.Calls("deckNames"), "faulted requests never reach the decoder")
}
