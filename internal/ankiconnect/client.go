// Package ankiconnect executes AnkiConnect actions: a single-attempt HTTP
// client, a retrying invoker with a concurrency gate, and a manager that
// owns the client's lifetime.
package ankiconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// OutcomeKind tags the result of one attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	// OutcomeTransient may succeed if tried again.
	OutcomeTransient
	// OutcomeLogical is a rejection by AnkiConnect.
	OutcomeLogical
	// OutcomeAbort ends the call without retrying: cancelled context or a
	// request that can never be sent.
	OutcomeAbort
)

// Outcome is what a single attempt produced. Result is only meaningful for
// OutcomeSuccess and may be nil when AnkiConnect returned no result.
type Outcome struct {
	Kind   OutcomeKind
	Result json.RawMessage
	Cause  Cause
	Err    error
}

// Transport performs exactly one attempt of an action.
type Transport interface {
	InvokeOnce(ctx context.Context, action string, params map[string]any) Outcome
	Close()
}

// ClientConfig configures the HTTP side of a Client.
type ClientConfig struct {
	URL     string
	Version int

	ConnectTimeout time.Duration
	// RequestTimeout bounds writing the request and waiting for the response.
	RequestTimeout time.Duration
	// IdleTimeout is how long a pooled connection is kept.
	IdleTimeout time.Duration
	MaxConns    int
	// RateLimit in requests per second; zero disables throttling.
	RateLimit float64
}

// Client talks to AnkiConnect over one pooled http.Client.
type Client struct {
	url       string
	version   int
	http      *http.Client
	transport *http.Transport
	limiter   *rate.Limiter
}

type envelope struct {
	Action  string         `json:"action"`
	Version int            `json:"version"`
	Params  map[string]any `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  any             `json:"error"`
}

// NewClient creates the connection pool. Nothing is dialled until the first
// call.
func NewClient(cfg ClientConfig) *Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       cfg.MaxConns,
		MaxIdleConnsPerHost:   cfg.MaxConns,
		MaxIdleConns:          cfg.MaxConns,
		IdleConnTimeout:       cfg.IdleTimeout,
		ResponseHeaderTimeout: cfg.RequestTimeout,
	}

	c := &Client{
		url:       cfg.URL,
		version:   cfg.Version,
		transport: transport,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.RequestTimeout,
		},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.MaxConns
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// InvokeOnce sends one request and classifies what came back.
func (c *Client) InvokeOnce(ctx context.Context, action string, params map[string]any) Outcome {
	if action == "" {
		return Outcome{Kind: OutcomeAbort, Err: Validationf("action must not be empty")}
	}
	if params == nil {
		params = map[string]any{}
	}

	body, err := json.Marshal(envelope{Action: action, Version: c.version, Params: params})
	if err != nil {
		return Outcome{Kind: OutcomeAbort, Err: &Error{
			Kind:    KindValidation,
			Action:  action,
			Message: "parameters cannot be encoded",
			Err:     err,
		}}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Outcome{Kind: OutcomeAbort, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: OutcomeAbort, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeAbort, Err: ctx.Err()}
		}
		return Outcome{Kind: OutcomeTransient, Cause: CauseConnect, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeAbort, Err: ctx.Err()}
		}
		return Outcome{Kind: OutcomeTransient, Cause: CauseConnect, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{Kind: OutcomeTransient, Cause: CauseOther, Err: fmt.Errorf("unexpected HTTP status %s", resp.Status)}
	}

	var decoded response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Outcome{Kind: OutcomeTransient, Cause: CauseDecode, Err: err}
	}
	if msg := remoteError(decoded.Error); msg != "" {
		return Outcome{Kind: OutcomeLogical, Err: logicalError(action, msg)}
	}

	result := decoded.Result
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		result = nil
	}
	return Outcome{Kind: OutcomeSuccess, Result: result}
}

// Close drops pooled connections. The Client must not be used afterwards.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// remoteError extracts the error text. Null, empty and false mean no error.
func remoteError(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case bool:
		if !e {
			return ""
		}
		return "true"
	default:
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Sprint(e)
		}
		return string(b)
	}
}

// isTimeout reports whether err is a network timeout.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
