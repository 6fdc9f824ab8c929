package ankiconnect

import (
	"context"
	"encoding/json"

	"github.com/danieldreier/anki-mcp/internal/config"
	"go.uber.org/zap"
)

// probeAction is sent when a client is first created to check that
// AnkiConnect answers.
const probeAction = "version"

// Manager owns the one Invoker of the process. A client only becomes
// visible after it answered the probe.
type Manager struct {
	// lock is a one-slot semaphore so waiting acquirers can give up when
	// their context ends.
	lock       chan struct{}
	newInvoker func() *Invoker
	invoker    *Invoker
	logger     *zap.Logger
}

// NewManager uses factory to build a fresh Invoker whenever none is cached.
func NewManager(factory func() *Invoker, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		lock:       make(chan struct{}, 1),
		newInvoker: factory,
		logger:     logger,
	}
}

// NewManagerFromConfig wires the HTTP client and retry policy from cfg.
func NewManagerFromConfig(cfg *config.Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := func() *Invoker {
		client := NewClient(ClientConfig{
			URL:            cfg.AnkiConnectURL,
			Version:        cfg.Version,
			ConnectTimeout: cfg.ConnectTimeout.Duration,
			RequestTimeout: cfg.RequestTimeout.Duration,
			IdleTimeout:    cfg.IdleTimeout(),
			MaxConns:       cfg.MaxConcurrent,
			RateLimit:      cfg.RateLimit,
		})
		return NewInvoker(client, cfg.MaxConcurrent, RetryPolicy{
			MaxAttempts: cfg.MaxAttempts(),
			BaseDelay:   cfg.RetryDelay.Duration,
		}, WithLogger(logger))
	}
	return NewManager(factory, logger)
}

// Acquire returns the cached Invoker, creating and probing one if needed.
// A failed probe closes the new client and leaves nothing cached.
func (m *Manager) Acquire(ctx context.Context) (*Invoker, error) {
	inv, _, err := m.acquire(ctx)
	return inv, err
}

// acquire also returns the version the probe reported, or "" when the
// cached Invoker was returned without probing.
func (m *Manager) acquire(ctx context.Context) (*Invoker, string, error) {
	select {
	case m.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
	defer func() { <-m.lock }()

	if m.invoker != nil {
		return m.invoker, "", nil
	}

	inv := m.newInvoker()
	version, err := Call[json.Number](ctx, inv, probeAction, nil)
	if err != nil {
		inv.Close()
		m.logger.Error("AnkiConnect connection failed", zap.Error(err))
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", &Error{Kind: KindConnectivity, Action: probeAction, Message: ConnectivityMessage, Err: err}
	}

	m.logger.Info("Connected to AnkiConnect", zap.String("version", version.String()))
	m.invoker = inv
	return inv, version.String(), nil
}

// Invoke acquires a client and runs action through it.
func (m *Manager) Invoke(ctx context.Context, action string, params map[string]any) (json.RawMessage, error) {
	inv, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return inv.Invoke(ctx, action, params)
}

// ReleaseAll closes the cached client. Safe to call repeatedly.
func (m *Manager) ReleaseAll() {
	m.lock <- struct{}{}
	defer func() { <-m.lock }()

	if m.invoker == nil {
		return
	}
	m.invoker.Close()
	m.invoker = nil
	m.logger.Debug("AnkiConnect client closed")
}

// Status describes whether AnkiConnect currently answers.
type Status struct {
	Connected bool
	Version   string
	Err       error
}

// Status probes AnkiConnect. Failures are reported, not cached.
func (m *Manager) Status(ctx context.Context) Status {
	inv, probed, err := m.acquire(ctx)
	if err != nil {
		return Status{Err: err}
	}
	if probed != "" {
		return Status{Connected: true, Version: probed}
	}
	version, err := Call[json.Number](ctx, inv, probeAction, nil)
	if err != nil {
		return Status{Err: err}
	}
	return Status{Connected: true, Version: version.String()}
}
