package ankiconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryPolicy controls how transient failures are retried. The delay before
// retry i (zero-based) is BaseDelay * 2^i.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the wait that follows the failed attempt with the given
// zero-based index. It saturates at the largest Duration instead of
// overflowing.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 63 || p.BaseDelay > time.Duration(math.MaxInt64>>uint(attempt)) {
		return time.Duration(math.MaxInt64)
	}
	return p.BaseDelay << uint(attempt)
}

// Caller is anything that can invoke an AnkiConnect action.
type Caller interface {
	Invoke(ctx context.Context, action string, params map[string]any) (json.RawMessage, error)
}

// Invoker adds the concurrency gate and retries on top of a Transport.
type Invoker struct {
	transport Transport
	gate      chan struct{}
	policy    RetryPolicy
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// InvokerOption customises an Invoker.
type InvokerOption func(*Invoker)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *zap.Logger) InvokerOption {
	return func(inv *Invoker) {
		if logger != nil {
			inv.logger = logger
		}
	}
}

// WithSleep replaces the backoff wait, mostly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) InvokerOption {
	return func(inv *Invoker) {
		if sleep != nil {
			inv.sleep = sleep
		}
	}
}

// NewInvoker wraps transport. maxConcurrent and policy.MaxAttempts are
// clamped to at least 1.
func NewInvoker(transport Transport, maxConcurrent int, policy RetryPolicy, opts ...InvokerOption) *Invoker {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	inv := &Invoker{
		transport: transport,
		gate:      make(chan struct{}, maxConcurrent),
		policy:    policy,
		logger:    zap.NewNop(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke runs action with retries. It holds one gate permit for the whole
// call, backoff waits included.
func (inv *Invoker) Invoke(ctx context.Context, action string, params map[string]any) (json.RawMessage, error) {
	if action == "" {
		return nil, Validationf("action must not be empty")
	}

	log := inv.logger.With(zap.String("action", action), zap.String("request_id", uuid.NewString()))

	select {
	case inv.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-inv.gate }()

	var last Outcome
	for attempt := 0; attempt < inv.policy.MaxAttempts; attempt++ {
		log.Debug("Calling AnkiConnect",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", inv.policy.MaxAttempts))

		out := inv.transport.InvokeOnce(ctx, action, params)
		switch out.Kind {
		case OutcomeSuccess:
			if attempt > 0 {
				log.Info("AnkiConnect request succeeded after retry", zap.Int("attempts", attempt+1))
			}
			return out.Result, nil
		case OutcomeLogical, OutcomeAbort:
			return nil, out.Err
		}

		last = out
		if attempt+1 < inv.policy.MaxAttempts {
			delay := inv.policy.Delay(attempt)
			log.Warn("AnkiConnect request failed, retrying",
				zap.Duration("delay", delay),
				zap.Bool("timeout", isTimeout(out.Err)),
				zap.Error(out.Err))
			if err := inv.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	log.Error("AnkiConnect request failed",
		zap.Int("attempts", inv.policy.MaxAttempts),
		zap.String("cause", string(last.Cause)),
		zap.Error(last.Err))
	return nil, exhaustedError(action, last.Cause, last.Err)
}

// Close tears down the underlying transport.
func (inv *Invoker) Close() {
	inv.transport.Close()
}

// Call invokes action and decodes its result into T. A missing result
// decodes to T's zero value.
func Call[T any](ctx context.Context, c Caller, action string, params map[string]any) (T, error) {
	var out T
	raw, err := c.Invoke(ctx, action, params)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &Error{
			Kind:    KindTransient,
			Action:  action,
			Cause:   CauseDecode,
			Message: fmt.Sprintf("unexpected result for %s", action),
			Err:     err,
		}
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
