package ankiconnect

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// scriptedTransport returns its outcomes in order and repeats the last one.
type scriptedTransport struct {
	mu       sync.Mutex
	outcomes []Outcome
	calls    []string
	closed   int

	hold        time.Duration
	inFlight    int32
	maxInFlight int32
}

func newScripted(outcomes ...Outcome) *scriptedTransport {
	return &scriptedTransport{outcomes: outcomes}
}

func (s *scriptedTransport) InvokeOnce(ctx context.Context, action string, params map[string]any) Outcome {
	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&s.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&s.maxInFlight, peak, n) {
			break
		}
	}

	if s.hold > 0 {
		select {
		case <-time.After(s.hold):
		case <-ctx.Done():
			return Outcome{Kind: OutcomeAbort, Err: ctx.Err()}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.calls)
	s.calls = append(s.calls, action)
	if len(s.outcomes) == 0 {
		return Outcome{Kind: OutcomeSuccess}
	}
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}
	return s.outcomes[idx]
}

func (s *scriptedTransport) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedTransport) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func success(v string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Result: json.RawMessage(v)}
}

func timeoutOutcome() Outcome {
	return Outcome{Kind: OutcomeTransient, Cause: CauseConnect, Err: errors.New("i/o timeout")}
}

func logicalOutcome(action, msg string) Outcome {
	return Outcome{Kind: OutcomeLogical, Err: logicalError(action, msg)}
}

// sleepRecorder stands in for the backoff wait and records each delay.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}
