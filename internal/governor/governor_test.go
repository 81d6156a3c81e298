package governor

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kitbuilder587/research-engine/internal/engine"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      5 * time.Millisecond,
		RateLimitDelay: 20 * time.Millisecond,
		MaxDelay:       time.Second,
		JitterFrac:     0,
	}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	g := New(testPolicy(), nil, zap.NewNop())

	calls := 0
	got, err := Do(context.Background(), g, "test", func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})

	if err != nil {
		t.Fatalf("Do() unexpected error = %v", err)
	}
	if got != 42 {
		t.Errorf("Do() = %d, want 42", got)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestDo_TransientRetriesExactlyMaxAttempts(t *testing.T) {
	g := New(testPolicy(), nil, zap.NewNop())

	calls := 0
	_, err := Do(context.Background(), g, "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, engine.Transient("mock", errors.New("connection reset"))
	})

	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}

	var govErr *Error
	if !errors.As(err, &govErr) {
		t.Fatalf("Do() error = %v, want *governor.Error", err)
	}
	if govErr.Kind != KindRetryExhausted {
		t.Errorf("Kind = %s, want %s", govErr.Kind, KindRetryExhausted)
	}
	if govErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", govErr.Attempts)
	}
}

func TestDo_TransientThenSuccess(t *testing.T) {
	g := New(testPolicy(), nil, zap.NewNop())

	calls := 0
	got, err := Do(context.Background(), g, "test", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", engine.Transient("mock", errors.New("timeout"))
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Do() unexpected error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Do() = %q, want %q", got, "ok")
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestDo_FatalShortCircuit(t *testing.T) {
	g := New(testPolicy(), nil, zap.NewNop())

	calls := 0
	_, err := Do(context.Background(), g, "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, engine.Fatal("mock", errors.New("bad api key"))
	})

	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}

	var govErr *Error
	if !errors.As(err, &govErr) {
		t.Fatalf("Do() error = %v, want *governor.Error", err)
	}
	if govErr.Kind != KindFatal {
		t.Errorf("Kind = %s, want %s", govErr.Kind, KindFatal)
	}
	if govErr.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", govErr.Attempts)
	}
}

func TestDo_RetryAfterHintHonored(t *testing.T) {
	g := New(testPolicy(), nil, zap.NewNop())

	hint := 100 * time.Millisecond
	var firstFail, retriedAt time.Time

	calls := 0
	_, err := Do(context.Background(), g, "test", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			firstFail = time.Now()
			return 0, engine.RateLimited("mock", hint, errors.New("429"))
		}
		retriedAt = time.Now()
		return 1, nil
	})

	if err != nil {
		t.Fatalf("Do() unexpected error = %v", err)
	}
	if elapsed := retriedAt.Sub(firstFail); elapsed < hint {
		t.Errorf("retry scheduled after %v, want >= %v", elapsed, hint)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	p := testPolicy()
	p.BaseDelay = time.Second
	g := New(p, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	_, err := Do(ctx, g, "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, engine.Transient("mock", errors.New("unreachable"))
	})

	if err == nil {
		t.Fatal("Do() expected error on cancelled context")
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Do() took %v, want prompt return after context expiry", elapsed)
	}
}

func TestDelayFor(t *testing.T) {
	g := New(Policy{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		RateLimitDelay: 400 * time.Millisecond,
		MaxDelay:       time.Second,
		JitterFrac:     0,
	}, nil, zap.NewNop())

	tests := []struct {
		name       string
		kind       engine.Kind
		attempt    int
		retryAfter time.Duration
		want       time.Duration
	}{
		{"transient first attempt", engine.KindTransient, 1, 0, 100 * time.Millisecond},
		{"transient second attempt doubles", engine.KindTransient, 2, 0, 200 * time.Millisecond},
		{"transient third attempt", engine.KindTransient, 3, 0, 400 * time.Millisecond},
		{"rate limited uses larger base", engine.KindRateLimited, 1, 0, 400 * time.Millisecond},
		{"rate limited capped at max", engine.KindRateLimited, 3, 0, time.Second},
		{"retry-after hint overrides", engine.KindRateLimited, 1, 2 * time.Second, time.Second},
		{"retry-after hint under max", engine.KindTransient, 1, 700 * time.Millisecond, 700 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.delayFor(tt.kind, tt.attempt, tt.retryAfter); got != tt.want {
				t.Errorf("delayFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayFor_JitterWithinBounds(t *testing.T) {
	g := New(Policy{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		RateLimitDelay: 400 * time.Millisecond,
		MaxDelay:       time.Minute,
		JitterFrac:     0.2,
	}, nil, zap.NewNop())

	lo := 80 * time.Millisecond
	hi := 120 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := g.delayFor(engine.KindTransient, 1, 0)
		if d < lo || d > hi {
			t.Fatalf("delayFor() = %v, want within [%v, %v]", d, lo, hi)
		}
	}
}
