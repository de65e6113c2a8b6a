package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/data2rest/data2rest/internal/config"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	s, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s.DB())
}

func TestCheckCountsDownThenDenies(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i, wantRemaining := range []int{2, 1, 0} {
		res, err := l.Check(ctx, 1, "/api/v1/db/1/users", 3, time.Minute)
		if err != nil {
			t.Fatalf("Check %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("Check %d: denied, want allowed", i)
		}
		if res.Remaining != wantRemaining {
			t.Errorf("Check %d: remaining = %d, want %d", i, res.Remaining, wantRemaining)
		}
		if res.Limit != 3 {
			t.Errorf("Check %d: limit = %d, want 3", i, res.Limit)
		}
	}

	// Fourth request in the same window must be denied without incrementing.
	res, err := l.Check(ctx, 1, "/api/v1/db/1/users", 3, time.Minute)
	if err != nil {
		t.Fatalf("Check denied: %v", err)
	}
	if res.Allowed {
		t.Fatal("fourth request should be denied")
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", res.Remaining)
	}
	if res.Reset.Before(time.Now().UTC()) {
		t.Errorf("reset %v should be in the future", res.Reset)
	}

	// A denied request must not consume quota: the stored count stays at the
	// ceiling.
	usage, err := l.UsageFor(ctx, 1)
	if err != nil {
		t.Fatalf("UsageFor: %v", err)
	}
	if len(usage) != 1 || usage[0].RequestCount != 3 {
		t.Errorf("usage = %+v, want one window at count 3", usage)
	}
}

func TestCheckWindowsAreIndependentPerEndpoint(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	if res, _ := l.Check(ctx, 1, "/a", 1, time.Minute); !res.Allowed {
		t.Fatal("first request on /a should pass")
	}
	if res, _ := l.Check(ctx, 1, "/a", 1, time.Minute); res.Allowed {
		t.Fatal("second request on /a should be denied")
	}
	// A different endpoint has its own window.
	if res, _ := l.Check(ctx, 1, "/b", 1, time.Minute); !res.Allowed {
		t.Fatal("first request on /b should pass")
	}
	// And so does a different key.
	if res, _ := l.Check(ctx, 2, "/a", 1, time.Minute); !res.Allowed {
		t.Fatal("first request for key 2 should pass")
	}
}

func TestCheckExpiredWindowOpensFresh(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	// Exhaust a very short window, then backdate it past its duration.
	if res, _ := l.Check(ctx, 1, "/a", 1, time.Minute); !res.Allowed {
		t.Fatal("first request should pass")
	}
	_, err := l.db.ExecContext(ctx,
		"UPDATE api_rate_limits SET window_start = ?",
		time.Now().UTC().Add(-2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	res, err := l.Check(ctx, 1, "/a", 1, time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Allowed {
		t.Error("request after window expiry should open a fresh window")
	}
}

func TestCleanupDropsOldWindows(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	if _, err := l.Check(ctx, 1, "/old", 10, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Check(ctx, 1, "/fresh", 10, time.Minute); err != nil {
		t.Fatal(err)
	}
	_, err := l.db.ExecContext(ctx,
		"UPDATE api_rate_limits SET window_start = ? WHERE endpoint = '/old'",
		time.Now().UTC().Add(-25*time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	n, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("cleaned %d windows, want 1", n)
	}

	usage, err := l.UsageFor(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(usage) != 1 || usage[0].Endpoint != "/fresh" {
		t.Errorf("usage = %+v, want only /fresh", usage)
	}
}

func TestCheckZeroFallsBackToDefaults(t *testing.T) {
	l := newTestLimiter(t)

	res, err := l.Check(context.Background(), 1, "/a", 0, 0)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Limit != DefaultLimit {
		t.Errorf("limit = %d, want %d", res.Limit, DefaultLimit)
	}
	if res.Remaining != DefaultLimit-1 {
		t.Errorf("remaining = %d, want %d", res.Remaining, DefaultLimit-1)
	}
}
