package intake

import (
	"context"
	"testing"

	"relaybot/internal/kv"
)

func TestQuotaTracker_ExhaustsAtThreshold(t *testing.T) {
	q := NewQuotaTracker(QuotaTrackerConfig{Store: kv.NewMemoryStore(nil)})
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		snap, err := q.Increment(ctx, "C1")
		if err != nil {
			t.Fatal(err)
		}
		if !snap.HasQuota {
			t.Fatalf("increment %d should still have quota", i)
		}
	}
	snap, _ := q.Increment(ctx, "C1")
	if snap.HasQuota || snap.Count != 10 {
		t.Fatalf("expected exhaustion at 10, got %+v", snap)
	}
}

func TestQuotaTracker_ResetRestores(t *testing.T) {
	q := NewQuotaTracker(QuotaTrackerConfig{Store: kv.NewMemoryStore(nil)})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		q.Increment(ctx, "C1")
	}
	if err := q.Reset(ctx, "C1"); err != nil {
		t.Fatal(err)
	}
	snap, err := q.Check(ctx, "C1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Count != 0 || !snap.HasQuota {
		t.Fatalf("expected fresh quota after reset, got %+v", snap)
	}
}

func TestQuotaTracker_CheckDoesNotIncrement(t *testing.T) {
	q := NewQuotaTracker(QuotaTrackerConfig{Store: kv.NewMemoryStore(nil), Threshold: 2})
	ctx := context.Background()

	q.Increment(ctx, "C1")
	q.Check(ctx, "C1")
	q.Check(ctx, "C1")
	snap, _ := q.Check(ctx, "C1")
	if snap.Count != 1 || !snap.HasQuota {
		t.Fatalf("check must be read-only, got %+v", snap)
	}
}
