package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLeaseHidesAndCounts(t *testing.T) {
	s := NewStore(openTestDB(t), "orders", 0)
	lm := NewLeaseManager(s)
	ctx := context.Background()

	_ = s.Insert(ctx, msg("a", 1000))

	token, m, err := lm.Lease(ctx, "a", 30*time.Second, 1000)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if token == "" || m.LeaseToken != token {
		t.Fatalf("token not assigned")
	}
	if m.ReceiveCount != 1 {
		t.Fatalf("receiveCount = %d, want 1", m.ReceiveCount)
	}
	if m.VisibleAtMs != 1000+30_000 {
		t.Fatalf("visibleAt = %d", m.VisibleAtMs)
	}

	// hidden until the lease elapses, then receivable again with no action
	if got, _ := s.ListReceivable(30_999, 10); len(got) != 0 {
		t.Fatalf("receivable before lease expiry")
	}
	got, _ := s.ListReceivable(31_000, 10)
	if len(got) != 1 {
		t.Fatalf("not receivable at expiry")
	}
}

func TestLeaseRejectsHiddenMessage(t *testing.T) {
	s := NewStore(openTestDB(t), "orders", 0)
	lm := NewLeaseManager(s)
	ctx := context.Background()

	_ = s.Insert(ctx, msg("a", 1000))
	if _, _, err := lm.Lease(ctx, "a", time.Second, 1000); err != nil {
		t.Fatalf("first lease: %v", err)
	}
	if _, _, err := lm.Lease(ctx, "a", time.Second, 1500); !errors.Is(err, errNotReceivable) {
		t.Fatalf("second lease during window: %v", err)
	}
	// a second lease after expiry succeeds and re-increments
	_, m, err := lm.Lease(ctx, "a", time.Second, 2000)
	if err != nil {
		t.Fatalf("lease after expiry: %v", err)
	}
	if m.ReceiveCount != 2 {
		t.Fatalf("receiveCount = %d, want 2", m.ReceiveCount)
	}
}

func TestConfirmTokenValidation(t *testing.T) {
	s := NewStore(openTestDB(t), "orders", 0)
	lm := NewLeaseManager(s)
	ctx := context.Background()

	_ = s.Insert(ctx, msg("a", 1000))
	staleToken, _, _ := lm.Lease(ctx, "a", time.Second, 1000)

	// lease expires, message re-leased by someone else
	liveToken, _, _ := lm.Lease(ctx, "a", time.Second, 3000)

	// the slow worker's confirm must not delete the newer lease's message
	if err := lm.Confirm(ctx, "a", staleToken); !errors.Is(err, ErrStaleLease) {
		t.Fatalf("stale confirm: %v", err)
	}
	if _, found, _ := s.Get("a"); !found {
		t.Fatalf("stale confirm deleted the message")
	}

	// the current token always deletes
	if err := lm.Confirm(ctx, "a", liveToken); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, found, _ := s.Get("a"); found {
		t.Fatalf("message survived confirm")
	}

	// duplicate confirm after deletion is a no-op
	if err := lm.Confirm(ctx, "a", liveToken); err != nil {
		t.Fatalf("duplicate confirm: %v", err)
	}
}

func TestReleaseMakesImmediatelyReceivable(t *testing.T) {
	s := NewStore(openTestDB(t), "orders", 0)
	lm := NewLeaseManager(s)
	ctx := context.Background()

	_ = s.Insert(ctx, msg("a", 1000))
	token, _, _ := lm.Lease(ctx, "a", 30*time.Second, 1000)

	if err := lm.Release(ctx, "a", token, 2000); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, _ := s.ListReceivable(2000, 10)
	if len(got) != 1 {
		t.Fatalf("not receivable after release")
	}

	// the released lease's token is dead: neither confirm nor re-release
	if err := lm.Confirm(ctx, "a", token); !errors.Is(err, ErrStaleLease) {
		t.Fatalf("confirm after release: %v", err)
	}
	if err := lm.Release(ctx, "a", token, 2100); !errors.Is(err, ErrStaleLease) {
		t.Fatalf("double release: %v", err)
	}
}

func TestReleaseUnknownID(t *testing.T) {
	s := NewStore(openTestDB(t), "orders", 0)
	lm := NewLeaseManager(s)

	err := lm.Release(context.Background(), "nope", "tok", 1000)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("release unknown: %v", err)
	}
}
