package recovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/htlcrelay/relayer/internal/breaker"
	"github.com/htlcrelay/relayer/internal/types"
)

type fakeStore struct {
	mu    sync.Mutex
	swaps []types.PendingRelay
	saved []types.PendingRelay
}

func (f *fakeStore) ListSwaps() ([]types.PendingRelay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.PendingRelay, len(f.swaps))
	copy(out, f.swaps)
	return out, nil
}

func (f *fakeStore) PutSwap(relay *types.PendingRelay) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *relay)
	return nil
}

type fakeRefunder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRefunder) Refund(ctx context.Context, chainID, htlcID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chainID+":"+htlcID)
	return f.err
}

func testRecoveryCore() *breaker.Core {
	mgr := breaker.NewManager(nil)
	return breaker.NewCore(mgr, map[types.OpKind]breaker.RetryPolicy{
		types.OpRecoveryCheck: {MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})
}

func expiredRelay(id string) types.PendingRelay {
	return types.PendingRelay{
		RelayID:     id,
		SourceChain: "chain-a",
		HTLCID:      "htlc-1",
		DestChain:   "chain-b",
		DestHTLCID:  "htlc-1-dest",
		Status:      types.StatusRelaying,
		Timelock:    time.Now().Add(-time.Hour).Unix(),
	}
}

func TestSweepRefundsExpiredNonTerminalRelay(t *testing.T) {
	store := &fakeStore{swaps: []types.PendingRelay{expiredRelay("chain-a:htlc-1")}}
	refunder := &fakeRefunder{}
	s := New(Config{GracePeriod: time.Minute}, store, refunder, testRecoveryCore())

	attempted := s.Sweep(context.Background())
	if attempted != 1 {
		t.Fatalf("expected 1 refund attempt, got %d", attempted)
	}
	if len(refunder.calls) != 1 || refunder.calls[0] != "chain-b:htlc-1-dest" {
		t.Fatalf("expected a refund call for chain-b:htlc-1-dest, got %v", refunder.calls)
	}
	if len(store.saved) != 1 || !store.saved[0].TerminallyFailed {
		t.Fatalf("expected the relay persisted as terminally failed after refund, got %+v", store.saved)
	}
}

func TestSweepSkipsRelayWithNoDestHTLC(t *testing.T) {
	relay := expiredRelay("chain-a:htlc-6")
	relay.DestHTLCID = ""
	store := &fakeStore{swaps: []types.PendingRelay{relay}}
	refunder := &fakeRefunder{}
	s := New(Config{GracePeriod: time.Minute}, store, refunder, testRecoveryCore())

	attempted := s.Sweep(context.Background())
	if attempted != 0 {
		t.Fatalf("expected no refund attempt when the relayer never created a destination HTLC, got %d", attempted)
	}
	if len(refunder.calls) != 0 {
		t.Fatalf("expected no refund call, got %v", refunder.calls)
	}
}

func TestSweepSkipsRelayWithinGracePeriod(t *testing.T) {
	relay := expiredRelay("chain-a:htlc-2")
	relay.Timelock = time.Now().Add(-5 * time.Second).Unix() // inside the 1-minute grace period
	store := &fakeStore{swaps: []types.PendingRelay{relay}}
	refunder := &fakeRefunder{}
	s := New(Config{GracePeriod: time.Minute}, store, refunder, testRecoveryCore())

	attempted := s.Sweep(context.Background())
	if attempted != 0 {
		t.Fatalf("expected no refund attempts within the grace period, got %d", attempted)
	}
}

func TestSweepSkipsTerminalRelays(t *testing.T) {
	relay := expiredRelay("chain-a:htlc-3")
	relay.Status = types.StatusCompleted
	store := &fakeStore{swaps: []types.PendingRelay{relay}}
	refunder := &fakeRefunder{}
	s := New(Config{GracePeriod: time.Minute}, store, refunder, testRecoveryCore())

	if attempted := s.Sweep(context.Background()); attempted != 0 {
		t.Fatalf("expected a completed relay to never be refunded, got %d attempts", attempted)
	}
}

func TestSweepNeverRefundsTwiceConcurrently(t *testing.T) {
	relay := expiredRelay("chain-a:htlc-4")
	store := &fakeStore{swaps: []types.PendingRelay{relay}}
	refunder := &fakeRefunder{}
	s := New(Config{GracePeriod: time.Minute}, store, refunder, testRecoveryCore())

	// First sweep marks the relay refunded in-memory and submits the claim;
	// the fake store's ListSwaps keeps returning it as non-terminal, so only
	// the in-memory marker stops the second sweep.
	s.Sweep(context.Background())
	attempted := s.Sweep(context.Background())
	if attempted != 0 {
		t.Fatalf("expected the second sweep to skip an already-claimed relay, got %d attempts", attempted)
	}
	if len(refunder.calls) != 1 {
		t.Fatalf("expected exactly one refund call across both sweeps, got %d", len(refunder.calls))
	}
}

func TestSweepRetriesAfterRefundFailure(t *testing.T) {
	relay := expiredRelay("chain-a:htlc-5")
	store := &fakeStore{swaps: []types.PendingRelay{relay}}
	refunder := &fakeRefunder{err: fmt.Errorf("refund failed")}
	s := New(Config{GracePeriod: time.Minute}, store, refunder, testRecoveryCore())

	s.Sweep(context.Background())
	if len(store.saved) != 0 {
		t.Fatal("a failed refund must not persist a terminal state")
	}

	// A subsequent sweep should retry since refundOne clears the in-memory
	// claim marker on failure.
	attempted := s.Sweep(context.Background())
	if attempted != 1 {
		t.Fatalf("expected the relay retried on the next sweep after a failed refund, got %d", attempted)
	}
}

func TestLastSweepUpdatesAfterSweep(t *testing.T) {
	store := &fakeStore{}
	s := New(Config{GracePeriod: time.Minute}, store, &fakeRefunder{}, testRecoveryCore())

	if !s.LastSweep().IsZero() {
		t.Fatal("expected LastSweep to be zero before any sweep runs")
	}
	s.Sweep(context.Background())
	if s.LastSweep().IsZero() {
		t.Fatal("expected LastSweep to be set after a sweep")
	}
}
