package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/htlcrelay/relayer/internal/errs"
	"github.com/htlcrelay/relayer/internal/types"
)

func TestCircuitTripsAfterThreshold(t *testing.T) {
	mgr := NewManager(map[string]Policy{
		"evm": {FailureThreshold: 3, Cooldown: 50 * time.Millisecond},
	})

	for i := 0; i < 2; i++ {
		mgr.reportFailure("evm")
	}
	if mgr.StateOf("evm") != Closed {
		t.Fatalf("expected closed before threshold, got %s", mgr.StateOf("evm"))
	}

	mgr.reportFailure("evm")
	if mgr.StateOf("evm") != Open {
		t.Fatalf("expected open after %d consecutive failures, got %s", 3, mgr.StateOf("evm"))
	}
	if mgr.allow("evm") {
		t.Fatal("allow should refuse while circuit is open and cooldown unexpired")
	}
}

func TestCircuitHalfOpenAfterCooldown(t *testing.T) {
	mgr := NewManager(map[string]Policy{
		"evm": {FailureThreshold: 1, Cooldown: 10 * time.Millisecond},
	})

	mgr.reportFailure("evm")
	if mgr.StateOf("evm") != Open {
		t.Fatalf("expected open, got %s", mgr.StateOf("evm"))
	}

	time.Sleep(20 * time.Millisecond)
	if !mgr.allow("evm") {
		t.Fatal("allow should admit a probe once cooldown has elapsed")
	}
	if mgr.StateOf("evm") != HalfOpen {
		t.Fatalf("expected half-open after cooldown probe, got %s", mgr.StateOf("evm"))
	}
}

func TestCircuitReopensOnFailedProbe(t *testing.T) {
	mgr := NewManager(map[string]Policy{
		"evm": {FailureThreshold: 1, Cooldown: 10 * time.Millisecond},
	})
	mgr.reportFailure("evm")
	time.Sleep(20 * time.Millisecond)
	mgr.allow("evm") // transitions to half-open

	mgr.reportFailure("evm")
	if mgr.StateOf("evm") != Open {
		t.Fatalf("a failed half-open probe must re-open the circuit, got %s", mgr.StateOf("evm"))
	}
}

func TestCircuitClosesOnSuccessfulProbe(t *testing.T) {
	mgr := NewManager(map[string]Policy{
		"evm": {FailureThreshold: 1, Cooldown: 10 * time.Millisecond},
	})
	mgr.reportFailure("evm")
	time.Sleep(20 * time.Millisecond)
	mgr.allow("evm")

	mgr.reportSuccess("evm")
	if mgr.StateOf("evm") != Closed {
		t.Fatalf("a successful half-open probe must close the circuit, got %s", mgr.StateOf("evm"))
	}
}

func TestResetAllClearsEveryCircuit(t *testing.T) {
	mgr := NewManager(nil)
	mgr.Trip("evm", "test")
	mgr.Trip("ibc", "test")

	mgr.Reset("all")
	if mgr.StateOf("evm") != Closed || mgr.StateOf("ibc") != Closed {
		t.Fatal("Reset(\"all\") must close every known circuit")
	}
}

func TestHealthyRejectsWhenStopped(t *testing.T) {
	mgr := NewManager(nil)
	if !mgr.Healthy() {
		t.Fatal("a fresh manager should be healthy")
	}
	mgr.EmergencyStop("operator request")
	if mgr.Healthy() {
		t.Fatal("Healthy must be false while emergency-stopped")
	}
	mgr.Resume()
	if !mgr.Healthy() {
		t.Fatal("Healthy must recover after Resume")
	}
}

func TestHealthyFalseWhenMoreThanTwoBreakersOpen(t *testing.T) {
	mgr := NewManager(nil)
	mgr.Trip("a", "t")
	mgr.Trip("b", "t")
	mgr.Trip("c", "t")
	if mgr.Healthy() {
		t.Fatal("Healthy must be false once more than two circuits are open")
	}
}

func TestExecuteWithRecoveryRefusesWhenStopped(t *testing.T) {
	mgr := NewManager(nil)
	mgr.EmergencyStop("test")
	core := NewCore(mgr, nil)

	err := core.ExecuteWithRecovery(context.Background(), types.OpEvmRpc, "relay-1",
		func(context.Context) error { return nil })
	if !errors.Is(err, errs.ErrSystemStopped) {
		t.Fatalf("expected ErrSystemStopped, got %v", err)
	}
}

func TestExecuteWithRecoveryRefusesWhenCircuitOpen(t *testing.T) {
	mgr := NewManager(map[string]Policy{"evm": {FailureThreshold: 1, Cooldown: time.Hour}})
	mgr.Trip("evm", "pre-tripped")
	core := NewCore(mgr, nil)

	called := false
	err := core.ExecuteWithRecovery(context.Background(), types.OpEvmRpc, "relay-1",
		func(context.Context) error { called = true; return nil })
	if !errors.Is(err, errs.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("op must not run while its circuit is open")
	}
}

func TestExecuteWithRecoveryDoesNotRetryValidationErrors(t *testing.T) {
	mgr := NewManager(nil)
	core := NewCore(mgr, map[types.OpKind]RetryPolicy{
		types.OpEvmRpc: {MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})

	attempts := 0
	err := core.ExecuteWithRecovery(context.Background(), types.OpEvmRpc, "relay-1",
		func(context.Context) error {
			attempts++
			return errs.ErrValidation
		})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation surfaced, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("a non-retryable error must not be retried, attempted %d times", attempts)
	}
}

func TestExecuteWithRecoveryRetriesTransientErrors(t *testing.T) {
	mgr := NewManager(nil)
	core := NewCore(mgr, map[types.OpKind]RetryPolicy{
		types.OpEvmRpc: {MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})

	attempts := 0
	err := core.ExecuteWithRecovery(context.Background(), types.OpEvmRpc, "relay-1",
		func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errs.ErrTransientNetwork
			}
			return nil
		})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts before success, got %d", attempts)
	}
}

func TestBackoffRespectsMaxDelay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 10, Jitter: false}
	d := backoff(policy, 5)
	if d != 2*time.Second {
		t.Fatalf("expected backoff capped at MaxDelay (2s), got %s", d)
	}
}
