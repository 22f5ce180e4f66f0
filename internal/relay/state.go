package relay

import (
	"context"
	"time"

	"github.com/htlcrelay/relayer/internal/errs"
	"github.com/htlcrelay/relayer/internal/log"
	"github.com/htlcrelay/relayer/internal/types"
)

// dexSwapTimeout bounds the asynchronous post-relay DEX swap call.
const dexSwapTimeout = 30 * time.Second

func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), dexSwapTimeout)
}

// SetAckTracker wires the ack/timeout handler in after construction,
// breaking the engine/ack import cycle (spec §9 "Cyclic references").
func (e *Engine) SetAckTracker(acks AckTracker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acks = acks
}

// handleFailureLocked classifies err and either schedules a bounded retry
// or marks the relay terminally failed. Caller must hold e.mu.
func (e *Engine) handleFailureLocked(relay *types.PendingRelay, err error) {
	relay.UpdatedAt = time.Now()
	relay.FailureReason = err.Error()
	e.failureCount++
	e.sink.IncCounter("relay_attempt_failed", map[string]string{"chain": relay.TargetChain})

	if !errs.IsRetryable(err) || !relay.CanRetry(e.cfg.MaxRetries) {
		relay.Status = types.StatusFailed
		relay.TerminallyFailed = true
		log.Relay.Errorf("relay %s terminally failed after %d attempts: %v",
			relay.RelayID, relay.Attempts, err)
		return
	}

	relay.Status = types.StatusPending
	log.Relay.Warnf("relay %s attempt %d failed, scheduling retry: %v",
		relay.RelayID, relay.Attempts, err)
	e.scheduleRetryLocked(relay.RelayID)
}

// scheduleRetryLocked re-enqueues relayID after cfg.RetryDelay. Caller
// must hold e.mu; the timer callback acquires its own lock.
func (e *Engine) scheduleRetryLocked(relayID string) {
	delay := e.cfg.RetryDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}
	time.AfterFunc(delay, func() {
		select {
		case e.queue <- relayID:
		default:
			log.Relay.Warnf("retry re-enqueue of %s dropped, queue full", relayID)
		}
	})
}

// completeLocked marks relay completed and, if its target chain supports
// DEX execution and SwapParams were supplied, kicks off the post-relay
// swap asynchronously. Caller must hold e.mu.
func (e *Engine) completeLocked(relay *types.PendingRelay) {
	relay.Status = types.StatusCompleted
	relay.UpdatedAt = time.Now()
	e.successCount++
	e.sink.IncCounter("relay_completed", map[string]string{"chain": relay.TargetChain})
	log.Relay.Infof("relay %s completed in %d attempt(s)", relay.RelayID, relay.Attempts)

	if relay.SwapParams == nil || !e.dexc.SupportsChain(relay.TargetChain) {
		return
	}

	relayID, params := relay.RelayID, *relay.SwapParams
	go func() {
		ctx, cancel := contextWithTimeout()
		defer cancel()
		if err := e.dexc.ExecuteSwap(ctx, relayID, params); err != nil {
			log.Relay.Warnf("post-relay DEX swap failed for %s: %v", relayID, err)
		}
	}()
}

// AdvanceHop implements ack.Notifier: hopIndex completed successfully. If
// it was the final hop the relay completes; otherwise it remains relaying
// awaiting the next hop's ack.
func (e *Engine) AdvanceHop(relayID string, hopIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	relay, ok := e.relays[relayID]
	if !ok || relay.IsTerminal() {
		return
	}

	if hopIndex >= relay.Hops-1 {
		e.completeLocked(relay)
		return
	}
	relay.UpdatedAt = time.Now()
	log.Relay.Debugf("relay %s advanced past hop %d of %d", relayID, hopIndex, relay.Hops)
}

// FailHop implements ack.Notifier: hopIndex errored or timed out. This is
// treated the same as a relay-level attempt failure.
func (e *Engine) FailHop(relayID string, hopIndex int, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	relay, ok := e.relays[relayID]
	if !ok || relay.IsTerminal() {
		return
	}
	log.Relay.Warnf("relay %s failed at hop %d: %s", relayID, hopIndex, reason)
	e.handleFailureLocked(relay, errs.ErrChainError)
}

// Cleanup removes terminal relays older than cfg.CleanupAge from memory.
// The engine does not write relays to internal/store, so a removed relay
// leaves no record behind.
func (e *Engine) Cleanup() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().Add(-e.cfg.CleanupAge)
	removed := 0
	for id, relay := range e.relays {
		if relay.IsTerminal() && relay.UpdatedAt.Before(cutoff) {
			delete(e.relays, id)
			removed++
		}
	}
	return removed
}

// Get returns a copy of the tracked relay's current state, for admin RPC
// and tests.
func (e *Engine) Get(relayID string) (types.PendingRelay, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	relay, ok := e.relays[relayID]
	if !ok {
		return types.PendingRelay{}, false
	}
	return *relay, true
}

// List returns a snapshot copy of every tracked relay, for admin RPC.
func (e *Engine) List() []types.PendingRelay {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.PendingRelay, 0, len(e.relays))
	for _, relay := range e.relays {
		out = append(out, *relay)
	}
	return out
}

// Len reports how many relays are currently tracked in memory.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.relays)
}

// Counts reports cumulative success/failure totals since New, for
// metrics/health reporting.
func (e *Engine) Counts() (success, failure uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.successCount, e.failureCount
}
