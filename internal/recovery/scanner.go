// Package recovery implements the recovery scanner (spec §4.I): a
// periodic sweep over relays whose timelock has expired without a
// completed relay, submitting a refund claim for the relayer's own HTLC on
// the relay's destination chain (DestChain/DestHTLCID). Grounded on the teacher's utxo nursery: FetchCribs
// scans for outputs whose CLTV has matured at a given height and sweeps
// them, generalized here from a block-height ladder to a wall-clock
// timelock check since HTLC timelocks are expressed in unix seconds
// rather than block height across the EVM/Cosmos boundary.
package recovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/htlcrelay/relayer/internal/breaker"
	"github.com/htlcrelay/relayer/internal/log"
	"github.com/htlcrelay/relayer/internal/types"
)

// Refunder reclaims a timed-out HTLC on the chain it was created on.
type Refunder interface {
	Refund(ctx context.Context, chainID, htlcID string) error
}

// Store is the subset of internal/store the scanner needs.
type Store interface {
	ListSwaps() ([]types.PendingRelay, error)
	PutSwap(relay *types.PendingRelay) error
}

// Config tunes the scanner's interval and the safety margin past a
// timelock's expiry before a refund is attempted.
type Config struct {
	ScanInterval time.Duration
	GracePeriod  time.Duration
}

// Scanner periodically looks for relays past their source timelock that
// never reached StatusCompleted and submits refund claims for them.
type Scanner struct {
	cfg      Config
	store    Store
	refunder Refunder
	core     *breaker.Core

	started int32
	quit    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	lastSweep time.Time
	refunded  map[string]bool
}

// New constructs a Scanner. ScanInterval defaults to 5 minutes and
// GracePeriod to 2 minutes past expiry when unset.
func New(cfg Config, store Store, refunder Refunder, core *breaker.Core) *Scanner {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Minute
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 2 * time.Minute
	}
	return &Scanner{
		cfg:      cfg,
		store:    store,
		refunder: refunder,
		core:     core,
		quit:     make(chan struct{}),
		refunded: make(map[string]bool),
	}
}

// Start launches the periodic scan loop.
func (s *Scanner) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return
	}
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the scan loop and waits for the in-flight pass to finish.
func (s *Scanner) Stop() {
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return
	}
	close(s.quit)
	s.wg.Wait()
}

func (s *Scanner) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one scan pass over persisted swaps, returning the number
// of refund attempts it submitted.
func (s *Scanner) Sweep(ctx context.Context) int {
	swaps, err := s.store.ListSwaps()
	if err != nil {
		log.Recovery.Errorf("recovery sweep: list swaps: %v", err)
		return 0
	}

	now := time.Now().Unix()
	attempted := 0

	for i := range swaps {
		relay := swaps[i]
		if relay.IsTerminal() {
			continue
		}
		if now-relay.Timelock < int64(s.cfg.GracePeriod.Seconds()) {
			continue
		}
		if relay.DestHTLCID == "" {
			// No relayer-originated HTLC exists on the destination side
			// yet (the relay never reached CreateLocalHTLC/SendIBCTransfer,
			// or it was a plain IBC forward that the chain auto-refunds on
			// timeout) — there is nothing for this node to reclaim.
			continue
		}

		s.mu.Lock()
		if s.refunded[relay.RelayID] {
			s.mu.Unlock()
			continue
		}
		s.refunded[relay.RelayID] = true
		s.mu.Unlock()

		attempted++
		s.refundOne(ctx, &relay)
	}

	s.mu.Lock()
	s.lastSweep = time.Now()
	s.mu.Unlock()

	if attempted > 0 {
		log.Recovery.Infof("recovery sweep found %d expired relay(s) eligible for refund", attempted)
	}
	return attempted
}

func (s *Scanner) refundOne(ctx context.Context, relay *types.PendingRelay) {
	err := s.core.ExecuteWithRecovery(ctx, types.OpRecoveryCheck, relay.RelayID, func(ctx context.Context) error {
		return s.refunder.Refund(ctx, relay.DestChain, relay.DestHTLCID)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		log.Recovery.Warnf("refund failed for relay %s: %v; will retry next sweep", relay.RelayID, err)
		delete(s.refunded, relay.RelayID)
		return
	}

	relay.Status = types.StatusFailed
	relay.TerminallyFailed = true
	relay.FailureReason = "timelock expired, refunded relayer-originated HTLC on destination chain"
	relay.UpdatedAt = time.Now()
	if err := s.store.PutSwap(relay); err != nil {
		log.Recovery.Errorf("refund for %s succeeded but failed to persist terminal state: %v",
			relay.RelayID, err)
	}
	log.Recovery.Infof("relay %s refunded on %s", relay.RelayID, relay.DestChain)
}

// LastSweep reports when the most recent sweep completed, for health
// reporting.
func (s *Scanner) LastSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}
