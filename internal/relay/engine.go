// Package relay implements the relay engine (spec §4.H): a per-swap
// state machine running over a bounded worker pool, with idempotent
// ingestion, bounded retries, and a periodic sweep of terminal relays.
// Grounded on the teacher's htlcswitch.go: a bounded channel queue feeding
// fixed goroutines, atomic start/stop flags, and a sync.WaitGroup-guarded
// shutdown, generalized from onion-routed payment circuits to cross-chain
// swap relays.
package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/htlcrelay/relayer/internal/breaker"
	"github.com/htlcrelay/relayer/internal/dex"
	"github.com/htlcrelay/relayer/internal/errs"
	"github.com/htlcrelay/relayer/internal/log"
	"github.com/htlcrelay/relayer/internal/metrics"
	"github.com/htlcrelay/relayer/internal/pfm"
	"github.com/htlcrelay/relayer/internal/types"
)

// Transferer performs the actual on-chain work for a relay: a direct
// local-chain HTLC creation, or an IBC transfer carrying a planned
// forward memo.
type Transferer interface {
	CreateLocalHTLC(ctx context.Context, relay *types.PendingRelay) error
	SendIBCTransfer(ctx context.Context, relay *types.PendingRelay, plan *pfm.Plan) (types.Packet, error)
}

// Planner resolves a multi-hop plan for a relay.
type Planner interface {
	Plan(src, dst, receiver string, htlc pfm.HTLCParams) (*pfm.Plan, error)
}

// AckTracker registers packets so the ack/timeout handler can later
// report their outcome back to the engine.
type AckTracker interface {
	TrackPacket(relayID string, route types.Route, pkt types.Packet)
}

// Config tunes the engine's retry/concurrency/cleanup behavior (spec §6
// "relay" group plus §4.H/§5 concurrency knobs).
type Config struct {
	LocalChain         string
	MaxRetries         int
	RetryDelay         time.Duration
	TimeoutBuffer      time.Duration
	Workers            int
	QueueSize          int
	CleanupInterval    time.Duration
	CleanupAge         time.Duration
}

// Engine owns the pendingRelays map and its worker pool.
type Engine struct {
	cfg      Config
	core     *breaker.Core
	planner  Planner
	transfer Transferer
	dexc     dex.Collaborator
	sink     metrics.Sink
	acks     AckTracker

	mu         sync.Mutex
	relays     map[string]*types.PendingRelay
	processing map[string]bool

	queue chan string
	quit  chan struct{}
	wg    sync.WaitGroup

	started int32

	successCount uint64
	failureCount uint64
}

// New constructs an Engine. Workers/QueueSize/CleanupInterval/CleanupAge
// fall back to sane defaults when zero.
func New(cfg Config, core *breaker.Core, planner Planner, transfer Transferer, dexc dex.Collaborator, sink metrics.Sink) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.CleanupAge <= 0 {
		cfg.CleanupAge = 24 * time.Hour
	}
	if dexc == nil {
		dexc = dex.Noop{}
	}
	if sink == nil {
		sink = metrics.Noop{}
	}

	return &Engine{
		cfg:        cfg,
		core:       core,
		planner:    planner,
		transfer:   transfer,
		dexc:       dexc,
		sink:       sink,
		relays:     make(map[string]*types.PendingRelay),
		processing: make(map[string]bool),
		queue:      make(chan string, cfg.QueueSize),
		quit:       make(chan struct{}),
	}
}

// Start launches the worker pool and the cleanup sweep loop.
func (e *Engine) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&e.started, 0, 1) {
		return
	}

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}

	e.wg.Add(1)
	go e.sweepLoop(ctx)
}

// Stop signals every worker to exit after its current iteration and waits
// for them and the sweep loop; the wait itself has no deadline.
func (e *Engine) Stop() {
	if !atomic.CompareAndSwapInt32(&e.started, 1, 0) {
		return
	}
	close(e.quit)
	e.wg.Wait()
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case relayID := <-e.queue:
			e.processRelay(ctx, relayID)
		case <-e.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n := e.Cleanup()
			if n > 0 {
				log.Relay.Infof("cleanup swept %d terminal relays", n)
			}
		case <-e.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// HandleSourceHTLC is the relay engine's single public ingestion point
// (spec §4.H), called once per detected source-chain HTLC creation event
// regardless of which monitor observed it.
func (e *Engine) HandleSourceHTLC(ev types.PendingRelay) error {
	relayID := types.RelayID(ev.SourceChain, ev.HTLCID)

	e.mu.Lock()
	if _, exists := e.relays[relayID]; exists {
		e.mu.Unlock()
		log.Relay.Debugf("relay %s already tracked, dropping duplicate event", relayID)
		log.Relay.Tracef("duplicate event detail: %s", log.Dump(ev))
		return nil
	}

	now := time.Now()
	relay := ev
	relay.RelayID = relayID
	relay.Status = types.StatusPending
	relay.Attempts = 0
	relay.CreatedAt = now
	relay.UpdatedAt = now

	if relay.Timelock-now.Unix() < int64(e.cfg.TimeoutBuffer.Seconds()) {
		relay.Status = types.StatusFailed
		relay.TerminallyFailed = true
		relay.FailureReason = errs.ErrTimelockTooClose.Error()
		e.relays[relayID] = &relay
		e.mu.Unlock()
		log.Relay.Warnf("relay %s failed before dispatch: timelock too close", relayID)
		return nil
	}

	e.relays[relayID] = &relay
	e.mu.Unlock()

	select {
	case e.queue <- relayID:
		return nil
	default:
		e.mu.Lock()
		delete(e.relays, relayID)
		e.mu.Unlock()
		log.Relay.Warnf("relay queue full, rejecting %s; will be re-observed on next poll", relayID)
		return errs.ErrQueueFull
	}
}

// processRelay drives one pass of the state machine for relayID. Only one
// worker may process a given relayID at a time; a second concurrent
// delivery (e.g. a hasty retry re-enqueue) is dropped.
func (e *Engine) processRelay(ctx context.Context, relayID string) {
	e.mu.Lock()
	if e.processing[relayID] {
		e.mu.Unlock()
		return
	}
	relay, ok := e.relays[relayID]
	if !ok || relay.IsTerminal() {
		e.mu.Unlock()
		return
	}
	e.processing[relayID] = true
	relay.Status = types.StatusRelaying
	relay.Attempts++
	relay.UpdatedAt = time.Now()
	direct := relay.TargetChain == e.cfg.LocalChain
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.processing, relayID)
		e.mu.Unlock()
	}()

	err := e.core.ExecuteWithRecovery(ctx, types.OpRelay, relayID, func(ctx context.Context) error {
		return e.attemptRelay(ctx, relay)
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.handleFailureLocked(relay, err)
		return
	}

	if direct {
		e.completeLocked(relay)
	}
	// Multi-hop: leave status=relaying. The ack/timeout handler drives the
	// remaining transitions via AdvanceHop/FailHop as each hop resolves.
}

// attemptRelay performs path selection (spec §4.H): direct transfer when
// the target is the local chain, otherwise plan-and-send a multi-hop IBC
// transfer.
func (e *Engine) attemptRelay(ctx context.Context, relay *types.PendingRelay) error {
	if relay.TargetChain == e.cfg.LocalChain {
		return e.transfer.CreateLocalHTLC(ctx, relay)
	}

	plan, err := e.planner.Plan(relay.SourceChain, relay.TargetChain, relay.Receiver, pfm.HTLCParams{
		HTLCID:       relay.HTLCID,
		Hashlock:     relay.Hashlock,
		Timelock:     relay.Timelock,
		SourceChain:  relay.SourceChain,
		SourceHTLCID: relay.HTLCID,
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	relay.Hops = plan.Route.Hops()
	e.mu.Unlock()

	pkt, err := e.transfer.SendIBCTransfer(ctx, relay, plan)
	if err != nil {
		return err
	}

	return e.trackPacket(relay, plan, pkt)
}

// trackPacket hands pkt to the ack tracker installed by SetAckTracker, and
// fails the attempt when none has been installed.
func (e *Engine) trackPacket(relay *types.PendingRelay, plan *pfm.Plan, pkt types.Packet) error {
	if e.acks == nil {
		return errors.New("relay: no ack tracker configured")
	}
	e.acks.TrackPacket(relay.RelayID, plan.Route, pkt)
	return nil
}
