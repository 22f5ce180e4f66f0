// Package cosmos implements the IBC-chain monitor (spec §4.E): polls
// chain height, searches each new block's transactions for wasm contract
// events whose _contract_address matches the configured HTLC contract,
// and decodes their attributes by action. Grounded on the Tendermint RPC
// client idiom used throughout the cosmos relayer ecosystem (pack file
// furychain-furya-relayer/relayer-strategies.go imports
// cosmos/relayer/v2's chain processor built on the same client).
package cosmos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	rpchttp "github.com/tendermint/tendermint/rpc/client/http"

	"github.com/htlcrelay/relayer/internal/breaker"
	"github.com/htlcrelay/relayer/internal/log"
	rtypes "github.com/htlcrelay/relayer/internal/types"
)

var errReplayWhileRunning = errors.New("cosmos: replayEvents refused while live loop is running")

// Config controls the monitor's RPC endpoint and contract filter.
type Config struct {
	RPCURL          string
	ChainID         string
	HTLCContract    string
	PollingInterval time.Duration
}

// Monitor polls a Tendermint-based chain for HTLC wasm-contract events.
type Monitor struct {
	cfg    Config
	client *rpchttp.HTTP
	core   *breaker.Core

	lastHeight int64
	errorCount uint64

	handler Handler

	mu      sync.Mutex
	running bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New dials rpcURL and constructs a Monitor.
func New(cfg Config, core *breaker.Core, handler Handler) (*Monitor, error) {
	client, err := rpchttp.New(cfg.RPCURL, "/websocket")
	if err != nil {
		return nil, err
	}

	return &Monitor{
		cfg:     cfg,
		client:  client,
		core:    core,
		handler: handler,
		quit:    make(chan struct{}),
	}, nil
}

// Start launches the polling loop from startHeight.
func (m *Monitor) Start(ctx context.Context, startHeight int64) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	atomic.StoreInt64(&m.lastHeight, startHeight)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the polling loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.quit)
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.pollOnce(ctx); err != nil {
				atomic.AddUint64(&m.errorCount, 1)
				log.Monitor.Warnf("cosmos[%s] poll failed: %v", m.cfg.ChainID, err)
			}
		case <-m.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context) error {
	return m.core.ExecuteWithRecovery(ctx, rtypes.OpIbcRpc, m.cfg.ChainID, func(ctx context.Context) error {
		status, err := m.client.Status(ctx)
		if err != nil {
			return err
		}
		head := status.SyncInfo.LatestBlockHeight

		last := atomic.LoadInt64(&m.lastHeight)
		if head <= last {
			return nil
		}

		for h := last + 1; h <= head; h++ {
			events, err := m.fetchBlockEvents(ctx, h)
			if err != nil {
				return err
			}
			for _, ev := range events {
				m.handler(ev)
			}
			atomic.StoreInt64(&m.lastHeight, h)
		}
		return nil
	})
}

func (m *Monitor) fetchBlockEvents(ctx context.Context, height int64) ([]HTLCEvent, error) {
	query := fmt.Sprintf("tx.height=%d", height)
	page, perPage := 1, 100

	result, err := m.client.TxSearch(ctx, query, false, &page, &perPage, "asc")
	if err != nil {
		return nil, err
	}

	var events []HTLCEvent
	for _, tx := range result.Txs {
		if tx.TxResult.Code != 0 {
			continue // failed transactions are ignored, spec §4.E
		}

		for _, abciEvent := range tx.TxResult.Events {
			ev, ok := decodeEvent(abciEvent, m.cfg.HTLCContract)
			if !ok {
				continue
			}
			ev.TxHash = fmt.Sprintf("%X", tx.Hash)
			ev.Height = height
			events = append(events, ev)
		}
	}
	return events, nil
}

// ReplayEvents backfills a historical block-height range. Refused while
// the live loop is running.
func (m *Monitor) ReplayEvents(ctx context.Context, from, to int64) ([]HTLCEvent, error) {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running {
		return nil, errReplayWhileRunning
	}

	var out []HTLCEvent
	for h := from; h <= to; h++ {
		events, err := m.fetchBlockEvents(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

// Health reports the monitor's liveness snapshot.
type Health struct {
	LastHeight   int64
	ErrorCount   uint64
	BlocksBehind int64
}

func (m *Monitor) HealthSnapshot(ctx context.Context) Health {
	last := atomic.LoadInt64(&m.lastHeight)
	status, err := m.client.Status(ctx)
	var behind int64
	if err == nil && status.SyncInfo.LatestBlockHeight > last {
		behind = status.SyncInfo.LatestBlockHeight - last
	}
	return Health{LastHeight: last, ErrorCount: atomic.LoadUint64(&m.errorCount), BlocksBehind: behind}
}
