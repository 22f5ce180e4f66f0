// Package orchestrator wires every component into a running daemon and
// owns its startup/shutdown order (spec §4.K): registry cache, then route
// discovery, then the EVM and IBC-chain monitors, then the ack/timeout
// handler, circuit breaker core, relay engine, recovery scanner, and
// finally the admin RPC surface. Shutdown stops the monitors first to
// halt ingress, then the recovery scanner, then drains the relay engine,
// and only then disposes the registry and store — the opposite of
// startup order, but monitors die before the engine so nothing is
// dispatched into a queue that's already draining. Grounded on the
// teacher's daemon startup in lnd's main/server, which starts chain
// backends before the switch and tears down in reverse.
package orchestrator

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	rpchttp "github.com/tendermint/tendermint/rpc/client/http"
	"google.golang.org/grpc"

	"github.com/htlcrelay/relayer/internal/ack"
	"github.com/htlcrelay/relayer/internal/adminrpc"
	"github.com/htlcrelay/relayer/internal/breaker"
	"github.com/htlcrelay/relayer/internal/chains/cosmos"
	"github.com/htlcrelay/relayer/internal/chains/evm"
	"github.com/htlcrelay/relayer/internal/config"
	"github.com/htlcrelay/relayer/internal/log"
	"github.com/htlcrelay/relayer/internal/pfm"
	"github.com/htlcrelay/relayer/internal/recovery"
	"github.com/htlcrelay/relayer/internal/registry"
	"github.com/htlcrelay/relayer/internal/relay"
	"github.com/htlcrelay/relayer/internal/route"
	"github.com/htlcrelay/relayer/internal/store"
	"github.com/htlcrelay/relayer/internal/transfer"
	"github.com/htlcrelay/relayer/internal/types"
)

// ShutdownTimeout bounds how long Stop waits for in-flight relays to
// drain; past it Stop logs a warning and returns while any component
// still draining finishes on its own.
const ShutdownTimeout = 30 * time.Second

// Orchestrator owns the full component graph for one relayer process.
type Orchestrator struct {
	cfg *config.Config

	db         *store.DB
	reg        *registry.Cache
	finder     *route.Finder
	planner    *pfm.Planner
	breakers   *breaker.Manager
	core       *breaker.Core
	ackH       *ack.Handler
	engine     *relay.Engine
	scanner    *recovery.Scanner
	evmMon     *evm.Monitor
	cosmosMons map[string]*cosmos.Monitor
	grpcSrv    *grpc.Server
}

// New constructs every component from cfg without starting any
// goroutines. Fallible construction (dialing RPC endpoints, opening the
// database) happens here so configuration errors surface before Start.
// signingKey signs the relayer's own EVM transactions (HTLC creation,
// refund); cosmosSigner plays the analogous role for Cosmos chains,
// deferring keyring/signing mechanics to the deployment per spec §1.
func New(ctx context.Context, cfg *config.Config, signingKey *ecdsa.PrivateKey, cosmosSigner cosmos.TxBroadcaster) (*Orchestrator, error) {
	db, err := store.Open(cfg.General.DataDir+"/relayer.db", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open store: %w", err)
	}

	reg := registry.New(registry.Config{
		BaseURL:         cfg.Registry.BaseURL,
		CacheTimeout:    cfg.Registry.CacheTimeout,
		RefreshInterval: cfg.Registry.RefreshInterval,
	})

	finder := route.New(reg, cfg.Relay.MaxHops, cfg.Registry.CacheTimeout)

	breakers := breaker.NewManager(nil)
	core := breaker.NewCore(breakers, nil)

	planner := &pfm.Planner{
		Routes:        finder,
		Receivers:     reg,
		MaxHops:       cfg.Relay.MaxHops,
		HopTimeout:    cfg.Relay.HopTimeout,
		TimeoutBuffer: cfg.Relay.TimeoutBuffer,
	}

	evmRPC, err := ethclient.DialContext(ctx, cfg.EVM.RPCURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("orchestrator: dial evm rpc: %w", err)
	}
	evmChainIDInt, ok := new(big.Int).SetString(cfg.EVM.ChainID, 10)
	if !ok {
		evmChainIDInt = big.NewInt(0)
	}
	evmClient, err := evm.NewClient(evmRPC, evmChainIDInt, signingKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("orchestrator: build evm client: %w", err)
	}

	cosmosClients := make(map[string]*cosmos.Client, len(cfg.Cosmos))
	cosmosMons := make(map[string]*cosmos.Monitor, len(cfg.Cosmos))

	o := &Orchestrator{
		cfg:        cfg,
		db:         db,
		reg:        reg,
		finder:     finder,
		planner:    planner,
		breakers:   breakers,
		core:       core,
		cosmosMons: cosmosMons,
	}

	dispatch := transfer.New(cfg.General.LocalChain, cfg.EVM.ChainID, evmClient, cosmosClients, reg)

	engine := relay.New(relay.Config{
		LocalChain:      cfg.General.LocalChain,
		MaxRetries:      cfg.Relay.MaxRetries,
		RetryDelay:      cfg.Relay.RetryDelay,
		TimeoutBuffer:   cfg.Relay.TimeoutBuffer,
		Workers:         cfg.Relay.Workers,
		QueueSize:       cfg.Relay.QueueSize,
		CleanupInterval: cfg.Relay.CleanupInterval,
		CleanupAge:      cfg.Relay.CleanupAge,
	}, core, planner, dispatch, nil, nil)

	ackHandler := ack.New(engine, time.Hour)
	engine.SetAckTracker(ackHandler)
	o.ackH = ackHandler
	o.engine = engine

	scanner := recovery.New(recovery.Config{
		ScanInterval: cfg.Recovery.ScanInterval,
		GracePeriod:  cfg.Recovery.GracePeriod,
	}, db, dispatch, core)
	o.scanner = scanner

	evmMon, err := evm.New(ctx, evm.Config{
		RPCURL:            cfg.EVM.RPCURL,
		ChainID:           cfg.EVM.ChainID,
		HTLCContract:      common.HexToAddress(cfg.EVM.HTLCContract),
		Confirmations:     cfg.EVM.Confirmations,
		PollingInterval:   cfg.EVM.PollingInterval,
		ReorgBuffer:       cfg.EVM.ReorgBuffer,
		MaxBlocksPerBatch: cfg.EVM.MaxBlocksPerBatch,
		DedupRingSize:     cfg.EVM.DedupRingSize,
		RPCRateLimit:      cfg.EVM.RPCRateLimit,
		RPCRateBurst:      cfg.EVM.RPCRateBurst,
	}, core, o.handleEVMEvent)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("orchestrator: build evm monitor: %w", err)
	}
	o.evmMon = evmMon

	for _, cc := range cfg.Cosmos {
		rpc, err := rpchttp.New(cc.RPCURL, "/websocket")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("orchestrator: dial cosmos rpc %s: %w", cc.ChainID, err)
		}
		cosmosClients[cc.ChainID] = cosmos.NewClient(rpc, cosmosSigner)

		chainID := cc.ChainID
		mon, err := cosmos.New(cosmos.Config{
			RPCURL:          cc.RPCURL,
			ChainID:         cc.ChainID,
			HTLCContract:    cc.HTLCContract,
			PollingInterval: cc.PollingInterval,
		}, core, func(ev cosmos.HTLCEvent) { o.handleCosmosEvent(chainID, ev) })
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("orchestrator: build cosmos monitor %s: %w", cc.ChainID, err)
		}
		cosmosMons[cc.ChainID] = mon
	}

	return o, nil
}

// Start brings every component up in dependency order (spec §4.K):
// registry -> route discovery (passive) -> monitors -> ack handler
// (passive) -> relay engine -> recovery scanner -> admin RPC.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.reg.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator: start registry: %w", err)
	}

	lastEVM, err := o.db.LastBlock(o.cfg.EVM.ChainID)
	if err != nil {
		return fmt.Errorf("orchestrator: resume evm height: %w", err)
	}
	o.evmMon.Start(ctx, lastEVM)

	for chainID, mon := range o.cosmosMons {
		lastHeight, err := o.db.LastBlock(chainID)
		if err != nil {
			return fmt.Errorf("orchestrator: resume cosmos height %s: %w", chainID, err)
		}
		mon.Start(ctx, int64(lastHeight))
	}

	o.engine.Start(ctx)
	o.scanner.Start(ctx)

	if err := o.startAdminRPC(); err != nil {
		return fmt.Errorf("orchestrator: start admin rpc: %w", err)
	}

	log.Orch.Infof("relayer started: local chain %s, %d cosmos chain(s)", o.cfg.General.LocalChain, len(o.cosmosMons))
	return nil
}

// Stop tears components down in the order admin RPC, monitors, recovery
// scanner, relay engine, registry, store, waiting at most ShutdownTimeout.
func (o *Orchestrator) Stop() {
	done := make(chan struct{})
	go func() {
		defer close(done)

		if o.grpcSrv != nil {
			o.grpcSrv.GracefulStop()
		}

		// Halt ingress first: once the monitors stop, no new event reaches
		// the engine's queue, so draining it below can't race a dispatch
		// into an already-stopped engine.
		for _, mon := range o.cosmosMons {
			mon.Stop()
		}
		o.evmMon.Stop()

		o.scanner.Stop()
		o.engine.Stop()

		o.reg.Stop()
		o.db.Close()
	}()

	select {
	case <-done:
		log.Orch.Infof("relayer stopped cleanly")
	case <-time.After(ShutdownTimeout):
		log.Orch.Warnf("shutdown exceeded %s, some components may not have drained", ShutdownTimeout)
	}
}

// startAdminRPC brings up the macaroon-gated gRPC admin surface over the
// hand-written JSON codec (adminrpc.codec.go), registered under the
// "json" content-subtype rather than generated protobuf bindings; clients
// select it by dialing with grpc.CallContentSubtype("json").
func (o *Orchestrator) startAdminRPC() error {
	mac, err := adminrpc.LoadOrBakeMacaroon(o.cfg.Admin.MacaroonPath)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", o.cfg.Admin.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", o.cfg.Admin.ListenAddr, err)
	}

	srv := grpc.NewServer(grpc.UnaryInterceptor(adminrpc.AuthInterceptor(mac)))
	admin := &adminrpc.Server{
		Breaker:  o.breakers,
		Engine:   o.engine,
		Scanner:  o.scanner,
		Registry: o.reg,
	}
	srv.RegisterService(&adminrpc.ServiceDesc, admin)
	o.grpcSrv = srv

	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Orch.Warnf("admin grpc server exited: %v", err)
		}
	}()
	return nil
}

// handleEVMEvent adapts an evm.HTLCEvent into the relay engine's ingestion
// point, persisting the last-seen block as the engine advances.
func (o *Orchestrator) handleEVMEvent(ev evm.HTLCEvent) {
	if ev.Kind != evm.EventHTLCCreated {
		return
	}

	seen, err := o.db.SeenEvent(ev.TxHash, ev.LogIndex)
	if err != nil {
		log.Orch.Warnf("dedup lookup failed for evm event %s/%d: %v", ev.TxHash, ev.LogIndex, err)
	} else if seen {
		return
	}

	pending := types.PendingRelay{
		SourceChain: o.cfg.EVM.ChainID,
		HTLCID:      ev.HTLCID,
		Hashlock:    ev.Hashlock,
		Timelock:    ev.Timelock,
		Sender:      ev.Sender,
		Receiver:    ev.Receiver,
		TargetChain: ev.TargetChain,
		Amount:      ev.Amount,
		Token:       ev.Token,
	}

	if err := o.engine.HandleSourceHTLC(pending); err != nil {
		log.Orch.Warnf("evm event %s/%d not ingested: %v", ev.TxHash, ev.LogIndex, err)
		return
	}

	if err := o.db.MarkEvent(ev.TxHash, ev.LogIndex); err != nil {
		log.Orch.Warnf("failed to persist dedup marker for %s/%d: %v", ev.TxHash, ev.LogIndex, err)
	}
	if err := o.db.PutLastBlock(o.cfg.EVM.ChainID, ev.BlockNumber); err != nil {
		log.Orch.Warnf("failed to persist evm last block: %v", err)
	}
}

// handleCosmosEvent adapts a cosmos.HTLCEvent into the relay engine's
// ingestion point for chain chainID.
func (o *Orchestrator) handleCosmosEvent(chainID string, ev cosmos.HTLCEvent) {
	if ev.Action != cosmos.ActionCreateHTLC {
		return
	}

	pending := types.PendingRelay{
		SourceChain: chainID,
		HTLCID:      ev.HTLCID,
		Hashlock:    ev.Hashlock,
		Timelock:    ev.Timelock,
		Sender:      ev.Sender,
		Receiver:    ev.Receiver,
		TargetChain: ev.TargetChain,
		Amount:      ev.Amount,
	}

	if err := o.engine.HandleSourceHTLC(pending); err != nil {
		log.Orch.Warnf("cosmos event on %s not ingested: %v", chainID, err)
		return
	}

	if err := o.db.PutLastBlock(chainID, uint64(ev.Height)); err != nil {
		log.Orch.Warnf("failed to persist cosmos last height for %s: %v", chainID, err)
	}
}
