// relayerd is the HTLC relayer daemon: it loads configuration, wires the
// orchestrator, and runs until an OS signal requests shutdown, mirroring
// lnd's own cmd/lnd main loop.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	transfertypes "github.com/cosmos/ibc-go/v3/modules/apps/transfer/types"
	"github.com/ethereum/go-ethereum/crypto"
	goerrors "github.com/go-errors/errors"

	"github.com/htlcrelay/relayer/internal/chains/cosmos"
	"github.com/htlcrelay/relayer/internal/config"
	"github.com/htlcrelay/relayer/internal/log"
	"github.com/htlcrelay/relayer/internal/orchestrator"
)

func main() {
	if err := run(); err != nil {
		// Wrap with go-errors so a startup failure prints a stack trace
		// pointing at the call that produced it, the way lnd's main does.
		wrapped := goerrors.Wrap(err, 1)
		fmt.Fprintf(os.Stderr, "relayerd: %v\n%s", err, wrapped.ErrorStack())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	log.SetLevel("all", cfg.General.LogLevel)

	signingKey, err := loadSigningKey()
	if err != nil {
		return fmt.Errorf("load evm signing key: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orc, err := orchestrator.New(ctx, cfg, signingKey, noopCosmosSigner{})
	if err != nil {
		return err
	}

	if err := orc.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Orch.Infof("received signal %s, shutting down", sig)

	orc.Stop()
	return nil
}

// loadSigningKey reads the hex-encoded EVM private key the relayer signs
// its own HTLC-creation/refund transactions with, from RELAYER_EVM_KEY.
// A production deployment would instead source this from a hardware
// wallet or an encrypted keystore; env-var loading keeps relayerd's own
// scope limited to relaying, per spec §1's signing-key exclusion.
func loadSigningKey() (*ecdsa.PrivateKey, error) {
	hexKey := os.Getenv("RELAYER_EVM_KEY")
	if hexKey == "" {
		return nil, fmt.Errorf("RELAYER_EVM_KEY is not set")
	}
	return crypto.HexToECDSA(hexKey)
}

// noopCosmosSigner is a placeholder TxBroadcaster that refuses every call;
// a real deployment supplies its own keyring-backed implementation, since
// signing-key management is explicitly out of this module's scope
// (spec §1).
type noopCosmosSigner struct{}

func (noopCosmosSigner) BuildAndSignTransfer(ctx context.Context, msg *transfertypes.MsgTransfer) ([]byte, error) {
	return nil, fmt.Errorf("relayerd: no cosmos signer configured")
}

func (noopCosmosSigner) BuildAndSignWasmExec(ctx context.Context, sender, contract string, execMsg []byte) ([]byte, error) {
	return nil, fmt.Errorf("relayerd: no cosmos signer configured")
}

var _ cosmos.TxBroadcaster = noopCosmosSigner{}
