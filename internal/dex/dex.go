// Package dex declares the DEX swap-execution collaborator's interface.
// Its implementation is out of scope (spec §1); the relay engine only
// needs to know whether a target chain supports DEX execution and how to
// hand off completed swap params.
package dex

import (
	"context"

	"github.com/htlcrelay/relayer/internal/types"
)

// Collaborator executes a post-relay DEX swap when a completed relay
// carries optional SwapParams and its target chain supports DEX
// execution.
type Collaborator interface {
	SupportsChain(chainID string) bool
	ExecuteSwap(ctx context.Context, relayID string, params types.SwapParams) error
}

// Noop is the default collaborator used when no DEX backend is wired in.
type Noop struct{}

func (Noop) SupportsChain(string) bool { return false }
func (Noop) ExecuteSwap(context.Context, string, types.SwapParams) error { return nil }
