// Package types holds the data model shared across the relayer: pending
// relays, routes, channels, and the circuit-breaker operation kinds that
// gate outbound calls. Monitors hand a PendingRelay to the relay engine by
// value and the engine's snapshots are copies; the engine's Transferer
// receives a pointer and records the destination HTLC on it.
package types

import "time"

// Status is the lifecycle stage of a PendingRelay.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRelaying Status = "relaying"
	StatusCompleted Status = "completed"
	StatusFailed   Status = "failed"
)

// SwapParams carries optional DEX execution parameters supplied by an
// external collaborator (see dex.Collaborator). The relay engine only
// inspects this after a relay completes, and only when the target chain
// reports DEX support.
type SwapParams struct {
	DestDenom  string
	MinOutput  string
	SlippageBp uint32
}

// PendingRelay is the in-memory record of one end-to-end HTLC mirroring
// attempt. relayId = sourceChain + ":" + htlcId uniquely identifies it.
type PendingRelay struct {
	RelayID     string
	SourceChain string
	TargetChain string
	HTLCID      string
	Amount      string // decimal string, chain-agnostic
	Token       string
	Hashlock    string // 32-byte hex
	Timelock    int64  // unix seconds
	Sender      string
	Receiver    string

	Status   Status
	Attempts int

	CreatedAt time.Time
	UpdatedAt time.Time

	Secret     string // revealed only after withdrawal is observed
	SwapParams *SwapParams

	// Hops is the planned cascade length for a multi-hop relay (0 for a
	// direct single-hop transfer to the local chain). Used internally by
	// the relay engine to recognize the final hop's acknowledgment.
	Hops int

	// FailureReason records the taxonomy error (see internal/errs) that
	// most recently drove this relay to pending/failed, for operator
	// visibility via the admin ListRelays call.
	FailureReason string

	// TerminallyFailed distinguishes a failed status that may still
	// return to pending (retries remain) from one that is final.
	TerminallyFailed bool

	// DestChain and DestHTLCID identify the relayer's own mirrored HTLC
	// on the chain it submitted to — the contract entry the relayer is
	// the sender of, and the only one it can reclaim via refund. Set
	// once CreateLocalHTLC/SendIBCTransfer actually lands an on-chain
	// HTLC; left empty for plain IBC packet forwards, which the chain
	// refunds automatically on timeout. The recovery scanner refunds
	// against these fields, never against SourceChain/HTLCID, which
	// name the *user's* HTLC that the relayer never created.
	DestChain   string
	DestHTLCID  string
}

// RelayID computes the canonical key for a relay from its source chain and
// source HTLC identifier.
func RelayID(sourceChain, htlcID string) string {
	return sourceChain + ":" + htlcID
}

// CanRetry reports whether a failed relay is still eligible to return to
// pending, per the bounded-retries invariant.
func (p *PendingRelay) CanRetry(maxRetries int) bool {
	return p.Attempts < maxRetries
}

// IsTerminal reports whether p has reached a status from which no further
// transition is permitted.
func (p *PendingRelay) IsTerminal() bool {
	return p.Status == StatusCompleted ||
		(p.Status == StatusFailed && p.TerminallyFailed)
}
