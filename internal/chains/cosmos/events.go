package cosmos

// Action distinguishes the three HTLC wasm-contract actions the monitor
// recognizes.
type Action string

const (
	ActionCreateHTLC Action = "create_htlc"
	ActionWithdraw   Action = "withdraw"
	ActionRefund     Action = "refund"
)

// HTLCEvent is this monitor's chain-agnostic view of a decoded contract
// event, mirroring evm.HTLCEvent so the relay engine can treat either
// source uniformly.
type HTLCEvent struct {
	Action      Action
	TxHash      string
	Height      int64

	HTLCID        string
	Sender        string
	Receiver      string
	Amount        string
	Denom         string
	Hashlock      string
	Timelock      int64
	Secret        string
	TargetChain   string
	TargetAddress string
}

// Handler receives decoded events in block order.
type Handler func(HTLCEvent)
