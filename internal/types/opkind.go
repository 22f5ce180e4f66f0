package types

// OpKind tags a fallible outbound operation so the breaker/retry core
// (internal/breaker) can route it to the correct circuit breaker and look
// up its retry policy.
type OpKind string

const (
	OpEvmRpc         OpKind = "EvmRpc"
	OpIbcRpc         OpKind = "IbcRpc"
	OpIbcTransfer    OpKind = "IbcTransfer"
	OpContractCall   OpKind = "ContractCall"
	OpRouteDiscovery OpKind = "RouteDiscovery"
	OpHTLCCreation   OpKind = "HTLCCreation"
	OpRecoveryCheck  OpKind = "RecoveryCheck"
	OpRelay          OpKind = "Relay"
)

// BreakerName maps an operation kind to the named circuit breaker that
// guards it, per spec §4.G's kind-to-breaker table.
func (k OpKind) BreakerName() string {
	switch k {
	case OpEvmRpc, OpContractCall, OpHTLCCreation:
		return "evm"
	case OpIbcRpc:
		return "ibc"
	case OpIbcTransfer:
		return "ibc-transfer"
	default:
		return "default"
	}
}
