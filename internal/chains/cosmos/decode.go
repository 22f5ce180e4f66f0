package cosmos

import (
	"strconv"

	abci "github.com/tendermint/tendermint/abci/types"
)

// decodeEvent inspects a single ABCI event, keeping only events whose
// _contract_address attribute matches htlcContract (the event type itself
// is not checked), and decodes its
// attributes by the action they carry (spec §4.E). Attribute values
// arrive as []byte already base64-decoded by the RPC client's JSON
// unmarshalling.
func decodeEvent(ev abci.Event, htlcContract string) (HTLCEvent, bool) {
	attrs := make(map[string]string, len(ev.Attributes))
	for _, a := range ev.Attributes {
		attrs[string(a.Key)] = string(a.Value)
	}

	if attrs["_contract_address"] != htlcContract {
		return HTLCEvent{}, false
	}

	action := Action(attrs["action"])
	switch action {
	case ActionCreateHTLC, ActionWithdraw, ActionRefund:
	default:
		return HTLCEvent{}, false
	}

	out := HTLCEvent{
		Action:        action,
		HTLCID:        attrs["htlc_id"],
		Sender:        attrs["sender"],
		Receiver:      attrs["receiver"],
		Amount:        attrs["amount"],
		Denom:         attrs["denom"],
		Hashlock:      attrs["hashlock"],
		Secret:        attrs["secret"],
		TargetChain:   attrs["target_chain"],
		TargetAddress: attrs["target_address"],
	}

	if tl, ok := attrs["timelock"]; ok {
		if parsed, err := strconv.ParseInt(tl, 10, 64); err == nil {
			out.Timelock = parsed
		}
	}

	return out, true
}
