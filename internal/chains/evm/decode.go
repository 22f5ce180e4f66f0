package evm

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// htlcEventABIJSON declares the three HTLC contract events the monitor
// watches for. Only htlcId is indexed; every other field rides in the
// log's data section in declaration order, the same shape a generated
// contract binding's UnpackLog would expect.
const htlcEventABIJSON = `[
  {"name":"HTLCCreated","type":"event","anonymous":false,"inputs":[
    {"name":"htlcId","type":"bytes32","indexed":true},
    {"name":"sender","type":"address","indexed":false},
    {"name":"receiver","type":"address","indexed":false},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"token","type":"address","indexed":false},
    {"name":"hashlock","type":"bytes32","indexed":false},
    {"name":"timelock","type":"uint256","indexed":false},
    {"name":"targetChain","type":"string","indexed":false},
    {"name":"targetAddress","type":"string","indexed":false}
  ]},
  {"name":"HTLCWithdrawn","type":"event","anonymous":false,"inputs":[
    {"name":"htlcId","type":"bytes32","indexed":true},
    {"name":"secret","type":"bytes32","indexed":false}
  ]},
  {"name":"HTLCRefunded","type":"event","anonymous":false,"inputs":[
    {"name":"htlcId","type":"bytes32","indexed":true}
  ]}
]`

var htlcEventABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(htlcEventABIJSON))
	if err != nil {
		panic("evm: parse htlc event abi: " + err.Error())
	}
	htlcEventABI = parsed
}

var htlcEventTopics = []common.Hash{
	htlcEventABI.Events["HTLCCreated"].ID,
	htlcEventABI.Events["HTLCWithdrawn"].ID,
	htlcEventABI.Events["HTLCRefunded"].ID,
}

// decodeLog turns a raw contract log into a fully populated HTLCEvent,
// unpacking the non-indexed fields out of the log's data via the parsed
// event ABI rather than stopping at the topic-tagged htlcId.
func decodeLog(lg types.Log) (HTLCEvent, bool) {
	if len(lg.Topics) == 0 {
		return HTLCEvent{}, false
	}

	ev := HTLCEvent{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
	}
	if len(lg.Topics) > 1 {
		ev.HTLCID = lg.Topics[1].Hex()
	}

	switch lg.Topics[0] {
	case htlcEventTopics[0]:
		ev.Kind = EventHTLCCreated
		return decodeHTLCCreated(ev, lg)
	case htlcEventTopics[1]:
		ev.Kind = EventHTLCWithdrawn
		return decodeHTLCWithdrawn(ev, lg)
	case htlcEventTopics[2]:
		ev.Kind = EventHTLCRefunded
		return ev, true
	default:
		return HTLCEvent{}, false
	}
}

func decodeHTLCCreated(ev HTLCEvent, lg types.Log) (HTLCEvent, bool) {
	vals, err := htlcEventABI.Events["HTLCCreated"].Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil || len(vals) != 8 {
		return HTLCEvent{}, false
	}

	sender, _ := vals[0].(common.Address)
	receiver, _ := vals[1].(common.Address)
	amount, _ := vals[2].(*big.Int)
	token, _ := vals[3].(common.Address)
	hashlock, _ := vals[4].([32]byte)
	timelock, _ := vals[5].(*big.Int)
	targetChain, _ := vals[6].(string)
	targetAddress, _ := vals[7].(string)

	ev.Sender = sender.Hex()
	ev.Receiver = receiver.Hex()
	if amount != nil {
		ev.Amount = amount.String()
	}
	ev.Token = token.Hex()
	ev.Hashlock = "0x" + hex.EncodeToString(hashlock[:])
	if timelock != nil {
		ev.Timelock = timelock.Int64()
	}
	ev.TargetChain = targetChain
	ev.TargetAddress = targetAddress
	return ev, true
}

func decodeHTLCWithdrawn(ev HTLCEvent, lg types.Log) (HTLCEvent, bool) {
	vals, err := htlcEventABI.Events["HTLCWithdrawn"].Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil || len(vals) != 1 {
		return HTLCEvent{}, false
	}
	secret, _ := vals[0].([32]byte)
	ev.Secret = "0x" + hex.EncodeToString(secret[:])
	return ev, true
}
