// Package transfer implements relay.Transferer and recovery.Refunder by
// dispatching to the EVM or Cosmos chain client matching a relay's
// source/target chain. It is the orchestrator's wiring point between the
// chain-agnostic relay engine and the two concrete chain integrations,
// grounded on the teacher's htlcswitch, which likewise resolves an
// abstract "link" to a concrete channel implementation by chain/peer
// lookup before forwarding an HTLC.
package transfer

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/htlcrelay/relayer/internal/chains/cosmos"
	"github.com/htlcrelay/relayer/internal/chains/evm"
	"github.com/htlcrelay/relayer/internal/errs"
	"github.com/htlcrelay/relayer/internal/pfm"
	"github.com/htlcrelay/relayer/internal/types"
)

// Registry is the subset of the chain registry cache transfer needs to
// resolve a chain's HTLC/router contract address.
type Registry interface {
	GetRouter(chainID string) (string, bool)
}

// Dispatcher routes relay.Transferer/recovery.Refunder calls to the
// concrete chain client matching a chain ID.
type Dispatcher struct {
	localChain string
	evmClient  *evm.Client
	evmChainID string
	cosmos     map[string]*cosmos.Client // chainID -> client
	registry   Registry
}

// New constructs a Dispatcher. cosmosClients maps each configured Cosmos
// chain ID to its client.
func New(localChain string, evmChainID string, evmClient *evm.Client, cosmosClients map[string]*cosmos.Client, registry Registry) *Dispatcher {
	return &Dispatcher{
		localChain: localChain,
		evmClient:  evmClient,
		evmChainID: evmChainID,
		cosmos:     cosmosClients,
		registry:   registry,
	}
}

// CreateLocalHTLC implements relay.Transferer for a direct single-hop
// relay whose target is this node's local chain.
func (d *Dispatcher) CreateLocalHTLC(ctx context.Context, relay *types.PendingRelay) error {
	if relay.TargetChain == d.evmChainID {
		return d.createEVMHTLC(ctx, relay)
	}
	if client, ok := d.cosmos[relay.TargetChain]; ok {
		return d.createCosmosHTLC(ctx, client, relay)
	}
	return fmt.Errorf("transfer: no client configured for local chain %q", relay.TargetChain)
}

func (d *Dispatcher) createEVMHTLC(ctx context.Context, relay *types.PendingRelay) error {
	contractAddr, ok := d.registry.GetRouter(relay.TargetChain)
	if !ok {
		return errs.ErrUnknownIntermediate
	}

	hashlock, err := decodeHashlock(relay.Hashlock)
	if err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(relay.Amount, 10)
	if !ok {
		return fmt.Errorf("transfer: invalid amount %q", relay.Amount)
	}

	var token common.Address
	if relay.Token != "" {
		token = common.HexToAddress(relay.Token)
	}

	_, htlcID, err := d.evmClient.CreateHTLC(ctx, common.HexToAddress(contractAddr),
		common.HexToAddress(relay.Receiver), hashlock, relay.Timelock, token, amount)
	if err != nil {
		return err
	}
	relay.DestChain = relay.TargetChain
	relay.DestHTLCID = htlcID.Hex()
	return nil
}

func (d *Dispatcher) createCosmosHTLC(ctx context.Context, client *cosmos.Client, relay *types.PendingRelay) error {
	coins, err := cosmos.ParseAmount(relay.Amount)
	if err != nil {
		return err
	}
	if len(coins) == 0 {
		return fmt.Errorf("transfer: empty coin set for relay %s", relay.RelayID)
	}

	// A direct (non-forwarded) Cosmos-targeted relay still travels as an
	// ICS-20 transfer whose memo is relay.HTLCID; the channel/port must
	// already be on file in the registry as this chain's router entry in
	// the form "port/channel".
	portChan, ok := d.registry.GetRouter(relay.TargetChain)
	if !ok {
		return errs.ErrUnknownIntermediate
	}
	port, channel, err := splitPortChannel(portChan)
	if err != nil {
		return err
	}

	_, err = client.SendTransfer(ctx, port, channel, coins[0], relay.Sender, relay.Receiver,
		relay.HTLCID, uint64(relay.Timelock))
	if err != nil {
		return err
	}
	// The outbound transfer carries relay.HTLCID as the explicit contract
	// id (see cosmos.Client.SendTransfer), so it doubles as the
	// relayer-originated id recovery needs to refund against.
	relay.DestChain = relay.TargetChain
	relay.DestHTLCID = relay.HTLCID
	return nil
}

// SendIBCTransfer implements relay.Transferer for a multi-hop relay: it
// submits the first hop of plan's cascade carrying the nested forward
// memo, and returns the packet the ack handler should track.
func (d *Dispatcher) SendIBCTransfer(ctx context.Context, relay *types.PendingRelay, plan *pfm.Plan) (types.Packet, error) {
	if len(plan.Hops) == 0 {
		return types.Packet{}, fmt.Errorf("transfer: plan has no hops")
	}
	first := plan.Hops[0]

	client, ok := d.cosmos[plan.Route.Source()]
	if !ok {
		// The first hop departs from the local EVM chain; bridge onto the
		// first Cosmos leg via the registry-resolved IBC entrypoint.
		return d.sendFromEVM(ctx, relay, plan, first)
	}

	coins, err := cosmos.ParseAmount(relay.Amount)
	if err != nil {
		return types.Packet{}, err
	}
	if len(coins) == 0 {
		return types.Packet{}, fmt.Errorf("transfer: empty coin set for relay %s", relay.RelayID)
	}

	_, err = client.SendTransfer(ctx, first.Channel.PortID, first.Channel.ChannelID,
		coins[0], relay.Sender, first.Receiver, string(plan.MemoJSON), uint64(first.TimeoutUnix))
	if err != nil {
		return types.Packet{}, err
	}

	return types.Packet{
		SourcePort:       first.Channel.PortID,
		SourceChannel:    first.Channel.ChannelID,
		DestPort:         first.Channel.Counterparty.PortID,
		DestChannel:      first.Channel.Counterparty.ChannelID,
		Data:             plan.MemoJSON,
		TimeoutTimestamp: first.TimeoutUnix,
	}, nil
}

func (d *Dispatcher) sendFromEVM(ctx context.Context, relay *types.PendingRelay, plan *pfm.Plan, first pfm.HopPlan) (types.Packet, error) {
	contractAddr, ok := d.registry.GetRouter(d.evmChainID)
	if !ok {
		return types.Packet{}, errs.ErrUnknownIntermediate
	}

	hashlock, err := decodeHashlock(relay.Hashlock)
	if err != nil {
		return types.Packet{}, err
	}
	amount, ok := new(big.Int).SetString(relay.Amount, 10)
	if !ok {
		return types.Packet{}, fmt.Errorf("transfer: invalid amount %q", relay.Amount)
	}
	var token common.Address
	if relay.Token != "" {
		token = common.HexToAddress(relay.Token)
	}

	_, htlcID, err := d.evmClient.CreateHTLC(ctx, common.HexToAddress(contractAddr),
		common.HexToAddress(first.Receiver), hashlock, first.TimeoutUnix, token, amount)
	if err != nil {
		return types.Packet{}, err
	}
	relay.DestChain = d.evmChainID
	relay.DestHTLCID = htlcID.Hex()

	return types.Packet{
		SourcePort:       first.Channel.PortID,
		SourceChannel:    first.Channel.ChannelID,
		DestPort:         first.Channel.Counterparty.PortID,
		DestChannel:      first.Channel.Counterparty.ChannelID,
		Data:             plan.MemoJSON,
		TimeoutTimestamp: first.TimeoutUnix,
	}, nil
}

// Refund implements recovery.Refunder, dispatching to whichever chain
// client owns chainID.
func (d *Dispatcher) Refund(ctx context.Context, chainID, htlcID string) error {
	if chainID == d.evmChainID {
		contractAddr, ok := d.registry.GetRouter(chainID)
		if !ok {
			return errs.ErrUnknownIntermediate
		}
		id, err := decodeHashlock(htlcID)
		if err != nil {
			return err
		}
		_, err = d.evmClient.Refund(ctx, common.HexToAddress(contractAddr), id)
		return err
	}

	client, ok := d.cosmos[chainID]
	if !ok {
		return fmt.Errorf("transfer: no client configured for chain %q", chainID)
	}
	contractAddr, ok := d.registry.GetRouter(chainID)
	if !ok {
		return errs.ErrUnknownIntermediate
	}
	_, err := client.ExecuteRefund(ctx, sdk.MustAccAddressFromBech32(contractAddr), "", htlcID)
	return err
}

func decodeHashlock(h string) ([32]byte, error) {
	var out [32]byte
	clean := strings.TrimPrefix(h, "0x")
	raw, err := hex.DecodeString(clean)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("transfer: malformed 32-byte hex value %q", h)
	}
	copy(out[:], raw)
	return out, nil
}

func splitPortChannel(s string) (port, channel string, err error) {
	idx := strings.IndexByte(s, '/')
	if idx < 0 {
		return "", "", fmt.Errorf("transfer: router entry %q is not port/channel", s)
	}
	return s[:idx], s[idx+1:], nil
}
