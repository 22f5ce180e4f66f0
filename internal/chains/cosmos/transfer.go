package cosmos

import (
	"context"
	"fmt"

	sdk "github.com/cosmos/cosmos-sdk/types"
	transfertypes "github.com/cosmos/ibc-go/v3/modules/apps/transfer/types"
	clienttypes "github.com/cosmos/ibc-go/v3/modules/core/02-client/types"
	rpchttp "github.com/tendermint/tendermint/rpc/client/http"
	"go.uber.org/zap"

	"github.com/htlcrelay/relayer/internal/log"
)

// TxBroadcaster builds and signs the two message shapes the relayer
// submits itself, abstracting the cosmos-sdk keyring/signing pipeline a
// concrete deployment wires in (spec §1 scope: signing key management is
// an operational concern of the deployment, not this relayer's domain
// logic). The wasm execute-contract message is built behind this
// boundary too, since the wasm contract proto types are not part of this
// module's locked dependency set.
type TxBroadcaster interface {
	BuildAndSignTransfer(ctx context.Context, msg *transfertypes.MsgTransfer) ([]byte, error)
	BuildAndSignWasmExec(ctx context.Context, sender, contract string, execMsg []byte) ([]byte, error)
}

// Client submits IBC transfers and wasm refund executions on a Cosmos
// chain, implementing the cosmos-side leg of relay.Transferer and
// recovery.Refunder.
type Client struct {
	rpc    *rpchttp.HTTP
	signer TxBroadcaster
	log    *zap.SugaredLogger
}

// NewClient wraps an already-dialed Tendermint RPC client with a
// transaction signer.
func NewClient(rpc *rpchttp.HTTP, signer TxBroadcaster) *Client {
	zl, _ := zap.NewProduction()
	return &Client{rpc: rpc, signer: signer, log: zl.Sugar()}
}

// SendTransfer submits an ICS-20 MsgTransfer carrying memo on the given
// port/channel, the cosmos-side analogue of evm.Client.CreateHTLC for a
// relay whose next hop (or final destination) is this chain.
func (c *Client) SendTransfer(ctx context.Context, sourcePort, sourceChannel string,
	token sdk.Coin, sender, receiver, memo string, timeoutUnix uint64) (string, error) {

	msg := &transfertypes.MsgTransfer{
		SourcePort:    sourcePort,
		SourceChannel: sourceChannel,
		Token:         token,
		Sender:        sender,
		Receiver:      receiver,
		TimeoutHeight: clienttypes.ZeroHeight(),
		TimeoutTimestamp: timeoutUnix * 1_000_000_000,
		Memo:          memo,
	}

	raw, err := c.signer.BuildAndSignTransfer(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("cosmos: sign MsgTransfer: %w", err)
	}

	result, err := c.rpc.BroadcastTxSync(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("cosmos: broadcast MsgTransfer: %w", err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("cosmos: MsgTransfer rejected: code %d: %s", result.Code, result.Log)
	}

	c.log.Infow("submitted IBC transfer",
		"txHash", result.Hash.String(), "port", sourcePort, "channel", sourceChannel)
	log.Monitor.Infof("submitted cosmos tx %s on %s/%s", result.Hash.String(), sourcePort, sourceChannel)
	return result.Hash.String(), nil
}

// ExecuteRefund submits a wasm contract execution reclaiming a timed-out
// HTLC; transfer.Dispatcher's Refund calls it for Cosmos chains.
func (c *Client) ExecuteRefund(ctx context.Context, contract sdk.AccAddress, sender string, htlcID string) (string, error) {
	execMsg := []byte(fmt.Sprintf(`{"refund":{"htlc_id":%q}}`, htlcID))

	raw, err := c.signer.BuildAndSignWasmExec(ctx, sender, contract.String(), execMsg)
	if err != nil {
		return "", fmt.Errorf("cosmos: sign refund exec: %w", err)
	}

	result, err := c.rpc.BroadcastTxSync(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("cosmos: broadcast refund exec: %w", err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("cosmos: refund exec rejected: code %d: %s", result.Code, result.Log)
	}

	return result.Hash.String(), nil
}
