package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/htlcrelay/relayer/internal/log"
)

// htlcABIJSON describes only the two calls the relayer submits itself;
// the full contract ABI belongs to whatever HTLC contract a deployment
// targets.
const htlcABIJSON = `[
  {"name":"createHTLC","type":"function","stateMutability":"payable",
   "inputs":[{"name":"receiver","type":"address"},{"name":"hashlock","type":"bytes32"},
             {"name":"timelock","type":"uint256"},{"name":"token","type":"address"},
             {"name":"amount","type":"uint256"}]},
  {"name":"refund","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"htlcId","type":"bytes32"}]}
]`

// Client submits HTLC-creation and refund transactions to an EVM chain.
// transfer.Dispatcher calls it to implement the evm side of
// relay.Transferer and recovery.Refunder.
type Client struct {
	rpc     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	htlcABI abi.ABI
	gasTip  *big.Int
}

// NewClient wraps an already-dialed ethclient.Client with the signing key
// used to submit relayer-originated transactions (HTLC creation, refund).
func NewClient(rpc *ethclient.Client, chainID *big.Int, key *ecdsa.PrivateKey) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(htlcABIJSON))
	if err != nil {
		return nil, fmt.Errorf("evm: parse htlc abi: %w", err)
	}
	return &Client{
		rpc:     rpc,
		chainID: chainID,
		key:     key,
		htlcABI: parsed,
		gasTip:  big.NewInt(1_500_000_000), // 1.5 gwei default priority fee
	}, nil
}

// contractAddress is supplied per-call so one Client can serve multiple
// HTLC contract deployments if ever needed; callers pass it through the
// relay's TargetChain-resolved contract address.
func (c *Client) send(ctx context.Context, contract common.Address, value *big.Int, data []byte) (common.Hash, error) {
	from := crypto.PubkeyToAddress(c.key.PublicKey)

	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: nonce: %w", err)
	}

	gasTipCap := c.gasTip
	head, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: head header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	gasFeeCap := new(big.Int).Add(baseFee, new(big.Int).Mul(gasTipCap, big.NewInt(2)))

	msg := ethereum.CallMsg{From: from, To: &contract, Value: value, Data: data}
	gasLimit, err := c.rpc.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit + gasLimit/5, // 20% headroom
		To:        &contract,
		Value:     value,
		Data:      data,
	})

	signer := types.LatestSignerForChainID(c.chainID)
	signedTx, err := types.SignTx(tx, signer, c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: sign tx: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("evm: send tx: %w", err)
	}

	log.Monitor.Infof("submitted evm tx %s to %s", signedTx.Hash().Hex(), contract.Hex())
	return signedTx.Hash(), nil
}

// computeHTLCID derives the contract id a createHTLC call will assign,
// the same way the reference HashedTimelock contracts do it:
// keccak256(abi.encodePacked(sender, receiver, amount, hashlock, timelock)).
// The synthetic createHTLC call has no return value to read an id back
// from, so the relayer has to compute it client-side before submitting.
func computeHTLCID(sender, receiver common.Address, amount *big.Int, hashlock [32]byte, timelock int64) common.Hash {
	buf := make([]byte, 0, 20+20+32+32+32)
	buf = append(buf, sender.Bytes()...)
	buf = append(buf, receiver.Bytes()...)
	buf = append(buf, common.LeftPadBytes(amount.Bytes(), 32)...)
	buf = append(buf, hashlock[:]...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(timelock).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// CreateHTLC submits a createHTLC transaction, implementing the direct
// single-hop leg of relay.Transferer when the target chain is this EVM
// chain. It returns both the submission tx hash and the contract id the
// new HTLC will be stored under, so the caller can record it as the
// relayer's own refund target (see recovery.Refunder).
func (c *Client) CreateHTLC(ctx context.Context, contract common.Address, receiver common.Address,
	hashlock [32]byte, timelock int64, token common.Address, amount *big.Int) (common.Hash, common.Hash, error) {

	data, err := c.htlcABI.Pack("createHTLC", receiver, hashlock, big.NewInt(timelock), token, amount)
	if err != nil {
		return common.Hash{}, common.Hash{}, fmt.Errorf("evm: pack createHTLC: %w", err)
	}

	value := big.NewInt(0)
	if token == (common.Address{}) {
		value = amount
	}

	from := crypto.PubkeyToAddress(c.key.PublicKey)
	htlcID := computeHTLCID(from, receiver, amount, hashlock, timelock)

	txHash, err := c.send(ctx, contract, value, data)
	if err != nil {
		return common.Hash{}, common.Hash{}, err
	}
	return txHash, htlcID, nil
}

// Refund submits a refund transaction for htlcID; transfer.Dispatcher's
// Refund calls it for the EVM chain.
func (c *Client) Refund(ctx context.Context, contract common.Address, htlcID [32]byte) (common.Hash, error) {
	data, err := c.htlcABI.Pack("refund", htlcID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: pack refund: %w", err)
	}
	return c.send(ctx, contract, big.NewInt(0), data)
}
