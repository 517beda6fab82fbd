// Package executor is the wiring-layer seam that turns calldata into a
// signed, broadcast, confirmed transaction for the bot's single operating
// account. It implements every Broadcaster shape the engine packages
// declare (kick, take, bond, settlement, reward all use the identical
// Send(ctx, to, calldata, assignedNonce) shape) plus the capability
// interfaces internal/dex declares for its providers (SmartContractExecutor,
// RawTxSender) and internal/rewardqueue's Transferrer. Follows an
// EIP-1559 fee suggestion, explicit nonce, wait-for-receipt transaction
// style generalized from one hardcoded call shape to arbitrary calldata.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ajna-keeper/keeperbot/internal/chain"
	"github.com/ajna-keeper/keeperbot/internal/dex"
	"github.com/ajna-keeper/keeperbot/internal/nonce"
	"github.com/ajna-keeper/keeperbot/internal/wad"
)

var erc20ABI = mustParseABI(`[
	{"name":"transfer","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// TxSender builds, signs, broadcasts, and confirms calldata against to,
// using EIP-1559 fee suggestion from chain.Client and the account unlocked
// from internal/keystore.
type TxSender struct {
	logger         *slog.Logger
	client         chain.Client
	signer         chain.Signer
	pipeline       *nonce.Pipeline
	chainID        *big.Int
	gasLimit       uint64
	confirmTimeout time.Duration
}

// New constructs a TxSender. gasLimit is a flat per-call gas budget, since
// no per-operation gas estimation is wired; confirmTimeout bounds
// WaitMined, applied uniformly across call types (swap confirmations are
// bounded at 120s; no other call type names a distinct bound).
func New(logger *slog.Logger, client chain.Client, signer chain.Signer, pipeline *nonce.Pipeline, chainID *big.Int, gasLimit uint64, confirmTimeout time.Duration) *TxSender {
	return &TxSender{
		logger:         logger,
		client:         client,
		signer:         signer,
		pipeline:       pipeline,
		chainID:        chainID,
		gasLimit:       gasLimit,
		confirmTimeout: confirmTimeout,
	}
}

// Send signs and broadcasts one call using an externally-assigned nonce
// (the shape kick/take/bond/settlement/reward engines wrap in their own
// Submitter.Submit call). Satisfies every engine package's Broadcaster
// interface.
func (t *TxSender) Send(ctx context.Context, to common.Address, calldata []byte, assignedNonce uint64) error {
	_, err := t.sendAndWait(ctx, to, calldata, assignedNonce, nil)
	return err
}

// Call builds, signs, sends, and confirms one state-changing contract call,
// self-assigning its nonce through the pipeline. Satisfies
// internal/dex.SmartContractExecutor, used by DEX providers invoked
// directly (not already wrapped in a Submit call) from
// internal/rewardqueue's exchange path.
func (t *TxSender) Call(ctx context.Context, to common.Address, calldata []byte) (dex.Receipt, error) {
	var receipt *types.Receipt
	err := t.pipeline.Submit(ctx, func(ctx context.Context, assigned uint64) error {
		r, err := t.sendAndWait(ctx, to, calldata, assigned, nil)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return dex.Receipt{}, err
	}
	// Decoding the swapped-out amount requires parsing the target token's
	// Transfer log, which is provider-specific (the output token varies per
	// request); providers that need AmountOut compute it from their own
	// pre-swap Quote call instead of this generic receipt.
	return dex.Receipt{TxHash: receipt.TxHash}, nil
}

// SendRaw satisfies internal/dex.RawTxSender (the aggregator provider's
// already-encoded transaction, which may carry native-token value).
func (t *TxSender) SendRaw(ctx context.Context, to common.Address, calldata []byte, value *big.Int) (dex.Receipt, error) {
	var receipt *types.Receipt
	err := t.pipeline.Submit(ctx, func(ctx context.Context, assigned uint64) error {
		r, err := t.sendAndWait(ctx, to, calldata, assigned, value)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return dex.Receipt{}, err
	}
	return dex.Receipt{TxHash: receipt.TxHash}, nil
}

// Transfer satisfies internal/rewardqueue.Transferrer: an ERC20
// transfer(to, amount) self-submitted through the nonce pipeline.
func (t *TxSender) Transfer(ctx context.Context, token, to common.Address, amount wad.WAD) error {
	calldata, err := erc20ABI.Pack("transfer", to, amount.BigInt())
	if err != nil {
		return fmt.Errorf("executor: encode transfer: %w", err)
	}
	return t.pipeline.Submit(ctx, func(ctx context.Context, assigned uint64) error {
		return t.Send(ctx, token, calldata, assigned)
	})
}

func (t *TxSender) sendAndWait(ctx context.Context, to common.Address, calldata []byte, assignedNonce uint64, value *big.Int) (*types.Receipt, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	tipCap, err := t.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor: suggest gas tip cap: %w", err)
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor: suggest gas price: %w", err)
	}
	feeCap := new(big.Int).Add(gasPrice, tipCap)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   t.chainID,
		Nonce:     assignedNonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       t.gasLimit,
		To:        &to,
		Value:     value,
		Data:      calldata,
	})

	signed, err := t.signer.SignTx(tx, t.chainID)
	if err != nil {
		return nil, fmt.Errorf("executor: sign: %w", err)
	}
	if err := t.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("executor: send: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.confirmTimeout)
	defer cancel()
	receipt, err := t.client.WaitMined(waitCtx, signed)
	if err != nil {
		return nil, fmt.Errorf("executor: wait mined %s: %w", signed.Hash(), err)
	}
	t.logger.Debug("transaction confirmed", "to", to.Hex(), "nonce", assignedNonce, "tx_hash", signed.Hash().Hex(), "status", receipt.Status)
	return receipt, nil
}
