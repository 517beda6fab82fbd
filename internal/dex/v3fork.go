package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ajna-keeper/keeperbot/internal/chain"
	"github.com/ajna-keeper/keeperbot/internal/config"
	"github.com/ajna-keeper/keeperbot/internal/wad"
)

// V3ForkProvider implements Provider against direct router+quoter contracts
// of a Uniswap-v3 fork: it bypasses the quoter when unavailable and
// computes a conservative min-out instead. It shares the v3 ABI fragments
// since forks typically preserve the interface shape, but treats the
// quoter as optional.
type V3ForkProvider struct {
	cfg      config.V3ForkConfig
	client   chain.Client
	executor SmartContractExecutor
}

// NewV3ForkProvider constructs a Provider for a V3-fork deployment.
func NewV3ForkProvider(cfg config.V3ForkConfig, client chain.Client, executor SmartContractExecutor) *V3ForkProvider {
	return &V3ForkProvider{cfg: cfg, client: client, executor: executor}
}

func (p *V3ForkProvider) Quote(ctx context.Context, req SwapRequest) (wad.WAD, error) {
	if p.cfg.Quoter == "" {
		return wad.Zero, fmt.Errorf("%w: v3-fork has no quoter configured", ErrNoQuote)
	}

	calldata, err := quoterABI.Pack("quoteExactInputSingle", quoteExactInputSingleParams{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountIn:          req.Amount.BigInt(),
		Fee:               big.NewInt(int64(p.feeTier(req))),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return wad.Zero, err
	}

	quoter := common.HexToAddress(p.cfg.Quoter)
	out, err := p.client.CallContract(ctx, chain.CallMsg{To: &quoter, Data: calldata})
	if err != nil {
		return wad.Zero, fmt.Errorf("%w: %s", ErrNoQuote, err)
	}
	results, err := quoterABI.Unpack("quoteExactInputSingle", out)
	if err != nil || len(results) == 0 {
		return wad.Zero, fmt.Errorf("%w: malformed quoter response", ErrNoQuote)
	}
	amountOut, ok := results[0].(*big.Int)
	if !ok {
		return wad.Zero, fmt.Errorf("%w: unexpected quoter response type", ErrNoQuote)
	}
	return wad.FromBigInt(amountOut)
}

// Swap builds the exactInputSingle calldata directly, bypassing the quoter
// entirely when it is unavailable and instead applying a conservative
// minimum-out of the full requested amount reduced only by slippage (no
// expected-output assumption).
func (p *V3ForkProvider) Swap(ctx context.Context, req SwapRequest) (Receipt, error) {
	if p.cfg.Router == "" {
		return Receipt{}, fmt.Errorf("dex: v3-fork router not configured")
	}
	if p.executor == nil {
		return Receipt{}, fmt.Errorf("dex: v3-fork provider has no executor configured")
	}

	expected, err := p.Quote(ctx, req)
	if err != nil {
		if !errors.Is(err, ErrNoQuote) {
			return Receipt{}, err
		}
		expected = req.Amount // conservative: assume 1:1 before slippage
	}
	minOut, err := MinimumOut(expected, req.Slippage)
	if err != nil {
		return Receipt{}, err
	}

	calldata, err := routerABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		Fee:               big.NewInt(int64(p.feeTier(req))),
		Recipient:         req.Recipient,
		AmountIn:          req.Amount.BigInt(),
		AmountOutMinimum:  minOut.BigInt(),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return Receipt{}, err
	}

	router := common.HexToAddress(p.cfg.Router)
	return p.executor.Call(ctx, router, calldata)
}

func (p *V3ForkProvider) feeTier(req SwapRequest) uint32 {
	if req.FeeTier != nil {
		return *req.FeeTier
	}
	return p.cfg.DefaultFeeTier
}

