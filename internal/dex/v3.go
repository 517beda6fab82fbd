package dex

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ajna-keeper/keeperbot/internal/chain"
	"github.com/ajna-keeper/keeperbot/internal/config"
	"github.com/ajna-keeper/keeperbot/internal/wad"
)

// quoterABI is the minimal Uniswap-v3-style QuoterV2 `quoteExactInputSingle`
// signature, used read-only to compute implied market prices for the Take
// Engine.
var quoterABI = mustParseABI(`[
	{"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"params","type":"tuple","components":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"fee","type":"uint24"},
		{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
	 "outputs":[{"name":"amountOut","type":"uint256"},{"name":"","type":"uint160"},{"name":"","type":"uint32"},{"name":"","type":"uint256"}]}
]`)

// routerABI is the minimal Uniswap-v3-style SwapRouter02
// `exactInputSingle` signature used to build swap calldata.
var routerABI = mustParseABI(`[
	{"name":"exactInputSingle","type":"function","stateMutability":"payable",
	 "inputs":[{"name":"params","type":"tuple","components":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"fee","type":"uint24"},
		{"name":"recipient","type":"address"},
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMinimum","type":"uint256"},
		{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
	 "outputs":[{"name":"amountOut","type":"uint256"}]}
]`)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// V3Provider implements Provider against a Uniswap-v3-shaped
// router+quoter+permit2 deployment.
type V3Provider struct {
	cfg      config.UniswapV3Config
	client   chain.Client
	executor SmartContractExecutor
}

// SmartContractExecutor builds, signs, and sends one contract call. Both
// the Single-contract and Factory helper-contract deployment shapes are
// represented off-chain by distinct SmartContractExecutor implementations
// bound at wiring time.
type SmartContractExecutor interface {
	Call(ctx context.Context, to common.Address, calldata []byte) (Receipt, error)
}

// NewV3Provider constructs a Provider for a Uniswap-v3-style deployment.
func NewV3Provider(cfg config.UniswapV3Config, client chain.Client, executor SmartContractExecutor) *V3Provider {
	return &V3Provider{cfg: cfg, client: client, executor: executor}
}

func (p *V3Provider) Quote(ctx context.Context, req SwapRequest) (wad.WAD, error) {
	if p.cfg.Quoter == "" {
		return wad.Zero, fmt.Errorf("%w: v3 quoter not configured", ErrNoQuote)
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

func (p *V3Provider) Swap(ctx context.Context, req SwapRequest) (Receipt, error) {
	if p.cfg.Router == "" {
		return Receipt{}, fmt.Errorf("dex: v3 router not configured")
	}
	if p.executor == nil {
		return Receipt{}, fmt.Errorf("dex: v3 provider has no executor configured")
	}

	quoted, err := p.Quote(ctx, req)
	if err != nil {
		return Receipt{}, err
	}
	minOut, err := MinimumOut(quoted, req.Slippage)
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

func (p *V3Provider) feeTier(req SwapRequest) uint32 {
	if req.FeeTier != nil {
		return *req.FeeTier
	}
	return p.cfg.DefaultFeeTier
}
