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

// curveStableABI/curveCryptoABI select the ABI by pool_type, since stable
// and crypto Curve pools expose `get_dy`/`exchange` with different index
// argument types (int128 vs uint256).
var curveStableABI = mustParseABI(`[
	{"name":"get_dy","type":"function","stateMutability":"view",
	 "inputs":[{"name":"i","type":"int128"},{"name":"j","type":"int128"},{"name":"dx","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"exchange","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"i","type":"int128"},{"name":"j","type":"int128"},{"name":"dx","type":"uint256"},{"name":"min_dy","type":"uint256"}],
	 "outputs":[]}
]`)

var curveCryptoABI = mustParseABI(`[
	{"name":"get_dy","type":"function","stateMutability":"view",
	 "inputs":[{"name":"i","type":"uint256"},{"name":"j","type":"uint256"},{"name":"dx","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"exchange","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"i","type":"uint256"},{"name":"j","type":"uint256"},{"name":"dx","type":"uint256"},{"name":"min_dy","type":"uint256"}],
	 "outputs":[]}
]`)

// TokenIndexer resolves a pool's token addresses to their Curve pool
// coin indices; concrete Curve pool metadata is protocol-specific and
// supplied by the wiring layer.
type TokenIndexer interface {
	CoinIndex(pair string, token common.Address) (int64, error)
}

// CurveProvider implements Provider against a Curve stable or crypto pool,
// selected per trading pair by config.
type CurveProvider struct {
	cfg      config.CurveConfig
	client   chain.Client
	executor SmartContractExecutor
	indexer  TokenIndexer
}

// NewCurveProvider constructs a Provider over the configured Curve pools.
func NewCurveProvider(cfg config.CurveConfig, client chain.Client, executor SmartContractExecutor, indexer TokenIndexer) *CurveProvider {
	return &CurveProvider{cfg: cfg, client: client, executor: executor, indexer: indexer}
}

func (p *CurveProvider) poolFor(tokenIn, tokenOut common.Address) (config.CurvePoolConfig, string, abi.ABI, error) {
	pair := strings.ToLower(tokenIn.Hex()) + "-" + strings.ToLower(tokenOut.Hex())
	for key, pool := range p.cfg.PoolConfigs {
		if !strings.EqualFold(key, pair) && !strings.EqualFold(key, tokenOut.Hex()+"-"+tokenIn.Hex()) {
			continue
		}
		switch pool.PoolType {
		case config.CurveStable:
			return pool, key, curveStableABI, nil
		case config.CurveCrypto:
			return pool, key, curveCryptoABI, nil
		default:
			return config.CurvePoolConfig{}, "", abi.ABI{}, fmt.Errorf("dex: curve pool %q has unknown pool_type %q", key, pool.PoolType)
		}
	}
	return config.CurvePoolConfig{}, "", abi.ABI{}, fmt.Errorf("dex: no curve pool configured for pair %s", pair)
}

func (p *CurveProvider) Quote(ctx context.Context, req SwapRequest) (wad.WAD, error) {
	pool, pair, poolABI, err := p.poolFor(req.TokenIn, req.TokenOut)
	if err != nil {
		return wad.Zero, err
	}
	i, j, err := p.indices(pair, req)
	if err != nil {
		return wad.Zero, err
	}

	calldata, err := poolABI.Pack("get_dy", i, j, req.Amount.BigInt())
	if err != nil {
		return wad.Zero, err
	}

	addr := common.HexToAddress(pool.Address)
	out, err := p.client.CallContract(ctx, chain.CallMsg{To: &addr, Data: calldata})
	if err != nil {
		return wad.Zero, fmt.Errorf("%w: %s", ErrNoQuote, err)
	}
	results, err := poolABI.Unpack("get_dy", out)
	if err != nil || len(results) == 0 {
		return wad.Zero, fmt.Errorf("%w: malformed get_dy response", ErrNoQuote)
	}
	amountOut, ok := results[0].(*big.Int)
	if !ok {
		return wad.Zero, fmt.Errorf("%w: unexpected get_dy response type", ErrNoQuote)
	}
	return wad.FromBigInt(amountOut)
}

func (p *CurveProvider) Swap(ctx context.Context, req SwapRequest) (Receipt, error) {
	if p.executor == nil {
		return Receipt{}, fmt.Errorf("dex: curve provider has no executor configured")
	}
	pool, pair, poolABI, err := p.poolFor(req.TokenIn, req.TokenOut)
	if err != nil {
		return Receipt{}, err
	}
	i, j, err := p.indices(pair, req)
	if err != nil {
		return Receipt{}, err
	}

	quoted, err := p.Quote(ctx, req)
	if err != nil {
		return Receipt{}, err
	}
	minOut, err := MinimumOut(quoted, req.Slippage)
	if err != nil {
		return Receipt{}, err
	}

	calldata, err := poolABI.Pack("exchange", i, j, req.Amount.BigInt(), minOut.BigInt())
	if err != nil {
		return Receipt{}, err
	}

	addr := common.HexToAddress(pool.Address)
	return p.executor.Call(ctx, addr, calldata)
}

// indices resolves the Curve pool coin indices for req, boxed to the ABI's
// expected integer width (int128 for stable pools, uint256 for crypto).
func (p *CurveProvider) indices(pair string, req SwapRequest) (any, any, error) {
	if p.indexer == nil {
		return nil, nil, fmt.Errorf("dex: curve provider has no token indexer configured")
	}
	i, err := p.indexer.CoinIndex(pair, req.TokenIn)
	if err != nil {
		return nil, nil, err
	}
	j, err := p.indexer.CoinIndex(pair, req.TokenOut)
	if err != nil {
		return nil, nil, err
	}
	return big.NewInt(i), big.NewInt(j), nil
}
