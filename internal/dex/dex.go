// Package dex implements the DEX Router and its Quote Providers: a
// uniform swap/quote capability backed by one of several interchangeable
// on-chain/HTTP providers, selected at runtime from configuration. Each
// provider is an independent implementation behind the same interface;
// the Router dispatches on the configured variant rather than chaining
// null checks, following the package's sentinel-error vocabulary and
// struct-held-dependency construction style.
package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ajna-keeper/keeperbot/internal/config"
	"github.com/ajna-keeper/keeperbot/internal/wad"
)

var (
	// ErrNoQuote is returned by Provider implementations that cannot produce
	// a quote (e.g. a V3-fork pool with no on-chain quoter deployed); the
	// caller falls back to a conservative assumed-output.
	ErrNoQuote = errors.New("dex: quote unavailable")
	// ErrUnsupportedProvider is returned when SmartDexManager / Router have
	// no provider wired for a configured liquidity source.
	ErrUnsupportedProvider = errors.New("dex: unsupported liquidity source")
)

// SwapRequest parameterizes one swap or quote call.
type SwapRequest struct {
	ChainID   *big.Int
	Amount    wad.WAD
	TokenIn   common.Address
	TokenOut  common.Address
	Recipient common.Address
	Provider  config.LiquiditySource
	Slippage  float64
	FeeTier   *uint32
}

// Receipt is the outcome of an executed swap.
type Receipt struct {
	TxHash     common.Hash
	AmountOut  wad.WAD
}

// Provider is the capability every DEX integration implements: a read-only
// quote and an executing swap, both over the same request shape.
type Provider interface {
	Quote(ctx context.Context, req SwapRequest) (wad.WAD, error)
	Swap(ctx context.Context, req SwapRequest) (Receipt, error)
}

// Router dispatches a SwapRequest to the Provider registered for its
// liquidity source.
type Router struct {
	providers map[config.LiquiditySource]Provider
}

// NewRouter constructs a Router from a liquidity-source -> Provider map.
// Entries the deployment doesn't configure (e.g. Curve left unconfigured)
// are simply absent; Quote/Swap then return ErrUnsupportedProvider.
func NewRouter(providers map[config.LiquiditySource]Provider) *Router {
	return &Router{providers: providers}
}

func (r *Router) resolve(source config.LiquiditySource) (Provider, error) {
	p, ok := r.providers[source]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, source)
	}
	return p, nil
}

// Quote returns a read-only price estimate without executing a transaction.
// Used by the Take Engine's External Take mode to compute implied market
// prices.
func (r *Router) Quote(ctx context.Context, req SwapRequest) (wad.WAD, error) {
	p, err := r.resolve(req.Provider)
	if err != nil {
		return wad.Zero, err
	}
	return p.Quote(ctx, req)
}

// Swap executes req against its configured provider, which applies a
// minimum-out derived from the quote and slippage and submits through the
// nonce pipeline via its executor (Router itself holds no nonce state,
// since the process has a single signing account and a single nonce
// owner). No ERC-20 allowance check or approval transaction is made before
// the swap.
func (r *Router) Swap(ctx context.Context, req SwapRequest) (Receipt, error) {
	p, err := r.resolve(req.Provider)
	if err != nil {
		return Receipt{}, err
	}
	return p.Swap(ctx, req)
}

// MinimumOut applies slippage tolerance to a quoted (or conservatively
// assumed) output amount.
func MinimumOut(quoted wad.WAD, slippage float64) (wad.WAD, error) {
	if slippage < 0 || slippage >= 1 {
		return wad.Zero, fmt.Errorf("dex: slippage must be in [0,1), got %f", slippage)
	}
	factor, err := wad.FromFloat64(1 - slippage)
	if err != nil {
		return wad.Zero, err
	}
	return quoted.Mul(factor), nil
}
