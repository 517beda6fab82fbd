// Package take implements the Take Engine: ArbTake against the pool's own
// highest-price bucket, and External Take routed through a DEX-quoted
// market price and an on-chain helper contract. Structured as a
// sentinel-error, struct-held-dependency orchestrator, driven by a
// subgraph scan with two dispatchable strategies.
package take

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ajna-keeper/keeperbot/internal/config"
	"github.com/ajna-keeper/keeperbot/internal/dex"
	"github.com/ajna-keeper/keeperbot/internal/sdk"
	"github.com/ajna-keeper/keeperbot/internal/subgraph"
	"github.com/ajna-keeper/keeperbot/internal/wad"
)

var errNoPolicy = errors.New("take: pool has no take policy configured")

// Submitter sends a built transaction through the nonce pipeline.
type Submitter interface {
	Submit(ctx context.Context, fn func(ctx context.Context, assignedNonce uint64) error) error
}

// Broadcaster signs and sends one already-built contract call.
type Broadcaster interface {
	Send(ctx context.Context, to common.Address, calldata []byte, assignedNonce uint64) error
}

// Engine runs one Take pass (ArbTake and/or External Take) for one pool.
type Engine struct {
	logger     *slog.Logger
	subgraph   subgraph.Client
	router     *dex.Router
	submitter  Submitter
	broadcast  Broadcaster
	deployment config.DeploymentType
	dryRun     bool
}

// NewEngine constructs a Take Engine. deployment is the external-take
// helper-contract deployment shape (config.DeploymentNone disables the
// External Take strategy for every pool this engine runs, regardless of
// per-pool policy).
func NewEngine(logger *slog.Logger, subgraphClient subgraph.Client, router *dex.Router, submitter Submitter, broadcaster Broadcaster, deployment config.DeploymentType, dryRun bool) *Engine {
	return &Engine{logger: logger, subgraph: subgraphClient, router: router, submitter: submitter, broadcast: broadcaster, deployment: deployment, dryRun: dryRun}
}

// Outcome summarizes one Run call.
type Outcome struct {
	Scanned int
	Taken   int
}

// Run scans pool's active auctions in subgraph-return order and takes
// every one that clears the configured strategy. ArbTake and External Take
// are mutually exclusive per pool (enforced at config load); Run dispatches
// to whichever is configured. External Take is skipped entirely when the
// engine has no helper-contract deployment wired.
func (e *Engine) Run(ctx context.Context, pool sdk.Pool, poolName string, policy *config.TakePolicy, chainID uint64) (Outcome, error) {
	if policy == nil {
		return Outcome{}, errNoPolicy
	}

	auctions, err := e.subgraph.ActiveAuctions(ctx, pool.Address())
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	out.Scanned = len(auctions)

	for _, auction := range auctions {
		var attemptErr error
		switch {
		case policy.HPBPriceFactor != nil:
			attemptErr = e.tryArbTake(ctx, pool, poolName, policy, auction.Borrower, &out)
		case policy.LiquiditySource != nil && policy.MarketPriceFactor != nil && e.deployment != config.DeploymentNone:
			attemptErr = e.tryExternalTake(ctx, pool, poolName, policy, auction.Borrower, chainID, &out)
		default:
			continue
		}
		if attemptErr != nil {
			e.logger.Error("take attempt failed", "pool", poolName, "borrower", auction.Borrower.Hex(), "error", attemptErr)
			continue
		}
	}
	return out, nil
}

func (e *Engine) tryArbTake(ctx context.Context, pool sdk.Pool, poolName string, policy *config.TakePolicy, borrower common.Address, out *Outcome) error {
	status, err := pool.AuctionInfo(ctx, borrower)
	if err != nil {
		return err
	}
	if status.KickTime == 0 {
		return nil
	}

	hpb, err := pool.ReferencePrice(ctx, sdk.ReferenceHPB)
	if err != nil {
		return err
	}
	factor, err := wad.FromFloat64(*policy.HPBPriceFactor)
	if err != nil {
		return err
	}
	threshold := hpb.Mul(factor)
	if !status.Price.LessThan(threshold) {
		return nil
	}

	minCollateral, err := wad.FromFloat64(policy.MinCollateral)
	if err != nil {
		return err
	}
	if status.CollateralRemaining.LessThan(minCollateral) {
		return nil
	}

	if e.dryRun {
		e.logger.Info("dry run: would arb take", "pool", poolName, "borrower", borrower.Hex(), "bucket", status.ReferenceBucket)
		out.Taken++
		return nil
	}

	calldata, err := pool.BuildBucketTake(ctx, borrower, status.ReferenceBucket, false)
	if err != nil {
		return err
	}
	if err := e.submitter.Submit(ctx, func(ctx context.Context, assignedNonce uint64) error {
		return e.broadcast.Send(ctx, pool.Address(), calldata, assignedNonce)
	}); err != nil {
		return err
	}
	out.Taken++
	return nil
}

func (e *Engine) tryExternalTake(ctx context.Context, pool sdk.Pool, poolName string, policy *config.TakePolicy, borrower common.Address, chainID uint64, out *Outcome) error {
	status, err := pool.AuctionInfo(ctx, borrower)
	if err != nil {
		return err
	}
	if status.KickTime == 0 {
		return nil
	}

	quoted, err := e.router.Quote(ctx, dex.SwapRequest{
		Amount:   status.CollateralRemaining,
		TokenIn:  pool.CollateralToken(),
		TokenOut: pool.QuoteToken(),
		Provider: *policy.LiquiditySource,
	})
	if err != nil {
		return err
	}
	if status.CollateralRemaining.IsZero() {
		return nil
	}
	marketPrice := quoted.Div(status.CollateralRemaining)

	factor, err := wad.FromFloat64(*policy.MarketPriceFactor)
	if err != nil {
		return err
	}
	threshold := marketPrice.Mul(factor)
	if !status.Price.LessThan(threshold) {
		return nil
	}

	if e.dryRun {
		e.logger.Info("dry run: would external take", "pool", poolName, "borrower", borrower.Hex())
		out.Taken++
		return nil
	}

	swapCalldata, err := e.buildSwapCalldata(ctx, pool, status, *policy.LiquiditySource)
	if err != nil {
		return err
	}
	calldata, err := pool.BuildExternalTake(ctx, borrower, status.CollateralRemaining, swapCalldata)
	if err != nil {
		return err
	}
	if err := e.submitter.Submit(ctx, func(ctx context.Context, assignedNonce uint64) error {
		return e.broadcast.Send(ctx, pool.Address(), calldata, assignedNonce)
	}); err != nil {
		return err
	}
	out.Taken++
	return nil
}

// buildSwapCalldata would encode the on-chain helper contract's embedded
// swap leg. The encoding differs between a Single-deployed helper and a
// Factory-deployed one, and neither has a concrete ABI wired yet; returning
// an error here aborts tryExternalTake before it submits anything, rather
// than dispatch a transaction with an empty swap leg.
func (e *Engine) buildSwapCalldata(ctx context.Context, pool sdk.Pool, status sdk.AuctionStatus, source config.LiquiditySource) ([]byte, error) {
	return nil, fmt.Errorf("take: external take swap calldata encoding not implemented for deployment type %v", e.deployment)
}
