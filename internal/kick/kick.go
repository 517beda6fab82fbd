// Package kick implements the Kick Engine: scans the subgraph for
// under-collateralized loans in descending threshold-price order and
// starts liquidation auctions on the ones that clear policy. Structured as
// a sentinel-error, struct-held-dependencies orchestrator over one state
// transition per call, driven by a scan-then-kick loop over subgraph
// candidates.
package kick

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ajna-keeper/keeperbot/internal/config"
	"github.com/ajna-keeper/keeperbot/internal/nonce"
	"github.com/ajna-keeper/keeperbot/internal/sdk"
	"github.com/ajna-keeper/keeperbot/internal/subgraph"
	"github.com/ajna-keeper/keeperbot/internal/wad"
)

var (
	errNoPolicy = errors.New("kick: pool has no kick policy configured")
)

// Submitter sends a built transaction through the nonce pipeline.
type Submitter interface {
	Submit(ctx context.Context, fn func(ctx context.Context, assignedNonce uint64) error) error
}

// Broadcaster signs and sends one already-built contract call using the
// nonce the pipeline assigned it. Concrete wiring binds this to a
// chain.Signer + chain.Client pair; kept as an interface here since the
// transaction-building/signing concern lives in internal/chain, not kick.
type Broadcaster interface {
	Send(ctx context.Context, to common.Address, calldata []byte, assignedNonce uint64) error
}

// Engine runs one Kick pass for one pool at a time.
type Engine struct {
	logger      *slog.Logger
	subgraph    subgraph.Client
	submitter   Submitter
	broadcaster Broadcaster
	dryRun      bool
}

// NewEngine constructs a Kick Engine.
func NewEngine(logger *slog.Logger, subgraphClient subgraph.Client, submitter Submitter, broadcaster Broadcaster, dryRun bool) *Engine {
	return &Engine{logger: logger, subgraph: subgraphClient, submitter: submitter, broadcaster: broadcaster, dryRun: dryRun}
}

// Outcome summarizes one Run call for logging/metrics.
type Outcome struct {
	Scanned int
	Kicked  int
}

// Run scans pool's candidate loans and kicks every one that clears policy.
// Transient per-loan errors abort only that loan; the scan continues.
func (e *Engine) Run(ctx context.Context, pool sdk.Pool, poolName string, policy *config.KickPolicy, referencePrice float64) (Outcome, error) {
	if policy == nil {
		return Outcome{}, errNoPolicy
	}

	candidates, err := e.subgraph.LoansByDescendingThresholdPrice(ctx, pool.Address())
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	out.Scanned = len(candidates)

	for _, candidate := range candidates {
		if err := e.tryKick(ctx, pool, poolName, policy, referencePrice, candidate, &out); err != nil {
			e.logger.Error("kick attempt failed", "pool", poolName, "borrower", candidate.Borrower.Hex(), "error", err)
			continue
		}
	}
	return out, nil
}

func (e *Engine) tryKick(ctx context.Context, pool sdk.Pool, poolName string, policy *config.KickPolicy, referencePrice float64, candidate subgraph.LoanCandidate, out *Outcome) error {
	loan, err := pool.LoanInfo(ctx, candidate.Borrower)
	if err != nil {
		return err
	}
	if loan.InAuction {
		return nil
	}
	if loan.Debt.IsZero() {
		return nil
	}
	minDebt, err := wad.FromFloat64(policy.MinDebt)
	if err != nil {
		return err
	}
	if loan.Debt.LessThan(minDebt) {
		return nil
	}

	priceFactor, err := wad.FromFloat64(policy.PriceFactor)
	if err != nil {
		return err
	}
	reference, err := wad.FromFloat64(referencePrice)
	if err != nil {
		return err
	}
	threshold := loan.NeutralPrice.Mul(priceFactor)
	if !threshold.GreaterThan(reference) {
		return nil
	}

	limiter, ok := pool.(sdk.LimitIndexer)
	if !ok {
		return errors.New("kick: pool does not support limit index derivation")
	}
	limitIndex, err := limiter.LimitIndexForPrice(ctx, reference)
	if err != nil {
		return err
	}

	if e.dryRun {
		e.logger.Info("dry run: would kick", "pool", poolName, "borrower", candidate.Borrower.Hex(), "limit_index", limitIndex)
		out.Kicked++
		return nil
	}

	calldata, err := pool.BuildKick(ctx, candidate.Borrower, limitIndex)
	if err != nil {
		return err
	}

	if err := e.submitter.Submit(ctx, func(ctx context.Context, assignedNonce uint64) error {
		return e.broadcaster.Send(ctx, pool.Address(), calldata, assignedNonce)
	}); err != nil {
		return err
	}
	out.Kicked++
	return nil
}
