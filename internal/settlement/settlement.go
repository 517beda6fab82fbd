// Package settlement implements the Settlement Engine state machine:
// discover settleable auctions via subgraph-plus-on-chain cross-check, gate
// on age and (optionally) kicker incentive, then settle iteratively until
// the auction clears or max_iterations is exhausted. Structured as a single
// state-transition method with pre-conditions checked up front, generalized
// into a multi-iteration loop with cooperative delay between calls.
package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ajna-keeper/keeperbot/internal/sdk"
	"github.com/ajna-keeper/keeperbot/internal/subgraph"
)

// Submitter sends a built transaction through the nonce pipeline.
type Submitter interface {
	Submit(ctx context.Context, fn func(ctx context.Context, assignedNonce uint64) error) error
}

// Broadcaster signs and sends one already-built contract call.
type Broadcaster interface {
	Send(ctx context.Context, to common.Address, calldata []byte, assignedNonce uint64) error
}

// Clock abstracts time.Now for deterministic age-gate testing.
type Clock func() time.Time

// Policy is the subset of config.SettlementPolicy the engine consults; kept
// local (rather than importing internal/config) so this package has no
// dependency on the config shape beyond the four fields it actually reads.
type Policy struct {
	MinAuctionAge     time.Duration
	MaxBucketDepth    uint64
	MaxIterations     int
	CheckBotIncentive bool
}

// Outcome is the state machine's terminal report.
type Outcome struct {
	Success    bool
	Completed  bool
	Iterations int
	Reason     string
}

// Engine runs the settlement state machine for one pool at a time.
type Engine struct {
	logger       *slog.Logger
	subgraph     subgraph.Client
	submitter    Submitter
	broadcast    Broadcaster
	clock        Clock
	delayBetween time.Duration
	botAddress   common.Address
	dryRun       bool
}

// NewEngine constructs a Settlement Engine.
func NewEngine(logger *slog.Logger, subgraphClient subgraph.Client, submitter Submitter, broadcaster Broadcaster, botAddress common.Address, delayBetweenActions time.Duration, dryRun bool) *Engine {
	return &Engine{
		logger:       logger,
		subgraph:     subgraphClient,
		submitter:    submitter,
		broadcast:    broadcaster,
		clock:        time.Now,
		delayBetween: delayBetweenActions,
		botAddress:   botAddress,
		dryRun:       dryRun,
	}
}

// SetClock overrides the engine's clock for deterministic tests.
func (e *Engine) SetClock(clock Clock) {
	if clock != nil {
		e.clock = clock
	}
}

// FindSettleable discovers the subset of unsettled auctions whose on-chain
// state confirms they need settlement: kick_time != 0, collateral_remaining
// == 0, debt_remaining > 0, and a static-call simulation of settle
// succeeds. Subgraph candidates alone are not authoritative.
func (e *Engine) FindSettleable(ctx context.Context, pool sdk.Pool, simulateSettle func(ctx context.Context, borrower common.Address, maxBucketDepth uint64) error, policy Policy) ([]sdk.AuctionStatus, error) {
	candidates, err := e.subgraph.UnsettledAuctions(ctx, pool.Address())
	if err != nil {
		return nil, err
	}

	var settleable []sdk.AuctionStatus
	for _, candidate := range candidates {
		status, err := pool.AuctionInfo(ctx, candidate.Borrower)
		if err != nil {
			e.logger.Error("settlement discover: auction info failed", "borrower", candidate.Borrower.Hex(), "error", err)
			continue
		}
		if status.KickTime == 0 {
			continue
		}
		if !status.CollateralRemaining.IsZero() {
			continue
		}
		if status.DebtRemaining.IsZero() {
			continue
		}
		if err := simulateSettle(ctx, candidate.Borrower, policy.MaxBucketDepth); err != nil {
			continue
		}
		settleable = append(settleable, status)
	}
	return settleable, nil
}

// passesGates applies the age gate and, when configured, the incentive gate.
func (e *Engine) passesGates(status sdk.AuctionStatus, policy Policy) bool {
	age := e.clock().Sub(time.Unix(status.KickTime, 0))
	if age < policy.MinAuctionAge {
		return false
	}
	if policy.CheckBotIncentive && status.Kicker != e.botAddress {
		return false
	}
	return true
}

// Settle runs the iterative settle loop for a single auction already found
// settleable and gate-passed by the caller.
func (e *Engine) Settle(ctx context.Context, pool sdk.Pool, borrower common.Address, policy Policy) Outcome {
	for iteration := 1; iteration <= policy.MaxIterations; iteration++ {
		if e.dryRun {
			e.logger.Info("dry run: would settle", "borrower", borrower.Hex(), "iteration", iteration)
		} else {
			calldata, err := pool.BuildSettle(ctx, borrower, policy.MaxBucketDepth)
			if err != nil {
				return Outcome{Success: false, Iterations: iteration, Reason: err.Error()}
			}
			if err := e.submitter.Submit(ctx, func(ctx context.Context, assignedNonce uint64) error {
				return e.broadcast.Send(ctx, pool.Address(), calldata, assignedNonce)
			}); err != nil {
				return Outcome{Success: false, Iterations: iteration, Reason: err.Error()}
			}
		}

		status, err := pool.AuctionInfo(ctx, borrower)
		if err != nil {
			return Outcome{Success: false, Iterations: iteration, Reason: err.Error()}
		}
		if status.KickTime == 0 {
			return Outcome{Success: true, Completed: true, Iterations: iteration, Reason: "auction cleared"}
		}

		if iteration < policy.MaxIterations {
			select {
			case <-time.After(e.delayBetween):
			case <-ctx.Done():
				return Outcome{Success: false, Iterations: iteration, Reason: ctx.Err().Error()}
			}
		}
	}
	return Outcome{Success: true, Completed: false, Iterations: policy.MaxIterations, Reason: "partial"}
}

// RunOne discovers, gates, and settles the first settleable auction found
// for borrower, or reports no auction qualified.
func (e *Engine) RunOne(ctx context.Context, pool sdk.Pool, borrower common.Address, simulateSettle func(ctx context.Context, borrower common.Address, maxBucketDepth uint64) error, policy Policy) (Outcome, bool) {
	status, err := pool.AuctionInfo(ctx, borrower)
	if err != nil {
		return Outcome{}, false
	}
	if status.KickTime == 0 || !status.CollateralRemaining.IsZero() || status.DebtRemaining.IsZero() {
		return Outcome{}, false
	}
	if err := simulateSettle(ctx, borrower, policy.MaxBucketDepth); err != nil {
		return Outcome{}, false
	}
	if !e.passesGates(status, policy) {
		return Outcome{}, false
	}
	return e.Settle(ctx, pool, borrower, policy), true
}

// TryReactive attempts reactive settlement for pool: it scans for any
// auction that genuinely needs settlement and, if one exists, settles it.
// It short-circuits to false with no settle transaction when no auction
// qualifies, avoiding wasted gas on healthy auctions.
func (e *Engine) TryReactive(ctx context.Context, pool sdk.Pool, simulateSettle func(ctx context.Context, borrower common.Address, maxBucketDepth uint64) error, policy Policy) (Outcome, bool) {
	settleable, err := e.FindSettleable(ctx, pool, simulateSettle, policy)
	if err != nil {
		e.logger.Error("reactive settlement discover failed", "pool", pool.Address().Hex(), "error", err)
		return Outcome{}, false
	}
	for _, status := range settleable {
		if !e.passesGates(status, policy) {
			continue
		}
		return e.Settle(ctx, pool, status.Borrower, policy), true
	}
	return Outcome{}, false
}
