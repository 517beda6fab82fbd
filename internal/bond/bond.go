// Package bond implements the Bond Collector: withdraws a kicker's
// claimable bond, triggering reactive settlement first when the bond is
// still locked behind an active auction. Structured as a three-branch
// state read before any state-changing call, switching on the
// locked/claimable kicker record.
package bond

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ajna-keeper/keeperbot/internal/sdk"
	"github.com/ajna-keeper/keeperbot/internal/settlement"
)

// Submitter sends a built transaction through the nonce pipeline.
type Submitter interface {
	Submit(ctx context.Context, fn func(ctx context.Context, assignedNonce uint64) error) error
}

// Broadcaster signs and sends one already-built contract call.
type Broadcaster interface {
	Send(ctx context.Context, to common.Address, calldata []byte, assignedNonce uint64) error
}

// SettlementRunner is the reactive settlement entry point the Bond
// Collector calls when its bond is locked.
type SettlementRunner interface {
	TryReactive(ctx context.Context, pool sdk.Pool, simulateSettle func(ctx context.Context, borrower common.Address, maxBucketDepth uint64) error, policy settlement.Policy) (settlement.Outcome, bool)
}

// Outcome reports which of the four withdraw cases applied.
type Outcome string

const (
	OutcomeWithdrawn        Outcome = "withdrawn"
	OutcomeSettledAndWithdrawn Outcome = "settled_and_withdrawn"
	OutcomeStillLocked      Outcome = "still_locked"
	OutcomeNoop             Outcome = "noop"
)

// Engine collects a pool's claimable kicker bond.
type Engine struct {
	logger     *slog.Logger
	submitter  Submitter
	broadcast  Broadcaster
	settlement SettlementRunner
	kicker     common.Address
	dryRun     bool
}

// NewEngine constructs a Bond Collector for the bot's own kicker address.
func NewEngine(logger *slog.Logger, submitter Submitter, broadcaster Broadcaster, settlementRunner SettlementRunner, kicker common.Address, dryRun bool) *Engine {
	return &Engine{logger: logger, submitter: submitter, broadcast: broadcaster, settlement: settlementRunner, kicker: kicker, dryRun: dryRun}
}

// Run inspects pool's kicker record for the bot and withdraws any claimable
// bond, triggering reactive settlement first when the bond is locked and
// settlement is enabled for this pool.
func (e *Engine) Run(ctx context.Context, pool sdk.Pool, poolName string, simulateSettle func(ctx context.Context, borrower common.Address, maxBucketDepth uint64) error, settlementPolicy *settlement.Policy) (Outcome, error) {
	record, err := pool.KickerInfo(ctx, e.kicker)
	if err != nil {
		return "", err
	}

	switch {
	case record.Locked.IsZero() && record.Claimable.IsZero():
		return OutcomeNoop, nil

	case record.Locked.IsZero():
		if err := e.withdraw(ctx, pool, poolName); err != nil {
			return "", err
		}
		return OutcomeWithdrawn, nil

	default: // record.Locked > 0
		if settlementPolicy == nil || e.settlement == nil {
			return OutcomeStillLocked, nil
		}
		if _, attempted := e.settlement.TryReactive(ctx, pool, simulateSettle, *settlementPolicy); !attempted {
			return OutcomeStillLocked, nil
		}
		record, err = pool.KickerInfo(ctx, e.kicker)
		if err != nil {
			return "", err
		}
		if record.Claimable.IsZero() {
			return OutcomeStillLocked, nil
		}
		if err := e.withdraw(ctx, pool, poolName); err != nil {
			return "", err
		}
		return OutcomeSettledAndWithdrawn, nil
	}
}

func (e *Engine) withdraw(ctx context.Context, pool sdk.Pool, poolName string) error {
	if e.dryRun {
		e.logger.Info("dry run: would withdraw bonds", "pool", poolName)
		return nil
	}
	calldata, err := pool.BuildWithdrawBonds(ctx, e.kicker)
	if err != nil {
		return err
	}
	return e.submitter.Submit(ctx, func(ctx context.Context, assignedNonce uint64) error {
		return e.broadcast.Send(ctx, pool.Address(), calldata, assignedNonce)
	})
}
