// Package reward implements the LP Reward Collector: it accumulates "LP
// awarded to taker/kicker" events per bucket for the bot's own address,
// then periodically attempts redemption against pool policy and enqueues
// any configured reward action. Structured as an accumulator map plus a
// separate periodic drain, re-reading on-chain state after each
// state-changing call to compute the LP delta it consumed. The map is not
// guarded by a mutex, so a Collector is not safe for concurrent use.
package reward

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ajna-keeper/keeperbot/internal/config"
	"github.com/ajna-keeper/keeperbot/internal/rewardqueue"
	"github.com/ajna-keeper/keeperbot/internal/sdk"
	"github.com/ajna-keeper/keeperbot/internal/wad"
)

// EventSource streams "LP awarded to taker/kicker" events scoped to bot for
// pool. sdk.AwardEvent already carries both the taker-side and kicker-side
// LP award for the triggering transaction's bucket, recovered by parsing
// the triggering transaction's input.
type EventSource interface {
	Subscribe(ctx context.Context, pool, bot common.Address) (<-chan sdk.AwardEvent, error)
}

// Submitter sends a built transaction through the nonce pipeline.
type Submitter interface {
	Submit(ctx context.Context, fn func(ctx context.Context, assignedNonce uint64) error) error
}

// Broadcaster signs and sends one already-built contract call.
type Broadcaster interface {
	Send(ctx context.Context, to common.Address, calldata []byte, assignedNonce uint64) error
}

// Collector accumulates LP awards per bucket and periodically redeems them.
type Collector struct {
	logger    *slog.Logger
	submitter Submitter
	broadcast Broadcaster
	queue     *rewardqueue.Queue
	bot       common.Address
	dryRun    bool

	accumulated map[uint64]wad.WAD
}

// NewCollector constructs an LP Reward Collector for the bot's address.
func NewCollector(logger *slog.Logger, submitter Submitter, broadcaster Broadcaster, queue *rewardqueue.Queue, bot common.Address, dryRun bool) *Collector {
	return &Collector{
		logger:      logger,
		submitter:   submitter,
		broadcast:   broadcaster,
		queue:       queue,
		bot:         bot,
		dryRun:      dryRun,
		accumulated: map[uint64]wad.WAD{},
	}
}

// Accumulate records one award event's LP contribution into its bucket's
// running total. Exposed directly (rather than only through Listen) so
// tests can drive the accumulator deterministically without a goroutine.
func (c *Collector) Accumulate(event sdk.AwardEvent) {
	total := event.TakerLP.Add(event.KickerLP)
	c.accumulated[event.BucketIndex] = c.accumulated[event.BucketIndex].Add(total)
}

// Listen drains source's event channel into Accumulate until ctx is done or
// the channel closes. LP award accumulation is additive and commutative, so
// processing order never matters.
func (c *Collector) Listen(ctx context.Context, source EventSource, pool common.Address) error {
	events, err := source.Subscribe(ctx, pool, c.bot)
	if err != nil {
		return err
	}
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			c.Accumulate(event)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Buckets reports which bucket indices currently have a nonzero
// accumulated LP award.
func (c *Collector) Buckets() []uint64 {
	indices := make([]uint64, 0, len(c.accumulated))
	for index, amount := range c.accumulated {
		if !amount.IsZero() {
			indices = append(indices, index)
		}
	}
	return indices
}

// RunCycle attempts redemption for every bucket with a nonzero accumulated
// award. It returns the first sdk.ErrAuctionNotCleared it observes without
// aborting the remaining buckets, since that error is meant to be
// surfaced to the Bond Collector, not to stop the cycle.
func (c *Collector) RunCycle(ctx context.Context, pool sdk.Pool, poolName string, policy *config.RewardPolicy) error {
	var firstAuctionNotCleared error
	for _, bucketIndex := range c.Buckets() {
		if err := c.redeemBucket(ctx, pool, poolName, bucketIndex, policy); err != nil {
			if errors.Is(err, sdk.ErrAuctionNotCleared) {
				if firstAuctionNotCleared == nil {
					firstAuctionNotCleared = err
				}
				continue
			}
			c.logger.Error("lp reward redemption failed", "pool", poolName, "bucket", bucketIndex, "error", err)
		}
	}
	return firstAuctionNotCleared
}

func (c *Collector) redeemBucket(ctx context.Context, pool sdk.Pool, poolName string, bucketIndex uint64, policy *config.RewardPolicy) error {
	info, err := pool.BucketInfo(ctx, bucketIndex, c.bot)
	if err != nil {
		return err
	}

	minQuote, err := wad.FromFloat64(policy.MinAmountQuote)
	if err != nil {
		return err
	}
	minCollateral, err := wad.FromFloat64(policy.MinAmountCollateral)
	if err != nil {
		return err
	}

	type side struct {
		kind       config.RewardSide
		redeemable wad.WAD
		min        wad.WAD
		action     *config.RewardAction
		token      common.Address
	}
	quoteSide := side{kind: config.RedeemQuote, redeemable: info.RedeemableQuote, min: minQuote, action: policy.RewardActionQuote, token: pool.QuoteToken()}
	collatSide := side{kind: config.RedeemCollateral, redeemable: info.RedeemableCollat, min: minCollateral, action: policy.RewardActionCollateral, token: pool.CollateralToken()}

	ordered := []side{quoteSide, collatSide}
	if policy.RedeemFirst == config.RedeemCollateral {
		ordered = []side{collatSide, quoteSide}
	}

	for _, s := range ordered {
		if !s.redeemable.GreaterThan(s.min) {
			continue
		}
		lpBefore := info.LPBalance

		if c.dryRun {
			c.logger.Info("dry run: would redeem bucket reward", "pool", poolName, "bucket", bucketIndex, "side", s.kind)
			continue
		}

		var calldata []byte
		var err error
		switch s.kind {
		case config.RedeemQuote:
			calldata, err = pool.BuildRemoveQuote(ctx, bucketIndex, s.redeemable)
		case config.RedeemCollateral:
			calldata, err = pool.BuildRemoveCollateral(ctx, bucketIndex, s.redeemable)
		}
		if err != nil {
			return err
		}
		if err := c.submitter.Submit(ctx, func(ctx context.Context, assignedNonce uint64) error {
			return c.broadcast.Send(ctx, pool.Address(), calldata, assignedNonce)
		}); err != nil {
			return err
		}
		after, err := pool.BucketInfo(ctx, bucketIndex, c.bot)
		if err != nil {
			return err
		}
		consumed := lpBefore.Sub(after.LPBalance)
		if consumed.IsNegative() {
			consumed = wad.Zero
		}
		c.accumulated[bucketIndex] = c.accumulated[bucketIndex].Sub(consumed)
		if c.accumulated[bucketIndex].IsNegative() {
			c.accumulated[bucketIndex] = wad.Zero
		}

		if s.action != nil {
			if err := c.queue.Enqueue(rewardqueue.Action{
				Token:       s.token,
				Kind:        s.action.Kind,
				To:          common.HexToAddress(s.action.To),
				TargetToken: common.HexToAddress(s.action.TargetToken),
				DEXProvider: s.action.DEXProvider,
				Slippage:    s.action.Slippage,
				FeeTier:     s.action.FeeTier,
			}, s.redeemable); err != nil {
				return err
			}
		}
		info = after
	}
	return nil
}
