package reward_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ajna-keeper/keeperbot/internal/config"
	"github.com/ajna-keeper/keeperbot/internal/dex"
	"github.com/ajna-keeper/keeperbot/internal/reward"
	"github.com/ajna-keeper/keeperbot/internal/rewardqueue"
	"github.com/ajna-keeper/keeperbot/internal/sdk"
	"github.com/ajna-keeper/keeperbot/internal/wad"
)

type stubPool struct {
	sdk.Pool
	addr    common.Address
	before  sdk.BucketInfo
	after   sdk.BucketInfo
	calls   int
	failErr error
}

func (p *stubPool) Address() common.Address         { return p.addr }
func (p *stubPool) QuoteToken() common.Address      { return common.HexToAddress("0xq0") }
func (p *stubPool) CollateralToken() common.Address { return common.HexToAddress("0xc0") }
func (p *stubPool) BucketInfo(ctx context.Context, index uint64, lpOwner common.Address) (sdk.BucketInfo, error) {
	p.calls++
	if p.calls == 1 {
		return p.before, nil
	}
	return p.after, nil
}
func (p *stubPool) BuildRemoveQuote(ctx context.Context, bucketIndex uint64, amount wad.WAD) ([]byte, error) {
	return []byte{0x06}, nil
}
func (p *stubPool) BuildRemoveCollateral(ctx context.Context, bucketIndex uint64, amount wad.WAD) ([]byte, error) {
	return []byte{0x07}, nil
}

type directSubmitter struct {
	err error
}

func (s directSubmitter) Submit(ctx context.Context, fn func(ctx context.Context, assigned uint64) error) error {
	if s.err != nil {
		return s.err
	}
	return fn(ctx, 0)
}

type recordingBroadcaster struct {
	sent []common.Address
}

func (b *recordingBroadcaster) Send(ctx context.Context, to common.Address, calldata []byte, assignedNonce uint64) error {
	b.sent = append(b.sent, to)
	return nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var bot = common.HexToAddress("0xbot")

func TestAccumulateAddsBothSidesAdditively(t *testing.T) {
	queue := rewardqueue.NewQueue(silentLogger(), dex.NewRouter(nil), nil, bot)
	c := reward.NewCollector(silentLogger(), directSubmitter{}, &recordingBroadcaster{}, queue, bot, false)

	c.Accumulate(sdk.AwardEvent{BucketIndex: 5, TakerLP: wad.MustFromString("1"), KickerLP: wad.MustFromString("2")})
	c.Accumulate(sdk.AwardEvent{BucketIndex: 5, TakerLP: wad.MustFromString("1"), KickerLP: wad.MustFromString("0")})

	require.Equal(t, []uint64{5}, c.Buckets())
}

func TestRedeemsPreferredSideFirstWhenAboveMinimum(t *testing.T) {
	queue := rewardqueue.NewQueue(silentLogger(), dex.NewRouter(nil), nil, bot)
	pool := &stubPool{
		addr: common.HexToAddress("0xp1"),
		before: sdk.BucketInfo{
			Index: 5, LPBalance: wad.MustFromString("10"),
			RedeemableQuote:  wad.MustFromString("5"),
			RedeemableCollat: wad.Zero,
		},
		after: sdk.BucketInfo{Index: 5, LPBalance: wad.MustFromString("3")},
	}
	broadcaster := &recordingBroadcaster{}
	c := reward.NewCollector(silentLogger(), directSubmitter{}, broadcaster, queue, bot, false)
	c.Accumulate(sdk.AwardEvent{BucketIndex: 5, TakerLP: wad.MustFromString("10")})

	policy := &config.RewardPolicy{RedeemFirst: config.RedeemQuote, MinAmountQuote: 1, MinAmountCollateral: 1}
	err := c.RunCycle(context.Background(), pool, "p", policy)
	require.NoError(t, err)
	require.Len(t, broadcaster.sent, 1)
}

func TestSkipsSideBelowMinimum(t *testing.T) {
	queue := rewardqueue.NewQueue(silentLogger(), dex.NewRouter(nil), nil, bot)
	pool := &stubPool{
		addr: common.HexToAddress("0xp1"),
		before: sdk.BucketInfo{
			Index: 5, LPBalance: wad.MustFromString("10"),
			RedeemableQuote:  wad.MustFromString("0.001"),
			RedeemableCollat: wad.Zero,
		},
		after: sdk.BucketInfo{Index: 5, LPBalance: wad.MustFromString("10")},
	}
	broadcaster := &recordingBroadcaster{}
	c := reward.NewCollector(silentLogger(), directSubmitter{}, broadcaster, queue, bot, false)
	c.Accumulate(sdk.AwardEvent{BucketIndex: 5, TakerLP: wad.MustFromString("10")})

	policy := &config.RewardPolicy{RedeemFirst: config.RedeemQuote, MinAmountQuote: 1, MinAmountCollateral: 1}
	err := c.RunCycle(context.Background(), pool, "p", policy)
	require.NoError(t, err)
	require.Empty(t, broadcaster.sent)
}

func TestLPConsumedClampsToZeroWhenBalanceIncreased(t *testing.T) {
	queue := rewardqueue.NewQueue(silentLogger(), dex.NewRouter(nil), nil, bot)
	pool := &stubPool{
		addr: common.HexToAddress("0xp1"),
		before: sdk.BucketInfo{
			Index: 5, LPBalance: wad.MustFromString("10"),
			RedeemableQuote:  wad.MustFromString("5"),
			RedeemableCollat: wad.Zero,
		},
		// eventual-consistency: balance appears to have grown, not shrunk
		after: sdk.BucketInfo{Index: 5, LPBalance: wad.MustFromString("12")},
	}
	broadcaster := &recordingBroadcaster{}
	c := reward.NewCollector(silentLogger(), directSubmitter{}, broadcaster, queue, bot, false)
	c.Accumulate(sdk.AwardEvent{BucketIndex: 5, TakerLP: wad.MustFromString("10")})

	policy := &config.RewardPolicy{RedeemFirst: config.RedeemQuote, MinAmountQuote: 1, MinAmountCollateral: 1}
	err := c.RunCycle(context.Background(), pool, "p", policy)
	require.NoError(t, err)
	require.Equal(t, []uint64{5}, c.Buckets(), "tracked LP clamps to zero consumed, not negative")
}

func TestEnqueuesConfiguredRewardAction(t *testing.T) {
	transferrer := &recordingTransferrer{}
	queue := rewardqueue.NewQueue(silentLogger(), dex.NewRouter(nil), transferrer, bot)
	pool := &stubPool{
		addr: common.HexToAddress("0xp1"),
		before: sdk.BucketInfo{
			Index: 5, LPBalance: wad.MustFromString("10"),
			RedeemableQuote:  wad.MustFromString("5"),
			RedeemableCollat: wad.Zero,
		},
		after: sdk.BucketInfo{Index: 5, LPBalance: wad.MustFromString("3")},
	}
	broadcaster := &recordingBroadcaster{}
	c := reward.NewCollector(silentLogger(), directSubmitter{}, broadcaster, queue, bot, false)
	c.Accumulate(sdk.AwardEvent{BucketIndex: 5, TakerLP: wad.MustFromString("10")})

	to := common.HexToAddress("0xdest")
	policy := &config.RewardPolicy{
		RedeemFirst:       config.RedeemQuote,
		MinAmountQuote:    1,
		MinAmountCollateral: 1,
		RewardActionQuote: &config.RewardAction{Kind: config.ActionTransfer, To: to.Hex()},
	}
	err := c.RunCycle(context.Background(), pool, "p", policy)
	require.NoError(t, err)
	require.Equal(t, 1, queue.Len())
	require.NoError(t, queue.HandleAll(context.Background()))
	require.Len(t, transferrer.calls, 1)
}

type recordingTransferrer struct {
	calls []wad.WAD
}

func (r *recordingTransferrer) Transfer(ctx context.Context, token, to common.Address, amount wad.WAD) error {
	r.calls = append(r.calls, amount)
	return nil
}

func TestAuctionNotClearedPropagatesButContinuesOtherBuckets(t *testing.T) {
	queue := rewardqueue.NewQueue(silentLogger(), dex.NewRouter(nil), nil, bot)
	pool := &stubPool{
		addr: common.HexToAddress("0xp1"),
		before: sdk.BucketInfo{
			Index: 5, LPBalance: wad.MustFromString("10"),
			RedeemableQuote:  wad.MustFromString("5"),
			RedeemableCollat: wad.Zero,
		},
		after: sdk.BucketInfo{Index: 5, LPBalance: wad.MustFromString("3")},
	}
	broadcaster := &recordingBroadcaster{}
	submitter := directSubmitter{err: sdk.ErrAuctionNotCleared}
	c := reward.NewCollector(silentLogger(), submitter, broadcaster, queue, bot, false)
	c.Accumulate(sdk.AwardEvent{BucketIndex: 5, TakerLP: wad.MustFromString("10")})
	c.Accumulate(sdk.AwardEvent{BucketIndex: 6, TakerLP: wad.MustFromString("10")})

	policy := &config.RewardPolicy{RedeemFirst: config.RedeemQuote, MinAmountQuote: 1, MinAmountCollateral: 1}
	err := c.RunCycle(context.Background(), pool, "p", policy)
	require.True(t, errors.Is(err, sdk.ErrAuctionNotCleared))
	// Both buckets were read, so the cycle went on past the failing one.
	require.Equal(t, 2, pool.calls)
}

func TestDryRunNeverBroadcasts(t *testing.T) {
	queue := rewardqueue.NewQueue(silentLogger(), dex.NewRouter(nil), nil, bot)
	pool := &stubPool{
		addr: common.HexToAddress("0xp1"),
		before: sdk.BucketInfo{
			Index: 5, LPBalance: wad.MustFromString("10"),
			RedeemableQuote:  wad.MustFromString("5"),
			RedeemableCollat: wad.Zero,
		},
		after: sdk.BucketInfo{Index: 5, LPBalance: wad.MustFromString("3")},
	}
	broadcaster := &recordingBroadcaster{}
	c := reward.NewCollector(silentLogger(), directSubmitter{}, broadcaster, queue, bot, true)
	c.Accumulate(sdk.AwardEvent{BucketIndex: 5, TakerLP: wad.MustFromString("10")})

	policy := &config.RewardPolicy{RedeemFirst: config.RedeemQuote, MinAmountQuote: 1, MinAmountCollateral: 1}
	err := c.RunCycle(context.Background(), pool, "p", policy)
	require.NoError(t, err)
	require.Empty(t, broadcaster.sent, "dry run must never call the broadcaster")
}
