package take_test

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
	"github.com/ajna-keeper/keeperbot/internal/sdk"
	"github.com/ajna-keeper/keeperbot/internal/subgraph"
	"github.com/ajna-keeper/keeperbot/internal/take"
	"github.com/ajna-keeper/keeperbot/internal/wad"
)

type stubSubgraph struct {
	auctions []subgraph.AuctionCandidate
}

func (s stubSubgraph) LoansByDescendingThresholdPrice(ctx context.Context, pool common.Address) ([]subgraph.LoanCandidate, error) {
	return nil, nil
}
func (s stubSubgraph) ActiveAuctions(ctx context.Context, pool common.Address) ([]subgraph.AuctionCandidate, error) {
	return s.auctions, nil
}
func (s stubSubgraph) UnsettledAuctions(ctx context.Context, pool common.Address) ([]subgraph.AuctionCandidate, error) {
	return nil, nil
}

type stubPool struct {
	sdk.Pool
	addr     common.Address
	auctions map[common.Address]sdk.AuctionStatus
	hpb      wad.WAD
}

func (p stubPool) Address() common.Address          { return p.addr }
func (p stubPool) CollateralToken() common.Address  { return common.HexToAddress("0xc0") }
func (p stubPool) QuoteToken() common.Address       { return common.HexToAddress("0xc1") }
func (p stubPool) ReferencePrice(ctx context.Context, ref sdk.PoolReference) (wad.WAD, error) {
	return p.hpb, nil
}
func (p stubPool) AuctionInfo(ctx context.Context, borrower common.Address) (sdk.AuctionStatus, error) {
	status, ok := p.auctions[borrower]
	if !ok {
		return sdk.AuctionStatus{}, errors.New("not found")
	}
	return status, nil
}
func (p stubPool) BuildBucketTake(ctx context.Context, borrower common.Address, bucketIndex uint64, depositTake bool) ([]byte, error) {
	return []byte{0x02}, nil
}
func (p stubPool) BuildExternalTake(ctx context.Context, borrower common.Address, collateral wad.WAD, swapCalldata []byte) ([]byte, error) {
	return []byte{0x03}, nil
}

type directSubmitter struct{}

func (directSubmitter) Submit(ctx context.Context, fn func(ctx context.Context, assigned uint64) error) error {
	return fn(ctx, 0)
}

type recordingBroadcaster struct {
	sent []common.Address
}

func (b *recordingBroadcaster) Send(ctx context.Context, to common.Address, calldata []byte, assignedNonce uint64) error {
	b.sent = append(b.sent, to)
	return nil
}

type stubProvider struct {
	quote wad.WAD
}

func (s stubProvider) Quote(ctx context.Context, req dex.SwapRequest) (wad.WAD, error) {
	return s.quote, nil
}
func (s stubProvider) Swap(ctx context.Context, req dex.SwapRequest) (dex.Receipt, error) {
	return dex.Receipt{AmountOut: s.quote}, nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var borrower = common.HexToAddress("0xb0")

func hpbFactor(f float64) *float64 { return &f }

// TestArbTakeExecutesWhenPriceBelowThreshold: hpb_price_factor=0.9,
// min_collateral=0.01, auction price=100, hpb price=120, collateral=0.5 ->
// exactly one bucket_take call at the auction's reference bucket.
func TestArbTakeExecutesWhenPriceBelowThreshold(t *testing.T) {
	pool := stubPool{
		addr: common.HexToAddress("0xp1"),
		hpb:  wad.MustFromString("120"),
		auctions: map[common.Address]sdk.AuctionStatus{
			borrower: {
				Borrower:            borrower,
				Kicker:              common.HexToAddress("0xk0"),
				KickTime:            1,
				Price:               wad.MustFromString("100"),
				CollateralRemaining: wad.MustFromString("0.5"),
				ReferenceBucket:     17,
			},
		},
	}
	sg := stubSubgraph{auctions: []subgraph.AuctionCandidate{{Borrower: borrower, KickTime: 1}}}
	broadcaster := &recordingBroadcaster{}
	engine := take.NewEngine(silentLogger(), sg, dex.NewRouter(nil), directSubmitter{}, broadcaster, config.DeploymentSingle, false)

	policy := &config.TakePolicy{HPBPriceFactor: hpbFactor(0.9), MinCollateral: 0.01}
	out, err := engine.Run(context.Background(), pool, "wbtc-usdc", policy, 1)
	require.NoError(t, err)
	require.Equal(t, 1, out.Taken)
	require.Len(t, broadcaster.sent, 1)
}

func TestArbTakeIneligiblePriceAboveThreshold(t *testing.T) {
	pool := stubPool{
		addr: common.HexToAddress("0xp1"),
		hpb:  wad.MustFromString("100"),
		auctions: map[common.Address]sdk.AuctionStatus{
			borrower: {
				Borrower:            borrower,
				KickTime:            1,
				Price:               wad.MustFromString("95"),
				CollateralRemaining: wad.MustFromString("0.5"),
			},
		},
	}
	sg := stubSubgraph{auctions: []subgraph.AuctionCandidate{{Borrower: borrower, KickTime: 1}}}
	broadcaster := &recordingBroadcaster{}
	engine := take.NewEngine(silentLogger(), sg, dex.NewRouter(nil), directSubmitter{}, broadcaster, config.DeploymentSingle, false)

	policy := &config.TakePolicy{HPBPriceFactor: hpbFactor(0.9), MinCollateral: 0.01}
	out, err := engine.Run(context.Background(), pool, "p", policy, 1)
	require.NoError(t, err)
	require.Equal(t, 0, out.Taken)
	require.Empty(t, broadcaster.sent)
}

func TestArbTakeSkipsBelowMinCollateral(t *testing.T) {
	pool := stubPool{
		addr: common.HexToAddress("0xp1"),
		hpb:  wad.MustFromString("120"),
		auctions: map[common.Address]sdk.AuctionStatus{
			borrower: {
				Borrower:            borrower,
				KickTime:            1,
				Price:               wad.MustFromString("100"),
				CollateralRemaining: wad.MustFromString("0.001"),
			},
		},
	}
	sg := stubSubgraph{auctions: []subgraph.AuctionCandidate{{Borrower: borrower, KickTime: 1}}}
	broadcaster := &recordingBroadcaster{}
	engine := take.NewEngine(silentLogger(), sg, dex.NewRouter(nil), directSubmitter{}, broadcaster, config.DeploymentSingle, false)

	policy := &config.TakePolicy{HPBPriceFactor: hpbFactor(0.9), MinCollateral: 0.01}
	out, err := engine.Run(context.Background(), pool, "p", policy, 1)
	require.NoError(t, err)
	require.Equal(t, 0, out.Taken)
}

func marketFactor(f float64) *float64 { return &f }

func TestExternalTakeExecutesWhenPriceBelowMarketThreshold(t *testing.T) {
	source := config.SourceUniswapV3
	pool := stubPool{
		addr: common.HexToAddress("0xp1"),
		auctions: map[common.Address]sdk.AuctionStatus{
			borrower: {
				Borrower:            borrower,
				KickTime:            1,
				Price:               wad.MustFromString("90"),
				CollateralRemaining: wad.MustFromString("1"),
			},
		},
	}
	sg := stubSubgraph{auctions: []subgraph.AuctionCandidate{{Borrower: borrower, KickTime: 1}}}
	broadcaster := &recordingBroadcaster{}
	router := dex.NewRouter(map[config.LiquiditySource]dex.Provider{
		source: stubProvider{quote: wad.MustFromString("100")},
	})
	engine := take.NewEngine(silentLogger(), sg, router, directSubmitter{}, broadcaster, config.DeploymentSingle, false)

	policy := &config.TakePolicy{LiquiditySource: &source, MarketPriceFactor: marketFactor(0.95)}
	out, err := engine.Run(context.Background(), pool, "p", policy, 1)
	require.NoError(t, err)
	require.Equal(t, 1, out.Taken)
	require.Len(t, broadcaster.sent, 1)
}

func TestExternalTakeIneligibleWhenPriceAboveMarketThreshold(t *testing.T) {
	source := config.SourceUniswapV3
	pool := stubPool{
		addr: common.HexToAddress("0xp1"),
		auctions: map[common.Address]sdk.AuctionStatus{
			borrower: {
				Borrower:            borrower,
				KickTime:            1,
				Price:               wad.MustFromString("99"),
				CollateralRemaining: wad.MustFromString("1"),
			},
		},
	}
	sg := stubSubgraph{auctions: []subgraph.AuctionCandidate{{Borrower: borrower, KickTime: 1}}}
	broadcaster := &recordingBroadcaster{}
	router := dex.NewRouter(map[config.LiquiditySource]dex.Provider{
		source: stubProvider{quote: wad.MustFromString("100")},
	})
	engine := take.NewEngine(silentLogger(), sg, router, directSubmitter{}, broadcaster, config.DeploymentSingle, false)

	policy := &config.TakePolicy{LiquiditySource: &source, MarketPriceFactor: marketFactor(0.95)}
	out, err := engine.Run(context.Background(), pool, "p", policy, 1)
	require.NoError(t, err)
	require.Equal(t, 0, out.Taken)
	require.Empty(t, broadcaster.sent)
}

func TestDryRunNeverBroadcasts(t *testing.T) {
	pool := stubPool{
		addr: common.HexToAddress("0xp1"),
		hpb:  wad.MustFromString("120"),
		auctions: map[common.Address]sdk.AuctionStatus{
			borrower: {
				Borrower:            borrower,
				KickTime:            1,
				Price:               wad.MustFromString("100"),
				CollateralRemaining: wad.MustFromString("0.5"),
			},
		},
	}
	sg := stubSubgraph{auctions: []subgraph.AuctionCandidate{{Borrower: borrower, KickTime: 1}}}
	broadcaster := &recordingBroadcaster{}
	engine := take.NewEngine(silentLogger(), sg, dex.NewRouter(nil), directSubmitter{}, broadcaster, config.DeploymentSingle, true)

	policy := &config.TakePolicy{HPBPriceFactor: hpbFactor(0.9), MinCollateral: 0.01}
	_, err := engine.Run(context.Background(), pool, "p", policy, 1)
	require.NoError(t, err)
	require.Empty(t, broadcaster.sent, "dry run must never call the broadcaster")
}

func TestNoAuctionSkippedWhenNotYetKicked(t *testing.T) {
	pool := stubPool{
		addr: common.HexToAddress("0xp1"),
		hpb:  wad.MustFromString("120"),
		auctions: map[common.Address]sdk.AuctionStatus{
			borrower: {Borrower: borrower, KickTime: 0},
		},
	}
	sg := stubSubgraph{auctions: []subgraph.AuctionCandidate{{Borrower: borrower, KickTime: 0}}}
	broadcaster := &recordingBroadcaster{}
	engine := take.NewEngine(silentLogger(), sg, dex.NewRouter(nil), directSubmitter{}, broadcaster, config.DeploymentSingle, false)

	policy := &config.TakePolicy{HPBPriceFactor: hpbFactor(0.9), MinCollateral: 0.01}
	out, err := engine.Run(context.Background(), pool, "p", policy, 1)
	require.NoError(t, err)
	require.Equal(t, 0, out.Taken)
}

func TestExternalTakeSkippedWhenNoHelperDeployed(t *testing.T) {
	source := config.SourceUniswapV3
	pool := stubPool{
		addr: common.HexToAddress("0xp1"),
		auctions: map[common.Address]sdk.AuctionStatus{
			borrower: {
				Borrower:            borrower,
				KickTime:            1,
				Price:               wad.MustFromString("90"),
				CollateralRemaining: wad.MustFromString("1"),
			},
		},
	}
	sg := stubSubgraph{auctions: []subgraph.AuctionCandidate{{Borrower: borrower, KickTime: 1}}}
	broadcaster := &recordingBroadcaster{}
	source2 := source
	router := dex.NewRouter(map[config.LiquiditySource]dex.Provider{
		source2: stubProvider{quote: wad.MustFromString("100")},
	})
	engine := take.NewEngine(silentLogger(), sg, router, directSubmitter{}, broadcaster, config.DeploymentNone, false)

	policy := &config.TakePolicy{LiquiditySource: &source, MarketPriceFactor: marketFactor(0.95)}
	out, err := engine.Run(context.Background(), pool, "p", policy, 1)
	require.NoError(t, err)
	require.Equal(t, 0, out.Taken, "no helper contract deployed means external take never dispatches")
	require.Empty(t, broadcaster.sent)
}
