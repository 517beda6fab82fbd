package bond_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ajna-keeper/keeperbot/internal/bond"
	"github.com/ajna-keeper/keeperbot/internal/sdk"
	"github.com/ajna-keeper/keeperbot/internal/settlement"
	"github.com/ajna-keeper/keeperbot/internal/wad"
)

type stubPool struct {
	sdk.Pool
	addr    common.Address
	record  sdk.KickerRecord
	afterSettle sdk.KickerRecord
	settleApplied bool
}

func (p *stubPool) Address() common.Address { return p.addr }
func (p *stubPool) KickerInfo(ctx context.Context, kicker common.Address) (sdk.KickerRecord, error) {
	if p.settleApplied {
		return p.afterSettle, nil
	}
	return p.record, nil
}
func (p *stubPool) BuildWithdrawBonds(ctx context.Context, to common.Address) ([]byte, error) {
	return []byte{0x05}, nil
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

type stubSettlementRunner struct {
	attempted bool
	apply     func()
}

func (s stubSettlementRunner) TryReactive(ctx context.Context, pool sdk.Pool, simulateSettle func(ctx context.Context, borrower common.Address, maxBucketDepth uint64) error, policy settlement.Policy) (settlement.Outcome, bool) {
	if s.attempted && s.apply != nil {
		s.apply()
	}
	return settlement.Outcome{Success: s.attempted, Completed: s.attempted}, s.attempted
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var kicker = common.HexToAddress("0xbot")

func noopSimulate(ctx context.Context, borrower common.Address, maxBucketDepth uint64) error { return nil }

func TestNoopWhenNothingLockedOrClaimable(t *testing.T) {
	pool := &stubPool{addr: common.HexToAddress("0xp1"), record: sdk.KickerRecord{Locked: wad.Zero, Claimable: wad.Zero}}
	broadcaster := &recordingBroadcaster{}
	engine := bond.NewEngine(silentLogger(), directSubmitter{}, broadcaster, nil, kicker, false)

	out, err := engine.Run(context.Background(), pool, "p", noopSimulate, nil)
	require.NoError(t, err)
	require.Equal(t, bond.OutcomeNoop, out)
	require.Empty(t, broadcaster.sent)
}

// TestWithdrawsWhenUnlockedAndClaimable: locked == 0 and claimable > 0
// withdraws bonds directly.
func TestWithdrawsWhenUnlockedAndClaimable(t *testing.T) {
	pool := &stubPool{addr: common.HexToAddress("0xp1"), record: sdk.KickerRecord{Locked: wad.Zero, Claimable: wad.MustFromString("5")}}
	broadcaster := &recordingBroadcaster{}
	engine := bond.NewEngine(silentLogger(), directSubmitter{}, broadcaster, nil, kicker, false)

	out, err := engine.Run(context.Background(), pool, "p", noopSimulate, nil)
	require.NoError(t, err)
	require.Equal(t, bond.OutcomeWithdrawn, out)
	require.Len(t, broadcaster.sent, 1)
}

func TestLockedWithoutSettlementPolicyStaysLocked(t *testing.T) {
	pool := &stubPool{addr: common.HexToAddress("0xp1"), record: sdk.KickerRecord{Locked: wad.MustFromString("1"), Claimable: wad.Zero}}
	broadcaster := &recordingBroadcaster{}
	engine := bond.NewEngine(silentLogger(), directSubmitter{}, broadcaster, nil, kicker, false)

	out, err := engine.Run(context.Background(), pool, "p", noopSimulate, nil)
	require.NoError(t, err)
	require.Equal(t, bond.OutcomeStillLocked, out)
	require.Empty(t, broadcaster.sent)
}

func TestLockedTriggersReactiveSettlementThenWithdraws(t *testing.T) {
	pool := &stubPool{
		addr:   common.HexToAddress("0xp1"),
		record: sdk.KickerRecord{Locked: wad.MustFromString("1"), Claimable: wad.Zero},
	}
	pool.afterSettle = sdk.KickerRecord{Locked: wad.Zero, Claimable: wad.MustFromString("1")}
	runner := stubSettlementRunner{attempted: true, apply: func() { pool.settleApplied = true }}
	broadcaster := &recordingBroadcaster{}
	engine := bond.NewEngine(silentLogger(), directSubmitter{}, broadcaster, runner, kicker, false)

	policy := &settlement.Policy{MaxIterations: 3}
	out, err := engine.Run(context.Background(), pool, "p", noopSimulate, policy)
	require.NoError(t, err)
	require.Equal(t, bond.OutcomeSettledAndWithdrawn, out)
	require.Len(t, broadcaster.sent, 1)
}

func TestLockedStaysLockedWhenReactiveSettlementDoesNotQualify(t *testing.T) {
	pool := &stubPool{addr: common.HexToAddress("0xp1"), record: sdk.KickerRecord{Locked: wad.MustFromString("1"), Claimable: wad.Zero}}
	runner := stubSettlementRunner{attempted: false}
	broadcaster := &recordingBroadcaster{}
	engine := bond.NewEngine(silentLogger(), directSubmitter{}, broadcaster, runner, kicker, false)

	policy := &settlement.Policy{MaxIterations: 3}
	out, err := engine.Run(context.Background(), pool, "p", noopSimulate, policy)
	require.NoError(t, err)
	require.Equal(t, bond.OutcomeStillLocked, out)
	require.Empty(t, broadcaster.sent)
}

func TestDryRunNeverBroadcasts(t *testing.T) {
	pool := &stubPool{addr: common.HexToAddress("0xp1"), record: sdk.KickerRecord{Locked: wad.Zero, Claimable: wad.MustFromString("5")}}
	broadcaster := &recordingBroadcaster{}
	engine := bond.NewEngine(silentLogger(), directSubmitter{}, broadcaster, nil, kicker, true)

	out, err := engine.Run(context.Background(), pool, "p", noopSimulate, nil)
	require.NoError(t, err)
	require.Equal(t, bond.OutcomeWithdrawn, out)
	require.Empty(t, broadcaster.sent, "dry run must never call the broadcaster")
}

func TestKickerInfoErrorPropagates(t *testing.T) {
	pool := &erroringPool{addr: common.HexToAddress("0xp1")}
	broadcaster := &recordingBroadcaster{}
	engine := bond.NewEngine(silentLogger(), directSubmitter{}, broadcaster, nil, kicker, false)

	_, err := engine.Run(context.Background(), pool, "p", noopSimulate, nil)
	require.Error(t, err)
}

type erroringPool struct {
	sdk.Pool
	addr common.Address
}

func (p *erroringPool) Address() common.Address { return p.addr }
func (p *erroringPool) KickerInfo(ctx context.Context, kicker common.Address) (sdk.KickerRecord, error) {
	return sdk.KickerRecord{}, errors.New("rpc down")
}
