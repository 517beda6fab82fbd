// Package sdk declares the interface to the lending-protocol SDK: the
// pool/bucket/liquidation/kicker queries and transaction builders the rest
// of this module treats as an external collaborator specified only at its
// interface. A concrete implementation binds these to the protocol's
// on-chain ABI; none is provided here.
package sdk

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ajna-keeper/keeperbot/internal/wad"
)

// Loan is the on-demand, never-cached-across-iterations view of a
// borrower's position.
type Loan struct {
	Borrower        common.Address
	Debt            wad.WAD
	Collateral      wad.WAD
	NeutralPrice    wad.WAD
	ThresholdPrice  wad.WAD
	LiquidationBond wad.WAD
	InAuction       bool
}

// AuctionStatus is the on-chain liquidation state for a borrower.
type AuctionStatus struct {
	Borrower            common.Address
	Kicker              common.Address
	KickTime            int64 // unix seconds; zero means no active auction
	Price               wad.WAD
	DebtRemaining       wad.WAD
	CollateralRemaining wad.WAD
	ReferenceBucket     uint64
}

// KickerRecord is the bot's own bond position in a pool.
type KickerRecord struct {
	Locked    wad.WAD
	Claimable wad.WAD
}

// BucketInfo describes a single price bucket's exchange rate and the bot's
// position within it.
type BucketInfo struct {
	Index             uint64
	Price             wad.WAD
	ExchangeRate      wad.WAD
	LPBalance         wad.WAD
	RedeemableQuote   wad.WAD
	RedeemableCollat  wad.WAD
}

// PoolReference identifies one of the pool's four internally readable
// prices.
type PoolReference int

const (
	ReferenceHPB PoolReference = iota // highest price bucket
	ReferenceHTP                      // highest threshold price
	ReferenceLUP                      // lowest utilized price
	ReferenceLLB                      // lowest live bucket
)

// ParsePoolReference maps a config reference string (HPB|HTP|LUP|LLB) onto
// the PoolReference enum.
func ParsePoolReference(raw string) (PoolReference, error) {
	switch raw {
	case "HPB":
		return ReferenceHPB, nil
	case "HTP":
		return ReferenceHTP, nil
	case "LUP":
		return ReferenceLUP, nil
	case "LLB":
		return ReferenceLLB, nil
	default:
		return 0, fmt.Errorf("sdk: unknown pool reference %q", raw)
	}
}

// AwardEvent is a parsed "LP awarded to taker/kicker" log.
type AwardEvent struct {
	TxHash      common.Hash
	BucketIndex uint64
	TakerLP     wad.WAD
	KickerLP    wad.WAD
}

// Pool is the per-pool handle returned by the registry. All methods take a
// context since every call is a suspension point.
type Pool interface {
	Address() common.Address
	CollateralToken() common.Address
	QuoteToken() common.Address
	CollateralDecimals() uint8
	QuoteDecimals() uint8

	ReferencePrice(ctx context.Context, ref PoolReference) (wad.WAD, error)
	LoanInfo(ctx context.Context, borrower common.Address) (Loan, error)
	AuctionInfo(ctx context.Context, borrower common.Address) (AuctionStatus, error)
	KickerInfo(ctx context.Context, kicker common.Address) (KickerRecord, error)
	BucketInfo(ctx context.Context, index uint64, lpOwner common.Address) (BucketInfo, error)

	// BuildKick returns calldata that kicks borrower with the given limit
	// index.
	BuildKick(ctx context.Context, borrower common.Address, limitIndex uint64) ([]byte, error)
	// BuildBucketTake returns calldata for an arb take against bucketIndex.
	BuildBucketTake(ctx context.Context, borrower common.Address, bucketIndex uint64, depositTake bool) ([]byte, error)
	// BuildExternalTake returns calldata routed through the configured
	// on-chain take helper.
	BuildExternalTake(ctx context.Context, borrower common.Address, collateral wad.WAD, swapCalldata []byte) ([]byte, error)
	// BuildSettle returns calldata for settle(borrower, maxBucketDepth).
	BuildSettle(ctx context.Context, borrower common.Address, maxBucketDepth uint64) ([]byte, error)
	// BuildWithdrawBonds returns calldata to withdraw claimable kicker bonds.
	BuildWithdrawBonds(ctx context.Context, to common.Address) ([]byte, error)
	// BuildRemoveQuote / BuildRemoveCollateral redeem a bucket position.
	// Collateral redemption always uses BuildRemoveCollateral, never a
	// quote-removing call.
	BuildRemoveQuote(ctx context.Context, bucketIndex uint64, amount wad.WAD) ([]byte, error)
	BuildRemoveCollateral(ctx context.Context, bucketIndex uint64, amount wad.WAD) ([]byte, error)
}

// ErrAuctionNotCleared is the distinguished condition that must propagate
// from a bucket redemption up to the Bond Collector so it can trigger
// reactive settlement.
var ErrAuctionNotCleared = sdkError("sdk: auction not cleared")

type sdkError string

func (e sdkError) Error() string { return string(e) }

// AccountQuerier exposes a pool-address-free account transaction count.
// The nonce pipeline does not use it; it seeds and resyncs from its own
// nonce.AccountQuerier (PendingNonceAt).
type AccountQuerier interface {
	TransactionCount(ctx context.Context, account common.Address) (uint64, error)
}

// StaticCallError signals a failed static call simulation, e.g. the
// settlement engine's pre-flight settle() probe.
type StaticCallError struct {
	Reason string
}

func (e *StaticCallError) Error() string { return "sdk: static call failed: " + e.Reason }

// LimitIndexForPrice derives the limit bucket index a kick should be bound
// by so the bot's bond is never extended below its appetite. Concrete
// bucket-index math is protocol-specific and lives in the SDK
// implementation; this helper signature documents the contract callers
// depend on.
type LimitIndexer interface {
	LimitIndexForPrice(ctx context.Context, referencePrice wad.WAD) (uint64, error)
}
