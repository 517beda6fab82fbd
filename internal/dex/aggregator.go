package dex

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/ajna-keeper/keeperbot/internal/wad"
)

// DefaultAggregatorBaseURL is the 1inch swap API base; config carries only
// `one_inch_routers` (chain id -> router address), not the API base, so it
// is fixed here.
const DefaultAggregatorBaseURL = "https://api.1inch.dev/swap/v6.0"

// AggregatorProvider implements Provider against an HTTP swap-aggregator
// API. It quotes via the aggregator's quote endpoint and, on Swap, fetches
// calldata for a raw transaction that the caller signs and submits through
// the nonce pipeline.
type AggregatorProvider struct {
	baseURL string
	routers map[uint64]common.Address // chain id -> router address
	http    *http.Client
	limiter *rate.Limiter
	signer  RawTxSender
}

// RawTxSender signs and sends an already-encoded raw aggregator transaction.
type RawTxSender interface {
	SendRaw(ctx context.Context, to common.Address, calldata []byte, value *big.Int) (Receipt, error)
}

// NewAggregatorProvider builds a Provider for a one-inch-style aggregator API.
func NewAggregatorProvider(baseURL string, routers map[uint64]common.Address, signer RawTxSender) *AggregatorProvider {
	return &AggregatorProvider{
		baseURL: baseURL,
		routers: routers,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(2), 2),
		signer:  signer,
	}
}

type aggregatorQuoteResponse struct {
	ToAmount string `json:"toAmount"`
}

type aggregatorSwapResponse struct {
	Tx struct {
		To   string `json:"to"`
		Data string `json:"data"`
	} `json:"tx"`
}

func (a *AggregatorProvider) Quote(ctx context.Context, req SwapRequest) (wad.WAD, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return wad.Zero, err
	}
	url := fmt.Sprintf("%s/quote?fromTokenAddress=%s&toTokenAddress=%s&amount=%s",
		a.baseURL, req.TokenIn.Hex(), req.TokenOut.Hex(), req.Amount.BigInt().String())

	var out aggregatorQuoteResponse
	if err := a.getJSON(ctx, url, &out); err != nil {
		return wad.Zero, err
	}

	amount, ok := new(big.Int).SetString(out.ToAmount, 10)
	if !ok {
		return wad.Zero, fmt.Errorf("dex: aggregator returned malformed amount %q", out.ToAmount)
	}
	return wad.FromBigInt(amount)
}

func (a *AggregatorProvider) Swap(ctx context.Context, req SwapRequest) (Receipt, error) {
	if a.signer == nil {
		return Receipt{}, fmt.Errorf("dex: aggregator provider has no raw tx sender configured")
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return Receipt{}, err
	}
	// MinimumOut is computed so an out-of-range slippage is rejected before
	// the aggregator is asked to build a transaction at all; the
	// aggregator's own `slippage` query parameter then enforces it on-chain.
	if _, err := MinimumOut(req.Amount, req.Slippage); err != nil {
		return Receipt{}, err
	}

	url := fmt.Sprintf("%s/swap?fromTokenAddress=%s&toTokenAddress=%s&amount=%s&fromAddress=%s&slippage=%f",
		a.baseURL, req.TokenIn.Hex(), req.TokenOut.Hex(), req.Amount.BigInt().String(), req.Recipient.Hex(), req.Slippage)

	var out aggregatorSwapResponse
	if err := a.getJSON(ctx, url, &out); err != nil {
		return Receipt{}, err
	}

	to := common.HexToAddress(out.Tx.To)
	calldata := common.FromHex(out.Tx.Data)
	return a.signer.SendRaw(ctx, to, calldata, big.NewInt(0))
}

func (a *AggregatorProvider) getJSON(ctx context.Context, url string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dex: aggregator request to %s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
