// Package rewardqueue implements the Reward Action Queue: accumulates
// pending Transfer/Exchange actions keyed by a deterministic fingerprint of
// the action itself, and flushes them with a bounded retry budget.
// Structured as a mutex-guarded map plus a single drain method, with the
// key fingerprint computed via lukechampine.com/blake3 over fixed-field-order
// JSON for speed over stdlib sha256.
package rewardqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/blake3"

	"github.com/ajna-keeper/keeperbot/internal/config"
	"github.com/ajna-keeper/keeperbot/internal/dex"
	"github.com/ajna-keeper/keeperbot/internal/wad"
)

// maxRetries bounds how many consecutive flush failures an Exchange entry
// tolerates before it is dropped.
const maxRetries = 3

// Action is a queued reward disposition: either Transfer{to} or
// Exchange{target token, slippage, provider}. Token and To/TargetToken are
// normalized to their canonical hex form before hashing so address casing
// never produces two keys for the same logical action.
type Action struct {
	Token        common.Address
	Kind         config.RewardActionKind
	To           common.Address
	TargetToken  common.Address
	DEXProvider  config.LiquiditySource
	Slippage     float64
	FeeTier      *uint32
}

type fingerprintFields struct {
	Token       string  `json:"token"`
	Kind        string  `json:"kind"`
	To          string  `json:"to,omitempty"`
	TargetToken string  `json:"target_token,omitempty"`
	DEXProvider string  `json:"dex_provider,omitempty"`
	Slippage    float64 `json:"slippage,omitempty"`
	FeeTier     uint32  `json:"fee_tier,omitempty"`
}

// key computes the order-independent fingerprint for a: Go's
// encoding/json already serializes struct fields in their fixed declared
// order (not alphabetical), so the same logical action always produces
// the same bytes and therefore the same key, regardless of call order.
func (a Action) key() (string, error) {
	fields := fingerprintFields{
		Token:       a.Token.Hex(),
		Kind:        string(a.Kind),
		To:          a.To.Hex(),
		TargetToken: a.TargetToken.Hex(),
		DEXProvider: string(a.DEXProvider),
		Slippage:    a.Slippage,
	}
	if a.FeeTier != nil {
		fields.FeeTier = *a.FeeTier
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("rewardqueue: encode action: %w", err)
	}
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}

// Transferrer moves amount of token to an address, returning the built
// transaction's submission seam.
type Transferrer interface {
	Transfer(ctx context.Context, token, to common.Address, amount wad.WAD) error
}

// Queue accumulates reward actions and flushes them in deterministic,
// key-sorted order each cycle.
type Queue struct {
	logger      *slog.Logger
	router      *dex.Router
	transfer    Transferrer
	recipient   common.Address
	mu          sync.Mutex
	amounts     map[string]wad.WAD
	actions     map[string]Action
	retries     map[string]int
}

// NewQueue constructs an empty Reward Action Queue. recipient is the
// bot's own address, used as the swap recipient for Exchange actions.
func NewQueue(logger *slog.Logger, router *dex.Router, transferrer Transferrer, recipient common.Address) *Queue {
	return &Queue{
		logger:    logger,
		router:    router,
		transfer:  transferrer,
		recipient: recipient,
		amounts:   map[string]wad.WAD{},
		actions:   map[string]Action{},
		retries:   map[string]int{},
	}
}

// Enqueue adds amount to the accumulated total for action's fingerprint.
func (q *Queue) Enqueue(action Action, amount wad.WAD) error {
	key, err := action.key()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.actions[key] = action
	q.amounts[key] = q.amounts[key].Add(amount)
	return nil
}

// Len reports the number of distinct pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// HandleAll iterates every non-zero entry in deterministic key order and
// attempts to execute it.
func (q *Queue) HandleAll(ctx context.Context) error {
	q.mu.Lock()
	keys := make([]string, 0, len(q.actions))
	for key := range q.actions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	q.mu.Unlock()

	for _, key := range keys {
		q.mu.Lock()
		amount, ok := q.amounts[key]
		action := q.actions[key]
		q.mu.Unlock()
		if !ok || amount.IsZero() {
			continue
		}

		var err error
		switch action.Kind {
		case config.ActionTransfer:
			err = q.transfer.Transfer(ctx, action.Token, action.To, amount)
		case config.ActionExchange:
			err = q.exchange(ctx, action, amount)
		default:
			err = fmt.Errorf("rewardqueue: unknown action kind %q", action.Kind)
		}

		if err == nil {
			q.remove(key)
			continue
		}
		if action.Kind == config.ActionTransfer {
			// Transfer failures propagate rather than retry here.
			return err
		}
		q.bumpRetry(key)
	}
	return nil
}

func (q *Queue) exchange(ctx context.Context, action Action, amount wad.WAD) error {
	_, err := q.router.Swap(ctx, dex.SwapRequest{
		Amount:    amount,
		TokenIn:   action.Token,
		TokenOut:  action.TargetToken,
		Recipient: q.recipient,
		Provider:  action.DEXProvider,
		Slippage:  action.Slippage,
		FeeTier:   action.FeeTier,
	})
	return err
}

func (q *Queue) remove(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.amounts, key)
	delete(q.actions, key)
	delete(q.retries, key)
}

func (q *Queue) bumpRetry(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retries[key]++
	if q.retries[key] >= maxRetries {
		q.logger.Error("reward action exceeded retry budget, dropping", "key", key, "retries", q.retries[key])
		delete(q.amounts, key)
		delete(q.actions, key)
		delete(q.retries, key)
	}
}
