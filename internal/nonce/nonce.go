// Package nonce implements the single-account sequential nonce pipeline:
// callers submit a closure that receives the next nonce, the pipeline
// waits for it to finish before releasing the next slot, and on an
// observed gap it resynchronizes from the chain and retries once. A
// mutex-guarded sequential-state machine that seeds from an external
// source of truth — the chain's own transaction count — rather than
// trusting in-memory state alone, since the keeper carries no persisted
// state of its own.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// AccountQuerier reads the chain's authoritative next-nonce for an account.
type AccountQuerier interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// ErrGap is returned by a submitted closure to signal the node rejected the
// assigned nonce as out of sequence, triggering one resync-and-retry.
var ErrGap = errors.New("nonce: gap detected, resyncing from chain")

// Pipeline assigns strictly increasing nonces for one signing account.
// Submissions are serialized: Submit blocks until the previous closure has
// completed, guaranteeing a later-assigned nonce is never sent before an
// earlier one is accepted.
type Pipeline struct {
	account common.Address
	querier AccountQuerier

	mu   sync.Mutex
	next uint64
	seen bool
}

// NewPipeline constructs a pipeline for account. The first Submit call seeds
// next from the chain.
func NewPipeline(account common.Address, querier AccountQuerier) *Pipeline {
	return &Pipeline{account: account, querier: querier}
}

// Submit assigns the next nonce, invokes fn with it, and only returns once
// fn has completed. If fn returns ErrGap, the pipeline resyncs next from
// the chain's current pending nonce and retries fn exactly once with the
// resynced value.
func (p *Pipeline) Submit(ctx context.Context, fn func(ctx context.Context, assigned uint64) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureSeededLocked(ctx); err != nil {
		return fmt.Errorf("nonce: seed pipeline: %w", err)
	}

	assigned := p.next
	err := fn(ctx, assigned)
	if err == nil {
		p.next = assigned + 1
		return nil
	}
	if !errors.Is(err, ErrGap) {
		return err
	}

	if resyncErr := p.resyncLocked(ctx); resyncErr != nil {
		return fmt.Errorf("nonce: resync after gap: %w", resyncErr)
	}
	assigned = p.next
	if retryErr := fn(ctx, assigned); retryErr != nil {
		return retryErr
	}
	p.next = assigned + 1
	return nil
}

func (p *Pipeline) ensureSeededLocked(ctx context.Context) error {
	if p.seen {
		return nil
	}
	return p.resyncLocked(ctx)
}

func (p *Pipeline) resyncLocked(ctx context.Context) error {
	latest, err := p.querier.PendingNonceAt(ctx, p.account)
	if err != nil {
		return err
	}
	p.next = latest
	p.seen = true
	return nil
}

// Peek returns the nonce that would be assigned to the next Submit call,
// without assigning it. Intended for diagnostics/logging only.
func (p *Pipeline) Peek() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next, p.seen
}
