package nonce_test

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ajna-keeper/keeperbot/internal/nonce"
)

type stubQuerier struct {
	mu    sync.Mutex
	calls int
	value uint64
}

func (s *stubQuerier) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.value, nil
}

func TestSubmitSeedsFromChainOnFirstCall(t *testing.T) {
	q := &stubQuerier{value: 7}
	p := nonce.NewPipeline(common.HexToAddress("0x1"), q)

	var assignedNonce uint64
	err := p.Submit(context.Background(), func(ctx context.Context, assigned uint64) error {
		assignedNonce = assigned
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(7), assignedNonce)
	require.Equal(t, 1, q.calls)
}

func TestSubmitAssignsMonotonicallyIncreasingNonces(t *testing.T) {
	q := &stubQuerier{value: 0}
	p := nonce.NewPipeline(common.HexToAddress("0x1"), q)

	var assignedInOrder []uint64
	for i := 0; i < 5; i++ {
		err := p.Submit(context.Background(), func(ctx context.Context, assigned uint64) error {
			assignedInOrder = append(assignedInOrder, assigned)
			return nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{0, 1, 2, 3, 4}, assignedInOrder)
}

func TestSubmitConcurrentCallsAreSerializedAndDistinct(t *testing.T) {
	q := &stubQuerier{value: 100}
	p := nonce.NewPipeline(common.HexToAddress("0x1"), q)

	const n = 20
	results := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Submit(context.Background(), func(ctx context.Context, assigned uint64) error {
				results <- assigned
				return nil
			})
		}()
	}
	wg.Wait()
	close(results)

	seen := map[uint64]bool{}
	for v := range results {
		require.False(t, seen[v], "nonce %d assigned more than once", v)
		seen[v] = true
	}
	require.Len(t, seen, n)
}

func TestSubmitResyncsAndRetriesOnceOnGap(t *testing.T) {
	q := &stubQuerier{value: 50}
	p := nonce.NewPipeline(common.HexToAddress("0x1"), q)

	attempts := 0
	err := p.Submit(context.Background(), func(ctx context.Context, assigned uint64) error {
		attempts++
		if attempts == 1 {
			return nonce.ErrGap
		}
		require.Equal(t, uint64(50), assigned)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Equal(t, 2, q.calls) // seed + resync
}

func TestSubmitPropagatesNonGapErrors(t *testing.T) {
	q := &stubQuerier{value: 0}
	p := nonce.NewPipeline(common.HexToAddress("0x1"), q)

	err := p.Submit(context.Background(), func(ctx context.Context, assigned uint64) error {
		return context.DeadlineExceeded
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	nextNonce, seeded := p.Peek()
	require.True(t, seeded)
	require.Equal(t, uint64(0), nextNonce, "nonce slot must not advance when fn fails without a gap")
}
