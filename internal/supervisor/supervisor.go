// Package supervisor implements the Keeper Supervisor: four independent
// per-pool periodic loops (kick, take, bond-collect, lp-collect) run
// concurrently, each iterating its opted-in pools with
// delay_between_actions between pools and delay_between_runs between full
// cycles. Generalized from a single goroutine + signal.NotifyContext
// shutdown shape into four independent scheduler loops.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ajna-keeper/keeperbot/internal/registry"
)

// Action runs one pool's pass for a given loop. Errors are logged by the
// loop and never stop the schedule: loop failures are caught, logged, and
// do not terminate the loop.
type Action func(ctx context.Context, entry registry.Entry) error

// Eligible reports whether entry opted into this loop's action.
type Eligible func(entry registry.Entry) bool

// Loop pairs one action with the predicate selecting which pools run it.
type Loop struct {
	Name     string
	Eligible Eligible
	Action   Action
}

// Supervisor runs a fixed set of independent per-pool loops against a
// shared registry.
type Supervisor struct {
	logger              *slog.Logger
	registry            *registry.Registry
	loops               []Loop
	delayBetweenActions time.Duration
	delayBetweenRuns    time.Duration
}

// New constructs a Supervisor over reg, running every loop in loops.
func New(logger *slog.Logger, reg *registry.Registry, loops []Loop, delayBetweenActions, delayBetweenRuns time.Duration) *Supervisor {
	return &Supervisor{
		logger:              logger,
		registry:            reg,
		loops:               loops,
		delayBetweenActions: delayBetweenActions,
		delayBetweenRuns:    delayBetweenRuns,
	}
}

// Run starts every configured loop and blocks until ctx is cancelled. The
// four loops are independent: a stall in one never stalls the others, and
// a panicking action is recovered and logged so its loop keeps running.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, loop := range s.loops {
		wg.Add(1)
		go func(loop Loop) {
			defer wg.Done()
			s.runLoop(ctx, loop)
		}(loop)
	}
	wg.Wait()
}

func (s *Supervisor) runLoop(ctx context.Context, loop Loop) {
	for {
		for _, entry := range s.registry.All() {
			if ctx.Err() != nil {
				return
			}
			if !loop.Eligible(entry) {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("loop action panicked", "loop", loop.Name, "pool", entry.Config.Name, "panic", r)
					}
				}()
				if err := loop.Action(ctx, entry); err != nil {
					s.logger.Error("loop action failed", "loop", loop.Name, "pool", entry.Config.Name, "error", err)
				}
			}()
			if !sleep(ctx, s.delayBetweenActions) {
				return
			}
		}
		if !sleep(ctx, s.delayBetweenRuns) {
			return
		}
	}
}

// sleep waits for d or ctx cancellation, reporting false if ctx was
// cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
