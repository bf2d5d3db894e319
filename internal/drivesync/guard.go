package drivesync

import (
	"context"
	"errors"
	"sync"
)

var ErrRunInProgress = errors.New("run already in progress")

// RunGuard lets the scheduler and manual triggers share one driver without
// overlapping runs, and remembers the latest summary.
type RunGuard struct {
	driver *Driver
	run    sync.Mutex

	mu      sync.Mutex
	last    RunRecord
	hasLast bool
}

// RunRecord is a finished run and the error it ended with, if any.
type RunRecord struct {
	Summary RunSummary
	Err     error
}

func NewRunGuard(driver *Driver) *RunGuard {
	return &RunGuard{driver: driver}
}

// Run fails with ErrRunInProgress instead of waiting for a run in flight.
func (g *RunGuard) Run(ctx context.Context) (RunSummary, error) {
	if !g.run.TryLock() {
		return RunSummary{}, ErrRunInProgress
	}
	defer g.run.Unlock()

	summary, err := g.driver.Run(ctx)
	g.mu.Lock()
	g.last, g.hasLast = RunRecord{Summary: summary, Err: err}, true
	g.mu.Unlock()
	return summary, err
}

func (g *RunGuard) LastRun() (RunRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.hasLast
}
