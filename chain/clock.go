// Package chain provides the logical clock the ledger engines run against.
// Block height orders time-based accrual, the unix timestamp drives price
// staleness checks and claim intervals.
package chain

import (
	"context"
	"time"

	"go.uber.org/atomic"
)

// Clock exposes the two time axes of the host ledger.
type Clock interface {
	// Block returns the current logical block height.
	Block() int64
	// Now returns the current unix timestamp in seconds.
	Now() int64
}

// Ticker is the production clock. Block height advances on a fixed interval,
// Now follows the wall clock.
type Ticker struct {
	block    atomic.Int64
	interval time.Duration
}

// NewTicker returns a ticker clock starting at the given block height.
func NewTicker(startBlock int64, interval time.Duration) *Ticker {
	t := &Ticker{interval: interval}
	t.block.Store(startBlock)
	return t
}

// Run advances the block height until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.block.Inc()
		}
	}
}

// Block returns the current logical block height.
func (t *Ticker) Block() int64 {
	return t.block.Load()
}

// Now returns the current unix timestamp.
func (t *Ticker) Now() int64 {
	return time.Now().Unix()
}

// Manual is a hand-driven clock for tests.
type Manual struct {
	block atomic.Int64
	now   atomic.Int64
}

// NewManual returns a manual clock positioned at the given block and time.
func NewManual(block, now int64) *Manual {
	m := &Manual{}
	m.block.Store(block)
	m.now.Store(now)
	return m
}

// Block returns the current logical block height.
func (m *Manual) Block() int64 {
	return m.block.Load()
}

// Now returns the current unix timestamp.
func (m *Manual) Now() int64 {
	return m.now.Load()
}

// AdvanceBlocks moves the block height forward by n.
func (m *Manual) AdvanceBlocks(n int64) {
	m.block.Add(n)
}

// AdvanceTime moves the timestamp forward by d seconds.
func (m *Manual) AdvanceTime(d int64) {
	m.now.Add(d)
}
