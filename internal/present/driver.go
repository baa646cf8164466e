package present

import (
	"context"
	"time"
)

// DefaultInterval is a 60 Hz redraw rate.
const DefaultInterval = time.Second / 60

// Ticker is what a Driver paces.
type Ticker interface {
	Tick() int
}

// Driver calls Tick at a fixed rate, standing in for a display's redraw
// callback when running headless.
type Driver struct {
	target   Ticker
	interval time.Duration
}

// NewDriver creates a Driver. A non-positive interval means DefaultInterval.
func NewDriver(target Ticker, interval time.Duration) *Driver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Driver{target: target, interval: interval}
}

// Run ticks until ctx is canceled.
func (d *Driver) Run(ctx context.Context) error {
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			d.target.Tick()
		}
	}
}
