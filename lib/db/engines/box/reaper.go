package box

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var reaperLog = logger.GetLogger("reaper")

// --------------------------------------------------------------------------
// Reaper (background expiration)
// --------------------------------------------------------------------------

// reaper runs pass every interval until it is stopped.
// pass returns the number of removed records.
type reaper struct {
	interval time.Duration
	pass     func() int

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
}

func newReaper(interval time.Duration, pass func() int) *reaper {
	ctx, cancel := context.WithCancel(context.Background())
	return &reaper{
		interval: interval,
		pass:     pass,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// start launches the reaper goroutine. Calling start more than once has no effect.
func (r *reaper) start() {
	r.startOnce.Do(func() {
		// a reaper that was stopped before it started never runs
		if r.ctx.Err() != nil {
			return
		}
		r.started.Store(true)
		go r.run()
	})
}

// stop signals the reaper and blocks until a pass in flight has completed.
// Calling stop more than once has no effect.
func (r *reaper) stop() {
	r.cancel()
	r.startOnce.Do(func() {}) // a later start must not launch the goroutine
	if r.started.Load() {
		<-r.done
	}
}

func (r *reaper) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	reaperLog.Debugf("reaper started (interval %s)", r.interval)

	for {
		select {
		case <-r.ctx.Done():
			reaperLog.Debugf("reaper stopped")
			return
		case <-ticker.C:
			// a stop signal that arrived together with the tick wins
			if r.ctx.Err() != nil {
				reaperLog.Debugf("reaper stopped")
				return
			}
			r.runOnce()
		}
	}
}

// runOnce executes one pass. A panic is logged and does not stop the reaper.
func (r *reaper) runOnce() (removed int) {
	defer func() {
		if rec := recover(); rec != nil {
			reaperLog.Errorf("reaper pass failed: %v", rec)
			removed = 0
		}
	}()

	removed = r.pass()
	if removed > 0 {
		reaperLog.Infof("removed %d expired records", removed)
	}
	return removed
}
