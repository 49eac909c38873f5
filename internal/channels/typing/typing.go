// Package typing provides a small keepalive loop for platform "is typing"
// indicators, which most chat APIs expire after a few seconds and require
// re-sending on a timer for the duration of a long-running agent turn.
package typing

import (
	"log/slog"
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// StartFn is called immediately and then again every KeepaliveInterval
	// until Stop is called or MaxDuration elapses.
	StartFn func() error

	// KeepaliveInterval is how often StartFn is re-invoked to refresh the
	// platform's typing indicator before it expires.
	KeepaliveInterval time.Duration

	// MaxDuration bounds how long the controller keeps refreshing, as a
	// safety net against a stuck indicator if Stop is never called.
	MaxDuration time.Duration
}

// Controller runs a keepalive loop in its own goroutine once started.
type Controller struct {
	opts    Options
	stop    chan struct{}
	stopped sync.Once
}

// New creates a Controller. Call Start to begin the keepalive loop.
func New(opts Options) *Controller {
	return &Controller{opts: opts, stop: make(chan struct{})}
}

// Start fires StartFn once and launches the keepalive goroutine.
func (c *Controller) Start() {
	if err := c.opts.StartFn(); err != nil {
		slog.Debug("typing: initial indicator failed", "error", err)
	}
	go c.run()
}

func (c *Controller) run() {
	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.opts.MaxDuration)
	defer deadline.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			if err := c.opts.StartFn(); err != nil {
				slog.Debug("typing: keepalive indicator failed", "error", err)
			}
		}
	}
}

// Stop ends the keepalive loop. Safe to call more than once.
func (c *Controller) Stop() {
	c.stopped.Do(func() { close(c.stop) })
}
