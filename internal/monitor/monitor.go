// Package monitor drives the line device: one background goroutine polls
// for readiness, drains device events into the controller, and pumps ready
// voice packets through the media path.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/fxsgate/internal/hardware"
)

// DefaultPollTimeout bounds each device poll so cancellation is noticed.
const DefaultPollTimeout = 2 * time.Second

// Dispatcher consumes what the monitor reads off the device. An error from
// HandleEvent means the event stream can no longer be trusted and is fatal;
// errors from HandleMediaReadable are logged and the loop continues.
type Dispatcher interface {
	HandleEvent(ev hardware.Event) error
	HandleMediaReadable(port int) error
}

// Config assembles a Monitor.
type Config struct {
	Device     hardware.Device
	Dispatcher Dispatcher
	// PollTimeout defaults to DefaultPollTimeout when zero.
	PollTimeout time.Duration
	// OnFatal is invoked once when the loop gives up on the event
	// stream. The loop has already exited when it runs.
	OnFatal func(error)
	Logger  *slog.Logger
}

// Monitor owns the polling goroutine. Start, Stop and Restart are guarded
// by the lifecycle lock and safe to call from any goroutine.
type Monitor struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Monitor {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{cfg: cfg, log: log}
}

// Start launches the polling loop. Starting a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
	m.log.Info("[Monitor] Started", "poll_timeout", m.cfg.PollTimeout)
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped
// monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
	m.log.Info("[Monitor] Stopped")
}

// Restart bounces the polling loop, picking up a device whose event queue
// was reset.
func (m *Monitor) Restart() {
	m.Stop()
	m.Start()
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := m.cfg.Device.Poll(m.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Error("[Monitor] Poll failed", "error", err)
			continue
		}

		if res.Events {
			if !m.drainEvents(ctx) {
				return
			}
		}
		for _, port := range res.Media {
			if err := m.cfg.Dispatcher.HandleMediaReadable(port); err != nil {
				m.log.Error("[Monitor] Media read failed", "port", port, "error", err)
			}
		}
	}
}

// drainEvents pops queued events until the device reports None. Returns
// false when the dispatcher declares the stream desynchronized.
func (m *Monitor) drainEvents(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}

		ev, err := m.cfg.Device.NextEvent()
		if err != nil {
			m.log.Error("[Monitor] Event read failed", "error", err)
			return true
		}
		if ev.Kind == hardware.EventNone {
			return true
		}

		if err := m.cfg.Dispatcher.HandleEvent(ev); err != nil {
			m.log.Error("[Monitor] Event stream desynchronized",
				"kind", ev.Kind.String(), "port", ev.Port, "error", err)
			if m.cfg.OnFatal != nil {
				// Fatal delivery happens off the loop goroutine so
				// the handler may Stop the monitor.
				go m.cfg.OnFatal(err)
			}
			return false
		}
	}
}
