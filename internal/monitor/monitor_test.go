package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sebas/fxsgate/internal/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	events   []hardware.Event
	media    []int
	eventErr error
	mediaErr error
}

func (d *fakeDispatcher) HandleEvent(ev hardware.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return d.eventErr
}

func (d *fakeDispatcher) HandleMediaReadable(port int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.media = append(d.media, port)
	return d.mediaErr
}

func (d *fakeDispatcher) eventCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func (d *fakeDispatcher) mediaCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.media)
}

func TestMonitorDispatchesEvents(t *testing.T) {
	dev := hardware.NewSimDevice(2)
	disp := &fakeDispatcher{}
	m := New(Config{Device: dev, Dispatcher: disp, PollTimeout: 20 * time.Millisecond})
	m.Start()
	defer m.Stop()

	dev.PushDigit(1, '7')
	dev.PushHook(0, true)

	require.Eventually(t, func() bool {
		return disp.eventCount() == 2
	}, time.Second, 5*time.Millisecond)

	disp.mu.Lock()
	defer disp.mu.Unlock()
	assert.Equal(t, hardware.EventDigit, disp.events[0].Kind)
	assert.Equal(t, byte('7'), disp.events[0].Digit)
	assert.Equal(t, hardware.EventHookOff, disp.events[1].Kind)
}

func TestMonitorDispatchesMedia(t *testing.T) {
	dev := hardware.NewSimDevice(2)
	disp := &fakeDispatcher{mediaErr: errors.New("decode failed")}
	m := New(Config{Device: dev, Dispatcher: disp, PollTimeout: 20 * time.Millisecond})
	m.Start()
	defer m.Stop()

	dev.PushMedia(1, []byte{1, 2, 3})

	// A failing media handler is logged, the loop keeps running.
	require.Eventually(t, func() bool {
		return disp.mediaCount() >= 1
	}, time.Second, 5*time.Millisecond)

	dev.PushDigit(0, '1')
	require.Eventually(t, func() bool {
		return disp.eventCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMonitorFatalOnDesync(t *testing.T) {
	dev := hardware.NewSimDevice(1)
	fatal := make(chan error, 1)
	disp := &fakeDispatcher{eventErr: errors.New("undecodable event")}
	m := New(Config{
		Device:      dev,
		Dispatcher:  disp,
		PollTimeout: 20 * time.Millisecond,
		OnFatal:     func(err error) { fatal <- err },
	})
	m.Start()
	defer m.Stop()

	dev.PushEvent(hardware.Event{Kind: hardware.EventKind(99), Port: 0})

	select {
	case err := <-fatal:
		assert.ErrorContains(t, err, "undecodable")
	case <-time.After(time.Second):
		t.Fatal("fatal handler not invoked")
	}

	// The loop exited: further events are not dispatched.
	before := disp.eventCount()
	dev.PushDigit(0, '1')
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, disp.eventCount())
}

func TestMonitorStopIsPrompt(t *testing.T) {
	dev := hardware.NewSimDevice(1)
	m := New(Config{Device: dev, Dispatcher: &fakeDispatcher{}, PollTimeout: 50 * time.Millisecond})
	m.Start()

	start := time.Now()
	m.Stop()
	assert.Less(t, time.Since(start), time.Second)

	// Idempotent.
	m.Stop()
}

func TestMonitorRestart(t *testing.T) {
	dev := hardware.NewSimDevice(1)
	disp := &fakeDispatcher{}
	m := New(Config{Device: dev, Dispatcher: disp, PollTimeout: 20 * time.Millisecond})
	m.Start()
	m.Restart()
	defer m.Stop()

	dev.PushDigit(0, '2')
	require.Eventually(t, func() bool {
		return disp.eventCount() == 1
	}, time.Second, 5*time.Millisecond)
}
