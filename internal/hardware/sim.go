package hardware

import (
	"errors"
	"sync"
	"time"

	"github.com/sebas/fxsgate/internal/media"
)

// ErrDeviceClosed is returned by simulator operations after Close.
var ErrDeviceClosed = errors.New("device closed")

// SimDevice is an in-process Device used by tests and by development runs
// without analog hardware. Test hooks (Push*, per-port accessors) inject
// events and inspect port state.
type SimDevice struct {
	mu     sync.Mutex
	ports  []*SimPort
	events []Event
	wake   chan struct{}
	closed bool
}

func NewSimDevice(ports int) *SimDevice {
	d := &SimDevice{wake: make(chan struct{}, 1)}
	for i := 0; i < ports; i++ {
		d.ports = append(d.ports, &SimPort{dev: d, id: i, hook: HookOn})
	}
	return d
}

func (d *SimDevice) Ports() int      { return len(d.ports) }
func (d *SimDevice) Port(i int) Port { return d.ports[i] }

// Sim returns the concrete simulated port for test inspection.
func (d *SimDevice) Sim(i int) *SimPort { return d.ports[i] }

func (d *SimDevice) Poll(timeout time.Duration) (PollResult, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		res, closed := d.gather()
		if closed {
			return PollResult{}, ErrDeviceClosed
		}
		if res.Events || len(res.Media) > 0 {
			return res, nil
		}
		select {
		case <-d.wake:
		case <-deadline.C:
			return PollResult{}, nil
		}
	}
}

func (d *SimDevice) gather() (PollResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return PollResult{}, true
	}
	res := PollResult{Events: len(d.events) > 0}
	for _, p := range d.ports {
		if p.pendingMedia() {
			res.Media = append(res.Media, p.id)
		}
	}
	return res, false
}

func (d *SimDevice) NextEvent() (Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Event{}, ErrDeviceClosed
	}
	if len(d.events) == 0 {
		return Event{Kind: EventNone}, nil
	}
	ev := d.events[0]
	d.events = d.events[1:]
	return ev, nil
}

func (d *SimDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
	return nil
}

func (d *SimDevice) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// PushEvent queues a raw device event and wakes the poller.
func (d *SimDevice) PushEvent(ev Event) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	d.signal()
}

// PushHook flips a port's hook switch and queues the matching event.
func (d *SimDevice) PushHook(port int, off bool) {
	p := d.ports[port]
	p.mu.Lock()
	if off {
		p.hook = HookOff
	} else {
		p.hook = HookOn
	}
	p.mu.Unlock()

	kind := EventHookOn
	if off {
		kind = EventHookOff
	}
	d.PushEvent(Event{Kind: kind, Port: port})
}

// PushDigit queues a DTMF digit event.
func (d *SimDevice) PushDigit(port int, digit byte) {
	d.PushEvent(Event{Kind: EventDigit, Port: port, Digit: digit})
}

// PushPulse queues a pulse-dialed digit event.
func (d *SimDevice) PushPulse(port int, pulse uint8) {
	d.PushEvent(Event{Kind: EventPulseDigit, Port: port, Pulse: pulse})
}

// PushMedia queues one inbound voice packet on a port and wakes the poller.
func (d *SimDevice) PushMedia(port int, pkt []byte) {
	p := d.ports[port]
	p.mu.Lock()
	p.inbound = append(p.inbound, append([]byte(nil), pkt...))
	p.mu.Unlock()
	d.signal()
}

// SimPort implements Port against in-memory state.
type SimPort struct {
	dev *SimDevice
	id  int

	mu       sync.Mutex
	hook     Hook
	ringing  bool
	ringCID  *CallerID
	tone     Tone
	tones    []Tone
	feed     LineFeed
	codec    media.Codec
	coderOn  bool
	inbound  [][]byte
	outbound [][]byte
	jitter   JitterStats

	// FailEncoder makes ConfigureEncoder fail, for answer-abort tests.
	FailEncoder bool
}

func (p *SimPort) HookStatus() (Hook, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hook, nil
}

func (p *SimPort) SetRing(on bool, cid *CallerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ringing = on
	if on {
		p.ringCID = cid
	} else {
		p.ringCID = nil
	}
	return nil
}

func (p *SimPort) PlayTone(t Tone) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tone = t
	p.tones = append(p.tones, t)
	return nil
}

func (p *SimPort) SetLineFeed(mode LineFeed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feed = mode
	return nil
}

func (p *SimPort) ConfigureEncoder(codec media.Codec) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailEncoder {
		return errors.New("encoder configuration rejected")
	}
	p.codec = codec
	p.coderOn = true
	return nil
}

func (p *SimPort) StopCoder() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coderOn = false
	return nil
}

func (p *SimPort) ReadPacket(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.inbound) == 0 {
		return 0, errors.New("no packet pending")
	}
	pkt := p.inbound[0]
	p.inbound = p.inbound[1:]
	return copy(buf, pkt), nil
}

func (p *SimPort) WritePacket(pkt []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outbound = append(p.outbound, append([]byte(nil), pkt...))
	return nil
}

func (p *SimPort) JitterStats() (JitterStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jitter, nil
}

func (p *SimPort) pendingMedia() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inbound) > 0
}

// Test inspection accessors.

func (p *SimPort) Ringing() (bool, *CallerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ringing, p.ringCID
}

func (p *SimPort) Tone() Tone {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tone
}

// ToneHistory returns every tone played, in order.
func (p *SimPort) ToneHistory() []Tone {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Tone(nil), p.tones...)
}

func (p *SimPort) Feed() LineFeed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.feed
}

func (p *SimPort) Codec() (media.Codec, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codec, p.coderOn
}

// Written returns every packet the controller wrote to the port.
func (p *SimPort) Written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.outbound))
	copy(out, p.outbound)
	return out
}

// SetHook sets the hook position without queueing an event.
func (p *SimPort) SetHook(h Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hook = h
}

// SetJitter seeds the jitter counters returned by JitterStats.
func (p *SimPort) SetJitter(js JitterStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jitter = js
}
