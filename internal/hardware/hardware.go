// Package hardware defines the contract between the line controller and an
// analog line device: per-port commands, the device event stream, and the
// readiness poll the event monitor drives. A simulated device backs tests
// and development; real backends live behind the same two interfaces.
package hardware

import (
	"time"

	"github.com/sebas/fxsgate/internal/media"
)

// Hook is the physical hook switch position of a port.
type Hook int

const (
	HookUnknown Hook = iota
	HookOn
	HookOff
)

var hookNames = [...]string{
	HookUnknown: "Unknown",
	HookOn:      "OnHook",
	HookOff:     "OffHook",
}

func (h Hook) String() string {
	if h < 0 || int(h) >= len(hookNames) {
		return "Invalid"
	}
	return hookNames[h]
}

// Tone selects a locale call-progress tone. Codes follow the device's tone
// table; busy and congestion share a code on this hardware.
type Tone int

const (
	ToneNone       Tone = 0
	ToneDial       Tone = 25
	ToneRinging    Tone = 26
	ToneBusy       Tone = 27
	ToneCongestion Tone = 27
	ToneWaiting    Tone = 37
)

// LineFeed selects the port's line feed mode.
type LineFeed int

const (
	LineFeedStandby LineFeed = iota
	LineFeedActive
)

// EventKind identifies a device event. Kinds the controller consumes
// without action (coder change, tone end, caller id end) are still decoded
// so the monitor can drain them.
type EventKind int

const (
	EventNone EventKind = iota
	EventHookOn
	EventHookOff
	EventDigit
	EventPulseDigit
	EventCoderChange
	EventToneEnd
	EventCallerIDEnd
)

var eventKindNames = [...]string{
	EventNone:        "None",
	EventHookOn:      "HookOn",
	EventHookOff:     "HookOff",
	EventDigit:       "Digit",
	EventPulseDigit:  "PulseDigit",
	EventCoderChange: "CoderChange",
	EventToneEnd:     "ToneEnd",
	EventCallerIDEnd: "CallerIDEnd",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return "Invalid"
	}
	return eventKindNames[k]
}

// Event is one decoded device event. Digit carries the ASCII digit for
// EventDigit; Pulse carries the raw pulse count for EventPulseDigit.
type Event struct {
	Kind  EventKind
	Port  int
	Digit byte
	Pulse uint8
}

// CallerID carries the calling party identity signaled during ring.
type CallerID struct {
	Number string
	Name   string
}

// JitterStats is a snapshot of a port's jitter buffer counters.
type JitterStats struct {
	BufSize   uint16
	Underflow uint32
	Overflow  uint32
	Delay     uint16
	Invalid   uint16
}

// PollResult reports what became ready during a Poll: whether device events
// are pending and which ports have voice packets to read.
type PollResult struct {
	Events bool
	Media  []int
}

// Port is one analog line endpoint.
type Port interface {
	// HookStatus reads the current hook switch position.
	HookStatus() (Hook, error)
	// SetRing starts or stops ringing. A non-nil caller id is signaled
	// with ring start.
	SetRing(on bool, cid *CallerID) error
	// PlayTone plays a call-progress tone; ToneNone silences the port.
	PlayTone(t Tone) error
	SetLineFeed(mode LineFeed) error
	// ConfigureEncoder programs the voice coder for the given codec and
	// starts it.
	ConfigureEncoder(codec media.Codec) error
	// StopCoder halts both encoder and decoder.
	StopCoder() error
	// ReadPacket reads one voice transport packet into buf.
	ReadPacket(buf []byte) (int, error)
	// WritePacket hands one voice transport packet to the device.
	WritePacket(pkt []byte) error
	JitterStats() (JitterStats, error)
}

// Device is an analog line device with a fixed number of ports.
type Device interface {
	Ports() int
	Port(i int) Port
	// Poll blocks until an event or port media is ready, or the timeout
	// elapses. A zero PollResult after timeout is not an error.
	Poll(timeout time.Duration) (PollResult, error)
	// NextEvent pops one pending event. When the queue is empty it
	// returns an Event with Kind EventNone.
	NextEvent() (Event, error)
	Close() error
}
