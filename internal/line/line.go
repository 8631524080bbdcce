// Package line owns the per-port call state machines of an analog line
// device and mediates between the hardware event stream and a call control
// sink.
package line

import (
	"sync/atomic"
	"time"

	"github.com/sebas/fxsgate/internal/hardware"
	"github.com/sebas/fxsgate/internal/media"
)

// MaxDialDigits bounds the dial buffer; one more digit aborts the dial.
const MaxDialDigits = 24

// mediaBinding ties a connected line to its session and framer. Installed
// when a call connects, cleared on teardown, loaded lock-free by the media
// path.
type mediaBinding struct {
	sessionID string
	framer    *media.Framer
}

// Line is one port's call record. All fields except binding are guarded by
// the controller's registry lock.
type Line struct {
	PortID  int
	Context string

	port  hardware.Port
	state State

	dialBuf   []byte
	dialTimer *time.Timer
	// dialGen invalidates timers that fire after a cancel or re-arm.
	dialGen uint64

	// pendingCodec is the codec negotiated for a ringing inbound call,
	// applied when the handset is lifted.
	pendingCodec media.Codec

	binding atomic.Pointer[mediaBinding]

	dialStart  time.Time
	setupDelay time.Duration
	callStart  time.Time
	callAnswer time.Time
	jitter     hardware.JitterStats
}
