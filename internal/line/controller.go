package line

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/fxsgate/internal/hardware"
	"github.com/sebas/fxsgate/internal/media"
)

// DefaultInterdigitTimeout is how long the dial collector waits for the
// next digit before evaluating what it has.
const DefaultInterdigitTimeout = 2000 * time.Millisecond

// Extensions is the dialed-digit lookup the controller consults when a dial
// completes.
type Extensions interface {
	Exists(context, digits string) bool
}

// Config assembles a Controller.
type Config struct {
	Device   hardware.Device
	Dialplan Extensions
	// InterdigitTimeout defaults to DefaultInterdigitTimeout when zero.
	InterdigitTimeout time.Duration
	// PerPortContext gives every line its own dialplan context
	// ("fxs1".."fxsN") instead of the shared "default".
	PerPortContext bool
	Logger         *slog.Logger
}

// Controller serializes every call state transition of every line behind
// one registry lock, taken by both execution contexts: sink entry points
// and monitor dispatch. The voice read/write path stays off that lock.
type Controller struct {
	// mu is the registry lock guarding line state and dial buffers.
	mu    sync.Mutex
	lines []*Line

	sessions *sessionTable
	dialplan Extensions
	sink     Sink

	interdigit time.Duration
	log        *slog.Logger
}

// New builds the line registry from the device's ports. A port whose hook
// status cannot be established makes startup fail.
func New(cfg Config) (*Controller, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("device required")
	}
	if cfg.Dialplan == nil {
		return nil, fmt.Errorf("dialplan required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	interdigit := cfg.InterdigitTimeout
	if interdigit <= 0 {
		interdigit = DefaultInterdigitTimeout
	}

	c := &Controller{
		sessions:   newSessionTable(),
		dialplan:   cfg.Dialplan,
		interdigit: interdigit,
		log:        log,
	}

	for i := 0; i < cfg.Device.Ports(); i++ {
		port := cfg.Device.Port(i)
		hook, err := port.HookStatus()
		if err != nil {
			return nil, fmt.Errorf("port %d: read hook status: %w", i, err)
		}

		var state State
		switch hook {
		case hardware.HookOn:
			state = StateOnHook
		case hardware.HookOff:
			state = StateOffHook
		default:
			return nil, fmt.Errorf("port %d: hook status unknown", i)
		}

		context := "default"
		if cfg.PerPortContext {
			context = fmt.Sprintf("fxs%d", i+1)
		}

		c.lines = append(c.lines, &Line{
			PortID:  i,
			Context: context,
			port:    port,
			state:   state,
		})
		log.Debug("[Controller] Line registered", "port", i, "context", context, "state", state.String())
	}

	return c, nil
}

// SetSink wires the call control sink. Must be called before any call
// traffic; split from New because controller and sink reference each other.
func (c *Controller) SetSink(s Sink) { c.sink = s }

// Lines returns the number of registered lines.
func (c *Controller) Lines() int { return len(c.lines) }

func (c *Controller) line(portID int) (*Line, error) {
	if portID < 0 || portID >= len(c.lines) {
		return nil, fmt.Errorf("%w: port %d", ErrNoSuchLine, portID)
	}
	return c.lines[portID], nil
}

// LineState reports a line's call state.
func (c *Controller) LineState(portID int) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.line(portID)
	if err != nil {
		return StateUnknown, err
	}
	return l.state, nil
}

// DeviceState summarizes a line's availability.
func (c *Controller) DeviceState(portID int) (DeviceState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.line(portID)
	if err != nil {
		return DeviceInvalid, err
	}
	return deviceStateOf(l.state), nil
}

// Call rings a line for an inbound session. Only an idle (OnHook) line
// accepts; anything else reports busy. The encoder is programmed up front
// so a coder the hardware rejects fails the call before ringing starts.
func (c *Controller) Call(portID int, sessionID string, codec media.Codec, cid *hardware.CallerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.line(portID)
	if err != nil {
		return err
	}
	if l.state != StateOnHook {
		c.log.Debug("[Controller] Call rejected, line not idle",
			"port", portID, "state", l.state.String(), "session", sessionID)
		c.sink.SignalBusy(sessionID)
		return ErrLineBusy
	}

	if err := l.port.ConfigureEncoder(codec); err != nil {
		return fmt.Errorf("port %d: configure encoder: %w", portID, err)
	}
	if err := l.port.SetRing(true, cid); err != nil {
		c.log.Error("[Controller] Ring start failed", "port", portID, "error", err)
	}

	l.state = StateRinging
	l.pendingCodec = codec
	c.sessions.add(sessionID, portID)
	c.log.Info("[Controller] Line ringing", "port", portID, "session", sessionID, "codec", codec.Name)
	c.sink.SignalRinging(sessionID)
	return nil
}

// Hangup tears a session down from the sink side. A still-ringing (or
// already idle) line goes quiet immediately; a line in conversation keeps
// hearing busy tone until the handset lands back on hook.
func (c *Controller) Hangup(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.sessionLine(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	switch l.state {
	case StateRinging, StateOnHook:
		if err := l.port.SetRing(false, nil); err != nil {
			c.log.Error("[Controller] Ring stop failed", "port", l.PortID, "error", err)
		}
		l.state = StateOnHook
	default:
		l.state = StateCallEnded
		if err := l.port.PlayTone(hardware.ToneBusy); err != nil {
			c.log.Error("[Controller] Busy tone failed", "port", l.PortID, "error", err)
		}
	}

	c.refreshJitterStats(l)
	c.clearSession(l, sessionID)
	c.resetDial(l)
	c.log.Info("[Controller] Session hung up", "port", l.PortID, "session", sessionID, "state", l.state.String())
	return nil
}

// Answer reports the remote side answered a call this line originated. The
// encoder must accept the negotiated codec or the answer is aborted.
func (c *Controller) Answer(sessionID string, codec media.Codec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.sessionLine(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	if err := l.port.ConfigureEncoder(codec); err != nil {
		return fmt.Errorf("port %d: configure encoder: %w", l.PortID, err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	l.callAnswer = now
	if l.callStart.IsZero() {
		l.callStart = now
	}
	if l.state == StateRinging {
		l.state = StateInCall
	}
	l.binding.Store(&mediaBinding{sessionID: sessionID, framer: media.NewFramer(codec)})
	c.log.Info("[Controller] Call answered", "port", l.PortID, "session", sessionID, "codec", codec.Name)
	return nil
}

// Indicate maps a sink condition onto a local tone. Ringing and progress
// indications also record the call setup delay.
func (c *Controller) Indicate(sessionID string, cond Condition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.sessionLine(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	var tone hardware.Tone
	switch cond {
	case ConditionStop:
		tone = hardware.ToneNone
	case ConditionBusy:
		tone = hardware.ToneBusy
	case ConditionCongestion:
		tone = hardware.ToneCongestion
	case ConditionRinging, ConditionProgress:
		if !l.dialStart.IsZero() {
			l.setupDelay = time.Since(l.dialStart)
		}
		tone = hardware.ToneRinging
	default:
		return fmt.Errorf("%w: %s", ErrUnhandledCondition, cond)
	}

	c.log.Debug("[Controller] Indication", "port", l.PortID, "condition", cond.String())
	if err := l.port.PlayTone(tone); err != nil {
		return fmt.Errorf("port %d: play tone: %w", l.PortID, err)
	}
	return nil
}

// DigitBegin is the entry point for out-of-band DTMF arriving from the
// sink. DTMF toward the handset already travels in-band in the voice
// path, so the port needs nothing started here.
func (c *Controller) DigitBegin(sessionID string, digit byte) error { return nil }

// DigitEnd completes a DigitBegin and is ignored the same way.
func (c *Controller) DigitEnd(sessionID string, digit byte, duration time.Duration) error {
	return nil
}

// WriteVoice packetizes a voice frame from the sink and writes it to the
// line device. Runs lock-free against the registry: frames for lines
// without a connected call are dropped, as are frames in a codec other
// than the negotiated one.
func (c *Controller) WriteVoice(sessionID string, frame media.VoiceFrame) error {
	portID, ok := c.sessions.portOf(sessionID)
	if !ok {
		c.log.Debug("[Controller] Voice for unknown session dropped", "session", sessionID)
		return nil
	}
	l := c.lines[portID]

	b := l.binding.Load()
	if b == nil || b.sessionID != sessionID {
		c.log.Debug("[Controller] Voice before connect dropped", "port", portID)
		return nil
	}
	if frame.Codec.PayloadType != b.framer.Codec().PayloadType {
		c.log.Debug("[Controller] Voice codec mismatch dropped",
			"port", portID, "got", frame.Codec.Name, "want", b.framer.Codec().Name)
		return nil
	}
	if len(frame.Payload) == 0 {
		return nil
	}

	packets, err := b.framer.Packetize(frame.Payload)
	if err != nil {
		return fmt.Errorf("port %d: %w", portID, err)
	}
	for _, pkt := range packets {
		if err := l.port.WritePacket(pkt); err != nil {
			return fmt.Errorf("port %d: write voice packet: %w", portID, err)
		}
	}
	return nil
}

// HandleMediaReadable reads one voice packet from a port and delivers it to
// the sink. Called by the monitor when the device reports the port ready.
func (c *Controller) HandleMediaReadable(portID int) error {
	l, err := c.line(portID)
	if err != nil {
		return err
	}

	buf := make([]byte, media.TransportBufferLen)
	n, err := l.port.ReadPacket(buf)
	if err != nil {
		return fmt.Errorf("port %d: read voice packet: %w", portID, err)
	}

	b := l.binding.Load()
	if b == nil {
		// No connected call, nowhere to deliver.
		return nil
	}

	frame, err := b.framer.Depacketize(buf[:n])
	if err != nil {
		var ptErr *media.PayloadTypeError
		switch {
		case errors.Is(err, media.ErrComfortNoise):
			c.log.Debug("[Controller] Comfort noise dropped", "port", portID)
			return nil
		case errors.As(err, &ptErr):
			c.log.Debug("[Controller] Payload type mismatch dropped",
				"port", portID, "got", ptErr.Got, "want", ptErr.Want)
			return nil
		default:
			return fmt.Errorf("port %d: %w", portID, err)
		}
	}

	c.sink.DeliverVoice(b.sessionID, frame)
	return nil
}

// HandleEvent dispatches one device event. An event kind outside the table
// returns ErrEventDesync, which the monitor escalates as fatal.
func (c *Controller) HandleEvent(ev hardware.Event) error {
	switch ev.Kind {
	case hardware.EventNone:
		return nil
	case hardware.EventHookOn:
		return c.hookEvent(ev.Port, false)
	case hardware.EventHookOff:
		return c.hookEvent(ev.Port, true)
	case hardware.EventDigit:
		return c.digitEvent(ev.Port, ev.Digit)
	case hardware.EventPulseDigit:
		return c.digitEvent(ev.Port, pulseToDigit(ev.Pulse))
	case hardware.EventCoderChange, hardware.EventToneEnd, hardware.EventCallerIDEnd:
		// Consumed without action.
		return nil
	default:
		return fmt.Errorf("%w: kind %d on port %d", ErrEventDesync, ev.Kind, ev.Port)
	}
}

// pulseToDigit maps a rotary pulse count to its digit; ten pulses are zero.
func pulseToDigit(pulse uint8) byte {
	if pulse == 0xB {
		return '0'
	}
	return '0' + pulse
}

func (c *Controller) hookEvent(portID int, off bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.line(portID)
	if err != nil {
		return err
	}
	c.log.Debug("[Controller] Hook event", "port", portID, "off", off, "state", l.state.String())

	if off {
		c.hookOff(l)
		return nil
	}
	c.hookOn(l)
	return nil
}

func (c *Controller) hookOff(l *Line) {
	if err := l.port.SetLineFeed(hardware.LineFeedActive); err != nil {
		c.log.Error("[Controller] Line feed activation failed", "port", l.PortID, "error", err)
		return
	}

	if l.state == StateRinging {
		c.acceptCall(l)
		return
	}

	l.state = StateOffHook
	if err := l.port.PlayTone(hardware.ToneDial); err != nil {
		c.log.Error("[Controller] Dial tone failed", "port", l.PortID, "error", err)
	}
}

func (c *Controller) hookOn(l *Line) {
	switch l.state {
	case StateDialing, StateOffHook:
		c.resetDial(l)
	case StateInCall, StateCallEnded:
		c.endSession(l)
	case StateRinging:
		// The handset was already down; stop the ringer and drop the
		// pending session so the registry does not leak it.
		if err := l.port.SetRing(false, nil); err != nil {
			c.log.Error("[Controller] Ring stop failed", "port", l.PortID, "error", err)
		}
		c.endSession(l)
	}

	l.state = StateOnHook
	c.standby(l)
}

// endSession terminates whatever session owns the line and tells the sink.
func (c *Controller) endSession(l *Line) {
	sessionID, ok := c.sessions.sessionOf(l.PortID)
	if !ok {
		return
	}
	c.refreshJitterStats(l)
	c.clearSession(l, sessionID)
	c.sink.SignalHangup(sessionID)
	c.log.Info("[Controller] Session ended by line", "port", l.PortID, "session", sessionID)
}

// acceptCall connects a ringing inbound call after the handset is lifted.
func (c *Controller) acceptCall(l *Line) {
	sessionID, ok := c.sessions.sessionOf(l.PortID)
	if !ok {
		c.log.Warn("[Controller] Ringing line has no session", "port", l.PortID)
		return
	}

	if err := l.port.PlayTone(hardware.ToneNone); err != nil {
		c.log.Error("[Controller] Tone stop failed", "port", l.PortID, "error", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	l.state = StateInCall
	l.callStart = now
	l.callAnswer = now
	l.binding.Store(&mediaBinding{sessionID: sessionID, framer: media.NewFramer(l.pendingCodec)})
	c.sink.SignalAnswer(sessionID)
	c.log.Info("[Controller] Call accepted", "port", l.PortID, "session", sessionID)
}

// standby parks the port: line feed to standby, coder halted, tones off.
func (c *Controller) standby(l *Line) {
	if err := l.port.SetLineFeed(hardware.LineFeedStandby); err != nil {
		c.log.Error("[Controller] Line feed standby failed", "port", l.PortID, "error", err)
	}
	if err := l.port.StopCoder(); err != nil {
		c.log.Error("[Controller] Coder stop failed", "port", l.PortID, "error", err)
	}
	if err := l.port.PlayTone(hardware.ToneNone); err != nil {
		c.log.Error("[Controller] Tone stop failed", "port", l.PortID, "error", err)
	}
}

// clearSession removes the session binding and media binding of a line.
// Caller holds the registry lock.
func (c *Controller) clearSession(l *Line, sessionID string) {
	c.sessions.removeByID(sessionID)
	l.binding.Store(nil)
}

func (c *Controller) sessionLine(sessionID string) (*Line, bool) {
	portID, ok := c.sessions.portOf(sessionID)
	if !ok {
		return nil, false
	}
	return c.lines[portID], true
}

func (c *Controller) refreshJitterStats(l *Line) {
	js, err := l.port.JitterStats()
	if err != nil {
		c.log.Debug("[Controller] Jitter stats unavailable", "port", l.PortID, "error", err)
		return
	}
	l.jitter = js
}

// ChannelAttribute reads one diagnostic attribute of a session's line.
func (c *Controller) ChannelAttribute(sessionID, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.sessionLine(sessionID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	switch name {
	case "csd":
		return fmt.Sprintf("%d", l.setupDelay.Milliseconds()), nil
	case "jitter_stats":
		c.refreshJitterStats(l)
		return fmt.Sprintf("jbBufSize=%d,jbUnderflow=%d,jbOverflow=%d,jbDelay=%d,jbInvalid=%d",
			l.jitter.BufSize, l.jitter.Underflow, l.jitter.Overflow, l.jitter.Delay, l.jitter.Invalid), nil
	case "jbBufSize":
		return fmt.Sprintf("%d", l.jitter.BufSize), nil
	case "jbUnderflow":
		return fmt.Sprintf("%d", l.jitter.Underflow), nil
	case "jbOverflow":
		return fmt.Sprintf("%d", l.jitter.Overflow), nil
	case "jbDelay":
		return fmt.Sprintf("%d", l.jitter.Delay), nil
	case "jbInvalid":
		return fmt.Sprintf("%d", l.jitter.Invalid), nil
	case "start":
		return formatMark(l.callStart), nil
	case "answer":
		return formatMark(l.callAnswer), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAttribute, name)
	}
}

func formatMark(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

// Shutdown force-terminates every active session. The caller stops the sink
// first so no new traffic arrives, and stops the monitor afterwards.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range c.lines {
		c.cancelDialTimer(l)
		sessionID, ok := c.sessions.sessionOf(l.PortID)
		if !ok {
			continue
		}
		if l.state == StateRinging {
			if err := l.port.SetRing(false, nil); err != nil {
				c.log.Error("[Controller] Ring stop failed", "port", l.PortID, "error", err)
			}
		}
		c.clearSession(l, sessionID)
		c.sink.SignalHangup(sessionID)
		l.state = StateOnHook
		c.standby(l)
		c.log.Info("[Controller] Session terminated on shutdown", "port", l.PortID, "session", sessionID)
	}
}
