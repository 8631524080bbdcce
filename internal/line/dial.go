package line

import (
	"time"

	"github.com/sebas/fxsgate/internal/hardware"
)

// digitEvent routes a dialed digit by line state: during a call it is
// relayed to the sink as DTMF, off hook it opens a dial, while dialing it
// feeds the collector.
func (c *Controller) digitEvent(portID int, digit byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.line(portID)
	if err != nil {
		return err
	}

	switch l.state {
	case StateInCall:
		sessionID, ok := c.sessions.sessionOf(l.PortID)
		if !ok {
			c.log.Warn("[Controller] Digit in call without session", "port", portID)
			return nil
		}
		c.sink.QueueDigit(sessionID, digit)
		return nil
	case StateOffHook:
		l.state = StateDialing
		if err := l.port.PlayTone(hardware.ToneNone); err != nil {
			c.log.Error("[Controller] Tone stop failed", "port", portID, "error", err)
		}
		c.collectDigit(l, digit)
		return nil
	case StateDialing:
		c.collectDigit(l, digit)
		return nil
	default:
		c.log.Debug("[Controller] Digit ignored", "port", portID, "state", l.state.String())
		return nil
	}
}

// collectDigit appends one digit to the dial buffer. '#' closes the dial
// immediately; any other digit restarts the inter-digit timer. One digit
// past the buffer cap aborts the dial with busy tone. Caller holds the
// registry lock.
func (c *Controller) collectDigit(l *Line, digit byte) {
	if digit == '#' {
		c.cancelDialTimer(l)
		c.evaluateDial(l)
		return
	}

	if len(l.dialBuf) >= MaxDialDigits {
		c.log.Warn("[Controller] Dial buffer overflow", "port", l.PortID)
		c.cancelDialTimer(l)
		l.state = StateCallEnded
		if err := l.port.PlayTone(hardware.ToneBusy); err != nil {
			c.log.Error("[Controller] Busy tone failed", "port", l.PortID, "error", err)
		}
		l.dialBuf = l.dialBuf[:0]
		return
	}

	l.dialBuf = append(l.dialBuf, digit)
	c.armDialTimer(l)
	c.log.Debug("[Controller] Digit collected", "port", l.PortID, "digits", len(l.dialBuf))
}

// armDialTimer replaces the line's inter-digit timer. At most one timer is
// live per line; the generation counter voids late fires from a replaced
// timer. Caller holds the registry lock.
func (c *Controller) armDialTimer(l *Line) {
	c.cancelDialTimer(l)
	l.dialGen++
	gen := l.dialGen
	portID := l.PortID
	l.dialTimer = time.AfterFunc(c.interdigit, func() {
		c.dialTimeout(portID, gen)
	})
}

// cancelDialTimer stops the pending timer, if any, and bumps the generation
// so an already-fired timer waiting on the lock becomes a no-op. Caller
// holds the registry lock.
func (c *Controller) cancelDialTimer(l *Line) {
	if l.dialTimer != nil {
		l.dialTimer.Stop()
		l.dialTimer = nil
	}
	l.dialGen++
}

// dialTimeout fires when the inter-digit timer expires. A stale fire, for a
// line that is no longer dialing or a timer since replaced, does nothing.
func (c *Controller) dialTimeout(portID int, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.line(portID)
	if err != nil {
		return
	}
	if gen != l.dialGen {
		return
	}
	l.dialTimer = nil
	if l.state != StateDialing {
		c.log.Debug("[Controller] Stale dial timer", "port", portID, "state", l.state.String())
		return
	}
	c.evaluateDial(l)
}

// evaluateDial resolves the collected digits against the line's dialplan
// context. A match originates a call through the sink; no match or an
// originate failure plays busy and ends the attempt. The buffer is cleared
// either way. Caller holds the registry lock.
func (c *Controller) evaluateDial(l *Line) {
	digits := string(l.dialBuf)
	l.dialBuf = l.dialBuf[:0]

	if !c.dialplan.Exists(l.Context, digits) {
		c.log.Info("[Controller] No extension for dialed digits",
			"port", l.PortID, "context", l.Context, "digits", digits)
		c.failDial(l)
		return
	}

	l.dialStart = time.Now()
	sessionID, err := c.sink.Originate(OriginateRequest{
		PortID:    l.PortID,
		Context:   l.Context,
		Extension: digits,
	})
	if err != nil {
		c.log.Error("[Controller] Originate failed",
			"port", l.PortID, "digits", digits, "error", err)
		c.failDial(l)
		return
	}

	l.state = StateInCall
	l.callStart = time.Now().UTC().Truncate(time.Second)
	c.sessions.add(sessionID, l.PortID)
	c.log.Info("[Controller] Call originated",
		"port", l.PortID, "session", sessionID, "digits", digits)
}

// failDial ends a dial attempt with busy tone. Caller holds the registry
// lock; the buffer is already cleared.
func (c *Controller) failDial(l *Line) {
	l.state = StateCallEnded
	if err := l.port.PlayTone(hardware.ToneBusy); err != nil {
		c.log.Error("[Controller] Busy tone failed", "port", l.PortID, "error", err)
	}
}

// resetDial clears the dial buffer and cancels any pending timer. Caller
// holds the registry lock.
func (c *Controller) resetDial(l *Line) {
	c.cancelDialTimer(l)
	l.dialBuf = l.dialBuf[:0]
}
