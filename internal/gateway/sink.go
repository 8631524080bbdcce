package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/fxsgate/internal/line"
	"github.com/sebas/fxsgate/internal/media"
)

// Originate sets up an outbound SIP call for digits a line dialed. The
// INVITE dialog runs on its own goroutine; progress comes back through the
// controller's Indicate/Answer/Hangup entry points.
func (g *Gateway) Originate(req line.OriginateRequest) (string, error) {
	ext, ok := g.dialplan.Lookup(req.Context, req.Extension)
	if !ok {
		return "", fmt.Errorf("no extension %s in context %s", req.Extension, req.Context)
	}
	target := ext.Resolve(req.Extension)

	conn, err := g.openRTP()
	if err != nil {
		return "", err
	}

	c := &call{
		sessionID: uuid.New().String(),
		callID:    uuid.New().String(),
		portID:    req.PortID,
		lineCodec: g.cfg.LineCodec,
		conn:      conn,
	}
	// The cancel func must be in place before the call is visible to
	// SignalHangup; the INVITE goroutine never writes it.
	dialCtx, cancel := context.WithTimeout(context.Background(), g.cfg.DialTimeout)
	c.cancelInvite = cancel
	g.register(c)

	g.log.Info("[Gateway] Originating call",
		"session", c.sessionID, "port", req.PortID, "target", target)
	go g.runOutbound(dialCtx, c, target, req.Extension)

	return c.sessionID, nil
}

// DeliverVoice relays a voice frame from the line to the peer's RTP
// endpoint, transcoding between the G.711 laws when they differ.
func (g *Gateway) DeliverVoice(sessionID string, frame media.VoiceFrame) {
	c, ok := g.bySession(sessionID)
	if !ok {
		return
	}
	remote := c.remote.Load()
	peerCodec, tx := c.txMedia()
	if remote == nil || tx == nil {
		return
	}

	out := frame
	if frame.Codec.PayloadType != peerCodec.PayloadType {
		var err error
		out, err = media.Transcode(frame, peerCodec)
		if err != nil {
			g.log.Debug("[Gateway] Voice dropped", "session", sessionID, "error", err)
			return
		}
	}

	packets, err := tx.Packetize(out.Payload)
	if err != nil {
		g.log.Error("[Gateway] Packetize failed", "session", sessionID, "error", err)
		return
	}
	for _, pkt := range packets {
		if _, err := c.conn.WriteToUDP(pkt, remote); err != nil {
			g.log.Debug("[Gateway] RTP send failed", "session", sessionID, "error", err)
			return
		}
	}
}

// SignalRinging answers an inbound INVITE with 180 Ringing.
func (g *Gateway) SignalRinging(sessionID string) {
	c, ok := g.bySession(sessionID)
	if !ok || !c.inbound {
		return
	}
	ringing := sip.NewResponseFromRequest(c.inviteReq, sip.StatusRinging, "Ringing", nil)
	if err := c.inviteTx.Respond(ringing); err != nil {
		g.log.Error("[Gateway] 180 Ringing failed", "session", sessionID, "error", err)
	}
}

// SignalAnswer completes an inbound INVITE with 200 OK and the SDP answer,
// then starts relaying the peer's RTP toward the line.
func (g *Gateway) SignalAnswer(sessionID string) {
	c, ok := g.bySession(sessionID)
	if !ok || !c.inbound {
		return
	}

	body, err := buildSDP(g.cfg.AdvertiseAddr, c.rtpPort(), c.peerCodec)
	if err != nil {
		g.log.Error("[Gateway] SDP answer failed", "session", sessionID, "error", err)
		return
	}

	c.finalOnce.Do(func() {
		if err := c.dlg.RespondSDP(body); err != nil {
			g.log.Error("[Gateway] 200 OK failed", "session", sessionID, "error", err)
			return
		}
		c.setConnected(c.peerCodec)
		c.markAnswered()
		go g.readLoop(c)
		g.log.Info("[Gateway] Call answered", "session", sessionID, "port", c.portID)
	})
}

// SignalBusy rejects an inbound INVITE with 486 Busy Here.
func (g *Gateway) SignalBusy(sessionID string) {
	c, ok := g.bySession(sessionID)
	if !ok || !c.inbound {
		return
	}
	c.finalOnce.Do(func() {
		busy := sip.NewResponseFromRequest(c.inviteReq, sip.StatusBusyHere, "Busy Here", nil)
		if err := c.inviteTx.Respond(busy); err != nil {
			g.log.Error("[Gateway] 486 Busy failed", "session", sessionID, "error", err)
		}
	})
}

// SignalHangup tears a session's SIP leg down after the line ended the
// call: BYE for answered dialogs, CANCEL for a still-pending outbound
// INVITE, 486 for an unanswered inbound one.
func (g *Gateway) SignalHangup(sessionID string) {
	c, ok := g.bySession(sessionID)
	if !ok {
		return
	}
	c.localHangup.Store(true)

	switch {
	case c.inbound && c.isAnswered():
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.dlg.Bye(ctx); err != nil {
				g.log.Error("[Gateway] BYE failed", "session", sessionID, "error", err)
			}
			g.teardown(c)
		}()
		return
	case c.inbound:
		c.finalOnce.Do(func() {
			busy := sip.NewResponseFromRequest(c.inviteReq, sip.StatusBusyHere, "Busy Here", nil)
			if err := c.inviteTx.Respond(busy); err != nil {
				g.log.Error("[Gateway] Final response failed", "session", sessionID, "error", err)
			}
		})
	case c.byeInfo() != nil:
		go func() {
			if err := g.sendBYE(c); err != nil {
				g.log.Error("[Gateway] BYE failed", "session", sessionID, "error", err)
			}
			g.teardown(c)
		}()
		return
	case c.cancelInvite != nil:
		// The INVITE loop sends the CANCEL and cleans up.
		c.cancelInvite()
		return
	}

	g.teardown(c)
}

// QueueDigit accepts in-call DTMF from the line. Out-of-band relay is not
// implemented; the digit already travels in-band in the voice stream.
func (g *Gateway) QueueDigit(sessionID string, digit byte) {
	g.log.Debug("[Gateway] In-call digit", "session", sessionID, "digit", string(digit))
}

// readLoop pumps the peer's RTP into the line until the socket closes.
func (g *Gateway) readLoop(c *call) {
	rx := c.rxMedia()
	if rx == nil {
		return
	}
	buf := make([]byte, media.TransportBufferLen)
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		frame, err := rx.Depacketize(buf[:n])
		if err != nil {
			var ptErr *media.PayloadTypeError
			if errors.Is(err, media.ErrComfortNoise) || errors.As(err, &ptErr) {
				continue
			}
			g.log.Debug("[Gateway] Bad RTP packet", "session", c.sessionID, "error", err)
			continue
		}

		if frame.Codec.PayloadType != c.lineCodec.PayloadType {
			out, err := media.Transcode(frame, c.lineCodec)
			if err != nil {
				continue
			}
			frame = out
		}

		if err := g.ctrl.WriteVoice(c.sessionID, frame); err != nil {
			g.log.Debug("[Gateway] Voice toward line failed", "session", c.sessionID, "error", err)
		}
	}
}
