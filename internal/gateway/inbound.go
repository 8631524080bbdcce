package gateway

import (
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/fxsgate/internal/hardware"
	"github.com/sebas/fxsgate/internal/line"
)

// portFromUser maps an INVITE's target user to a line port. "fxs1" and "1"
// both address the first line.
func portFromUser(user string, lines int) (int, bool) {
	digits := user
	if strings.HasPrefix(user, "fxs") {
		digits = user[3:]
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 || n > lines {
		return 0, false
	}
	return n - 1, true
}

// handleInvite rings a line for an inbound call.
func (g *Gateway) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	to := req.To()
	if to == nil {
		g.respond(req, tx, sip.StatusBadRequest, "Bad Request")
		return
	}

	portID, ok := portFromUser(to.Address.User, g.ctrl.Lines())
	if !ok {
		g.log.Info("[Gateway] INVITE for unknown line", "user", to.Address.User)
		g.respond(req, tx, sip.StatusNotFound, "Not Found")
		return
	}

	rm, err := parseSDP(req.Body())
	if err != nil {
		g.log.Info("[Gateway] INVITE with bad SDP", "error", err)
		g.respond(req, tx, sip.StatusBadRequest, "Bad Request")
		return
	}
	peerCodec, ok := selectCodec(rm.formats, g.cfg.LineCodec)
	if !ok {
		g.respond(req, tx, sip.StatusNotAcceptable, "Not Acceptable Here")
		return
	}

	g.respond(req, tx, sip.StatusTrying, "Trying")

	dlg, err := g.dialogUA.ReadInvite(req, tx)
	if err != nil {
		g.log.Error("[Gateway] Dialog setup failed", "error", err)
		g.respond(req, tx, sip.StatusInternalServerError, "Server Error")
		return
	}

	conn, err := g.openRTP()
	if err != nil {
		g.log.Error("[Gateway] RTP socket failed", "error", err)
		g.respond(req, tx, sip.StatusInternalServerError, "Server Error")
		_ = dlg.Close()
		return
	}

	c := &call{
		sessionID: uuid.New().String(),
		callID:    string(*req.CallID()),
		portID:    portID,
		inbound:   true,
		conn:      conn,
		lineCodec: g.cfg.LineCodec,
		peerCodec: peerCodec,
		dlg:       dlg,
		inviteReq: req,
		inviteTx:  tx,
	}
	c.remote.Store(&net.UDPAddr{IP: net.ParseIP(rm.addr), Port: rm.port})
	g.register(c)

	cid := callerID(req)

	g.log.Info("[Gateway] Inbound call",
		"session", c.sessionID, "port", portID, "from", cid.Number, "codec", peerCodec.Name)

	if err := g.ctrl.Call(portID, c.sessionID, g.cfg.LineCodec, cid); err != nil {
		if errors.Is(err, line.ErrLineBusy) {
			// The controller already signaled busy; the 486 went (or goes)
			// out through SignalBusy's once guard.
			g.SignalBusy(c.sessionID)
		} else {
			g.log.Error("[Gateway] Line ring failed", "session", c.sessionID, "error", err)
			c.finalOnce.Do(func() {
				g.respond(req, tx, sip.StatusInternalServerError, "Server Error")
			})
		}
		g.teardown(c)
	}
}

// callerID extracts the caller's number and name from the From header.
func callerID(req *sip.Request) *hardware.CallerID {
	from := req.From()
	if from == nil {
		return &hardware.CallerID{}
	}
	return &hardware.CallerID{
		Number: from.Address.User,
		Name:   strings.Trim(from.DisplayName, "\""),
	}
}

func (g *Gateway) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	c, ok := g.byDialog(string(*req.CallID()))
	if !ok || c.dlg == nil {
		return
	}
	if err := c.dlg.ReadAck(req, tx); err != nil {
		g.log.Debug("[Gateway] ACK handling note", "session", c.sessionID, "error", err)
	}
}

// handleBye ends the session when the peer hangs up. The line stays in
// CallEnded with busy tone until the handset goes back on hook.
func (g *Gateway) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	c, ok := g.byDialog(string(*req.CallID()))
	if !ok {
		g.respond(req, tx, 481, "Call/Transaction Does Not Exist")
		return
	}

	if c.dlg != nil {
		if err := c.dlg.ReadBye(req, tx); err != nil {
			g.log.Debug("[Gateway] BYE handling note", "session", c.sessionID, "error", err)
			g.respond(req, tx, sip.StatusOK, "OK")
		}
	} else {
		g.respond(req, tx, sip.StatusOK, "OK")
	}

	g.log.Info("[Gateway] Remote hangup", "session", c.sessionID, "port", c.portID)
	if err := g.ctrl.Hangup(c.sessionID); err != nil {
		g.log.Debug("[Gateway] Hangup after BYE", "session", c.sessionID, "error", err)
	}
	g.teardown(c)
}

// handleCancel aborts a ringing inbound call per RFC 3261 Section 9.2.
func (g *Gateway) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	c, ok := g.byDialog(string(*req.CallID()))
	if !ok || !c.inbound {
		g.respond(req, tx, 481, "Call/Transaction Does Not Exist")
		return
	}

	g.respond(req, tx, sip.StatusOK, "OK")

	c.finalOnce.Do(func() {
		terminated := sip.NewResponseFromRequest(c.inviteReq, 487, "Request Terminated", nil)
		if err := c.inviteTx.Respond(terminated); err != nil {
			g.log.Error("[Gateway] 487 failed", "session", c.sessionID, "error", err)
		}
	})

	g.log.Info("[Gateway] Inbound call canceled", "session", c.sessionID, "port", c.portID)
	if err := g.ctrl.Hangup(c.sessionID); err != nil {
		g.log.Debug("[Gateway] Hangup after CANCEL", "session", c.sessionID, "error", err)
	}
	g.teardown(c)
}

func (g *Gateway) respond(req *sip.Request, tx sip.ServerTransaction, code sip.StatusCode, reason string) {
	resp := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(resp); err != nil {
		g.log.Debug("[Gateway] Response failed", "status", int(code), "error", err)
	}
}
