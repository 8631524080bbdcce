package gateway

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/fxsgate/internal/line"
	"github.com/sebas/fxsgate/internal/media"
)

// runOutbound drives one outbound INVITE dialog to completion. Failures
// end the line's call attempt through the controller's Hangup.
func (g *Gateway) runOutbound(dialCtx context.Context, c *call, targetURI, callerUser string) {
	defer c.cancelInvite()

	localTag := generateTag()

	// Offer the line codec first, the other G.711 law as fallback.
	offer := []media.Codec{c.lineCodec}
	if c.lineCodec.PayloadType == media.CodecPCMU.PayloadType {
		offer = append(offer, media.CodecPCMA)
	} else if c.lineCodec.PayloadType == media.CodecPCMA.PayloadType {
		offer = append(offer, media.CodecPCMU)
	}
	sdpBody, err := buildSDP(g.cfg.AdvertiseAddr, c.rtpPort(), offer...)
	if err != nil {
		g.failOutbound(c, err)
		return
	}

	invite, err := g.buildINVITE(c, targetURI, localTag, callerUser, sdpBody)
	if err != nil {
		g.failOutbound(c, err)
		return
	}

	tx, err := g.client.TransactionRequest(dialCtx, invite)
	if err != nil {
		g.failOutbound(c, fmt.Errorf("send INVITE: %w", err))
		return
	}

	g.log.Info("[Gateway] INVITE sent", "session", c.sessionID, "target", invite.Recipient.String())

	for {
		select {
		case <-dialCtx.Done():
			_ = g.sendCANCEL(invite)
			if c.localHangup.Load() {
				// The line already hung up, nothing to report back.
				g.teardown(c)
				return
			}
			g.failOutbound(c, dialCtx.Err())
			return

		case resp := <-tx.Responses():
			if resp == nil {
				g.failOutbound(c, fmt.Errorf("no response received"))
				return
			}
			if done := g.handleOutboundResponse(c, resp, invite); done {
				return
			}

		case <-tx.Done():
			if c.localHangup.Load() {
				g.teardown(c)
				return
			}
			if !c.isAnswered() {
				g.failOutbound(c, fmt.Errorf("transaction terminated"))
			}
			return
		}
	}
}

// handleOutboundResponse processes one response. Returns true when the
// dialog reached a final outcome.
func (g *Gateway) handleOutboundResponse(c *call, resp *sip.Response, invite *sip.Request) bool {
	status := int(resp.StatusCode)
	g.log.Debug("[Gateway] Response received", "session", c.sessionID, "status", status, "reason", resp.Reason)

	switch {
	case status == 100:
		return false

	case status == 180 || status == 181:
		if err := g.ctrl.Indicate(c.sessionID, line.ConditionRinging); err != nil {
			g.log.Debug("[Gateway] Ringing indication failed", "session", c.sessionID, "error", err)
		}
		return false

	case status == 183:
		if err := g.ctrl.Indicate(c.sessionID, line.ConditionProgress); err != nil {
			g.log.Debug("[Gateway] Progress indication failed", "session", c.sessionID, "error", err)
		}
		return false

	case status >= 200 && status < 300:
		return g.handleOutbound2xx(c, resp, invite)

	case status >= 300:
		g.log.Info("[Gateway] Call rejected", "session", c.sessionID, "status", status, "reason", resp.Reason)
		g.failOutbound(c, fmt.Errorf("rejected: %d %s", status, resp.Reason))
		return true
	}

	return false
}

// handleOutbound2xx connects the call: SDP answer, ACK, then the line's
// Answer with the negotiated codec.
func (g *Gateway) handleOutbound2xx(c *call, resp *sip.Response, invite *sip.Request) bool {
	rm, err := parseSDP(resp.Body())
	if err != nil {
		g.failOutbound(c, fmt.Errorf("answer SDP: %w", err))
		return true
	}
	peerCodec, ok := selectCodec(rm.formats, c.lineCodec)
	if !ok {
		g.failOutbound(c, fmt.Errorf("no usable codec in answer"))
		return true
	}

	c.setConnected(peerCodec)
	c.remote.Store(&net.UDPAddr{IP: net.ParseIP(rm.addr), Port: rm.port})
	c.setByeState(byeStateFrom(resp, invite))

	if err := g.sendACK(resp, invite); err != nil {
		g.log.Error("[Gateway] ACK failed", "session", c.sessionID, "error", err)
		// The 200 OK stands, keep going.
	}

	if err := g.ctrl.Answer(c.sessionID, c.lineCodec); err != nil {
		// The line could not take the call (encoder rejected); end it.
		g.log.Error("[Gateway] Line answer failed", "session", c.sessionID, "error", err)
		if err := g.sendBYE(c); err != nil {
			g.log.Error("[Gateway] BYE failed", "session", c.sessionID, "error", err)
		}
		_ = g.ctrl.Hangup(c.sessionID)
		g.teardown(c)
		return true
	}

	c.markAnswered()
	go g.readLoop(c)

	g.log.Info("[Gateway] Call answered",
		"session", c.sessionID, "remote", fmt.Sprintf("%s:%d", rm.addr, rm.port), "codec", peerCodec.Name)
	return true
}

// failOutbound ends a failed outbound attempt on both sides.
func (g *Gateway) failOutbound(c *call, err error) {
	g.log.Info("[Gateway] Originate failed", "session", c.sessionID, "error", err)
	if hangErr := g.ctrl.Hangup(c.sessionID); hangErr != nil {
		g.log.Debug("[Gateway] Hangup after failure", "session", c.sessionID, "error", hangErr)
	}
	g.teardown(c)
}

func (g *Gateway) buildINVITE(c *call, targetURI, localTag, callerUser string, sdpBody []byte) (*sip.Request, error) {
	var requestURI sip.Uri
	if err := sip.ParseUri(targetURI, &requestURI); err != nil {
		return nil, fmt.Errorf("invalid target URI: %w", err)
	}

	invite := sip.NewRequest(sip.INVITE, requestURI)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	// From header - the dialing line's identity with tag
	fromURI := sip.Uri{
		Scheme: "sip",
		User:   callerUser,
		Host:   g.cfg.AdvertiseAddr,
		Port:   g.cfg.Port,
	}
	fromParams := sip.NewParams()
	fromParams.Add("tag", localTag)
	fromHdr := &sip.FromHeader{
		Address: fromURI,
		Params:  fromParams,
	}
	invite.AppendHeader(fromHdr)

	// To header - their identity (no tag yet)
	var toURI sip.Uri
	_ = sip.ParseUri(targetURI, &toURI)
	toHdr := &sip.ToHeader{
		Address: toURI,
		Params:  sip.NewParams(),
	}
	invite.AppendHeader(toHdr)

	callIDHdr := sip.CallIDHeader(c.callID)
	invite.AppendHeader(&callIDHdr)

	cseqHdr := &sip.CSeqHeader{
		SeqNo:      1,
		MethodName: sip.INVITE,
	}
	invite.AppendHeader(cseqHdr)

	contactHdr := &sip.ContactHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   "fxsgate",
			Host:   g.cfg.AdvertiseAddr,
			Port:   g.cfg.Port,
		},
	}
	invite.AppendHeader(contactHdr)

	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)

	invite.SetBody(sdpBody)

	return invite, nil
}

// sendACK acknowledges a 2xx. Per RFC 3261 the ACK for a 2xx is a new
// request addressed at the Contact of the response.
func (g *Gateway) sendACK(resp *sip.Response, invite *sip.Request) error {
	requestURI := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		requestURI = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, requestURI)

	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)

	// To header with tag from the response for dialog identification
	if to := resp.To(); to != nil {
		toHdr := &sip.ToHeader{
			DisplayName: to.DisplayName,
			Address:     to.Address,
			Params:      to.Params,
		}
		ack.AppendHeader(toHdr)
	}

	if cseq := invite.CSeq(); cseq != nil {
		ackCSeq := &sip.CSeqHeader{
			SeqNo:      cseq.SeqNo,
			MethodName: sip.ACK,
		}
		ack.AppendHeader(ackCSeq)
	}

	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	// Send it back where the 2xx came from.
	destAddr := resp.Source()
	if destAddr == "" {
		port := requestURI.Port
		if port == 0 {
			port = 5060
		}
		destAddr = fmt.Sprintf("%s:%d", requestURI.Host, port)
	}
	ack.SetDestination(destAddr)

	if err := g.client.WriteRequest(ack); err != nil {
		return fmt.Errorf("write ACK: %w", err)
	}
	return nil
}

// sendCANCEL aborts an in-progress INVITE, copying the dialog headers per
// RFC 3261 Section 9.1.
func (g *Gateway) sendCANCEL(invite *sip.Request) error {
	cancelReq := sip.NewRequest(sip.CANCEL, invite.Recipient)

	sip.CopyHeaders("Via", invite, cancelReq)
	sip.CopyHeaders("From", invite, cancelReq)
	sip.CopyHeaders("To", invite, cancelReq)
	sip.CopyHeaders("Call-ID", invite, cancelReq)

	if cseq := invite.CSeq(); cseq != nil {
		cancelCSeq := &sip.CSeqHeader{
			SeqNo:      cseq.SeqNo,
			MethodName: sip.CANCEL,
		}
		cancelReq.AppendHeader(cancelCSeq)
	}

	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := g.client.TransactionRequest(ctx, cancelReq)
	if err != nil {
		return fmt.Errorf("send CANCEL: %w", err)
	}

	select {
	case resp := <-tx.Responses():
		if resp != nil {
			g.log.Debug("[Gateway] CANCEL response", "status", resp.StatusCode)
		}
	case <-ctx.Done():
	}
	return nil
}

// byeStateFrom captures the dialog identifiers an in-dialog BYE needs.
func byeStateFrom(resp *sip.Response, invite *sip.Request) *byeState {
	st := &byeState{}
	if contact := resp.Contact(); contact != nil {
		st.remoteContact = contact.Address.String()
	}
	if to := invite.To(); to != nil {
		st.toURI = to.Address.String()
	}
	if from := invite.From(); from != nil {
		st.fromURI = from.Address.String()
		if tag, ok := from.Params.Get("tag"); ok {
			st.localTag = tag
		}
	}
	if to := resp.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			st.remoteTag = tag
		}
	}
	return st
}

// sendBYE ends an answered outbound dialog per RFC 3261 Section 15.1.1.
func (g *Gateway) sendBYE(c *call) error {
	st := c.byeInfo()
	if st == nil || st.remoteContact == "" {
		return nil
	}

	var requestURI sip.Uri
	if err := sip.ParseUri(st.remoteContact, &requestURI); err != nil {
		return fmt.Errorf("parse remote contact: %w", err)
	}

	toURI := requestURI
	if st.toURI != "" {
		if err := sip.ParseUri(st.toURI, &toURI); err != nil {
			toURI = requestURI
		}
	}
	fromURI := sip.Uri{Scheme: "sip", User: "fxsgate", Host: g.cfg.AdvertiseAddr, Port: g.cfg.Port}
	if st.fromURI != "" {
		if err := sip.ParseUri(st.fromURI, &fromURI); err != nil {
			fromURI = sip.Uri{Scheme: "sip", User: "fxsgate", Host: g.cfg.AdvertiseAddr, Port: g.cfg.Port}
		}
	}

	bye := sip.NewRequest(sip.BYE, requestURI)

	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", st.localTag)
	bye.AppendHeader(&sip.FromHeader{Address: fromURI, Params: fromParams})

	toParams := sip.NewParams()
	toParams.Add("tag", st.remoteTag)
	bye.AppendHeader(&sip.ToHeader{Address: toURI, Params: toParams})

	callIDHdr := sip.CallIDHeader(c.callID)
	bye.AppendHeader(&callIDHdr)

	bye.AppendHeader(&sip.CSeqHeader{SeqNo: 2, MethodName: sip.BYE})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := g.client.TransactionRequest(ctx, bye)
	if err != nil {
		return fmt.Errorf("send BYE: %w", err)
	}

	select {
	case resp := <-tx.Responses():
		if resp != nil {
			g.log.Debug("[Gateway] BYE response", "session", c.sessionID, "status", resp.StatusCode)
		}
	case <-ctx.Done():
	}
	return nil
}

func generateTag() string {
	return uuid.New().String()[:8]
}
