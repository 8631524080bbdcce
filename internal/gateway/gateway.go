// Package gateway is the SIP call control sink: dialed extensions become
// outbound SIP calls, inbound INVITEs ring lines, and voice frames are
// relayed to the peer's RTP endpoint.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/fxsgate/internal/dialplan"
	"github.com/sebas/fxsgate/internal/hardware"
	"github.com/sebas/fxsgate/internal/line"
	"github.com/sebas/fxsgate/internal/media"
)

// DefaultDialTimeout bounds how long an outbound INVITE may ring.
const DefaultDialTimeout = 32 * time.Second

// LineController is the slice of the line controller the gateway drives.
type LineController interface {
	Call(portID int, sessionID string, codec media.Codec, cid *hardware.CallerID) error
	Hangup(sessionID string) error
	Answer(sessionID string, codec media.Codec) error
	Indicate(sessionID string, cond line.Condition) error
	WriteVoice(sessionID string, frame media.VoiceFrame) error
	Lines() int
}

// Config assembles a Gateway.
type Config struct {
	Port          int
	BindAddr      string
	AdvertiseAddr string
	// LineCodec is the codec used toward the line device. The gateway
	// transcodes between the two G.711 laws when the peer negotiates
	// the other one.
	LineCodec media.Codec
	// DialTimeout defaults to DefaultDialTimeout when zero.
	DialTimeout time.Duration
}

// Gateway terminates SIP dialogs for the line controller.
type Gateway struct {
	cfg      Config
	ctrl     LineController
	dialplan *dialplan.Dialplan
	log      *slog.Logger

	ua       *sipgo.UserAgent
	srv      *sipgo.Server
	client   *sipgo.Client
	dialogUA *sipgo.DialogUA

	mu       sync.RWMutex
	calls    map[string]*call // session id -> call
	byCallID map[string]*call // SIP Call-ID -> call

	serveCancel context.CancelFunc
}

// call is one SIP leg bound to a line session.
type call struct {
	sessionID string
	callID    string
	portID    int
	inbound   bool

	conn   *net.UDPConn
	remote atomic.Pointer[net.UDPAddr]

	lineCodec media.Codec

	// inbound dialog state
	dlg       *sipgo.DialogServerSession
	inviteReq *sip.Request
	inviteTx  sip.ServerTransaction
	// finalOnce guards the single final response on the inbound INVITE.
	finalOnce sync.Once

	// cancelInvite aborts a pending outbound INVITE. Assigned before the
	// call is registered, read-only afterwards.
	cancelInvite context.CancelFunc
	localHangup  atomic.Bool

	// mu guards the state the INVITE paths write while the voice relay
	// and the hangup entry point read it.
	mu        sync.Mutex
	answered  bool
	peerCodec media.Codec
	txFramer  *media.Framer // toward the SIP peer
	rxFramer  *media.Framer // from the SIP peer
	bye       *byeState

	readStop sync.Once
}

func (c *call) setConnected(codec media.Codec) {
	c.mu.Lock()
	c.peerCodec = codec
	c.txFramer = media.NewFramer(codec)
	c.rxFramer = media.NewFramer(codec)
	c.mu.Unlock()
}

// txMedia returns the negotiated codec and the framer toward the peer.
// The framer is nil until the dialog connects.
func (c *call) txMedia() (media.Codec, *media.Framer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerCodec, c.txFramer
}

func (c *call) rxMedia() *media.Framer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rxFramer
}

func (c *call) markAnswered() {
	c.mu.Lock()
	c.answered = true
	c.mu.Unlock()
}

func (c *call) isAnswered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered
}

func (c *call) setByeState(st *byeState) {
	c.mu.Lock()
	c.bye = st
	c.mu.Unlock()
}

func (c *call) byeInfo() *byeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bye
}

// byeState is what an outbound leg needs to build an in-dialog BYE.
type byeState struct {
	remoteContact string
	toURI         string
	fromURI       string
	remoteTag     string
	localTag      string
}

// New builds the gateway's SIP user agent, server and client.
func New(cfg Config, ctrl LineController, dp *dialplan.Dialplan, log *slog.Logger) (*Gateway, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	dialogUA := &sipgo.DialogUA{
		Client: client,
		ContactHDR: sip.ContactHeader{
			Address: sip.Uri{
				Scheme: "sip",
				User:   "fxsgate",
				Host:   cfg.AdvertiseAddr,
				Port:   cfg.Port,
			},
		},
	}

	g := &Gateway{
		cfg:      cfg,
		ctrl:     ctrl,
		dialplan: dp,
		log:      log,
		ua:       ua,
		srv:      srv,
		client:   client,
		dialogUA: dialogUA,
		calls:    make(map[string]*call),
		byCallID: make(map[string]*call),
	}

	srv.OnRequest(sip.INVITE, g.handleInvite)
	srv.OnRequest(sip.ACK, g.handleAck)
	srv.OnRequest(sip.BYE, g.handleBye)
	srv.OnRequest(sip.CANCEL, g.handleCancel)

	return g, nil
}

// Start begins serving SIP on the configured address.
func (g *Gateway) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	g.serveCancel = cancel

	listenAddr := fmt.Sprintf("%s:%d", g.cfg.BindAddr, g.cfg.Port)
	g.log.Info("[Gateway] Starting SIP server", "listenAddr", listenAddr)

	go func() {
		if err := g.srv.ListenAndServe(ctx, "udp", listenAddr); err != nil && ctx.Err() == nil {
			g.log.Error("[Gateway] SIP server failed", "error", err)
		}
	}()
}

// Stop stops accepting SIP traffic. Established dialogs stay registered so
// the controller's shutdown hangups still send their BYEs.
func (g *Gateway) Stop() {
	if g.serveCancel != nil {
		g.serveCancel()
	}
}

// Close releases the SIP stack and any remaining call resources.
func (g *Gateway) Close() {
	g.mu.Lock()
	for _, c := range g.calls {
		c.closeConn()
	}
	g.calls = make(map[string]*call)
	g.byCallID = make(map[string]*call)
	g.mu.Unlock()

	if err := g.ua.Close(); err != nil {
		g.log.Error("[Gateway] UA close failed", "error", err)
	}
}

func (g *Gateway) register(c *call) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[c.sessionID] = c
	if c.callID != "" {
		g.byCallID[c.callID] = c
	}
}

func (g *Gateway) unregister(c *call) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.calls, c.sessionID)
	if c.callID != "" {
		delete(g.byCallID, c.callID)
	}
}

func (g *Gateway) bySession(sessionID string) (*call, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.calls[sessionID]
	return c, ok
}

func (g *Gateway) byDialog(callID string) (*call, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.byCallID[callID]
	return c, ok
}

func (c *call) closeConn() {
	c.readStop.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// teardown removes a call and releases its RTP socket.
func (g *Gateway) teardown(c *call) {
	g.unregister(c)
	c.closeConn()
	if c.dlg != nil {
		_ = c.dlg.Close()
	}
}

// openRTP binds an ephemeral UDP socket for a call's RTP.
func (g *Gateway) openRTP() (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(g.cfg.BindAddr), Port: 0}
	if addr.IP == nil {
		addr.IP = net.IPv4zero
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind RTP socket: %w", err)
	}
	return conn, nil
}

func (c *call) rtpPort() int {
	if c.conn == nil {
		return 0
	}
	return c.conn.LocalAddr().(*net.UDPAddr).Port
}
