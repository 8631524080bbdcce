package gateway

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/fxsgate/internal/dialplan"
	"github.com/sebas/fxsgate/internal/hardware"
	"github.com/sebas/fxsgate/internal/line"
	"github.com/sebas/fxsgate/internal/media"
)

type ringRecord struct {
	sessionID string
	portID    int
	number    string
}

// recordingController stands in for the line controller and records what
// the gateway asks of it.
type recordingController struct {
	mu      sync.Mutex
	lines   int
	callErr error

	rings       []ringRecord
	answers     []string
	hangups     []string
	indications []line.Condition
}

func (r *recordingController) Call(portID int, sessionID string, codec media.Codec, cid *hardware.CallerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	number := ""
	if cid != nil {
		number = cid.Number
	}
	r.rings = append(r.rings, ringRecord{sessionID: sessionID, portID: portID, number: number})
	return r.callErr
}

func (r *recordingController) Hangup(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hangups = append(r.hangups, sessionID)
	return nil
}

func (r *recordingController) Answer(sessionID string, codec media.Codec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, sessionID)
	return nil
}

func (r *recordingController) Indicate(sessionID string, cond line.Condition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indications = append(r.indications, cond)
	return nil
}

func (r *recordingController) WriteVoice(sessionID string, frame media.VoiceFrame) error {
	return nil
}

func (r *recordingController) Lines() int { return r.lines }

func (r *recordingController) lastRing() (ringRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rings) == 0 {
		return ringRecord{}, false
	}
	return r.rings[len(r.rings)-1], true
}

func (r *recordingController) sawAnswer(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.answers {
		if s == sessionID {
			return true
		}
	}
	return false
}

func (r *recordingController) sawHangup(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.hangups {
		if s == sessionID {
			return true
		}
	}
	return false
}

func (r *recordingController) hangupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hangups)
}

func (r *recordingController) sawIndication(cond line.Condition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.indications {
		if c == cond {
			return true
		}
	}
	return false
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func testDialplan(t *testing.T, target string) *dialplan.Dialplan {
	t.Helper()
	body := fmt.Sprintf(`{"version":"1","contexts":[{"name":"default","extensions":[
		{"pattern":"_X.","target":%q}]}]}`, target)
	path := filepath.Join(t.TempDir(), "dialplan.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	dp, err := dialplan.New(path, nil)
	require.NoError(t, err)
	return dp
}

func newTestGateway(t *testing.T, ctrl *recordingController, dp *dialplan.Dialplan, dialTimeout time.Duration) (*Gateway, int) {
	t.Helper()
	port := freeUDPPort(t)
	g, err := New(Config{
		Port:          port,
		BindAddr:      "127.0.0.1",
		AdvertiseAddr: "127.0.0.1",
		LineCodec:     media.CodecPCMU,
		DialTimeout:   dialTimeout,
	}, ctrl, dp, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	g.Start()
	t.Cleanup(func() {
		g.Stop()
		g.Close()
	})
	return g, port
}

func gatewayPair(t *testing.T, aCtrl, bCtrl *recordingController, dialTimeout time.Duration) (*Gateway, *Gateway) {
	t.Helper()
	gb, portB := newTestGateway(t, bCtrl, testDialplan(t, "sip:unused@127.0.0.1:1"), dialTimeout)
	ga, _ := newTestGateway(t, aCtrl, testDialplan(t, fmt.Sprintf("sip:fxs1@127.0.0.1:%d", portB)), dialTimeout)
	// Let both SIP listeners come up before anyone dials.
	time.Sleep(100 * time.Millisecond)
	return ga, gb
}

func (g *Gateway) activeCalls() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.calls)
}

// One gateway dials the other: the callee line rings with the caller's
// number, ringing comes back as an indication, answer connects both legs,
// and the caller's hangup BYEs the callee.
func TestDialogAnswerThenLocalHangup(t *testing.T) {
	aCtrl := &recordingController{lines: 1}
	bCtrl := &recordingController{lines: 2}
	ga, gb := gatewayPair(t, aCtrl, bCtrl, 5*time.Second)

	sid, err := ga.Originate(line.OriginateRequest{PortID: 0, Context: "default", Extension: "100"})
	require.NoError(t, err)

	var ring ringRecord
	require.Eventually(t, func() bool {
		var ok bool
		ring, ok = bCtrl.lastRing()
		return ok
	}, 3*time.Second, 10*time.Millisecond, "callee line never rang")
	assert.Equal(t, 0, ring.portID)
	assert.Equal(t, "100", ring.number, "caller number travels in the From header")

	gb.SignalRinging(ring.sessionID)
	require.Eventually(t, func() bool {
		return aCtrl.sawIndication(line.ConditionRinging)
	}, 3*time.Second, 10*time.Millisecond, "180 never became a ringing indication")

	gb.SignalAnswer(ring.sessionID)
	require.Eventually(t, func() bool {
		return aCtrl.sawAnswer(sid)
	}, 3*time.Second, 10*time.Millisecond, "200 never answered the caller's line")

	ga.SignalHangup(sid)
	require.Eventually(t, func() bool {
		return bCtrl.sawHangup(ring.sessionID)
	}, 3*time.Second, 10*time.Millisecond, "BYE never reached the callee")

	require.Eventually(t, func() bool {
		return ga.activeCalls() == 0 && gb.activeCalls() == 0
	}, 3*time.Second, 10*time.Millisecond, "both legs release their call state")
	assert.Zero(t, aCtrl.hangupCount(), "a local hangup is not echoed back to the caller's line")
}

// A busy callee line turns into 486 toward the caller, which ends the
// caller's attempt exactly once.
func TestDialogRejectedBusy(t *testing.T) {
	aCtrl := &recordingController{lines: 1}
	bCtrl := &recordingController{lines: 2, callErr: line.ErrLineBusy}
	ga, gb := gatewayPair(t, aCtrl, bCtrl, 5*time.Second)

	sid, err := ga.Originate(line.OriginateRequest{PortID: 0, Context: "default", Extension: "100"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return aCtrl.sawHangup(sid)
	}, 3*time.Second, 10*time.Millisecond, "486 never ended the caller's attempt")
	assert.Equal(t, 1, aCtrl.hangupCount())

	require.Eventually(t, func() bool {
		return ga.activeCalls() == 0 && gb.activeCalls() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

// Hanging up while the far line still rings turns into CANCEL, and the
// callee answers it with 487 and stops ringing.
func TestDialogCanceledWhileRinging(t *testing.T) {
	aCtrl := &recordingController{lines: 1}
	bCtrl := &recordingController{lines: 2}
	ga, gb := gatewayPair(t, aCtrl, bCtrl, 10*time.Second)

	sid, err := ga.Originate(line.OriginateRequest{PortID: 0, Context: "default", Extension: "100"})
	require.NoError(t, err)

	var ring ringRecord
	require.Eventually(t, func() bool {
		var ok bool
		ring, ok = bCtrl.lastRing()
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	ga.SignalHangup(sid)

	require.Eventually(t, func() bool {
		return bCtrl.sawHangup(ring.sessionID)
	}, 8*time.Second, 10*time.Millisecond, "CANCEL never stopped the callee's ring")

	require.Eventually(t, func() bool {
		return ga.activeCalls() == 0 && gb.activeCalls() == 0
	}, 8*time.Second, 10*time.Millisecond)
	assert.Zero(t, aCtrl.hangupCount())
}

// The handset going back on hook while the INVITE is still in flight must
// abort the attempt cleanly, however the two race.
func TestHangupDuringPendingInvite(t *testing.T) {
	ctrl := &recordingController{lines: 1}
	dead := freeUDPPort(t)
	g, _ := newTestGateway(t, ctrl,
		testDialplan(t, fmt.Sprintf("sip:fxs1@127.0.0.1:%d", dead)), 200*time.Millisecond)

	for i := 0; i < 20; i++ {
		sid, err := g.Originate(line.OriginateRequest{PortID: 0, Context: "default", Extension: "100"})
		require.NoError(t, err)
		g.SignalHangup(sid)
	}

	require.Eventually(t, func() bool {
		return g.activeCalls() == 0
	}, 15*time.Second, 20*time.Millisecond, "every aborted attempt releases its call state")
}
