package line

import "github.com/sebas/fxsgate/internal/media"

// OriginateRequest asks the sink to set up a call for digits a line dialed.
type OriginateRequest struct {
	PortID    int
	Context   string
	Extension string
}

// Sink is the call control side the controller reports into. One
// implementation is the SIP gateway; tests plug in fakes.
//
// Sink methods are invoked from the controller's execution contexts, some
// while the registry lock is held. Implementations must return promptly and
// must not call back into the controller synchronously.
type Sink interface {
	// Originate sets up an outbound call and returns its session id.
	Originate(req OriginateRequest) (string, error)
	// DeliverVoice hands a received voice frame upstream. Media path,
	// called without the registry lock.
	DeliverVoice(sessionID string, frame media.VoiceFrame)
	// SignalRinging reports that the line started ringing for the session.
	SignalRinging(sessionID string)
	// SignalAnswer reports that the line answered the session's call.
	SignalAnswer(sessionID string)
	// SignalBusy reports that the session's call was rejected busy.
	SignalBusy(sessionID string)
	// SignalHangup reports that the line tore the session down.
	SignalHangup(sessionID string)
	// QueueDigit relays a DTMF digit pressed during an active call.
	QueueDigit(sessionID string, digit byte)
}
