package line

import "errors"

var (
	// ErrLineBusy is returned when an outbound call requests a line that
	// is not idle.
	ErrLineBusy = errors.New("line busy")

	// ErrUnknownSession is returned when a session id has no line bound.
	ErrUnknownSession = errors.New("unknown session")

	// ErrNoSuchLine is returned for a port id outside the registry.
	ErrNoSuchLine = errors.New("no such line")

	// ErrUnhandledCondition is returned by Indicate for conditions the
	// line cannot express.
	ErrUnhandledCondition = errors.New("unhandled condition")

	// ErrUnknownAttribute is returned by ChannelAttribute for names
	// outside the attribute table.
	ErrUnknownAttribute = errors.New("unknown channel attribute")

	// ErrEventDesync is returned when the device delivers an event kind
	// the controller cannot decode. The event stream can no longer be
	// trusted, callers must treat this as fatal.
	ErrEventDesync = errors.New("undecodable device event, stream desynchronized")
)
