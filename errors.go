package onramp

import (
	"fmt"
)

// A WAMPError describes a protocol violation or a misuse of the session API.
type WAMPError struct {
	Msg string
}

// Error implements the error interface to provide a message.
func (e *WAMPError) Error() string {
	return "wamp: " + e.Msg
}

var (
	// ErrNotConnected is returned by outbound operations attempted before
	// WELCOME has been received or after the session closed.
	ErrNotConnected = &WAMPError{"not connected"}
	// ErrDuplicateWelcome is the close reason of a session whose peer sent
	// WELCOME more than once.
	ErrDuplicateWelcome = &WAMPError{"welcome message received more than once"}
	// ErrUnexpectedSubprotocol is returned when the server did not select the
	// WAMP subprotocol during the websocket handshake.
	ErrUnexpectedSubprotocol = &WAMPError{"server does not speak WAMP"}
	// ErrAlreadySubscribed is returned when a listener is registered twice for
	// the same resolved topic.
	ErrAlreadySubscribed = &WAMPError{"listener already subscribed"}
	// ErrNotSubscribed is returned when unsubscribing a topic or listener that
	// is not registered.
	ErrNotSubscribed = &WAMPError{"not subscribed"}
	// ErrConnectionClosed rejects every call still pending when the session
	// closes.
	ErrConnectionClosed = &WAMPError{"connection closed"}
	// ErrCallTimeout rejects a call that got no reply within
	// SessionConfig.CallTimeout.
	ErrCallTimeout = &WAMPError{"call timed out"}
	// ErrUnexpectedMessage is reported for well-formed messages a client
	// never receives, such as PREFIX or CALL.
	ErrUnexpectedMessage = &WAMPError{"unexpected message type"}
)

// A RemoteCallError is the rejection value of a call answered with CALLERROR.
type RemoteCallError struct {
	URI         string
	Description string
	// Details is the optional error detail passed through verbatim; nil when
	// the peer sent none.
	Details interface{}
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("wamp: RPC error with URI %s: %s", e.URI, e.Description)
}

// A DecodeError is returned when an inbound payload is not a well-formed
// WAMP message. Type is the message tag, or -1 when it could not be read.
type DecodeError struct {
	Type   int
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Type < 0 {
		return "wamp: malformed message: " + e.Reason
	}
	return fmt.Sprintf("wamp: malformed %s message: %s", MessageType(e.Type), e.Reason)
}

func decodeErr(typ int, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Type: typ, Reason: fmt.Sprintf(format, args...)}
}

type unexpectedMessage struct {
	rec MessageType
}

func (e unexpectedMessage) Error() string {
	return fmt.Sprintf("wamp: unexpected message type: %s", e.rec)
}

func (e unexpectedMessage) Is(target error) bool {
	return target == ErrUnexpectedMessage
}
