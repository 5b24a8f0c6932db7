// Copyright (c) 2013 Joshua Elliott
// Released under the MIT License
// http://opensource.org/licenses/MIT

package onramp

import (
	"strconv"
)

// Message is a generic container for a WAMP message.
type Message interface {
	MessageType() MessageType
}

type MessageType int

const (
	WELCOME     MessageType = 0 //	Rx
	PREFIX      MessageType = 1 //	Tx
	CALL        MessageType = 2 //	Tx
	CALLRESULT  MessageType = 3 //	Rx
	CALLERROR   MessageType = 4 //	Rx
	SUBSCRIBE   MessageType = 5 //	Tx
	UNSUBSCRIBE MessageType = 6 //	Tx
	PUBLISH     MessageType = 7 //	Tx
	EVENT       MessageType = 8 //	Rx
)

// ProtocolVersion is the WAMP version spoken by this package.
const ProtocolVersion = 1

func (mt MessageType) String() string {
	switch mt {
	case WELCOME:
		return "WELCOME"
	case PREFIX:
		return "PREFIX"
	case CALL:
		return "CALL"
	case CALLRESULT:
		return "CALLRESULT"
	case CALLERROR:
		return "CALLERROR"
	case SUBSCRIBE:
		return "SUBSCRIBE"
	case UNSUBSCRIBE:
		return "UNSUBSCRIBE"
	case PUBLISH:
		return "PUBLISH"
	case EVENT:
		return "EVENT"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(mt)) + ")"
	}
}

// [WELCOME, SessionId|string, ProtocolVersion|integer, ServerIdent|string]
//
// The protocol version and server ident are optional.
type Welcome struct {
	SessionID       string
	ProtocolVersion int
	ServerIdent     string
}

func (msg *Welcome) MessageType() MessageType {
	return WELCOME
}

// [PREFIX, Prefix|string, URI|uri]
type Prefix struct {
	Prefix string
	URI    string
}

func (msg *Prefix) MessageType() MessageType {
	return PREFIX
}

// [CALL, CallID|string, ProcURI|uri|curie, Arg|any, ...]
type Call struct {
	CallID  string
	ProcURI string
	Args    []interface{}
}

func (msg *Call) MessageType() MessageType {
	return CALL
}

// [CALLRESULT, CallID|string, Result|any]
type CallResult struct {
	CallID string
	Result interface{}
}

func (msg *CallResult) MessageType() MessageType {
	return CALLRESULT
}

// [CALLERROR, CallID|string, ErrorURI|uri, ErrorDesc|string, ErrorDetails|any]
type CallError struct {
	CallID       string
	ErrorURI     string
	ErrorDesc    string
	ErrorDetails interface{}
	// HasDetails distinguishes a missing ErrorDetails from an explicit null.
	HasDetails bool
}

func (msg *CallError) MessageType() MessageType {
	return CALLERROR
}

// [SUBSCRIBE, TopicURI|uri|curie]
type Subscribe struct {
	TopicURI string
}

func (msg *Subscribe) MessageType() MessageType {
	return SUBSCRIBE
}

// [UNSUBSCRIBE, TopicURI|uri|curie]
type Unsubscribe struct {
	TopicURI string
}

func (msg *Unsubscribe) MessageType() MessageType {
	return UNSUBSCRIBE
}

// Publish is sent in one of the following formats:
//
//	[PUBLISH, TopicURI, Event]
//	[PUBLISH, TopicURI, Event, ExcludeMe|bool]
//	[PUBLISH, TopicURI, Event, Exclude|list]
//	[PUBLISH, TopicURI, Event, Exclude|list, Eligible|list]
//	[PUBLISH, TopicURI, Event, Options|dict]
//
// The last form carries the acknowledged-publish options and takes
// precedence over the others when Options is non-nil.
type Publish struct {
	TopicURI  string
	Event     interface{}
	ExcludeMe *bool
	Exclude   []string
	Eligible  []string
	Options   map[string]interface{}
}

func (msg *Publish) MessageType() MessageType {
	return PUBLISH
}

// [EVENT, TopicURI|uri|curie, Event|any]
type Event struct {
	TopicURI string
	Event    interface{}
}

func (msg *Event) MessageType() MessageType {
	return EVENT
}

// Options understood in an acknowledged PUBLISH.
const (
	PublishOptAcknowledge = "acknowledge"
	PublishOptRequest     = "request"
	PublishOptExcludeMe   = "exclude_me"
)

// toList converts a message into its wire field sequence.
func toList(msg Message) []interface{} {
	ret := []interface{}{int(msg.MessageType())}
	switch m := msg.(type) {
	case *Welcome:
		ret = append(ret, m.SessionID, m.ProtocolVersion, m.ServerIdent)
	case *Prefix:
		ret = append(ret, m.Prefix, m.URI)
	case *Call:
		ret = append(ret, m.CallID, m.ProcURI)
		ret = append(ret, m.Args...)
	case *CallResult:
		ret = append(ret, m.CallID, m.Result)
	case *CallError:
		ret = append(ret, m.CallID, m.ErrorURI, m.ErrorDesc)
		if m.HasDetails {
			ret = append(ret, m.ErrorDetails)
		}
	case *Subscribe:
		ret = append(ret, m.TopicURI)
	case *Unsubscribe:
		ret = append(ret, m.TopicURI)
	case *Publish:
		ret = append(ret, m.TopicURI, m.Event)
		switch {
		case m.Options != nil:
			ret = append(ret, m.Options)
		case m.Exclude != nil || m.Eligible != nil:
			exclude := m.Exclude
			if exclude == nil {
				exclude = []string{}
			}
			ret = append(ret, exclude)
			if m.Eligible != nil {
				ret = append(ret, m.Eligible)
			}
		case m.ExcludeMe != nil:
			ret = append(ret, *m.ExcludeMe)
		}
	case *Event:
		ret = append(ret, m.TopicURI, m.Event)
	}
	return ret
}

// fromList builds a message from a decoded field sequence whose tag has
// already been read. Numbers may be float64 (JSON) or any integer type
// (msgpack).
func fromList(typ int, arr []interface{}) (Message, error) {
	n := len(arr)
	switch MessageType(typ) {
	case WELCOME:
		if n < 2 || n > 4 {
			return nil, decodeErr(typ, "invalid number of arguments: %d", n)
		}
		msg := &Welcome{}
		var ok bool
		if msg.SessionID, ok = arr[1].(string); !ok {
			return nil, decodeErr(typ, "invalid session ID")
		}
		if n > 2 {
			if msg.ProtocolVersion, ok = toInt(arr[2]); !ok {
				return nil, decodeErr(typ, "invalid protocol version")
			}
		}
		if n > 3 {
			if msg.ServerIdent, ok = arr[3].(string); !ok {
				return nil, decodeErr(typ, "invalid server identity")
			}
		}
		return msg, nil

	case PREFIX:
		if n != 3 {
			return nil, decodeErr(typ, "invalid number of arguments: %d", n)
		}
		msg := &Prefix{}
		var ok bool
		if msg.Prefix, ok = arr[1].(string); !ok {
			return nil, decodeErr(typ, "invalid prefix")
		}
		if msg.URI, ok = arr[2].(string); !ok {
			return nil, decodeErr(typ, "invalid URI")
		}
		return msg, nil

	case CALL:
		if n < 3 {
			return nil, decodeErr(typ, "invalid number of arguments: %d", n)
		}
		msg := &Call{}
		var ok bool
		if msg.CallID, ok = arr[1].(string); !ok {
			return nil, decodeErr(typ, "invalid callID")
		}
		if msg.ProcURI, ok = arr[2].(string); !ok {
			return nil, decodeErr(typ, "invalid procURI")
		}
		if n > 3 {
			msg.Args = arr[3:]
		}
		return msg, nil

	case CALLRESULT:
		if n != 3 {
			return nil, decodeErr(typ, "invalid number of arguments: %d", n)
		}
		msg := &CallResult{Result: arr[2]}
		var ok bool
		if msg.CallID, ok = arr[1].(string); !ok {
			return nil, decodeErr(typ, "invalid callID")
		}
		return msg, nil

	case CALLERROR:
		if n < 4 || n > 5 {
			return nil, decodeErr(typ, "invalid number of arguments: %d", n)
		}
		msg := &CallError{}
		var ok bool
		if msg.CallID, ok = arr[1].(string); !ok {
			return nil, decodeErr(typ, "invalid callID")
		}
		if msg.ErrorURI, ok = arr[2].(string); !ok {
			return nil, decodeErr(typ, "invalid errorURI")
		}
		if msg.ErrorDesc, ok = arr[3].(string); !ok {
			return nil, decodeErr(typ, "invalid error description")
		}
		if n == 5 {
			msg.ErrorDetails = arr[4]
			msg.HasDetails = true
		}
		return msg, nil

	case SUBSCRIBE, UNSUBSCRIBE:
		if n != 2 {
			return nil, decodeErr(typ, "invalid number of arguments: %d", n)
		}
		topic, ok := arr[1].(string)
		if !ok {
			return nil, decodeErr(typ, "invalid topicURI")
		}
		if MessageType(typ) == SUBSCRIBE {
			return &Subscribe{TopicURI: topic}, nil
		}
		return &Unsubscribe{TopicURI: topic}, nil

	case PUBLISH:
		return publishFromList(arr)

	case EVENT:
		if n != 3 {
			return nil, decodeErr(typ, "invalid number of arguments: %d", n)
		}
		msg := &Event{Event: arr[2]}
		var ok bool
		if msg.TopicURI, ok = arr[1].(string); !ok {
			return nil, decodeErr(typ, "invalid topicURI")
		}
		return msg, nil

	default:
		return nil, decodeErr(typ, "unknown message type")
	}
}

func publishFromList(arr []interface{}) (Message, error) {
	typ := int(PUBLISH)
	n := len(arr)
	if n < 3 || n > 5 {
		return nil, decodeErr(typ, "invalid number of arguments: %d", n)
	}
	msg := &Publish{Event: arr[2]}
	var ok bool
	if msg.TopicURI, ok = arr[1].(string); !ok {
		return nil, decodeErr(typ, "invalid topicURI")
	}
	if n == 3 {
		return msg, nil
	}
	switch v := arr[3].(type) {
	case bool:
		if n == 5 {
			return nil, decodeErr(typ, "eligible list given with excludeMe")
		}
		msg.ExcludeMe = &v
		return msg, nil
	case map[string]interface{}:
		if n == 5 {
			return nil, decodeErr(typ, "eligible list given with options")
		}
		msg.Options = v
		return msg, nil
	case nil:
	default:
		if msg.Exclude, ok = toStringList(v); !ok {
			return nil, decodeErr(typ, "invalid exclude list")
		}
	}
	if n == 5 && arr[4] != nil {
		if msg.Eligible, ok = toStringList(arr[4]); !ok {
			return nil, decodeErr(typ, "invalid eligible list")
		}
	}
	return msg, nil
}

func toStringList(v interface{}) ([]string, bool) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	ret := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		ret = append(ret, s)
	}
	return ret, true
}

// toInt accepts the integer representations produced by the JSON and
// msgpack decoders; non-integral floats are rejected.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	default:
		return 0, false
	}
}
