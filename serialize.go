// Copyright (c) 2013 Joshua Elliott
// Released under the MIT License
// http://opensource.org/licenses/MIT

package onramp

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/ugorji/go/codec"
)

// Serialization indicates the data serialization format used in a WAMP session
type Serialization int

const (
	// Use JSON-encoded strings as a payload.
	JSON Serialization = iota
	// Use msgpack-encoded strings as a payload.
	MSGPACK
)

func (s Serialization) String() string {
	switch s {
	case JSON:
		return "json"
	case MSGPACK:
		return "msgpack"
	default:
		return fmt.Sprintf("Serialization(%d)", int(s))
	}
}

// ParseSerialization parses "json" or "msgpack".
func ParseSerialization(s string) (Serialization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MSGPACK, nil
	default:
		return 0, fmt.Errorf("unsupported serialization: %q", s)
	}
}

// Serializer is the interface implemented by an object that can serialize and
// deserialize WAMP messages.
//
// Deserialize must return a *DecodeError for any payload that is not a
// well-formed message of a known type.
type Serializer interface {
	Serialize(Message) ([]byte, error)
	Deserialize([]byte) (Message, error)
}

// NewSerializer returns the serializer for s.
func NewSerializer(s Serialization) (Serializer, error) {
	switch s {
	case JSON:
		return new(JSONSerializer), nil
	case MSGPACK:
		return new(MessagePackSerializer), nil
	default:
		return nil, fmt.Errorf("unsupported serialization: %v", s)
	}
}

// JSONSerializer is an implementation of Serializer that handles serializing
// and deserializing JSON encoded payloads.
type JSONSerializer struct {
}

// Serialize marshals the message into a JSON array.
func (s *JSONSerializer) Serialize(msg Message) ([]byte, error) {
	b, err := json.Marshal(toList(msg))
	if err != nil {
		return nil, errors.Wrapf(err, "serializing %s message", msg.MessageType())
	}
	return b, nil
}

// Deserialize unmarshals a JSON array into a message. Objects decode as
// map[string]interface{} and numbers as float64.
func (s *JSONSerializer) Deserialize(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, decodeErr(-1, "invalid JSON payload")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, decodeErr(-1, "payload is not an array")
	}
	fields := root.Array()
	if len(fields) == 0 {
		return nil, decodeErr(-1, "message without message type")
	}
	if fields[0].Type != gjson.Number || !isIntegerLiteral(fields[0].Raw) {
		return nil, decodeErr(-1, "message type not an integer: %s", fields[0].Raw)
	}
	arr := make([]interface{}, len(fields))
	for i, f := range fields {
		arr[i] = f.Value()
	}
	return fromList(int(fields[0].Int()), arr)
}

func isIntegerLiteral(raw string) bool {
	raw = strings.TrimPrefix(raw, "-")
	if raw == "" {
		return false
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

var msgpackHandle = newMsgpackHandle()

func newMsgpackHandle() *codec.MsgpackHandle {
	h := new(codec.MsgpackHandle)
	h.WriteExt = true
	h.RawToString = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}

// MessagePackSerializer is an implementation of Serializer that handles
// serializing and deserializing msgpack encoded payloads.
type MessagePackSerializer struct {
}

// Serialize encodes a Message into a msgpack payload.
func (s *MessagePackSerializer) Serialize(msg Message) ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, msgpackHandle).Encode(toList(msg)); err != nil {
		return nil, errors.Wrapf(err, "serializing %s message", msg.MessageType())
	}
	return b, nil
}

// Deserialize decodes a msgpack payload into a Message.
func (s *MessagePackSerializer) Deserialize(data []byte) (Message, error) {
	var arr []interface{}
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(&arr); err != nil {
		return nil, decodeErr(-1, "invalid msgpack payload: %v", err)
	}
	if len(arr) == 0 {
		return nil, decodeErr(-1, "message without message type")
	}
	switch arr[0].(type) {
	case float32, float64:
		return nil, decodeErr(-1, "message type not an integer: %v", arr[0])
	}
	typ, ok := toInt(arr[0])
	if !ok {
		return nil, decodeErr(-1, "message type not an integer: %v", arr[0])
	}
	return fromList(typ, arr)
}
