package onramp

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ugorji/go/codec"
)

func TestJSONSerialize(t *testing.T) {
	type test struct {
		msg Message
		exp string
	}

	tests := []test{
		{&Welcome{"12345678", 1, "onramp-0.1.0"}, `[0,"12345678",1,"onramp-0.1.0"]`},
		{&Prefix{"calc", "http://example.com/simple/calc#"}, `[1,"calc","http://example.com/simple/calc#"]`},
		{&Call{CallID: "7DK6TdN4wLiUJgNM", ProcURI: "calc:now"}, `[2,"7DK6TdN4wLiUJgNM","calc:now"]`},
		{
			&Call{CallID: "Yp9d8zL0Vr2tK3mQ", ProcURI: "calc:add", Args: []interface{}{23, 99}},
			`[2,"Yp9d8zL0Vr2tK3mQ","calc:add",23,99]`,
		},
		{&CallResult{"CcDnuI2bl2oLGBzO", nil}, `[3,"CcDnuI2bl2oLGBzO",null]`},
		{&CallResult{"otZom9UsJhrnzvLa", "Awesome result .."}, `[3,"otZom9UsJhrnzvLa","Awesome result .."]`},
		{
			&CallError{CallID: "gwbN3EDtFv6JvNV5", ErrorURI: "http://autobahn.tavendo.de/error#generic", ErrorDesc: "math domain error"},
			`[4,"gwbN3EDtFv6JvNV5","http://autobahn.tavendo.de/error#generic","math domain error"]`,
		},
		{
			&CallError{CallID: "7bVW5pv8r60ZeL6u", ErrorURI: "http://example.com/error#number_too_big",
				ErrorDesc: "1001 too big for me, max is 1000", ErrorDetails: 1000, HasDetails: true},
			`[4,"7bVW5pv8r60ZeL6u","http://example.com/error#number_too_big","1001 too big for me, max is 1000",1000]`,
		},
		{&Subscribe{"http://example.com/simple"}, `[5,"http://example.com/simple"]`},
		{&Unsubscribe{"event:myevent1"}, `[6,"event:myevent1"]`},
		{&Publish{TopicURI: "event:myevent1", Event: "hello"}, `[7,"event:myevent1","hello"]`},
		{
			&Publish{TopicURI: "event:myevent1", Event: map[string]interface{}{"a": 1}, ExcludeMe: boolPtr(true)},
			`[7,"event:myevent1",{"a":1},true]`,
		},
		{
			&Publish{TopicURI: "t", Event: "e", Exclude: []string{"NwtXQ8rdfPsy-ewS"}},
			`[7,"t","e",["NwtXQ8rdfPsy-ewS"]]`,
		},
		{
			&Publish{TopicURI: "t", Event: "e", Eligible: []string{"dYqgDl0FthI6_hjb"}},
			`[7,"t","e",[],["dYqgDl0FthI6_hjb"]]`,
		},
		{
			&Publish{TopicURI: "t", Event: "e", Options: map[string]interface{}{
				PublishOptAcknowledge: true, PublishOptRequest: "abc", PublishOptExcludeMe: false,
			}},
			`[7,"t","e",{"acknowledge":true,"exclude_me":false,"request":"abc"}]`,
		},
		{&Event{"http://example.com/simple", "Hello, I am a simple event."}, `[8,"http://example.com/simple","Hello, I am a simple event."]`},
	}

	s := new(JSONSerializer)
	for _, tst := range tests {
		b, err := s.Serialize(tst.msg)
		if assert.NoError(t, err, tst.exp) {
			assert.Equal(t, tst.exp, string(b))
		}
	}
}

func TestJSONDeserialize(t *testing.T) {
	type test struct {
		packet string
		exp    Message
	}

	tests := []test{
		{`[0,"v59mbCGDXZ7WTyxB",1,"Autobahn/0.5.1"]`, &Welcome{"v59mbCGDXZ7WTyxB", 1, "Autobahn/0.5.1"}},
		{`[0,"v59mbCGDXZ7WTyxB"]`, &Welcome{SessionID: "v59mbCGDXZ7WTyxB"}},
		{`[3,"CcDnuI2bl2oLGBzO",null]`, &CallResult{"CcDnuI2bl2oLGBzO", nil}},
		{`[3,"otZom9UsJhrnzvLa",[1,"a"]]`, &CallResult{"otZom9UsJhrnzvLa", []interface{}{1.0, "a"}}},
		{
			`[4,"gwbN3EDtFv6JvNV5","http://autobahn.tavendo.de/error#generic","math domain error"]`,
			&CallError{CallID: "gwbN3EDtFv6JvNV5", ErrorURI: "http://autobahn.tavendo.de/error#generic", ErrorDesc: "math domain error"},
		},
		{
			`[4,"7bVW5pv8r60ZeL6u","http://example.com/error#number_too_big","too big",{"max":1000}]`,
			&CallError{CallID: "7bVW5pv8r60ZeL6u", ErrorURI: "http://example.com/error#number_too_big",
				ErrorDesc: "too big", ErrorDetails: map[string]interface{}{"max": 1000.0}, HasDetails: true},
		},
		{
			`[8,"event:myevent1",{"name":"foo","value":"bar","num":23}]`,
			&Event{"event:myevent1", map[string]interface{}{"name": "foo", "value": "bar", "num": 23.0}},
		},
		{`[7,"t","e",true]`, &Publish{TopicURI: "t", Event: "e", ExcludeMe: boolPtr(true)}},
		{`[7,"t","e",[],["a"]]`, &Publish{TopicURI: "t", Event: "e", Exclude: []string{}, Eligible: []string{"a"}}},
		{`[2,"id","calc:add",1,2]`, &Call{CallID: "id", ProcURI: "calc:add", Args: []interface{}{1.0, 2.0}}},
	}

	s := new(JSONSerializer)
	for _, tst := range tests {
		msg, err := s.Deserialize([]byte(tst.packet))
		if assert.NoError(t, err, tst.packet) {
			assert.Equal(t, tst.exp, msg, tst.packet)
		}
	}
}

func TestJSONDeserializeMalformed(t *testing.T) {
	packets := []string{
		`this is not json`,
		`{"type":0}`,
		`[]`,
		`["0","v59mbCGDXZ7WTyxB"]`,
		`[0.5,"v59mbCGDXZ7WTyxB"]`,
		`[42,"whatever"]`,
		`[0]`,
		`[0,17]`,
		`[0,"id","one"]`,
		`[3,"id"]`,
		`[3,"id",1,2]`,
		`[4,"id","uri"]`,
		`[4,"id","uri","desc",null,"extra"]`,
		`[5]`,
		`[7,"t"]`,
		`[7,"t","e",true,["a"]]`,
		`[7,"t","e",[1]]`,
		`[8,"t"]`,
		`[8,7,"e"]`,
	}

	s := new(JSONSerializer)
	for _, p := range packets {
		_, err := s.Deserialize([]byte(p))
		var derr *DecodeError
		assert.True(t, errors.As(err, &derr), "expected a decode error for %s, got %v", p, err)
	}
}

func TestDecodeErrorType(t *testing.T) {
	Convey("Given a CALLRESULT with too few fields", t, func() {
		_, err := new(JSONSerializer).Deserialize([]byte(`[3,"id"]`))

		Convey("The error should name the message type", func() {
			derr, ok := err.(*DecodeError)
			So(ok, ShouldBeTrue)
			So(derr.Type, ShouldEqual, int(CALLRESULT))
			So(err.Error(), ShouldContainSubstring, "CALLRESULT")
		})
	})

	Convey("Given an unknown message type", t, func() {
		_, err := new(JSONSerializer).Deserialize([]byte(`[42,"x"]`))

		Convey("The error should carry the tag", func() {
			derr, ok := err.(*DecodeError)
			So(ok, ShouldBeTrue)
			So(derr.Type, ShouldEqual, 42)
			So(err.Error(), ShouldContainSubstring, "UNKNOWN(42)")
		})
	})
}

func TestMessagePackRoundTrip(t *testing.T) {
	s := new(MessagePackSerializer)

	Convey("Given a WELCOME message encoded as msgpack", t, func() {
		b, err := s.Serialize(&Welcome{"v59mbCGDXZ7WTyxB", 1, "onramp"})
		So(err, ShouldBeNil)

		Convey("It should decode to the same message", func() {
			msg, err := s.Deserialize(b)
			So(err, ShouldBeNil)
			So(msg, ShouldResemble, &Welcome{"v59mbCGDXZ7WTyxB", 1, "onramp"})
		})
	})

	Convey("Given an EVENT with an object payload", t, func() {
		b, err := s.Serialize(&Event{"http://example.com/simple", map[string]interface{}{"name": "foo"}})
		So(err, ShouldBeNil)

		Convey("The payload should decode as a string keyed map", func() {
			msg, err := s.Deserialize(b)
			So(err, ShouldBeNil)
			ev, ok := msg.(*Event)
			So(ok, ShouldBeTrue)
			So(ev.TopicURI, ShouldEqual, "http://example.com/simple")
			So(ev.Event, ShouldResemble, map[string]interface{}{"name": "foo"})
		})
	})

	Convey("Given an acknowledged PUBLISH", t, func() {
		b, err := s.Serialize(&Publish{TopicURI: "t", Event: "e", Options: map[string]interface{}{
			PublishOptAcknowledge: true, PublishOptRequest: "abc",
		}})
		So(err, ShouldBeNil)

		Convey("The options should survive", func() {
			msg, err := s.Deserialize(b)
			So(err, ShouldBeNil)
			pub := msg.(*Publish)
			So(pub.Options[PublishOptAcknowledge], ShouldEqual, true)
			So(pub.Options[PublishOptRequest], ShouldEqual, "abc")
		})
	})
}

func TestMessagePackRejectsFloatType(t *testing.T) {
	var b []byte
	require.NoError(t, codec.NewEncoderBytes(&b, msgpackHandle).Encode([]interface{}{3.0, "id", nil}))

	_, err := new(MessagePackSerializer).Deserialize(b)
	var derr *DecodeError
	assert.True(t, errors.As(err, &derr))

	_, err = new(MessagePackSerializer).Deserialize([]byte{0xc1})
	assert.True(t, errors.As(err, &derr))
}

func TestParseSerialization(t *testing.T) {
	s, err := ParseSerialization("")
	assert.NoError(t, err)
	assert.Equal(t, JSON, s)

	s, err = ParseSerialization(" MsgPack ")
	assert.NoError(t, err)
	assert.Equal(t, MSGPACK, s)

	_, err = ParseSerialization("cbor")
	assert.Error(t, err)

	_, err = NewSerializer(Serialization(9))
	assert.Error(t, err)
}
