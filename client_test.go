// The MIT License (MIT)

// Copyright (c) 2013 Joshua Elliott

// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:

// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.

// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package onramp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcelliott/onramp"
	"github.com/jcelliott/onramp/internal/wamptest"
)

func startServer(t *testing.T, s *wamptest.Server) string {
	url, closeFn := wamptest.Start(s)
	t.Cleanup(closeFn)
	return url
}

func dial(t *testing.T, url string, cfg *onramp.Config) *onramp.Session {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := onramp.Dial(ctx, url, cfg)
	require.NoError(t, err, "error connecting")
	t.Cleanup(func() { c.Close() })
	return c
}

func wait(t *testing.T, f *onramp.Future) (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := f.Wait(ctx)
	require.NotEqual(t, context.DeadlineExceeded, err, "future not settled")
	return res, err
}

func waitSubscribers(t *testing.T, s *wamptest.Server, topic string, n int) {
	assert.Eventually(t, func() bool {
		return len(s.Subscribers(topic)) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClient_CallResult(t *testing.T) {
	s := wamptest.NewServer()
	s.RegisterRPC("rpc:test_result",
		func(client, uri string, args ...interface{}) (interface{}, error) {
			return "ok", nil
		})
	c := dial(t, startServer(t, s), nil)

	assert.Equal(t, onramp.Connected, c.State())
	assert.Equal(t, wamptest.ServerIdent, c.ServerIdent())
	assert.Equal(t, []string{c.SessionID()}, s.Clients())

	f, err := c.Call("rpc:test_result")
	require.NoError(t, err)
	res, err := wait(t, f)
	assert.NoError(t, err)
	assert.Equal(t, "ok", res)
}

func TestClient_CallArgs(t *testing.T) {
	for _, ser := range []onramp.Serialization{onramp.JSON, onramp.MSGPACK} {
		t.Run(ser.String(), func(t *testing.T) {
			s := wamptest.NewServer()
			s.RegisterRPC("http://example.com/calc#concat",
				func(client, uri string, args ...interface{}) (interface{}, error) {
					var out string
					for _, a := range args {
						str, _ := a.(string)
						out += str
					}
					return out, nil
				})
			c := dial(t, startServer(t, s), &onramp.Config{
				Websocket: onramp.WebsocketConfig{Serialization: ser},
			})

			f, err := c.Call("http://example.com/calc#concat", "on", "ramp")
			require.NoError(t, err)
			res, err := wait(t, f)
			assert.NoError(t, err)
			assert.Equal(t, "onramp", res)
		})
	}
}

func TestClient_CallResultGenericError(t *testing.T) {
	s := wamptest.NewServer()
	s.RegisterRPC("rpc:test_generic_error",
		func(client, uri string, args ...interface{}) (interface{}, error) {
			return nil, errors.New("error")
		})
	c := dial(t, startServer(t, s), nil)

	f, err := c.Call("rpc:test_generic_error")
	require.NoError(t, err)
	res, err := wait(t, f)
	assert.Nil(t, res)
	assert.EqualError(t, err, "wamp: RPC error with URI rpc:test_generic_error#generic-error: error")
}

func TestClient_CallResultCustomError(t *testing.T) {
	s := wamptest.NewServer()
	s.RegisterRPC("rpc:test_custom_error",
		func(client, uri string, args ...interface{}) (interface{}, error) {
			return nil, wamptest.Error{ErrorURI: uri, Desc: "custom error", Info: []interface{}{"a", "b"}}
		})
	c := dial(t, startServer(t, s), nil)

	f, err := c.Call("rpc:test_custom_error")
	require.NoError(t, err)
	_, err = wait(t, f)

	var rerr *onramp.RemoteCallError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "rpc:test_custom_error", rerr.URI)
	assert.Equal(t, "custom error", rerr.Description)
	assert.Equal(t, []interface{}{"a", "b"}, rerr.Details)
}

func TestClient_CallNotImplemented(t *testing.T) {
	c := dial(t, startServer(t, wamptest.NewServer()), nil)

	f, err := c.Call("rpc:missing")
	require.NoError(t, err)
	_, err = wait(t, f)

	var rerr *onramp.RemoteCallError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "error:notimplemented", rerr.URI)
}

func TestClient_Event(t *testing.T) {
	s := wamptest.NewServer()
	url := startServer(t, s)
	c := dial(t, url, nil)

	eventCh := make(chan interface{}, 1)
	require.NoError(t, c.Subscribe("event:test", onramp.NewListener(func(uri string, event interface{}) {
		eventCh <- event
	})))
	waitSubscribers(t, s, "event:test", 1)

	require.NoError(t, c.Publish("event:test", "test", false))

	select {
	case ev := <-eventCh:
		assert.Equal(t, "test", ev)
	case <-time.After(time.Second):
		t.Fail()
	}
}

func TestClient_EventWithPrefix(t *testing.T) {
	s := wamptest.NewServer()
	url := startServer(t, s)
	sub := dial(t, url, nil)
	pub := dial(t, url, nil)

	topics := make(chan string, 1)
	require.NoError(t, sub.Prefix("event", "http://example.com/event#"))
	require.NoError(t, sub.Subscribe("event:chat", onramp.NewListener(func(uri string, event interface{}) {
		topics <- uri
	})))
	waitSubscribers(t, s, "http://example.com/event#chat", 1)

	require.NoError(t, pub.Publish("http://example.com/event#chat", map[string]interface{}{"text": "hi"}, false))

	select {
	case uri := <-topics:
		assert.Equal(t, "http://example.com/event#chat", uri)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestClient_PublishExcludeMe(t *testing.T) {
	s := wamptest.NewServer()
	url := startServer(t, s)
	me := dial(t, url, nil)
	other := dial(t, url, nil)
	const topic = "http://example.com/simple"

	mine := make(chan interface{}, 1)
	theirs := make(chan interface{}, 1)
	require.NoError(t, me.Subscribe(topic, onramp.NewListener(func(_ string, ev interface{}) { mine <- ev })))
	require.NoError(t, other.Subscribe(topic, onramp.NewListener(func(_ string, ev interface{}) { theirs <- ev })))
	waitSubscribers(t, s, topic, 2)

	require.NoError(t, me.Publish(topic, "hello", true))

	select {
	case ev := <-theirs:
		assert.Equal(t, "hello", ev)
	case <-time.After(time.Second):
		t.Fatal("other session got no event")
	}
	select {
	case ev := <-mine:
		t.Fatalf("publisher got its own event: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_PublishEligible(t *testing.T) {
	s := wamptest.NewServer()
	url := startServer(t, s)
	pub := dial(t, url, nil)
	a := dial(t, url, nil)
	b := dial(t, url, nil)
	const topic = "http://example.com/simple"

	gotA := make(chan interface{}, 1)
	gotB := make(chan interface{}, 1)
	require.NoError(t, a.Subscribe(topic, onramp.NewListener(func(_ string, ev interface{}) { gotA <- ev })))
	require.NoError(t, b.Subscribe(topic, onramp.NewListener(func(_ string, ev interface{}) { gotB <- ev })))
	waitSubscribers(t, s, topic, 2)

	require.NoError(t, pub.PublishTo(topic, "only b", nil, []string{b.SessionID()}))

	select {
	case ev := <-gotB:
		assert.Equal(t, "only b", ev)
	case <-time.After(time.Second):
		t.Fatal("eligible session got no event")
	}
	select {
	case ev := <-gotA:
		t.Fatalf("ineligible session got an event: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_PublishAcknowledged(t *testing.T) {
	c := dial(t, startServer(t, wamptest.NewServer()), nil)

	f, err := c.PublishAcknowledged("http://example.com/simple", "hi", false)
	require.NoError(t, err)
	id, err := wait(t, f)
	assert.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestClient_SubprotocolMismatch(t *testing.T) {
	url := startServer(t, wamptest.NewServer("not-wamp"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := onramp.Dial(ctx, url, nil)
	assert.True(t, errors.Is(err, onramp.ErrUnexpectedSubprotocol), "got %v", err)

	c := dial(t, url, &onramp.Config{
		Websocket: onramp.WebsocketConfig{SkipSubprotocolCheck: true},
	})
	assert.Equal(t, onramp.Connected, c.State())
}

func TestClient_DialGivesUpWithoutWelcome(t *testing.T) {
	s := wamptest.NewServer()
	s.SkipWelcome = true
	url := startServer(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := onramp.Dial(ctx, url, nil)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestClient_ServerDropsConnection(t *testing.T) {
	s := wamptest.NewServer()
	s.RegisterRPC("rpc:hang", func(string, string, ...interface{}) (interface{}, error) {
		time.Sleep(time.Second)
		return nil, nil
	})
	c := dial(t, startServer(t, s), nil)

	f, err := c.Call("rpc:hang")
	require.NoError(t, err)
	s.CloseAll()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
	}
	_, err = wait(t, f)
	assert.Equal(t, onramp.ErrConnectionClosed, err)
	assert.Equal(t, onramp.Closed, c.State())
	assert.Error(t, c.Err())
}

func TestClient_DuplicateWelcome(t *testing.T) {
	s := wamptest.NewServer()
	c := dial(t, startServer(t, s), nil)

	require.NoError(t, s.Send(c.SessionID(), &onramp.Welcome{SessionID: "again", ProtocolVersion: 1}))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
	}
	assert.Equal(t, onramp.ErrDuplicateWelcome, c.Err())
}

func TestClient_Close(t *testing.T) {
	s := wamptest.NewServer()
	c := dial(t, startServer(t, s), nil)

	assert.NoError(t, c.Close())
	assert.Nil(t, c.Err())
	assert.Eventually(t, func() bool { return len(s.Clients()) == 0 }, 2*time.Second, 5*time.Millisecond)
}
