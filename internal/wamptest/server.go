// Copyright (c) 2013 Joshua Elliott
// Released under the MIT License
// http://opensource.org/licenses/MIT

// Package wamptest provides an in-process WAMP v1 server for tests.
package wamptest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jcelliott/onramp"
)

// ServerIdent is sent in every WELCOME.
const ServerIdent = "onramp-wamptest"

// RPCError lets an RPCHandler choose the error URI and details of the
// CALLERROR it produces.
type RPCError interface {
	error
	URI() string
	Description() string
	Details() interface{}
}

// RPCHandler handles a CALL from client id.
type RPCHandler func(id, procURI string, args ...interface{}) (interface{}, error)

var serverBacklog = 10

type listenerMap map[string]bool

func (lm listenerMap) Add(id string) {
	lm[id] = true
}
func (lm listenerMap) Contains(id string) bool {
	return lm[id]
}
func (lm listenerMap) Remove(id string) {
	delete(lm, id)
}

// Inbound is a message received from a client.
type Inbound struct {
	ClientID string
	Message  onramp.Message
}

type client struct {
	id          string
	conn        *websocket.Conn
	serializer  onramp.Serializer
	payloadType int

	mu     sync.Mutex
	closed bool
	out    chan []byte
}

func (c *client) send(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

// Server is a minimal WAMP v1 server: it welcomes clients, answers calls
// from registered handlers, remembers prefixes and routes published events
// to subscribers.
type Server struct {
	// SkipWelcome makes the server accept connections without sending
	// WELCOME.
	SkipWelcome bool

	upgrader websocket.Upgrader
	log      *zap.Logger

	mu            sync.Mutex
	clients       map[string]*client
	subscriptions map[string]listenerMap
	prefixes      map[string]*onramp.PrefixMap
	rpcHooks      map[string]RPCHandler
	received      []Inbound
	connects      int
}

// NewServer returns a server that negotiates the given websocket
// subprotocols. With none it negotiates both WAMP v1 subprotocols.
func NewServer(subprotocols ...string) *Server {
	if subprotocols == nil {
		subprotocols = []string{"wamp", "wamp.msgpack"}
	}
	return &Server{
		upgrader: websocket.Upgrader{
			Subprotocols: subprotocols,
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
		log:           onramp.Logger().Named("wamptest"),
		clients:       make(map[string]*client),
		subscriptions: make(map[string]listenerMap),
		prefixes:      make(map[string]*onramp.PrefixMap),
		rpcHooks:      make(map[string]RPCHandler),
	}
}

// Start serves s on a new httptest server and returns its ws:// URL.
// The server is closed with the returned function.
func Start(s *Server) (url string, closeFn func()) {
	ts := httptest.NewServer(s)
	return "ws" + strings.TrimPrefix(ts.URL, "http"), func() {
		s.CloseAll()
		ts.Close()
	}
}

func (t *Server) RegisterRPC(uri string, f RPCHandler) {
	if f != nil {
		t.mu.Lock()
		t.rpcHooks[uri] = f
		t.mu.Unlock()
	}
}

func (t *Server) UnregisterRPC(uri string) {
	t.mu.Lock()
	delete(t.rpcHooks, uri)
	t.mu.Unlock()
}

// Clients returns the ids of connected clients.
func (t *Server) Clients() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.clients))
	for id := range t.clients {
		ids = append(ids, id)
	}
	return ids
}

// Connects returns the number of connections accepted so far.
func (t *Server) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Subscribers returns the ids of clients subscribed to the resolved topic.
func (t *Server) Subscribers(topic string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for id := range t.subscriptions[topic] {
		ids = append(ids, id)
	}
	return ids
}

// Received returns every message received so far, in arrival order.
func (t *Server) Received() []Inbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Inbound(nil), t.received...)
}

// Send encodes msg for client id and queues it.
func (t *Server) Send(id string, msg onramp.Message) error {
	t.mu.Lock()
	c, ok := t.clients[id]
	t.mu.Unlock()
	if !ok {
		return errors.Errorf("no client %s", id)
	}
	b, err := c.serializer.Serialize(msg)
	if err != nil {
		return err
	}
	if !c.send(b) {
		return errors.Errorf("client %s is not accepting messages", id)
	}
	return nil
}

// SendRaw queues payload for client id without encoding it.
func (t *Server) SendRaw(id string, payload []byte) error {
	t.mu.Lock()
	c, ok := t.clients[id]
	t.mu.Unlock()
	if !ok || !c.send(payload) {
		return errors.Errorf("no client %s", id)
	}
	return nil
}

// CloseAll drops every client connection.
func (t *Server) CloseAll() {
	t.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(t.clients))
	for _, c := range t.clients {
		conns = append(conns, c.conn)
	}
	t.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

func (t *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	t.handleWebsocket(conn)
}

func (t *Server) handleWebsocket(conn *websocket.Conn) {
	defer conn.Close()

	tid, err := uuid.NewV4()
	if err != nil {
		t.log.Error("could not create unique id, refusing client connection")
		return
	}
	c := &client{
		id:          tid.String(),
		conn:        conn,
		serializer:  new(onramp.JSONSerializer),
		payloadType: websocket.TextMessage,
		out:         make(chan []byte, serverBacklog),
	}
	if conn.Subprotocol() == "wamp.msgpack" {
		c.serializer = new(onramp.MessagePackSerializer)
		c.payloadType = websocket.BinaryMessage
	}
	log := t.log.With(zap.String("client", c.id))

	if !t.SkipWelcome {
		b, err := c.serializer.Serialize(&onramp.Welcome{
			SessionID:       c.id,
			ProtocolVersion: onramp.ProtocolVersion,
			ServerIdent:     ServerIdent,
		})
		if err != nil {
			log.Error("error encoding welcome message", zap.Error(err))
			return
		}
		c.send(b)
	}

	t.mu.Lock()
	t.clients[c.id] = c
	t.prefixes[c.id] = onramp.NewPrefixMap()
	t.connects++
	t.mu.Unlock()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for b := range c.out {
			if err := conn.WriteMessage(c.payloadType, b); err != nil {
				log.Debug("error sending message", zap.Error(err))
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("error receiving message, aborting connection", zap.Error(err))
			}
			break
		}
		msg, err := c.serializer.Deserialize(data)
		if err != nil {
			log.Warn("invalid message format, message dropped", zap.Error(err), zap.ByteString("data", data))
			continue
		}
		t.handle(c, msg)
	}

	t.mu.Lock()
	delete(t.clients, c.id)
	delete(t.prefixes, c.id)
	for _, lm := range t.subscriptions {
		lm.Remove(c.id)
	}
	t.mu.Unlock()
	c.close()
	<-writerDone
}

func (t *Server) handle(c *client, msg onramp.Message) {
	t.mu.Lock()
	t.received = append(t.received, Inbound{ClientID: c.id, Message: msg})
	t.mu.Unlock()

	switch msg := msg.(type) {
	case *onramp.Prefix:
		t.mu.Lock()
		t.prefixes[c.id].Set(msg.Prefix, msg.URI)
		t.mu.Unlock()
	case *onramp.Call:
		t.handleCall(c, msg)
	case *onramp.Subscribe:
		t.mu.Lock()
		topic := t.prefixes[c.id].ResolveOrPass(msg.TopicURI)
		if _, ok := t.subscriptions[topic]; !ok {
			t.subscriptions[topic] = make(listenerMap)
		}
		t.subscriptions[topic].Add(c.id)
		t.mu.Unlock()
	case *onramp.Unsubscribe:
		t.mu.Lock()
		topic := t.prefixes[c.id].ResolveOrPass(msg.TopicURI)
		if lm, ok := t.subscriptions[topic]; ok {
			lm.Remove(c.id)
		}
		t.mu.Unlock()
	case *onramp.Publish:
		t.handlePublish(c, msg)
	default:
		t.log.Warn("server -> client message received, ignored", zap.Stringer("type", msg.MessageType()))
	}
}

func (t *Server) reply(c *client, msg onramp.Message) {
	b, err := c.serializer.Serialize(msg)
	if err != nil {
		t.log.Error("error encoding reply", zap.Error(err))
		return
	}
	c.send(b)
}

func (t *Server) handleCall(c *client, msg *onramp.Call) {
	t.mu.Lock()
	f, ok := t.rpcHooks[msg.ProcURI]
	if !ok {
		f, ok = t.rpcHooks[t.prefixes[c.id].ResolveOrPass(msg.ProcURI)]
	}
	t.mu.Unlock()

	if !ok {
		t.reply(c, &onramp.CallError{
			CallID:    msg.CallID,
			ErrorURI:  "error:notimplemented",
			ErrorDesc: "RPC call '" + msg.ProcURI + "' not implemented",
		})
		return
	}
	res, err := f(c.id, msg.ProcURI, msg.Args...)
	if err == nil {
		t.reply(c, &onramp.CallResult{CallID: msg.CallID, Result: res})
		return
	}
	out := &onramp.CallError{
		CallID:    msg.CallID,
		ErrorURI:  msg.ProcURI + "#generic-error",
		ErrorDesc: err.Error(),
	}
	if er, ok := err.(RPCError); ok {
		out.ErrorURI = er.URI()
		out.ErrorDesc = er.Description()
		if details := er.Details(); details != nil {
			out.ErrorDetails = details
			out.HasDetails = true
		}
	}
	t.reply(c, out)
}

func (t *Server) handlePublish(c *client, msg *onramp.Publish) {
	excludeMe := msg.ExcludeMe != nil && *msg.ExcludeMe
	var ackID string
	if msg.Options != nil {
		excludeMe, _ = msg.Options[onramp.PublishOptExcludeMe].(bool)
		if ack, _ := msg.Options[onramp.PublishOptAcknowledge].(bool); ack {
			ackID, _ = msg.Options[onramp.PublishOptRequest].(string)
		}
	}

	t.mu.Lock()
	topic := t.prefixes[c.id].ResolveOrPass(msg.TopicURI)
	var sendTo []*client
	for id := range t.subscriptions[topic] {
		if id == c.id && excludeMe {
			continue
		}
		if contains(msg.Exclude, id) {
			continue
		}
		if msg.Eligible != nil && !contains(msg.Eligible, id) {
			continue
		}
		if rc, ok := t.clients[id]; ok {
			sendTo = append(sendTo, rc)
		}
	}
	t.mu.Unlock()

	for _, rc := range sendTo {
		t.reply(rc, &onramp.Event{TopicURI: topic, Event: msg.Event})
	}
	if ackID != "" {
		pid, err := uuid.NewV4()
		if err != nil {
			t.reply(c, &onramp.CallError{CallID: ackID, ErrorURI: "error:internal", ErrorDesc: err.Error()})
			return
		}
		t.reply(c, &onramp.CallResult{CallID: ackID, Result: pid.String()})
	}
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// Error is an RPCError with a fixed URI, description and details.
type Error struct {
	ErrorURI string
	Desc     string
	Info     interface{}
}

func (e Error) Error() string        { return e.Desc }
func (e Error) URI() string          { return e.ErrorURI }
func (e Error) Description() string  { return e.Desc }
func (e Error) Details() interface{} { return e.Info }
