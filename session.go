// Copyright (c) 2013 Joshua Elliott
// Released under the MIT License
// http://opensource.org/licenses/MIT

package onramp

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ConnectionState is the lifecycle state of a Session.
type ConnectionState int

const (
	// Connecting: the transport is open but WELCOME has not arrived yet.
	Connecting ConnectionState = iota
	// Connected: WELCOME was received; outbound operations are allowed.
	Connected
	// Closed: the session is torn down and cannot be reused.
	Closed
)

func (cs ConnectionState) String() string {
	switch cs {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig holds the optional settings of a Session. The zero value is
// usable.
type SessionConfig struct {
	// Serializer defaults to JSONSerializer.
	Serializer Serializer
	// OnOpen is called once WELCOME has been received.
	OnOpen func()
	// OnClose is called once when the session closes. reason is nil for a
	// local Close.
	OnClose func(reason error)
	// OnWarning receives non-fatal problems: malformed or unexpected inbound
	// messages and panicking event handlers.
	OnWarning func(err error)
	// CallTimeout bounds how long a call may stay pending. Zero means calls
	// wait until answered or until the session closes.
	CallTimeout time.Duration
	// Logger defaults to the package logger.
	Logger *zap.Logger

	newID func() string
}

// Stats holds diagnostic message counters.
type Stats struct {
	Sent     uint64
	Received uint64
}

// A Session is one WAMP v1 client session over a Transport. It owns its
// prefix map, its table of pending calls and its subscriptions; none of them
// survive the session.
//
// Methods may be called from any goroutine, including from event handlers.
type Session struct {
	transport  Transport
	serializer Serializer
	cfg        SessionConfig
	log        *zap.Logger

	mu            sync.Mutex
	state         ConnectionState
	welcome       *Welcome
	prefixes      *PrefixMap
	calls         *callTable
	subscriptions *subscriptionRegistry
	stats         Stats
	closeErr      error

	opened chan struct{}
	done   chan struct{}
}

// NewSession creates a session on an open transport. Call Receive, usually
// in its own goroutine, to start processing inbound messages.
func NewSession(t Transport, cfg *SessionConfig) *Session {
	s := &Session{
		transport:     t,
		state:         Connecting,
		prefixes:      NewPrefixMap(),
		subscriptions: newSubscriptionRegistry(),
		opened:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	if cfg != nil {
		s.cfg = *cfg
	}
	s.serializer = s.cfg.Serializer
	if s.serializer == nil {
		s.serializer = new(JSONSerializer)
	}
	s.log = s.cfg.Logger
	if s.log == nil {
		s.log = log
	}
	s.calls = newCallTable(s.cfg.newID)
	return s
}

// SessionID returns the id assigned by the peer, or "" before WELCOME.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.welcome == nil {
		return ""
	}
	return s.welcome.SessionID
}

// ServerIdent returns the server identity sent in WELCOME, if any.
func (s *Session) ServerIdent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.welcome == nil {
		return ""
	}
	return s.welcome.ServerIdent
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// PendingCalls returns the number of calls waiting for a reply.
func (s *Session) PendingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls.len()
}

// Opened returns a channel that is closed when WELCOME is received.
func (s *Session) Opened() <-chan struct{} {
	return s.opened
}

// Done returns a channel that is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session closed; nil while it is open or after a
// local Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Shrink returns the CURIE for uri under the current prefixes.
func (s *Session) Shrink(uri string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefixes.Shrink(uri)
}

// Resolve expands curie under the current prefixes.
func (s *Session) Resolve(curie string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefixes.Resolve(curie)
}

func (s *Session) ResolveOrPass(curieOrURI string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefixes.ResolveOrPass(curieOrURI)
}

// send serializes and transmits msg. Callers hold s.mu so that wire order
// matches the order of local bookkeeping.
func (s *Session) send(msg Message) error {
	b, err := s.serializer.Serialize(msg)
	if err != nil {
		return err
	}
	if err := s.transport.Send(b); err != nil {
		return errors.Wrapf(err, "sending %s message", msg.MessageType())
	}
	s.stats.Sent++
	recordSent(msg.MessageType())
	s.log.Debug("TX", zap.Stringer("type", msg.MessageType()), zap.ByteString("payload", b))
	return nil
}

// Prefix registers a CURIE prefix locally and with the peer. The local
// mapping is kept even if sending fails.
func (s *Session) Prefix(prefix, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return ErrNotConnected
	}
	s.prefixes.Set(prefix, uri)
	return s.send(&Prefix{Prefix: prefix, URI: uri})
}

// Call calls a remote procedure. It returns immediately; the future is
// settled when the matching CALLRESULT or CALLERROR arrives, when the call
// times out, or when the session closes.
func (s *Session) Call(procURI string, args ...interface{}) (*Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return nil, ErrNotConnected
	}
	c := s.calls.add(procURI, args)
	if err := s.send(&Call{CallID: c.id, ProcURI: procURI, Args: args}); err != nil {
		s.calls.take(c.id)
		return nil, err
	}
	s.track(c)
	return c.future, nil
}

// track starts the timeout of a call that was just sent.
func (s *Session) track(c *pendingCall) {
	callsPending.Inc()
	if s.cfg.CallTimeout > 0 {
		c.timer = time.AfterFunc(s.cfg.CallTimeout, func() { s.expire(c) })
	}
}

func (s *Session) expire(c *pendingCall) {
	s.mu.Lock()
	cur, ok := s.calls.calls[c.id]
	if ok && cur == c {
		s.calls.take(c.id)
	}
	s.mu.Unlock()
	if ok && cur == c {
		s.settle(c, nil, ErrCallTimeout)
	}
}

func (s *Session) settle(c *pendingCall, value interface{}, err error) {
	c.stopTimer()
	callsPending.Dec()
	outcome := "result"
	if err != nil {
		outcome = "error"
		c.future.reject(err)
	} else {
		c.future.resolve(value)
	}
	elapsed := time.Since(c.started)
	observeCall(outcome, elapsed)
	s.log.Debug("call settled",
		zap.String("callID", c.id),
		zap.String("procURI", c.procURI),
		zap.Int("args", len(c.args)),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))
}

// Subscribe adds l as a listener for topic. The first listener for a
// resolved topic causes a SUBSCRIBE carrying topic exactly as given.
func (s *Session) Subscribe(topic string, l *Listener) error {
	if l == nil {
		return &WAMPError{"nil listener"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return ErrNotConnected
	}
	rtopic := s.prefixes.ResolveOrPass(topic)
	created, err := s.subscriptions.add(rtopic, l)
	if err != nil {
		return err
	}
	if created {
		if err := s.send(&Subscribe{TopicURI: topic}); err != nil {
			s.subscriptions.remove(rtopic, l)
			return err
		}
	}
	return nil
}

// Unsubscribe removes l from topic, or every listener of topic when l is
// nil. UNSUBSCRIBE is sent only when no listener is left.
func (s *Session) Unsubscribe(topic string, l *Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rtopic := s.prefixes.ResolveOrPass(topic)
	emptied, err := s.subscriptions.remove(rtopic, l)
	if err != nil || !emptied {
		return err
	}
	if s.state != Connected {
		return nil
	}
	return s.send(&Unsubscribe{TopicURI: topic})
}

// Subscriptions returns the resolved topics that have listeners.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions.topicList()
}

// Publish publishes event to topic. The peer does not acknowledge it.
func (s *Session) Publish(topic string, event interface{}, excludeMe bool) error {
	return s.publish(&Publish{TopicURI: topic, Event: event, ExcludeMe: boolPtr(excludeMe)})
}

// PublishTo publishes event to topic, excluding the given session ids and,
// when eligible is non-nil, delivering only to the sessions it lists.
func (s *Session) PublishTo(topic string, event interface{}, exclude, eligible []string) error {
	if exclude == nil {
		exclude = []string{}
	}
	return s.publish(&Publish{TopicURI: topic, Event: event, Exclude: exclude, Eligible: eligible})
}

func (s *Session) publish(msg *Publish) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return ErrNotConnected
	}
	return s.send(msg)
}

// PublishAcknowledged publishes event and returns a future that resolves
// with the publication id once the peer confirms it. The confirmation is a
// CALLRESULT (or CALLERROR) carrying the request id of the publish, so it is
// subject to the same timeout and close handling as a call.
func (s *Session) PublishAcknowledged(topic string, event interface{}, excludeMe bool) (*Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return nil, ErrNotConnected
	}
	c := s.calls.add(topic, []interface{}{event})
	msg := &Publish{
		TopicURI: topic,
		Event:    event,
		Options: map[string]interface{}{
			PublishOptAcknowledge: true,
			PublishOptRequest:     c.id,
			PublishOptExcludeMe:   excludeMe,
		},
	}
	if err := s.send(msg); err != nil {
		s.calls.take(c.id)
		return nil, err
	}
	s.track(c)
	return c.future, nil
}

// Close closes the session and its transport. Pending calls are rejected
// with ErrConnectionClosed.
func (s *Session) Close() error {
	return s.teardown(nil)
}

// Receive handles messages from the transport until it closes, then tears
// the session down.
//
// This function blocks and is most commonly run in a goroutine.
func (s *Session) Receive() {
	for payload := range s.transport.Receive() {
		s.handlePayload(payload)
	}
	reason := s.transport.Err()
	if reason == nil {
		reason = ErrConnectionClosed
	}
	s.teardown(reason)
}

func (s *Session) handlePayload(payload []byte) {
	msg, err := s.serializer.Deserialize(payload)

	s.mu.Lock()
	s.stats.Received++
	state := s.state
	s.mu.Unlock()

	if state == Closed {
		return
	}
	if err != nil {
		s.warn(err, zap.ByteString("payload", payload))
		return
	}
	recordReceived(msg.MessageType())
	s.log.Debug("RX", zap.Stringer("type", msg.MessageType()), zap.ByteString("payload", payload))

	switch msg := msg.(type) {
	case *Welcome:
		s.handleWelcome(msg)
	case *CallResult:
		s.handleCallResult(msg)
	case *CallError:
		s.handleCallError(msg)
	case *Event:
		s.handleEvent(msg)
	default:
		s.warn(unexpectedMessage{msg.MessageType()})
	}
}

func (s *Session) handleWelcome(msg *Welcome) {
	s.mu.Lock()
	if s.state == Closed {
		// closed between the read and now; a closed session never reopens
		s.mu.Unlock()
		s.log.Debug("ignoring welcome on closed session", zap.String("sessionID", msg.SessionID))
		return
	}
	if s.welcome != nil {
		s.mu.Unlock()
		s.log.Warn("protocol violation", zap.Error(ErrDuplicateWelcome))
		s.teardown(ErrDuplicateWelcome)
		return
	}
	s.welcome = msg
	s.state = Connected
	close(s.opened)
	s.mu.Unlock()

	s.log.Debug("session open",
		zap.String("sessionID", msg.SessionID),
		zap.Int("protocolVersion", msg.ProtocolVersion),
		zap.String("server", msg.ServerIdent))
	if s.cfg.OnOpen != nil {
		s.cfg.OnOpen()
	}
}

func (s *Session) handleCallResult(msg *CallResult) {
	s.mu.Lock()
	c, ok := s.calls.take(msg.CallID)
	s.mu.Unlock()
	if !ok {
		s.log.Debug("no pending call for result", zap.String("callID", msg.CallID))
		return
	}
	s.settle(c, msg.Result, nil)
}

func (s *Session) handleCallError(msg *CallError) {
	s.mu.Lock()
	c, ok := s.calls.take(msg.CallID)
	s.mu.Unlock()
	if !ok {
		s.log.Debug("no pending call for error", zap.String("callID", msg.CallID))
		return
	}
	s.settle(c, nil, &RemoteCallError{
		URI:         msg.ErrorURI,
		Description: msg.ErrorDesc,
		Details:     msg.ErrorDetails,
	})
}

func (s *Session) handleEvent(msg *Event) {
	s.mu.Lock()
	ls := s.subscriptions.listeners(s.prefixes.ResolveOrPass(msg.TopicURI))
	s.mu.Unlock()
	if len(ls) == 0 {
		eventsDropped.Inc()
		s.log.Debug("ignoring unsolicited event", zap.String("topic", msg.TopicURI))
		return
	}
	for _, l := range ls {
		s.dispatch(l, msg)
	}
}

func (s *Session) dispatch(l *Listener, msg *Event) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("event handler for %s panicked: %v", msg.TopicURI, r)
			handlerPanics.Inc()
			s.log.Warn("event handler panicked", zap.String("topic", msg.TopicURI), zap.Error(err))
			if s.cfg.OnWarning != nil {
				s.cfg.OnWarning(err)
			}
		}
	}()
	l.handler(msg.TopicURI, msg.Event)
}

func (s *Session) warn(err error, fields ...zap.Field) {
	decodeWarnings.Inc()
	s.log.Warn("dropping inbound message", append(fields, zap.Error(err))...)
	if s.cfg.OnWarning != nil {
		s.cfg.OnWarning(err)
	}
}

// teardown closes the session once: the transport is closed, prefixes and
// subscriptions are forgotten and every pending call is rejected.
func (s *Session) teardown(reason error) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	s.state = Closed
	s.closeErr = reason
	pending := s.calls.drain()
	s.subscriptions.clear()
	s.prefixes.Clear()
	s.mu.Unlock()

	err := s.transport.Close()
	for _, c := range pending {
		s.settle(c, nil, ErrConnectionClosed)
	}
	close(s.done)

	s.log.Debug("session closed", zap.Error(reason), zap.Int("rejectedCalls", len(pending)))
	if s.cfg.OnClose != nil {
		s.cfg.OnClose(reason)
	}
	return err
}
