package onramp

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	jsonWebsocketProtocol    = "wamp"
	msgpackWebsocketProtocol = "wamp.msgpack"
)

// errors.
var (
	ErrWSSendTimeout = errors.New("ws peer send timeout")
)

// ConnectionConfig tunes an established websocket connection. Zero values
// disable the corresponding limit.
type ConnectionConfig struct {
	// IdleTimeout closes the connection when nothing is read for this long.
	IdleTimeout time.Duration
	// PingTimeout is the interval between keepalive pings.
	PingTimeout time.Duration
	// WriteTimeout bounds each frame write. Pings default to 10s.
	WriteTimeout time.Duration
	// MaxMsgSize limits the size of inbound messages in bytes.
	MaxMsgSize int64
}

// WebsocketConfig configures DialWebsocket.
type WebsocketConfig struct {
	Serialization Serialization
	// SkipSubprotocolCheck accepts servers that do not echo the requested
	// subprotocol in the handshake.
	SkipSubprotocolCheck bool
	TLSConfig            *tls.Config
	Header               http.Header
	HandshakeTimeout     time.Duration
	Logger               *zap.Logger
	ConnectionConfig
}

// WebsocketProtocol returns the websocket subprotocol requested for s.
func WebsocketProtocol(s Serialization) (string, error) {
	switch s {
	case JSON:
		return jsonWebsocketProtocol, nil
	case MSGPACK:
		return msgpackWebsocketProtocol, nil
	default:
		return "", pkgerrors.Errorf("unsupported serialization: %v", s)
	}
}

type websocketTransport struct {
	conn        *websocket.Conn
	sendMsgs    chan []byte
	messages    chan []byte
	payloadType int
	mutex       sync.Mutex
	err         error
	peerClosed  bool
	closeOnce   sync.Once
	inSending   chan struct{}
	closing     chan struct{}
	log         *zap.Logger
	ConnectionConfig
}

// DialWebsocket opens a websocket to url, negotiating the WAMP subprotocol
// for the configured serialization.
func DialWebsocket(ctx context.Context, url string, cfg *WebsocketConfig) (Transport, error) {
	if cfg == nil {
		cfg = &WebsocketConfig{}
	}
	protocol, err := WebsocketProtocol(cfg.Serialization)
	if err != nil {
		return nil, err
	}
	payloadType := websocket.TextMessage
	if cfg.Serialization == MSGPACK {
		payloadType = websocket.BinaryMessage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{protocol},
		TLSClientConfig:  cfg.TLSConfig,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, url, cfg.Header)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "dialing %s", url)
	}
	if got := conn.Subprotocol(); got != protocol && !cfg.SkipSubprotocolCheck {
		conn.Close()
		return nil, pkgerrors.Wrapf(ErrUnexpectedSubprotocol, "server selected %q, wanted %q", got, protocol)
	}
	logger.Debug("websocket connected", zap.String("url", url), zap.String("subprotocol", conn.Subprotocol()))

	return newWebsocketTransport(conn, payloadType, cfg.ConnectionConfig, logger), nil
}

func newWebsocketTransport(conn *websocket.Conn, payloadType int, cc ConnectionConfig, logger *zap.Logger) *websocketTransport {
	ep := &websocketTransport{
		conn:             conn,
		sendMsgs:         make(chan []byte, 16),
		messages:         make(chan []byte, 100),
		payloadType:      payloadType,
		inSending:        make(chan struct{}),
		closing:          make(chan struct{}),
		log:              logger,
		ConnectionConfig: cc,
	}
	go ep.run()
	return ep
}

func (ep *websocketTransport) Send(payload []byte) error {
	if ep.isClosed() {
		return ErrTransportClosed
	}
	select {
	case ep.sendMsgs <- payload:
		return nil
	case <-time.After(5 * time.Second):
		ep.log.Warn(ErrWSSendTimeout.Error())
		ep.Close()
		return ErrWSSendTimeout
	case <-ep.closing:
		return ErrTransportClosed
	}
}

func (ep *websocketTransport) Receive() <-chan []byte {
	return ep.messages
}

func (ep *websocketTransport) Err() error {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()
	return ep.err
}

func (ep *websocketTransport) doClosing() bool {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()

	select {
	case <-ep.closing:
		return false
	default:
		close(ep.closing)
		return true
	}
}

func (ep *websocketTransport) isClosed() bool {
	select {
	case <-ep.closing:
		return true
	default:
		return false
	}
}

// Close sends a close frame, unless the peer already went away, and closes
// the connection.
func (ep *websocketTransport) Close() error {
	ep.doClosing()
	<-ep.inSending

	var err error
	ep.closeOnce.Do(func() {
		ep.mutex.Lock()
		peerClosed := ep.peerClosed
		ep.mutex.Unlock()
		if !peerClosed {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "goodbye")
			err = ep.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(5*time.Second))
			if errors.Is(err, websocket.ErrCloseSent) {
				err = nil
			}
		}
		err = multierr.Append(err, ep.conn.Close())
	})
	return err
}

func (ep *websocketTransport) updateReadDeadline() {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()
	if ep.IdleTimeout > 0 {
		ep.conn.SetReadDeadline(time.Now().Add(ep.IdleTimeout))
	}
}

func (ep *websocketTransport) setReadDead() {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()
	ep.conn.SetReadDeadline(time.Now())
}

func (ep *websocketTransport) setErr(err error) {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()
	if ep.err == nil {
		ep.err = err
	}
}

func (ep *websocketTransport) markPeerClosed(err error) {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()
	ep.peerClosed = true
	if ep.err == nil {
		ep.err = err
	}
}

func (ep *websocketTransport) run() {
	go ep.sending()
	defer close(ep.messages)

	if ep.MaxMsgSize > 0 {
		ep.conn.SetReadLimit(ep.MaxMsgSize)
	}
	ep.conn.SetPongHandler(func(v string) error {
		ep.log.Debug("pong", zap.String("data", v))
		ep.updateReadDeadline()
		return nil
	})

	for {
		ep.updateReadDeadline()
		_, b, err := ep.conn.ReadMessage()
		if err != nil {
			switch {
			case ep.isClosed():
				ep.log.Debug("peer connection closed")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				ep.log.Debug("peer closed the connection", zap.Error(err))
				ep.markPeerClosed(nil)
			default:
				ep.log.Warn("error reading from peer", zap.Error(err))
				ep.markPeerClosed(pkgerrors.Wrap(err, "websocket read"))
			}
			ep.doClosing()
			return
		}
		select {
		case ep.messages <- b:
		case <-ep.closing:
			return
		}
	}
}

func (ep *websocketTransport) sending() {
	var ticker *time.Ticker
	if ep.PingTimeout == 0 {
		ticker = time.NewTicker(7 * 24 * time.Hour)
	} else {
		ticker = time.NewTicker(ep.PingTimeout)
	}

	defer func() {
		ep.setReadDead()
		ticker.Stop()
		close(ep.inSending)
	}()

	for {
		select {
		case b := <-ep.sendMsgs:
			if err := ep.doSend(b); err != nil {
				ep.setErr(err)
				ep.doClosing()
				return
			}
		case <-ticker.C:
			wt := ep.WriteTimeout
			if wt == 0 {
				wt = 10 * time.Second
			}
			if err := ep.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wt)); err != nil {
				ep.log.Warn("error sending ping message", zap.Error(err))
				ep.setErr(pkgerrors.Wrap(err, "websocket ping"))
				ep.doClosing()
				return
			}
		case <-ep.closing:
			// flush what was queued before the close
			for {
				select {
				case b := <-ep.sendMsgs:
					if err := ep.doSend(b); err != nil {
						return
					}
					continue
				default:
				}
				return
			}
		}
		ep.updateReadDeadline()
	}
}

func (ep *websocketTransport) doSend(b []byte) error {
	if ep.WriteTimeout > 0 {
		ep.conn.SetWriteDeadline(time.Now().Add(ep.WriteTimeout))
	}
	if err := ep.conn.WriteMessage(ep.payloadType, b); err != nil {
		ep.log.Warn("error writing message", zap.Error(err))
		return pkgerrors.Wrap(err, "websocket write")
	}
	return nil
}
