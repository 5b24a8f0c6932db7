package onramp

import (
	"errors"
	"sync"
)

// ErrTransportClosed is returned by Send on a closed transport.
var ErrTransportClosed = errors.New("transport is closed")

// Transport is an ordered, message-based duplex channel carrying serialized
// WAMP messages.
type Transport interface {
	// Send a single message payload to the peer.
	Send(payload []byte) error
	// Receive returns a channel of payloads from the peer. The channel is
	// closed when the connection ends.
	Receive() <-chan []byte
	// Err returns the reason the connection ended once the Receive channel is
	// closed; nil means a clean close.
	Err() error
	// Closes the connection and the channel returned from Receive(). Multiple
	// calls to Close() will have no effect.
	Close() error
}

// NewPipe creates two linked transports. Payloads sent on one will appear in
// the Receive of the other. Closing either end closes both.
func NewPipe() (Transport, Transport) {
	aToB := make(chan []byte, 16)
	bToA := make(chan []byte, 16)
	p := &pipe{closing: make(chan struct{})}

	a := &pipeEnd{pipe: p, incoming: bToA, outgoing: aToB, messages: make(chan []byte, 16)}
	b := &pipeEnd{pipe: p, incoming: aToB, outgoing: bToA, messages: make(chan []byte, 16)}
	go a.run()
	go b.run()
	return a, b
}

type pipe struct {
	once    sync.Once
	closing chan struct{}
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.closing) })
}

type pipeEnd struct {
	*pipe
	incoming <-chan []byte
	outgoing chan<- []byte
	messages chan []byte
}

func (e *pipeEnd) run() {
	defer close(e.messages)
	for {
		select {
		case b := <-e.incoming:
			select {
			case e.messages <- b:
			case <-e.closing:
				return
			}
		case <-e.closing:
			// deliver what was sent before the close, without blocking
			for {
				select {
				case b := <-e.incoming:
					select {
					case e.messages <- b:
					default:
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (e *pipeEnd) Send(payload []byte) error {
	select {
	case <-e.closing:
		return ErrTransportClosed
	default:
	}
	select {
	case e.outgoing <- payload:
		return nil
	case <-e.closing:
		return ErrTransportClosed
	}
}

func (e *pipeEnd) Receive() <-chan []byte {
	return e.messages
}

func (e *pipeEnd) Err() error {
	return nil
}

func (e *pipeEnd) Close() error {
	e.close()
	return nil
}
