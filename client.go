package onramp

import (
	"context"

	"go.uber.org/zap"
)

// Config combines the websocket and session settings used by Dial.
type Config struct {
	Websocket WebsocketConfig
	Session   SessionConfig
}

// Dial connects to the WAMP server at url and waits for WELCOME. The
// session's receive loop is already running when Dial returns.
//
// If ctx is done before WELCOME arrives the connection is closed and the
// context error returned.
func Dial(ctx context.Context, url string, cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	t, err := DialWebsocket(ctx, url, &cfg.Websocket)
	if err != nil {
		return nil, err
	}
	scfg := cfg.Session
	if scfg.Serializer == nil {
		if scfg.Serializer, err = NewSerializer(cfg.Websocket.Serialization); err != nil {
			t.Close()
			return nil, err
		}
	}
	if scfg.Logger == nil {
		scfg.Logger = cfg.Websocket.Logger
	}
	s := NewSession(t, &scfg)
	go s.Receive()

	select {
	case <-s.Opened():
		return s, nil
	case <-s.Done():
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		s.log.Debug("gave up waiting for welcome", zap.String("url", url))
		s.Close()
		return nil, ctx.Err()
	}
}
