package onramp

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRetryDelay is used when SupervisorConfig.RetryDelay is zero.
const DefaultRetryDelay = 2 * time.Second

// DialFunc opens a session and returns once it is welcomed.
type DialFunc func(ctx context.Context) (*Session, error)

// SupervisorState is the observable state of a Supervisor.
type SupervisorState int

const (
	SupervisorIdle SupervisorState = iota
	SupervisorDialing
	SupervisorConnected
	SupervisorWaiting
	SupervisorStopped
)

var supervisorStates = []SupervisorState{
	SupervisorIdle,
	SupervisorDialing,
	SupervisorConnected,
	SupervisorWaiting,
	SupervisorStopped,
}

func (st SupervisorState) String() string {
	switch st {
	case SupervisorIdle:
		return "idle"
	case SupervisorDialing:
		return "dialing"
	case SupervisorConnected:
		return "connected"
	case SupervisorWaiting:
		return "waiting"
	case SupervisorStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (st SupervisorState) MarshalText() ([]byte, error) {
	return []byte(st.String()), nil
}

// SupervisorConfig configures a Supervisor. The zero value is usable.
type SupervisorConfig struct {
	// RetryDelay is the fixed pause before every reconnect attempt.
	RetryDelay time.Duration
	// OnConnect is called with every new session, before the supervisor
	// starts watching it. Prefixes and subscriptions do not survive a
	// reconnect, so this is where they are registered again.
	OnConnect func(s *Session)
	// OnLost is called after a failed dial or a lost session with the number
	// of consecutive failures so far.
	OnLost func(err error, attempts int)
	Logger *zap.Logger
}

// SupervisorStatus is a snapshot of a Supervisor.
type SupervisorStatus struct {
	State     SupervisorState `json:"state"`
	Attempts  int             `json:"attempts"`
	SessionID string          `json:"sessionID,omitempty"`
}

// A Supervisor keeps a session open. It dials, waits for the session to end,
// then dials again after a fixed delay, forever, until it is stopped.
type Supervisor struct {
	dial DialFunc
	cfg  SupervisorConfig
	log  *zap.Logger

	mu       sync.Mutex
	state    SupervisorState
	attempts int
	session  *Session

	stop     chan struct{}
	stopOnce sync.Once
}

func NewSupervisor(dial DialFunc, cfg SupervisorConfig) *Supervisor {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log
	}
	return &Supervisor{
		dial:  dial,
		cfg:   cfg,
		log:   logger.With(zap.String("component", "supervisor")),
		state: SupervisorIdle,
		stop:  make(chan struct{}),
	}
}

// Status returns the current state, the number of consecutive failures and
// the id of the current session.
func (sv *Supervisor) Status() SupervisorStatus {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	st := SupervisorStatus{State: sv.state, Attempts: sv.attempts}
	if sv.session != nil {
		st.SessionID = sv.session.SessionID()
	}
	return st
}

// Session returns the current session, or nil while disconnected.
func (sv *Supervisor) Session() *Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.session
}

// Stop makes Run close the current session and return nil.
func (sv *Supervisor) Stop() {
	sv.stopOnce.Do(func() { close(sv.stop) })
}

func (sv *Supervisor) setState(st SupervisorState) {
	sv.mu.Lock()
	sv.state = st
	sv.mu.Unlock()
	recordSupervisorState(st)
}

// Run supervises sessions until ctx is done or Stop is called. It returns
// ctx.Err() or nil respectively.
func (sv *Supervisor) Run(ctx context.Context) error {
	defer sv.setState(SupervisorStopped)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sv.stop:
			return nil
		default:
		}

		sv.setState(SupervisorDialing)
		s, err := sv.dial(ctx)
		recordDialAttempt(err == nil)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			var done bool
			if done, err = sv.watch(ctx, s); done {
				return err
			}
		}

		sv.mu.Lock()
		sv.attempts++
		attempts := sv.attempts
		sv.state = SupervisorWaiting
		sv.mu.Unlock()
		recordSupervisorState(SupervisorWaiting)

		sv.log.Info("connection lost, retrying",
			zap.Error(err),
			zap.Int("attempts", attempts),
			zap.Duration("delay", sv.cfg.RetryDelay))
		if sv.cfg.OnLost != nil {
			sv.cfg.OnLost(err, attempts)
		}

		timer := time.NewTimer(sv.cfg.RetryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-sv.stop:
			timer.Stop()
			return nil
		}
	}
}

// watch holds s until it ends. done reports that Run must return err;
// otherwise err is the reason the session was lost.
func (sv *Supervisor) watch(ctx context.Context, s *Session) (done bool, err error) {
	sv.mu.Lock()
	sv.attempts = 0
	sv.session = s
	sv.state = SupervisorConnected
	sv.mu.Unlock()
	recordSupervisorState(SupervisorConnected)
	sv.log.Info("connected", zap.String("sessionID", s.SessionID()))

	if sv.cfg.OnConnect != nil {
		sv.cfg.OnConnect(s)
	}

	defer func() {
		sv.mu.Lock()
		sv.session = nil
		sv.mu.Unlock()
	}()

	select {
	case <-s.Done():
		if err = s.Err(); err == nil {
			err = ErrConnectionClosed
		}
		return false, err
	case <-ctx.Done():
		s.Close()
		return true, ctx.Err()
	case <-sv.stop:
		s.Close()
		return true, nil
	}
}
