package onramp

import (
	"time"
)

// pendingCall is an outstanding CALL (or acknowledged PUBLISH) waiting for
// its CALLRESULT or CALLERROR.
type pendingCall struct {
	id      string
	procURI string
	// args and started are kept for diagnostics only
	args    []interface{}
	started time.Time
	future  *Future
	timer   *time.Timer
}

func (c *pendingCall) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

// callTable maps correlation ids to pending calls. It is owned by one
// Session and guarded by the session's lock.
type callTable struct {
	calls map[string]*pendingCall
	newID func() string
}

func newCallTable(newID func() string) *callTable {
	if newID == nil {
		newID = NewID
	}
	return &callTable{
		calls: make(map[string]*pendingCall),
		newID: newID,
	}
}

// add records a new pending call under an id that is not currently in use.
func (t *callTable) add(procURI string, args []interface{}) *pendingCall {
	var id string
	for {
		id = t.newID()
		if _, ok := t.calls[id]; !ok {
			break
		}
		log.Debug("correlation id collision, regenerating")
	}
	c := &pendingCall{
		id:      id,
		procURI: procURI,
		args:    args,
		started: time.Now(),
		future:  newFuture(),
	}
	t.calls[id] = c
	return c
}

// take removes and returns the call with the given id.
func (t *callTable) take(id string) (*pendingCall, bool) {
	c, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	return c, ok
}

// drain removes and returns every pending call.
func (t *callTable) drain() []*pendingCall {
	ret := make([]*pendingCall, 0, len(t.calls))
	for id, c := range t.calls {
		ret = append(ret, c)
		delete(t.calls, id)
	}
	return ret
}

func (t *callTable) len() int {
	return len(t.calls)
}
