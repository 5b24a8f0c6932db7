package onramp

// EventHandler handles an EVENT for a subscribed topic. topicURI is the
// topic as sent by the peer (possibly a CURIE).
//
// Handlers run on the session's receive goroutine, one at a time and in
// registration order. A handler that blocks delays every message received
// after it, including call results; hand long work off to another goroutine.
type EventHandler func(topicURI string, event interface{})

// A Listener is a subscription handle. The same Listener may be subscribed
// to several topics but only once per resolved topic.
type Listener struct {
	handler EventHandler
}

// NewListener wraps fn in a new Listener.
func NewListener(fn EventHandler) *Listener {
	return &Listener{handler: fn}
}

// subscriptionRegistry maps resolved topic URIs to their listeners in
// registration order.
type subscriptionRegistry struct {
	topics map[string][]*Listener
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		topics: make(map[string][]*Listener),
	}
}

// add appends l to the listeners for topic. created is true when this is
// the first listener for the topic.
func (r *subscriptionRegistry) add(topic string, l *Listener) (created bool, err error) {
	ls, ok := r.topics[topic]
	for _, x := range ls {
		if x == l {
			return false, ErrAlreadySubscribed
		}
	}
	r.topics[topic] = append(ls, l)
	return !ok, nil
}

// remove removes l from topic, or every listener when l is nil. emptied is
// true when the topic has no listeners left and was deleted.
func (r *subscriptionRegistry) remove(topic string, l *Listener) (emptied bool, err error) {
	ls, ok := r.topics[topic]
	if !ok {
		return false, ErrNotSubscribed
	}
	if l == nil {
		ls = nil
	} else {
		idx := -1
		for i, x := range ls {
			if x == l {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false, ErrNotSubscribed
		}
		ls = append(ls[:idx:idx], ls[idx+1:]...)
	}
	if len(ls) == 0 {
		delete(r.topics, topic)
		return true, nil
	}
	r.topics[topic] = ls
	return false, nil
}

// listeners returns a copy of the listeners for topic.
func (r *subscriptionRegistry) listeners(topic string) []*Listener {
	ls, ok := r.topics[topic]
	if !ok {
		return nil
	}
	return append([]*Listener(nil), ls...)
}

func (r *subscriptionRegistry) topicList() []string {
	ret := make([]string, 0, len(r.topics))
	for t := range r.topics {
		ret = append(ret, t)
	}
	return ret
}

func (r *subscriptionRegistry) clear() {
	r.topics = make(map[string][]*Listener)
}
