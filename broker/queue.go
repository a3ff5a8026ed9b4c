package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/frames"
	"github.com/ernstnaezer/ultralight/store"
)

// DrainTimeout bounds the wait for room in a new subscriber's outbound buffer while it
// receives the stored messages.
const DrainTimeout = 5 * time.Second

// subscriber is one Conn subscribed to a Queue.
type subscriber struct {
	conn Conn
	id   string

	// unhook removes the close handler registered by AddSubscriber.
	unhook func()
}

// Queue is a destination.  Messages published while the queue has subscribers are
// fanned out to all of them; messages published while it has none are stored and
// delivered to the first subscriber that arrives.
//
// A Queue is safe for concurrent use.
type Queue struct {
	address string
	store   store.Store
	log     zerolog.Logger
	metrics *Metrics

	mu          sync.Mutex
	subscribers []*subscriber
	retired     bool
	onLast      func(*Queue)
}

// NewQueue creates a queue for address.  A leading "/" is added to address if
// missing.  s=nil means an unbounded in-memory store.
func NewQueue(address string, s store.Store) (*Queue, error) {
	if address = Canonical(address); address == "" {
		return nil, ErrEmptyAddress
	}
	if s == nil {
		s = &store.Memory{}
	}
	return &Queue{
		address: address,
		store:   s,
		log:     zerolog.Nop(),
	}, nil
}

// Canonical returns address with a leading "/".  An empty address stays empty.
func Canonical(address string) string {
	if address == "" || strings.HasPrefix(address, "/") {
		return address
	}
	return "/" + address
}

// Address returns the queue's canonical address.
func (q *Queue) Address() string {
	return q.address
}

// Store returns the queue's message store.
func (q *Queue) Store() store.Store {
	return q.store
}

// Len returns the number of stored messages waiting for a subscriber.
func (q *Queue) Len() int {
	return q.store.Len()
}

// String implements fmt.Stringer.
func (q *Queue) String() string {
	return fmt.Sprintf("queue %v", q.address)
}

// OnLastSubscriberRemoved sets fn to be called, outside of the queue's lock, when
// the queue's last subscriber is removed.  Once fn is set the queue retires when its
// subscriber set becomes empty.  fn=nil clears the callback.
func (q *Queue) OnLastSubscriberRemoved(fn func(*Queue)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onLast = fn
}

// Retired returns true after the queue lost its last subscriber while an
// OnLastSubscriberRemoved callback was set.
func (q *Queue) Retired() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.retired
}

// Subscribers returns the subscribed connections in subscription order.
func (q *Queue) Subscribers() []Conn {
	q.mu.Lock()
	defer q.mu.Unlock()
	rv := make([]Conn, len(q.subscribers))
	for k, sub := range q.subscribers {
		rv[k] = sub.conn
	}
	return rv
}

// HasSubscriber returns true if conn is subscribed.
func (q *Queue) HasSubscriber(conn Conn) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.index(conn) >= 0
}

// SubscriptionID returns the subscription id conn subscribed with.
func (q *Queue) SubscriptionID(conn Conn) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if k := q.index(conn); k >= 0 {
		return q.subscribers[k].id, true
	}
	return "", false
}

// AddSubscriber subscribes conn with subscription id.  Subscribing a conn that is
// already subscribed does nothing.
//
// The first subscriber of a queue holding stored messages receives all of them, oldest
// first, before AddSubscriber returns and before any message published afterwards.
// A message leaves the store only once it was sent.  If the conn fails to take the
// stored messages AddSubscriber returns ErrBacklogUndelivered and the rest stay stored
// for the next subscriber.
//
// conn is removed from the queue when it closes.
func (q *Queue) AddSubscriber(conn Conn, id string) error {
	if conn == nil {
		return ErrNilConn
	}
	q.mu.Lock()
	if q.retired {
		q.mu.Unlock()
		return ErrQueueRetired
	}
	if q.index(conn) >= 0 {
		q.mu.Unlock()
		return nil
	}
	if len(q.subscribers) == 0 {
		if err := q.drain(conn, id); err != nil {
			q.mu.Unlock()
			q.log.Warn().Err(err).Str("session", conn.SessionID()).Int("stored", q.store.Len()).Msg("subscribe failed")
			return err
		}
	}
	sub := &subscriber{conn: conn, id: id}
	q.subscribers = append(q.subscribers, sub)
	q.mu.Unlock()
	//
	// The close handler is registered without holding the lock; an already closed
	// conn runs it immediately.
	unhook := conn.OnClose(func() {
		q.RemoveSubscriber(conn)
	})
	q.mu.Lock()
	if q.contains(sub) {
		sub.unhook = unhook
		unhook = nil
	}
	q.mu.Unlock()
	if unhook != nil {
		unhook()
	}
	q.log.Debug().Str("session", conn.SessionID()).Str("id", id).Msg("subscribed")
	return nil
}

// RemoveSubscriber unsubscribes conn and returns true if it was subscribed.
func (q *Queue) RemoveSubscriber(conn Conn) bool {
	q.mu.Lock()
	k := q.index(conn)
	if k < 0 {
		q.mu.Unlock()
		return false
	}
	sub := q.subscribers[k]
	q.subscribers = append(q.subscribers[:k:k], q.subscribers[k+1:]...)
	var last func(*Queue)
	if len(q.subscribers) == 0 && q.onLast != nil {
		q.retired = true
		last, q.onLast = q.onLast, nil
	}
	q.mu.Unlock()
	//
	if sub.unhook != nil {
		sub.unhook()
	}
	q.log.Debug().Str("session", conn.SessionID()).Msg("unsubscribed")
	if last != nil {
		last(q)
	}
	return true
}

// Publish sends body to every subscriber as a MESSAGE frame sharing one message-id.
// With no subscribers body is stored.
func (q *Queue) Publish(body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retired {
		return ErrQueueRetired
	}
	q.metrics.published()
	if len(q.subscribers) == 0 {
		q.store.Enqueue(body)
		q.metrics.buffered()
		return nil
	}
	messageID := ultralight.NewMessageID()
	for _, sub := range q.subscribers {
		q.deliver(sub.conn, sub.id, messageID, body)
	}
	return nil
}

// drain sends every stored message to conn, oldest first; the caller holds mu.
func (q *Queue) drain(conn Conn, id string) error {
	for {
		body, ok := q.store.Peek()
		if !ok {
			return nil
		}
		f := frames.Message(q.address, ultralight.NewMessageID(), id, body)
		if err := q.sendWait(conn, f); err != nil {
			return fmt.Errorf("%w: %w", ErrBacklogUndelivered, err)
		}
		q.store.TryDequeue()
		q.metrics.delivered()
	}
}

// sendWait sends f to conn, waiting up to DrainTimeout for room when conn supports it.
func (q *Queue) sendWait(conn Conn, f ultralight.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	if w, ok := conn.(WaitSender); ok {
		ctx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
		defer cancel()
		return w.SendWait(ctx, f)
	}
	return conn.Send(f)
}

// deliver sends one MESSAGE to conn.  A failing or panicking conn is logged and skipped.
func (q *Queue) deliver(conn Conn, subscription, messageID, body string) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Str("session", conn.SessionID()).Interface("panic", r).Msg("subscriber send panicked")
		}
	}()
	if err := conn.Send(frames.Message(q.address, messageID, subscription, body)); err != nil {
		q.log.Warn().Err(err).Str("session", conn.SessionID()).Msg("subscriber send failed")
		return
	}
	q.metrics.delivered()
}

// index returns the position of conn in subscribers or -1; the caller holds mu.
func (q *Queue) index(conn Conn) int {
	for k, sub := range q.subscribers {
		if sub.conn == conn {
			return k
		}
	}
	return -1
}

func (q *Queue) contains(sub *subscriber) bool {
	for _, s := range q.subscribers {
		if s == sub {
			return true
		}
	}
	return false
}
