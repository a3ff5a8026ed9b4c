package broker

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/broker/events"
	"github.com/ernstnaezer/ultralight/store"
)

// Broker is a STOMP message broker.  Clients arrive through one or more Listeners
// and share a single space of destination queues.
//
// Configure the exported fields before calling Start.  A Broker must not be copied.
type Broker struct {
	// Logger receives broker diagnostics.  The zero value logs nothing.
	Logger zerolog.Logger

	// Events is an optional channel for the broker to push event notifications into;
	// see package events.  The broker blocks sending on Events so the receiver must
	// keep reading until ServerStop.
	Events chan<- interface{}

	// NewSessionID is the provider for client session IDs.
	//
	// NewSessionID=nil means ultralight.NewSessionID will be used.
	NewSessionID func() string

	// NewStore creates the message store for each new destination queue.
	//
	// NewStore=nil means store.NewMemory.
	NewStore store.Factory

	// Metrics are optional Prometheus collectors.
	Metrics *Metrics

	listeners []Listener
	handlers  map[ultralight.Command]handler

	mu     sync.RWMutex // guards queues
	queues map[string]*Queue

	connsMu sync.Mutex
	conns   map[Conn]func() // accepted conns to the removal of their frame handler
	started bool
}

// New creates a broker accepting connections from listeners.
func New(listeners ...Listener) (*Broker, error) {
	if len(listeners) == 0 {
		return nil, ErrNilListener
	}
	for _, l := range listeners {
		if l == nil {
			return nil, ErrNilListener
		}
	}
	b := &Broker{
		listeners: append([]Listener(nil), listeners...),
		queues:    map[string]*Queue{},
		conns:     map[Conn]func(){},
	}
	b.handlers = b.dispatchTable()
	return b, nil
}

// Start hooks the broker to its listeners and starts them.  If a listener fails to
// start the listeners already started are stopped.
//
// A broker can be started once.
func (b *Broker) Start() error {
	b.connsMu.Lock()
	if b.started {
		b.connsMu.Unlock()
		return ErrStarted
	}
	b.started = true
	b.connsMu.Unlock()
	//
	if b.NewSessionID == nil {
		b.NewSessionID = ultralight.NewSessionID
	}
	if b.NewStore == nil {
		b.NewStore = store.NewMemory
	}
	for _, l := range b.listeners {
		l.OnConnect(b.accept)
	}
	for k, l := range b.listeners {
		if err := l.Start(); err != nil {
			for _, started := range b.listeners[:k] {
				_ = started.Stop()
			}
			return err
		}
	}
	b.Logger.Info().Int("listeners", len(b.listeners)).Msg("broker started")
	return nil
}

// Stop closes every client connection, clears the queue registry, and then stops the
// listeners.  Errors from listeners are joined.
func (b *Broker) Stop() error {
	b.connsMu.Lock()
	conns := make([]Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.connsMu.Unlock()
	//
	for _, q := range b.Queues() {
		for _, conn := range q.Subscribers() {
			_ = conn.Close()
		}
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	//
	b.mu.Lock()
	queues := b.queues
	b.queues = map[string]*Queue{}
	b.mu.Unlock()
	for _, q := range queues {
		q.OnLastSubscriberRemoved(nil)
		b.Metrics.queueRemoved()
		b.emit(events.QueueStop{Destination: q.Address()})
	}
	//
	var errs []error
	for _, l := range b.listeners {
		if err := l.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	b.Logger.Info().Msg("broker stopped")
	b.emit(events.ServerStop{})
	return errors.Join(errs...)
}

// Queues returns the registered queues sorted by address.
func (b *Broker) Queues() []*Queue {
	b.mu.RLock()
	rv := make([]*Queue, 0, len(b.queues))
	for _, q := range b.queues {
		rv = append(rv, q)
	}
	b.mu.RUnlock()
	sort.Slice(rv, func(i, j int) bool {
		return rv[i].Address() < rv[j].Address()
	})
	return rv
}

// Queue returns the registered queue for address or nil.
func (b *Broker) Queue(address string) *Queue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queues[Canonical(address)]
}

// Conns returns the number of open connections accepted by the listeners.
func (b *Broker) Conns() int {
	b.connsMu.Lock()
	defer b.connsMu.Unlock()
	return len(b.conns)
}

// accept is the OnConnect handler given to every listener.
func (b *Broker) accept(conn Conn) {
	removeFrame := conn.OnFrame(func(f ultralight.Frame) {
		b.handle(conn, f)
	})
	b.connsMu.Lock()
	b.conns[conn] = removeFrame
	b.connsMu.Unlock()
	b.Metrics.connectionOpened()
	b.Logger.Debug().Msg("connection accepted")
	conn.OnClose(func() {
		b.closed(conn)
	})
}

// closed detaches the broker from conn.  Queues remove conn through their own
// close handlers.
func (b *Broker) closed(conn Conn) {
	b.connsMu.Lock()
	removeFrame, ok := b.conns[conn]
	delete(b.conns, conn)
	b.connsMu.Unlock()
	if !ok {
		return
	}
	removeFrame()
	b.Metrics.connectionClosed()
	if session := conn.SessionID(); session != "" {
		b.Logger.Debug().Str("session", session).Msg("client disconnected")
		b.emit(events.ClientDisconnect{SessionID: session})
	}
}

// lookupOrCreate returns the live queue for address, creating or replacing it as needed.
func (b *Broker) lookupOrCreate(address string) (*Queue, error) {
	address = Canonical(address)
	b.mu.RLock()
	q := b.queues[address]
	b.mu.RUnlock()
	if q != nil && !q.Retired() {
		return q, nil
	}
	//
	b.mu.Lock()
	old := b.queues[address]
	if old != nil && !old.Retired() {
		b.mu.Unlock()
		return old, nil
	}
	q, err := NewQueue(address, b.NewStore(address))
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	q.log = b.Logger.With().Str("queue", address).Logger()
	q.metrics = b.Metrics
	q.OnLastSubscriberRemoved(b.collect)
	b.queues[address] = q
	b.mu.Unlock()
	//
	if old != nil {
		b.emit(events.QueueStop{Destination: address})
	} else {
		b.Metrics.queueAdded()
	}
	b.Logger.Debug().Str("queue", address).Msg("queue created")
	b.emit(events.QueueStart{Destination: address})
	return q, nil
}

// collect removes a queue that lost its last subscriber.
func (b *Broker) collect(q *Queue) {
	q.OnLastSubscriberRemoved(nil)
	b.mu.Lock()
	removed := b.queues[q.Address()] == q
	if removed {
		delete(b.queues, q.Address())
	}
	b.mu.Unlock()
	if !removed {
		return
	}
	b.Metrics.queueRemoved()
	b.Logger.Debug().Str("queue", q.Address()).Msg("queue removed")
	b.emit(events.QueueStop{Destination: q.Address()})
}

// emit sends ev on Events when it is set; callers never hold a lock.
func (b *Broker) emit(ev interface{}) {
	if b.Events != nil {
		b.Events <- ev
	}
}
