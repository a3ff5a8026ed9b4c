package websocket

import (
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ernstnaezer/ultralight/broker"
	"github.com/ernstnaezer/ultralight/internal/observer"
)

// DefaultPath is the route clients connect to when Path is empty.
const DefaultPath = "/stomp"

// Listener accepts STOMP clients over WebSocket.  It implements broker.Listener.
//
// With Router set Start only mounts the endpoint on Router and the caller serves it;
// otherwise Start serves its own router on Addr.
type Listener struct {
	// Addr specifies the TCP address to serve on in the form of "host:port".
	//
	// If empty then a random port is used with 127.0.0.1 and this field is updated
	// accordingly by Start.  Ignored when Router is set.
	Addr string

	// Path is the WebSocket endpoint; empty means DefaultPath.
	Path string

	// Router is an optional router to mount the endpoint on.
	Router chi.Router

	// Logger receives connection diagnostics.
	Logger zerolog.Logger

	// OutboxSize is the number of frames each connection may queue; 0 means
	// transport.DefaultOutboxSize.
	OutboxSize int

	handlers observer.List[func(broker.Conn)]
	upgrader websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
	conns  map[*Conn]struct{}
	wg     sync.WaitGroup
}

// OnConnect implements broker.Listener.
func (l *Listener) OnConnect(fn func(broker.Conn)) {
	l.handlers.Add(fn)
}

// Start implements broker.Listener.
func (l *Listener) Start() error {
	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	path := l.Path
	if path == "" {
		path = DefaultPath
	}
	if l.Router != nil {
		l.Router.Get(path, l.ServeHTTP)
		return nil
	}
	//
	addr := l.Addr
	if addr == "" {
		addr = "127.0.0.1:"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	l.Addr = ln.Addr().String()
	r := chi.NewRouter()
	r.Get(path, l.ServeHTTP)
	srv := &http.Server{Handler: r}
	l.mu.Lock()
	l.server = srv
	l.mu.Unlock()
	l.Logger.Info().Str("addr", l.Addr).Str("path", path).Msg("websocket listener started")
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Logger.Error().Err(err).Msg("websocket server failed")
		}
	}()
	return nil
}

// ServeHTTP upgrades the request and hands the connection to the OnConnect handlers.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Logger.Warn().Err(err).Msg("failed to upgrade connection to websocket")
		return
	}
	c := newConn(ws, l.Logger, l.OutboxSize)
	l.mu.Lock()
	if l.conns == nil {
		l.conns = map[*Conn]struct{}{}
	}
	l.conns[c] = struct{}{}
	l.mu.Unlock()
	c.OnClose(func() {
		l.mu.Lock()
		delete(l.conns, c)
		l.mu.Unlock()
	})
	l.handlers.Each(func(fn func(broker.Conn)) {
		fn(c)
	})
	c.start(&l.wg)
}

// Stop closes the HTTP server, if any, and every connection and waits for their
// goroutines to end.
func (l *Listener) Stop() error {
	l.mu.Lock()
	srv := l.server
	l.server = nil
	conns := make([]*Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()
	//
	var err error
	if srv != nil {
		err = srv.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	l.wg.Wait()
	return err
}
