package brokertest

import (
	"sync"

	"github.com/ernstnaezer/ultralight/broker"
	"github.com/ernstnaezer/ultralight/internal/observer"
)

// MockListener is a broker.Listener whose connections are created by the test.
type MockListener struct {
	// StartErr and StopErr are returned by Start and Stop.
	StartErr error
	StopErr  error

	handlers observer.List[func(broker.Conn)]

	mu         sync.Mutex
	started    bool
	stopCalled bool
	stopped    []int // open conns at each Stop call
	conns      []*MockConn
}

// OnConnect implements broker.Listener.
func (l *MockListener) OnConnect(fn func(broker.Conn)) {
	l.handlers.Add(fn)
}

// Start implements broker.Listener.
func (l *MockListener) Start() error {
	if l.StartErr != nil {
		return l.StartErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = true
	return nil
}

// Stop implements broker.Listener.  It records how many of its connections were
// still open.
func (l *MockListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	open := 0
	for _, c := range l.conns {
		if !c.IsClosed() {
			open++
		}
	}
	l.started = false
	l.stopCalled = true
	l.stopped = append(l.stopped, open)
	return l.StopErr
}

// Started returns true between Start and Stop.
func (l *MockListener) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

// StopCalled returns true once Stop has been called.
func (l *MockListener) StopCalled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopCalled
}

// OpenAtStop returns the number of open connections observed by each Stop call.
func (l *MockListener) OpenAtStop() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.stopped...)
}

// Accept creates a new MockConn and hands it to the OnConnect handlers.
func (l *MockListener) Accept() *MockConn {
	c := NewMockConn()
	l.mu.Lock()
	l.conns = append(l.conns, c)
	l.mu.Unlock()
	l.handlers.Each(func(fn func(broker.Conn)) {
		fn(c)
	})
	return c
}

// Connect accepts a MockConn and sends CONNECT on it.
func (l *MockListener) Connect() (*MockConn, error) {
	c := l.Accept()
	if _, err := c.Connect(); err != nil {
		return nil, err
	}
	c.Reset()
	return c, nil
}
