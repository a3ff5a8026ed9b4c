package broker_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernstnaezer/ultralight"
	"github.com/ernstnaezer/ultralight/broker"
	"github.com/ernstnaezer/ultralight/broker/brokertest"
	"github.com/ernstnaezer/ultralight/broker/events"
	"github.com/ernstnaezer/ultralight/frames"
)

// sessions returns a NewSessionID provider yielding "session #1", "session #2", ...
func sessions() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("session #%v", n)
	}
}

// start creates and starts a broker with one mock listener.  configure may be nil.
func start(t *testing.T, configure func(*broker.Broker)) (*broker.Broker, *brokertest.MockListener) {
	l := &brokertest.MockListener{}
	b, err := broker.New(l)
	require.NoError(t, err)
	b.NewSessionID = sessions()
	if configure != nil {
		configure(b)
	}
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Stop() })
	return b, l
}

func addresses(b *broker.Broker) []string {
	var rv []string
	for _, q := range b.Queues() {
		rv = append(rv, q.Address())
	}
	return rv
}

func TestBroker_New(t *testing.T) {
	chk := assert.New(t)
	_, err := broker.New()
	chk.ErrorIs(err, broker.ErrNilListener)
	_, err = broker.New(&brokertest.MockListener{}, nil)
	chk.ErrorIs(err, broker.ErrNilListener)
	//
	b, err := broker.New(&brokertest.MockListener{})
	chk.NoError(err)
	chk.Empty(b.Queues())
}

func TestBroker_Start(t *testing.T) {
	chk := assert.New(t)
	good, bad := &brokertest.MockListener{}, &brokertest.MockListener{StartErr: errors.New("bind")}
	b, err := broker.New(good, bad)
	require.NoError(t, err)
	chk.ErrorIs(b.Start(), bad.StartErr)
	chk.True(good.StopCalled())
	chk.False(good.Started())
	//
	l := &brokertest.MockListener{}
	b, err = broker.New(l)
	require.NoError(t, err)
	chk.NoError(b.Start())
	chk.True(l.Started())
	chk.ErrorIs(b.Start(), broker.ErrStarted)
	chk.NoError(b.Stop())
	chk.False(l.Started())
}

func TestBroker_Connect(t *testing.T) {
	chk := assert.New(t)
	_, l := start(t, nil)
	c := l.Accept()
	chk.False(c.IsConnected())
	//
	f, err := c.Connect()
	require.NoError(t, err)
	chk.Equal("session #1", f.Get(ultralight.HeaderSessionID))
	chk.Equal("session #1", c.SessionID())
	chk.True(c.IsConnected())
	//
	// Re-CONNECT issues a new session and never a receipt.
	c.Receive(frames.WithReceipt(frames.Connect(), "r"))
	chk.Equal(ultralight.CommandConnected, c.Last().Command)
	chk.Equal("session #2", c.Last().Get(ultralight.HeaderSessionID))
	chk.Equal([]ultralight.Command{ultralight.CommandConnected, ultralight.CommandConnected}, c.Commands())
}

func TestBroker_Unconnected(t *testing.T) {
	type UnconnectedTest struct {
		Frame  ultralight.Frame
		Expect string
	}
	tests := []UnconnectedTest{
		{Frame: frames.Subscribe("/q", ""), Expect: "Please connect before sending 'SUBSCRIBE'"},
		{Frame: frames.Unsubscribe("/q"), Expect: "Please connect before sending 'UNSUBSCRIBE'"},
		{Frame: frames.Send("/q", "x"), Expect: "Please connect before sending 'SEND'"},
		{Frame: frames.Disconnect(), Expect: "Please connect before sending 'DISCONNECT'"},
	}
	for _, test := range tests {
		t.Run(test.Frame.Command.String(), func(t *testing.T) {
			chk := assert.New(t)
			b, l := start(t, nil)
			c := l.Accept()
			c.Receive(frames.WithReceipt(test.Frame, "r-1"))
			sent := c.Frames()
			require.Len(t, sent, 1)
			chk.Equal(ultralight.CommandError, sent[0].Command)
			chk.Equal(test.Expect, sent[0].Body)
			chk.False(c.IsConnected())
			chk.False(c.IsClosed())
			chk.Empty(b.Queues())
		})
	}
}

func TestBroker_IgnoresUnknownCommands(t *testing.T) {
	chk := assert.New(t)
	b, l := start(t, nil)
	unconnected := l.Accept()
	connected, err := l.Connect()
	require.NoError(t, err)
	for _, cmd := range []ultralight.Command{"BEGIN", "ACK", ultralight.CommandMessage, ultralight.CommandReceipt} {
		f := ultralight.NewFrame(cmd, "", ultralight.HeaderDestination, "/q", ultralight.HeaderReceipt, "r")
		unconnected.Receive(f)
		connected.Receive(f)
	}
	chk.Empty(unconnected.Frames())
	chk.Empty(connected.Frames())
	chk.Empty(b.Queues())
}

func TestBroker_Receipt(t *testing.T) {
	chk := assert.New(t)
	b, l := start(t, nil)
	c, err := l.Connect()
	require.NoError(t, err)
	//
	c.Receive(frames.WithReceipt(frames.Subscribe("/q", ""), "r-1"))
	require.Len(t, c.Frames(), 1)
	chk.Equal(ultralight.CommandReceipt, c.Last().Command)
	chk.Equal("r-1", c.Last().Get(ultralight.HeaderReceiptID))
	chk.True(b.Queue("/q").HasSubscriber(c))
	//
	// The receipt follows the command's own output.
	c.Reset()
	c.Receive(frames.WithReceipt(frames.Send("/q", "body"), "r-2"))
	chk.Equal([]ultralight.Command{ultralight.CommandMessage, ultralight.CommandReceipt}, c.Commands())
	chk.Equal("r-2", c.Last().Get(ultralight.HeaderReceiptID))
}

func TestBroker_LateSubscriberReceivesBuffered(t *testing.T) {
	chk := assert.New(t)
	_, l := start(t, nil)
	producer, err := l.Connect()
	require.NoError(t, err)
	consumer, err := l.Connect()
	require.NoError(t, err)
	//
	producer.Receive(frames.Send("/q", "m1"))
	producer.Receive(frames.Send("/q", "m2"))
	consumer.Receive(frames.Subscribe("/q", ""))
	producer.Receive(frames.Send("/q", "m3"))
	chk.Equal([]string{"m1", "m2", "m3"}, consumer.Bodies())
	chk.Empty(producer.Frames())
}

func TestBroker_QueueGC(t *testing.T) {
	chk := assert.New(t)
	b, l := start(t, nil)
	c, err := l.Connect()
	require.NoError(t, err)
	//
	c.Receive(frames.Subscribe("q", ""))
	chk.Equal([]string{"/q"}, addresses(b))
	first := b.Queue("/q")
	c.Receive(frames.Unsubscribe("/q"))
	chk.Empty(b.Queues())
	chk.True(first.Retired())
	//
	c.Receive(frames.Send("/q", "again"))
	chk.Equal([]string{"/q"}, addresses(b))
	chk.NotSame(first, b.Queue("/q"))
	chk.Equal(1, b.Queue("/q").Len())
	chk.Empty(c.Frames())
}

func TestBroker_SubscriptionIDs(t *testing.T) {
	chk := assert.New(t)
	_, l := start(t, nil)
	a, err := l.Connect()
	require.NoError(t, err)
	b, err := l.Connect()
	require.NoError(t, err)
	producer, err := l.Connect()
	require.NoError(t, err)
	//
	a.Receive(frames.Subscribe("/test", "123"))
	b.Receive(frames.Subscribe("/test", "456"))
	producer.Receive(frames.Send("/test", "hello"))
	//
	require.Len(t, a.Messages(), 1)
	require.Len(t, b.Messages(), 1)
	chk.Equal("123", a.Last().Get(ultralight.HeaderSubscription))
	chk.Equal("456", b.Last().Get(ultralight.HeaderSubscription))
	chk.Equal("/test", a.Last().Get(ultralight.HeaderDestination))
	chk.Equal("hello", b.Last().Body)
}

func TestBroker_Unsubscribe(t *testing.T) {
	type UnsubscribeTest struct {
		Name    string
		Prepare func(b *broker.Broker, other *brokertest.MockConn)
		Frame   ultralight.Frame
		Expect  []ultralight.Frame
	}
	tests := []UnsubscribeTest{
		{
			Name:   "unknown queue",
			Frame:  frames.WithReceipt(frames.Unsubscribe("/nope"), "r"),
			Expect: []ultralight.Frame{frames.Error("You are not subscribed to queue '/nope'"), frames.Receipt("r")},
		},
		{
			Name: "not a member",
			Prepare: func(b *broker.Broker, other *brokertest.MockConn) {
				other.Receive(frames.Subscribe("/q", ""))
			},
			Frame:  frames.Unsubscribe("/q"),
			Expect: []ultralight.Frame{frames.Error("You are not subscribed to queue '/q'")},
		},
		{
			Name:   "missing destination",
			Frame:  ultralight.NewFrame(ultralight.CommandUnsubscribe, ""),
			Expect: nil,
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			chk := assert.New(t)
			b, l := start(t, nil)
			other, err := l.Connect()
			require.NoError(t, err)
			c, err := l.Connect()
			require.NoError(t, err)
			if test.Prepare != nil {
				test.Prepare(b, other)
			}
			c.Receive(test.Frame)
			chk.Equal(test.Expect, c.Frames())
		})
	}
}

func TestBroker_MissingDestination(t *testing.T) {
	type MissingTest struct {
		Command ultralight.Command
		Expect  string
	}
	tests := []MissingTest{
		{Command: ultralight.CommandSubscribe, Expect: "Missing required header 'destination' for 'SUBSCRIBE'"},
		{Command: ultralight.CommandSend, Expect: "Missing required header 'destination' for 'SEND'"},
	}
	for _, test := range tests {
		t.Run(test.Command.String(), func(t *testing.T) {
			chk := assert.New(t)
			b, l := start(t, nil)
			c, err := l.Connect()
			require.NoError(t, err)
			c.Receive(ultralight.NewFrame(test.Command, "body", ultralight.HeaderReceipt, "r"))
			chk.Equal([]ultralight.Frame{frames.Error(test.Expect)}, c.Frames())
			chk.Empty(b.Queues())
		})
	}
}

func TestBroker_Disconnect(t *testing.T) {
	chk := assert.New(t)
	b, l := start(t, nil)
	c, err := l.Connect()
	require.NoError(t, err)
	c.Receive(frames.Subscribe("/q", ""))
	chk.Equal(1, b.Conns())
	//
	c.Receive(frames.WithReceipt(frames.Disconnect(), "bye"))
	chk.Equal([]ultralight.Frame{frames.Receipt("bye")}, c.Frames())
	chk.True(c.IsClosed())
	chk.Empty(b.Queues())
	chk.Equal(0, b.Conns())
}

func TestBroker_CloseRemovesFromAllQueues(t *testing.T) {
	chk := assert.New(t)
	b, l := start(t, nil)
	c, err := l.Connect()
	require.NoError(t, err)
	stays, err := l.Connect()
	require.NoError(t, err)
	c.Receive(frames.Subscribe("/a", ""))
	c.Receive(frames.Subscribe("/b", ""))
	stays.Receive(frames.Subscribe("/b", ""))
	chk.Equal([]string{"/a", "/b"}, addresses(b))
	//
	chk.NoError(c.Close())
	chk.NoError(c.Close())
	chk.Equal([]string{"/b"}, addresses(b))
	chk.Equal([]broker.Conn{stays}, b.Queue("/b").Subscribers())
	//
	// Frames after close are dropped.
	c.Receive(frames.Send("/c", "late"))
	chk.Equal([]string{"/b"}, addresses(b))
}

func TestBroker_SubscribeReplacesRetiredQueue(t *testing.T) {
	chk := assert.New(t)
	b, l := start(t, nil)
	a, err := l.Connect()
	require.NoError(t, err)
	c, err := l.Connect()
	require.NoError(t, err)
	//
	a.Receive(frames.Subscribe("/q", ""))
	retired := b.Queue("/q")
	a.Receive(frames.Unsubscribe("/q"))
	c.Receive(frames.Subscribe("/q", ""))
	//
	live := b.Queue("/q")
	chk.NotSame(retired, live)
	chk.ErrorIs(retired.Publish("stale"), broker.ErrQueueRetired)
	a.Receive(frames.Send("/q", "fresh"))
	chk.Equal([]string{"fresh"}, c.Bodies())
}

func TestBroker_FailingSubscriber(t *testing.T) {
	chk := assert.New(t)
	_, l := start(t, nil)
	bad, err := l.Connect()
	require.NoError(t, err)
	good, err := l.Connect()
	require.NoError(t, err)
	bad.Receive(frames.Subscribe("/q", ""))
	good.Receive(frames.Subscribe("/q", ""))
	bad.SendErr = errors.New("broken pipe")
	//
	good.Receive(frames.Send("/q", "still delivered"))
	chk.Equal([]string{"still delivered"}, good.Bodies())
}

func TestBroker_MultipleListeners(t *testing.T) {
	chk := assert.New(t)
	first, second := &brokertest.MockListener{}, &brokertest.MockListener{}
	b, err := broker.New(first, second)
	require.NoError(t, err)
	require.NoError(t, b.Start())
	defer b.Stop()
	//
	consumer, err := first.Connect()
	require.NoError(t, err)
	producer, err := second.Connect()
	require.NoError(t, err)
	consumer.Receive(frames.Subscribe("/shared", ""))
	producer.Receive(frames.Send("/shared", "across"))
	chk.Equal([]string{"across"}, consumer.Bodies())
	chk.Equal(2, b.Conns())
}

func TestBroker_Stop(t *testing.T) {
	chk := assert.New(t)
	l := &brokertest.MockListener{StopErr: errors.New("unbind")}
	b, err := broker.New(l)
	require.NoError(t, err)
	require.NoError(t, b.Start())
	//
	subscribed, err := l.Connect()
	require.NoError(t, err)
	idle, err := l.Connect()
	require.NoError(t, err)
	unconnected := l.Accept()
	subscribed.Receive(frames.Subscribe("/q", ""))
	idle.Receive(frames.Send("/buffered", "x"))
	//
	chk.ErrorIs(b.Stop(), l.StopErr)
	chk.True(subscribed.IsClosed())
	chk.True(idle.IsClosed())
	chk.True(unconnected.IsClosed())
	chk.Empty(b.Queues())
	chk.Equal(0, b.Conns())
	chk.Equal([]int{0}, l.OpenAtStop())
}

func TestBroker_Events(t *testing.T) {
	chk := assert.New(t)
	ch := make(chan interface{}, 64)
	b, l := start(t, func(b *broker.Broker) {
		b.Events = ch
	})
	c, err := l.Connect()
	require.NoError(t, err)
	c.Receive(frames.Subscribe("/q", ""))
	c.Receive(frames.Unsubscribe("/q"))
	chk.NoError(c.Close())
	chk.NoError(b.Stop())
	//
	var got []interface{}
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	chk.Equal([]interface{}{
		events.ClientConnect{SessionID: "session #1"},
		events.QueueStart{Destination: "/q"},
		events.QueueStop{Destination: "/q"},
		events.ClientDisconnect{SessionID: "session #1"},
		events.ServerStop{},
	}, got)
}

func TestBroker_Metrics(t *testing.T) {
	chk := assert.New(t)
	reg := prometheus.NewRegistry()
	m := broker.NewMetrics(reg)
	_, l := start(t, func(b *broker.Broker) {
		b.Metrics = m
	})
	consumer, err := l.Connect()
	require.NoError(t, err)
	producer, err := l.Connect()
	require.NoError(t, err)
	unconnected := l.Accept()
	//
	producer.Receive(frames.Send("/q", "buffered"))
	consumer.Receive(frames.Subscribe("/q", ""))
	producer.Receive(frames.Send("/q", "live"))
	unconnected.Receive(frames.Send("/q", "rejected"))
	//
	chk.Equal(3.0, testutil.ToFloat64(m.Connections))
	chk.Equal(1.0, testutil.ToFloat64(m.Queues))
	chk.Equal(2.0, testutil.ToFloat64(m.FramesReceived.WithLabelValues("CONNECT")))
	chk.Equal(3.0, testutil.ToFloat64(m.FramesReceived.WithLabelValues("SEND")))
	chk.Equal(2.0, testutil.ToFloat64(m.MessagesPublished))
	chk.Equal(1.0, testutil.ToFloat64(m.MessagesBuffered))
	chk.Equal(2.0, testutil.ToFloat64(m.MessagesDelivered))
	chk.Equal(1.0, testutil.ToFloat64(m.ErrorsSent))
	//
	chk.NoError(consumer.Close())
	chk.Equal(2.0, testutil.ToFloat64(m.Connections))
	chk.Equal(0.0, testutil.ToFloat64(m.Queues))
	//
	count, err := testutil.GatherAndCount(reg, "ultralight_frames_received_total")
	chk.NoError(err)
	chk.Equal(3, count)
}

func TestBroker_ConcurrentFirstSubscribe(t *testing.T) {
	chk := assert.New(t)
	b, l := start(t, nil)
	const subscribers, senders, rounds = 8, 4, 20
	for round := 0; round < rounds; round++ {
		dest := fmt.Sprintf("/race/%v", round)
		var subs, sends []*brokertest.MockConn
		for n := 0; n < subscribers+senders; n++ {
			c, err := l.Connect()
			require.NoError(t, err)
			if n < subscribers {
				subs = append(subs, c)
			} else {
				sends = append(sends, c)
			}
		}
		//
		begin := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(subscribers + senders)
		for _, c := range subs {
			go func(c *brokertest.MockConn) {
				defer wg.Done()
				<-begin
				c.Receive(frames.Subscribe(dest, ""))
			}(c)
		}
		for k, c := range sends {
			go func(k int, c *brokertest.MockConn) {
				defer wg.Done()
				<-begin
				c.Receive(frames.Send(dest, fmt.Sprintf("m%v", k)))
			}(k, c)
		}
		close(begin)
		wg.Wait()
		//
		q := b.Queue(dest)
		require.NotNil(t, q)
		chk.Len(q.Subscribers(), subscribers)
		received := map[string]bool{}
		for _, c := range subs {
			chk.True(q.HasSubscriber(c))
			chk.NotContains(c.Commands(), ultralight.CommandError)
			for _, body := range c.Bodies() {
				received[body] = true
			}
		}
		for k := range sends {
			chk.True(received[fmt.Sprintf("m%v", k)], "m%v reached no subscriber", k)
		}
	}
	chk.Len(b.Queues(), rounds)
}

func TestBroker_ConcurrentRetireAndSend(t *testing.T) {
	chk := assert.New(t)
	b, l := start(t, nil)
	sub, err := l.Connect()
	require.NoError(t, err)
	sender, err := l.Connect()
	require.NoError(t, err)
	//
	const cycles, messages = 200, 500
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for n := 0; n < cycles; n++ {
			sub.Receive(frames.Subscribe("/r", ""))
			sub.Receive(frames.Unsubscribe("/r"))
		}
	}()
	go func() {
		defer wg.Done()
		for n := 0; n < messages; n++ {
			sender.Receive(frames.Send("/r", fmt.Sprintf("m%v", n)))
		}
	}()
	wg.Wait()
	//
	chk.Empty(sender.Frames())
	chk.NotContains(sub.Commands(), ultralight.CommandError)
	chk.LessOrEqual(len(b.Queues()), 1)
	//
	// Every message was either delivered or is still stored, in order.
	got := sub.Bodies()
	if q := b.Queue("/r"); q != nil {
		got = append(got, q.Store().Snapshot()...)
	}
	expect := make([]string, messages)
	for n := range expect {
		expect[n] = fmt.Sprintf("m%v", n)
	}
	chk.Equal(expect, got)
}
