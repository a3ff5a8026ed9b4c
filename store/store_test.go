package store_test

import (
	"fmt"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernstnaezer/ultralight/store"
)

// stores returns one of each Store implementation for shared behavior tests.
func stores(t *testing.T) map[string]store.Store {
	mr := miniredis.RunT(t)
	factory, err := store.NewRedisFactory(mr.Addr(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = factory.Close() })
	return map[string]store.Store{
		"memory":  store.NewMemory("/q"),
		"bounded": store.NewBoundedFactory(0)("/q"),
		"redis":   factory.Factory()("/q"),
	}
}

func TestStore_FIFO(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			chk := assert.New(t)
			chk.False(s.HasMessages())
			_, ok := s.TryDequeue()
			chk.False(ok)
			_, ok = s.Peek()
			chk.False(ok)
			//
			for n := 0; n < 5; n++ {
				s.Enqueue(fmt.Sprintf("m%v", n))
			}
			chk.True(s.HasMessages())
			chk.Equal(5, s.Len())
			chk.Equal([]string{"m0", "m1", "m2", "m3", "m4"}, s.Snapshot())
			//
			for n := 0; n < 5; n++ {
				head, ok := s.Peek()
				chk.True(ok)
				chk.Equal(fmt.Sprintf("m%v", n), head)
				chk.Equal(5-n, s.Len(), "Peek does not remove")
				body, ok := s.TryDequeue()
				chk.True(ok)
				chk.Equal(fmt.Sprintf("m%v", n), body)
			}
			chk.False(s.HasMessages())
			chk.Equal([]string{}, s.Snapshot())
		})
	}
}

func TestMemory_Concurrent(t *testing.T) {
	chk := assert.New(t)
	var m store.Memory
	var wg sync.WaitGroup
	const producers, each = 8, 250
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for n := 0; n < each; n++ {
				m.Enqueue("x")
			}
		}()
	}
	wg.Wait()
	chk.Equal(producers*each, m.Len())
	count := 0
	for m.HasMessages() {
		_, ok := m.TryDequeue()
		chk.True(ok)
		count++
	}
	chk.Equal(producers*each, count)
}

func TestBounded_DropsOldest(t *testing.T) {
	chk := assert.New(t)
	b := &store.Bounded{Capacity: 2}
	b.Enqueue("a")
	b.Enqueue("b")
	b.Enqueue("c")
	chk.Equal([]string{"b", "c"}, b.Snapshot())
	chk.Equal(1, b.DroppedCount())
}

func TestRedis_KeysByAddress(t *testing.T) {
	chk := assert.New(t)
	mr := miniredis.RunT(t)
	factory, err := store.NewRedisFactory("redis://"+mr.Addr()+"/0", zerolog.Nop())
	require.NoError(t, err)
	defer factory.Close()
	factory.Prefix = "test:"
	//
	a, b := factory.New("/a"), factory.New("/b")
	a.Enqueue("for-a")
	b.Enqueue("for-b")
	//
	values, err := mr.List("test:/a")
	chk.NoError(err)
	chk.Equal([]string{"for-a"}, values)
	//
	// A second factory sees the persisted backlog.
	other, err := store.NewRedisFactory(mr.Addr(), zerolog.Nop())
	require.NoError(t, err)
	defer other.Close()
	other.Prefix = "test:"
	body, ok := other.New("/b").TryDequeue()
	chk.True(ok)
	chk.Equal("for-b", body)
}

func TestRedis_Errors(t *testing.T) {
	chk := assert.New(t)
	_, err := store.NewRedisFactory("mysql://localhost", zerolog.Nop())
	chk.Error(err)
	_, err = store.NewRedisFactory("redis://localhost:6379/notanumber", zerolog.Nop())
	chk.Error(err)
	//
	mr := miniredis.RunT(t)
	factory, err := store.NewRedisFactory(mr.Addr(), zerolog.Nop())
	require.NoError(t, err)
	defer factory.Close()
	s := factory.New("/down")
	mr.Close()
	// A failing backend behaves as an empty store.
	s.Enqueue("lost")
	_, ok := s.TryDequeue()
	chk.False(ok)
	chk.False(s.HasMessages())
	chk.Equal([]string{}, s.Snapshot())
}
