package websocket

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()
	a := &Client{}
	b := &Client{}

	assert.True(t, r.Add(a), "first add should report empty to non-empty")
	assert.False(t, r.Add(b), "second add should not report a transition")
	assert.Equal(t, 2, r.Size())

	assert.False(t, r.Remove(a), "removing one of two should not report empty")
	assert.True(t, r.Remove(b), "removing the last should report empty")
	assert.Equal(t, 0, r.Size())
}

func TestRegistry_DuplicateAndUnknown(t *testing.T) {
	r := NewRegistry()
	c := &Client{}

	assert.True(t, r.Add(c))
	assert.False(t, r.Add(c), "re-adding a member is a no-op")
	assert.Equal(t, 1, r.Size())

	assert.True(t, r.Remove(c))
	assert.False(t, r.Remove(c), "removing an unknown client is a no-op")
	assert.False(t, r.Remove(&Client{}))
}

func TestRegistry_ConcurrentTransitionSignals(t *testing.T) {
	const n = 50
	r := NewRegistry()
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = &Client{}
	}

	var becameNonEmpty atomic.Int32
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if r.Add(c) {
				becameNonEmpty.Add(1)
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, int32(1), becameNonEmpty.Load(), "exactly one add may signal 0->1")
	assert.Equal(t, n, r.Size())

	var becameEmpty atomic.Int32
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if r.Remove(c) {
				becameEmpty.Add(1)
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, int32(1), becameEmpty.Load(), "exactly one remove may signal 1->0")
	assert.Equal(t, 0, r.Size())
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	a := &Client{}
	b := &Client{}
	r.Add(a)
	r.Add(b)

	snapshot := r.Snapshot()
	assert.Len(t, snapshot, 2)

	r.Remove(a)
	r.Remove(b)
	assert.Len(t, snapshot, 2, "snapshot must not observe later mutations")
	assert.Equal(t, 0, r.Size())
}
