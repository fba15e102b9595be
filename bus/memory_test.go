package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub *Subscription) []byte {
	t.Helper()
	select {
	case payload := <-sub.C:
		return payload
	case <-time.After(time.Second):
		t.Fatal("no payload received")
		return nil
	}
}

func TestMemoryBus_FanOut(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	subs := make([]*Subscription, 3)
	for i := range subs {
		sub, err := b.Join("broadcast")
		require.NoError(t, err)
		subs[i] = sub
	}

	require.NoError(t, b.Publish(context.Background(), "broadcast", []byte("ping")))

	for _, sub := range subs {
		assert.Equal(t, []byte("ping"), recv(t, sub))
	}
}

func TestMemoryBus_LeaveStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	sub, err := b.Join("broadcast")
	require.NoError(t, err)

	sub.Leave()
	sub.Leave() // leaving twice is fine

	_, open := <-sub.C
	assert.False(t, open, "subscription channel must be closed after Leave")

	require.NoError(t, b.Publish(context.Background(), "broadcast", []byte("ping")))
}

func TestMemoryBus_PublishToEmptyGroup(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	assert.NoError(t, b.Publish(context.Background(), "nobody-home", []byte("ping")))
}

func TestMemoryBus_GroupsAreIsolated(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	subA, err := b.Join("a")
	require.NoError(t, err)
	subB, err := b.Join("b")
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "a", []byte("for-a")))

	assert.Equal(t, []byte("for-a"), recv(t, subA))
	select {
	case payload := <-subB.C:
		t.Fatalf("group b received a payload for group a: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_SlowMemberDoesNotBlock(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	sub, err := b.Join("broadcast")
	require.NoError(t, err)
	_ = sub // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer*2; i++ {
			b.Publish(context.Background(), "broadcast", []byte("flood"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow member")
	}
}

func TestMemoryBus_CloseClosesSubscriptions(t *testing.T) {
	b := NewMemoryBus()

	sub, err := b.Join("broadcast")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close()) // idempotent

	_, open := <-sub.C
	assert.False(t, open)

	_, err = b.Join("broadcast")
	assert.Error(t, err, "joining a closed bus must fail")
}
