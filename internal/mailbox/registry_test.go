package mailbox_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/lancelot/internal/mailbox"
)

func TestRegistry_FIFO(t *testing.T) {
	r := mailbox.NewRegistry()
	for _, m := range []string{"a", "b", "c"} {
		r.Send(100, m)
	}
	assert.Equal(t, 3, r.Size(100))

	for _, want := range []string{"a", "b", "c"} {
		got, err := r.Receive(100)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := r.Receive(100)
	assert.ErrorIs(t, err, mailbox.ErrEmptyQueue)
	assert.Equal(t, 0, r.Size(100))

	r.Clear(100)
	r.Clear(100)
	assert.Equal(t, 0, r.Size(100))
}

func TestRegistry_ReadsNeverCreate(t *testing.T) {
	r := mailbox.NewRegistry()

	_, err := r.Receive(7)
	assert.ErrorIs(t, err, mailbox.ErrEmptyQueue)
	_, ok := r.Peek(7)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Size(7))
	r.Clear(7)

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
}

func TestRegistry_PeekIsNonDestructive(t *testing.T) {
	r := mailbox.NewRegistry()
	r.Send(1, "first")
	r.Send(1, "second")

	msg, ok := r.Peek(1)
	require.True(t, ok)
	assert.Equal(t, "first", msg)
	assert.Equal(t, 2, r.Size(1))

	got, err := r.Receive(1)
	require.NoError(t, err)
	assert.Equal(t, "first", got)
}

func TestRegistry_IsolatedInstances(t *testing.T) {
	a := mailbox.NewRegistry()
	b := mailbox.NewRegistry()
	a.Send(1, "only-in-a")

	assert.Equal(t, 1, a.Size(1))
	assert.Equal(t, 0, b.Size(1))
}

func TestRegistry_ClearKeepsAcceptingMessages(t *testing.T) {
	r := mailbox.NewRegistry()
	r.Send(5, "old")
	r.Clear(5)
	r.Send(5, "new")

	got, err := r.Receive(5)
	require.NoError(t, err)
	assert.Equal(t, "new", got)
}

func TestRegistry_ConcurrentSendersPreservePerSenderOrder(t *testing.T) {
	r := mailbox.NewRegistry()
	const senders = 8
	const perSender = 200

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				r.Send(42, fmt.Sprintf("%d:%d", s, i))
			}
		}(s)
	}
	wg.Wait()
	require.Equal(t, senders*perSender, r.Size(42))

	next := make(map[int]int)
	for i := 0; i < senders*perSender; i++ {
		msg, err := r.Receive(42)
		require.NoError(t, err)
		var s, n int
		_, err = fmt.Sscanf(msg, "%d:%d", &s, &n)
		require.NoError(t, err)
		assert.Equal(t, next[s], n, "sender %d delivered out of order", s)
		next[s] = n + 1
	}
}

func TestRegistry_ConcurrentReceiversDeliverExactlyOnce(t *testing.T) {
	r := mailbox.NewRegistry()
	const total = 1000
	for i := 0; i < total; i++ {
		r.Send(9, fmt.Sprint(i))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg, err := r.Receive(9)
				if err != nil {
					return
				}
				mu.Lock()
				seen[msg]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for msg, n := range seen {
		assert.Equal(t, 1, n, "message %s delivered %d times", msg, n)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := mailbox.NewRegistry()
	r.Send(1, "x")
	r.Send(2, "y")
	r.Send(2, "z")

	snap := r.Snapshot()
	assert.Equal(t, map[int][]string{1: {"x"}, 2: {"y", "z"}}, snap)

	// Mutating the snapshot never leaks into the registry.
	snap[2][0] = "mutated"
	msg, _ := r.Peek(2)
	assert.Equal(t, "y", msg)
}
