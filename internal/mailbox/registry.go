// internal/mailbox/registry.go
package mailbox

import (
	"errors"
	"sync"
)

// ErrEmptyQueue is returned by Receive when no message is pending.
var ErrEmptyQueue = errors.New("message queue is empty")

// box is a single FIFO queue. Its own mutex serializes every operation on it,
// so unrelated process ids never contend.
type box struct {
	mu       sync.Mutex
	messages []string
}

// Registry maps process ids to mailboxes. The registry lock only guards the
// map itself; message traffic runs under the per-mailbox lock.
//
// The zero value is not usable; call NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	boxes map[int]*box
}

// NewRegistry returns an empty registry. Its lifetime belongs to whoever
// composes the agents sharing it.
func NewRegistry() *Registry {
	return &Registry{boxes: make(map[int]*box)}
}

// lookup returns the mailbox for pid, creating it when create is set.
func (r *Registry) lookup(pid int, create bool) *box {
	r.mu.RLock()
	b, ok := r.boxes[pid]
	r.mu.RUnlock()
	if ok || !create {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.boxes[pid]; ok {
		return b
	}
	b = &box{}
	r.boxes[pid] = b
	return b
}

// Send appends text to the mailbox of pid, creating the mailbox on first use.
func (r *Registry) Send(pid int, text string) {
	b := r.lookup(pid, true)
	b.mu.Lock()
	b.messages = append(b.messages, text)
	b.mu.Unlock()
}

// Receive pops the oldest message for pid.
func (r *Registry) Receive(pid int) (string, error) {
	b := r.lookup(pid, false)
	if b == nil {
		return "", ErrEmptyQueue
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) == 0 {
		return "", ErrEmptyQueue
	}
	msg := b.messages[0]
	b.messages[0] = ""
	b.messages = b.messages[1:]
	return msg, nil
}

// Peek returns the oldest message for pid without removing it.
func (r *Registry) Peek(pid int) (string, bool) {
	b := r.lookup(pid, false)
	if b == nil {
		return "", false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) == 0 {
		return "", false
	}
	return b.messages[0], true
}

// Size returns the number of pending messages for pid.
func (r *Registry) Size(pid int) int {
	b := r.lookup(pid, false)
	if b == nil {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Clear drops every pending message for pid. Clearing an absent or empty
// mailbox is a no-op.
func (r *Registry) Clear(pid int) {
	b := r.lookup(pid, false)
	if b == nil {
		return
	}

	b.mu.Lock()
	b.messages = nil
	b.mu.Unlock()
}

// Len returns the number of mailboxes ever created in this registry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.boxes)
}

// Snapshot copies the contents of every mailbox. Each mailbox is copied
// under its own lock; no cross-mailbox atomicity is implied.
func (r *Registry) Snapshot() map[int][]string {
	r.mu.RLock()
	boxes := make(map[int]*box, len(r.boxes))
	for pid, b := range r.boxes {
		boxes[pid] = b
	}
	r.mu.RUnlock()

	out := make(map[int][]string, len(boxes))
	for pid, b := range boxes {
		b.mu.Lock()
		msgs := make([]string, len(b.messages))
		copy(msgs, b.messages)
		b.mu.Unlock()
		out[pid] = msgs
	}
	return out
}
