package store

import (
	"context"
	"sync"
)

// MemoryLedger keeps entries for the life of the process.
type MemoryLedger struct {
	mu      sync.RWMutex
	seen    map[string]struct{}
	entries []Entry
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (m *MemoryLedger) Record(ctx context.Context, entries ...Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, dup := m.seen[e.ID]; dup {
			continue
		}
		m.seen[e.ID] = struct{}{}
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *MemoryLedger) List(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	copy(out, m.entries[:n])
	return out, nil
}
