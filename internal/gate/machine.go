// internal/gate/machine.go
package gate

import "sync"

// Checker answers authorization queries against a current stage.
type Checker interface {
	Stage() Stage
	Check(class Class) error
}

// Machine owns a single agent's evolution stage. Transitions are serialized
// internally so concurrent Evolve calls still advance one step each.
type Machine struct {
	mu    sync.RWMutex
	stage Stage
}

// NewMachine returns a machine at the Initial stage.
func NewMachine() *Machine {
	return &Machine{stage: Initial}
}

// Stage returns the current stage.
func (m *Machine) Stage() Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stage
}

// Evolve advances to the next stage. advanced is false, and from == to, when
// the machine is already at Advanced.
func (m *Machine) Evolve() (from, to Stage, advanced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from = m.stage
	next, ok := from.Next()
	if !ok {
		return from, from, false
	}
	m.stage = next
	return from, next, true
}

// Check evaluates class against the current stage.
func (m *Machine) Check(class Class) error {
	return Check(m.Stage(), class)
}
