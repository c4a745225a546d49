// Package view tracks which modal the dashboard shows and what the record
// list is filtered by.
package view

import (
	"fmt"
	"log/slog"
	"sync"
)

// Mode is the modal currently open.
type Mode int

const (
	// Closed means no modal is open.
	Closed Mode = iota
	// Editing is the create-or-edit form. An empty ID means create.
	Editing
	// Viewing is the read-only detail modal.
	Viewing
	// ConfirmingDelete is the delete confirmation dialog.
	ConfirmingDelete
)

func (m Mode) String() string {
	switch m {
	case Closed:
		return "closed"
	case Editing:
		return "editing"
	case Viewing:
		return "viewing"
	case ConfirmingDelete:
		return "confirming_delete"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// State is the modal and the record it refers to.
type State struct {
	Mode     Mode
	RecordID string
}

// IsCreate reports whether the state is the create form.
func (s State) IsCreate() bool {
	return s.Mode == Editing && s.RecordID == ""
}

func (s State) String() string {
	if s.RecordID == "" {
		return s.Mode.String()
	}
	return fmt.Sprintf("%s(%s)", s.Mode, s.RecordID)
}

// Observer is told about every transition.
type Observer func(from, to State)

// Machine is the modal state machine. At most one modal is open; opening a
// modal while another is open closes the first.
type Machine struct {
	mu        sync.Mutex
	state     State
	observers []Observer
	disposed  bool
	logger    *slog.Logger
}

// NewMachine returns a machine in the Closed state.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{logger: logger}
}

// Observe registers fn for all later transitions.
func (m *Machine) Observe(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OpenCreate opens an empty form.
func (m *Machine) OpenCreate() {
	m.open(State{Mode: Editing})
}

// OpenEdit opens the form for record id.
func (m *Machine) OpenEdit(id string) error {
	if id == "" {
		return fmt.Errorf("open edit: record id is required")
	}
	m.open(State{Mode: Editing, RecordID: id})
	return nil
}

// OpenDetail opens the detail modal for record id.
func (m *Machine) OpenDetail(id string) error {
	if id == "" {
		return fmt.Errorf("open detail: record id is required")
	}
	m.open(State{Mode: Viewing, RecordID: id})
	return nil
}

// RequestDelete opens the delete confirmation for record id.
func (m *Machine) RequestDelete(id string) error {
	if id == "" {
		return fmt.Errorf("request delete: record id is required")
	}
	m.open(State{Mode: ConfirmingDelete, RecordID: id})
	return nil
}

// Close closes whatever modal is open.
func (m *Machine) Close() {
	m.transition(func(State) (State, bool) { return State{}, true })
}

// CloseIf closes only when the machine is still in expected. It reports
// whether it closed. Mutation completions use it so a late result cannot
// close a modal the user has since switched to.
func (m *Machine) CloseIf(expected State) bool {
	closed := false
	m.transition(func(cur State) (State, bool) {
		if cur != expected || cur.Mode == Closed {
			return cur, false
		}
		closed = true
		return State{}, true
	})
	return closed
}

// Dispose tears the machine down. Later transitions are ignored.
func (m *Machine) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
	m.observers = nil
}

// Disposed reports whether Dispose has been called.
func (m *Machine) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

func (m *Machine) open(next State) {
	m.transition(func(cur State) (State, bool) {
		if cur == next {
			return cur, false
		}
		return next, true
	})
}

// transition applies step under the lock and notifies observers outside it.
// Moving between two open modals is reported as two transitions through
// Closed.
func (m *Machine) transition(step func(State) (State, bool)) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	from := m.state
	to, changed := step(from)
	if !changed {
		m.mu.Unlock()
		return
	}
	m.state = to
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	steps := [][2]State{{from, to}}
	if from.Mode != Closed && to.Mode != Closed {
		steps = [][2]State{{from, {}}, {{}, to}}
	}
	for _, s := range steps {
		m.logger.Debug("View transition", "from", s[0].String(), "to", s[1].String())
		for _, fn := range observers {
			fn(s[0], s[1])
		}
	}
}
