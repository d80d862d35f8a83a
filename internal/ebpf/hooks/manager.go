// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package hooks tracks the TC ingress/egress attachments of the data
// plane's programs, narrowed from the teacher's XDP+TC+socket-filter
// hook manager since this data plane only ever attaches via TC.
package hooks

import (
	"fmt"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

// Direction names which TC hook a program is attached to.
type Direction int

const (
	Ingress Direction = iota
	Egress
)

func (d Direction) String() string {
	if d == Egress {
		return "egress"
	}
	return "ingress"
}

func (d Direction) attachType() ebpf.AttachType {
	if d == Egress {
		return ebpf.AttachTCXEgress
	}
	return ebpf.AttachTCXIngress
}

// hookKey identifies one attachment: an interface plus a direction.
type hookKey struct {
	IfIndex   int
	Direction Direction
}

// AttachedHook describes one live TC attachment.
type AttachedHook struct {
	ProgramName string
	IfIndex     int
	Direction   Direction
	Link        link.Link
	AttachedAt  time.Time
	Active      bool
}

// Manager tracks TC attachments across interfaces, attaching and
// detaching idempotently.
type Manager struct {
	mutex sync.Mutex
	hooks map[hookKey]*AttachedHook
}

// NewManager creates an empty hook manager.
func NewManager() *Manager {
	return &Manager{hooks: make(map[hookKey]*AttachedHook)}
}

// Attach attaches prog to ifindex's TC hook in direction dir. Attach
// is idempotent: if a hook is already active for (ifindex, dir), it
// is a no-op and returns nil.
func (m *Manager) Attach(prog *ebpf.Program, programName string, ifindex int, dir Direction) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	key := hookKey{IfIndex: ifindex, Direction: dir}
	if existing, ok := m.hooks[key]; ok && existing.Active {
		return nil
	}

	lnk, err := link.AttachTCX(link.TCXOptions{
		Program:   prog,
		Interface: ifindex,
		Attach:    dir.attachType(),
	})
	if err != nil {
		return fmt.Errorf("attach %s %s on ifindex %d: %w", programName, dir, ifindex, err)
	}

	m.hooks[key] = &AttachedHook{
		ProgramName: programName,
		IfIndex:     ifindex,
		Direction:   dir,
		Link:        lnk,
		AttachedAt:  time.Now(),
		Active:      true,
	}
	return nil
}

// Detach removes the hook for (ifindex, dir). Detach is idempotent:
// detaching an already-absent hook is a no-op and returns nil.
func (m *Manager) Detach(ifindex int, dir Direction) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	key := hookKey{IfIndex: ifindex, Direction: dir}
	hook, ok := m.hooks[key]
	if !ok || !hook.Active {
		return nil
	}

	if err := hook.Link.Close(); err != nil {
		return fmt.Errorf("detach %s on ifindex %d: %w", dir, ifindex, err)
	}
	hook.Active = false
	delete(m.hooks, key)
	return nil
}

// DetachInterface detaches both directions for ifindex, in reverse
// attach order (egress before ingress), reporting the first error but
// attempting both.
func (m *Manager) DetachInterface(ifindex int) error {
	var firstErr error
	if err := m.Detach(ifindex, Egress); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.Detach(ifindex, Ingress); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// IsAttached reports whether a hook is active for (ifindex, dir).
func (m *Manager) IsAttached(ifindex int, dir Direction) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	hook, ok := m.hooks[hookKey{IfIndex: ifindex, Direction: dir}]
	return ok && hook.Active
}

// Close detaches every tracked hook.
func (m *Manager) Close() error {
	m.mutex.Lock()
	keys := make([]hookKey, 0, len(m.hooks))
	for k := range m.hooks {
		keys = append(keys, k)
	}
	m.mutex.Unlock()

	var firstErr error
	for _, k := range keys {
		if err := m.Detach(k.IfIndex, k.Direction); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
