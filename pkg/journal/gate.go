package journal

import (
    "sync"
    "sync/atomic"
)

// SnapshotGate serializes checkpoints against state mutation. Appliers hold
// the reader side for the duration of each apply; a snapshot holds the
// writer side, so it waits for in-flight applies to drain and blocks new
// ones while state is being streamed out. The allowed bit is policy:
// snapshots are prohibited while the primary is serving writes and while the
// state machine is suspended for an external catch-up.
type SnapshotGate struct {
    mu      sync.RWMutex
    allowed atomic.Bool
}

// NewSnapshotGate returns a gate with snapshots allowed (standby policy).
func NewSnapshotGate() *SnapshotGate {
    g := &SnapshotGate{}
    g.allowed.Store(true)
    return g
}

// SetAllowed flips the policy bit.
func (g *SnapshotGate) SetAllowed(v bool) { g.allowed.Store(v) }

// Allowed reports whether a snapshot may begin now.
func (g *SnapshotGate) Allowed() bool { return g.allowed.Load() }

// EnterApply acquires the reader side. Every state mutation path holds it.
func (g *SnapshotGate) EnterApply() { g.mu.RLock() }

// ExitApply releases the reader side.
func (g *SnapshotGate) ExitApply() { g.mu.RUnlock() }

// BeginSnapshot acquires the writer side after checking policy. Callers must
// invoke EndSnapshot exactly once on success.
func (g *SnapshotGate) BeginSnapshot() error {
    if !g.allowed.Load() {
        return ErrSnapshotNotAllowed
    }
    g.mu.Lock()
    // Re-check after the appliers drained: policy may have flipped while we
    // were waiting for the lock.
    if !g.allowed.Load() {
        g.mu.Unlock()
        return ErrSnapshotNotAllowed
    }
    return nil
}

// EndSnapshot releases the writer side.
func (g *SnapshotGate) EndSnapshot() { g.mu.Unlock() }
