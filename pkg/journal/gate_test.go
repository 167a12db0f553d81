package journal

import (
    "errors"
    "sync/atomic"
    "testing"
    "time"
)

func TestSnapshotGate_PolicyBit(t *testing.T) {
    g := NewSnapshotGate()
    if !g.Allowed() {
        t.Fatalf("new gate should allow snapshots (standby policy)")
    }
    g.SetAllowed(false)
    if err := g.BeginSnapshot(); !errors.Is(err, ErrSnapshotNotAllowed) {
        t.Fatalf("BeginSnapshot = %v, want ErrSnapshotNotAllowed", err)
    }
    g.SetAllowed(true)
    if err := g.BeginSnapshot(); err != nil {
        t.Fatalf("BeginSnapshot: %v", err)
    }
    g.EndSnapshot()
}

func TestSnapshotGate_SnapshotWaitsForAppliers(t *testing.T) {
    g := NewSnapshotGate()
    g.EnterApply()

    var began atomic.Bool
    done := make(chan struct{})
    go func() {
        if err := g.BeginSnapshot(); err != nil {
            t.Errorf("BeginSnapshot: %v", err)
            close(done)
            return
        }
        began.Store(true)
        g.EndSnapshot()
        close(done)
    }()

    time.Sleep(20 * time.Millisecond)
    if began.Load() {
        t.Fatalf("snapshot began while an applier held the gate")
    }
    g.ExitApply()
    select {
    case <-done:
    case <-time.After(time.Second):
        t.Fatalf("snapshot did not proceed after appliers drained")
    }
    if !began.Load() {
        t.Fatalf("snapshot never began")
    }
}

func TestSnapshotGate_AppliersWaitForSnapshot(t *testing.T) {
    g := NewSnapshotGate()
    if err := g.BeginSnapshot(); err != nil {
        t.Fatalf("BeginSnapshot: %v", err)
    }
    entered := make(chan struct{})
    go func() {
        g.EnterApply()
        g.ExitApply()
        close(entered)
    }()
    select {
    case <-entered:
        t.Fatalf("apply proceeded during snapshot")
    case <-time.After(20 * time.Millisecond):
    }
    g.EndSnapshot()
    select {
    case <-entered:
    case <-time.After(time.Second):
        t.Fatalf("apply never resumed after snapshot")
    }
}
