package journal

import (
    "context"
    "encoding/binary"
    "fmt"
    "io"
    "log"
    "sync"
    "sync/atomic"

    "github.com/amirimatin/go-raft-journal/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-raft-journal/pkg/observability/metrics"
)

type mode int32

const (
    modeReplay mode = iota
    modeServe
    modeClosing
)

// StateMachine is the sole consumer of committed entries from the consensus
// engine and the producer/installer of checkpoints. A standby replays every
// entry into its logical journal; a primary has already applied the mutation
// before journaling it, so committed entries only advance bookkeeping there.
// One instance exists per engine lifetime; losing primacy replaces the
// engine and the state machine together.
type StateMachine struct {
    registry *Registry
    gate     *SnapshotGate
    log      *log.Logger

    md                 atomic.Int32
    lastAppliedSN      atomic.Int64
    lastPrimaryStartSN atomic.Int64
    snapshotting       atomic.Bool

    mu          sync.Mutex
    cond        *sync.Cond
    suspended   bool
    onInterrupt func()
    waiters     []*catchupWaiter
}

type catchupWaiter struct {
    target int64
    ch     chan struct{}
}

// NewStateMachine returns a machine in replay mode with no entries applied.
func NewStateMachine(registry *Registry, gate *SnapshotGate, logger *log.Logger) *StateMachine {
    if logger == nil { logger = log.Default() }
    m := &StateMachine{registry: registry, gate: gate, log: logger}
    m.cond = sync.NewCond(&m.mu)
    m.lastAppliedSN.Store(-1)
    return m
}

// LastAppliedSN returns the sequence number of the latest applied entry, or
// -1 when nothing has been applied.
func (m *StateMachine) LastAppliedSN() int64 { return m.lastAppliedSN.Load() }

// LastPrimaryStartSN returns the SN of the most recent term-start sentinel
// observed, or 0 when none has been seen.
func (m *StateMachine) LastPrimaryStartSN() int64 { return m.lastPrimaryStartSN.Load() }

// IsSnapshotting reports whether a checkpoint is being streamed right now.
func (m *StateMachine) IsSnapshotting() bool { return m.snapshotting.Load() }

// IsSuspended reports whether applies are currently held back.
func (m *StateMachine) IsSuspended() bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.suspended
}

// Apply consumes one committed entry. The engine invokes it in log order on
// a single goroutine; a corrupt entry or a failing journal callback leaves
// the machine inconsistent with the log, which only a clean restart can fix,
// so both are fatal.
func (m *StateMachine) Apply(commitIndex uint64, payload []byte) {
    m.waitWhileSuspended()

    m.gate.EnterApply()
    defer m.gate.ExitApply()

    entry, err := DecodeEntry(payload)
    if err != nil {
        logutil.Errorf(m.log, "corrupt journal entry at commit index %d: %v", commitIndex, err)
        panic(fmt.Sprintf("journal: corrupt entry at commit index %d: %v", commitIndex, err))
    }

    switch mode(m.md.Load()) {
    case modeClosing:
        return
    case modeServe:
        // Pre-applied on this peer already; only bookkeeping advances.
        if entry.IsSentinel() {
            m.lastPrimaryStartSN.Store(entry.SN)
        }
        if sn := m.lastAppliedSN.Load(); entry.SN > sn {
            m.lastAppliedSN.Store(entry.SN)
        }
    case modeReplay:
        if entry.IsSentinel() {
            m.lastPrimaryStartSN.Store(entry.SN)
            break
        }
        j, err := m.registry.Get(entry.Target)
        if err != nil {
            panic(fmt.Sprintf("journal: entry %d targets unregistered journal %q", entry.SN, entry.Target))
        }
        if err := j.master.ApplyEntry(entry.Payload); err != nil {
            panic(fmt.Sprintf("journal: applying entry %d to %q: %v", entry.SN, entry.Target, err))
        }
        m.lastAppliedSN.Store(entry.SN)
        obsmetrics.EntriesApplied.Inc()
    }
    obsmetrics.LastAppliedSN.Set(float64(m.lastAppliedSN.Load()))
    m.notifyWaiters()
}

func (m *StateMachine) waitWhileSuspended() {
    m.mu.Lock()
    for m.suspended {
        m.cond.Wait()
    }
    m.mu.Unlock()
}

// Upgrade transitions replay to serve and returns the last applied SN so the
// writer can start at the next one. Idempotent within a primacy epoch.
func (m *StateMachine) Upgrade() int64 {
    m.md.CompareAndSwap(int32(modeReplay), int32(modeServe))
    return m.lastAppliedSN.Load()
}

// Suspend holds back further applies until Resume. onInterrupt is invoked if
// the suspension is aborted by shutdown instead of resumed.
func (m *StateMachine) Suspend(onInterrupt func()) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.suspended {
        return ErrSuspended
    }
    m.suspended = true
    m.onInterrupt = onInterrupt
    return nil
}

// Resume releases applies held back by Suspend.
func (m *StateMachine) Resume() error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if !m.suspended {
        return ErrNotSuspended
    }
    m.suspended = false
    m.onInterrupt = nil
    m.cond.Broadcast()
    return nil
}

// SetClosing switches the machine to drop further applies during engine
// shutdown. An active suspension is aborted.
func (m *StateMachine) SetClosing() {
    m.md.Store(int32(modeClosing))
    m.mu.Lock()
    interrupt := m.onInterrupt
    if m.suspended {
        m.suspended = false
        m.onInterrupt = nil
        m.cond.Broadcast()
    }
    m.mu.Unlock()
    if interrupt != nil {
        interrupt()
    }
}

// Catchup returns a future that completes once the machine has applied
// entries up to at least targetSN. A target at or below the current SN
// yields an already-completed future.
func (m *StateMachine) Catchup(targetSN int64) *CatchupFuture {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.lastAppliedSN.Load() >= targetSN {
        return completedCatchupFuture()
    }
    w := &catchupWaiter{target: targetSN, ch: make(chan struct{})}
    m.waiters = append(m.waiters, w)
    return &CatchupFuture{ch: w.ch}
}

func (m *StateMachine) notifyWaiters() {
    sn := m.lastAppliedSN.Load()
    m.mu.Lock()
    kept := m.waiters[:0]
    for _, w := range m.waiters {
        if sn >= w.target {
            close(w.ch)
            continue
        }
        kept = append(kept, w)
    }
    m.waiters = kept
    m.mu.Unlock()
}

// SnapshotAllowed implements the engine's snapshot veto.
func (m *StateMachine) SnapshotAllowed() bool { return m.gate.Allowed() }

// snapshot wire format: 8-byte last applied SN, 4-byte journal count, then
// per journal a 2-byte name length, the name, an 8-byte blob length and the
// blob. Journals are ordered by name.
func (m *StateMachine) SaveSnapshot(w io.Writer) error {
    if err := m.gate.BeginSnapshot(); err != nil {
        return err
    }
    m.snapshotting.Store(true)
    defer func() {
        m.snapshotting.Store(false)
        m.gate.EndSnapshot()
    }()

    sn := m.lastAppliedSN.Load()
    names := m.registry.Names()
    logutil.Infof(m.log, "taking local snapshot at SN %d (%d journals)", sn, len(names))

    var hdr [12]byte
    binary.BigEndian.PutUint64(hdr[0:8], uint64(sn))
    binary.BigEndian.PutUint32(hdr[8:12], uint32(len(names)))
    if _, err := w.Write(hdr[:]); err != nil {
        obsmetrics.Snapshots.WithLabelValues("error").Inc()
        return err
    }
    for _, name := range names {
        j, err := m.registry.Get(name)
        if err != nil {
            return err
        }
        blob, err := j.master.Snapshot()
        if err != nil {
            obsmetrics.Snapshots.WithLabelValues("error").Inc()
            return fmt.Errorf("journal: snapshotting %q: %w", name, err)
        }
        if err := writeNamedBlob(w, name, blob); err != nil {
            obsmetrics.Snapshots.WithLabelValues("error").Inc()
            return err
        }
    }
    obsmetrics.Snapshots.WithLabelValues("ok").Inc()
    return nil
}

func writeNamedBlob(w io.Writer, name string, blob []byte) error {
    var nl [2]byte
    binary.BigEndian.PutUint16(nl[:], uint16(len(name)))
    if _, err := w.Write(nl[:]); err != nil {
        return err
    }
    if _, err := io.WriteString(w, name); err != nil {
        return err
    }
    var bl [8]byte
    binary.BigEndian.PutUint64(bl[:], uint64(len(blob)))
    if _, err := w.Write(bl[:]); err != nil {
        return err
    }
    _, err := w.Write(blob)
    return err
}

// RestoreSnapshot replaces every logical journal's state from the reader.
// Only a replaying standby may install a snapshot.
func (m *StateMachine) RestoreSnapshot(r io.Reader) error {
    if mode(m.md.Load()) != modeReplay {
        return ErrNotReplaying
    }
    var hdr [12]byte
    if _, err := io.ReadFull(r, hdr[:]); err != nil {
        return fmt.Errorf("journal: reading snapshot header: %w", err)
    }
    sn := int64(binary.BigEndian.Uint64(hdr[0:8]))
    count := binary.BigEndian.Uint32(hdr[8:12])
    for i := uint32(0); i < count; i++ {
        name, blob, err := readNamedBlob(r)
        if err != nil {
            return err
        }
        j, err := m.registry.Get(name)
        if err != nil {
            return err
        }
        if err := j.master.Restore(blob); err != nil {
            return fmt.Errorf("journal: restoring %q: %w", name, err)
        }
    }
    m.lastAppliedSN.Store(sn)
    obsmetrics.LastAppliedSN.Set(float64(sn))
    m.notifyWaiters()
    logutil.Infof(m.log, "installed snapshot at SN %d (%d journals)", sn, count)
    return nil
}

func readNamedBlob(r io.Reader) (string, []byte, error) {
    var nl [2]byte
    if _, err := io.ReadFull(r, nl[:]); err != nil {
        return "", nil, fmt.Errorf("journal: reading snapshot entry: %w", err)
    }
    name := make([]byte, binary.BigEndian.Uint16(nl[:]))
    if _, err := io.ReadFull(r, name); err != nil {
        return "", nil, fmt.Errorf("journal: reading snapshot entry name: %w", err)
    }
    var bl [8]byte
    if _, err := io.ReadFull(r, bl[:]); err != nil {
        return "", nil, fmt.Errorf("journal: reading snapshot blob length: %w", err)
    }
    blob := make([]byte, binary.BigEndian.Uint64(bl[:]))
    if _, err := io.ReadFull(r, blob); err != nil {
        return "", nil, fmt.Errorf("journal: reading snapshot blob: %w", err)
    }
    return string(name), blob, nil
}

// CatchupFuture completes when the state machine reaches a target SN.
type CatchupFuture struct {
    ch <-chan struct{}
}

func completedCatchupFuture() *CatchupFuture {
    ch := make(chan struct{})
    close(ch)
    return &CatchupFuture{ch: ch}
}

// Done returns a channel closed on completion.
func (f *CatchupFuture) Done() <-chan struct{} { return f.ch }

// Wait blocks until completion or ctx cancellation.
func (f *CatchupFuture) Wait(ctx context.Context) error {
    select {
    case <-f.ch:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}
