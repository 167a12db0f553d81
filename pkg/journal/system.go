package journal

import (
    "context"
    "fmt"
    "os"
    "sync"
    "sync/atomic"

    c "github.com/amirimatin/go-raft-journal/pkg/consensus"
    "github.com/amirimatin/go-raft-journal/pkg/internal/logutil"
    "github.com/amirimatin/go-raft-journal/pkg/membership"
    obsmetrics "github.com/amirimatin/go-raft-journal/pkg/observability/metrics"
)

// System multiplexes many logical journals into a single replicated log. It
// wires the consensus engine, the state machine, the writers and the quorum
// admin surface into one embeddable runtime.
//
// On the primary, masters mutate state first and journal afterwards, so
// committed entries delivered back to the primary are treated as no-ops.
// Standbys replay every committed entry. Losing primacy fully restarts the
// engine with a fresh state machine, discarding any pre-applied state whose
// append never committed.
type System struct {
    opts Options

    mu  sync.Mutex
    run struct {
        started bool
        closed  bool
    }

    registry *Registry
    gate     *SnapshotGate
    engine   c.Engine

    sm      atomic.Pointer[StateMachine]
    writer  *RaftJournalWriter
    asyncW  atomic.Pointer[AsyncJournalWriter]
    serving atomic.Bool

    transferAllowed atomic.Bool
    transferMsgs    sync.Map // transfer id -> error message ("" on success path)

    avail struct {
        mu sync.Mutex
        m  map[string]bool // peer id -> available
    }
}

// New constructs a System from validated options. It performs no I/O; wire
// an engine with SetEngine, register journals, then call Start.
func New(opts Options) (*System, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    opts.applyDefaults()
    s := &System{opts: opts}
    s.registry = newRegistry()
    s.gate = NewSnapshotGate()
    s.avail.m = make(map[string]bool)
    return s, nil
}

// NewStateMachine builds a fresh state machine bound to this system's
// registry and gate. It is handed to the engine as its state machine
// factory; every engine (re)initialization goes through here, which is what
// replaces the machine on primacy loss.
func (s *System) NewStateMachine() c.StateMachine {
    m := NewStateMachine(s.registry, s.gate, s.opts.Logger)
    s.sm.Store(m)
    return m
}

// SetEngine installs the consensus engine. Must be called before Start.
func (s *System) SetEngine(e c.Engine) { s.engine = e }

// Engine returns the installed consensus engine.
func (s *System) Engine() c.Engine { return s.engine }

// CreateJournal registers a master's logical journal and returns its handle.
// Journals must be registered before Start so replay can dispatch to them.
func (s *System) CreateJournal(m Master) *Journal {
    j := &Journal{master: m, sys: s}
    s.registry.put(j)
    return j
}

// Start launches membership and the consensus engine, then begins watching
// primacy transitions.
func (s *System) Start(ctx context.Context) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.run.started {
        return nil
    }
    if s.engine == nil {
        return fmt.Errorf("journal: no engine configured")
    }
    s.run.started = true
    obsmetrics.Register()

    if s.opts.Membership != nil {
        if err := s.opts.Membership.Start(ctx); err != nil {
            return err
        }
        if s.opts.Discovery != nil {
            if seeds := s.opts.Discovery.Seeds(); len(seeds) > 0 {
                logutil.Infof(s.opts.Logger, "joining membership seeds: %v", seeds)
                _ = s.opts.Membership.Join(seeds)
            }
        }
        go s.availabilityLoop(ctx)
    }

    logutil.Infof(s.opts.Logger, "starting raft journal system: dir=%s local=%s", s.opts.Dir, s.opts.LocalAddr)
    if err := s.engine.Start(ctx); err != nil {
        return err
    }
    if pn, ok := s.engine.(c.PrimacyNotifier); ok {
        go s.primacyLoop(ctx, pn.PrimacyCh())
    }
    return nil
}

// Stop gracefully shuts down the writers, the engine and membership.
func (s *System) Stop(ctx context.Context) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.run.closed {
        return nil
    }
    s.run.closed = true
    logutil.Infof(s.opts.Logger, "shutting down raft journal")
    if aw := s.asyncW.Swap(nil); aw != nil {
        aw.Close()
    }
    if s.writer != nil {
        s.writer.Close()
        s.writer = nil
    }
    if m := s.sm.Load(); m != nil {
        m.SetClosing()
    }
    var err error
    if s.engine != nil {
        err = s.engine.Close()
    }
    if s.opts.Membership != nil {
        _ = s.opts.Membership.Leave()
        _ = s.opts.Membership.Stop()
    }
    logutil.Infof(s.opts.Logger, "journal shutdown complete")
    return err
}

// Close is a convenience alias for Stop with a background context.
func (s *System) Close() error { return s.Stop(context.Background()) }

// IsLeader reports whether this journal system is the primary.
func (s *System) IsLeader() bool {
    return s.engine != nil &&
        s.engine.LifeCycle() == c.LifeCycleRunning &&
        s.engine.IsLeader()
}

// IsServing reports whether primacy handoff has completed and the writer is
// accepting appends. It trails IsLeader by the duration of catch-up.
func (s *System) IsServing() bool { return s.serving.Load() }

// asyncWriter returns the writer shared by all journal handles; nil while in
// standby mode.
func (s *System) asyncWriter() *AsyncJournalWriter { return s.asyncW.Load() }

// StateMachine returns the current state machine instance. It is replaced
// when the engine restarts.
func (s *System) StateMachine() *StateMachine { return s.sm.Load() }

// CurrentSequenceNumbers returns the latest applied sequence number for each
// registered journal. The log is one stream, so every journal reports the
// same global SN.
func (s *System) CurrentSequenceNumbers() map[string]int64 {
    m := s.sm.Load()
    if m == nil {
        return nil
    }
    sn := m.LastAppliedSN()
    out := make(map[string]int64)
    for _, name := range s.registry.Names() {
        out[name] = sn
    }
    return out
}

// IsEmpty reports whether this peer is a primary whose journal holds no
// entries at all, i.e. its writer's next SN is still 0.
func (s *System) IsEmpty() bool {
    s.mu.Lock()
    w := s.writer
    s.mu.Unlock()
    return w != nil && w.NextSN() == 0
}

// Suspend holds back applies for an external catch-up (e.g. a standby
// importing a checkpoint). Snapshots are disallowed for the duration since
// the importer's state is unknown.
func (s *System) Suspend(onInterrupt func()) error {
    m := s.sm.Load()
    if m == nil {
        return ErrClosed
    }
    s.gate.SetAllowed(false)
    return m.Suspend(onInterrupt)
}

// Resume releases a Suspend and restores the snapshot policy for the
// current role.
func (s *System) Resume() error {
    m := s.sm.Load()
    if m == nil {
        return ErrClosed
    }
    err := m.Resume()
    s.gate.SetAllowed(!s.serving.Load())
    return err
}

// IsSuspended reports whether applies are currently held back.
func (s *System) IsSuspended() bool {
    m := s.sm.Load()
    return m != nil && m.IsSuspended()
}

// Catchup returns a future completing once the local state machine has
// applied entries up to targetSN.
func (s *System) Catchup(targetSN int64) (*CatchupFuture, error) {
    m := s.sm.Load()
    if m == nil {
        return nil, ErrClosed
    }
    return m.Catchup(targetSN), nil
}

// Checkpoint opens a snapshot window, proves the log is drained when running
// as primary, takes a local snapshot and restores the gate policy.
func (s *System) Checkpoint(ctx context.Context) error {
    s.gate.SetAllowed(true)
    defer s.gate.SetAllowed(!s.serving.Load())
    if s.IsLeader() {
        if err := s.catchUp(ctx); err != nil {
            return fmt.Errorf("journal: checkpoint catch-up: %w", err)
        }
    }
    if err := s.engine.Snapshot(); err != nil {
        obsmetrics.Snapshots.WithLabelValues("error").Inc()
        return fmt.Errorf("journal: checkpoint: %w", err)
    }
    return nil
}

// Format initializes the journal root: an existing directory is emptied, a
// non-directory at the path is replaced by a directory, and a missing path is
// created. It fails when the path cannot be read, removed or created.
func (s *System) Format() error {
    fi, err := os.Stat(s.opts.Dir)
    switch {
    case err == nil && fi.IsDir():
        entries, err := os.ReadDir(s.opts.Dir)
        if err != nil {
            return fmt.Errorf("journal: format %s: %w", s.opts.Dir, err)
        }
        for _, e := range entries {
            if err := os.RemoveAll(s.opts.Dir + string(os.PathSeparator) + e.Name()); err != nil {
                return fmt.Errorf("journal: format %s: %w", s.opts.Dir, err)
            }
        }
        return nil
    case err == nil:
        if err := os.Remove(s.opts.Dir); err != nil {
            return fmt.Errorf("journal: format %s: %w", s.opts.Dir, err)
        }
        fallthrough
    default:
        if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
            return fmt.Errorf("journal: format %s: %w", s.opts.Dir, err)
        }
        return nil
    }
}

// IsFormatted reports whether the journal root exists.
func (s *System) IsFormatted() bool {
    _, err := os.Stat(s.opts.Dir)
    return err == nil
}

// availabilityLoop mirrors membership failure detection into the peer
// availability overlay consulted by quorum admin operations.
func (s *System) availabilityLoop(ctx context.Context) {
    evch := s.opts.Membership.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case e, ok := <-evch:
            if !ok {
                return
            }
            s.avail.mu.Lock()
            switch e.Type {
            case membership.EventJoin:
                s.avail.m[e.Member.ID] = true
            case membership.EventLeave, membership.EventFailed:
                s.avail.m[e.Member.ID] = false
            }
            s.avail.mu.Unlock()
            logutil.Infof(s.opts.Logger, "membership event: %s id=%s", e.Type, e.Member.ID)
        }
    }
}

// peerAvailable consults the availability overlay. Unknown peers default to
// available, which keeps remove-peer conservative.
func (s *System) peerAvailable(id string) bool {
    s.avail.mu.Lock()
    defer s.avail.mu.Unlock()
    if v, ok := s.avail.m[id]; ok {
        return v
    }
    return true
}
