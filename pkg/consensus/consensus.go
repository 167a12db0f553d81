package consensus

import (
    "context"
    "io"
    "time"
)

// LifeCycle describes the coarse state of a consensus engine instance.
type LifeCycle string

const (
    LifeCycleNew      LifeCycle = "new"
    LifeCycleStarting LifeCycle = "starting"
    LifeCycleRunning  LifeCycle = "running"
    LifeCycleClosing  LifeCycle = "closing"
    LifeCycleClosed   LifeCycle = "closed"
)

// Role is the local peer's role with respect to client writes.
type Role string

const (
    RoleStandby Role = "STANDBY"
    RolePrimary Role = "PRIMARY"
)

// PeerState reports whether a peer is currently reachable. Availability is
// determined by failure detection, not by the raft log.
type PeerState string

const (
    PeerAvailable   PeerState = "AVAILABLE"
    PeerUnavailable PeerState = "UNAVAILABLE"
)

// Peer identifies a member of the consensus group. Priority influences
// elections where the engine supports it; engines without native priorities
// record and report it so that operator tooling behaves uniformly.
type Peer struct {
    ID       string
    Addr     string
    Priority int
}

// PeerInfo is a Peer annotated with runtime state for operator queries.
type PeerInfo struct {
    Peer
    IsLeader bool
    State    PeerState
}

// GroupInfo is a point-in-time view of the consensus group.
type GroupInfo struct {
    Role         Role
    Term         uint64
    LeaderID     string
    CommitIndex  uint64
    AppliedIndex uint64
    Peers        []PeerInfo
}

// CommitFuture resolves when an appended payload has been committed by a
// quorum and handed to the local state machine. Await may be called once.
type CommitFuture interface {
    // Await blocks until commit, engine error, or ctx cancellation. On
    // success it returns the log index the payload committed at.
    Await(ctx context.Context) (uint64, error)
}

// StateMachine receives committed payloads from the engine, in log order, on
// a single apply goroutine. Save/Restore stream full checkpoints of the
// machine's state; SnapshotAllowed is consulted before the engine starts a
// checkpoint so the application can veto engine-triggered snapshots.
type StateMachine interface {
    Apply(commitIndex uint64, payload []byte)
    SaveSnapshot(w io.Writer) error
    RestoreSnapshot(r io.Reader) error
    SnapshotAllowed() bool
}

// Engine is the abstraction over a leader-based consensus library. One Engine
// instance owns one state machine; Restart tears the pair down and rebuilds
// both from the same configuration and storage.
type Engine interface {
    Start(ctx context.Context) error
    Close() error
    // Restart fully closes the engine and re-initializes it with the same
    // cluster configuration and storage, constructing a fresh state machine.
    Restart(ctx context.Context) error
    LifeCycle() LifeCycle

    // Append replicates payload. Leader only; returns ErrNotLeader or
    // ErrLeaderNotReady otherwise. The returned future resolves on commit.
    Append(payload []byte, timeout time.Duration) (CommitFuture, error)

    // Snapshot asks the engine to take a state machine checkpoint now.
    Snapshot() error

    IsLeader() bool
    Leader() (id string, addr string, ok bool)
    Term() uint64
    GroupInfo(ctx context.Context) (*GroupInfo, error)

    // SetConfiguration replaces the member set (including priorities).
    SetConfiguration(ctx context.Context, peers []Peer) error
    // TransferLeadership hands leadership to the given peer, waiting up to
    // wait for the transfer to be accepted.
    TransferLeadership(ctx context.Context, targetID string, wait time.Duration) error
}

// PrimacyNotifier is an optional interface that an Engine may provide to
// notify about primacy changes via an observable channel. The channel must
// survive Restart; implementations buffer and coalesce as needed to avoid
// blocking engine internals.
type PrimacyNotifier interface {
    PrimacyCh() <-chan Role
}
