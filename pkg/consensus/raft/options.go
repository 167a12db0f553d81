package raftcons

import (
    "log"
    "time"

    c "github.com/amirimatin/go-raft-journal/pkg/consensus"
)

// Options configure the Raft-based Engine implementation.
type Options struct {
    // LocalAddr is the raft bind/advertise address of this peer, e.g.
    // "127.0.0.1:9520". It must appear in ClusterAddrs.
    LocalAddr string

    // ClusterAddrs is the full static peer set forming the group. A single
    // address bootstraps a single-peer cluster with shortened election
    // timeouts.
    ClusterAddrs []string

    // Dir is the journal root directory. The engine owns the
    // "raft/<group-uuid>" subdirectory beneath it. Empty selects in-memory
    // stores and an in-memory transport (tests, demos).
    Dir string

    // NewStateMachine constructs the state machine registered with the
    // engine. It is invoked on every (re)initialization so that a restart
    // discards all pre-applied state. Required.
    NewStateMachine func() c.StateMachine

    Logger *log.Logger

    // Timeouts (optional). Zero means defaults; a single-peer cluster
    // overrides unset election/heartbeat timeouts to boot fast.
    HeartbeatTimeout   time.Duration
    ElectionTimeout    time.Duration
    CommitTimeout      time.Duration
    LeaderLeaseTimeout time.Duration

    // ApplyTimeout bounds Append submissions when the caller passes zero.
    ApplyTimeout time.Duration

    // SnapshotThreshold is the number of committed entries between
    // engine-triggered checkpoint attempts. Zero keeps the library default.
    SnapshotThreshold uint64
    // SnapshotsRetained controls how many snapshots are kept on disk.
    SnapshotsRetained int
}

// MaxElectionTimeout returns the effective upper bound of the election
// timeout, used by callers for quiet-period waits.
func (o Options) MaxElectionTimeout() time.Duration {
    if o.ElectionTimeout > 0 {
        return o.ElectionTimeout
    }
    if len(o.ClusterAddrs) == 1 && o.HeartbeatTimeout == 0 {
        return singlePeerElectionTimeout
    }
    return defaultElectionTimeout
}
