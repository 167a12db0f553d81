package journal

import (
    "context"

    c "github.com/amirimatin/go-raft-journal/pkg/consensus"
)

// Status is a high-level, JSON-serializable snapshot of the journal system
// suitable for external status endpoints and tooling.
type Status struct {
    // Healthy indicates whether a leader is known and the engine is running.
    Healthy bool
    // Role is this peer's role (PRIMARY or STANDBY).
    Role string
    // Term is the current consensus term as observed by this peer.
    Term uint64
    // LeaderID is the identifier of the current leader, if any.
    LeaderID string
    // LeaderAddr is the consensus address of the current leader, if known.
    LeaderAddr string
    // LastAppliedSN is the latest sequence number applied locally.
    LastAppliedSN int64
    // Suspended indicates applies are held back for an external catch-up.
    Suspended bool
    // Journals lists the registered logical journal names.
    Journals []string
    // Peers is the quorum view with availability annotations.
    Peers []c.PeerInfo
    // Warnings contains any non-fatal observations.
    Warnings []string
}

// Status synthesizes the current view of the journal system.
func (s *System) Status(ctx context.Context) (*Status, error) {
    st := &Status{Role: string(c.RoleStandby), Journals: s.registry.Names()}
    if s.engine == nil {
        return st, nil
    }
    st.Term = s.engine.Term()
    if id, addr, ok := s.engine.Leader(); ok {
        st.LeaderID = id
        st.LeaderAddr = addr
        st.Healthy = s.engine.LifeCycle() == c.LifeCycleRunning
    }
    if s.IsLeader() {
        st.Role = string(c.RolePrimary)
    }
    if m := s.sm.Load(); m != nil {
        st.LastAppliedSN = m.LastAppliedSN()
        st.Suspended = m.IsSuspended()
    }
    if peers, err := s.QuorumServerInfo(ctx); err == nil {
        st.Peers = peers
    } else {
        st.Warnings = append(st.Warnings, err.Error())
    }
    return st, nil
}
