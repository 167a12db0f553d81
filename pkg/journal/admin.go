package journal

import (
    "context"
    "fmt"
    "time"

    "github.com/google/uuid"

    c "github.com/amirimatin/go-raft-journal/pkg/consensus"
    "github.com/amirimatin/go-raft-journal/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-raft-journal/pkg/observability/metrics"
)

const (
    neutralPriority = 1
    raisedPriority  = 2

    // transferPropagationDelay lets the priority change settle before the
    // transfer request is issued.
    transferPropagationDelay = 3 * time.Second
    transferWait             = 30 * time.Second
)

// QuorumServerInfo returns the member set annotated with leadership and
// availability. Availability comes from the gossip failure detector; without
// membership every peer reports AVAILABLE.
func (s *System) QuorumServerInfo(ctx context.Context) ([]c.PeerInfo, error) {
    gi, err := s.engine.GroupInfo(ctx)
    if err != nil {
        return nil, err
    }
    for i := range gi.Peers {
        if !s.peerAvailable(gi.Peers[i].ID) {
            gi.Peers[i].State = c.PeerUnavailable
        }
    }
    return gi.Peers, nil
}

// AddQuorumServer adds a peer to the quorum. Idempotent: adding a present
// member is a no-op.
func (s *System) AddQuorumServer(ctx context.Context, addr string) error {
    gi, err := s.engine.GroupInfo(ctx)
    if err != nil {
        return err
    }
    peers := make([]c.Peer, 0, len(gi.Peers)+1)
    for _, p := range gi.Peers {
        if p.Addr == addr {
            return nil
        }
        peers = append(peers, p.Peer)
    }
    peers = append(peers, c.Peer{Addr: addr, Priority: neutralPriority})
    logutil.Infof(s.opts.Logger, "adding quorum server %s", addr)
    return s.engine.SetConfiguration(ctx, peers)
}

// RemoveQuorumServer removes a peer from the quorum. The target must be
// marked unavailable by failure detection first; removing a live peer is
// refused.
func (s *System) RemoveQuorumServer(ctx context.Context, addr string) error {
    gi, err := s.engine.GroupInfo(ctx)
    if err != nil {
        return err
    }
    var target *c.PeerInfo
    peers := make([]c.Peer, 0, len(gi.Peers))
    for i, p := range gi.Peers {
        if p.Addr == addr {
            target = &gi.Peers[i]
            continue
        }
        peers = append(peers, p.Peer)
    }
    if target == nil {
        return fmt.Errorf("journal: %s is not part of the quorum", addr)
    }
    if s.peerAvailable(target.ID) {
        return fmt.Errorf("%w: %s", ErrPeerAvailable, addr)
    }
    logutil.Infof(s.opts.Logger, "removing quorum server %s", addr)
    return s.engine.SetConfiguration(ctx, peers)
}

// ResetPriorities sets every peer's election priority to the neutral value.
func (s *System) ResetPriorities(ctx context.Context) error {
    gi, err := s.engine.GroupInfo(ctx)
    if err != nil {
        return err
    }
    peers := make([]c.Peer, 0, len(gi.Peers))
    for _, p := range gi.Peers {
        p.Priority = neutralPriority
        peers = append(peers, p.Peer)
    }
    logutil.Infof(s.opts.Logger, "resetting peer priorities")
    return s.engine.SetConfiguration(ctx, peers)
}

// TransferLeadership hands the quorum leadership to the peer at targetAddr.
// It returns a transfer id immediately; the transfer itself is fire-and-
// forget because this peer shuts down its serving surface mid-transfer.
// Success is observed out-of-band as a transition to STANDBY; failures are
// recorded under the transfer id for TransferLeaderMessage.
func (s *System) TransferLeadership(ctx context.Context, targetAddr string) string {
    transferID := uuid.NewString()
    if !s.transferAllowed.CompareAndSwap(true, false) {
        reason := "already transferring the leadership"
        if !s.serving.Load() {
            reason = "still gaining primacy"
        }
        msg := "transfer is not allowed at the moment because the master is " + reason
        s.transferMsgs.Store(transferID, msg)
        obsmetrics.TransferRequests.WithLabelValues("rejected").Inc()
        return transferID
    }

    target, err := s.validateTransferTarget(ctx, targetAddr)
    if err != nil {
        s.transferAllowed.Store(true)
        s.transferMsgs.Store(transferID, err.Error())
        obsmetrics.TransferRequests.WithLabelValues("rejected").Inc()
        logutil.Warnf(s.opts.Logger, "transfer rejected: %v", err)
        return transferID
    }

    // Raise the target's priority above all others so an engine that honors
    // priorities converges on it, then transfer.
    gi, err := s.engine.GroupInfo(ctx)
    if err == nil {
        peers := make([]c.Peer, 0, len(gi.Peers))
        for _, p := range gi.Peers {
            if p.ID == target.ID {
                p.Priority = raisedPriority
            } else {
                p.Priority = neutralPriority
            }
            peers = append(peers, p.Peer)
        }
        logutil.Infof(s.opts.Logger, "raising priority of %s before transferring leadership", target.ID)
        err = s.engine.SetConfiguration(ctx, peers)
    }
    if err != nil {
        s.transferAllowed.Store(true)
        s.transferMsgs.Store(transferID, err.Error())
        obsmetrics.TransferRequests.WithLabelValues("error").Inc()
        logutil.Warnf(s.opts.Logger, "transfer setup failed: %v", err)
        return transferID
    }

    obsmetrics.TransferRequests.WithLabelValues("initiated").Inc()
    go func() {
        s.opts.Clock.Sleep(transferPropagationDelay)
        logutil.Infof(s.opts.Logger, "transferring leadership to %s (transfer %s)", target.ID, transferID)
        if err := s.engine.TransferLeadership(context.Background(), target.ID, transferWait); err != nil {
            // Transfers may be attempted again only on failure: success
            // means this peer is about to lose primacy anyway.
            s.transferAllowed.Store(true)
            s.transferMsgs.Store(transferID, err.Error())
            obsmetrics.TransferRequests.WithLabelValues("error").Inc()
            logutil.Errorf(s.opts.Logger, "leadership transfer failed: %v", err)
        }
    }()
    logutil.Infof(s.opts.Logger, "leadership transfer initiated: %s", transferID)
    return transferID
}

func (s *System) validateTransferTarget(ctx context.Context, targetAddr string) (*c.PeerInfo, error) {
    gi, err := s.engine.GroupInfo(ctx)
    if err != nil {
        return nil, err
    }
    for i, p := range gi.Peers {
        if p.Addr == targetAddr {
            if p.IsLeader || p.Addr == s.opts.LocalAddr {
                return nil, fmt.Errorf("journal: %s is already the leader", targetAddr)
            }
            return &gi.Peers[i], nil
        }
    }
    return nil, fmt.Errorf("journal: %s is not part of the quorum", targetAddr)
}

// TransferLeaderMessage returns the diagnostic recorded for a transfer id,
// or the empty string on the success path.
func (s *System) TransferLeaderMessage(transferID string) string {
    if v, ok := s.transferMsgs.Load(transferID); ok {
        return v.(string)
    }
    return ""
}
