package raftcons

import (
    "context"
    "fmt"
    "log"
    "os"
    "path/filepath"
    "strconv"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "github.com/google/uuid"
    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    c "github.com/amirimatin/go-raft-journal/pkg/consensus"
    "github.com/amirimatin/go-raft-journal/pkg/internal/logutil"
)

// groupUUID names the engine-owned storage subdirectory. It is fixed for the
// lifetime of a formatted journal; peers of one group must agree on it.
var groupUUID = uuid.MustParse("6f3c2a18-54be-4d8f-9b71-c0a9e52d7b44")

const (
    singlePeerElectionTimeout = 500 * time.Millisecond
    defaultElectionTimeout    = 1000 * time.Millisecond
)

// PeerID derives the stable raft server id for a peer address. Addresses are
// unique within a group, so the id is just the address with the port
// separator made path-safe.
func PeerID(addr string) string { return strings.ReplaceAll(addr, ":", "_") }

// Node implements consensus.Engine using HashiCorp Raft with a BoltDB
// log/stable store and a file snapshot store under the journal directory.
// Restart rebuilds the raft instance and the state machine from the same
// storage, which is how the journal discards pre-applied primary state.
type Node struct {
    opts Options
    log  *log.Logger

    mu    sync.Mutex
    r     *raft.Raft
    bolt  *raftboltdb.BoltStore
    trans raft.Transport
    sm    c.StateMachine

    lc         atomic.Value // c.LifeCycle
    notifyCh   chan bool
    roleCh     chan c.Role
    priorities map[string]int
    callID     atomic.Uint64
}

func New(opts Options) (*Node, error) {
    if opts.LocalAddr == "" {
        return nil, fmt.Errorf("raftcons: empty LocalAddr")
    }
    if len(opts.ClusterAddrs) == 0 {
        return nil, fmt.Errorf("raftcons: empty ClusterAddrs")
    }
    if opts.NewStateMachine == nil {
        return nil, fmt.Errorf("raftcons: nil NewStateMachine")
    }
    found := false
    for _, a := range opts.ClusterAddrs {
        if a == opts.LocalAddr { found = true; break }
    }
    if !found {
        return nil, fmt.Errorf("raftcons: cluster addresses %v do not contain local address %s",
            opts.ClusterAddrs, opts.LocalAddr)
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    n := &Node{
        opts:       opts,
        log:        opts.Logger,
        notifyCh:   make(chan bool, 16),
        roleCh:     make(chan c.Role, 16),
        priorities: make(map[string]int),
    }
    n.lc.Store(c.LifeCycleNew)
    go n.forwardNotifications()
    return n, nil
}

// NextCallID returns a process-unique id for correlating raw engine calls in
// logs and traces.
func (n *Node) NextCallID() uint64 { return n.callID.Add(1) }

func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.r != nil {
        return nil
    }
    n.lc.Store(c.LifeCycleStarting)
    if err := n.initServer(); err != nil {
        n.lc.Store(c.LifeCycleNew)
        return err
    }
    n.lc.Store(c.LifeCycleRunning)
    go func() {
        <-ctx.Done()
        _ = n.Close()
    }()
    return nil
}

// initServer builds the stores, transport, state machine and raft instance.
// Caller holds n.mu.
func (n *Node) initServer() error {
    cfg := raft.DefaultConfig()
    cfg.LocalID = raft.ServerID(PeerID(n.opts.LocalAddr))
    cfg.LogOutput = n.log.Writer()
    cfg.NotifyCh = n.notifyCh

    heartbeat := n.opts.HeartbeatTimeout
    election := n.opts.ElectionTimeout
    if len(n.opts.ClusterAddrs) == 1 && election == 0 && heartbeat == 0 {
        // Speed up single-peer boot; there is nobody to race.
        logutil.Infof(n.log, "overriding election timeout to %s for single peer cluster",
            singlePeerElectionTimeout)
        election = singlePeerElectionTimeout
        heartbeat = singlePeerElectionTimeout
    }
    if heartbeat > 0 {
        cfg.HeartbeatTimeout = heartbeat
        if cfg.LeaderLeaseTimeout > heartbeat {
            cfg.LeaderLeaseTimeout = heartbeat / 2
        }
    }
    if election > 0 { cfg.ElectionTimeout = election }
    if n.opts.CommitTimeout > 0 { cfg.CommitTimeout = n.opts.CommitTimeout }
    if n.opts.LeaderLeaseTimeout > 0 { cfg.LeaderLeaseTimeout = n.opts.LeaderLeaseTimeout }
    if n.opts.SnapshotThreshold > 0 { cfg.SnapshotThreshold = n.opts.SnapshotThreshold }

    var (
        logs   raft.LogStore
        stable raft.StableStore
        snaps  raft.SnapshotStore
        trans  raft.Transport
        err    error
    )
    if n.opts.Dir != "" {
        if n.opts.SnapshotsRetained == 0 { n.opts.SnapshotsRetained = 3 }
        groupDir, err := prepareGroupDir(n.opts.Dir, n.log)
        if err != nil { return err }
        bstore, err := raftboltdb.NewBoltStore(filepath.Join(groupDir, "raft.db"))
        if err != nil { return err }
        n.bolt = bstore
        logs = bstore
        stable = bstore
        snaps, err = raft.NewFileSnapshotStore(groupDir, n.opts.SnapshotsRetained, n.log.Writer())
        if err != nil {
            _ = bstore.Close()
            n.bolt = nil
            return err
        }
        nt, err := raft.NewTCPTransport(n.opts.LocalAddr, nil, 3, 10*time.Second, n.log.Writer())
        if err != nil {
            _ = bstore.Close()
            n.bolt = nil
            return err
        }
        trans = nt
    } else {
        logs = raft.NewInmemStore()
        stable = raft.NewInmemStore()
        snaps = raft.NewInmemSnapshotStore()
        _, trans = raft.NewInmemTransport(raft.ServerAddress(n.opts.LocalAddr))
    }
    n.trans = trans

    n.sm = n.opts.NewStateMachine()
    fsm := newEngineFSM(n.sm)

    hasState, err := raft.HasExistingState(logs, stable, snaps)
    if err != nil {
        n.closeStores()
        return err
    }

    r, err := raft.NewRaft(cfg, fsm, logs, stable, snaps, trans)
    if err != nil {
        n.closeStores()
        return err
    }
    n.r = r

    if !hasState {
        servers := make([]raft.Server, 0, len(n.opts.ClusterAddrs))
        for _, addr := range n.opts.ClusterAddrs {
            servers = append(servers, raft.Server{
                ID:      raft.ServerID(PeerID(addr)),
                Address: raft.ServerAddress(addr),
            })
        }
        if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
            logutil.Warnf(n.log, "bootstrap skipped: %v", err)
        }
    }
    return nil
}

// prepareGroupDir resolves the engine-owned storage directory beneath the
// journal root, migrating the legacy layout (group uuid directly under the
// root) when present.
func prepareGroupDir(root string, l *log.Logger) (string, error) {
    base := filepath.Join(root, "raft")
    groupDir := filepath.Join(base, groupUUID.String())
    legacy := filepath.Join(root, groupUUID.String())
    if fi, err := os.Stat(legacy); err == nil && fi.IsDir() {
        if _, err := os.Stat(base); os.IsNotExist(err) {
            logutil.Infof(l, "legacy journal layout detected at %s, moving to %s", legacy, groupDir)
            if err := os.MkdirAll(base, 0o755); err != nil {
                return "", fmt.Errorf("raftcons: create journal directory %s: %w", base, err)
            }
            if err := os.Rename(legacy, groupDir); err != nil {
                return "", fmt.Errorf("raftcons: migrate journal from %s: %w", legacy, err)
            }
        }
    }
    if err := os.MkdirAll(groupDir, 0o755); err != nil {
        return "", fmt.Errorf("raftcons: create journal directory %s: %w", groupDir, err)
    }
    return groupDir, nil
}

// closeStores releases storage and transport handles. Caller holds n.mu.
func (n *Node) closeStores() {
    if n.bolt != nil {
        _ = n.bolt.Close()
        n.bolt = nil
    }
    if nt, ok := n.trans.(*raft.NetworkTransport); ok {
        _ = nt.Close()
    }
    n.trans = nil
}

func (n *Node) forwardNotifications() {
    for isLeader := range n.notifyCh {
        role := c.RoleStandby
        if isLeader { role = c.RolePrimary }
        select {
        case n.roleCh <- role:
        default:
            // drop: the coordinator only cares about the latest transition
            // and re-checks IsLeader before acting
        }
    }
}

func (n *Node) PrimacyCh() <-chan c.Role { return n.roleCh }

func (n *Node) LifeCycle() c.LifeCycle {
    v, _ := n.lc.Load().(c.LifeCycle)
    return v
}

// StateMachine returns the machine registered with the current raft
// instance. It changes on Restart.
func (n *Node) StateMachine() c.StateMachine {
    n.mu.Lock()
    defer n.mu.Unlock()
    return n.sm
}

func (n *Node) Append(payload []byte, timeout time.Duration) (c.CommitFuture, error) {
    n.mu.Lock()
    r := n.r
    n.mu.Unlock()
    if r == nil {
        return nil, c.ErrNotStarted
    }
    if r.State() != raft.Leader {
        return nil, c.ErrNotLeader
    }
    if timeout <= 0 {
        timeout = n.opts.ApplyTimeout
    }
    return &commitFuture{af: r.Apply(payload, timeout)}, nil
}

type commitFuture struct {
    af raft.ApplyFuture
}

func (f *commitFuture) Await(ctx context.Context) (uint64, error) {
    done := make(chan error, 1)
    go func() { done <- f.af.Error() }()
    select {
    case err := <-done:
        if err != nil {
            return 0, mapRaftError(err)
        }
        return f.af.Index(), nil
    case <-ctx.Done():
        return 0, ctx.Err()
    }
}

func mapRaftError(err error) error {
    switch err {
    case nil:
        return nil
    case raft.ErrNotLeader, raft.ErrLeadershipLost, raft.ErrLeadershipTransferInProgress:
        return fmt.Errorf("%w: %v", c.ErrNotLeader, err)
    case raft.ErrEnqueueTimeout:
        return fmt.Errorf("%w: %v", c.ErrLeaderNotReady, err)
    default:
        return err
    }
}

func (n *Node) Snapshot() error {
    n.mu.Lock()
    r := n.r
    n.mu.Unlock()
    if r == nil {
        return c.ErrNotStarted
    }
    if err := r.Snapshot().Error(); err != nil && err != raft.ErrNothingNewToSnapshot {
        return err
    }
    return nil
}

func (n *Node) IsLeader() bool {
    n.mu.Lock()
    r := n.r
    n.mu.Unlock()
    return r != nil && r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
    n.mu.Lock()
    r := n.r
    n.mu.Unlock()
    if r == nil {
        return "", "", false
    }
    a, sid := r.LeaderWithID()
    if sid == "" {
        return "", "", false
    }
    return string(sid), string(a), true
}

func (n *Node) Term() uint64 {
    n.mu.Lock()
    r := n.r
    n.mu.Unlock()
    if r == nil {
        return 0
    }
    return statUint(r.Stats(), "term")
}

func statUint(stats map[string]string, key string) uint64 {
    if v := stats[key]; v != "" {
        if u, err := strconv.ParseUint(v, 10, 64); err == nil {
            return u
        }
    }
    return 0
}

func (n *Node) GroupInfo(ctx context.Context) (*c.GroupInfo, error) {
    n.mu.Lock()
    r := n.r
    prios := make(map[string]int, len(n.priorities))
    for k, v := range n.priorities { prios[k] = v }
    n.mu.Unlock()
    if r == nil {
        return nil, c.ErrNotStarted
    }
    cf := r.GetConfiguration()
    if err := cf.Error(); err != nil {
        return nil, err
    }
    stats := r.Stats()
    _, leaderID := r.LeaderWithID()
    gi := &c.GroupInfo{
        Role:         c.RoleStandby,
        Term:         statUint(stats, "term"),
        LeaderID:     string(leaderID),
        CommitIndex:  statUint(stats, "commit_index"),
        AppliedIndex: statUint(stats, "applied_index"),
    }
    if r.State() == raft.Leader {
        gi.Role = c.RolePrimary
    }
    for _, srv := range cf.Configuration().Servers {
        prio := prios[string(srv.ID)]
        if prio == 0 { prio = 1 }
        gi.Peers = append(gi.Peers, c.PeerInfo{
            Peer: c.Peer{
                ID:       string(srv.ID),
                Addr:     string(srv.Address),
                Priority: prio,
            },
            IsLeader: srv.ID == leaderID,
            State:    c.PeerAvailable,
        })
    }
    return gi, nil
}

// SetConfiguration reconciles the raft member set with peers and records the
// requested election priorities. Raft has no native priorities; recording
// them keeps the operator protocol (reset, raise-then-transfer) observable.
func (n *Node) SetConfiguration(ctx context.Context, peers []c.Peer) error {
    n.mu.Lock()
    r := n.r
    n.mu.Unlock()
    if r == nil {
        return c.ErrNotStarted
    }
    cf := r.GetConfiguration()
    if err := cf.Error(); err != nil {
        return err
    }
    current := cf.Configuration().Servers

    desired := make(map[string]c.Peer, len(peers))
    for _, p := range peers {
        id := p.ID
        if id == "" { id = PeerID(p.Addr) }
        p.ID = id
        desired[id] = p
    }

    timeout := remaining(ctx)
    for _, srv := range current {
        if _, ok := desired[string(srv.ID)]; !ok {
            if err := r.RemoveServer(srv.ID, 0, timeout).Error(); err != nil {
                return mapRaftError(err)
            }
        }
    }
    have := make(map[string]raft.Server, len(current))
    for _, srv := range current { have[string(srv.ID)] = srv }
    for id, p := range desired {
        if srv, ok := have[id]; ok && string(srv.Address) == p.Addr {
            continue
        }
        if err := r.AddVoter(raft.ServerID(id), raft.ServerAddress(p.Addr), 0, timeout).Error(); err != nil {
            return mapRaftError(err)
        }
    }

    n.mu.Lock()
    n.priorities = make(map[string]int, len(desired))
    for id, p := range desired {
        prio := p.Priority
        if prio == 0 { prio = 1 }
        n.priorities[id] = prio
    }
    n.mu.Unlock()
    return nil
}

func remaining(ctx context.Context) time.Duration {
    if dl, ok := ctx.Deadline(); ok {
        if d := time.Until(dl); d > 0 {
            return d
        }
        return time.Millisecond
    }
    return 10 * time.Second
}

func (n *Node) TransferLeadership(ctx context.Context, targetID string, wait time.Duration) error {
    n.mu.Lock()
    r := n.r
    n.mu.Unlock()
    if r == nil {
        return c.ErrNotStarted
    }
    cf := r.GetConfiguration()
    if err := cf.Error(); err != nil {
        return err
    }
    var addr raft.ServerAddress
    for _, srv := range cf.Configuration().Servers {
        if string(srv.ID) == targetID {
            addr = srv.Address
            break
        }
    }
    if addr == "" {
        return fmt.Errorf("raftcons: %s is not part of the quorum", targetID)
    }
    fut := r.LeadershipTransferToServer(raft.ServerID(targetID), addr)
    done := make(chan error, 1)
    go func() { done <- fut.Error() }()
    timer := time.NewTimer(wait)
    defer timer.Stop()
    select {
    case err := <-done:
        return mapRaftError(err)
    case <-timer.C:
        return fmt.Errorf("raftcons: leadership transfer to %s timed out after %s", targetID, wait)
    case <-ctx.Done():
        return ctx.Err()
    }
}

// Restart fully shuts the raft instance down and re-initializes it with the
// same cluster configuration and storage. The state machine is rebuilt from
// scratch, so it replays from the latest snapshot plus the log.
func (n *Node) Restart(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.r == nil {
        return c.ErrNotStarted
    }
    n.lc.Store(c.LifeCycleClosing)
    if err := n.r.Shutdown().Error(); err != nil {
        n.lc.Store(c.LifeCycleClosed)
        return fmt.Errorf("raftcons: shutdown before restart: %w", err)
    }
    n.r = nil
    n.closeStores()
    n.lc.Store(c.LifeCycleStarting)
    if err := n.initServer(); err != nil {
        n.lc.Store(c.LifeCycleClosed)
        return fmt.Errorf("raftcons: restart: %w", err)
    }
    n.lc.Store(c.LifeCycleRunning)
    return nil
}

func (n *Node) Close() error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.r == nil {
        return nil
    }
    n.lc.Store(c.LifeCycleClosing)
    err := n.r.Shutdown().Error()
    n.r = nil
    n.closeStores()
    n.lc.Store(c.LifeCycleClosed)
    return err
}

// Ensure interface compliance.
var _ c.Engine = (*Node)(nil)
var _ c.PrimacyNotifier = (*Node)(nil)
