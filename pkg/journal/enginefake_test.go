package journal

import (
    "context"
    "sync"
    "time"

    c "github.com/amirimatin/go-raft-journal/pkg/consensus"
)

// fakeEngine is an in-process consensus.Engine: appends commit immediately
// (or under manual control) and apply straight into the registered state
// machine, which is exactly the ordering contract the real engine provides.
type fakeEngine struct {
    mu        sync.Mutex
    newSM     func() c.StateMachine
    sm        c.StateMachine
    leader    bool
    lc        c.LifeCycle
    index     uint64
    roleCh    chan c.Role
    restarts  int
    manual    bool
    pending   []*fakeFuture
    afterApply func(e *fakeEngine, payload []byte)
    appendErr  error
    transferErr error
    transfers  []string
    peers      []c.PeerInfo
    configs    [][]c.Peer
}

type fakeFuture struct {
    e       *fakeEngine
    payload []byte
    done    chan struct{}
    err     error
    index   uint64
}

func newFakeEngine(newSM func() c.StateMachine) *fakeEngine {
    e := &fakeEngine{newSM: newSM, lc: c.LifeCycleNew, roleCh: make(chan c.Role, 16)}
    e.sm = newSM()
    return e
}

func (e *fakeEngine) setLeader(v bool) {
    e.mu.Lock()
    e.leader = v
    e.mu.Unlock()
    if v {
        e.roleCh <- c.RolePrimary
    } else {
        e.roleCh <- c.RoleStandby
    }
}

func (e *fakeEngine) Start(ctx context.Context) error {
    e.mu.Lock()
    e.lc = c.LifeCycleRunning
    e.mu.Unlock()
    return nil
}

func (e *fakeEngine) Close() error {
    e.mu.Lock()
    e.lc = c.LifeCycleClosed
    e.mu.Unlock()
    return nil
}

func (e *fakeEngine) Restart(ctx context.Context) error {
    e.mu.Lock()
    e.restarts++
    e.sm = e.newSM()
    e.leader = false
    e.lc = c.LifeCycleRunning
    e.mu.Unlock()
    return nil
}

func (e *fakeEngine) LifeCycle() c.LifeCycle {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.lc
}

func (e *fakeEngine) Append(payload []byte, timeout time.Duration) (c.CommitFuture, error) {
    e.mu.Lock()
    if !e.leader {
        e.mu.Unlock()
        return nil, c.ErrNotLeader
    }
    if err := e.appendErr; err != nil {
        e.appendErr = nil
        e.mu.Unlock()
        return nil, err
    }
    f := &fakeFuture{e: e, payload: append([]byte(nil), payload...), done: make(chan struct{})}
    if e.manual {
        e.pending = append(e.pending, f)
        e.mu.Unlock()
        return f, nil
    }
    e.mu.Unlock()
    e.commit(f, nil)
    return f, nil
}

// commit applies the payload and resolves the future.
func (e *fakeEngine) commit(f *fakeFuture, err error) {
    if err == nil {
        e.mu.Lock()
        e.index++
        f.index = e.index
        sm := e.sm
        hook := e.afterApply
        e.mu.Unlock()
        sm.Apply(f.index, f.payload)
        if hook != nil {
            hook(e, f.payload)
        }
    }
    f.err = err
    close(f.done)
}

// inject applies a payload committed by someone else (a contender).
func (e *fakeEngine) inject(payload []byte) {
    e.mu.Lock()
    e.index++
    idx := e.index
    sm := e.sm
    e.mu.Unlock()
    sm.Apply(idx, payload)
}

// completeNext resolves the oldest pending manual append.
func (e *fakeEngine) completeNext(err error) bool {
    e.mu.Lock()
    if len(e.pending) == 0 {
        e.mu.Unlock()
        return false
    }
    f := e.pending[0]
    e.pending = e.pending[1:]
    e.mu.Unlock()
    e.commit(f, err)
    return true
}

func (f *fakeFuture) Await(ctx context.Context) (uint64, error) {
    select {
    case <-f.done:
        return f.index, f.err
    case <-ctx.Done():
        return 0, ctx.Err()
    }
}

func (e *fakeEngine) Snapshot() error { return nil }

func (e *fakeEngine) IsLeader() bool {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.leader
}

func (e *fakeEngine) Leader() (string, string, bool) {
    e.mu.Lock()
    defer e.mu.Unlock()
    for _, p := range e.peers {
        if p.IsLeader {
            return p.ID, p.Addr, true
        }
    }
    return "", "", false
}

func (e *fakeEngine) Term() uint64 { return 1 }

func (e *fakeEngine) GroupInfo(ctx context.Context) (*c.GroupInfo, error) {
    e.mu.Lock()
    defer e.mu.Unlock()
    gi := &c.GroupInfo{Role: c.RoleStandby, Term: 1, CommitIndex: e.index, AppliedIndex: e.index}
    if e.leader {
        gi.Role = c.RolePrimary
    }
    gi.Peers = append(gi.Peers, e.peers...)
    return gi, nil
}

func (e *fakeEngine) SetConfiguration(ctx context.Context, peers []c.Peer) error {
    e.mu.Lock()
    defer e.mu.Unlock()
    e.configs = append(e.configs, peers)
    next := make([]c.PeerInfo, 0, len(peers))
    for _, p := range peers {
        info := c.PeerInfo{Peer: p, State: c.PeerAvailable}
        for _, old := range e.peers {
            if old.ID == p.ID {
                info.IsLeader = old.IsLeader
            }
        }
        next = append(next, info)
    }
    e.peers = next
    return nil
}

func (e *fakeEngine) TransferLeadership(ctx context.Context, targetID string, wait time.Duration) error {
    e.mu.Lock()
    defer e.mu.Unlock()
    e.transfers = append(e.transfers, targetID)
    return e.transferErr
}

func (e *fakeEngine) PrimacyCh() <-chan c.Role { return e.roleCh }

func (e *fakeEngine) transferCount() int {
    e.mu.Lock()
    defer e.mu.Unlock()
    return len(e.transfers)
}

var _ c.Engine = (*fakeEngine)(nil)
var _ c.PrimacyNotifier = (*fakeEngine)(nil)
