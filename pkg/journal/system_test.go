package journal

import (
    "context"
    "encoding/binary"
    "errors"
    "log"
    "strings"
    "sync/atomic"
    "testing"
    "time"

    "github.com/benbjohnson/clock"

    c "github.com/amirimatin/go-raft-journal/pkg/consensus"
)

func newTestSystem(t *testing.T, opts ...func(*Options)) (*System, *fakeEngine) {
    t.Helper()
    o := Options{
        Dir:                t.TempDir(),
        LocalAddr:          "a:1",
        Logger:             log.Default(),
        CatchupRetryWait:   5 * time.Millisecond,
        MaxElectionTimeout: 200 * time.Millisecond,
    }
    for _, f := range opts {
        f(&o)
    }
    s, err := New(o)
    if err != nil { t.Fatalf("new system: %v", err) }
    e := newFakeEngine(s.NewStateMachine)
    e.peers = []c.PeerInfo{
        {Peer: c.Peer{ID: "a_1", Addr: "a:1", Priority: 1}, IsLeader: true, State: c.PeerAvailable},
        {Peer: c.Peer{ID: "b_2", Addr: "b:2", Priority: 1}, State: c.PeerAvailable},
        {Peer: c.Peer{ID: "c_3", Addr: "c:3", Priority: 1}, State: c.PeerAvailable},
    }
    s.SetEngine(e)
    return s, e
}

func leaderEngine(e *fakeEngine) {
    e.mu.Lock()
    e.leader = true
    e.lc = c.LifeCycleRunning
    e.mu.Unlock()
}

func TestSystem_GainPrimacy(t *testing.T) {
    s, e := newTestSystem(t)
    m := &recordingMaster{name: "fs"}
    j := s.CreateJournal(m)

    // Standby replay before the election.
    for i := 0; i < 3; i++ {
        data := mustEncode(t, Entry{SN: int64(i), Target: "fs", Payload: []byte("p")})
        e.inject(data)
    }
    leaderEngine(e)

    if err := s.gainPrimacy(context.Background()); err != nil {
        t.Fatalf("gainPrimacy: %v", err)
    }
    if !s.serving.Load() || !s.transferAllowed.Load() {
        t.Fatalf("serving/transferAllowed not set after gaining primacy")
    }
    if s.gate.Allowed() {
        t.Fatalf("snapshots must be prohibited on a serving primary")
    }

    // The writer continues the SN space where replay stopped.
    sn, err := j.Append(context.Background(), []byte("new"))
    if err != nil { t.Fatalf("append: %v", err) }
    if sn != 3 {
        t.Fatalf("first primary SN = %d, want 3", sn)
    }
    // Pre-apply: the committed entry must not be replayed into the master.
    if m.appliedCount() != 3 {
        t.Fatalf("primary re-applied its own entry: %d applies", m.appliedCount())
    }
}

func TestSystem_CatchUpRetriesOnContention(t *testing.T) {
    s, e := newTestSystem(t)
    s.CreateJournal(&recordingMaster{name: "fs"})
    leaderEngine(e)

    var rounds atomic.Int32
    e.afterApply = func(e *fakeEngine, payload []byte) {
        entry, err := DecodeEntry(payload)
        if err != nil || !entry.IsSentinel() {
            return
        }
        if rounds.Add(1) == 1 {
            // A contender's sentinel lands right after ours; catch-up must
            // restart with a fresh sentinel.
            foreign := make([]byte, entryHeaderSize)
            foreignID := int64(-12345)
            binary.BigEndian.PutUint64(foreign[0:8], uint64(foreignID))
            e.inject(foreign)
        }
    }

    if err := s.gainPrimacy(context.Background()); err != nil {
        t.Fatalf("gainPrimacy: %v", err)
    }
    if got := rounds.Load(); got < 2 {
        t.Fatalf("catch-up did not retry after contention: %d rounds", got)
    }
}

func TestSystem_CatchUpAbortsWhenDemoted(t *testing.T) {
    s, e := newTestSystem(t)
    leaderEngine(e)
    e.mu.Lock()
    e.leader = false
    e.mu.Unlock()
    if err := s.catchUp(context.Background()); !errors.Is(err, ErrPrimacyLost) {
        t.Fatalf("catchUp = %v, want ErrPrimacyLost", err)
    }
}

func TestSystem_LosePrimacyRestartsEngine(t *testing.T) {
    s, e := newTestSystem(t)
    s.CreateJournal(&recordingMaster{name: "fs"})
    leaderEngine(e)
    if err := s.gainPrimacy(context.Background()); err != nil {
        t.Fatalf("gainPrimacy: %v", err)
    }
    oldSM := s.StateMachine()

    s.losePrimacy(context.Background())
    if e.restarts != 1 {
        t.Fatalf("engine restarts = %d, want 1", e.restarts)
    }
    if s.serving.Load() || s.transferAllowed.Load() {
        t.Fatalf("serving/transferAllowed still set after losing primacy")
    }
    if s.asyncWriter() != nil {
        t.Fatalf("async writer still published after losing primacy")
    }
    if !s.gate.Allowed() {
        t.Fatalf("snapshots must be allowed again on a standby")
    }
    if s.StateMachine() == oldSM {
        t.Fatalf("state machine was not replaced by the restart")
    }
}

func TestSystem_PrimacyLoopEndToEnd(t *testing.T) {
    s, e := newTestSystem(t)
    m := &recordingMaster{name: "fs"}
    j := s.CreateJournal(m)

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    if err := s.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer s.Close()

    e.setLeader(true)
    waitUntil(t, 2*time.Second, func() bool { return s.serving.Load() })

    if _, err := j.Append(ctx, []byte("x")); err != nil {
        t.Fatalf("append on primary: %v", err)
    }

    e.setLeader(false)
    waitUntil(t, 2*time.Second, func() bool { return !s.serving.Load() && e.restarts == 1 })

    if _, err := j.Append(ctx, []byte("y")); !errors.Is(err, ErrNotPrimary) {
        t.Fatalf("append on standby = %v, want ErrNotPrimary", err)
    }
}

func TestSystem_CurrentSequenceNumbers(t *testing.T) {
    s, e := newTestSystem(t)
    s.CreateJournal(&recordingMaster{name: "fs"})
    s.CreateJournal(&recordingMaster{name: "block"})

    e.inject(mustEncode(t, Entry{SN: 0, Target: "fs", Payload: []byte("p")}))
    e.inject(mustEncode(t, Entry{SN: 1, Target: "block", Payload: []byte("p")}))

    sns := s.CurrentSequenceNumbers()
    if len(sns) != 2 {
        t.Fatalf("got %d journals, want 2", len(sns))
    }
    // The log is one stream: every journal reports the same global SN.
    for name, sn := range sns {
        if sn != 1 {
            t.Fatalf("journal %s SN = %d, want 1", name, sn)
        }
    }
}

func TestSystem_SuspendResumePolicy(t *testing.T) {
    s, _ := newTestSystem(t)
    s.CreateJournal(&recordingMaster{name: "fs"})

    if err := s.Suspend(nil); err != nil {
        t.Fatalf("suspend: %v", err)
    }
    if s.gate.Allowed() {
        t.Fatalf("snapshots must be prohibited while suspended")
    }
    if !s.IsSuspended() {
        t.Fatalf("IsSuspended = false during suspension")
    }
    if err := s.Resume(); err != nil {
        t.Fatalf("resume: %v", err)
    }
    if !s.gate.Allowed() {
        t.Fatalf("snapshots must be allowed again on a resumed standby")
    }
}

func TestSystem_FormatAndIsFormatted(t *testing.T) {
    s, _ := newTestSystem(t)
    if !s.IsFormatted() {
        t.Fatalf("temp dir should count as formatted")
    }
    if err := s.Format(); err != nil {
        t.Fatalf("format: %v", err)
    }
    // Formatting a missing directory recreates it.
    s2, err := New(Options{Dir: s.opts.Dir + "/sub", LocalAddr: "a:1", Logger: log.Default()})
    if err != nil { t.Fatalf("new: %v", err) }
    if s2.IsFormatted() {
        t.Fatalf("missing dir reported as formatted")
    }
    if err := s2.Format(); err != nil {
        t.Fatalf("format: %v", err)
    }
    if !s2.IsFormatted() {
        t.Fatalf("dir missing after format")
    }
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    for time.Now().Before(deadline) {
        if cond() {
            return
        }
        time.Sleep(5 * time.Millisecond)
    }
    t.Fatalf("condition not met within %s", timeout)
}

func TestSystem_TransferLeadership(t *testing.T) {
    mock := clock.NewMock()
    s, e := newTestSystem(t, func(o *Options) { o.Clock = mock })
    s.CreateJournal(&recordingMaster{name: "fs"})
    leaderEngine(e)
    if err := s.gainPrimacy(context.Background()); err != nil {
        t.Fatalf("gainPrimacy: %v", err)
    }

    ctx := context.Background()
    id := s.TransferLeadership(ctx, "b:2")
    if id == "" {
        t.Fatalf("empty transfer id")
    }
    if msg := s.TransferLeaderMessage(id); msg != "" {
        t.Fatalf("unexpected early diagnostic: %q", msg)
    }

    // A second transfer while one is in flight is rejected with a message.
    id2 := s.TransferLeadership(ctx, "c:3")
    msg := s.TransferLeaderMessage(id2)
    if !strings.Contains(msg, "transfer is not allowed at the moment") {
        t.Fatalf("second transfer message = %q", msg)
    }

    // Fire the delayed transfer.
    deadline := time.Now().Add(2 * time.Second)
    for e.transferCount() == 0 && time.Now().Before(deadline) {
        mock.Add(time.Second)
        time.Sleep(time.Millisecond)
    }
    if e.transferCount() == 0 {
        t.Fatalf("transfer was never issued to the engine")
    }
    if msg := s.TransferLeaderMessage(id); msg != "" {
        t.Fatalf("success-path diagnostic = %q, want empty", msg)
    }
}

func TestSystem_TransferLeadershipValidation(t *testing.T) {
    s, e := newTestSystem(t)
    s.CreateJournal(&recordingMaster{name: "fs"})
    leaderEngine(e)
    if err := s.gainPrimacy(context.Background()); err != nil {
        t.Fatalf("gainPrimacy: %v", err)
    }

    ctx := context.Background()
    id := s.TransferLeadership(ctx, "nobody:9")
    if msg := s.TransferLeaderMessage(id); !strings.Contains(msg, "not part of the quorum") {
        t.Fatalf("unknown target message = %q", msg)
    }
    // The failed validation restores the transfer gate.
    if !s.transferAllowed.Load() {
        t.Fatalf("transfer gate not restored after rejected target")
    }

    id = s.TransferLeadership(ctx, "a:1")
    if msg := s.TransferLeaderMessage(id); !strings.Contains(msg, "already the leader") {
        t.Fatalf("self target message = %q", msg)
    }
}

func TestSystem_TransferLeadershipFailureRestoresGate(t *testing.T) {
    mock := clock.NewMock()
    s, e := newTestSystem(t, func(o *Options) { o.Clock = mock })
    s.CreateJournal(&recordingMaster{name: "fs"})
    leaderEngine(e)
    if err := s.gainPrimacy(context.Background()); err != nil {
        t.Fatalf("gainPrimacy: %v", err)
    }
    e.mu.Lock()
    e.transferErr = errors.New("election failed")
    e.mu.Unlock()

    id := s.TransferLeadership(context.Background(), "b:2")
    deadline := time.Now().Add(2 * time.Second)
    for s.TransferLeaderMessage(id) == "" && time.Now().Before(deadline) {
        mock.Add(time.Second)
        time.Sleep(time.Millisecond)
    }
    if msg := s.TransferLeaderMessage(id); !strings.Contains(msg, "election failed") {
        t.Fatalf("failure diagnostic = %q", msg)
    }
    if !s.transferAllowed.Load() {
        t.Fatalf("transfer gate not restored after failed transfer")
    }
}

func TestSystem_AddQuorumServer(t *testing.T) {
    s, e := newTestSystem(t)
    ctx := context.Background()

    // Adding a present member is a no-op.
    if err := s.AddQuorumServer(ctx, "b:2"); err != nil {
        t.Fatalf("idempotent add: %v", err)
    }
    if len(e.configs) != 0 {
        t.Fatalf("idempotent add issued a membership change")
    }

    if err := s.AddQuorumServer(ctx, "d:4"); err != nil {
        t.Fatalf("add: %v", err)
    }
    if len(e.configs) != 1 {
        t.Fatalf("add issued %d membership changes, want 1", len(e.configs))
    }
    found := false
    for _, p := range e.configs[0] {
        if p.Addr == "d:4" { found = true }
    }
    if !found {
        t.Fatalf("new peer missing from membership change: %+v", e.configs[0])
    }
}

func TestSystem_RemoveQuorumServer(t *testing.T) {
    s, e := newTestSystem(t)
    ctx := context.Background()

    // Unknown peers default to available, so removal is refused.
    if err := s.RemoveQuorumServer(ctx, "c:3"); !errors.Is(err, ErrPeerAvailable) {
        t.Fatalf("remove available peer = %v, want ErrPeerAvailable", err)
    }

    s.avail.mu.Lock()
    s.avail.m["c_3"] = false
    s.avail.mu.Unlock()
    if err := s.RemoveQuorumServer(ctx, "c:3"); err != nil {
        t.Fatalf("remove: %v", err)
    }
    last := e.configs[len(e.configs)-1]
    for _, p := range last {
        if p.Addr == "c:3" {
            t.Fatalf("removed peer still present: %+v", last)
        }
    }

    if err := s.RemoveQuorumServer(ctx, "nobody:9"); err == nil {
        t.Fatalf("expected error removing unknown peer")
    }
}

func TestSystem_ResetPriorities(t *testing.T) {
    s, e := newTestSystem(t)
    e.mu.Lock()
    e.peers[1].Priority = 5
    e.mu.Unlock()

    if err := s.ResetPriorities(context.Background()); err != nil {
        t.Fatalf("reset: %v", err)
    }
    last := e.configs[len(e.configs)-1]
    for _, p := range last {
        if p.Priority != 1 {
            t.Fatalf("peer %s priority = %d, want 1", p.ID, p.Priority)
        }
    }
}

func TestSystem_QuorumServerInfoAvailabilityOverlay(t *testing.T) {
    s, _ := newTestSystem(t)
    s.avail.mu.Lock()
    s.avail.m["b_2"] = false
    s.avail.mu.Unlock()

    peers, err := s.QuorumServerInfo(context.Background())
    if err != nil { t.Fatalf("quorum info: %v", err) }
    for _, p := range peers {
        want := c.PeerAvailable
        if p.ID == "b_2" { want = c.PeerUnavailable }
        if p.State != want {
            t.Fatalf("peer %s state = %s, want %s", p.ID, p.State, want)
        }
    }
}
