package raftcons

import (
    "context"
    "io"
    "os"
    "path/filepath"
    "sync"
    "testing"
    "time"

    c "github.com/amirimatin/go-raft-journal/pkg/consensus"
)

// collectSM accumulates applied payloads for inspection.
type collectSM struct {
    mu      sync.Mutex
    applied [][]byte
}

func (s *collectSM) Apply(_ uint64, payload []byte) {
    s.mu.Lock()
    s.applied = append(s.applied, append([]byte(nil), payload...))
    s.mu.Unlock()
}
func (s *collectSM) SaveSnapshot(w io.Writer) error    { return nil }
func (s *collectSM) RestoreSnapshot(r io.Reader) error { return nil }
func (s *collectSM) SnapshotAllowed() bool             { return true }

func (s *collectSM) count() int {
    s.mu.Lock()
    defer s.mu.Unlock()
    return len(s.applied)
}

func TestPeerID(t *testing.T) {
    if got := PeerID("127.0.0.1:9520"); got != "127.0.0.1_9520" {
        t.Fatalf("PeerID = %q", got)
    }
}

func TestRaft_SinglePeerLeadershipAndAppend(t *testing.T) {
    sm := &collectSM{}
    n, err := New(Options{
        LocalAddr:       "node1",
        ClusterAddrs:    []string{"node1"},
        NewStateMachine: func() c.StateMachine { return sm },
        ApplyTimeout:    2 * time.Second,
    })
    if err != nil { t.Fatalf("new: %v", err) }

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    if err := n.Start(ctx); err != nil { t.Fatalf("start: %v", err) }
    defer n.Close()

    if got := n.LifeCycle(); got != c.LifeCycleRunning {
        t.Fatalf("lifecycle = %s, want running", got)
    }

    // Wait until the single peer elects itself.
    deadline := time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        if n.IsLeader() { break }
        time.Sleep(50 * time.Millisecond)
    }
    if !n.IsLeader() { t.Fatalf("node did not become leader in time") }

    // Primacy notification should have fired.
    select {
    case role := <-n.PrimacyCh():
        if role != c.RolePrimary {
            t.Fatalf("role = %s, want PRIMARY", role)
        }
    case <-time.After(2 * time.Second):
        t.Fatalf("timed out waiting for primacy notification")
    }

    f, err := n.Append([]byte("hello"), 2*time.Second)
    if err != nil { t.Fatalf("append: %v", err) }
    if _, err := f.Await(ctx); err != nil { t.Fatalf("await: %v", err) }

    deadline = time.Now().Add(2 * time.Second)
    for sm.count() == 0 && time.Now().Before(deadline) {
        time.Sleep(10 * time.Millisecond)
    }
    if sm.count() != 1 {
        t.Fatalf("state machine saw %d applies, want 1", sm.count())
    }

    gi, err := n.GroupInfo(ctx)
    if err != nil { t.Fatalf("group info: %v", err) }
    if gi.Role != c.RolePrimary || len(gi.Peers) != 1 {
        t.Fatalf("group info = %+v", gi)
    }
}

func TestRaft_AppendBeforeStartFails(t *testing.T) {
    n, err := New(Options{
        LocalAddr:       "node1",
        ClusterAddrs:    []string{"node1", "node2", "node3"},
        NewStateMachine: func() c.StateMachine { return &collectSM{} },
    })
    if err != nil { t.Fatalf("new: %v", err) }
    if _, err := n.Append([]byte("x"), time.Second); err != c.ErrNotStarted {
        t.Fatalf("append before start = %v, want ErrNotStarted", err)
    }
}

func TestPrepareGroupDir_MigratesLegacyLayout(t *testing.T) {
    root := t.TempDir()
    legacy := filepath.Join(root, groupUUID.String())
    if err := os.MkdirAll(legacy, 0o755); err != nil { t.Fatal(err) }
    marker := filepath.Join(legacy, "raft.db")
    if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil { t.Fatal(err) }

    groupDir, err := prepareGroupDir(root, nil)
    if err != nil { t.Fatalf("prepare: %v", err) }
    want := filepath.Join(root, "raft", groupUUID.String())
    if groupDir != want {
        t.Fatalf("group dir = %s, want %s", groupDir, want)
    }
    if _, err := os.Stat(filepath.Join(want, "raft.db")); err != nil {
        t.Fatalf("legacy contents not migrated: %v", err)
    }
    if _, err := os.Stat(legacy); !os.IsNotExist(err) {
        t.Fatalf("legacy dir still present")
    }
}

func TestPrepareGroupDir_FreshLayout(t *testing.T) {
    root := t.TempDir()
    groupDir, err := prepareGroupDir(root, nil)
    if err != nil { t.Fatalf("prepare: %v", err) }
    fi, err := os.Stat(groupDir)
    if err != nil || !fi.IsDir() {
        t.Fatalf("group dir missing: %v", err)
    }
}
