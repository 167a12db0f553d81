//go:build integration

package integration

import (
    "context"
    "encoding/json"
    "log"
    "testing"
    "time"

    "github.com/amirimatin/go-raft-journal/pkg/bootstrap"
    "github.com/amirimatin/go-raft-journal/pkg/journal"
    "github.com/amirimatin/go-raft-journal/pkg/journal/journaltest"
)

// node bundles a running journal node with its demo kv master and journal
// handle for test assertions.
type node struct {
    n  *bootstrap.Node
    kv *journaltest.KVMaster
    j  *journal.Journal
}

func buildNode(t *testing.T, ctx context.Context, raftAddr, clusterCSV, dir, memBind, seedsCSV string) *node {
    t.Helper()
    bn, err := bootstrap.Build(bootstrap.Config{
        RaftAddr:   raftAddr,
        ClusterCSV: clusterCSV,
        JournalDir: dir,
        MemBind:    memBind,
        SeedsCSV:   seedsCSV,
        Logger:     log.Default(),
    })
    if err != nil { t.Fatalf("build %s: %v", raftAddr, err) }
    kv := journaltest.NewKVMaster("kv")
    j := bn.System.CreateJournal(kv)
    if err := bn.Start(ctx); err != nil { t.Fatalf("start %s: %v", raftAddr, err) }
    return &node{n: bn, kv: kv, j: j}
}

func appendMutation(t *testing.T, ctx context.Context, nd *node, key, value string) int64 {
    t.Helper()
    mut := journaltest.Mutation{Op: "put", Key: key, Value: value}
    if err := nd.kv.ApplyLocal(mut); err != nil { t.Fatalf("apply local: %v", err) }
    payload, _ := json.Marshal(mut)
    sn, err := nd.j.Append(ctx, payload)
    if err != nil { t.Fatalf("append %s: %v", key, err) }
    return sn
}

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    for time.Now().Before(deadline) {
        if cond() {
            return
        }
        time.Sleep(50 * time.Millisecond)
    }
    t.Fatalf("timed out waiting for %s", what)
}

// waitForPrimary waits until one of the nodes serves as primary and returns
// the index of the first serving node found.
func waitForPrimary(t *testing.T, timeout time.Duration, nodes ...*node) int {
    t.Helper()
    var leader int
    waitUntil(t, timeout, "a primary to emerge", func() bool {
        for i, nd := range nodes {
            if nd != nil && nd.n.System.IsServing() {
                leader = i
                return true
            }
        }
        return false
    })
    return leader
}
