package main

import (
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/amirimatin/go-raft-journal/pkg/bootstrap"
    "github.com/amirimatin/go-raft-journal/pkg/journal/journaltest"
)

func main() {
    var (
        raftAddr = flag.String("raft-addr", "127.0.0.1:9520", "raft bind addr")
        dataDir  = flag.String("data", "", "journal root directory (required)")
        entries  = flag.Int("entries", 10, "number of demo entries to append")
    )
    flag.Parse()
    if *dataDir == "" { log.Fatal("missing -data") }

    ctx, cancel := signalContext()
    defer cancel()

    n, err := bootstrap.Build(bootstrap.Config{
        RaftAddr:   *raftAddr,
        JournalDir: *dataDir,
        Logger:     log.Default(),
    })
    if err != nil { log.Fatal(err) }
    kv := journaltest.NewKVMaster("kv")
    j := n.System.CreateJournal(kv)
    if err := n.Start(ctx); err != nil { log.Fatal(err) }
    defer n.Close()

    // Wait for this single peer to gain primacy.
    deadline := time.Now().Add(10 * time.Second)
    for !n.System.IsLeader() {
        if time.Now().After(deadline) { log.Fatal("node did not become primary in time") }
        time.Sleep(50 * time.Millisecond)
    }

    for i := 0; i < *entries; i++ {
        mut := journaltest.Mutation{Op: "put", Key: fmt.Sprintf("k%d", i), Value: fmt.Sprintf("v%d", i)}
        if err := kv.ApplyLocal(mut); err != nil { log.Fatal(err) }
        payload, _ := json.Marshal(mut)
        sn, err := j.Append(ctx, payload)
        if err != nil { log.Fatalf("append: %v", err) }
        fmt.Printf("journaled %s=%s at SN %d\n", mut.Key, mut.Value, sn)
    }

    fmt.Println("journaldemo running. Press Ctrl+C to exit.")
    <-ctx.Done()
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}
