package journal

import (
    "context"
    "errors"
    "fmt"
    "log"
    "testing"
    "time"

    c "github.com/amirimatin/go-raft-journal/pkg/consensus"
)

// orderSM records the order journal entries were committed in.
type orderSM struct {
    nopSM
    ch chan Entry
}

func (s *orderSM) Apply(_ uint64, payload []byte) {
    e, err := DecodeEntry(payload)
    if err != nil {
        panic(err)
    }
    s.ch <- e
}

func TestAsyncJournalWriter_PreservesOrder(t *testing.T) {
    sm := &orderSM{ch: make(chan Entry, 64)}
    e := newFakeEngine(func() c.StateMachine { return sm })
    e.mu.Lock()
    e.leader = true
    e.lc = c.LifeCycleRunning
    e.mu.Unlock()

    w := NewRaftJournalWriter(0, e, 0, 0, log.Default())
    aw := NewAsyncJournalWriter(w, 8, log.Default())

    ctx := context.Background()
    const n = 16
    for i := 0; i < n; i++ {
        f, err := aw.Append(ctx, "fs", []byte(fmt.Sprintf("p%d", i)))
        if err != nil { t.Fatalf("append %d: %v", i, err) }
        if _, err := f.Wait(ctx); err != nil { t.Fatalf("wait %d: %v", i, err) }
    }
    for i := 0; i < n; i++ {
        select {
        case got := <-sm.ch:
            if got.SN != int64(i) || string(got.Payload) != fmt.Sprintf("p%d", i) {
                t.Fatalf("entry %d out of order: sn=%d payload=%q", i, got.SN, got.Payload)
            }
        case <-time.After(time.Second):
            t.Fatalf("missing entry %d", i)
        }
    }

    aw.Close()
    w.Close()
}

func TestAsyncJournalWriter_CloseFailsLateAppends(t *testing.T) {
    e := newWriterEngine()
    w := NewRaftJournalWriter(0, e, 0, 0, log.Default())
    aw := NewAsyncJournalWriter(w, 8, log.Default())

    ctx := context.Background()
    f, err := aw.Append(ctx, "fs", []byte("before"))
    if err != nil { t.Fatalf("append: %v", err) }
    if _, err := f.Wait(ctx); err != nil { t.Fatalf("wait: %v", err) }

    aw.Close()
    if _, err := aw.Append(ctx, "fs", []byte("after")); !errors.Is(err, ErrNotPrimary) {
        t.Fatalf("append after close = %v, want ErrNotPrimary", err)
    }
    w.Close()
}
