package journal

import (
    "context"
    "errors"
    "log"
    "sync"
    "time"

    c "github.com/amirimatin/go-raft-journal/pkg/consensus"
    "github.com/amirimatin/go-raft-journal/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-raft-journal/pkg/observability/metrics"
)

const (
    defaultMaxInflightBytes = 64 << 20
    defaultAppendTimeout    = 30 * time.Second
)

// AppendFuture resolves when an appended entry has been committed by a
// quorum. Acceptance by the engine is not durability; the future completes
// only on the commit acknowledgement.
type AppendFuture struct {
    sn   int64
    done chan struct{}
    err  error
}

// SN returns the sequence number assigned to the entry.
func (f *AppendFuture) SN() int64 { return f.sn }

// Wait blocks until commit, append failure, or ctx cancellation.
func (f *AppendFuture) Wait(ctx context.Context) (int64, error) {
    select {
    case <-f.done:
        return f.sn, f.err
    case <-ctx.Done():
        return f.sn, ctx.Err()
    }
}

func failedAppendFuture(err error) *AppendFuture {
    ch := make(chan struct{})
    close(ch)
    return &AppendFuture{done: ch, err: err}
}

// RaftJournalWriter appends journal entries on the primary. Sequence numbers
// are assigned strictly serially even under concurrent appends; commit
// callbacks may complete out of order. Appends beyond the in-flight-bytes
// bound block their caller until a prior commit completes. Exactly one
// writer exists per process, while the state machine is in serve mode.
type RaftJournalWriter struct {
    engine  c.Engine
    log     *log.Logger
    timeout time.Duration
    maxInflight int64

    mu       sync.Mutex
    cond     *sync.Cond
    nextSN   int64
    inflight int64
    pending  int
    closed   bool
}

// NewRaftJournalWriter starts a writer whose first entry takes nextSN.
func NewRaftJournalWriter(nextSN int64, engine c.Engine, maxInflightBytes int64, timeout time.Duration, logger *log.Logger) *RaftJournalWriter {
    if maxInflightBytes <= 0 { maxInflightBytes = defaultMaxInflightBytes }
    if timeout <= 0 { timeout = defaultAppendTimeout }
    if logger == nil { logger = log.Default() }
    w := &RaftJournalWriter{
        engine:      engine,
        log:         logger,
        timeout:     timeout,
        maxInflight: maxInflightBytes,
        nextSN:      nextSN,
    }
    w.cond = sync.NewCond(&w.mu)
    return w
}

// NextSN returns the sequence number the next append will take.
func (w *RaftJournalWriter) NextSN() int64 {
    w.mu.Lock()
    defer w.mu.Unlock()
    return w.nextSN
}

// Append assigns the next SN, submits the envelope to the engine and returns
// a future resolving on commit.
func (w *RaftJournalWriter) Append(target string, payload []byte) (*AppendFuture, error) {
    w.mu.Lock()
    for !w.closed && w.inflight >= w.maxInflight {
        w.cond.Wait()
    }
    if w.closed {
        w.mu.Unlock()
        return nil, ErrWriterClosed
    }
    entry := Entry{SN: w.nextSN, Target: target, Payload: payload}
    data, err := entry.Encode()
    if err != nil {
        w.mu.Unlock()
        return nil, err
    }
    // Submission happens under the lock so that SN order matches log order.
    cf, err := w.engine.Append(data, w.timeout)
    if err != nil {
        w.mu.Unlock()
        if errors.Is(err, c.ErrNotLeader) {
            return nil, ErrNotPrimary
        }
        return nil, err
    }
    w.nextSN++
    size := int64(len(data))
    w.inflight += size
    w.pending++
    obsmetrics.AppendInflightBytes.Set(float64(w.inflight))
    w.mu.Unlock()

    fut := &AppendFuture{sn: entry.SN, done: make(chan struct{})}
    go w.awaitCommit(cf, fut, size)
    return fut, nil
}

func (w *RaftJournalWriter) awaitCommit(cf c.CommitFuture, fut *AppendFuture, size int64) {
    _, err := cf.Await(context.Background())
    if err != nil {
        if errors.Is(err, c.ErrNotLeader) {
            err = ErrNotPrimary
        }
        logutil.Warnf(w.log, "append of SN %d failed: %v", fut.sn, err)
    } else {
        obsmetrics.Appends.Inc()
    }
    fut.err = err
    close(fut.done)

    w.mu.Lock()
    w.inflight -= size
    w.pending--
    obsmetrics.AppendInflightBytes.Set(float64(w.inflight))
    w.cond.Broadcast()
    w.mu.Unlock()
}

// appendRaw submits a pre-encoded envelope (term-start sentinels) without
// touching the SN counter.
func (w *RaftJournalWriter) appendRaw(data []byte) (c.CommitFuture, error) {
    return w.engine.Append(data, w.timeout)
}

// Close refuses new appends and waits for every pending commit callback.
func (w *RaftJournalWriter) Close() {
    w.mu.Lock()
    defer w.mu.Unlock()
    if w.closed {
        return
    }
    w.closed = true
    w.cond.Broadcast()
    for w.pending > 0 {
        w.cond.Wait()
    }
}
