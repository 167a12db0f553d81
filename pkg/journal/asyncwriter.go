package journal

import (
    "context"
    "log"
    "sync"

    "github.com/amirimatin/go-raft-journal/pkg/internal/logutil"
)

const defaultAsyncQueueSize = 1024

// AsyncJournalWriter serializes appends arriving from concurrent RPC
// handlers into the RaftJournalWriter while preserving submission order. A
// single flush goroutine drains the queue, so per-logical-journal program
// order is a consequence of global FIFO. Close flushes buffered entries and
// fails anything arriving afterwards with ErrNotPrimary.
type AsyncJournalWriter struct {
    writer *RaftJournalWriter
    log    *log.Logger
    queue  chan *asyncAppend

    mu      sync.RWMutex
    closed  bool
    senders sync.WaitGroup
    flushWG sync.WaitGroup
}

type asyncAppend struct {
    target  string
    payload []byte
    res     chan asyncResult
}

type asyncResult struct {
    fut *AppendFuture
    err error
}

// NewAsyncJournalWriter starts the flush loop over the given writer.
func NewAsyncJournalWriter(writer *RaftJournalWriter, queueSize int, logger *log.Logger) *AsyncJournalWriter {
    if queueSize <= 0 { queueSize = defaultAsyncQueueSize }
    if logger == nil { logger = log.Default() }
    a := &AsyncJournalWriter{
        writer: writer,
        log:    logger,
        queue:  make(chan *asyncAppend, queueSize),
    }
    a.flushWG.Add(1)
    go a.flushLoop()
    return a
}

// Append enqueues a payload for the target journal and returns the commit
// future once the flush loop has submitted it.
func (a *AsyncJournalWriter) Append(ctx context.Context, target string, payload []byte) (*AppendFuture, error) {
    a.mu.RLock()
    if a.closed {
        a.mu.RUnlock()
        return nil, ErrNotPrimary
    }
    a.senders.Add(1)
    a.mu.RUnlock()
    defer a.senders.Done()

    req := &asyncAppend{target: target, payload: payload, res: make(chan asyncResult, 1)}
    select {
    case a.queue <- req:
    case <-ctx.Done():
        return nil, ctx.Err()
    }
    select {
    case res := <-req.res:
        return res.fut, res.err
    case <-ctx.Done():
        return nil, ctx.Err()
    }
}

func (a *AsyncJournalWriter) flushLoop() {
    defer a.flushWG.Done()
    for req := range a.queue {
        fut, err := a.writer.Append(req.target, req.payload)
        req.res <- asyncResult{fut: fut, err: err}
    }
}

// Close stops accepting appends, flushes everything already buffered and
// returns once the flush loop has drained. Pending commit futures are the
// RaftJournalWriter's to settle.
func (a *AsyncJournalWriter) Close() {
    a.mu.Lock()
    if a.closed {
        a.mu.Unlock()
        return
    }
    a.closed = true
    a.mu.Unlock()

    // No new senders can enter now; wait for in-flight enqueues, then let
    // the flush loop drain the queue to completion.
    a.senders.Wait()
    close(a.queue)
    a.flushWG.Wait()
    logutil.Infof(a.log, "async journal writer closed")
}
