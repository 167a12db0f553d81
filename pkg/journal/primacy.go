package journal

import (
    "context"
    "fmt"
    "math/rand"
    "time"

    c "github.com/amirimatin/go-raft-journal/pkg/consensus"
    "github.com/amirimatin/go-raft-journal/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-raft-journal/pkg/observability/metrics"
)

// primacyLoop consumes engine primacy notifications and drives the handoff
// protocol. Transitions run inline: the engine coalesces notifications, and
// gain/lose must not overlap.
func (s *System) primacyLoop(ctx context.Context, ch <-chan c.Role) {
    for {
        select {
        case <-ctx.Done():
            return
        case role, ok := <-ch:
            if !ok {
                return
            }
            switch role {
            case c.RolePrimary:
                if s.serving.Load() {
                    continue
                }
                obsmetrics.PrimacyChanges.Inc()
                obsmetrics.IsPrimary.Set(1)
                if err := s.gainPrimacy(ctx); err != nil {
                    logutil.Errorf(s.opts.Logger, "gaining primacy failed: %v", err)
                    obsmetrics.IsPrimary.Set(0)
                }
            case c.RoleStandby:
                obsmetrics.IsPrimary.Set(0)
                if !s.serving.Load() {
                    continue
                }
                obsmetrics.PrimacyChanges.Inc()
                s.losePrimacy(ctx)
            }
        }
    }
}

// gainPrimacy runs the catch-up protocol, upgrades the state machine from
// replay to serve and installs the writer pair. Once it returns nil, every
// subsequent append carries an SN strictly greater than anything committed
// under a previous term.
func (s *System) gainPrimacy(ctx context.Context) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.run.closed {
        return ErrClosed
    }
    logutil.Infof(s.opts.Logger, "gaining primacy")
    s.gate.SetAllowed(false)

    if err := s.catchUp(ctx); err != nil {
        return err
    }

    m := s.sm.Load()
    nextSN := m.Upgrade() + 1
    s.writer = NewRaftJournalWriter(nextSN, s.engine, s.opts.MaxInflightBytes, s.opts.AppendTimeout, s.opts.Logger)
    s.asyncW.Store(NewAsyncJournalWriter(s.writer, s.opts.AsyncQueueSize, s.opts.Logger))
    s.serving.Store(true)
    s.transferAllowed.Store(true)
    logutil.Infof(s.opts.Logger, "gained primacy, next SN %d", nextSN)
    return nil
}

// catchUp proves this peer has replayed every entry committed under prior
// terms. It loops until it observes its own term-start sentinel applied with
// nothing else committed since, or until primacy is lost.
//
// A committed entry cannot precede a commit from a later term, so seeing our
// own sentinel applied proves the log is drained up to it. The quiet-period
// wait bounds the window in which a stale leader could still believe it is
// serving.
func (s *System) catchUp(ctx context.Context) error {
    m := s.sm.Load()
    clk := s.opts.Clock

    // Wait for any outstanding snapshot to complete before racing applies
    // against it.
    if !s.waitFor(ctx, func() bool { return !m.IsSnapshotting() }, 10*s.opts.MaxElectionTimeout) {
        if err := ctx.Err(); err != nil {
            return err
        }
        return fmt.Errorf("journal: timed out waiting for snapshot to finish")
    }

    if gi, err := s.engine.GroupInfo(ctx); err == nil {
        logutil.Infof(s.opts.Logger, "performing catch-up: commit index %d, applied SN %d",
            gi.CommitIndex, m.LastAppliedSN())
    }

    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        if !s.engine.IsLeader() {
            return ErrPrimacyLost
        }
        lastAppliedSN := m.LastAppliedSN()
        ts := -1 - rand.Int63()
        logutil.Infof(s.opts.Logger, "catch-up round: last applied SN %d, sentinel %d", lastAppliedSN, ts)
        obsmetrics.CatchupRounds.Inc()

        data, err := sentinelEntry(ts).Encode()
        if err != nil {
            return err
        }
        cf, err := s.engine.Append(data, s.opts.AppendTimeout)
        if err == nil {
            _, err = cf.Await(ctx)
        }
        if err != nil {
            if ctx.Err() != nil {
                return ctx.Err()
            }
            // LeaderNotReady typically means the engine is still replaying
            // its log; back off and retry.
            logutil.Infof(s.opts.Logger, "sentinel append failed: %v", err)
            clk.Sleep(s.opts.CatchupRetryWait)
            continue
        }

        // Wait one max election timeout for our sentinel to be the newest
        // thing the state machine has seen. A timeout means someone else
        // appended after us; restart with a fresh sentinel.
        caught := s.waitFor(ctx, func() bool {
            return m.LastAppliedSN() == lastAppliedSN && m.LastPrimaryStartSN() == ts
        }, s.opts.MaxElectionTimeout)
        if ctx.Err() != nil {
            return ctx.Err()
        }
        if !caught {
            continue
        }
        logutil.Infof(s.opts.Logger, "caught up at SN %d", m.LastAppliedSN())
        return nil
    }
}

// waitFor polls cond until it holds or timeout elapses, using the injected
// clock. Returns whether cond held.
func (s *System) waitFor(ctx context.Context, cond func() bool, timeout time.Duration) bool {
    clk := s.opts.Clock
    deadline := clk.Now().Add(timeout)
    for {
        if cond() {
            return true
        }
        if ctx.Err() != nil || !clk.Now().Before(deadline) {
            return false
        }
        clk.Sleep(s.opts.CatchupRetryWait / 10)
    }
}

// losePrimacy tears the writer pair down and fully restarts the engine. The
// restart constructs a new state machine, so any pre-applied mutation whose
// append never committed is discarded and the peer replays cleanly.
func (s *System) losePrimacy(ctx context.Context) {
    s.mu.Lock()
    defer s.mu.Unlock()
    logutil.Infof(s.opts.Logger, "losing primacy")
    s.transferAllowed.Store(false)
    s.serving.Store(false)

    if aw := s.asyncW.Swap(nil); aw != nil {
        aw.Close()
    }
    if s.writer != nil {
        s.writer.Close()
        s.writer = nil
    }
    if s.run.closed {
        return
    }
    if err := s.engine.Restart(ctx); err != nil {
        s.fatalf("restarting engine while stepping down: %v", err)
        return
    }
    s.gate.SetAllowed(true)
    logutil.Infof(s.opts.Logger, "engine restarted, now standby")
}

func (s *System) fatalf(format string, args ...any) {
    logutil.Errorf(s.opts.Logger, format, args...)
    err := fmt.Errorf("journal: "+format, args...)
    if s.opts.OnFatalError != nil {
        s.opts.OnFatalError(err)
        return
    }
    panic(err)
}
