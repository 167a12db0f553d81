package journal

import (
    "errors"
    "log"
    "time"

    "github.com/benbjohnson/clock"

    "github.com/amirimatin/go-raft-journal/pkg/discovery"
    "github.com/amirimatin/go-raft-journal/pkg/membership"
)

// Options carries dependency-injected components and runtime configuration
// used to assemble the journal System. Instances are typically produced from
// bootstrap.Config.
type Options struct {
    // Dir is the journal root directory. The consensus engine owns a
    // subdirectory beneath it; Format and IsFormatted operate on the root.
    Dir string

    // LocalAddr is this peer's consensus address, used to validate admin
    // operations such as leadership transfer targets.
    LocalAddr string

    // Logger is used to report operational messages.
    Logger *log.Logger

    // Membership provides gossip-based failure detection. Optional; without
    // it peers are always reported AVAILABLE, so every remove-peer request
    // is refused.
    Membership membership.Membership

    // Discovery provides seed nodes for the membership join. Optional.
    Discovery discovery.Discovery

    // Clock is used for catch-up waits and transfer pacing. Defaults to the
    // wall clock; tests inject a mock.
    Clock clock.Clock

    // MaxInflightBytes bounds bytes submitted to the engine but not yet
    // committed; appends beyond it block.
    MaxInflightBytes int64
    // AsyncQueueSize bounds entries buffered by the async writer.
    AsyncQueueSize int
    // AppendTimeout bounds each engine submission.
    AppendTimeout time.Duration

    // CatchupRetryWait is the pause between catch-up retries on transient
    // engine errors.
    CatchupRetryWait time.Duration
    // MaxElectionTimeout bounds how long each catch-up round waits for its
    // sentinel to be the last observed write before retrying.
    MaxElectionTimeout time.Duration

    // OnFatalError is invoked when teardown hits an unrecoverable failure
    // (e.g. the engine cannot be restarted after losing primacy). Defaults
    // to panicking, forcing a clean process restart from the log.
    OnFatalError func(error)
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
    if o.Dir == "" {
        return errors.New("journal: empty Dir")
    }
    if o.LocalAddr == "" {
        return errors.New("journal: empty LocalAddr")
    }
    if o.Logger == nil {
        return errors.New("journal: nil Logger")
    }
    return nil
}

func (o *Options) applyDefaults() {
    if o.Clock == nil { o.Clock = clock.New() }
    if o.MaxInflightBytes <= 0 { o.MaxInflightBytes = defaultMaxInflightBytes }
    if o.AsyncQueueSize <= 0 { o.AsyncQueueSize = defaultAsyncQueueSize }
    if o.AppendTimeout <= 0 { o.AppendTimeout = defaultAppendTimeout }
    if o.CatchupRetryWait <= 0 { o.CatchupRetryWait = time.Second }
    if o.MaxElectionTimeout <= 0 { o.MaxElectionTimeout = 10 * time.Second }
}
