package journal

import "errors"

var (
    ErrNotPrimary         = errors.New("journal: not primary")
    ErrWriterClosed       = errors.New("journal: writer closed")
    ErrSuspended          = errors.New("journal: suspended")
    ErrNotSuspended       = errors.New("journal: not suspended")
    ErrSnapshotNotAllowed = errors.New("journal: snapshot not allowed")
    ErrNotReplaying       = errors.New("journal: state machine is not in replay mode")
    ErrPrimacyLost        = errors.New("journal: primacy lost")
    ErrUnknownJournal     = errors.New("journal: unknown logical journal")
    ErrClosed             = errors.New("journal: closed")
    ErrPeerAvailable      = errors.New("journal: peer is still available")
)
