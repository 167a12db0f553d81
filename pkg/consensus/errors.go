package consensus

import "errors"

var (
    // ErrNotLeader is returned by write-path operations invoked on a peer
    // that is not the current leader.
    ErrNotLeader = errors.New("consensus: not leader")
    // ErrLeaderNotReady indicates the local peer is leader but is still
    // replaying its log; callers should retry after a short wait.
    ErrLeaderNotReady = errors.New("consensus: leader not ready")
    // ErrNotStarted is returned when the engine has not been started.
    ErrNotStarted = errors.New("consensus: not started")
    // ErrSnapshotNotAllowed is returned by a state machine that vetoes an
    // engine-triggered snapshot.
    ErrSnapshotNotAllowed = errors.New("consensus: snapshot not allowed")
)

// IsTransient reports whether err is a retryable engine condition rather
// than a hard failure.
func IsTransient(err error) bool {
    return errors.Is(err, ErrLeaderNotReady)
}
