package raftcons

import (
    "io"

    "github.com/hashicorp/raft"

    c "github.com/amirimatin/go-raft-journal/pkg/consensus"
)

// engineFSM bridges the hashicorp/raft FSM callbacks to a
// consensus.StateMachine. It is rebuilt together with the state machine on
// every engine (re)initialization.
type engineFSM struct {
    sm c.StateMachine
}

func newEngineFSM(sm c.StateMachine) *engineFSM { return &engineFSM{sm: sm} }

func (f *engineFSM) Apply(l *raft.Log) interface{} {
    if l.Type != raft.LogCommand {
        return nil
    }
    f.sm.Apply(l.Index, l.Data)
    return nil
}

func (f *engineFSM) Snapshot() (raft.FSMSnapshot, error) {
    // Vetoing here covers engine-triggered snapshots; operator-triggered
    // checkpoints flip the application's gate before calling Engine.Snapshot.
    if !f.sm.SnapshotAllowed() {
        return nil, c.ErrSnapshotNotAllowed
    }
    return &fsmSnapshot{sm: f.sm}, nil
}

func (f *engineFSM) Restore(rc io.ReadCloser) error {
    defer rc.Close()
    return f.sm.RestoreSnapshot(rc)
}

// fsmSnapshot streams the state machine checkpoint at persist time. The
// state machine's own gate excludes concurrent applies for the duration.
type fsmSnapshot struct {
    sm c.StateMachine
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
    if err := s.sm.SaveSnapshot(sink); err != nil {
        _ = sink.Cancel()
        return err
    }
    return sink.Close()
}

func (s *fsmSnapshot) Release() {}

var _ raft.FSM = (*engineFSM)(nil)
