package raftcons

import (
    "encoding/json"
    "io"

    "github.com/hashicorp/raft"

    c "github.com/amirimatin/go-clustergate/pkg/consensus"
    "github.com/amirimatin/go-clustergate/pkg/coord"
)

// treeFSM applies committed commands to the coordination tree. The returned
// error (if any) becomes the ApplyFuture response.
type treeFSM struct {
    tree *coord.Tree
}

func newTreeFSM(t *coord.Tree) *treeFSM { return &treeFSM{tree: t} }

func (f *treeFSM) Apply(l *raft.Log) interface{} {
    var cmd c.Command
    if err := json.Unmarshal(l.Data, &cmd); err != nil {
        return err
    }
    return f.tree.Apply(cmd)
}

func (f *treeFSM) Snapshot() (raft.FSMSnapshot, error) {
    blob, err := f.tree.Snapshot()
    if err != nil { return nil, err }
    return &snapshot{blob: blob}, nil
}

func (f *treeFSM) Restore(rc io.ReadCloser) error {
    defer rc.Close()
    data, err := io.ReadAll(rc)
    if err != nil { return err }
    return f.tree.Restore(data)
}

type snapshot struct {
    blob []byte
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
    if _, err := sink.Write(s.blob); err != nil { _ = sink.Cancel(); return err }
    return sink.Close()
}

func (s *snapshot) Release() {}

var _ raft.FSM = (*treeFSM)(nil)
