package coord

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/consensus"
)

// Mutation op names carried in consensus.Command.Op.
const (
    OpCreate = "create"
    OpSet    = "set"
    OpDelete = "delete"
)

// Mutation is the payload of a replicated tree command.
type Mutation struct {
    Path string `json:"path"`
    Data []byte `json:"data,omitempty"`
}

// Apply executes a replicated command against t. Consensus state machines
// call it for every committed log entry.
func (t *Tree) Apply(cmd consensus.Command) error {
    var m Mutation
    if err := json.Unmarshal(cmd.Payload, &m); err != nil {
        return fmt.Errorf("coord: decode %s: %w", cmd.Op, err)
    }
    ctx := context.Background()
    switch cmd.Op {
    case OpCreate:
        return t.Create(ctx, m.Path, m.Data)
    case OpSet:
        return t.Set(ctx, m.Path, m.Data)
    case OpDelete:
        return t.Delete(ctx, m.Path)
    default:
        return fmt.Errorf("coord: unknown op %q", cmd.Op)
    }
}

// Replicated is a Store whose writes go through consensus and whose reads
// and watches are served from the local copy of the tree. Writes on a
// follower fail with ErrNotLeader.
type Replicated struct {
    tree    *Tree
    prop    consensus.Proposer
    timeout time.Duration
}

// NewReplicated wraps tree, which must be the tree applied by prop's state machine.
func NewReplicated(tree *Tree, prop consensus.Proposer, timeout time.Duration) *Replicated {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Replicated{tree: tree, prop: prop, timeout: timeout}
}

func (r *Replicated) Tree() *Tree { return r.tree }

func (r *Replicated) Get(ctx context.Context, path string) (Node, error) { return r.tree.Get(ctx, path) }

func (r *Replicated) Exists(ctx context.Context, path string) (bool, error) {
    return r.tree.Exists(ctx, path)
}

func (r *Replicated) Watch(ctx context.Context, path string) (<-chan Event, error) {
    return r.tree.Watch(ctx, path)
}

func (r *Replicated) Create(ctx context.Context, path string, data []byte) error {
    return r.propose(ctx, OpCreate, path, data)
}

func (r *Replicated) Set(ctx context.Context, path string, data []byte) error {
    return r.propose(ctx, OpSet, path, data)
}

func (r *Replicated) Delete(ctx context.Context, path string) error {
    return r.propose(ctx, OpDelete, path, nil)
}

func (r *Replicated) propose(ctx context.Context, op, path string, data []byte) error {
    if err := ValidatePath(path); err != nil { return err }
    if !r.prop.IsLeader() { return ErrNotLeader }
    payload, err := json.Marshal(Mutation{Path: path, Data: data})
    if err != nil { return err }
    timeout := r.timeout
    if dl, ok := ctx.Deadline(); ok {
        if d := time.Until(dl); d < timeout { timeout = d }
    }
    if timeout <= 0 { return context.DeadlineExceeded }
    return r.prop.Apply(consensus.Command{Op: op, Payload: payload}, timeout)
}

var _ Store = (*Replicated)(nil)
