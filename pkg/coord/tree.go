package coord

import (
    "context"
    "encoding/json"
    "fmt"
    "sort"
    "strings"
    "sync"
)

type entry struct {
    data     []byte
    version  uint64
    revision uint64
}

// Tree is an in-memory Store. It is the state machine replicated by the raft
// consensus node and also serves embedded single-process setups and tests.
type Tree struct {
    mu      sync.RWMutex
    nodes   map[string]*entry
    rev     uint64
    changed chan struct{} // closed and replaced on every mutation
    closed  bool
}

func NewTree() *Tree {
    return &Tree{nodes: make(map[string]*entry), changed: make(chan struct{})}
}

// Close terminates all watches. Further mutations are still accepted.
func (t *Tree) Close() {
    t.mu.Lock()
    defer t.mu.Unlock()
    if t.closed { return }
    t.closed = true
    close(t.changed)
}

// Revision returns the store-wide revision.
func (t *Tree) Revision() uint64 {
    t.mu.RLock()
    defer t.mu.RUnlock()
    return t.rev
}

func (t *Tree) Get(_ context.Context, path string) (Node, error) {
    if err := ValidatePath(path); err != nil { return Node{}, err }
    t.mu.RLock()
    defer t.mu.RUnlock()
    e, ok := t.nodes[path]
    if !ok {
        if path == "/" { return Node{Path: "/"}, nil }
        return Node{}, fmt.Errorf("get %s: %w", path, ErrNoNode)
    }
    return e.node(path), nil
}

func (t *Tree) Exists(_ context.Context, path string) (bool, error) {
    if err := ValidatePath(path); err != nil { return false, err }
    t.mu.RLock()
    defer t.mu.RUnlock()
    _, ok := t.nodes[path]
    return ok || path == "/", nil
}

// Create adds path with data. The parent must exist.
func (t *Tree) Create(_ context.Context, path string, data []byte) error {
    if err := ValidatePath(path); err != nil { return err }
    if path == "/" { return fmt.Errorf("create /: %w", ErrNodeExists) }
    t.mu.Lock()
    defer t.mu.Unlock()
    if _, ok := t.nodes[path]; ok {
        return fmt.Errorf("create %s: %w", path, ErrNodeExists)
    }
    if p := Parent(path); p != "/" {
        if _, ok := t.nodes[p]; !ok {
            return fmt.Errorf("create %s: %w", path, ErrNoParent)
        }
    }
    t.rev++
    t.nodes[path] = &entry{data: clone(data), revision: t.rev}
    t.notifyLocked()
    return nil
}

// Set replaces the data of an existing node.
func (t *Tree) Set(_ context.Context, path string, data []byte) error {
    if err := ValidatePath(path); err != nil { return err }
    t.mu.Lock()
    defer t.mu.Unlock()
    e, ok := t.nodes[path]
    if !ok {
        return fmt.Errorf("set %s: %w", path, ErrNoNode)
    }
    t.rev++
    e.data = clone(data)
    e.version++
    e.revision = t.rev
    t.notifyLocked()
    return nil
}

// Delete removes a leaf node.
func (t *Tree) Delete(_ context.Context, path string) error {
    if err := ValidatePath(path); err != nil { return err }
    t.mu.Lock()
    defer t.mu.Unlock()
    if _, ok := t.nodes[path]; !ok {
        return fmt.Errorf("delete %s: %w", path, ErrNoNode)
    }
    prefix := path + "/"
    for p := range t.nodes {
        if strings.HasPrefix(p, prefix) {
            return fmt.Errorf("delete %s: %w", path, ErrNotEmpty)
        }
    }
    t.rev++
    delete(t.nodes, path)
    t.notifyLocked()
    return nil
}

// Children lists the direct children of path, sorted.
func (t *Tree) Children(_ context.Context, path string) ([]string, error) {
    if err := ValidatePath(path); err != nil { return nil, err }
    t.mu.RLock()
    defer t.mu.RUnlock()
    if _, ok := t.nodes[path]; !ok && path != "/" {
        return nil, fmt.Errorf("children %s: %w", path, ErrNoNode)
    }
    var out []string
    for p := range t.nodes {
        if p != path && Parent(p) == path {
            out = append(out, p[strings.LastIndex(p, "/")+1:])
        }
    }
    sort.Strings(out)
    return out, nil
}

// Watch implements Store.
func (t *Tree) Watch(ctx context.Context, path string) (<-chan Event, error) {
    if err := ValidatePath(path); err != nil { return nil, err }
    out := make(chan Event, 16)
    t.mu.RLock()
    cur, ok := t.nodes[path]
    var last Node
    if ok { last = cur.node(path) }
    changed, closed := t.changed, t.closed
    t.mu.RUnlock()
    if closed {
        close(out)
        return out, nil
    }
    go func() {
        defer close(out)
        exists := ok
        if exists && !t.send(ctx, out, Event{Type: EventCreated, Node: last}) {
            return
        }
        for {
            select {
            case <-ctx.Done():
                return
            case <-changed:
            }
            t.mu.RLock()
            cur, ok := t.nodes[path]
            var n Node
            if ok { n = cur.node(path) }
            changed, closed = t.changed, t.closed
            t.mu.RUnlock()
            if closed { return }

            var ev *Event
            switch {
            case ok && !exists:
                ev = &Event{Type: EventCreated, Node: n}
            case !ok && exists:
                ev = &Event{Type: EventDeleted, Node: Node{Path: path}}
            case ok && n.Revision != last.Revision:
                ev = &Event{Type: EventChanged, Node: n}
            }
            exists, last = ok, n
            if ev != nil && !t.send(ctx, out, *ev) {
                return
            }
        }
    }()
    return out, nil
}

func (t *Tree) send(ctx context.Context, out chan<- Event, ev Event) bool {
    select {
    case out <- ev:
        return true
    case <-ctx.Done():
        return false
    }
}

func (t *Tree) notifyLocked() {
    if t.closed { return }
    close(t.changed)
    t.changed = make(chan struct{})
}

type snapshotNode struct {
    Path     string `json:"path"`
    Data     []byte `json:"data,omitempty"`
    Version  uint64 `json:"version"`
    Revision uint64 `json:"revision"`
}

// Snapshot encodes the tree as stable JSON.
func (t *Tree) Snapshot() ([]byte, error) {
    t.mu.RLock()
    defer t.mu.RUnlock()
    arr := make([]snapshotNode, 0, len(t.nodes))
    for p, e := range t.nodes {
        arr = append(arr, snapshotNode{Path: p, Data: e.data, Version: e.version, Revision: e.revision})
    }
    sort.Slice(arr, func(i, j int) bool { return arr[i].Path < arr[j].Path })
    return json.Marshal(struct {
        Version  int            `json:"version"`
        Revision uint64         `json:"revision"`
        Nodes    []snapshotNode `json:"nodes"`
    }{Version: 1, Revision: t.rev, Nodes: arr})
}

// Restore replaces the tree contents with a snapshot and wakes all watches.
func (t *Tree) Restore(buf []byte) error {
    var snapshot struct {
        Version  int            `json:"version"`
        Revision uint64         `json:"revision"`
        Nodes    []snapshotNode `json:"nodes"`
    }
    if err := json.Unmarshal(buf, &snapshot); err != nil {
        return err
    }
    if snapshot.Version != 1 {
        return fmt.Errorf("coord: unsupported snapshot version %d", snapshot.Version)
    }
    t.mu.Lock()
    defer t.mu.Unlock()
    t.nodes = make(map[string]*entry, len(snapshot.Nodes))
    for _, n := range snapshot.Nodes {
        if ValidatePath(n.Path) != nil || n.Path == "/" { continue }
        t.nodes[n.Path] = &entry{data: n.Data, version: n.Version, revision: n.Revision}
    }
    t.rev = snapshot.Revision
    t.notifyLocked()
    return nil
}

func (e *entry) node(path string) Node {
    return Node{Path: path, Data: clone(e.data), Version: e.version, Revision: e.revision}
}

func clone(b []byte) []byte {
    if b == nil { return nil }
    return append([]byte(nil), b...)
}

var _ Store = (*Tree)(nil)
