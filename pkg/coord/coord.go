// Package coord is the small hierarchical key/value store used for
// control-plane signals such as the expected cluster size. Paths look like
// file system paths ("/gate/normal-nodes"); every node carries opaque data and
// may be watched for changes.
package coord

import (
    "context"
    "errors"
    "strings"
)

var (
    ErrNoNode      = errors.New("coord: node does not exist")
    ErrNodeExists  = errors.New("coord: node already exists")
    ErrNoParent    = errors.New("coord: parent node does not exist")
    ErrNotEmpty    = errors.New("coord: node has children")
    ErrBadPath     = errors.New("coord: invalid path")
    ErrNotLeader   = errors.New("coord: not leader")
    ErrUnreachable = errors.New("coord: no reachable server")
)

// Node is a stored value. Version counts updates since creation; Revision is
// the store-wide revision of the last modification.
type Node struct {
    Path     string `json:"path"`
    Data     []byte `json:"data"`
    Version  uint64 `json:"version"`
    Revision uint64 `json:"revision"`
}

type EventType string

const (
    EventCreated EventType = "created"
    EventChanged EventType = "changed"
    EventDeleted EventType = "deleted"
)

// Event reports a change of a watched path. For EventDeleted only Node.Path is set.
type Event struct {
    Type EventType `json:"type"`
    Node Node      `json:"node"`
}

// Store is the client view of a coordination service.
type Store interface {
    Get(ctx context.Context, path string) (Node, error)
    Exists(ctx context.Context, path string) (bool, error)
    Create(ctx context.Context, path string, data []byte) error
    Set(ctx context.Context, path string, data []byte) error
    // Watch delivers the current state of path (as EventCreated, when the
    // node exists) followed by every later change. The channel is closed
    // when ctx is done or the store shuts down.
    Watch(ctx context.Context, path string) (<-chan Event, error)
}

// ValidatePath checks that p is absolute, has no empty segments and no
// trailing slash. "/" is the root.
func ValidatePath(p string) error {
    if p == "/" {
        return nil
    }
    if !strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") || strings.Contains(p, "//") {
        return ErrBadPath
    }
    return nil
}

// Parent returns the parent path of p; the parent of a top-level node is "/".
func Parent(p string) string {
    i := strings.LastIndex(p, "/")
    if i <= 0 {
        return "/"
    }
    return p[:i]
}

var wireErrors = []error{ErrNoNode, ErrNodeExists, ErrNoParent, ErrNotEmpty, ErrBadPath, ErrNotLeader}

// ErrorString renders err for the wire, collapsing wrapped sentinels to the
// sentinel message so ErrorFromString can restore them.
func ErrorString(err error) string {
    if err == nil {
        return ""
    }
    for _, e := range wireErrors {
        if errors.Is(err, e) {
            return e.Error()
        }
    }
    return err.Error()
}

// ErrorFromString maps an error string received over the wire back to the
// package sentinel it was produced from. Unknown strings become plain errors.
func ErrorFromString(s string) error {
    if s == "" {
        return nil
    }
    for _, e := range wireErrors {
        if s == e.Error() {
            return e
        }
    }
    return errors.New(s)
}
