package coord

import (
    "context"
    "errors"
    "fmt"
)

// CreateAll creates path carrying data if and only if it does not exist yet.
// Missing intermediate nodes are created empty. It reports whether the final
// node was created by this call; an existing node is left untouched.
func CreateAll(ctx context.Context, s Store, path string, data []byte) (bool, error) {
    if err := ValidatePath(path); err != nil { return false, err }
    if path == "/" { return false, nil }
    ok, err := s.Exists(ctx, path)
    if err != nil { return false, err }
    if ok { return false, nil }
    if err := createParents(ctx, s, Parent(path)); err != nil { return false, err }
    if err := s.Create(ctx, path, data); err != nil {
        if errors.Is(err, ErrNodeExists) { return false, nil }
        return false, err
    }
    return true, nil
}

func createParents(ctx context.Context, s Store, path string) error {
    if path == "/" { return nil }
    ok, err := s.Exists(ctx, path)
    if err != nil { return err }
    if ok { return nil }
    if err := createParents(ctx, s, Parent(path)); err != nil { return err }
    if err := s.Create(ctx, path, nil); err != nil && !errors.Is(err, ErrNodeExists) {
        return err
    }
    return nil
}

// WaitChange blocks until the state of path differs from the one identified
// by rev (the node's Revision, or 0 for "absent") and returns the new state.
// It returns ctx.Err() when ctx is done first.
func WaitChange(ctx context.Context, s Store, path string, rev uint64) (Node, bool, error) {
    wctx, cancel := context.WithCancel(ctx)
    defer cancel()
    ch, err := s.Watch(wctx, path)
    if err != nil { return Node{}, false, err }

    // Seed from Get so an absent node is reported even without events.
    n, err := s.Get(ctx, path)
    switch {
    case err == nil:
        if n.Revision != rev { return n, true, nil }
    case errors.Is(err, ErrNoNode):
        if rev != 0 { return Node{Path: path}, false, nil }
    default:
        return Node{}, false, err
    }
    for {
        select {
        case <-ctx.Done():
            return Node{}, false, ctx.Err()
        case ev, ok := <-ch:
            if !ok {
                if ctx.Err() != nil { return Node{}, false, ctx.Err() }
                return Node{}, false, fmt.Errorf("watch %s: %w", path, ErrUnreachable)
            }
            switch ev.Type {
            case EventDeleted:
                if rev != 0 { return Node{Path: path}, false, nil }
            default:
                if ev.Node.Revision != rev { return ev.Node, true, nil }
            }
        }
    }
}
