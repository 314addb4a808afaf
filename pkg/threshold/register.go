package threshold

import (
    "context"

    "github.com/amirimatin/go-clustergate/pkg/coord"
)

// Register stores n at path unless the node already exists, creating
// missing parents with empty data. It reports whether the node was created;
// an existing threshold is never overwritten.
func Register(ctx context.Context, store coord.Store, path string, n uint64) (bool, error) {
    return coord.CreateAll(ctx, store, path, Encode(n))
}

// Update overwrites the threshold at an existing path. Running watchers
// pick the new value up through their watch.
func Update(ctx context.Context, store coord.Store, path string, n uint64) error {
    if err := coord.ValidatePath(path); err != nil { return err }
    return store.Set(ctx, path, Encode(n))
}
