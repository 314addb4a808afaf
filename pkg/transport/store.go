package transport

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/discovery"
    "github.com/amirimatin/go-clustergate/pkg/internal/logutil"
)

// Retry policy for remote coordination calls: 100ms base, doubled per retry,
// three retries after the first attempt.
const (
    DefaultRetryBase = 100 * time.Millisecond
    DefaultRetries   = 3
)

// DefaultWatchRearm is the pause before a watch polls again after a whole
// retry budget failed.
const DefaultWatchRearm = time.Second

// ParseAddrs splits a comma-separated connection string into addresses.
func ParseAddrs(conn string) []string { return discovery.Parse(conn) }

// Store is a coord.Store backed by a list of remote coordination servers.
// Every call walks the list in order, starting from the last server that
// answered, and retries the whole list with exponential backoff on
// transport failures. Writes rejected with coord.ErrNotLeader move on to
// the next server.
type Store struct {
    client  RPCClient
    addrs   []string
    logger  *log.Logger
    base    time.Duration
    retries int
    rearm   time.Duration

    mu   sync.Mutex
    pref int
}

// NewStore returns a store over conn, a comma-separated address list.
func NewStore(client RPCClient, conn string, logger *log.Logger) (*Store, error) {
    addrs := ParseAddrs(conn)
    if len(addrs) == 0 { return nil, fmt.Errorf("transport: empty connection string") }
    if client == nil { return nil, fmt.Errorf("transport: nil client") }
    if logger == nil { logger = log.Default() }
    return &Store{client: client, addrs: addrs, logger: logger, base: DefaultRetryBase, retries: DefaultRetries, rearm: DefaultWatchRearm}, nil
}

// WithRetry overrides the backoff base and retry count.
func (s *Store) WithRetry(base time.Duration, retries int) *Store {
    if base > 0 { s.base = base }
    if retries >= 0 { s.retries = retries }
    return s
}

// WithWatchRearm overrides the pause between failed watch rounds.
func (s *Store) WithWatchRearm(d time.Duration) *Store {
    if d > 0 { s.rearm = d }
    return s
}

func (s *Store) Addrs() []string { return append([]string(nil), s.addrs...) }

func (s *Store) Get(ctx context.Context, path string) (coord.Node, error) {
    var out coord.Node
    err := s.do(ctx, "get", func(addr string) error {
        n, err := s.client.Get(ctx, addr, path)
        if err == nil { out = n }
        return err
    })
    return out, err
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
    _, err := s.Get(ctx, path)
    if err == nil { return true, nil }
    if errors.Is(err, coord.ErrNoNode) { return false, nil }
    return false, err
}

func (s *Store) Create(ctx context.Context, path string, data []byte) error {
    return s.do(ctx, "create", func(addr string) error { return s.client.Create(ctx, addr, path, data) })
}

func (s *Store) Set(ctx context.Context, path string, data []byte) error {
    return s.do(ctx, "set", func(addr string) error { return s.client.Set(ctx, addr, path, data) })
}

// Watch follows path with repeated long polls. The channel closes only when
// ctx is done. When no server answers within the retry budget the watch
// keeps the last known state and polls again after the rearm pause, so
// changes made during an outage arrive once a server is back.
func (s *Store) Watch(ctx context.Context, path string) (<-chan coord.Event, error) {
    if err := coord.ValidatePath(path); err != nil { return nil, err }
    ch := make(chan coord.Event, 16)
    go func() {
        defer close(ch)
        var (
            rev    uint64
            exists bool
            outage bool
        )
        for ctx.Err() == nil {
            var (
                n  coord.Node
                ok bool
            )
            err := s.do(ctx, "watch", func(addr string) error {
                var err error
                n, ok, err = s.client.WaitChange(ctx, addr, path, rev)
                return err
            })
            if err != nil {
                if ctx.Err() != nil { return }
                if !outage {
                    logutil.Warnf(s.logger, "coord watch %s: %v; retrying every %s", path, err, s.rearm)
                    outage = true
                }
                select {
                case <-ctx.Done():
                    return
                case <-time.After(s.rearm):
                }
                continue
            }
            if outage {
                logutil.Infof(s.logger, "coord watch %s: reconnected", path)
                outage = false
            }
            var ev coord.Event
            switch {
            case ok && n.Revision == rev:
                continue
            case ok && exists:
                ev = coord.Event{Type: coord.EventChanged, Node: n}
            case ok:
                ev = coord.Event{Type: coord.EventCreated, Node: n}
            case exists:
                ev = coord.Event{Type: coord.EventDeleted, Node: coord.Node{Path: path}}
            default:
                continue
            }
            exists, rev = ok, n.Revision
            if !ok { rev = 0 }
            select {
            case ch <- ev:
            case <-ctx.Done():
                return
            }
        }
    }()
    return ch, nil
}

// do runs call against the server list until it succeeds, fails with a
// definite coordination error, or exhausts the retry budget.
func (s *Store) do(ctx context.Context, op string, call func(addr string) error) error {
    var lastErr error
    for attempt := 0; attempt <= s.retries; attempt++ {
        if attempt > 0 {
            select {
            case <-ctx.Done():
                return ctx.Err()
            case <-time.After(s.base << (attempt - 1)):
            }
        }
        start := s.preferred()
        for i := range s.addrs {
            idx := (start + i) % len(s.addrs)
            err := call(s.addrs[idx])
            if err == nil {
                s.setPreferred(idx)
                return nil
            }
            if ctx.Err() != nil { return ctx.Err() }
            if definite(err) {
                s.setPreferred(idx)
                return err
            }
            lastErr = fmt.Errorf("%s %s: %w", op, s.addrs[idx], err)
        }
    }
    return fmt.Errorf("%w: %w", coord.ErrUnreachable, lastErr)
}

// definite errors are answers from a healthy server; retrying cannot change them.
func definite(err error) bool {
    for _, e := range []error{coord.ErrNoNode, coord.ErrNodeExists, coord.ErrNoParent, coord.ErrNotEmpty, coord.ErrBadPath} {
        if errors.Is(err, e) { return true }
    }
    return false
}

func (s *Store) preferred() int {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.pref
}

func (s *Store) setPreferred(i int) {
    s.mu.Lock()
    s.pref = i
    s.mu.Unlock()
}

var _ coord.Store = (*Store)(nil)
