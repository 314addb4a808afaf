// Package topology turns membership notifications into the server count the
// gate compares against its threshold.
package topology

import (
    "context"
    "fmt"
    "log"
    "sync"
    "sync/atomic"

    "github.com/amirimatin/go-clustergate/pkg/internal/logutil"
    "github.com/amirimatin/go-clustergate/pkg/membership"
    obsmetrics "github.com/amirimatin/go-clustergate/pkg/observability/metrics"
)

// Source is the part of membership.Membership the tracker reads.
type Source interface {
    Members() []membership.MemberInfo
    Events() <-chan membership.Event
}

// Sink receives every recount.
type Sink interface {
    SetTopology(n int)
}

// CountServers returns the number of members that are not clients.
func CountServers(members []membership.MemberInfo) int {
    n := 0
    for _, m := range members {
        if !m.IsClient() { n++ }
    }
    return n
}

// Tracker recounts the membership snapshot on every event. Events are only a
// trigger; the count always comes from Members() so lost or reordered events
// cannot skew it.
type Tracker struct {
    src    Source
    sink   Sink
    logger *log.Logger

    count   atomic.Int64
    mu      sync.Mutex
    started bool
    done    chan struct{}
}

func New(src Source, sink Sink, logger *log.Logger) (*Tracker, error) {
    if src == nil || sink == nil {
        return nil, fmt.Errorf("topology: source and sink are required")
    }
    if logger == nil { logger = log.Default() }
    return &Tracker{src: src, sink: sink, logger: logger, done: make(chan struct{})}, nil
}

// Start pushes an initial count and follows membership events until ctx is
// done or the event channel closes.
func (t *Tracker) Start(ctx context.Context) error {
    t.mu.Lock()
    if t.started {
        t.mu.Unlock()
        return fmt.Errorf("topology: tracker already started")
    }
    t.started = true
    t.mu.Unlock()

    t.recount("initial")
    go t.loop(ctx)
    return nil
}

// Count returns the last pushed count.
func (t *Tracker) Count() int { return int(t.count.Load()) }

// Done is closed when the tracker stops following events.
func (t *Tracker) Done() <-chan struct{} { return t.done }

func (t *Tracker) loop(ctx context.Context) {
    defer close(t.done)
    evts := t.src.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case ev, ok := <-evts:
            if !ok { return }
            switch ev.Type {
            case membership.EventJoin, membership.EventLeave, membership.EventFailed:
                obsmetrics.MembershipEvents.WithLabelValues(string(ev.Type)).Inc()
                t.recount(string(ev.Type) + " " + ev.Member.ID)
            default:
                obsmetrics.MembershipEvents.WithLabelValues("ignored").Inc()
            }
        }
    }
}

func (t *Tracker) recount(reason string) {
    n := CountServers(t.src.Members())
    prev := t.count.Swap(int64(n))
    if prev != int64(n) {
        logutil.Infof(t.logger, "topology: %d servers (%s)", n, reason)
    }
    t.sink.SetTopology(n)
}
