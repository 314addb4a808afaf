package gate

import (
    "context"
    "log"
    "sync"
    "sync/atomic"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-clustergate/pkg/observability/metrics"
    "github.com/amirimatin/go-clustergate/pkg/observability/tracing"
)

// Gate blocks callers until the cluster reaches its normal size. Threshold
// and topology updates arrive from the watcher and the tracker; Check is
// called from application goroutines.
//
// Status, the resolved channel and the waiter registry are guarded by mu as
// one unit, so checking the status and enqueueing a waiter cannot interleave
// with a status flip and its wake sweep.
type Gate struct {
    threshold atomic.Uint64
    topology  atomic.Int64

    logger *log.Logger

    mu       sync.Mutex
    status   Status
    resolved chan struct{}
    waiters  map[*waiter]struct{}
    sweeps   uint64
    eb       eventBus
}

type waiter struct {
    ch chan struct{}
}

// New returns a gate in StatusUnknown. A nil logger means log.Default().
func New(logger *log.Logger) *Gate {
    if logger == nil { logger = log.Default() }
    return &Gate{
        logger:   logger,
        resolved: make(chan struct{}),
        waiters:  make(map[*waiter]struct{}),
    }
}

// SetThreshold records the expected normal node count and re-evaluates.
func (g *Gate) SetThreshold(n uint64) {
    g.threshold.Store(n)
    obsmetrics.GateThreshold.Set(float64(n))
    g.evaluate()
}

// SetTopology records the current non-client member count and re-evaluates.
func (g *Gate) SetTopology(n int) {
    if n < 0 { n = 0 }
    g.topology.Store(int64(n))
    obsmetrics.GateTopology.Set(float64(n))
    g.evaluate()
}

func (g *Gate) Threshold() uint64 { return g.threshold.Load() }
func (g *Gate) Topology() int64   { return g.topology.Load() }

// Status returns the current status.
func (g *Gate) Status() Status {
    g.mu.Lock()
    defer g.mu.Unlock()
    return g.status
}

// Stats returns a consistent snapshot of status and registry size.
func (g *Gate) Stats() Stats {
    g.mu.Lock()
    defer g.mu.Unlock()
    return Stats{
        Status:    g.status,
        Threshold: g.threshold.Load(),
        Topology:  g.topology.Load(),
        Waiters:   len(g.waiters),
        Sweeps:    g.sweeps,
    }
}

// evaluate recomputes the status from the latest threshold and topology.
// It is a no-op when the status does not change.
func (g *Gate) evaluate() {
    g.mu.Lock()
    defer g.mu.Unlock()

    th := g.threshold.Load()
    topo := g.topology.Load()
    next := StatusFailed
    if Healthy(th, topo) { next = StatusRunning }

    prev := g.status
    if prev == next {
        return
    }
    g.status = next
    if prev == StatusUnknown {
        close(g.resolved)
    }

    woken := 0
    if next == StatusRunning && len(g.waiters) > 0 {
        for w := range g.waiters {
            close(w.ch)
        }
        woken = len(g.waiters)
        g.waiters = make(map[*waiter]struct{})
        g.sweeps++
        obsmetrics.GateWakeSweeps.Inc()
        obsmetrics.GateWoken.Add(float64(woken))
        obsmetrics.GateWaiters.Set(0)
    }

    obsmetrics.GateStatus.Set(float64(next))
    obsmetrics.GateTransitions.WithLabelValues(next.String()).Inc()
    if next == StatusRunning {
        logutil.Infof(g.logger, "gate %s -> %s: topology=%d threshold=%d woken=%d", prev, next, topo, th, woken)
    } else {
        logutil.Warnf(g.logger, "gate %s -> %s: topology=%d threshold=%d", prev, next, topo, th)
    }
    g.eb.publish(Transition{From: prev, To: next, Threshold: th, Topology: topo, Woken: woken, At: time.Now()})
}

// Check blocks until the gate is running or ctx is done. Cancellation is a
// normal early return reported as OutcomeCanceled.
func (g *Gate) Check(ctx context.Context) Outcome {
    return g.check(ctx, nil)
}

// CheckTimeout is Check bounded by d. The outcome tells the caller whether
// the gate opened or the deadline elapsed first.
func (g *Gate) CheckTimeout(ctx context.Context, d time.Duration) Outcome {
    if d <= 0 {
        return g.check(ctx, closedTimer)
    }
    t := time.NewTimer(d)
    defer t.Stop()
    return g.check(ctx, t.C)
}

var closedTimer = func() <-chan time.Time {
    ch := make(chan time.Time)
    close(ch)
    return ch
}()

func (g *Gate) check(ctx context.Context, expired <-chan time.Time) Outcome {
    _, end := tracing.StartSpan(ctx, "gate.check")
    defer end()
    start := time.Now()
    out := g.wait(ctx, expired)
    obsmetrics.CheckOutcomes.WithLabelValues(out.String()).Inc()
    obsmetrics.CheckWait.Observe(time.Since(start).Seconds())
    return out
}

func (g *Gate) wait(ctx context.Context, expired <-chan time.Time) Outcome {
    g.mu.Lock()
    if g.status == StatusUnknown {
        resolved := g.resolved
        g.mu.Unlock()
        select {
        case <-resolved:
        case <-ctx.Done():
            return OutcomeCanceled
        case <-expired:
            return OutcomeTimedOut
        }
        g.mu.Lock()
    }
    if g.status == StatusRunning {
        g.mu.Unlock()
        return OutcomeReady
    }
    w := &waiter{ch: make(chan struct{})}
    g.waiters[w] = struct{}{}
    obsmetrics.GateWaiters.Set(float64(len(g.waiters)))
    g.mu.Unlock()

    select {
    case <-w.ch:
        return OutcomeReady
    case <-ctx.Done():
        if g.abandon(w) { return OutcomeCanceled }
        return OutcomeReady
    case <-expired:
        if g.abandon(w) { return OutcomeTimedOut }
        return OutcomeReady
    }
}

// abandon removes w from the registry. It returns false when a sweep already
// drained w, in which case the caller was released and should report ready.
func (g *Gate) abandon(w *waiter) bool {
    g.mu.Lock()
    defer g.mu.Unlock()
    if _, ok := g.waiters[w]; !ok {
        return false
    }
    delete(g.waiters, w)
    obsmetrics.GateWaiters.Set(float64(len(g.waiters)))
    return true
}
