package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"

    obsmetrics "github.com/amirimatin/go-clustergate/pkg/observability/metrics"
)

// ConnManager caches one gRPC connection per coordination server and closes
// the ones left idle for longer than ttl.
type ConnManager struct {
    mu     sync.Mutex
    conns  map[string]*managedConn
    ttl    time.Duration
    dialer func(ctx context.Context, target string) (*grpc.ClientConn, error)

    closeOnce sync.Once
    closing   chan struct{}
}

type managedConn struct {
    cc       *grpc.ClientConn
    lastUsed time.Time
    ref      int
}

// NewConnManager creates a manager with the given idle TTL and dialer.
func NewConnManager(ttl time.Duration, dialer func(ctx context.Context, target string) (*grpc.ClientConn, error)) *ConnManager {
    if ttl <= 0 { ttl = 30 * time.Second }
    m := &ConnManager{ttl: ttl, dialer: dialer, conns: make(map[string]*managedConn), closing: make(chan struct{})}
    go m.janitor()
    return m
}

// Get returns a connection for target and a release func to be called when done.
func (m *ConnManager) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    if cc, ok := m.acquire(target); ok {
        obsmetrics.GRPCConnReuse.Inc()
        return cc, func() { m.release(target) }, nil
    }

    // Dial outside lock
    cc, err := m.dialer(ctx, target)
    if err != nil { return nil, func() {}, err }

    m.mu.Lock()
    if existing, ok := m.conns[target]; ok {
        // Lost a dial race; keep the cached one.
        _ = cc.Close()
        existing.ref++
        existing.lastUsed = time.Now()
        out := existing.cc
        m.mu.Unlock()
        obsmetrics.GRPCConnReuse.Inc()
        return out, func() { m.release(target) }, nil
    }
    m.conns[target] = &managedConn{cc: cc, lastUsed: time.Now(), ref: 1}
    m.mu.Unlock()
    obsmetrics.GRPCConnDials.Inc()
    obsmetrics.GRPCConnActive.Inc()
    return cc, func() { m.release(target) }, nil
}

func (m *ConnManager) acquire(target string) (*grpc.ClientConn, bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    mc, ok := m.conns[target]
    if !ok { return nil, false }
    mc.ref++
    mc.lastUsed = time.Now()
    return mc.cc, true
}

func (m *ConnManager) release(target string) {
    m.mu.Lock()
    if mc, ok := m.conns[target]; ok {
        if mc.ref > 0 { mc.ref-- }
        mc.lastUsed = time.Now()
    }
    m.mu.Unlock()
}

// Len returns the number of cached connections.
func (m *ConnManager) Len() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.conns)
}

// Close closes all cached connections and stops the janitor.
func (m *ConnManager) Close() {
    m.closeOnce.Do(func() { close(m.closing) })
    m.mu.Lock()
    for k, mc := range m.conns {
        _ = mc.cc.Close()
        obsmetrics.GRPCConnActive.Dec()
        delete(m.conns, k)
    }
    m.mu.Unlock()
}

func (m *ConnManager) janitor() {
    ticker := time.NewTicker(m.ttl / 2)
    defer ticker.Stop()
    for {
        select {
        case <-m.closing:
            return
        case <-ticker.C:
            m.evictIdle(time.Now().Add(-m.ttl))
        }
    }
}

func (m *ConnManager) evictIdle(cutoff time.Time) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for addr, mc := range m.conns {
        if mc.ref == 0 && mc.lastUsed.Before(cutoff) {
            _ = mc.cc.Close()
            obsmetrics.GRPCConnEvictions.Inc()
            obsmetrics.GRPCConnActive.Dec()
            delete(m.conns, addr)
        }
    }
}
