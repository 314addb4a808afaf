package memberlist

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    base "github.com/amirimatin/go-clustergate/pkg/membership"
    "github.com/amirimatin/go-clustergate/pkg/internal/logutil"
)

// Options configures the memberlist-based membership implementation.
type Options struct {
    // NodeID is the unique node identifier.
    NodeID string

    // Bind is the bind address in host:port form (e.g. ":7946" or "0.0.0.0:7946").
    // Port 0 picks a free port.
    Bind string

    // Advertise is the advertised address (host:port) that peers will use to reach this node.
    // If empty, memberlist derives it from Bind.
    Advertise string

    // Role is published under membership.MetaRole. Empty means server.
    Role string

    // Meta is optional metadata associated with the node.
    Meta map[string]string

    // Logger is optional. If nil, log.Default() is used.
    Logger *log.Logger

    // Tuning parameters (optional). Zero means use defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

// impl implements base.Membership using HashiCorp memberlist.
type impl struct {
    mu     sync.RWMutex
    opts   Options
    meta   map[string]string
    ml     *memberlist.Memberlist
    evts   chan base.Event
    closed bool

    // evMu orders sends on evts against its close. It is separate from mu
    // because memberlist.Create delivers the local join while Start holds mu.
    evMu     sync.RWMutex
    evClosed bool
}

// New constructs a memberlist-backed membership.
func New(opts Options) (base.Membership, error) {
    if opts.NodeID == "" {
        return nil, fmt.Errorf("memberlist: empty NodeID")
    }
    if opts.Bind == "" {
        return nil, fmt.Errorf("memberlist: empty Bind address")
    }
    switch opts.Role {
    case "":
        opts.Role = base.RoleServer
    case base.RoleServer, base.RoleClient:
    default:
        return nil, fmt.Errorf("memberlist: unknown role %q", opts.Role)
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    meta := make(map[string]string, len(opts.Meta)+1)
    for k, v := range opts.Meta { meta[k] = v }
    meta[base.MetaRole] = opts.Role
    return &impl{
        opts: opts,
        meta: meta,
        evts: make(chan base.Event, 64),
    }, nil
}

// Start creates and launches the underlying memberlist instance.
func (m *impl) Start(ctx context.Context) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.ml != nil {
        return nil
    }
    if m.closed {
        return fmt.Errorf("memberlist: stopped")
    }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = m.opts.NodeID
    host, port, err := splitHostPort(m.opts.Bind)
    if err != nil {
        return fmt.Errorf("memberlist: invalid bind address %q: %w", m.opts.Bind, err)
    }
    cfg.BindAddr = host
    cfg.BindPort = port

    if m.opts.Advertise != "" {
        ahost, aport, err := splitHostPort(m.opts.Advertise)
        if err != nil {
            return fmt.Errorf("memberlist: invalid advertise address %q: %w", m.opts.Advertise, err)
        }
        cfg.AdvertiseAddr = ahost
        cfg.AdvertisePort = aport
    }

    if m.opts.ProbeInterval > 0 {
        cfg.ProbeInterval = m.opts.ProbeInterval
    }
    if m.opts.ProbeTimeout > 0 {
        cfg.ProbeTimeout = m.opts.ProbeTimeout
    }
    if m.opts.SuspicionMult > 0 {
        cfg.SuspicionMult = m.opts.SuspicionMult
    }
    cfg.LogOutput = m.opts.Logger.Writer()

    cfg.Events = &eventDelegate{emit: m.emit}
    metaBytes, err := json.Marshal(m.meta)
    if err != nil { return err }
    if len(metaBytes) > memberlist.MetaMaxSize {
        return fmt.Errorf("memberlist: metadata exceeds %d bytes", memberlist.MetaMaxSize)
    }
    cfg.Delegate = &nodeDelegate{meta: metaBytes}

    ml, err := memberlist.Create(cfg)
    if err != nil {
        return err
    }
    m.ml = ml
    logutil.Infof(m.opts.Logger, "memberlist: %s started as %s on %s", m.opts.NodeID, m.opts.Role, m.opts.Bind)

    go func() {
        <-ctx.Done()
        _ = m.Stop()
    }()

    return nil
}

func (m *impl) Join(seeds []string) error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil {
        return fmt.Errorf("memberlist: not started")
    }
    if len(seeds) == 0 {
        return nil
    }
    n, err := ml.Join(seeds)
    if err != nil {
        return err
    }
    logutil.Infof(m.opts.Logger, "memberlist: joined via %d of %d seeds", n, len(seeds))
    return nil
}

func (m *impl) Local() base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return base.MemberInfo{}
    }
    info := toInfo(m.ml.LocalNode())
    if len(info.Meta) == 0 { info.Meta = m.meta }
    return info
}

func (m *impl) Members() []base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return nil
    }
    nodes := m.ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes {
        out = append(out, toInfo(n))
    }
    return out
}

func (m *impl) Events() <-chan base.Event { return m.evts }

func (m *impl) Leave() error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil {
        return nil
    }
    // best-effort: leave and give some time to broadcast
    _ = ml.Leave(time.Second)
    return nil
}

// Stop shuts memberlist down and closes the events channel. Callbacks that
// fire afterwards are discarded by emit.
func (m *impl) Stop() error {
    m.mu.Lock()
    if m.closed {
        m.mu.Unlock()
        return nil
    }
    m.closed = true
    ml := m.ml
    m.ml = nil
    m.mu.Unlock()

    if ml != nil { _ = ml.Shutdown() }

    m.evMu.Lock()
    m.evClosed = true
    close(m.evts)
    m.evMu.Unlock()
    return nil
}

// HealthScore exposes memberlist's awareness score if available.
// Implements membership.HealthReporter.
func (m *impl) HealthScore() int {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil {
        return -1
    }
    return m.ml.GetHealthScore()
}

// eventDelegate adapts memberlist events to base.Event.
type eventDelegate struct {
    emit func(e base.Event)
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node)   { d.notify(base.EventJoin, n) }
// memberlist conflates explicit leave and failure, both arrive here.
func (d *eventDelegate) NotifyLeave(n *memberlist.Node)  { d.notify(base.EventLeave, n) }
func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) { d.notify(base.EventUpdate, n) }

func (d *eventDelegate) notify(t base.EventType, n *memberlist.Node) {
    if d.emit == nil || n == nil { return }
    d.emit(base.Event{Type: t, Member: toInfo(n), At: time.Now()})
}

func (m *impl) emit(e base.Event) {
    m.evMu.RLock()
    defer m.evMu.RUnlock()
    if m.evClosed { return }
    select {
    case m.evts <- e:
    default:
        logutil.Warnf(m.opts.Logger, "memberlist: dropping %s event for %s: channel full", e.Type, e.Member.ID)
    }
}

func toInfo(n *memberlist.Node) base.MemberInfo {
    meta := map[string]string{}
    if len(n.Meta) > 0 { _ = json.Unmarshal(n.Meta, &meta) }
    return base.MemberInfo{ID: n.Name, Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))), Meta: meta}
}

func splitHostPort(hp string) (string, int, error) {
    host, ps, err := net.SplitHostPort(hp)
    if err != nil { return "", 0, err }
    p, err := strconv.Atoi(ps)
    if err != nil || p < 0 || p > 65535 {
        return "", 0, fmt.Errorf("invalid port: %q", ps)
    }
    return host, p, nil
}

// nodeDelegate implements memberlist.Delegate to propagate node metadata.
type nodeDelegate struct{ meta []byte }

// NodeMeta is used to retrieve meta-data about the current node when broadcasting
// an alive message. The returned byte slice will be truncated to the given limit,
// as it will be broadcast in gossip.
func (d *nodeDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) <= limit { return d.meta }
    if limit <= 0 { return nil }
    return d.meta[:limit]
}

// Unused hooks; required to satisfy the interface.
func (d *nodeDelegate) NotifyMsg([]byte)                       {}
func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *nodeDelegate) LocalState(join bool) []byte            { return nil }
func (d *nodeDelegate) MergeRemoteState(buf []byte, join bool) {}
