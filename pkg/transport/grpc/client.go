package grpc

import (
    "context"
    "fmt"
    "io"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/gate"
    "github.com/amirimatin/go-clustergate/pkg/transport"
)

// DefaultWatchWait bounds one WaitChange call when the path stays unchanged.
const DefaultWatchWait = 25 * time.Second

// Client implements transport.RPCClient over cached gRPC connections.
type Client struct {
    timeout time.Duration
    wait    time.Duration
    cm      *ConnManager
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    c := &Client{timeout: timeout, wait: DefaultWatchWait}
    c.cm = NewConnManager(30*time.Second, c.dialCtx)
    return c
}

// WithWatchWait sets how long WaitChange waits for a change.
func (c *Client) WithWatchWait(d time.Duration) *Client {
    if d > 0 { c.wait = d }
    return c
}

// Close releases cached connections.
func (c *Client) Close() { c.cm.Close() }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    // Use JSON codec and set content subtype accordingly.
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithTransportCredentials(insecure.NewCredentials()),
        grpc.WithBlock(),
    }
    return grpc.DialContext(ctx, target, opts...)
}

func (c *Client) invoke(ctx context.Context, addr, method string, in, out any) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.cm.Get(cctx, addr)
    if err != nil { return err }
    defer rel()
    return cc.Invoke(cctx, method, in, out)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    out := new(statusBlob)
    if err := c.invoke(ctx, addr, "/gate.v1.Coord/Status", &empty{}, out); err != nil { return nil, err }
    return out.Data, nil
}

func (c *Client) PostJoin(ctx context.Context, addr string, req transport.JoinRequest) (transport.JoinResponse, error) {
    var resp transport.JoinResponse
    if err := c.invoke(ctx, addr, "/gate.v1.Coord/Join", &req, &resp); err != nil { return resp, err }
    if !resp.Accepted && resp.Error != "" { return resp, fmt.Errorf("join rejected: %s", resp.Error) }
    return resp, nil
}

func (c *Client) Get(ctx context.Context, addr, path string) (coord.Node, error) {
    var resp transport.NodeResponse
    if err := c.invoke(ctx, addr, "/gate.v1.Coord/Get", &transport.NodeRequest{Path: path}, &resp); err != nil {
        return coord.Node{}, err
    }
    if resp.Error != "" { return coord.Node{}, coord.ErrorFromString(resp.Error) }
    return resp.Node, nil
}

func (c *Client) Create(ctx context.Context, addr, path string, data []byte) error {
    var resp transport.WriteResponse
    if err := c.invoke(ctx, addr, "/gate.v1.Coord/Create", &transport.WriteRequest{Path: path, Data: data}, &resp); err != nil {
        return err
    }
    return coord.ErrorFromString(resp.Error)
}

func (c *Client) Set(ctx context.Context, addr, path string, data []byte) error {
    var resp transport.WriteResponse
    if err := c.invoke(ctx, addr, "/gate.v1.Coord/Set", &transport.WriteRequest{Path: path, Data: data}, &resp); err != nil {
        return err
    }
    return coord.ErrorFromString(resp.Error)
}

// WaitChange opens a Watch stream and returns the first state whose
// revision differs from after. When the wait window ends first it returns
// the state seen last.
func (c *Client) WaitChange(ctx context.Context, addr, path string, after uint64) (coord.Node, bool, error) {
    dctx, dcancel := context.WithTimeout(ctx, c.timeout)
    cc, rel, err := c.cm.Get(dctx, addr)
    dcancel()
    if err != nil { return coord.Node{}, false, err }
    defer rel()

    wctx, cancel := context.WithTimeout(ctx, c.wait)
    defer cancel()
    cs, err := cc.NewStream(wctx, &grpc.StreamDesc{ServerStreams: true}, "/gate.v1.Coord/Watch")
    if err != nil { return coord.Node{}, false, err }
    if err := cs.SendMsg(&transport.NodeRequest{Path: path}); err != nil { return coord.Node{}, false, err }
    _ = cs.CloseSend()

    var (
        cur    coord.Node
        exists bool
        seen   bool
    )
    for {
        var ev coord.Event
        if err := cs.RecvMsg(&ev); err != nil {
            if seen && ctx.Err() == nil && (err == io.EOF || isCanceled(err)) {
                return cur, exists, nil
            }
            if ctx.Err() != nil { return coord.Node{}, false, ctx.Err() }
            return coord.Node{}, false, err
        }
        seen = true
        if ev.Type == coord.EventDeleted {
            cur, exists = coord.Node{Path: path}, false
            if after != 0 { return cur, false, nil }
            continue
        }
        cur, exists = ev.Node, true
        if ev.Node.Revision != after { return cur, true, nil }
    }
}

func (c *Client) GateStats(ctx context.Context, addr string) (gate.Stats, error) {
    var out gate.Stats
    err := c.invoke(ctx, addr, "/gate.v1.Gate/Stats", &empty{}, &out)
    return out, err
}

// GateCheck asks addr's gate to wait up to timeout. Zero waits until the
// gate opens or ctx is done.
func (c *Client) GateCheck(ctx context.Context, addr string, timeout time.Duration) (gate.Outcome, error) {
    dctx, dcancel := context.WithTimeout(ctx, c.timeout)
    cc, rel, err := c.cm.Get(dctx, addr)
    dcancel()
    if err != nil { return gate.OutcomeCanceled, err }
    defer rel()
    cctx := ctx
    if timeout > 0 {
        var cancel context.CancelFunc
        cctx, cancel = context.WithTimeout(ctx, timeout+c.timeout)
        defer cancel()
    }
    var out transport.CheckResponse
    if err := cc.Invoke(cctx, "/gate.v1.Gate/Check", &transport.CheckRequest{TimeoutMillis: timeout.Milliseconds()}, &out); err != nil {
        return gate.OutcomeCanceled, err
    }
    return out.Outcome, nil
}

var _ transport.RPCClient = (*Client)(nil)
