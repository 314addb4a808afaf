package httpjson

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strconv"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/gate"
    "github.com/amirimatin/go-clustergate/pkg/transport"
)

// Client is a thin HTTP client for the management API. Status and join
// calls retry with backoff; coordination calls make a single attempt and
// leave retries to transport.Store.
type Client struct {
    httpc   *http.Client
    pollc   *http.Client
    timeout time.Duration
    wait    time.Duration
}

// NewClient constructs a new Client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{
        httpc:   &http.Client{Timeout: timeout, Transport: tr},
        pollc:   &http.Client{Transport: tr},
        timeout: timeout,
        wait:    DefaultWatchWait,
    }
}

// WithWatchWait sets the long poll window requested from servers.
func (c *Client) WithWatchWait(d time.Duration) *Client {
    if d > 0 { c.wait = d }
    return c
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    var out []byte
    err := retry(ctx, func() error {
        req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
        if err != nil { return err }
        resp, err := c.httpc.Do(req)
        if err != nil { return err }
        defer resp.Body.Close()
        b, err := io.ReadAll(resp.Body)
        if err != nil { return err }
        if resp.StatusCode != http.StatusOK {
            return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
        }
        out = b
        return nil
    })
    return out, err
}

func (c *Client) PostJoin(ctx context.Context, addr string, req transport.JoinRequest) (transport.JoinResponse, error) {
    var out transport.JoinResponse
    err := retry(ctx, func() error {
        out = transport.JoinResponse{}
        code, err := c.call(ctx, c.httpc, http.MethodPost, "http://"+addr+"/join", req, &out)
        if err != nil { return err }
        if code != http.StatusOK {
            if out.Error != "" { return fmt.Errorf("join rejected: %s", out.Error) }
            return fmt.Errorf("join status %d", code)
        }
        return nil
    })
    return out, err
}

func (c *Client) Get(ctx context.Context, addr, path string) (coord.Node, error) {
    var out transport.NodeResponse
    u := "http://" + addr + "/coord/node?path=" + url.QueryEscape(path)
    if err := c.coordCall(ctx, c.httpc, http.MethodGet, u, nil, &out, &out.Error); err != nil {
        return coord.Node{}, err
    }
    return out.Node, nil
}

func (c *Client) Create(ctx context.Context, addr, path string, data []byte) error {
    var out transport.WriteResponse
    return c.coordCall(ctx, c.httpc, http.MethodPost, "http://"+addr+"/coord/create", transport.WriteRequest{Path: path, Data: data}, &out, &out.Error)
}

func (c *Client) Set(ctx context.Context, addr, path string, data []byte) error {
    var out transport.WriteResponse
    return c.coordCall(ctx, c.httpc, http.MethodPost, "http://"+addr+"/coord/set", transport.WriteRequest{Path: path, Data: data}, &out, &out.Error)
}

func (c *Client) WaitChange(ctx context.Context, addr, path string, after uint64) (coord.Node, bool, error) {
    q := url.Values{}
    q.Set("path", path)
    q.Set("after", strconv.FormatUint(after, 10))
    q.Set("wait", strconv.FormatInt(c.wait.Milliseconds(), 10))
    pctx, cancel := context.WithTimeout(ctx, c.wait+c.timeout)
    defer cancel()
    var out transport.NodeResponse
    if err := c.coordCall(pctx, c.pollc, http.MethodGet, "http://"+addr+"/coord/watch?"+q.Encode(), nil, &out, &out.Error); err != nil {
        return coord.Node{}, false, err
    }
    return out.Node, out.Exists, nil
}

func (c *Client) GateStats(ctx context.Context, addr string) (gate.Stats, error) {
    var out gate.Stats
    code, err := c.call(ctx, c.httpc, http.MethodGet, "http://"+addr+"/gate", nil, &out)
    if err != nil { return out, err }
    if code != http.StatusOK { return out, fmt.Errorf("gate status %d", code) }
    return out, nil
}

// GateCheck asks addr's gate to wait up to timeout. Zero waits until the
// gate opens or ctx is done.
func (c *Client) GateCheck(ctx context.Context, addr string, timeout time.Duration) (gate.Outcome, error) {
    u := "http://" + addr + "/gate/check"
    if timeout > 0 { u += "?timeout=" + url.QueryEscape(timeout.String()) }
    cctx := ctx
    if timeout > 0 {
        var cancel context.CancelFunc
        cctx, cancel = context.WithTimeout(ctx, timeout+c.timeout)
        defer cancel()
    }
    var out transport.CheckResponse
    code, err := c.call(cctx, c.pollc, http.MethodGet, u, nil, &out)
    if err != nil { return gate.OutcomeCanceled, err }
    if code != http.StatusOK { return gate.OutcomeCanceled, fmt.Errorf("gate check status %d", code) }
    return out.Outcome, nil
}

// coordCall decodes a coordination reply and maps its error field back to
// the coord sentinels.
func (c *Client) coordCall(ctx context.Context, hc *http.Client, method, u string, in, out any, errField *string) error {
    code, err := c.call(ctx, hc, method, u, in, out)
    if err != nil { return err }
    if *errField != "" { return coord.ErrorFromString(*errField) }
    if code != http.StatusOK { return fmt.Errorf("%s %s: status %d", method, u, code) }
    return nil
}

func (c *Client) call(ctx context.Context, hc *http.Client, method, u string, in, out any) (int, error) {
    var body io.Reader
    if in != nil {
        b, err := json.Marshal(in)
        if err != nil { return 0, err }
        body = bytes.NewReader(b)
    }
    req, err := http.NewRequestWithContext(ctx, method, u, body)
    if err != nil { return 0, err }
    if in != nil { req.Header.Set("Content-Type", "application/json") }
    resp, err := hc.Do(req)
    if err != nil { return 0, err }
    defer resp.Body.Close()
    b, err := io.ReadAll(resp.Body)
    if err != nil { return resp.StatusCode, err }
    if err := json.Unmarshal(b, out); err != nil {
        return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
    }
    return resp.StatusCode, nil
}

// retry makes up to three attempts with 100ms, 200ms backoff between them.
func retry(ctx context.Context, fn func() error) error {
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        if lastErr = fn(); lastErr == nil { return nil }
        if attempt == 2 { break }
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return lastErr
}

var _ transport.RPCClient = (*Client)(nil)
