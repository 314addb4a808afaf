package httpjson

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net"
    "net/http"
    "strconv"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-clustergate/pkg/observability/metrics"
    "github.com/amirimatin/go-clustergate/pkg/observability/tracing"
    "github.com/amirimatin/go-clustergate/pkg/transport"
)

// Long poll bounds for /coord/watch.
const (
    DefaultWatchWait = 25 * time.Second
    MaxWatchWait     = 60 * time.Second
)

// Server is a minimal HTTP server exposing the management endpoints:
// status, join, coordination store access, the gate, metrics and healthz.
type Server struct {
    bind   string
    logger *log.Logger

    mu  sync.Mutex
    srv *http.Server
    ln  net.Listener
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// Start launches the HTTP server and registers handlers backed by h. The
// server is shut down when the context is canceled.
func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    mux := http.NewServeMux()
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    if h.Status != nil {
        mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
            if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
            ctx, end := tracing.StartSpan(r.Context(), "http.status")
            defer end()
            data, err := h.Status(ctx)
            if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
            w.Header().Set("Content-Type", "application/json")
            _, _ = w.Write(data)
        })
    }
    if h.Join != nil {
        mux.HandleFunc("/join", func(w http.ResponseWriter, r *http.Request) {
            if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
            var req transport.JoinRequest
            if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
                http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
                return
            }
            ctx, end := tracing.StartSpan(r.Context(), "http.join", "id", req.ID)
            defer end()
            resp, err := h.Join(ctx, req)
            if err != nil {
                if resp.Error == "" { resp.Error = err.Error() }
                writeJSON(w, http.StatusInternalServerError, resp)
                return
            }
            writeJSON(w, http.StatusOK, resp)
        })
    }
    if h.Store != nil {
        s.coordRoutes(mux, h.Store)
    }
    if h.Gate != nil {
        s.gateRoutes(mux, h.Gate)
    }

    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    srv := &http.Server{Handler: mux}
    s.mu.Lock()
    s.srv, s.ln = srv, ln
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    return nil
}

func (s *Server) coordRoutes(mux *http.ServeMux, st coord.Store) {
    mux.HandleFunc("/coord/node", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        path := r.URL.Query().Get("path")
        ctx, end := tracing.StartSpan(r.Context(), "http.coord.get", "path", path)
        defer end()
        n, err := st.Get(ctx, path)
        countCoord("get", err)
        if err != nil {
            writeJSON(w, coordStatus(err), transport.NodeResponse{Error: coord.ErrorString(err)})
            return
        }
        writeJSON(w, http.StatusOK, transport.NodeResponse{Node: n, Exists: true})
    })
    write := func(op string, fn func(ctx context.Context, path string, data []byte) error) http.HandlerFunc {
        return func(w http.ResponseWriter, r *http.Request) {
            if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
            var req transport.WriteRequest
            if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
                http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
                return
            }
            ctx, end := tracing.StartSpan(r.Context(), "http.coord."+op, "path", req.Path)
            defer end()
            err := fn(ctx, req.Path, req.Data)
            countCoord(op, err)
            if err != nil {
                writeJSON(w, coordStatus(err), transport.WriteResponse{Error: coord.ErrorString(err)})
                return
            }
            writeJSON(w, http.StatusOK, transport.WriteResponse{})
        }
    }
    mux.HandleFunc("/coord/create", write("create", st.Create))
    mux.HandleFunc("/coord/set", write("set", st.Set))
    mux.HandleFunc("/coord/watch", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        q := r.URL.Query()
        path := q.Get("path")
        after, err := parseUint(q.Get("after"))
        if err != nil { http.Error(w, "bad after", http.StatusBadRequest); return }
        wait := DefaultWatchWait
        if v := q.Get("wait"); v != "" {
            ms, err := strconv.ParseInt(v, 10, 64)
            if err != nil || ms <= 0 { http.Error(w, "bad wait", http.StatusBadRequest); return }
            wait = time.Duration(ms) * time.Millisecond
        }
        if wait > MaxWatchWait { wait = MaxWatchWait }

        obsmetrics.CoordWatches.Inc()
        defer obsmetrics.CoordWatches.Dec()
        ctx, cancel := context.WithTimeout(r.Context(), wait)
        defer cancel()
        n, ok, err := coord.WaitChange(ctx, st, path, after)
        if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
            // poll window over: report the unchanged state
            n, err = st.Get(r.Context(), path)
            ok = err == nil
            if errors.Is(err, coord.ErrNoNode) { err = nil }
        }
        countCoord("watch", err)
        if err != nil {
            writeJSON(w, coordStatus(err), transport.NodeResponse{Error: coord.ErrorString(err)})
            return
        }
        writeJSON(w, http.StatusOK, transport.NodeResponse{Node: n, Exists: ok})
    })
}

func (s *Server) gateRoutes(mux *http.ServeMux, g transport.GateService) {
    mux.HandleFunc("/gate", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        writeJSON(w, http.StatusOK, g.Stats())
    })
    mux.HandleFunc("/gate/check", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        var d time.Duration
        if v := r.URL.Query().Get("timeout"); v != "" {
            var err error
            if d, err = time.ParseDuration(v); err != nil || d < 0 {
                http.Error(w, "bad timeout", http.StatusBadRequest)
                return
            }
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.gate.check", "timeout", d.String())
        defer end()
        var out transport.CheckResponse
        if d > 0 {
            out.Outcome = g.CheckTimeout(ctx, d)
        } else {
            out.Outcome = g.Check(ctx)
        }
        out.Stats = g.Stats()
        writeJSON(w, http.StatusOK, out)
    })
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.ln != nil { return s.ln.Addr().String() }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout. Open long polls
// are cut off when it expires.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    err := srv.Shutdown(c)
    if errors.Is(err, context.DeadlineExceeded) { return srv.Close() }
    return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

func coordStatus(err error) int {
    switch {
    case errors.Is(err, coord.ErrNoNode):
        return http.StatusNotFound
    case errors.Is(err, coord.ErrNodeExists), errors.Is(err, coord.ErrNoParent), errors.Is(err, coord.ErrNotEmpty):
        return http.StatusConflict
    case errors.Is(err, coord.ErrBadPath):
        return http.StatusBadRequest
    case errors.Is(err, coord.ErrNotLeader):
        return http.StatusServiceUnavailable
    default:
        return http.StatusInternalServerError
    }
}

func countCoord(op string, err error) {
    res := "ok"
    if err != nil { res = "error" }
    obsmetrics.CoordRequests.WithLabelValues(op, res).Inc()
}

func parseUint(s string) (uint64, error) {
    if s == "" { return 0, nil }
    return strconv.ParseUint(s, 10, 64)
}

var _ transport.RPCServer = (*Server)(nil)
