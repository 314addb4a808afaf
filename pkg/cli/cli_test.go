package cli

import (
    "bytes"
    "context"
    "errors"
    "io"
    "log"
    "strings"
    "testing"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/coordserver"
    "github.com/amirimatin/go-clustergate/pkg/threshold"
)

func execute(args ...string) (string, error) {
    root := NewRootCommand()
    var out bytes.Buffer
    root.SetOut(&out)
    root.SetErr(io.Discard)
    root.SetArgs(args)
    err := root.Execute()
    return out.String(), err
}

func startCoord(t *testing.T) *coordserver.Server {
    t.Helper()
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    s, err := coordserver.Run(ctx, coordserver.Config{NodeID: "c1", RaftAddr: "127.0.0.1:0", MgmtAddr: "127.0.0.1:0", Bootstrap: true, Logger: log.New(io.Discard, "", 0)})
    if err != nil { t.Fatalf("coord server: %v", err) }
    t.Cleanup(func() { _ = s.Close() })
    deadline := time.Now().Add(5 * time.Second)
    for !s.Consensus().IsLeader() {
        if time.Now().After(deadline) { t.Fatalf("no leader") }
        time.Sleep(50 * time.Millisecond)
    }
    return s
}

func TestExitCode(t *testing.T) {
    if ExitCode(nil) != ExitOK { t.Fatalf("nil error") }
    if ExitCode(errors.New("x")) != ExitError { t.Fatalf("plain error") }
    wrapped := errors.Join(errors.New("ctx"), withCode(ExitBadCount, errors.New("bad")))
    if ExitCode(wrapped) != ExitBadCount { t.Fatalf("wrapped code lost") }
}

func TestThresholdCommands_ArgumentErrors(t *testing.T) {
    cases := []struct {
        args []string
        code int
    }{
        {[]string{"bootstrap"}, ExitUsage},
        {[]string{"bootstrap", "127.0.0.1:1", "/p"}, ExitUsage},
        {[]string{"bootstrap", "127.0.0.1:1", "/p", "3", "extra"}, ExitUsage},
        {[]string{"bootstrap", "127.0.0.1:1", "/p", "three"}, ExitBadCount},
        {[]string{"bootstrap", "127.0.0.1:1", "/p", "-1"}, ExitBadCount},
        {[]string{"set", "127.0.0.1:1", "/p"}, ExitUsage},
        {[]string{"set", "127.0.0.1:1", "/p", "x"}, ExitBadCount},
    }
    for _, c := range cases {
        _, err := execute(c.args...)
        if got := ExitCode(err); got != c.code {
            t.Fatalf("%v: exit %d, want %d (err %v)", c.args, got, c.code, err)
        }
    }
}

func TestBootstrap_AnnouncesBeforeRejectingCount(t *testing.T) {
    out, err := execute("bootstrap", "127.0.0.1:1", "/ignite/normal", "three")
    if ExitCode(err) != ExitBadCount { t.Fatalf("exit %d: %v", ExitCode(err), err) }
    if !strings.Contains(out, "start register connString:127.0.0.1:1, watchPath:/ignite/normal, normalNodes:three") {
        t.Fatalf("start line missing:\n%s", out)
    }
    if strings.Contains(out, "end register") { t.Fatalf("end line printed on failure:\n%s", out) }
}

func TestBootstrap_UnreachableStoreExits7(t *testing.T) {
    _, err := execute("bootstrap", "127.0.0.1:1", "/ignite/normal", "3", "--timeout", "3s")
    if ExitCode(err) != ExitFailure { t.Fatalf("exit %d: %v", ExitCode(err), err) }
}

func TestBootstrap_RegistersOnce(t *testing.T) {
    s := startCoord(t)
    out, err := execute("bootstrap", s.MgmtAddr(), "/ignite/cluster/normal", "3")
    if err != nil { t.Fatalf("bootstrap: %v", err) }
    if !strings.Contains(out, "start register connString:"+s.MgmtAddr()+", watchPath:/ignite/cluster/normal, normalNodes:3") ||
        !strings.Contains(out, "end register") {
        t.Fatalf("progress lines missing:\n%s", out)
    }

    out, err = execute("bootstrap", s.MgmtAddr(), "/ignite/cluster/normal", "5")
    if err != nil || !strings.Contains(out, "already set") { t.Fatalf("second bootstrap: %v\n%s", err, out) }
    n, err := s.Store().Get(context.Background(), "/ignite/cluster/normal")
    if err != nil { t.Fatalf("get: %v", err) }
    if v, _ := threshold.Decode(n.Data); v != 3 { t.Fatalf("threshold = %d, want 3", v) }

    if _, err := execute("set", s.MgmtAddr(), "/ignite/cluster/normal", "5"); err != nil { t.Fatalf("set: %v", err) }
    n, _ = s.Store().Get(context.Background(), "/ignite/cluster/normal")
    if v, _ := threshold.Decode(n.Data); v != 5 { t.Fatalf("threshold after set = %d", v) }

    _, err = execute("set", s.MgmtAddr(), "/ignite/other", "1")
    if ExitCode(err) != ExitFailure { t.Fatalf("set missing path: exit %d %v", ExitCode(err), err) }
}

func TestStatus_CoordServer(t *testing.T) {
    s := startCoord(t)
    out, err := execute("status", "--addr", s.MgmtAddr())
    if err != nil { t.Fatalf("status: %v", err) }
    if !strings.Contains(out, `"nodeId":"c1"`) || !strings.Contains(out, `"isLeader":true`) {
        t.Fatalf("status output: %s", out)
    }
}
