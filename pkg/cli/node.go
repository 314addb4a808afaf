package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-clustergate/pkg/gate"
    "github.com/amirimatin/go-clustergate/pkg/membership"
    "github.com/amirimatin/go-clustergate/pkg/node"
    tracing "github.com/amirimatin/go-clustergate/pkg/observability/tracing"
)

// NewRunCmd returns the "run" command which starts a gate node.
func NewRunCmd() *cobra.Command {
    var (
        cfg         node.Config
        traceEnable bool
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a gate node",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            if cfg.NodeID == "" { return fmt.Errorf("missing --id") }
            ctx, cancel := signalContext()
            defer cancel()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    log.Printf("tracing setup error: %v", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            cfg.Logger = log.Default()
            n, err := node.Run(ctx, cfg)
            if err != nil { return err }
            defer n.Close()

            fmt.Fprintf(cmd.OutOrStdout(), "gate node %s running (%s). Press Ctrl+C to exit.\n", cfg.NodeID, cfg.Role)
            select {
            case <-ctx.Done():
                return nil
            case err := <-n.Err():
                return err
            }
        },
    }
    f := cmd.Flags()
    f.StringVar(&cfg.NodeID, "id", "", "node id (required)")
    f.StringVar(&cfg.MemBind, "mem-bind", ":7946", "membership bind addr (host:port)")
    f.StringVar(&cfg.MemAdv, "mem-adv", "", "membership advertise addr (host:port, optional)")
    f.StringVar(&cfg.Role, "role", membership.RoleServer, "membership role: server|client (clients are not counted)")
    f.StringVar(&cfg.SeedsCSV, "join", "", "comma-separated membership seeds (host:port)")
    f.StringVar(&cfg.CoordConn, "coord", "127.0.0.1:17950", "comma-separated coordination server management addresses")
    f.StringVar(&cfg.CoordProto, "coord-proto", "http", "coordination RPC protocol: http|grpc")
    f.StringVar(&cfg.WatchPath, "path", "", "coordination path holding the normal node count (required)")
    f.StringVar(&cfg.MgmtAddr, "mgmt-addr", ":17946", "management address; empty disables it")
    f.StringVar(&cfg.MgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    f.DurationVar(&cfg.ProbeInterval, "probe-interval", 0, "membership probe interval (0 = memberlist default)")
    f.BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var (
        addr, proto string
        timeout     time.Duration
    )
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch node or coordination server status as JSON",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            client, done, err := newClient(proto, timeout)
            if err != nil { return err }
            defer done()
            ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
            defer cancel()
            data, err := client.GetStatus(ctx, addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            out := cmd.OutOrStdout()
            _, _ = out.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' { _, _ = out.Write([]byte("\n")) }
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "management address (host:port)")
    cmd.Flags().StringVar(&proto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    return cmd
}

// NewCheckCmd returns the "check" command: a remote gate check. It exits 0
// when the gate is running and ExitNotReady otherwise.
func NewCheckCmd() *cobra.Command {
    var (
        addr, proto string
        wait        time.Duration
    )
    cmd := &cobra.Command{
        Use:   "check",
        Short: "Block until a node's gate is running or --timeout elapses",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            client, done, err := newClient(proto, 3*time.Second)
            if err != nil { return err }
            defer done()
            ctx, cancel := signalContext()
            defer cancel()
            outcome, err := client.GateCheck(ctx, addr, wait)
            if err != nil { return fmt.Errorf("check error: %w", err) }
            _ = json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]gate.Outcome{"outcome": outcome})
            if outcome != gate.OutcomeReady {
                return withCode(ExitNotReady, fmt.Errorf("gate not ready: %s", outcome))
            }
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "management address of a gate node")
    cmd.Flags().StringVar(&proto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().DurationVar(&wait, "timeout", 0, "maximum wait; 0 waits until the gate opens")
    return cmd
}
