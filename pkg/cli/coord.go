package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-clustergate/pkg/coordserver"
    tracing "github.com/amirimatin/go-clustergate/pkg/observability/tracing"
    "github.com/amirimatin/go-clustergate/pkg/transport"
)

// NewCoordCommand returns the "coord" parent for coordination server commands.
func NewCoordCommand() *cobra.Command {
    parent := &cobra.Command{Use: "coord", Short: "coordination store server commands"}
    parent.AddCommand(NewCoordRunCmd())
    parent.AddCommand(NewCoordJoinCmd())
    return parent
}

// NewCoordRunCmd returns "coord run" which starts a coordination server.
func NewCoordRunCmd() *cobra.Command {
    var (
        cfg         coordserver.Config
        traceEnable bool
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a raft-replicated coordination server",
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
            s, err := coordserver.Run(ctx, cfg)
            if err != nil { return err }
            defer s.Close()
            fmt.Fprintf(cmd.OutOrStdout(), "coordination server %s running at %s. Press Ctrl+C to exit.\n", cfg.NodeID, s.MgmtAddr())
            <-ctx.Done()
            return nil
        },
    }
    f := cmd.Flags()
    f.StringVar(&cfg.NodeID, "id", "", "server id (required)")
    f.StringVar(&cfg.RaftAddr, "raft-addr", "127.0.0.1:9520", "raft bind addr (tcp, must be advertisable)")
    f.StringVar(&cfg.DataDir, "data", "", "raft data dir; empty keeps state in memory")
    f.BoolVar(&cfg.Bootstrap, "bootstrap", false, "bootstrap a single-voter cluster")
    f.StringVar(&cfg.MgmtAddr, "mgmt-addr", ":17950", "management address (coordination API)")
    f.StringVar(&cfg.MgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    f.StringVar(&cfg.JoinAddrs, "join", "", "comma-separated management addresses of existing servers")
    f.DurationVar(&cfg.ApplyTimeout, "apply-timeout", 3*time.Second, "raft apply timeout")
    f.BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    return cmd
}

// NewCoordJoinCmd returns "coord join" which asks a leader to add a voter.
func NewCoordJoinCmd() *cobra.Command {
    var (
        id, raftAddr, addr, proto string
        timeout                   time.Duration
    )
    cmd := &cobra.Command{
        Use:   "join",
        Short: "Request to add a coordination server as a raft voter",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" || raftAddr == "" { return fmt.Errorf("missing required flags: --id and --raft-addr") }
            client, done, err := newClient(proto, timeout)
            if err != nil { return err }
            defer done()
            ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
            defer cancel()
            resp, err := client.PostJoin(ctx, addr, transport.JoinRequest{ID: id, RaftAddr: raftAddr})
            if err != nil { return fmt.Errorf("join error: %w", err) }
            if err := json.NewEncoder(cmd.OutOrStdout()).Encode(resp); err != nil { return err }
            if !resp.Accepted { return fmt.Errorf("join rejected: %s", resp.Error) }
            return nil
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "server id to add (required)")
    cmd.Flags().StringVar(&raftAddr, "raft-addr", "", "server raft address (host:port, required)")
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17950", "management address of the leader")
    cmd.Flags().StringVar(&proto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    return cmd
}
