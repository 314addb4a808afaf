package cli

import (
    "context"
    "fmt"
    "log"
    "strconv"
    "strings"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-clustergate/pkg/threshold"
    "github.com/amirimatin/go-clustergate/pkg/transport"
)

// thresholdArgs rejects anything but <conn> <path> <count> with ExitUsage.
func thresholdArgs(cmd *cobra.Command, args []string) error {
    if len(args) != 3 {
        return withCode(ExitUsage, fmt.Errorf("usage: %s", cmd.UseLine()))
    }
    return nil
}

// thresholdFlagError maps flag parse failures. A negative count such as -3
// reaches pflag as an unknown shorthand and is reported as a bad count.
func thresholdFlagError(cmd *cobra.Command, err error) error {
    msg := err.Error()
    if i := strings.LastIndex(msg, " in -"); i >= 0 {
        if _, perr := strconv.ParseInt(msg[i+4:], 10, 64); perr == nil {
            return withCode(ExitBadCount, fmt.Errorf("normal node count %s is negative", msg[i+4:]))
        }
    }
    return withCode(ExitUsage, err)
}

func parseCount(s string) (uint64, error) {
    n, err := strconv.ParseUint(s, 10, 64)
    if err != nil {
        return 0, withCode(ExitBadCount, fmt.Errorf("normal node count %q is not a non-negative integer", s))
    }
    return n, nil
}

type storeFlags struct {
    proto   string
    timeout time.Duration
}

func (f *storeFlags) bind(cmd *cobra.Command) {
    cmd.SetFlagErrorFunc(thresholdFlagError)
    cmd.Flags().StringVar(&f.proto, "coord-proto", "http", "coordination RPC protocol: http|grpc")
    cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "overall deadline")
}

// open dials conn and returns a store plus a release func.
func (f *storeFlags) open(conn string) (*transport.Store, func(), error) {
    client, done, err := newClient(f.proto, 3*time.Second)
    if err != nil { return nil, nil, err }
    st, err := transport.NewStore(client, conn, log.Default())
    if err != nil { done(); return nil, nil, err }
    return st, done, nil
}

// NewBootstrapCmd returns the "bootstrap" command which registers the normal
// node count under a path unless it is already set.
func NewBootstrapCmd() *cobra.Command {
    var sf storeFlags
    cmd := &cobra.Command{
        Use:   "bootstrap <connection-string> <watch-path> <normal-node-count>",
        Short: "Register the normal node count in the coordination store (no-op if present)",
        Args:  thresholdArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            conn, path := args[0], args[1]
            out := cmd.OutOrStdout()
            fmt.Fprintf(out, "start register connString:%s, watchPath:%s, normalNodes:%s\n", conn, path, args[2])
            count, err := parseCount(args[2])
            if err != nil { return err }

            st, done, err := sf.open(conn)
            if err != nil { return withCode(ExitFailure, err) }
            defer done()
            ctx, cancel := context.WithTimeout(cmd.Context(), sf.timeout)
            defer cancel()
            created, err := threshold.Register(ctx, st, path, count)
            if err != nil { return withCode(ExitFailure, fmt.Errorf("register %s: %w", path, err)) }
            if !created {
                fmt.Fprintf(out, "path %s already set, left untouched\n", path)
            }
            fmt.Fprintf(out, "end register connString:%s, watchPath:%s, normalNodes:%s\n", conn, path, args[2])
            return nil
        },
    }
    sf.bind(cmd)
    return cmd
}

// NewSetCmd returns the "set" command which overwrites an existing
// threshold; running gate nodes pick the value up live.
func NewSetCmd() *cobra.Command {
    var sf storeFlags
    cmd := &cobra.Command{
        Use:   "set <connection-string> <watch-path> <normal-node-count>",
        Short: "Update the normal node count of an existing path",
        Args:  thresholdArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            conn, path := args[0], args[1]
            count, err := parseCount(args[2])
            if err != nil { return err }
            st, done, err := sf.open(conn)
            if err != nil { return withCode(ExitFailure, err) }
            defer done()
            ctx, cancel := context.WithTimeout(cmd.Context(), sf.timeout)
            defer cancel()
            if err := threshold.Update(ctx, st, path, count); err != nil {
                return withCode(ExitFailure, fmt.Errorf("set %s: %w", path, err))
            }
            fmt.Fprintf(cmd.OutOrStdout(), "set %s = %d\n", path, count)
            return nil
        },
    }
    sf.bind(cmd)
    return cmd
}
