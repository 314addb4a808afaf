package cli

import (
    "context"
    "errors"
    "fmt"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-clustergate/pkg/internal/logutil"
    "github.com/amirimatin/go-clustergate/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-clustergate/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-clustergate/pkg/transport/httpjson"
)

// Process exit codes. The threshold commands map their failures onto
// ExitUsage, ExitBadCount and ExitFailure.
const (
    ExitOK       = 0
    ExitError    = 1
    ExitNotReady = 2
    ExitFailure  = 7
    ExitBadCount = 8
    ExitUsage    = 9
)

// CodeError carries the process exit code for a failed command.
type CodeError struct {
    Code int
    Err  error
}

func (e *CodeError) Error() string {
    if e.Err == nil { return fmt.Sprintf("exit status %d", e.Code) }
    return e.Err.Error()
}

func (e *CodeError) Unwrap() error { return e.Err }

func withCode(code int, err error) error { return &CodeError{Code: code, Err: err} }

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
    if err == nil { return ExitOK }
    var ce *CodeError
    if errors.As(err, &ce) { return ce.Code }
    return ExitError
}

// NewRootCommand returns the gatectl command tree.
func NewRootCommand() *cobra.Command {
    var logJSON bool
    root := &cobra.Command{
        Use:           "gatectl",
        Short:         "cluster health gate: nodes, coordination servers and threshold tools",
        SilenceUsage:  true,
        SilenceErrors: true,
        PersistentPreRun: func(cmd *cobra.Command, args []string) {
            if logJSON { logutil.SetJSON(true) }
        },
    }
    root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit JSON log lines (also GATE_LOG_JSON=1)")
    AddAll(root)
    return root
}

// AddAll attaches the gate subcommands to root so services can embed them.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewCheckCmd())
    root.AddCommand(NewBootstrapCmd())
    root.AddCommand(NewSetCmd())
    root.AddCommand(NewCoordCommand())
}

func newClient(proto string, timeout time.Duration) (transport.RPCClient, func(), error) {
    switch proto {
    case "grpc":
        c := mgmtgrpc.NewClient(timeout)
        return c, c.Close, nil
    case "", "http":
        return httpjson.NewClient(timeout), func() {}, nil
    default:
        return nil, nil, fmt.Errorf("unknown protocol %q (http|grpc)", proto)
    }
}

func signalContext() (context.Context, context.CancelFunc) {
    return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
