package node

import (
    "errors"
    "log"
    "time"

    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/discovery"
    "github.com/amirimatin/go-clustergate/pkg/membership"
)

var (
    ErrNoStore  = errors.New("node: no coordination store configured")
    ErrBadProto = errors.New("node: management protocol must be http or grpc")
)

// Config defines the inputs to assemble a gate node. Applications embed the
// gate by providing this structure and calling Build/Run.
type Config struct {
    // Identity and membership addresses
    NodeID string
    MemBind string // membership bind host:port
    MemAdv  string // optional advertise host:port
    Role    string // membership.RoleServer (default) or membership.RoleClient

    // Seeds to join. Discovery overrides SeedsCSV when set.
    SeedsCSV  string
    Discovery discovery.Discovery

    // Coordination store holding the threshold. Store overrides CoordConn,
    // which is a comma-separated list of coordination server management
    // addresses.
    CoordConn  string
    CoordProto string // "http" (default) or "grpc"
    Store      coord.Store
    WatchPath  string

    // Management API (status/gate/metrics). Empty disables it.
    MgmtAddr  string
    MgmtProto string // "http" (default) or "grpc"

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger

    // Membership tuning (optional). Zero means memberlist defaults.
    ProbeInterval time.Duration
}

// Validate checks the configuration without any network activity.
func (c Config) Validate() error {
    if c.NodeID == "" { return errors.New("node: empty NodeID") }
    if c.MemBind == "" { return errors.New("node: empty membership bind address") }
    switch c.Role {
    case "", membership.RoleServer, membership.RoleClient:
    default:
        return errors.New("node: role must be server or client")
    }
    if c.Store == nil && c.CoordConn == "" { return ErrNoStore }
    if c.WatchPath == "" { return errors.New("node: empty watch path") }
    if err := coord.ValidatePath(c.WatchPath); err != nil { return err }
    if !validProto(c.CoordProto) || !validProto(c.MgmtProto) { return ErrBadProto }
    return nil
}

func validProto(p string) bool { return p == "" || p == "http" || p == "grpc" }
