package membership

import (
    "context"
    "time"
)

// MetaRole is the metadata key carrying a member's role.
const MetaRole = "role"

// Role values published under MetaRole. A member without a role counts as
// a server.
const (
    RoleServer = "server"
    RoleClient = "client"
)

// MemberInfo describes a cluster member as observed by the membership layer
// (e.g., memberlist). Meta carries auxiliary data such as the role and the
// management address.
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

// Role returns the member's declared role, defaulting to RoleServer.
func (m MemberInfo) Role() string {
    if r := m.Meta[MetaRole]; r != "" { return r }
    return RoleServer
}

// IsClient reports whether the member joined as a client. Clients take part
// in gossip but are excluded from the server topology.
func (m MemberInfo) IsClient() bool { return m.Role() == RoleClient }

type EventType string

const (
    // EventJoin indicates a member joined or became visible.
    EventJoin   EventType = "join"
    // EventLeave indicates a member left the cluster.
    EventLeave  EventType = "leave"
    // EventFailed indicates membership marked the node as failed/unreachable.
    EventFailed EventType = "failed"
    // EventUpdate indicates a member's metadata changed.
    EventUpdate EventType = "update"
)

// Event is the translated membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the abstraction over the underlying gossip/failure-detection
// layer. It is responsible for peer discovery, join/leave and event delivery.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}
