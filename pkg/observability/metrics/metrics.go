package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    GateStatus = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "clustergate",
        Name:      "status",
        Help:      "Gate status: 0 unknown, 1 running, 2 failed",
    })

    GateThreshold = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "clustergate",
        Name:      "threshold",
        Help:      "Expected normal non-client node count",
    })

    GateTopology = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "clustergate",
        Name:      "topology_nodes",
        Help:      "Current number of non-client cluster members",
    })

    GateWaiters = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "clustergate",
        Name:      "waiters",
        Help:      "Number of callers blocked in the gate",
    })

    GateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "clustergate",
        Name:      "transitions_total",
        Help:      "Total status transitions by target status",
    }, []string{"to"})

    GateWakeSweeps = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "clustergate",
        Name:      "wake_sweeps_total",
        Help:      "Total number of waiter registry drains",
    })

    GateWoken = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "clustergate",
        Name:      "woken_total",
        Help:      "Total number of blocked callers released by wake sweeps",
    })

    CheckOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "clustergate",
        Subsystem: "check",
        Name:      "outcomes_total",
        Help:      "Gate check results by outcome",
    }, []string{"outcome"})

    CheckWait = prometheus.NewHistogram(prometheus.HistogramOpts{
        Namespace: "clustergate",
        Subsystem: "check",
        Name:      "wait_seconds",
        Help:      "Time callers spent inside a gate check",
        Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
    })

    MembershipEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "clustergate",
        Subsystem: "membership",
        Name:      "events_total",
        Help:      "Membership notifications consumed by the topology tracker",
    }, []string{"type"})

    ThresholdUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "clustergate",
        Subsystem: "threshold",
        Name:      "updates_total",
        Help:      "Threshold values observed by the watcher",
    }, []string{"result"})

    CoordRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "clustergate",
        Subsystem: "coord",
        Name:      "requests_total",
        Help:      "Coordination store requests served by this node",
    }, []string{"op", "result"})

    CoordWatches = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "clustergate",
        Subsystem: "coord",
        Name:      "watches",
        Help:      "Active coordination watches served by this node",
    })

    IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "clustergate",
        Subsystem: "coord",
        Name:      "is_leader",
        Help:      "1 if this coordination node is the raft leader, else 0",
    })

    JoinRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "clustergate",
        Subsystem: "coord",
        Name:      "join_requests_total",
        Help:      "Total raft join requests handled by this node",
    }, []string{"result"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "clustergate",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "clustergate",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "clustergate",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "clustergate",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(GateStatus)
        prometheus.MustRegister(GateThreshold)
        prometheus.MustRegister(GateTopology)
        prometheus.MustRegister(GateWaiters)
        prometheus.MustRegister(GateTransitions)
        prometheus.MustRegister(GateWakeSweeps)
        prometheus.MustRegister(GateWoken)
        prometheus.MustRegister(CheckOutcomes)
        prometheus.MustRegister(CheckWait)
        prometheus.MustRegister(MembershipEvents)
        prometheus.MustRegister(ThresholdUpdates)
        // coordination
        prometheus.MustRegister(CoordRequests)
        prometheus.MustRegister(CoordWatches)
        prometheus.MustRegister(IsLeader)
        prometheus.MustRegister(JoinRequests)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}
