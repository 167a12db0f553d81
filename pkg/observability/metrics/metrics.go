package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    IsPrimary = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "journal",
        Name:      "is_primary",
        Help:      "1 if this peer is the journal primary, else 0",
    })

    PrimacyChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "journal",
        Name:      "primacy_changes_total",
        Help:      "Total number of observed primacy transitions",
    })

    LastAppliedSN = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "journal",
        Name:      "last_applied_sn",
        Help:      "Latest journal sequence number applied locally",
    })

    EntriesApplied = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "journal",
        Name:      "entries_applied_total",
        Help:      "Total journal entries replayed into logical journals",
    })

    Appends = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "journal",
        Name:      "appends_total",
        Help:      "Total journal entries committed by this writer",
    })

    AppendInflightBytes = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "journal",
        Name:      "append_inflight_bytes",
        Help:      "Bytes submitted to the consensus engine awaiting commit",
    })

    Snapshots = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "journal",
        Name:      "snapshots_total",
        Help:      "Total snapshot attempts by result",
    }, []string{"result"})

    CatchupRounds = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "journal",
        Name:      "catchup_rounds_total",
        Help:      "Total term-start sentinel rounds during catch-up",
    })

    TransferRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "journal",
        Name:      "transfer_requests_total",
        Help:      "Total leadership transfer requests by result",
    }, []string{"result"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "journal",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "journal",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "journal",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "journal",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(IsPrimary)
        prometheus.MustRegister(PrimacyChanges)
        prometheus.MustRegister(LastAppliedSN)
        prometheus.MustRegister(EntriesApplied)
        prometheus.MustRegister(Appends)
        prometheus.MustRegister(AppendInflightBytes)
        prometheus.MustRegister(Snapshots)
        prometheus.MustRegister(CatchupRounds)
        prometheus.MustRegister(TransferRequests)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}
