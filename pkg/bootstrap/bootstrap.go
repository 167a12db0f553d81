package bootstrap

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "log"
    "time"

    "github.com/amirimatin/go-raft-journal/pkg/consensus"
    raftcons "github.com/amirimatin/go-raft-journal/pkg/consensus/raft"
    "github.com/amirimatin/go-raft-journal/pkg/discovery"
    dDNS "github.com/amirimatin/go-raft-journal/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-raft-journal/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-raft-journal/pkg/discovery/static"
    "github.com/amirimatin/go-raft-journal/pkg/journal"
    ml "github.com/amirimatin/go-raft-journal/pkg/membership/memberlist"
    tlsx "github.com/amirimatin/go-raft-journal/pkg/security/tlsconfig"
    "github.com/amirimatin/go-raft-journal/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-raft-journal/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-raft-journal/pkg/transport/httpjson"
)

// Config defines high-level inputs to assemble a journal node with sensible
// defaults. Applications embed the journal by providing this structure to
// Build, registering their masters on the returned Node and calling Start.
type Config struct {
    // Identity and addresses
    RaftAddr    string   // consensus bind address, e.g. "127.0.0.1:9520"
    ClusterCSV  string   // comma-separated peer set; empty means single peer
    JournalDir  string   // journal root directory

    // Membership (gossip failure detection)
    MemBind string // membership bind host:port; empty disables membership
    MemAdv  string // optional advertise host:port

    // Management API (status/quorum/metrics)
    MgmtAddr  string // host:port for management API (HTTP or gRPC)
    MgmtProto string // "http" (default) or "grpc"

    // Discovery settings for membership seeds
    DiscoveryKind string        // "static" (default), "dns", or "file"
    SeedsCSV      string        // used when DiscoveryKind=static
    DNSNamesCSV   string        // used when kind=dns
    DNSPort       int           // used when kind=dns (A/AAAA)
    DiscRefresh   time.Duration // cache/refresh duration for discovery
    FilePath      string        // used when kind=file
    FileEnv       string        // used when kind=file

    // Consensus tuning (optional)
    ElectionTimeout  time.Duration
    HeartbeatTimeout time.Duration
    SnapshotThreshold uint64

    // TLS (optional) for management API
    TLSEnable     bool
    TLSCA         string
    TLSCert       string
    TLSKey        string
    TLSServerName string
    TLSSkipVerify bool

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger
}

// Node bundles the assembled journal system with its management endpoint.
type Node struct {
    System *journal.System
    Engine *raftcons.Node
    mgmt   transport.RPCServer
}

// Mgmt returns the management server, if configured.
func (n *Node) Mgmt() transport.RPCServer { return n.mgmt }

// Close stops the management endpoint and the journal system.
func (n *Node) Close() error {
    if n.mgmt != nil {
        _ = n.mgmt.Stop(context.Background())
    }
    return n.System.Close()
}

// Build assembles a journal node from Config without starting it. Masters
// must be registered via Node.System.CreateJournal before Start.
func Build(cfg Config) (*Node, error) {
    if cfg.Logger == nil { cfg.Logger = log.Default() }

    cluster := dStatic.Parse(cfg.ClusterCSV)
    if len(cluster) == 0 { cluster = []string{cfg.RaftAddr} }

    // Discovery backend for membership seeds
    var disc discovery.Discovery
    switch cfg.DiscoveryKind {
    case "dns":
        names := dStatic.Parse(cfg.DNSNamesCSV)
        opts := dDNS.Options{Names: names, Port: cfg.DNSPort}
        if cfg.DiscRefresh > 0 { opts.Refresh = cfg.DiscRefresh }
        disc = dDNS.New(opts)
    case "file":
        opts := dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv}
        if cfg.DiscRefresh > 0 { opts.Refresh = cfg.DiscRefresh }
        disc = dFile.New(opts)
    default:
        disc = dStatic.New(dStatic.Parse(cfg.SeedsCSV)...)
    }

    eopts := raftcons.Options{
        LocalAddr:         cfg.RaftAddr,
        ClusterAddrs:      cluster,
        Dir:               cfg.JournalDir,
        Logger:            cfg.Logger,
        ElectionTimeout:   cfg.ElectionTimeout,
        HeartbeatTimeout:  cfg.HeartbeatTimeout,
        SnapshotThreshold: cfg.SnapshotThreshold,
    }

    jopts := journal.Options{
        Dir:                cfg.JournalDir,
        LocalAddr:          cfg.RaftAddr,
        Logger:             cfg.Logger,
        Discovery:          disc,
        MaxElectionTimeout: eopts.MaxElectionTimeout(),
    }

    // Membership (memberlist) for peer availability
    if cfg.MemBind != "" {
        memMeta := map[string]string{}
        if cfg.MgmtAddr != "" { memMeta["mgmt"] = cfg.MgmtAddr }
        mem, err := ml.New(ml.Options{
            NodeID:    raftcons.PeerID(cfg.RaftAddr),
            Bind:      cfg.MemBind,
            Advertise: cfg.MemAdv,
            Logger:    cfg.Logger,
            Meta:      memMeta,
        })
        if err != nil { return nil, err }
        jopts.Membership = mem
    }

    sys, err := journal.New(jopts)
    if err != nil { return nil, err }

    eopts.NewStateMachine = sys.NewStateMachine
    eng, err := raftcons.New(eopts)
    if err != nil { return nil, err }
    sys.SetEngine(eng)

    n := &Node{System: sys, Engine: eng}

    // Management API
    if cfg.MgmtAddr != "" {
        var srvTLS *tls.Config
        if cfg.TLSEnable {
            topts := tlsx.Options{Enable: true, CAFile: cfg.TLSCA, CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey, InsecureSkipVerify: cfg.TLSSkipVerify, ServerName: cfg.TLSServerName}
            s, err := topts.ServerHotReload()
            if err != nil { return nil, err }
            srvTLS = s
        }
        switch cfg.MgmtProto {
        case "grpc":
            s := mgmtgrpc.NewServer(cfg.MgmtAddr)
            if srvTLS != nil { s.UseTLS(srvTLS) }
            n.mgmt = s
        default:
            s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
            if srvTLS != nil { s.UseTLS(srvTLS) }
            n.mgmt = s
        }
    }
    return n, nil
}

// Run builds and starts the journal node, returning the instance for
// lifecycle control. The caller is responsible for Close when finished.
func Run(ctx context.Context, cfg Config) (*Node, error) {
    n, err := Build(cfg)
    if err != nil { return nil, err }
    if err := n.Start(ctx); err != nil { return nil, err }
    return n, nil
}

// Start launches the journal system and the management endpoint.
func (n *Node) Start(ctx context.Context) error {
    if err := n.System.Start(ctx); err != nil {
        return err
    }
    if n.mgmt != nil {
        if err := n.mgmt.Start(ctx, n.handlers()); err != nil {
            return err
        }
    }
    return nil
}

func (n *Node) handlers() transport.Handlers {
    sys := n.System
    return transport.Handlers{
        Status: func(ctx context.Context) ([]byte, error) {
            st, err := sys.Status(ctx)
            if err != nil { return nil, err }
            return json.Marshal(st)
        },
        QuorumAdd: func(ctx context.Context, req transport.QuorumAddRequest) (transport.QuorumAddResponse, error) {
            if err := sys.AddQuorumServer(ctx, req.Addr); err != nil {
                return transport.QuorumAddResponse{Accepted: false, Error: err.Error()}, nil
            }
            return transport.QuorumAddResponse{Accepted: true}, nil
        },
        QuorumRemove: func(ctx context.Context, req transport.QuorumRemoveRequest) (transport.QuorumRemoveResponse, error) {
            if err := sys.RemoveQuorumServer(ctx, req.Addr); err != nil {
                return transport.QuorumRemoveResponse{Accepted: false, Error: err.Error()}, nil
            }
            return transport.QuorumRemoveResponse{Accepted: true}, nil
        },
        Elect: func(ctx context.Context, req transport.ElectRequest) (transport.ElectResponse, error) {
            id := sys.TransferLeadership(ctx, req.TargetAddr)
            return transport.ElectResponse{TransferID: id}, nil
        },
        TransferMessage: func(ctx context.Context, req transport.TransferMessageRequest) (transport.TransferMessageResponse, error) {
            return transport.TransferMessageResponse{Message: sys.TransferLeaderMessage(req.TransferID)}, nil
        },
        ResetPriorities: func(ctx context.Context) (transport.ResetPrioritiesResponse, error) {
            if err := sys.ResetPriorities(ctx); err != nil {
                return transport.ResetPrioritiesResponse{Accepted: false, Error: err.Error()}, nil
            }
            return transport.ResetPrioritiesResponse{Accepted: true}, nil
        },
        Checkpoint: func(ctx context.Context) (transport.CheckpointResponse, error) {
            if err := sys.Checkpoint(ctx); err != nil {
                return transport.CheckpointResponse{Accepted: false, Error: err.Error()}, nil
            }
            return transport.CheckpointResponse{Accepted: true}, nil
        },
    }
}

// Ensure the engine satisfies the abstraction we hand to the system.
var _ consensus.Engine = (*raftcons.Node)(nil)
