package cli

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-raft-journal/pkg/bootstrap"
    "github.com/amirimatin/go-raft-journal/pkg/journal/journaltest"
    tracing "github.com/amirimatin/go-raft-journal/pkg/observability/tracing"
    tlsx "github.com/amirimatin/go-raft-journal/pkg/security/tlsconfig"
    "github.com/amirimatin/go-raft-journal/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-raft-journal/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-raft-journal/pkg/transport/httpjson"
)

// AddAll attaches journal subcommands to the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewQuorumCmd())
    root.AddCommand(NewCheckpointCmd())
}

// clientFlags holds the flags shared by every command talking to a node's
// management endpoint.
type clientFlags struct {
    addr      string
    mgmtProto string
    timeout   time.Duration

    tlsEnable, tlsSkip                    bool
    tlsCA, tlsCert, tlsKey, tlsServerName string
}

func (f *clientFlags) register(cmd *cobra.Command) {
    cmd.Flags().StringVar(&f.addr, "addr", "127.0.0.1:17946", "management address of a node (host:port)")
    cmd.Flags().StringVar(&f.mgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().DurationVar(&f.timeout, "timeout", 3*time.Second, "request timeout")
    cmd.Flags().BoolVar(&f.tlsEnable, "tls-enable", false, "enable mTLS for management transport")
    cmd.Flags().StringVar(&f.tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&f.tlsCert, "tls-cert", "", "path to client certificate (PEM)")
    cmd.Flags().StringVar(&f.tlsKey, "tls-key", "", "path to client private key (PEM)")
    cmd.Flags().BoolVar(&f.tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&f.tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

func (f *clientFlags) client() (transport.RPCClient, error) {
    var cliTLS *tls.Config
    if f.tlsEnable {
        topts := tlsx.Options{Enable: true, CAFile: f.tlsCA, CertFile: f.tlsCert, KeyFile: f.tlsKey, InsecureSkipVerify: f.tlsSkip, ServerName: f.tlsServerName}
        var err error
        cliTLS, err = topts.Client()
        if err != nil { return nil, fmt.Errorf("tls client config: %w", err) }
    }
    switch f.mgmtProto {
    case "grpc":
        cli := mgmtgrpc.NewClient(f.timeout)
        if cliTLS != nil { cli.UseTLS(cliTLS) }
        return cli, nil
    default:
        cli := httpjson.NewClient(f.timeout)
        if cliTLS != nil { cli.UseTLS(cliTLS) }
        return cli, nil
    }
}

// NewRunCmd returns the "run" command used to start a journal node.
func NewRunCmd() *cobra.Command {
    var (
        raftAddr, clusterCSV, dataDir, memBind, memAdv, mgmtAddr, mgmtProto string
        discoveryKind, seedsCSV, dnsNames, filePath, fileEnv                string
        dnsPort                                                             int
        discRefresh, electionTimeout, heartbeatTimeout                      time.Duration
        tlsEnable, tlsSkip, traceEnable, demoJournal                        bool
        tlsCA, tlsCert, tlsKey, tlsServerName                               string
        doFormat                                                            bool
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a journal node",
        RunE: func(cmd *cobra.Command, args []string) error {
            if dataDir == "" { return fmt.Errorf("missing -data") }
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

            cfg := bootstrap.Config{
                RaftAddr:         raftAddr,
                ClusterCSV:       clusterCSV,
                JournalDir:       dataDir,
                MemBind:          memBind,
                MemAdv:           memAdv,
                MgmtAddr:         mgmtAddr,
                MgmtProto:        mgmtProto,
                DiscoveryKind:    discoveryKind,
                SeedsCSV:         seedsCSV,
                DNSNamesCSV:      dnsNames,
                DNSPort:          dnsPort,
                DiscRefresh:      discRefresh,
                FilePath:         filePath,
                FileEnv:          fileEnv,
                ElectionTimeout:  electionTimeout,
                HeartbeatTimeout: heartbeatTimeout,
                TLSEnable:        tlsEnable,
                TLSCA:            tlsCA,
                TLSCert:          tlsCert,
                TLSKey:           tlsKey,
                TLSServerName:    tlsServerName,
                TLSSkipVerify:    tlsSkip,
                Logger:           log.Default(),
            }
            n, err := bootstrap.Build(cfg)
            if err != nil { return err }
            if doFormat {
                if err := n.System.Format(); err != nil { return err }
            }
            if demoJournal {
                // Register a demo KV master so the node replays something.
                n.System.CreateJournal(journaltest.NewKVMaster("kv"))
            }
            if err := n.Start(ctx); err != nil { return err }
            defer n.Close()

            fmt.Println("journal node running. Press Ctrl+C to exit.")
            <-ctx.Done()
            return nil
        },
    }
    cmd.Flags().StringVar(&raftAddr, "raft-addr", "127.0.0.1:9520", "raft bind addr (tcp)")
    cmd.Flags().StringVar(&clusterCSV, "cluster", "", "comma-separated raft peer set; empty means single peer")
    cmd.Flags().StringVar(&dataDir, "data", "", "journal root directory (required)")
    cmd.Flags().StringVar(&memBind, "mem-bind", "", "membership bind addr (host:port); empty disables gossip")
    cmd.Flags().StringVar(&memAdv, "mem-adv", "", "membership advertise addr (host:port, optional)")
    cmd.Flags().StringVar(&mgmtAddr, "mgmt-addr", ":17946", "management address (tcp)")
    cmd.Flags().StringVar(&mgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().StringVar(&discoveryKind, "discovery", "static", "discovery backend: static|dns|file")
    cmd.Flags().StringVar(&seedsCSV, "join", "", "comma-separated membership seeds (host:port) — used by discovery=static")
    cmd.Flags().StringVar(&dnsNames, "dns-names", "", "comma-separated DNS names or SRV records")
    cmd.Flags().IntVar(&dnsPort, "dns-port", 7946, "port used for A/AAAA lookups")
    cmd.Flags().DurationVar(&discRefresh, "disc-refresh", 5*time.Second, "discovery refresh/cache duration")
    cmd.Flags().StringVar(&filePath, "file-path", "", "path or glob to a file with seeds")
    cmd.Flags().StringVar(&fileEnv, "file-env", "", "ENV var name containing CSV seeds; overrides file when set")
    cmd.Flags().DurationVar(&electionTimeout, "election-timeout", 0, "raft election timeout (0 = default)")
    cmd.Flags().DurationVar(&heartbeatTimeout, "heartbeat-timeout", 0, "raft heartbeat timeout (0 = default)")
    cmd.Flags().BoolVar(&tlsEnable, "tls-enable", false, "enable mTLS for management transport")
    cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to node certificate (PEM)")
    cmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to node private key (PEM)")
    cmd.Flags().BoolVar(&tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
    cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    cmd.Flags().BoolVar(&doFormat, "format", false, "format the journal directory before starting")
    cmd.Flags().BoolVar(&demoJournal, "demo-journal", false, "register a demo kv journal (development)")
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch journal status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := cf.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            data, err := client.GetStatus(ctx, cf.addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            os.Stdout.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' { os.Stdout.Write([]byte("\n")) }
            return nil
        },
    }
    cf.register(cmd)
    return cmd
}

// NewQuorumCmd returns the "quorum" parent command with admin subcommands.
func NewQuorumCmd() *cobra.Command {
    parent := &cobra.Command{Use: "quorum", Short: "quorum administration commands"}
    parent.AddCommand(newQuorumInfoCmd())
    parent.AddCommand(newQuorumAddCmd())
    parent.AddCommand(newQuorumRemoveCmd())
    parent.AddCommand(newQuorumElectCmd())
    parent.AddCommand(newQuorumMessageCmd())
    parent.AddCommand(newQuorumResetCmd())
    return parent
}

func newQuorumInfoCmd() *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   "info",
        Short: "Show the quorum view from a node's status",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := cf.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            data, err := client.GetStatus(ctx, cf.addr)
            if err != nil { return fmt.Errorf("quorum info error: %w", err) }
            var st struct {
                Peers json.RawMessage `json:"Peers"`
            }
            if err := json.Unmarshal(data, &st); err != nil { return err }
            os.Stdout.Write(st.Peers)
            os.Stdout.Write([]byte("\n"))
            return nil
        },
    }
    cf.register(cmd)
    return cmd
}

func newQuorumAddCmd() *cobra.Command {
    var cf clientFlags
    var peerAddr string
    cmd := &cobra.Command{
        Use:   "add",
        Short: "Add a peer to the quorum",
        RunE: func(cmd *cobra.Command, args []string) error {
            if peerAddr == "" { return fmt.Errorf("missing -peer") }
            client, err := cf.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            resp, err := client.PostQuorumAdd(ctx, cf.addr, transport.QuorumAddRequest{Addr: peerAddr})
            if err != nil { return fmt.Errorf("quorum add error: %w", err) }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cmd.Flags().StringVar(&peerAddr, "peer", "", "raft address of the peer to add (required)")
    cf.register(cmd)
    return cmd
}

func newQuorumRemoveCmd() *cobra.Command {
    var cf clientFlags
    var peerAddr string
    cmd := &cobra.Command{
        Use:   "remove",
        Short: "Remove an unavailable peer from the quorum",
        RunE: func(cmd *cobra.Command, args []string) error {
            if peerAddr == "" { return fmt.Errorf("missing -peer") }
            client, err := cf.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            resp, err := client.PostQuorumRemove(ctx, cf.addr, transport.QuorumRemoveRequest{Addr: peerAddr})
            if err != nil { return fmt.Errorf("quorum remove error: %w", err) }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cmd.Flags().StringVar(&peerAddr, "peer", "", "raft address of the peer to remove (required)")
    cf.register(cmd)
    return cmd
}

func newQuorumElectCmd() *cobra.Command {
    var cf clientFlags
    var target string
    cmd := &cobra.Command{
        Use:   "elect",
        Short: "Transfer quorum leadership to a peer",
        RunE: func(cmd *cobra.Command, args []string) error {
            if target == "" { return fmt.Errorf("missing -target") }
            client, err := cf.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            resp, err := client.PostElect(ctx, cf.addr, transport.ElectRequest{TargetAddr: target})
            if err != nil { return fmt.Errorf("elect error: %w", err) }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cmd.Flags().StringVar(&target, "target", "", "raft address of the new leader (required)")
    cf.register(cmd)
    return cmd
}

func newQuorumMessageCmd() *cobra.Command {
    var cf clientFlags
    var transferID string
    cmd := &cobra.Command{
        Use:   "message",
        Short: "Look up the diagnostic for a leadership transfer id",
        RunE: func(cmd *cobra.Command, args []string) error {
            if transferID == "" { return fmt.Errorf("missing -id") }
            client, err := cf.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            resp, err := client.GetTransferMessage(ctx, cf.addr, transport.TransferMessageRequest{TransferID: transferID})
            if err != nil { return fmt.Errorf("transfer message error: %w", err) }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cmd.Flags().StringVar(&transferID, "id", "", "transfer id returned by quorum elect (required)")
    cf.register(cmd)
    return cmd
}

func newQuorumResetCmd() *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   "reset-priorities",
        Short: "Reset every peer's election priority to the neutral value",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := cf.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            resp, err := client.PostResetPriorities(ctx, cf.addr)
            if err != nil { return fmt.Errorf("reset priorities error: %w", err) }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cf.register(cmd)
    return cmd
}

// NewCheckpointCmd returns the "checkpoint" command.
func NewCheckpointCmd() *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   "checkpoint",
        Short: "Open a snapshot window and take a local checkpoint",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := cf.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            resp, err := client.PostCheckpoint(ctx, cf.addr)
            if err != nil { return fmt.Errorf("checkpoint error: %w", err) }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cf.register(cmd)
    return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}
