package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-raft-journal/pkg/transport"
)

type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    cm      *ConnManager
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{timeout: timeout}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    // Use JSON codec and set content subtype accordingly.
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithBlock(),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.DialContext(ctx, target, opts...)
}

// getConn returns a managed connection, creating a manager if absent.
func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
    if c.cm == nil {
        c.cm = NewConnManager(30*time.Second, c.dialCtx)
    }
    return c.cm.Get(ctx, addr)
}

func (c *Client) invoke(ctx context.Context, addr, method string, in, out any) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil { return err }
    defer rel()
    return cc.Invoke(cctx, method, in, out)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    out := new(statusBlob)
    if err := c.invoke(ctx, addr, "/journal.v1.Management/GetStatus", &empty{}, out); err != nil {
        return nil, err
    }
    return out.Data, nil
}

func (c *Client) PostQuorumAdd(ctx context.Context, addr string, req transport.QuorumAddRequest) (transport.QuorumAddResponse, error) {
    var resp transport.QuorumAddResponse
    if err := c.invoke(ctx, addr, "/journal.v1.Management/QuorumAdd", &req, &resp); err != nil {
        return resp, err
    }
    if resp.Error != "" { return resp, errors.New(resp.Error) }
    return resp, nil
}

func (c *Client) PostQuorumRemove(ctx context.Context, addr string, req transport.QuorumRemoveRequest) (transport.QuorumRemoveResponse, error) {
    var resp transport.QuorumRemoveResponse
    if err := c.invoke(ctx, addr, "/journal.v1.Management/QuorumRemove", &req, &resp); err != nil {
        return resp, err
    }
    if resp.Error != "" { return resp, errors.New(resp.Error) }
    return resp, nil
}

func (c *Client) PostElect(ctx context.Context, addr string, req transport.ElectRequest) (transport.ElectResponse, error) {
    var resp transport.ElectResponse
    if err := c.invoke(ctx, addr, "/journal.v1.Management/Elect", &req, &resp); err != nil {
        return resp, err
    }
    if resp.Error != "" { return resp, errors.New(resp.Error) }
    return resp, nil
}

func (c *Client) GetTransferMessage(ctx context.Context, addr string, req transport.TransferMessageRequest) (transport.TransferMessageResponse, error) {
    var resp transport.TransferMessageResponse
    if err := c.invoke(ctx, addr, "/journal.v1.Management/TransferMessage", &req, &resp); err != nil {
        return resp, err
    }
    return resp, nil
}

func (c *Client) PostResetPriorities(ctx context.Context, addr string) (transport.ResetPrioritiesResponse, error) {
    var resp transport.ResetPrioritiesResponse
    if err := c.invoke(ctx, addr, "/journal.v1.Management/ResetPriorities", &empty{}, &resp); err != nil {
        return resp, err
    }
    if resp.Error != "" { return resp, errors.New(resp.Error) }
    return resp, nil
}

func (c *Client) PostCheckpoint(ctx context.Context, addr string) (transport.CheckpointResponse, error) {
    var resp transport.CheckpointResponse
    if err := c.invoke(ctx, addr, "/journal.v1.Management/Checkpoint", &empty{}, &resp); err != nil {
        return resp, err
    }
    if resp.Error != "" { return resp, errors.New(resp.Error) }
    return resp, nil
}

var _ transport.RPCClient = (*Client)(nil)
