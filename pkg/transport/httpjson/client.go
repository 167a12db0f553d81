package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "time"

    "github.com/amirimatin/go-raft-journal/pkg/transport"
)

// Client is a thin HTTP client for the management API. It supports optional
// TLS configuration and simple retry with backoff for robustness.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

// doJSON performs req with bounded retry and decodes the body into out when
// non-nil.
func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
    var body []byte
    if in != nil {
        b, err := json.Marshal(in)
        if err != nil { return err }
        body = b
    }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
        if err != nil { return err }
        if in != nil { req.Header.Set("Content-Type", "application/json") }
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = err
        } else {
            func() {
                defer resp.Body.Close()
                b, _ := io.ReadAll(resp.Body)
                if out != nil { _ = json.Unmarshal(b, out) }
                if resp.StatusCode != http.StatusOK {
                    lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
                } else {
                    lastErr = nil
                }
            }()
            if lastErr == nil { return nil }
        }
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return lastErr
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(addr, "/status"), nil)
    if err != nil { return nil, err }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = err
        } else {
            defer resp.Body.Close()
            if resp.StatusCode != http.StatusOK {
                b, _ := io.ReadAll(resp.Body)
                lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
            } else {
                return io.ReadAll(resp.Body)
            }
        }
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return nil, lastErr
}

func (c *Client) PostQuorumAdd(ctx context.Context, addr string, req transport.QuorumAddRequest) (transport.QuorumAddResponse, error) {
    var out transport.QuorumAddResponse
    err := c.doJSON(ctx, http.MethodPost, c.url(addr, "/quorum/add"), req, &out)
    if err == nil && out.Error != "" { err = errors.New(out.Error) }
    return out, err
}

func (c *Client) PostQuorumRemove(ctx context.Context, addr string, req transport.QuorumRemoveRequest) (transport.QuorumRemoveResponse, error) {
    var out transport.QuorumRemoveResponse
    err := c.doJSON(ctx, http.MethodPost, c.url(addr, "/quorum/remove"), req, &out)
    if err == nil && out.Error != "" { err = errors.New(out.Error) }
    return out, err
}

func (c *Client) PostElect(ctx context.Context, addr string, req transport.ElectRequest) (transport.ElectResponse, error) {
    var out transport.ElectResponse
    err := c.doJSON(ctx, http.MethodPost, c.url(addr, "/quorum/elect"), req, &out)
    if err == nil && out.Error != "" { err = errors.New(out.Error) }
    return out, err
}

func (c *Client) GetTransferMessage(ctx context.Context, addr string, req transport.TransferMessageRequest) (transport.TransferMessageResponse, error) {
    var out transport.TransferMessageResponse
    u := c.url(addr, "/transfer/message") + "?id=" + url.QueryEscape(req.TransferID)
    err := c.doJSON(ctx, http.MethodGet, u, nil, &out)
    return out, err
}

func (c *Client) PostResetPriorities(ctx context.Context, addr string) (transport.ResetPrioritiesResponse, error) {
    var out transport.ResetPrioritiesResponse
    err := c.doJSON(ctx, http.MethodPost, c.url(addr, "/quorum/priorities/reset"), nil, &out)
    if err == nil && out.Error != "" { err = errors.New(out.Error) }
    return out, err
}

func (c *Client) PostCheckpoint(ctx context.Context, addr string) (transport.CheckpointResponse, error) {
    var out transport.CheckpointResponse
    err := c.doJSON(ctx, http.MethodPost, c.url(addr, "/checkpoint"), nil, &out)
    if err == nil && out.Error != "" { err = errors.New(out.Error) }
    return out, err
}

var _ transport.RPCClient = (*Client)(nil)
