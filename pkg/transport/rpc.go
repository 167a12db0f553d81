package transport

import "context"

// StatusFunc returns a JSON-encoded status payload for management /status.
// Using []byte avoids import cycles on journal types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// QuorumAddRequest asks the primary to add a peer to the quorum.
type QuorumAddRequest struct {
    Addr string `json:"addr"`
}

type QuorumAddResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

type QuorumAddFunc func(ctx context.Context, req QuorumAddRequest) (QuorumAddResponse, error)

// QuorumRemoveRequest asks the primary to remove an unavailable peer.
type QuorumRemoveRequest struct {
    Addr string `json:"addr"`
}

type QuorumRemoveResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

type QuorumRemoveFunc func(ctx context.Context, req QuorumRemoveRequest) (QuorumRemoveResponse, error)

// ElectRequest initiates a leadership transfer to the target peer.
type ElectRequest struct {
    TargetAddr string `json:"targetAddr"`
}

// ElectResponse carries the transfer id used for later status queries. The
// transfer itself is fire-and-forget.
type ElectResponse struct {
    TransferID string `json:"transferId"`
    Error      string `json:"error,omitempty"`
}

type ElectFunc func(ctx context.Context, req ElectRequest) (ElectResponse, error)

// TransferMessageRequest looks up the diagnostic recorded for a transfer id.
type TransferMessageRequest struct {
    TransferID string `json:"transferId"`
}

// TransferMessageResponse returns the diagnostic; empty means success path.
type TransferMessageResponse struct {
    Message string `json:"message"`
}

type TransferMessageFunc func(ctx context.Context, req TransferMessageRequest) (TransferMessageResponse, error)

// ResetPrioritiesResponse acknowledges a priority reset.
type ResetPrioritiesResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

type ResetPrioritiesFunc func(ctx context.Context) (ResetPrioritiesResponse, error)

// CheckpointResponse acknowledges an operator-triggered snapshot window.
type CheckpointResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

type CheckpointFunc func(ctx context.Context) (CheckpointResponse, error)

// Handlers bundles the management callbacks a node exposes.
type Handlers struct {
    Status          StatusFunc
    QuorumAdd       QuorumAddFunc
    QuorumRemove    QuorumRemoveFunc
    Elect           ElectFunc
    TransferMessage TransferMessageFunc
    ResetPriorities ResetPrioritiesFunc
    Checkpoint      CheckpointFunc
}

// RPCServer exposes management endpoints (status, quorum admin, checkpoint)
// for operator tooling and intra-cluster calls.
type RPCServer interface {
    Start(ctx context.Context, h Handlers) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient performs management calls against other nodes using the chosen
// protocol (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    PostQuorumAdd(ctx context.Context, addr string, req QuorumAddRequest) (QuorumAddResponse, error)
    PostQuorumRemove(ctx context.Context, addr string, req QuorumRemoveRequest) (QuorumRemoveResponse, error)
    PostElect(ctx context.Context, addr string, req ElectRequest) (ElectResponse, error)
    GetTransferMessage(ctx context.Context, addr string, req TransferMessageRequest) (TransferMessageResponse, error)
    PostResetPriorities(ctx context.Context, addr string) (ResetPrioritiesResponse, error)
    PostCheckpoint(ctx context.Context, addr string) (CheckpointResponse, error)
}
