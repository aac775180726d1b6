// Package bobrpc is the peer-to-peer wire contract: message shapes and
// the Put/Get/Exist/Ping service, carried over google.golang.org/grpc.
// Messages travel through a small JSON codec (codec.go) negotiated as a
// grpc content-subtype, so no protoc step is needed to build the module.
package bobrpc

// BlobKey wraps the 64-bit key on the wire.
type BlobKey struct {
	Key uint64 `json:"key"`
}

// BlobMeta is the wire form of bobdata.Meta.
type BlobMeta struct {
	Timestamp uint64 `json:"timestamp"`
}

// Blob is the wire form of bobdata.BobData.
type Blob struct {
	Bytes []byte   `json:"bytes"`
	Meta  BlobMeta `json:"meta"`
}

// PutOptions controls how the receiving node handles a Put.
type PutOptions struct {
	RemoteNodes []string `json:"remote_nodes,omitempty"`
	ForceNode   bool     `json:"force_node"`
	Overwrite   bool     `json:"overwrite"`
}

type PutRequest struct {
	Key     BlobKey    `json:"key"`
	Data    Blob       `json:"data"`
	Options PutOptions `json:"options"`
}

// Source selects which area of a peer's backend a Get should read.
type Source int32

const (
	SourceAll Source = iota
	SourceNormal
	SourceAlien
)

type GetOptions struct {
	ForceNode bool   `json:"force_node"`
	Source    Source `json:"source"`
}

type GetRequest struct {
	Key     BlobKey    `json:"key"`
	Options GetOptions `json:"options"`
}

type ExistRequest struct {
	Keys []BlobKey `json:"keys"`
}

type ExistResponse struct {
	Exist []bool `json:"exist"`
}

// StatusCode is the operation outcome reported in an OpStatus.
type StatusCode int32

const (
	StatusOK StatusCode = iota
	StatusNotFound
	StatusUnavailable
	StatusInvalidArgument
	StatusInternal
)

type OpStatus struct {
	Code  StatusCode `json:"code"`
	Error string     `json:"error,omitempty"`
}

// Null is the empty message used by Ping.
type Null struct{}
