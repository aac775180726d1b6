package bobrpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as a grpc content-subtype: clients opt in with
// grpc.CallContentSubtype(codecName), which makes grpc-go negotiate this
// codec with the server instead of the default proto codec. There is no
// generated *.pb.go here; plain JSON is the simplest encoding a real
// grpc.Server/grpc.ClientConn can negotiate without protoc in the build.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("bobrpc: marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("bobrpc: unmarshal into %T: %w", v, err)
	}
	return nil
}
