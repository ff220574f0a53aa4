package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is the gRPC content-subtype under which messages in this
// package travel. This package carries its own JSON codec instead of a
// protoc-generated one: no .proto source is part of this build, and
// hand-producing protoc-gen-go-compatible output would mean fabricating
// generated code. Registering a codec keeps the real
// google.golang.org/grpc transport, interceptors and streaming in play
// while being explicit that the wire format is JSON, not protobuf.
const jsonCodecName = "bgjob-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
