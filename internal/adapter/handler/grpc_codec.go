package handler

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// The order service has no generated stubs; messages travel as JSON under
// the "application/grpc+json" content subtype.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
