package connectjson

import (
	"encoding/json"

	"github.com/bufbuild/connect-go"
)

// Codec encodes/decodes the rpc message structs as JSON for Connect handlers.
type Codec struct{}

func (Codec) Name() string {
	return "json"
}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal treats an empty frame as the zero message.
func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

var _ connect.Codec = (*Codec)(nil)
