package queue

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Codec fixes the wire encoding of one message type.
type Codec struct {
	ContentType string
	Marshal     func(v any) ([]byte, error)
	Unmarshal   func(data []byte, v any) error
}

var (
	JSON = Codec{
		ContentType: "application/json",
		Marshal:     json.Marshal,
		Unmarshal:   json.Unmarshal,
	}
	YAML = Codec{
		ContentType: "application/yaml",
		Marshal:     yaml.Marshal,
		Unmarshal:   yaml.Unmarshal,
	}
)
