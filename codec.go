package cqlstore

import "encoding/json"

// Codec converts values to and from the text payloads stored in the
// value and metadata columns
type Codec interface {
	Encode(v interface{}) (string, error)
	Decode(data string, v interface{}) error
}

// JSONCodec is the default Codec. []byte values encode as base64 strings,
// which is how media payloads fit a text column.
type JSONCodec struct{}

func (JSONCodec) Encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (JSONCodec) Decode(data string, v interface{}) error {
	return json.Unmarshal([]byte(data), v)
}
