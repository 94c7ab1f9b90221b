//go:build !sonic

package jsonc

import (
	"io"

	"github.com/goccy/go-json"
)

var Marshal = json.Marshal
var Unmarshal = json.Unmarshal

func Encode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
