// Package jsoncodec is the single JSON codec used for envelopes, payloads,
// dead-letter records and admin responses. Publish marshals an envelope here
// once and every retry resends those bytes.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// api follows encoding/json semantics (sorted map keys, HTML escaping) so the
// bytes on the wire do not depend on which codec produced them.
var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) { return api.Marshal(v) }

func Unmarshal(data []byte, v any) error { return api.Unmarshal(data, v) }

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

// Valid reports whether data holds exactly one JSON value.
func Valid(data []byte) bool { return api.Valid(data) }

// Encode writes v followed by a newline.
func Encode(w io.Writer, v any) error { return api.NewEncoder(w).Encode(v) }

func Decode(r io.Reader, v any) error { return api.NewDecoder(r).Decode(v) }
