// Package cborcanon provides the canonical CBOR encoding the mesh
// formation core signs and hashes over: control messages on the wire
// (pkg/wire), and the HELLO/handshake payloads keymux authenticates
// (pkg/security/keymux). Canonical here means fxamacker/cbor's
// CTAP2-style deterministic mode — sorted map keys, no floats, no
// indefinite-length items — so two nodes that agree on a struct always
// produce the same bytes to sign or verify.
package cborcanon

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CanonicalMode is the shared deterministic encoding mode: sorted keys,
// no indefinite-length items, no bignums where a plain int suffices.
var CanonicalMode cbor.EncMode

func init() {
	var err error
	CanonicalMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborcanon: failed to build canonical encoding mode: %v", err))
	}
}

// Marshal encodes v in canonical form.
func Marshal(v interface{}) ([]byte, error) {
	return CanonicalMode.Marshal(v)
}

// Unmarshal decodes data into v. Canonical CBOR decodes with the
// standard decoder same as any other CBOR; canonicalism only constrains
// the encoder.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// canonicalBytes round-trips data through decode/re-encode to obtain its
// canonical form, used by IsCanonical to detect a peer that sent a
// technically-valid but non-canonical frame.
func canonicalBytes(data []byte) ([]byte, error) {
	var v interface{}
	if err := Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("cborcanon: invalid CBOR: %w", err)
	}
	return Marshal(v)
}

// IsCanonical reports whether data is already in canonical form.
func IsCanonical(data []byte) bool {
	canonical, err := canonicalBytes(data)
	if err != nil {
		return false
	}
	return bytes.Equal(data, canonical)
}

// EncodeForSigning encodes v canonically after stripping excludeFields
// (typically "sig" or "proof") from its top-level map representation, so
// a signature can be computed over the message and later verified
// against the same bytes with the signature field absent both times.
func EncodeForSigning(v interface{}, excludeFields ...string) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}

	var m map[string]interface{}
	if err := Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for _, field := range excludeFields {
		delete(m, field)
	}

	return Marshal(m)
}
