// Package cid builds and parses the content identifiers used throughout the
// federation core: a CIDv1 with a SHA2-256 multihash and one of two codec
// tags, matching the construction core/storage.go uses for pinned content.
package cid

import (
	"fmt"

	ipfscid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
)

// Codec identifies the payload shape a Cid points at.
type Codec uint64

const (
	// CodecDagBinary tags a canonically-encoded, structured DAG node.
	CodecDagBinary = Codec(multicodec.DagCbor) // 0x71, reused as the "structured binary" tag
	// CodecRaw tags an opaque byte blob (module code, receipt exports).
	CodecRaw = Codec(multicodec.Raw) // 0x55
)

// Cid is a content identifier: version 1, a codec tag, and a SHA2-256
// multihash of the referenced bytes.
type Cid struct {
	inner ipfscid.Cid
}

// Sum computes the Cid of data under the given codec.
func Sum(codec Codec, data []byte) (Cid, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return Cid{}, fmt.Errorf("cid: hash data: %w", err)
	}
	return Cid{inner: ipfscid.NewCidV1(uint64(codec), sum)}, nil
}

// String returns the canonical textual form of the Cid.
func (c Cid) String() string {
	return c.inner.String()
}

// Bytes returns the binary form of the Cid.
func (c Cid) Bytes() []byte {
	return c.inner.Bytes()
}

// Codec reports the codec tag of the Cid.
func (c Cid) Codec() Codec {
	return Codec(c.inner.Type())
}

// IsZero reports whether c is the zero value (no content referenced).
func (c Cid) IsZero() bool {
	return !c.inner.Defined()
}

// Equal reports whether two Cids refer to the same content under the same
// codec.
func (c Cid) Equal(other Cid) bool {
	return c.inner.Equals(other.inner)
}

// Parse decodes the textual form of a Cid; FromBytes decodes the binary
// form.
func Parse(s string) (Cid, error) {
	parsed, err := ipfscid.Decode(s)
	if err != nil {
		return Cid{}, fmt.Errorf("cid: parse %q: %w", s, err)
	}
	return Cid{inner: parsed}, nil
}

// FromBytes decodes a Cid from its binary form.
func FromBytes(b []byte) (Cid, error) {
	parsed, err := ipfscid.Cast(b)
	if err != nil {
		return Cid{}, fmt.Errorf("cid: cast bytes: %w", err)
	}
	return Cid{inner: parsed}, nil
}

// MarshalJSON implements json.Marshaler as the Cid's string form.
func (c Cid) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler from the Cid's string form.
func (c *Cid) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("cid: invalid json %q", data)
	}
	parsed, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
