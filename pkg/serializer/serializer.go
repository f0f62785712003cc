// Package serializer provides the canonical encode/decode of topic QoS, type
// identifiers, type objects and the dynamic-types collection (spec.md §4,
// testable property 5: round-trip exactness).
package serializer

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
)

// TypeIdentifier is an opaque, CDR-encoded identifier for a DDS type. The
// core never interprets its bytes; it only needs round-trip exactness.
type TypeIdentifier []byte

// TypeObject is an opaque, CDR-encoded full type description.
type TypeObject []byte

// EncodeQoS is a thin alias kept for readers scanning this package for the
// "serializer" surface spec.md names; TopicQoS owns its own Encode/Decode
// because the format has no dependency on the rest of this package.
func EncodeQoS(q ddstypes.TopicQoS) string { return q.Encode() }

// DecodeQoS is the matching decode half.
func DecodeQoS(s string) (ddstypes.TopicQoS, error) { return ddstypes.Decode(s) }

// EncodeTypeIdentifier base64-encodes a TypeIdentifier for sidecar storage.
func EncodeTypeIdentifier(id TypeIdentifier) string {
	return base64.StdEncoding.EncodeToString(id)
}

// DecodeTypeIdentifier reverses EncodeTypeIdentifier.
func DecodeTypeIdentifier(s string) (TypeIdentifier, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("serializer: decoding type identifier: %w", err)
	}
	return TypeIdentifier(b), nil
}

// EncodeTypeObject base64-encodes a TypeObject for sidecar storage.
func EncodeTypeObject(obj TypeObject) string {
	return base64.StdEncoding.EncodeToString(obj)
}

// DecodeTypeObject reverses EncodeTypeObject.
func DecodeTypeObject(s string) (TypeObject, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("serializer: decoding type object: %w", err)
	}
	return TypeObject(b), nil
}

// collectionMagic tags the dynamic-types collection's binary form so a
// reader can fail fast on a foreign or truncated attachment.
const collectionMagic = uint32(0xD7D5_0001)

// MarshalCollection produces the CDR-like binary form persisted as the MCAP
// attachment payload. Layout, little-endian throughout:
//
//	magic(4) count(4) { nameLen(4) name typeInfoLen(4) typeInfo typeObjLen(4) typeObj }*
func MarshalCollection(c *ddstypes.DynamicTypesCollection) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, collectionMagic); err != nil {
		return nil, err
	}
	entries := c.Entries()
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(entries))); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := writeLP(&buf, []byte(e.TypeName)); err != nil {
			return nil, err
		}
		if err := writeLP(&buf, e.TypeInformation); err != nil {
			return nil, err
		}
		if err := writeLP(&buf, e.TypeObject); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalCollection reverses MarshalCollection, byte-for-byte (spec.md §8
// property 5) when fed output of the same encoding version.
func UnmarshalCollection(data []byte) (*ddstypes.DynamicTypesCollection, error) {
	r := bytes.NewReader(data)
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("serializer: reading collection magic: %w", err)
	}
	if magic != collectionMagic {
		return nil, fmt.Errorf("serializer: unrecognized dynamic-types collection magic %#x", magic)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("serializer: reading collection count: %w", err)
	}

	out := ddstypes.NewDynamicTypesCollection()
	for i := uint32(0); i < count; i++ {
		name, err := readLP(r)
		if err != nil {
			return nil, err
		}
		info, err := readLP(r)
		if err != nil {
			return nil, err
		}
		obj, err := readLP(r)
		if err != nil {
			return nil, err
		}
		out.Put(ddstypes.DynamicTypeEntry{
			TypeName:        string(name),
			TypeInformation: info,
			TypeObject:      obj,
		})
	}
	return out, nil
}

func writeLP(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLP(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("serializer: reading length prefix: %w", err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("serializer: reading %d-byte payload: %w", n, err)
	}
	return b, nil
}
