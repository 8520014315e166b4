package service

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/sha3"

	"traitfusion-api/internal/model"
)

// Typed attribute values use deterministic CBOR. The encoding is
// self-describing, so reading text as uint (or garbage as either) fails.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// EncodeUint returns the canonical encoding of v.
func EncodeUint(v uint64) []byte {
	b, err := encMode.Marshal(v)
	if err != nil {
		panic(err) // unsigned integers always encode
	}
	return b
}

// EncodeText returns the canonical encoding of s.
func EncodeText(s string) []byte {
	b, err := encMode.Marshal(s)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeUint decodes an unsigned integer. Empty input is 0.
func DecodeUint(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	var v *uint64
	if err := decMode.Unmarshal(b, &v); err != nil {
		return 0, fmt.Errorf("%w: not an unsigned integer: %v", ErrDecode, err)
	}
	// null and undefined leave the pointer nil
	if v == nil {
		return 0, fmt.Errorf("%w: not an unsigned integer: 0x%x", ErrDecode, b)
	}
	return *v, nil
}

// DecodeText decodes a text value. Empty input is "".
func DecodeText(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	var s *string
	if err := decMode.Unmarshal(b, &s); err != nil {
		return "", fmt.Errorf("%w: not a text value: %v", ErrDecode, err)
	}
	if s == nil {
		return "", fmt.Errorf("%w: not a text value: 0x%x", ErrDecode, b)
	}
	return *s, nil
}

// Keccak256 hashes the concatenation of parts.
func Keccak256(parts ...[]byte) model.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out model.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// SnapshotHash hashes the captured values in order followed by the capture
// time as an 8-byte big-endian unix timestamp.
func SnapshotHash(values []model.SnapshotValue, capturedAt time.Time) model.Hash {
	parts := make([][]byte, 0, len(values)+1)
	for _, v := range values {
		parts = append(parts, v.Value)
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(capturedAt.Unix()))
	return Keccak256(append(parts, ts[:])...)
}
