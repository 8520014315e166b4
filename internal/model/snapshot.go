package model

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Hash is a 32-byte Keccak-256 digest.
type Hash [32]byte

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Hex returns the 0x-prefixed hex form.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(string(text), "0x"))
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}
	if len(raw) != len(h) {
		return fmt.Errorf("invalid hash length %d", len(raw))
	}
	copy(h[:], raw)
	return nil
}

// SnapshotValue is one captured attribute.
type SnapshotValue struct {
	Name  AttributeName `json:"name"`
	Value []byte        `json:"value"`
}

// Snapshot is the latest hashed capture of an item's attributes.
type Snapshot struct {
	Collection string          `json:"collection"`
	ItemID     uint64          `json:"item_id"`
	Values     []SnapshotValue `json:"values"`
	CapturedAt time.Time       `json:"captured_at"`
	Hash       Hash            `json:"hash"`
}
