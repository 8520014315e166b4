package model

import (
	"fmt"
	"time"
)

// AttributeName names a trait attached to an item.
type AttributeName string

// ValueKind tells the attribute store how a value is expected to be encoded.
type ValueKind string

const (
	KindRaw  ValueKind = "raw"
	KindUint ValueKind = "uint"
	KindText ValueKind = "text"
)

// AttributeKey identifies a single attribute record.
type AttributeKey struct {
	Collection string        `json:"collection"`
	ItemID     uint64        `json:"item_id"`
	Name       AttributeName `json:"name"`
}

// String returns "collection/item/name".
func (k AttributeKey) String() string {
	return fmt.Sprintf("%s/%d/%s", k.Collection, k.ItemID, k.Name)
}

// Attribute is a stored attribute record.
type Attribute struct {
	AttributeKey
	Value     []byte    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schema is the registered attribute-name domain of one collection.
type Schema struct {
	Collection string
	Attributes map[AttributeName]ValueKind
}

// NewSchema builds a schema from name/kind pairs.
func NewSchema(collection string, attrs map[AttributeName]ValueKind) Schema {
	copied := make(map[AttributeName]ValueKind, len(attrs))
	for name, kind := range attrs {
		copied[name] = kind
	}
	return Schema{Collection: collection, Attributes: copied}
}

// Kind returns the registered kind of name.
func (s Schema) Kind(name AttributeName) (ValueKind, bool) {
	kind, ok := s.Attributes[name]
	return kind, ok
}
