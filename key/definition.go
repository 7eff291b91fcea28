package key

import "fmt"

// Options describes the flavor of a secondary key definition. A zero
// Options value (not unique, not optional) is a plain non-unique secondary
// index. Primary keys always use the zero Options value.
type Options struct {
	Unique   bool
	Optional bool
}

// Definition is the stable identifier for a primary or secondary key:
// (model id, model version, field name, options). Two definitions are
// equal iff all four fields are equal, which also makes Definition usable
// as a map key (it holds no pointers or caches).
type Definition struct {
	ModelID      uint32
	ModelVersion uint32
	Field        string
	Options      Options
}

// NewPrimary returns the definition for a model's primary key: empty
// options, by construction.
func NewPrimary(modelID, modelVersion uint32, field string) Definition {
	return Definition{ModelID: modelID, ModelVersion: modelVersion, Field: field}
}

// NewSecondary returns the definition for one of a model's secondary keys.
func NewSecondary(modelID, modelVersion uint32, field string, opts Options) Definition {
	return Definition{ModelID: modelID, ModelVersion: modelVersion, Field: field, Options: opts}
}

// TableName deterministically derives the physical table name for this key
// definition: "{model_id}_{model_version}_{field_name}".
func (d Definition) TableName() string {
	return fmt.Sprintf("%d_%d_%s", d.ModelID, d.ModelVersion, d.Field)
}

// Entry is the value-level presence/absence of a secondary key for one
// record. A mandatory key is always present; an optional key may be
// absent, in which case the record is skipped from that secondary table
// entirely (invariant I4).
type Entry struct {
	key      Key
	hasKey   bool
	optional bool
}

// Mandatory builds an Entry that is always present.
func Mandatory(k Key) Entry { return Entry{key: k, hasKey: true} }

// OptionalSome builds a present Entry for an optional key definition.
func OptionalSome(k Key) Entry { return Entry{key: k, hasKey: true, optional: true} }

// OptionalNone builds an absent Entry for an optional key definition.
func OptionalNone() Entry { return Entry{optional: true} }

// Present reports whether the entry carries a key, and returns it if so.
// It is true for Mandatory and for OptionalSome, false for OptionalNone.
func (e Entry) Present() (Key, bool) { return e.key, e.hasKey }

// IsOptional reports whether this entry came from an optional key
// definition (as opposed to a mandatory one).
func (e Entry) IsOptional() bool { return e.optional }
