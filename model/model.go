// Package model describes registered record types: their primary key,
// their secondary keys, and the extractor functions that derive keys from
// a record. Go has no compile-time derive macros, so models are assembled
// explicitly through Builder, per spec.md §9's documented fallback "(a)".
package model

import (
	"reflect"

	"github.com/kasuganosora/typedkv/key"
)

// PrimaryKeyFunc extracts the primary key from a record value.
type PrimaryKeyFunc func(v any) key.Key

// SecondaryKeysFunc extracts every secondary key entry from a record value,
// keyed by the key.Definition it belongs to.
type SecondaryKeysFunc func(v any) map[key.Definition]key.Entry

// Model is the static description of one registered record type.
type Model struct {
	ModelID      uint32
	ModelVersion uint32
	Type         reflect.Type

	PrimaryKey    key.Definition
	SecondaryKeys []key.Definition

	PrimaryKeyFunc    PrimaryKeyFunc
	SecondaryKeysFunc SecondaryKeysFunc
}

// SecondaryKeyDefinition returns the registered definition matching field,
// or false if no secondary key with that field name is part of the model.
func (m Model) SecondaryKeyDefinition(field string) (key.Definition, bool) {
	for _, d := range m.SecondaryKeys {
		if d.Field == field {
			return d, true
		}
	}
	return key.Definition{}, false
}

// Has reports whether def is one of this model's registered key
// definitions (primary or secondary).
func (m Model) Has(def key.Definition) bool {
	if def == m.PrimaryKey {
		return true
	}
	for _, d := range m.SecondaryKeys {
		if d == def {
			return true
		}
	}
	return false
}

// Builder assembles a Model for record type T via explicit extractor
// closures, since Go offers no reflection-free way to derive them at
// compile time the way a proc-macro would.
type Builder[T any] struct {
	modelID, modelVersion uint32
	primaryField          string
	primaryFunc           func(*T) key.Key
	secondaries           []secondaryDef[T]
}

type secondaryDef[T any] struct {
	def     key.Definition
	extract func(*T) key.Entry
}

// NewBuilder starts a Model definition for T, tagged with the (model id,
// model version) the record codec embeds in its frame header.
func NewBuilder[T any](modelID, modelVersion uint32) *Builder[T] {
	return &Builder[T]{modelID: modelID, modelVersion: modelVersion}
}

// Primary registers the primary key extractor. field names the primary key
// for physical-table-naming purposes; primary keys always use empty
// Options.
func (b *Builder[T]) Primary(field string, extract func(*T) key.Key) *Builder[T] {
	b.primaryField = field
	b.primaryFunc = extract
	return b
}

// Secondary registers one secondary key extractor.
func (b *Builder[T]) Secondary(field string, opts key.Options, extract func(*T) key.Entry) *Builder[T] {
	def := key.NewSecondary(b.modelID, b.modelVersion, field, opts)
	b.secondaries = append(b.secondaries, secondaryDef[T]{def: def, extract: extract})
	return b
}

// Build finalizes the Model. Panics if Primary was never called: a model
// without a primary key extractor is a programming error caught at
// registration time, not a recoverable runtime condition.
func (b *Builder[T]) Build() Model {
	if b.primaryFunc == nil {
		panic("model: Primary(...) must be called before Build()")
	}

	secondaryDefs := make([]key.Definition, 0, len(b.secondaries))
	for _, s := range b.secondaries {
		secondaryDefs = append(secondaryDefs, s.def)
	}

	primaryFn := b.primaryFunc
	secondaries := b.secondaries

	return Model{
		ModelID:       b.modelID,
		ModelVersion:  b.modelVersion,
		Type:          reflect.TypeOf((*T)(nil)).Elem(),
		PrimaryKey:    key.NewPrimary(b.modelID, b.modelVersion, b.primaryField),
		SecondaryKeys: secondaryDefs,
		PrimaryKeyFunc: func(v any) key.Key {
			return primaryFn(v.(*T))
		},
		SecondaryKeysFunc: func(v any) map[key.Definition]key.Entry {
			out := make(map[key.Definition]key.Entry, len(secondaries))
			t := v.(*T)
			for _, s := range secondaries {
				out[s.def] = s.extract(t)
			}
			return out
		},
	}
}
