// Package catalog builds the runtime table catalog from a frozen model
// registry: for every registered type, where its primary table and
// secondary tables physically live. No storage I/O happens here (spec.md
// §4.3); physical Badger keyspaces come into existence lazily on first
// write.
package catalog

import (
	"github.com/kasuganosora/typedkv/key"
	"github.com/kasuganosora/typedkv/model"
)

// PrimaryTable describes one registered model's physical layout.
type PrimaryTable struct {
	Schema           model.Model
	PrimaryTableName string
	SecondaryTables  map[key.Definition]string
	ModelID          uint32
	ModelVersion     uint32
	Legacy           bool
}

// Catalog is the immutable, shared table catalog built once at database
// open time.
type Catalog struct {
	byModelKey map[modelKey]*PrimaryTable
	order      []*PrimaryTable // the order model.Registry.All returned, which is not defined
}

type modelKey struct {
	id, version uint32
}

// Build materializes a Catalog from every model registered in r (current
// and legacy). Invariant I5 (at most one non-legacy table per
// (model_id, version)) is enforced by the registry, which rejects a second
// non-legacy Define; Build does not check it again.
func Build(r *model.Registry) (*Catalog, error) {
	c := &Catalog{byModelKey: make(map[modelKey]*PrimaryTable)}

	for _, m := range r.All() {
		secondaryTables := make(map[key.Definition]string, len(m.SecondaryKeys))
		for _, def := range m.SecondaryKeys {
			secondaryTables[def] = def.TableName()
		}

		pt := &PrimaryTable{
			Schema:           m,
			PrimaryTableName: m.PrimaryKey.TableName(),
			SecondaryTables:  secondaryTables,
			ModelID:          m.ModelID,
			ModelVersion:     m.ModelVersion,
			Legacy:           r.IsLegacyModel(m),
		}

		k := modelKey{m.ModelID, m.ModelVersion}
		c.byModelKey[k] = pt
		c.order = append(c.order, pt)
	}

	return c, nil
}

// Lookup returns the PrimaryTable registered for Go type T.
func Lookup[T any](c *Catalog, r *model.Registry) (*PrimaryTable, bool) {
	m, ok := model.Lookup[T](r)
	if !ok {
		return nil, false
	}
	pt, ok := c.byModelKey[modelKey{m.ModelID, m.ModelVersion}]
	return pt, ok
}

// All returns every PrimaryTable, legacy and current, for use by
// snapshot-copy and maintenance operations that must visit every physical
// table. The order is not defined; it does not follow registration order.
func (c *Catalog) All() []*PrimaryTable {
	return c.order
}
