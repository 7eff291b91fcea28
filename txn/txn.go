// Package txn implements typedkv's transactional record API: snapshot
// reads (RTxn) and single-writer read/write transactions (RWTxn) layered
// on storage.Backend, maintaining secondary indexes and staging watch
// events as part of each mutation (spec.md §4.6-§4.8). Grounded on the
// teacher's Transaction/TransactionManager (pkg/resource/badger/
// transaction.go) for the open/commit/abort shape, and its IndexManager
// (pkg/resource/badger/index.go) for per-row index maintenance,
// generalized from the teacher's JSON-list-per-index-value scheme to the
// composite-key scheme spec.md's non-unique secondary indexes require.
package txn

import (
	"reflect"

	"github.com/kasuganosora/typedkv/catalog"
	"github.com/kasuganosora/typedkv/codec"
	"github.com/kasuganosora/typedkv/dberr"
	"github.com/kasuganosora/typedkv/key"
	"github.com/kasuganosora/typedkv/model"
	"github.com/kasuganosora/typedkv/storage"
)

// RTxn is a read-only snapshot transaction.
type RTxn struct {
	tx       storage.ReadTx
	registry *model.Registry
	catalog  *catalog.Catalog
	codec    codec.Codec
}

// NewRTxn wraps a freshly begun storage.ReadTx. Callers normally obtain one
// through the root Database facade, not directly.
func NewRTxn(tx storage.ReadTx, r *model.Registry, c *catalog.Catalog, cd codec.Codec) *RTxn {
	return &RTxn{tx: tx, registry: r, catalog: c, codec: cd}
}

// Discard releases the snapshot. Safe to call even if never read from.
func (r *RTxn) Discard() { r.tx.Discard() }

func lookupTable[T any](r *model.Registry, c *catalog.Catalog) (*catalog.PrimaryTable, error) {
	pt, err := lookupTableAllowLegacy[T](r, c)
	if err != nil {
		return nil, err
	}
	if pt.Legacy {
		return nil, &dberr.MigrateLegacyModel{Table: pt.PrimaryTableName}
	}
	return pt, nil
}

// lookupTableAllowLegacy is lookupTable without the legacy rejection, for
// use by the migration package, which is precisely the one caller allowed
// to read and drain a legacy table.
func lookupTableAllowLegacy[T any](r *model.Registry, c *catalog.Catalog) (*catalog.PrimaryTable, error) {
	pt, ok := catalog.Lookup[T](c, r)
	if !ok {
		return nil, &dberr.TableDefinitionNotFound{Table: reflect.TypeOf((*T)(nil)).Elem().String()}
	}
	return pt, nil
}

func decodeRow[T any](cd codec.Codec, pt *catalog.PrimaryTable, data []byte) (T, error) {
	var v T
	if err := codec.DecodeRecord(cd, pt.ModelID, pt.ModelVersion, data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// GetPrimary fetches the row with primary key pk.
func GetPrimary[T any](r *RTxn, pk key.Key) (T, bool, error) {
	var zero T
	pt, err := lookupTable[T](r.registry, r.catalog)
	if err != nil {
		return zero, false, err
	}
	data, found, err := r.tx.Get(pt.PrimaryTableName, pk.Bytes())
	if err != nil || !found {
		return zero, false, err
	}
	v, err := decodeRow[T](r.codec, pt, data)
	return v, err == nil, err
}

// GetSecondary fetches the row whose unique secondary key def equals sk.
// Returns SecondaryKeyConstraintMismatch if def is not a unique key, or
// PrimaryKeyNotFound if the secondary entry points at a primary row that no
// longer exists (violation of invariant I2 — fatal, indicates corruption).
func GetSecondary[T any](r *RTxn, def key.Definition, sk key.Key) (T, bool, error) {
	var zero T
	pt, err := lookupTable[T](r.registry, r.catalog)
	if err != nil {
		return zero, false, err
	}
	table, ok := pt.SecondaryTables[def]
	if !ok {
		return zero, false, &dberr.SecondaryKeyDefinitionNotFound{Table: pt.PrimaryTableName, Key: def.Field}
	}
	if !def.Options.Unique {
		return zero, false, &dberr.SecondaryKeyConstraintMismatch{Table: table, Key: def.Field}
	}

	pkBytes, found, err := r.tx.Get(table, sk.Bytes())
	if err != nil || !found {
		return zero, false, err
	}
	v, found, err := GetPrimary[T](r, key.FromBytes(pkBytes))
	if err != nil {
		return zero, false, err
	}
	if !found {
		return zero, false, &dberr.PrimaryKeyNotFound{Table: pt.PrimaryTableName}
	}
	return v, true, nil
}

// LenPrimary counts the rows in T's primary table.
func LenPrimary[T any](r *RTxn) (uint64, error) {
	pt, err := lookupTable[T](r.registry, r.catalog)
	if err != nil {
		return 0, err
	}
	return r.tx.Count(pt.PrimaryTableName)
}

// LenSecondary counts the rows in T's secondary table for def.
func LenSecondary[T any](r *RTxn, def key.Definition) (uint64, error) {
	pt, err := lookupTable[T](r.registry, r.catalog)
	if err != nil {
		return 0, err
	}
	table, ok := pt.SecondaryTables[def]
	if !ok {
		return 0, &dberr.SecondaryKeyDefinitionNotFound{Table: pt.PrimaryTableName, Key: def.Field}
	}
	return r.tx.Count(table)
}
