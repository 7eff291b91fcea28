package txn

import (
	"github.com/kasuganosora/typedkv/catalog"
	"github.com/kasuganosora/typedkv/codec"
	"github.com/kasuganosora/typedkv/dberr"
	"github.com/kasuganosora/typedkv/key"
	"github.com/kasuganosora/typedkv/model"
	"github.com/kasuganosora/typedkv/storage"
	"github.com/kasuganosora/typedkv/watch"
)

// state is RWTxn's lifecycle, per spec.md §4.7: Open, then exactly one of
// Committed or Aborted. Every mutating call and Commit check it first and
// raise TransactionClosed after either terminal state; Abort on a terminal
// txn is a no-op.
type state int

const (
	stateOpen state = iota
	stateCommitted
	stateAborted
)

// RWTxn is the single, exclusive read/write transaction. Acquiring one
// blocks until any prior RWTxn commits or aborts (storage.Backend.
// BeginWrite enforces this).
type RWTxn struct {
	tx       storage.WriteTx
	registry *model.Registry
	catalog  *catalog.Catalog
	codec    codec.Codec
	state    state
	staged   []watch.Event
}

// NewRWTxn wraps a freshly begun storage.WriteTx.
func NewRWTxn(tx storage.WriteTx, r *model.Registry, c *catalog.Catalog, cd codec.Codec) *RWTxn {
	return &RWTxn{tx: tx, registry: r, catalog: c, codec: cd}
}

func (w *RWTxn) checkOpen() error {
	if w.state != stateOpen {
		return &dberr.TransactionClosed{}
	}
	return nil
}

func (w *RWTxn) stage(ev watch.Event) {
	w.staged = append(w.staged, ev)
}

// Commit persists every staged mutation. It returns the events staged
// during this transaction so the caller (typically the Database facade)
// can dispatch them to the watch.Hub only once the write has actually
// landed.
func (w *RWTxn) Commit() ([]watch.Event, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	if err := w.tx.Commit(); err != nil {
		w.state = stateAborted
		return nil, err
	}
	w.state = stateCommitted
	return w.staged, nil
}

// Abort discards every staged mutation. Safe to call on an already-
// terminal transaction (no-op).
func (w *RWTxn) Abort() {
	if w.state != stateOpen {
		return
	}
	w.tx.Discard()
	w.state = stateAborted
}

// Insert adds a new row for v. Fails with DuplicateKey if a row already
// exists with v's primary key, or with any of v's unique secondary keys.
func Insert[T any](w *RWTxn, v *T) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	pt, err := lookupTable[T](w.registry, w.catalog)
	if err != nil {
		return err
	}

	pk := pt.Schema.PrimaryKeyFunc(v)
	_, found, err := w.tx.Get(pt.PrimaryTableName, pk.Bytes())
	if err != nil {
		return err
	}
	if found {
		return &dberr.DuplicateKey{Scope: pt.PrimaryTableName}
	}

	newEntries := pt.Schema.SecondaryKeysFunc(v)
	if err := applyIndexDelta(w.tx, pt, pk, nil, newEntries); err != nil {
		return err
	}

	data, err := codec.EncodeRecord(w.codec, pt.ModelID, pt.ModelVersion, v)
	if err != nil {
		return err
	}
	if err := w.tx.Set(pt.PrimaryTableName, pk.Bytes(), data); err != nil {
		return err
	}

	w.stage(watch.Event{ModelID: pt.ModelID, ModelVersion: pt.ModelVersion, PrimaryKey: pk, Kind: watch.Insert, NewValue: data})
	return nil
}

// Update replaces oldV with newV. The caller supplies both the previous
// and the next value (spec.md §4.6.2's update<T>(old, new)): the engine
// derives k_p_old and k_p_new independently from each and only assumes
// they coincide when they actually do. Fails with KeyNotFound if no row
// exists at k_p_old, or DuplicateKey if k_p_old != k_p_new and k_p_new is
// already occupied by an unrelated row.
func Update[T any](w *RWTxn, oldV, newV *T) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	pt, err := lookupTable[T](w.registry, w.catalog)
	if err != nil {
		return err
	}

	pkOld := pt.Schema.PrimaryKeyFunc(oldV)
	pkNew := pt.Schema.PrimaryKeyFunc(newV)

	oldData, found, err := w.tx.Get(pt.PrimaryTableName, pkOld.Bytes())
	if err != nil {
		return err
	}
	if !found {
		return &dberr.KeyNotFound{Table: pt.PrimaryTableName}
	}

	oldEntries := pt.Schema.SecondaryKeysFunc(oldV)
	newEntries := pt.Schema.SecondaryKeysFunc(newV)

	data, err := codec.EncodeRecord(w.codec, pt.ModelID, pt.ModelVersion, newV)
	if err != nil {
		return err
	}

	if pkOld.Equal(pkNew) {
		if err := applyIndexDelta(w.tx, pt, pkOld, oldEntries, newEntries); err != nil {
			return err
		}
		if err := w.tx.Set(pt.PrimaryTableName, pkNew.Bytes(), data); err != nil {
			return err
		}
	} else {
		_, occupied, err := w.tx.Get(pt.PrimaryTableName, pkNew.Bytes())
		if err != nil {
			return err
		}
		if occupied {
			return &dberr.DuplicateKey{Scope: pt.PrimaryTableName}
		}

		if err := applyIndexDelta(w.tx, pt, pkOld, oldEntries, nil); err != nil {
			return err
		}
		if err := w.tx.Delete(pt.PrimaryTableName, pkOld.Bytes()); err != nil {
			return err
		}
		if err := applyIndexDelta(w.tx, pt, pkNew, nil, newEntries); err != nil {
			return err
		}
		if err := w.tx.Set(pt.PrimaryTableName, pkNew.Bytes(), data); err != nil {
			return err
		}
	}

	w.stage(watch.Event{ModelID: pt.ModelID, ModelVersion: pt.ModelVersion, PrimaryKey: pkNew, Kind: watch.Update, OldValue: oldData, NewValue: data})
	return nil
}

// Remove deletes the row with primary key pk. Fails with KeyNotFound if
// no such row exists.
func Remove[T any](w *RWTxn, pk key.Key) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	pt, err := lookupTable[T](w.registry, w.catalog)
	if err != nil {
		return err
	}

	oldData, found, err := w.tx.Get(pt.PrimaryTableName, pk.Bytes())
	if err != nil {
		return err
	}
	if !found {
		return &dberr.KeyNotFound{Table: pt.PrimaryTableName}
	}

	var oldVal T
	if err := codec.DecodeRecord(w.codec, pt.ModelID, pt.ModelVersion, oldData, &oldVal); err != nil {
		return err
	}
	oldEntries := pt.Schema.SecondaryKeysFunc(&oldVal)

	if err := applyIndexDelta(w.tx, pt, pk, oldEntries, nil); err != nil {
		return err
	}
	if err := w.tx.Delete(pt.PrimaryTableName, pk.Bytes()); err != nil {
		return err
	}

	w.stage(watch.Event{ModelID: pt.ModelID, ModelVersion: pt.ModelVersion, PrimaryKey: pk, Kind: watch.Remove, OldValue: oldData})
	return nil
}

// DrainPrimary removes every row of T's primary table, returning the
// removed values. Used by tests and by callers that want to empty a table
// without dropping its registration.
func DrainPrimary[T any](w *RWTxn) ([]T, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	pt, err := lookupTable[T](w.registry, w.catalog)
	if err != nil {
		return nil, err
	}
	return drainTable[T](w, pt)
}

// DrainLegacy is DrainPrimary without the current-model restriction, for
// use by the migration package when converting a legacy table's rows to
// a current model (ConvertAll).
func DrainLegacy[T any](w *RWTxn) ([]T, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	pt, err := lookupTableAllowLegacy[T](w.registry, w.catalog)
	if err != nil {
		return nil, err
	}
	return drainTable[T](w, pt)
}

func drainTable[T any](w *RWTxn, pt *catalog.PrimaryTable) ([]T, error) {
	it := w.tx.Iterate(pt.PrimaryTableName, storage.IterOptions{})
	var pks []key.Key
	var rows []T
	for it.Next() {
		val, err := it.Value()
		if err != nil {
			it.Close()
			return nil, err
		}
		var v T
		if err := codec.DecodeRecord(w.codec, pt.ModelID, pt.ModelVersion, val, &v); err != nil {
			it.Close()
			return nil, err
		}
		pks = append(pks, key.FromBytes(append([]byte(nil), it.Key()...)))
		rows = append(rows, v)
	}
	if err := it.Err(); err != nil {
		it.Close()
		return nil, err
	}
	it.Close()

	for i, pk := range pks {
		v := rows[i]
		oldEntries := pt.Schema.SecondaryKeysFunc(&v)
		if err := applyIndexDelta(w.tx, pt, pk, oldEntries, nil); err != nil {
			return nil, err
		}
		if err := w.tx.Delete(pt.PrimaryTableName, pk.Bytes()); err != nil {
			return nil, err
		}
	}

	return rows, nil
}
