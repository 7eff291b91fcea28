package txn

import (
	"github.com/kasuganosora/typedkv/catalog"
	"github.com/kasuganosora/typedkv/dberr"
	"github.com/kasuganosora/typedkv/key"
	"github.com/kasuganosora/typedkv/storage"
)

// applyIndexDelta reconciles every secondary table of pt for one row
// transitioning from oldEntries to newEntries (either may be nil, meaning
// "row did not exist"/"row no longer exists"). Grounded on the teacher's
// IndexManager.UpdateIndexes (pkg/resource/badger/index.go), generalized
// from one JSON-encoded list per index value to the composite-key scheme:
// a unique index stores one row per secondary value (key=secondary key,
// value=primary key); a non-unique index stores one row per
// (secondary key, primary key) pair (invariant I1-I4 of spec.md §4.6.2).
func applyIndexDelta(
	wtx storage.WriteTx,
	pt *catalog.PrimaryTable,
	pk key.Key,
	oldEntries, newEntries map[key.Definition]key.Entry,
) error {
	for def, table := range pt.SecondaryTables {
		var oldKey, newKey key.Key
		var oldPresent, newPresent bool
		if oldEntries != nil {
			if e, ok := oldEntries[def]; ok {
				oldKey, oldPresent = e.Present()
			}
		}
		if newEntries != nil {
			if e, ok := newEntries[def]; ok {
				newKey, newPresent = e.Present()
			}
		}

		if oldPresent && newPresent && oldKey.Equal(newKey) {
			continue // unchanged, nothing to do for this definition
		}

		if oldPresent {
			if err := removeIndexRow(wtx, table, def, oldKey, pk); err != nil {
				return err
			}
		}
		if newPresent {
			if err := insertIndexRow(wtx, table, def, newKey, pk); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertIndexRow(wtx storage.WriteTx, table string, def key.Definition, sk, pk key.Key) error {
	if def.Options.Unique {
		existing, found, err := wtx.Get(table, sk.Bytes())
		if err != nil {
			return err
		}
		if found && !key.FromBytes(existing).Equal(pk) {
			return &dberr.DuplicateKey{Scope: table}
		}
		return wtx.Set(table, sk.Bytes(), pk.Bytes())
	}
	rowKey := key.Composite(sk, pk)
	return wtx.Set(table, rowKey.Bytes(), pk.Bytes())
}

func removeIndexRow(wtx storage.WriteTx, table string, def key.Definition, sk, pk key.Key) error {
	if def.Options.Unique {
		return wtx.Delete(table, sk.Bytes())
	}
	rowKey := key.Composite(sk, pk)
	return wtx.Delete(table, rowKey.Bytes())
}
