package txn

import (
	"github.com/kasuganosora/typedkv/catalog"
	"github.com/kasuganosora/typedkv/codec"
	"github.com/kasuganosora/typedkv/dberr"
	"github.com/kasuganosora/typedkv/key"
	"github.com/kasuganosora/typedkv/storage"
)

// Cursor lazily walks a table's rows in key order. Nothing is read from
// storage until Next is called, so a caller that only wants the first few
// rows (or the count) never pays for the rest of the scan.
type Cursor[T any] struct {
	it        storage.Iterator
	pt        *catalog.PrimaryTable
	cd        codec.Codec
	secondary bool // true when iterating a secondary table (values are primary-key bytes)
	rtx       *RTxn
	err       error
	cur       T

	loBound key.Key
	hiBound key.Key
	hasHi   bool
}

// All returns a cursor over every row of T's primary table, in primary-key
// order.
func All[T any](r *RTxn) (*Cursor[T], error) {
	pt, err := lookupTable[T](r.registry, r.catalog)
	if err != nil {
		return nil, err
	}
	it := r.tx.Iterate(pt.PrimaryTableName, storage.IterOptions{})
	return &Cursor[T]{it: it, pt: pt, cd: r.codec, rtx: r}, nil
}

// Range returns a cursor over every row of T's primary table whose key is
// >= lo and < hi (hi may be the zero Key to mean "unbounded").
func Range[T any](r *RTxn, lo, hi key.Key) (*Cursor[T], error) {
	c, err := All[T](r)
	if err != nil {
		return nil, err
	}
	return rangeFilter(c, lo, hi), nil
}

// StartWith returns a cursor over every row of T's primary table whose key
// has the given prefix.
func StartWith[T any](r *RTxn, prefix key.Key) (*Cursor[T], error) {
	pt, err := lookupTable[T](r.registry, r.catalog)
	if err != nil {
		return nil, err
	}
	it := r.tx.Iterate(pt.PrimaryTableName, storage.IterOptions{Prefix: prefix.Bytes()})
	return &Cursor[T]{it: it, pt: pt, cd: r.codec, rtx: r}, nil
}

// ScanSecondary returns a cursor over every row reachable through the
// secondary key definition def, in secondary-key order (and, for
// non-unique indexes, primary-key order within ties, since key.Composite
// places the secondary key's bytes ahead of the primary key's). Rows are
// resolved through the primary table, so a dangling index entry surfaces
// as PrimaryKeyNotFound rather than silently skipping.
func ScanSecondary[T any](r *RTxn, def key.Definition) (*Cursor[T], error) {
	return secondaryCursor[T](r, def, storage.IterOptions{})
}

// RangeSecondary returns a cursor over every row whose secondary key for
// def is >= lo and < hi (hi may be the zero Key to mean "unbounded").
// Because a non-unique index's physical key is (secondary key, primary
// key) with the secondary key's bytes unprefixed and first, comparing the
// physical key directly against lo/hi bounds the secondary key correctly:
// any row sharing hi as its secondary key sorts strictly after the bare
// hi bound (it has trailing primary-key bytes) and so is excluded, the
// same half-open behavior Range[T] gives primary scans.
func RangeSecondary[T any](r *RTxn, def key.Definition, lo, hi key.Key) (*Cursor[T], error) {
	c, err := secondaryCursor[T](r, def, storage.IterOptions{})
	if err != nil {
		return nil, err
	}
	return rangeFilter(c, lo, hi), nil
}

// StartWithSecondary returns a cursor over every row whose secondary key
// for def has the given prefix.
func StartWithSecondary[T any](r *RTxn, def key.Definition, prefix key.Key) (*Cursor[T], error) {
	return secondaryCursor[T](r, def, storage.IterOptions{Prefix: prefix.Bytes()})
}

func secondaryCursor[T any](r *RTxn, def key.Definition, opts storage.IterOptions) (*Cursor[T], error) {
	pt, err := lookupTable[T](r.registry, r.catalog)
	if err != nil {
		return nil, err
	}
	table, ok := pt.SecondaryTables[def]
	if !ok {
		return nil, &dberr.SecondaryKeyDefinitionNotFound{Table: pt.PrimaryTableName, Key: def.Field}
	}
	it := r.tx.Iterate(table, opts)
	return &Cursor[T]{it: it, pt: pt, cd: r.codec, secondary: true, rtx: r}, nil
}

func rangeFilter[T any](c *Cursor[T], lo, hi key.Key) *Cursor[T] {
	c.loBound = lo
	c.hiBound = hi
	c.hasHi = !hi.IsZero()
	return c
}

// Next advances the cursor, decoding the next row into the value Value
// returns. It returns false at end of range or on error (check Err()).
func (c *Cursor[T]) Next() bool {
	if c.err != nil {
		return false
	}
	for c.it.Next() {
		k := c.it.Key()
		if !c.loBound.IsZero() && key.FromBytes(k).Compare(c.loBound) < 0 {
			continue
		}
		if c.hasHi && key.FromBytes(k).Compare(c.hiBound) >= 0 {
			return false
		}

		val, err := c.it.Value()
		if err != nil {
			c.err = err
			return false
		}

		if c.secondary {
			pkKey := key.FromBytes(val)
			v, found, err := GetPrimary[T](c.rtx, pkKey)
			if err != nil {
				c.err = err
				return false
			}
			if !found {
				c.err = &dberr.PrimaryKeyNotFound{Table: c.pt.PrimaryTableName}
				return false
			}
			c.cur = v
			return true
		}

		v, err := decodeRow[T](c.cd, c.pt, val)
		if err != nil {
			c.err = err
			return false
		}
		c.cur = v
		return true
	}
	return false
}

// Value returns the row decoded by the most recent successful Next call.
func (c *Cursor[T]) Value() T { return c.cur }

// Err returns the error that stopped iteration, if any.
func (c *Cursor[T]) Err() error { return c.err }

// Close releases the underlying iterator. Safe to call more than once.
func (c *Cursor[T]) Close() { c.it.Close() }
