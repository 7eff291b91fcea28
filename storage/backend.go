// Package storage adapts a single-writer MVCC byte-KV engine to the shape
// the transaction layer needs: named byte→byte tables, begin_read/
// begin_write, iteration, commit, snapshot-copy, compaction and integrity
// checks (spec.md §4.5). BadgerBackend is the concrete implementation; the
// Backend/ReadTx/WriteTx interfaces exist so the transaction layer never
// imports badger directly.
package storage

// IterOptions configures a table scan.
type IterOptions struct {
	// Prefix restricts iteration to keys with this byte prefix (relative to
	// the table, not including the table's own physical prefix).
	Prefix []byte
	// Reverse iterates from the end of the (optionally prefixed) range
	// backward.
	Reverse bool
}

// Iterator walks one table's key/value pairs in key order (or reverse, per
// IterOptions.Reverse). Callers must call Close when done.
type Iterator interface {
	// Next advances to the next item, returning false when exhausted or on
	// error (check Err() to distinguish the two).
	Next() bool
	Key() []byte
	Value() ([]byte, error)
	Err() error
	Close()
}

// ReadTx is a read-only snapshot view over every named table, fixed as of
// the moment the transaction began.
type ReadTx interface {
	Get(table string, k []byte) (val []byte, found bool, err error)
	Iterate(table string, opts IterOptions) Iterator
	// Count returns the number of keys in table, used for len.primary/
	// len.secondary. It pays for a full scan; callers needing frequent
	// counts should cache.
	Count(table string) (uint64, error)
	Discard()
}

// WriteTx is a single-writer read/write view. All mutations become visible
// to other transactions only at Commit.
type WriteTx interface {
	ReadTx
	Set(table string, k, v []byte) error
	Delete(table string, k []byte) error
	Commit() error
}

// Sequence is a durable, monotonically increasing counter, used by the
// watcher-id allocator.
type Sequence interface {
	Next() (uint64, error)
	Release() error
}

// Backend is the storage engine typedkv is layered on.
type Backend interface {
	BeginRead() (ReadTx, error)
	BeginWrite() (WriteTx, error)

	// SnapshotCopy iterates every table named in tables inside a read
	// snapshot of the receiver and a single write transaction of dst,
	// copying byte-for-byte (spec.md §4.5).
	SnapshotCopy(dst Backend, tables []string) error

	Compact() (bool, error)
	CheckIntegrity() (bool, error)

	Sequence(name string, bandwidth uint64) (Sequence, error)

	Close() error
}
