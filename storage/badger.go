package storage

import (
	"bytes"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/kasuganosora/typedkv/dberr"
)

// tablePrefix namespaces table into Badger's single flat keyspace as
// "{table}\x00{key}". The NUL separator can never appear inside a table
// name (table names are generated from model_id/model_version/field,
// spec.md §4.2) so no user key can be mistaken for a different table's.
func tablePrefix(table string) []byte {
	p := make([]byte, 0, len(table)+1)
	p = append(p, table...)
	p = append(p, 0)
	return p
}

func physicalKey(table string, k []byte) []byte {
	return append(tablePrefix(table), k...)
}

// BadgerBackend is the storage.Backend implementation layered on
// badger/v4, grounded on the teacher's BadgerDataSource (pkg/resource/badger
// /datasource.go). Unlike the teacher, which hands out independent
// read/write badger.Txn objects to concurrent callers and lets Badger's own
// SSI conflict detection sort out write/write races, BadgerBackend adds an
// explicit single-writer mutex: spec.md requires that at most one RW
// transaction exist at a time and that acquiring a second one blocks,
// rather than racing to commit and having the loser fail.
type BadgerBackend struct {
	db *badger.DB

	// writeMu serializes RW transaction acquisition. Badger's optimistic
	// concurrency would let two RW txns proceed and fail one at commit;
	// the spec wants blocking acquisition instead, so the mutex is taken
	// for the lifetime of the RW transaction and released at
	// Commit/Discard.
	writeMu chan struct{} // 1-buffered, acts as a blocking mutex usable with contexts elsewhere
}

// Options mirrors the subset of badger.Options the spec's Builder exposes:
// on-disk vs in-memory, sync writes, and an injectable logger.
type Options struct {
	Dir        string
	InMemory   bool
	SyncWrites bool
	Logger     badger.Logger
}

// Open opens (creating if absent) a BadgerBackend per opts.
func Open(opts Options) (*BadgerBackend, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(opts.Logger)
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		if isUpgradeRequired(err) {
			return nil, &dberr.UpgradeRequired{Details: []string{err.Error()}}
		}
		return nil, &dberr.Backend{Op: "open", Cause: err}
	}

	b := &BadgerBackend{db: db, writeMu: make(chan struct{}, 1)}
	b.writeMu <- struct{}{}
	return b, nil
}

// isUpgradeRequired is a best-effort classifier for the on-disk format
// mismatches badger.Open surfaces when a data directory was written by an
// incompatible badger version (e.g. a manifest version bump). Badger does
// not export a typed sentinel for this, so it is recognized by message
// content; anything not matched falls back to a generic Backend error.
func isUpgradeRequired(err error) bool {
	msg := err.Error()
	return bytes.Contains([]byte(msg), []byte("Manifest")) &&
		bytes.Contains([]byte(msg), []byte("version"))
}

func (b *BadgerBackend) BeginRead() (ReadTx, error) {
	txn := b.db.NewTransaction(false)
	return &badgerReadTx{txn: txn}, nil
}

func (b *BadgerBackend) BeginWrite() (WriteTx, error) {
	<-b.writeMu
	txn := b.db.NewTransaction(true)
	return &badgerWriteTx{badgerReadTx: badgerReadTx{txn: txn}, release: b.release}, nil
}

func (b *BadgerBackend) release() {
	b.writeMu <- struct{}{}
}

func (b *BadgerBackend) Sequence(name string, bandwidth uint64) (Sequence, error) {
	seq, err := b.db.GetSequence([]byte(name), bandwidth)
	if err != nil {
		return nil, &dberr.Backend{Op: "sequence:" + name, Cause: err}
	}
	return &badgerSequence{seq: seq}, nil
}

// SnapshotCopy copies every named table's current contents into dst,
// byte-for-byte, inside one read snapshot of the receiver and one write
// transaction of dst (spec.md §4.5's CreateSnapshot). Grounded on the
// teacher's MaintenanceManager.Backup (maintenance.go), generalized from a
// raw badger.DB.Backup stream to a table-scoped copy that also works
// across two distinct BadgerBackend instances.
func (b *BadgerBackend) SnapshotCopy(dst Backend, tables []string) error {
	rtx, err := b.BeginRead()
	if err != nil {
		return err
	}
	defer rtx.Discard()

	wtx, err := dst.BeginWrite()
	if err != nil {
		return err
	}
	defer wtx.Discard()

	for _, table := range tables {
		it := rtx.Iterate(table, IterOptions{})
		for it.Next() {
			v, err := it.Value()
			if err != nil {
				it.Close()
				return err
			}
			if err := wtx.Set(table, append([]byte(nil), it.Key()...), v); err != nil {
				it.Close()
				return err
			}
		}
		if err := it.Err(); err != nil {
			it.Close()
			return err
		}
		it.Close()
	}

	return wtx.Commit()
}

// Compact flattens the LSM tree and reclaims value-log space, grounded on
// the teacher's MaintenanceManager.RunCompaction/RunGC (maintenance.go). It
// reports whether any work was actually done (badger.ErrNoRewrite means the
// value log had nothing worth rewriting).
func (b *BadgerBackend) Compact() (bool, error) {
	didWork := false
	err := b.db.RunValueLogGC(0.5)
	if err == nil {
		didWork = true
	} else if err != badger.ErrNoRewrite {
		return false, &dberr.Backend{Op: "compact:gc", Cause: err}
	}

	if err := b.db.Flatten(2); err != nil {
		return didWork, &dberr.Backend{Op: "compact:flatten", Cause: err}
	}
	return didWork, nil
}

// CheckIntegrity performs a full value-fetch pass over every key in the
// database, surfacing any checksum failure or corrupt value-log pointer.
// Grounded on the teacher's MaintenanceManager.VerifyIntegrity
// (maintenance.go), generalized from a fixed row prefix to every key.
func (b *BadgerBackend) CheckIntegrity() (bool, error) {
	ok := true
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if verr := item.Value(func(_ []byte) error { return nil }); verr != nil {
				ok = false
				return fmt.Errorf("integrity check failed at key %q: %w", item.Key(), verr)
			}
		}
		return nil
	})
	if err != nil {
		return false, &dberr.Backend{Op: "check_integrity", Cause: err}
	}
	return ok, nil
}

func (b *BadgerBackend) Close() error {
	if err := b.db.Close(); err != nil {
		return &dberr.Backend{Op: "close", Cause: err}
	}
	return nil
}

type badgerSequence struct {
	seq *badger.Sequence
}

func (s *badgerSequence) Next() (uint64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, &dberr.Backend{Op: "sequence.next", Cause: err}
	}
	return n, nil
}

func (s *badgerSequence) Release() error {
	if err := s.seq.Release(); err != nil {
		return &dberr.Backend{Op: "sequence.release", Cause: err}
	}
	return nil
}

type badgerReadTx struct {
	txn *badger.Txn
}

func (r *badgerReadTx) Get(table string, k []byte) ([]byte, bool, error) {
	item, err := r.txn.Get(physicalKey(table, k))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &dberr.Backend{Op: "get", Cause: err}
	}
	var v []byte
	err = item.Value(func(val []byte) error {
		v = append([]byte(nil), val...)
		return nil
	})
	if err != nil {
		return nil, false, &dberr.Backend{Op: "get.value", Cause: err}
	}
	return v, true, nil
}

func (r *badgerReadTx) Iterate(table string, opts IterOptions) Iterator {
	bopts := badger.DefaultIteratorOptions
	bopts.Reverse = opts.Reverse
	prefix := tablePrefix(table)
	scanPrefix := append(append([]byte(nil), prefix...), opts.Prefix...)

	it := r.txn.NewIterator(bopts)
	seek := scanPrefix
	if opts.Reverse {
		// Badger reverse iteration seeks from the largest key <= seek; append
		// 0xff so we start past every key sharing scanPrefix.
		seek = append(append([]byte(nil), scanPrefix...), 0xff)
	}
	it.Seek(seek)

	return &badgerIterator{it: it, tablePrefixLen: len(prefix), scanPrefix: scanPrefix, reverse: opts.Reverse}
}

func (r *badgerReadTx) Count(table string) (uint64, error) {
	it := r.Iterate(table, IterOptions{})
	defer it.Close()
	var n uint64
	for it.Next() {
		n++
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *badgerReadTx) Discard() {
	r.txn.Discard()
}

type badgerWriteTx struct {
	badgerReadTx
	release func()
	done    bool
}

func (w *badgerWriteTx) Set(table string, k, v []byte) error {
	if err := w.txn.Set(physicalKey(table, k), v); err != nil {
		return &dberr.Backend{Op: "set", Cause: err}
	}
	return nil
}

func (w *badgerWriteTx) Delete(table string, k []byte) error {
	if err := w.txn.Delete(physicalKey(table, k)); err != nil {
		return &dberr.Backend{Op: "delete", Cause: err}
	}
	return nil
}

func (w *badgerWriteTx) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.release()
	if err := w.txn.Commit(); err != nil {
		return &dberr.Backend{Op: "commit", Cause: err}
	}
	return nil
}

func (w *badgerWriteTx) Discard() {
	if w.done {
		return
	}
	w.done = true
	w.txn.Discard()
	w.release()
}

type badgerIterator struct {
	it             *badger.Iterator
	tablePrefixLen int
	scanPrefix     []byte
	reverse        bool
	err            error
	cur            *badger.Item
}

func (it *badgerIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.it.ValidForPrefix(it.scanPrefix) {
		return false
	}
	it.cur = it.it.Item()
	it.it.Next()
	return true
}

func (it *badgerIterator) Key() []byte {
	if it.cur == nil {
		return nil
	}
	return it.cur.KeyCopy(nil)[it.tablePrefixLen:]
}

func (it *badgerIterator) Value() ([]byte, error) {
	if it.cur == nil {
		return nil, nil
	}
	var v []byte
	err := it.cur.Value(func(val []byte) error {
		v = append([]byte(nil), val...)
		return nil
	})
	if err != nil {
		it.err = err
		return nil, &dberr.Backend{Op: "iterator.value", Cause: err}
	}
	return v, nil
}

func (it *badgerIterator) Err() error {
	return it.err
}

func (it *badgerIterator) Close() {
	it.it.Close()
}
