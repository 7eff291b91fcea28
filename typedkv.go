// Package typedkv is an embedded, single-process, typed database layered
// on a transactional byte-level KV engine with MVCC snapshot semantics
// (spec.md §1). Database is the facade that ties the model registry,
// table catalog, storage backend, and watch hub together; txn.RTxn/
// txn.RWTxn do the actual reading and writing. Grounded on the teacher's
// BadgerDataSource (pkg/resource/badger/datasource.go) for the
// connect/close/stats shape and on original_source/src/database_instance.rs
// for the Builder→Database split.
package typedkv

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/kasuganosora/typedkv/catalog"
	"github.com/kasuganosora/typedkv/codec"
	"github.com/kasuganosora/typedkv/dberr"
	"github.com/kasuganosora/typedkv/migration"
	"github.com/kasuganosora/typedkv/model"
	"github.com/kasuganosora/typedkv/storage"
	"github.com/kasuganosora/typedkv/txn"
	"github.com/kasuganosora/typedkv/watch"
)

// EngineVersion is this build's metadata.engine_version tag, compared
// against a data directory's stored tag by UpgradingFromVersion at open
// time.
const EngineVersion = "v1.0.0"

// CodecVersion tags the wire format EncodeRecord/DecodeRecord use, stored
// alongside EngineVersion so a future codec change can be detected
// independently of engine-version bumps.
const CodecVersion = "v1.0.0"

// Builder assembles the model registry before a Database is opened. Models
// must be registered (Define/DefineLegacy) before Create/Open is called;
// the registry is frozen as part of construction.
type Builder struct {
	registry *model.Registry
	codec    codec.Codec
	logger   badger.Logger
}

// NewBuilder returns an empty Builder using the default JSON codec.
func NewBuilder() *Builder {
	return &Builder{registry: model.NewRegistry(), codec: codec.JSONCodec{}}
}

// Define registers m as a current model. See model.Registry.Define.
func (b *Builder) Define(m model.Model) error { return b.registry.Define(m) }

// DefineLegacy registers m as a migration-only model. See
// model.Registry.DefineLegacy.
func (b *Builder) DefineLegacy(m model.Model) error { return b.registry.DefineLegacy(m) }

// WithCodec overrides the default JSON record codec.
func (b *Builder) WithCodec(c codec.Codec) *Builder {
	b.codec = c
	return b
}

// WithLogger installs a badger.Logger, passed straight through to the
// storage backend the way the teacher's DataSourceConfig.Logger does.
func (b *Builder) WithLogger(l badger.Logger) *Builder {
	b.logger = l
	return b
}

// CreateOnDisk opens (creating if absent) a database rooted at dir.
func (b *Builder) CreateOnDisk(dir string) (*Database, error) {
	return b.open(storage.Options{Dir: dir, SyncWrites: true, Logger: b.logger})
}

// CreateInMemory opens a database with no on-disk footprint, for tests and
// ephemeral workloads.
func (b *Builder) CreateInMemory() (*Database, error) {
	return b.open(storage.Options{InMemory: true, Logger: b.logger})
}

// OpenOnDisk is an alias for CreateOnDisk: Badger itself does not
// distinguish "open existing" from "create if absent", so neither does
// this facade (spec.md §4.5).
func (b *Builder) OpenOnDisk(dir string) (*Database, error) {
	return b.CreateOnDisk(dir)
}

func (b *Builder) open(opts storage.Options) (*Database, error) {
	backend, err := storage.Open(opts)
	if err != nil {
		return nil, err
	}

	b.registry.Freeze()
	cat, err := catalog.Build(b.registry)
	if err != nil {
		backend.Close()
		return nil, err
	}

	seq, err := backend.Sequence("watcher_id", 64)
	if err != nil {
		backend.Close()
		return nil, err
	}
	hub := watch.NewHub(seq)

	db := &Database{
		backend:  backend,
		registry: b.registry,
		catalog:  cat,
		codec:    b.codec,
		hub:      hub,
	}

	if err := db.checkAndStampVersion(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// checkAndStampVersion loads the stored engine_version (defaulting to the
// current version on first open, matching the original's load-or-create
// metadata behavior), rejects a data directory newer than this binary, and
// stamps the current version back.
func (db *Database) checkAndStampVersion() error {
	wtx, err := db.backend.BeginWrite()
	if err != nil {
		return err
	}
	defer wtx.Discard()

	m := migration.NewMetadata(wtx)
	stored, err := m.Load(migration.KeyEngineVersion, EngineVersion)
	if err != nil {
		return err
	}

	newer, err := migration.UpgradingFromVersion(EngineVersion, stored)
	if err != nil {
		return err
	}
	if newer {
		return &dberr.UpgradeRequired{
			EngineVersion: &dberr.VersionPair{Current: EngineVersion, Required: stored},
			Details:       []string{fmt.Sprintf("data directory was written by engine %s, this binary is %s", stored, EngineVersion)},
		}
	}

	if err := m.Save(migration.KeyEngineVersion, EngineVersion); err != nil {
		return err
	}
	if err := m.Save(migration.KeyCodecVersion, CodecVersion); err != nil {
		return err
	}
	return wtx.Commit()
}

// Database is an opened typedkv instance.
type Database struct {
	backend  *storage.BadgerBackend
	registry *model.Registry
	catalog  *catalog.Catalog
	codec    codec.Codec
	hub      *watch.Hub
}

// RTransaction begins a read-only snapshot transaction.
func (db *Database) RTransaction() (*txn.RTxn, error) {
	rtx, err := db.backend.BeginRead()
	if err != nil {
		return nil, err
	}
	return txn.NewRTxn(rtx, db.registry, db.catalog, db.codec), nil
}

// RWTransaction begins the single read/write transaction. It blocks until
// any previously open RWTxn commits or aborts (spec.md §5).
func (db *Database) RWTransaction() (*txn.RWTxn, error) {
	wtx, err := db.backend.BeginWrite()
	if err != nil {
		return nil, err
	}
	return txn.NewRWTxn(wtx, db.registry, db.catalog, db.codec), nil
}

// Commit commits rw and dispatches its staged watch events to every
// matching subscriber. The returned watch errors are one per event dropped
// because a subscriber's queue was full (spec.md §4.8: dropped notifications never fail
// the commit itself, so a nil error here means the data is durably
// committed even if watchErrs is non-empty).
func (db *Database) Commit(rw *txn.RWTxn) (watchErrs []error, err error) {
	events, err := rw.Commit()
	if err != nil {
		return nil, err
	}
	return db.hub.Dispatch(events), nil
}

// Watch returns the shared watch.Hub used to subscribe to committed
// changes.
func (db *Database) Watch() *watch.Hub { return db.hub }

// Metadata reports the engine and codec version tags stamped into this
// database the last time it was opened (migration.KeyEngineVersion/
// KeyCodecVersion), the read-only counterpart to the writes
// checkAndStampVersion performs at open time.
func (db *Database) Metadata() (engineVersion, codecVersion string, err error) {
	rtx, err := db.backend.BeginRead()
	if err != nil {
		return "", "", err
	}
	defer rtx.Discard()

	m := migration.NewMetadata(&readOnlyMetadataView{rtx})
	engineVersion, err = m.Load(migration.KeyEngineVersion, EngineVersion)
	if err != nil {
		return "", "", err
	}
	codecVersion, err = m.Load(migration.KeyCodecVersion, CodecVersion)
	if err != nil {
		return "", "", err
	}
	return engineVersion, codecVersion, nil
}

// readOnlyMetadataView adapts a storage.ReadTx to the write-capable
// surface migration.Metadata expects, for read-only callers that only ever
// call Load. Set is unreachable here since Metadata.Load never calls it.
type readOnlyMetadataView struct {
	rtx storage.ReadTx
}

func (v *readOnlyMetadataView) Get(table string, k []byte) ([]byte, bool, error) {
	return v.rtx.Get(table, k)
}

func (v *readOnlyMetadataView) Set(table string, k, v2 []byte) error {
	panic("typedkv: Metadata() is read-only")
}

// Snapshot copies the database's current contents into a brand-new
// Database built from builder, rooted at dir (or in-memory, if dir is
// empty and inMemory is true). Grounded on the teacher's
// MaintenanceManager.Backup/Restore (maintenance.go), adapted from a
// stream-to-file backup into a direct backend-to-backend copy (spec.md
// §4.5's CreateSnapshot).
func (db *Database) Snapshot(builder *Builder, dir string, inMemory bool) (*Database, error) {
	var dst *Database
	var err error
	if inMemory {
		dst, err = builder.CreateInMemory()
	} else {
		dst, err = builder.CreateOnDisk(dir)
	}
	if err != nil {
		return nil, err
	}

	tables := make([]string, 0)
	for _, pt := range db.catalog.All() {
		tables = append(tables, pt.PrimaryTableName)
		for _, secTable := range pt.SecondaryTables {
			tables = append(tables, secTable)
		}
	}
	tables = append(tables, "metadata")

	if err := db.backend.SnapshotCopy(dst.backend, tables); err != nil {
		dst.Close()
		return nil, err
	}

	// Tag the copy with a fresh run id so operators can tell apart
	// snapshots taken from the same source directory at different times
	// (e.g. in log lines or a retained-snapshots index) without relying on
	// filesystem mtimes.
	wtx, err := dst.backend.BeginWrite()
	if err != nil {
		dst.Close()
		return nil, err
	}
	m := migration.NewMetadata(wtx)
	if err := m.Save(migration.KeySnapshotID, uuid.NewString()); err != nil {
		wtx.Discard()
		dst.Close()
		return nil, err
	}
	if err := wtx.Commit(); err != nil {
		dst.Close()
		return nil, err
	}

	return dst, nil
}

// Compact flattens the on-disk LSM tree and reclaims value-log space.
func (db *Database) Compact() (bool, error) { return db.backend.Compact() }

// CheckIntegrity verifies every stored value is readable and its checksum
// intact.
func (db *Database) CheckIntegrity() (bool, error) { return db.backend.CheckIntegrity() }

// Stats summarizes row counts across every registered table.
type Stats struct {
	Tables []TableStats
}

// TableStats is one table's row count, grounded on the original's
// stats.rs StatsTable and the teacher's own Stats struct
// (pkg/resource/badger/types.go).
type TableStats struct {
	Name     string
	RowCount uint64
}

// Stats reports row counts for every primary and secondary table.
func (db *Database) Stats() (Stats, error) {
	rtx, err := db.backend.BeginRead()
	if err != nil {
		return Stats{}, err
	}
	defer rtx.Discard()

	var out Stats
	for _, pt := range db.catalog.All() {
		n, err := rtx.Count(pt.PrimaryTableName)
		if err != nil {
			return Stats{}, err
		}
		out.Tables = append(out.Tables, TableStats{Name: pt.PrimaryTableName, RowCount: n})

		for _, secTable := range pt.SecondaryTables {
			n, err := rtx.Count(secTable)
			if err != nil {
				return Stats{}, err
			}
			out.Tables = append(out.Tables, TableStats{Name: secTable, RowCount: n})
		}
	}
	return out, nil
}

// Close releases the database's storage backend and watch subscribers.
func (db *Database) Close() error {
	if err := db.hub.Close(); err != nil {
		db.backend.Close()
		return err
	}
	return db.backend.Close()
}
