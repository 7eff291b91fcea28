// Package migration implements whole-table version upgrades and the
// engine's persistent metadata table. Grounded on the teacher's
// MigrationManager (pkg/resource/badger/migration.go) for the "migrate
// data from one representation to another inside the existing engine"
// shape, and on original_source/src/metadata/table.rs and src/upgrade.rs
// for the metadata keys and upgrade-error wrapping this package ports.
package migration

import (
	"github.com/kasuganosora/typedkv/dberr"
	"github.com/kasuganosora/typedkv/key"
	"github.com/kasuganosora/typedkv/txn"
)

// ConvertAll migrates every row of From's primary table to To, running
// convert over each decoded row. The source rows and their secondary
// entries are first removed through txn.DrainLegacy; each converted row is
// then inserted through txn.Insert (so uniqueness and secondary-index
// maintenance happen exactly once, the same way a normal write would),
// all inside the caller's existing RWTxn —
// so the whole conversion commits or aborts atomically with it (spec.md
// §4.7, §7). From is typically a type registered with
// model.Registry.DefineLegacy so it cannot be written to outside of
// migration (MigrateLegacyModel at the normal API).
func ConvertAll[From, To any](rw *txn.RWTxn, convert func(From) (To, error)) error {
	rows, err := txn.DrainLegacy[From](rw)
	if err != nil {
		return err
	}

	for _, from := range rows {
		to, err := convert(from)
		if err != nil {
			return &dberr.UpgradeMigration{Context: "convert_all", Cause: err}
		}
		if err := txn.Insert(rw, &to); err != nil {
			return &dberr.UpgradeMigration{Context: "convert_all: insert row", Cause: err}
		}
	}
	return nil
}

// metadataTable is the fixed physical table name for engine metadata,
// analogous to the original's reserved metadata table (metadata/table.rs).
const metadataTable = "metadata"

// Metadata keys, matching spec.md §6's stable names verbatim.
const (
	KeyEngineVersion = "engine_version"
	KeyCodecVersion  = "codec_version"
	// KeySnapshotID is only ever present in a database produced by
	// Database.Snapshot: a fresh identifier stamped onto the copy so an
	// operator can distinguish snapshots taken from the same source at
	// different times.
	KeySnapshotID = "snapshot_id"
)

// Metadata is the engine's persistent key/value record, stored in its own
// reserved table so Database.Snapshot copies it like any other table
// (Stats does not count it) but it never collides with a user model's physical table names
// (those are always "{model_id}_{model_version}_{field}").
type Metadata struct {
	tx kvStore
}

// kvStore is the minimal key/value surface Metadata needs; satisfied
// by storage.WriteTx. A storage.ReadTx has no Set, so read-only callers
// wrap it in an adapter that supplies one.
type kvStore interface {
	Get(table string, k []byte) ([]byte, bool, error)
	Set(table string, k, v []byte) error
}

// NewMetadata wraps a storage transaction for metadata access. tx must
// support Set to call Save; a read-only transaction may only call Load.
func NewMetadata(tx kvStore) *Metadata {
	return &Metadata{tx: tx}
}

// Load reads one metadata key, returning def if it was never set (the
// original's "load-or-create-with-default on first open" behavior).
func (m *Metadata) Load(name, def string) (string, error) {
	v, found, err := m.tx.Get(metadataTable, key.FromString(name).Bytes())
	if err != nil {
		return "", err
	}
	if !found {
		return def, nil
	}
	return string(v), nil
}

// Save writes one metadata key.
func (m *Metadata) Save(name, value string) error {
	return m.tx.Set(metadataTable, key.FromString(name).Bytes(), []byte(value))
}

// UpgradingFromVersion reports whether the engine_version stored at the
// time the database was last opened is strictly lower than current,
// comparing "vMAJOR.MINOR.PATCH" tags lexicographically component by
// component. Only the engine's own monotonically issued version strings
// are ever compared here (never arbitrary user-supplied semver ranges
// with operators), so a full semver grammar dependency is unwarranted —
// see DESIGN.md.
func UpgradingFromVersion(storedVersion, current string) (bool, error) {
	storedParts, err := splitVersion(storedVersion)
	if err != nil {
		return false, err
	}
	currentParts, err := splitVersion(current)
	if err != nil {
		return false, err
	}
	for i := 0; i < 3; i++ {
		if storedParts[i] != currentParts[i] {
			return storedParts[i] < currentParts[i], nil
		}
	}
	return false, nil
}

func splitVersion(v string) ([3]int, error) {
	var out [3]int
	var part, idx int
	started := false
	for _, r := range v {
		switch {
		case r == 'v' && !started:
			started = true
			continue
		case r == '.':
			if idx > 2 {
				return out, &dberr.UpgradeMigration{Context: "parse version", Cause: errTooManyComponents{v}}
			}
			out[idx] = part
			idx++
			part = 0
		case r >= '0' && r <= '9':
			part = part*10 + int(r-'0')
			started = true
		default:
			return out, &dberr.UpgradeMigration{Context: "parse version", Cause: errBadVersion{v}}
		}
	}
	if idx > 2 {
		return out, &dberr.UpgradeMigration{Context: "parse version", Cause: errTooManyComponents{v}}
	}
	out[idx] = part
	return out, nil
}

type errBadVersion struct{ v string }

func (e errBadVersion) Error() string { return "malformed version string: " + e.v }

type errTooManyComponents struct{ v string }

func (e errTooManyComponents) Error() string { return "version has more than 3 components: " + e.v }
