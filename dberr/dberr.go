// Package dberr defines the typed error kinds raised by typedkv.
//
// Each kind is a small comparable struct implementing error, so callers can
// branch with errors.As instead of matching on formatted strings.
package dberr

import "fmt"

// DuplicateKey is returned when an insert or update would collide with an
// existing primary key or a unique secondary key.
type DuplicateKey struct {
	Scope string // the primary table's name or the secondary key's table name
}

func (e *DuplicateKey) Error() string {
	return fmt.Sprintf("duplicate key for %s", e.Scope)
}

// KeyNotFound is returned by remove/update of an absent row.
type KeyNotFound struct {
	Table string
}

func (e *KeyNotFound) Error() string {
	return fmt.Sprintf("key not found in %s", e.Table)
}

// PrimaryKeyNotFound indicates a secondary index entry dangles: a secondary
// table points at a primary key that no longer exists. This is fatal and
// indicates corruption (violation of invariant I2).
type PrimaryKeyNotFound struct {
	Table string
}

func (e *PrimaryKeyNotFound) Error() string {
	return fmt.Sprintf("primary key referenced by secondary index %s not found", e.Table)
}

// SecondaryKeyDefinitionNotFound is returned when a query references a
// key.Definition that is not part of the model's schema.
type SecondaryKeyDefinitionNotFound struct {
	Table string
	Key   string
}

func (e *SecondaryKeyDefinitionNotFound) Error() string {
	return fmt.Sprintf("secondary key definition not found: %s.%s", e.Table, e.Key)
}

// SecondaryKeyConstraintMismatch is returned when a unique-only API
// (get.secondary) is called with a non-unique key definition.
type SecondaryKeyConstraintMismatch struct {
	Table string
	Key   string
}

func (e *SecondaryKeyConstraintMismatch) Error() string {
	return fmt.Sprintf("secondary key %s.%s is not unique", e.Table, e.Key)
}

// TableDefinitionNotFound is returned when an unregistered model type is
// used with the transaction API.
type TableDefinitionNotFound struct {
	Table string
}

func (e *TableDefinitionNotFound) Error() string {
	return fmt.Sprintf("table definition not found: %s", e.Table)
}

// ModelMismatch is returned when a decoded record's embedded (model_id,
// model_version) tag does not match the model the caller expected.
type ModelMismatch struct {
	ExpectedID, ExpectedVersion uint32
	GotID, GotVersion           uint32
}

func (e *ModelMismatch) Error() string {
	return fmt.Sprintf("model mismatch: expected (%d,%d), got (%d,%d)",
		e.ExpectedID, e.ExpectedVersion, e.GotID, e.GotVersion)
}

// DecodeBodyError wraps a codec failure while decoding a record body.
type DecodeBodyError struct {
	Cause error
}

func (e *DecodeBodyError) Error() string { return fmt.Sprintf("decode body: %v", e.Cause) }
func (e *DecodeBodyError) Unwrap() error { return e.Cause }

// EncodeError wraps a codec failure while encoding a record.
type EncodeError struct {
	Cause error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("encode: %v", e.Cause) }
func (e *EncodeError) Unwrap() error { return e.Cause }

// MigrateLegacyModel is returned when a legacy (migration-only) table is
// written to, or read from, outside the migration API.
type MigrateLegacyModel struct {
	Table string
}

func (e *MigrateLegacyModel) Error() string {
	return fmt.Sprintf("cannot use legacy model table %s outside of migration", e.Table)
}

// DuplicateModel is returned by Registry.Define when (model_id, version) is
// already registered as a non-legacy model.
type DuplicateModel struct {
	ModelID, ModelVersion uint32
}

func (e *DuplicateModel) Error() string {
	return fmt.Sprintf("duplicate model (id=%d, version=%d)", e.ModelID, e.ModelVersion)
}

// TransactionClosed is returned by any mutation attempted on a RWTxn that
// already committed or aborted.
type TransactionClosed struct{}

func (e *TransactionClosed) Error() string { return "transaction is no longer open" }

// UpgradeRequired is returned when the on-disk metadata or storage format
// does not match what the running engine expects.
type UpgradeRequired struct {
	EngineVersion *VersionPair
	CodecVersion  *VersionPair
	StorageFormat *uint8
	Details       []string
}

// VersionPair names a (current, required) version mismatch.
type VersionPair struct {
	Current, Required string
}

func (e *UpgradeRequired) Error() string {
	msg := "database upgrade required:"
	for _, d := range e.Details {
		msg += "\n" + d
	}
	return msg
}

// UpgradeMigration wraps an error raised by a user-supplied upgrade/convert
// closure with context about what was being processed.
type UpgradeMigration struct {
	Context string
	Cause   error
}

func (e *UpgradeMigration) Error() string {
	return fmt.Sprintf("upgrade migration failed (%s): %v", e.Context, e.Cause)
}
func (e *UpgradeMigration) Unwrap() error { return e.Cause }

// WatchEventError is returned to a committer when a subscriber's queue was
// full or closed. Non-fatal: the commit that produced the event still
// succeeds.
type WatchEventError struct {
	WatcherID uint64
}

func (e *WatchEventError) Error() string {
	return fmt.Sprintf("watch event dropped for watcher %d: queue full", e.WatcherID)
}

// MaxWatcherReached is returned when the watcher id counter wraps around.
// Practically unreachable.
type MaxWatcherReached struct{}

func (e *MaxWatcherReached) Error() string { return "max watcher id reached" }

// Io wraps an underlying I/O failure from the storage backend.
type Io struct {
	Cause error
}

func (e *Io) Error() string { return fmt.Sprintf("io: %v", e.Cause) }
func (e *Io) Unwrap() error { return e.Cause }

// Backend wraps a storage-backend-specific failure that does not map to one
// of the above kinds.
type Backend struct {
	Op    string
	Cause error
}

func (e *Backend) Error() string { return fmt.Sprintf("backend %s: %v", e.Op, e.Cause) }
func (e *Backend) Unwrap() error { return e.Cause }
