package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/typedkv/catalog"
	"github.com/kasuganosora/typedkv/codec"
	"github.com/kasuganosora/typedkv/dberr"
	"github.com/kasuganosora/typedkv/key"
	"github.com/kasuganosora/typedkv/model"
	"github.com/kasuganosora/typedkv/storage"
	"github.com/kasuganosora/typedkv/watch"
)

type user struct {
	ID    uint32
	Email string
	Team  string
}

func userModel() model.Model {
	return model.NewBuilder[user](1, 0).
		Primary("id", func(v *user) key.Key { return key.FromUint32(v.ID) }).
		Secondary("email", key.Options{Unique: true}, func(v *user) key.Entry {
			return key.Mandatory(key.FromString(v.Email))
		}).
		Secondary("team", key.Options{}, func(v *user) key.Entry {
			return key.Mandatory(key.FromString(v.Team))
		}).
		Build()
}

type fixture struct {
	backend  *storage.BadgerBackend
	registry *model.Registry
	catalog  *catalog.Catalog
	codec    codec.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b, err := storage.Open(storage.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	r := model.NewRegistry()
	require.NoError(t, r.Define(userModel()))
	r.Freeze()

	c, err := catalog.Build(r)
	require.NoError(t, err)

	return &fixture{backend: b, registry: r, catalog: c, codec: codec.JSONCodec{}}
}

func (f *fixture) rwtxn(t *testing.T) *RWTxn {
	t.Helper()
	wtx, err := f.backend.BeginWrite()
	require.NoError(t, err)
	return NewRWTxn(wtx, f.registry, f.catalog, f.codec)
}

func (f *fixture) rtxn(t *testing.T) *RTxn {
	t.Helper()
	rtx, err := f.backend.BeginRead()
	require.NoError(t, err)
	return NewRTxn(rtx, f.registry, f.catalog, f.codec)
}

func TestInsertGetPrimaryAndSecondary(t *testing.T) {
	f := newFixture(t)

	w := f.rwtxn(t)
	require.NoError(t, Insert(w, &user{ID: 1, Email: "a@x.com", Team: "core"}))
	events, err := w.Commit()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, watch.Insert, events[0].Kind)

	r := f.rtxn(t)
	defer r.Discard()

	got, found, err := GetPrimary[user](r, key.FromUint32(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a@x.com", got.Email)

	emailDef, _ := got.secondaryDef(f, "email")
	bySecondary, found, err := GetSecondary[user](r, emailDef, key.FromString("a@x.com"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(1), bySecondary.ID)
}

// secondaryDef is a small test helper: look up the registered Definition
// for a field name via the model stored in the fixture's catalog.
func (u user) secondaryDef(f *fixture, field string) (key.Definition, bool) {
	pt, ok := catalog.Lookup[user](f.catalog, f.registry)
	if !ok {
		return key.Definition{}, false
	}
	return pt.Schema.SecondaryKeyDefinition(field)
}

func TestInsertDuplicatePrimaryFails(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	require.NoError(t, Insert(w, &user{ID: 1, Email: "a@x.com", Team: "core"}))
	err := Insert(w, &user{ID: 1, Email: "b@x.com", Team: "core"})
	require.Error(t, err)
	var dup *dberr.DuplicateKey
	require.ErrorAs(t, err, &dup)
}

func TestInsertDuplicateUniqueSecondaryFails(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	require.NoError(t, Insert(w, &user{ID: 1, Email: "a@x.com", Team: "core"}))
	err := Insert(w, &user{ID: 2, Email: "a@x.com", Team: "core"})
	require.Error(t, err)
	var dup *dberr.DuplicateKey
	require.ErrorAs(t, err, &dup)
}

func TestNonUniqueSecondaryAllowsMultipleRows(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	require.NoError(t, Insert(w, &user{ID: 1, Email: "a@x.com", Team: "core"}))
	require.NoError(t, Insert(w, &user{ID: 2, Email: "b@x.com", Team: "core"}))
	_, err := w.Commit()
	require.NoError(t, err)

	r := f.rtxn(t)
	defer r.Discard()
	pt, ok := catalog.Lookup[user](f.catalog, f.registry)
	require.True(t, ok)
	teamDef, ok := pt.Schema.SecondaryKeyDefinition("team")
	require.True(t, ok)

	n, err := LenSecondary[user](r, teamDef)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	cur, err := ScanSecondary[user](r, teamDef)
	require.NoError(t, err)
	defer cur.Close()
	var ids []uint32
	for cur.Next() {
		ids = append(ids, cur.Value().ID)
	}
	require.NoError(t, cur.Err())
	assert.ElementsMatch(t, []uint32{1, 2}, ids)
}

func TestScanSecondaryRangeAndStartWith(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	require.NoError(t, Insert(w, &user{ID: 1, Email: "a@x.com", Team: "ab"}))
	require.NoError(t, Insert(w, &user{ID: 2, Email: "b@x.com", Team: "abc"}))
	require.NoError(t, Insert(w, &user{ID: 3, Email: "c@x.com", Team: "b"}))
	require.NoError(t, Insert(w, &user{ID: 4, Email: "d@x.com", Team: "c"}))
	_, err := w.Commit()
	require.NoError(t, err)

	r := f.rtxn(t)
	defer r.Discard()
	pt, ok := catalog.Lookup[user](f.catalog, f.registry)
	require.True(t, ok)
	teamDef, ok := pt.Schema.SecondaryKeyDefinition("team")
	require.True(t, ok)

	// "ab" and "abc" must sort ahead of "b" despite "abc" being longer than
	// "b" — a length-prefixed composite encoding would get this wrong.
	ranged, err := RangeSecondary[user](r, teamDef, key.FromString("ab"), key.FromString("b"))
	require.NoError(t, err)
	defer ranged.Close()
	var ids []uint32
	for ranged.Next() {
		ids = append(ids, ranged.Value().ID)
	}
	require.NoError(t, ranged.Err())
	assert.ElementsMatch(t, []uint32{1, 2}, ids)

	prefixed, err := StartWithSecondary[user](r, teamDef, key.FromString("ab"))
	require.NoError(t, err)
	defer prefixed.Close()
	ids = nil
	for prefixed.Next() {
		ids = append(ids, prefixed.Value().ID)
	}
	require.NoError(t, prefixed.Err())
	assert.ElementsMatch(t, []uint32{1, 2}, ids)
}

func TestUpdateChangesSecondaryIndex(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	require.NoError(t, Insert(w, &user{ID: 1, Email: "a@x.com", Team: "core"}))
	_, err := w.Commit()
	require.NoError(t, err)

	w2 := f.rwtxn(t)
	old := &user{ID: 1, Email: "a@x.com", Team: "core"}
	require.NoError(t, Update(w2, old, &user{ID: 1, Email: "new@x.com", Team: "core"}))
	events, err := w2.Commit()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, watch.Update, events[0].Kind)

	r := f.rtxn(t)
	defer r.Discard()
	pt, _ := catalog.Lookup[user](f.catalog, f.registry)
	emailDef, _ := pt.Schema.SecondaryKeyDefinition("email")

	_, found, err := GetSecondary[user](r, emailDef, key.FromString("a@x.com"))
	require.NoError(t, err)
	assert.False(t, found, "old email must no longer resolve")

	got, found, err := GetSecondary[user](r, emailDef, key.FromString("new@x.com"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(1), got.ID)
}

func TestUpdateMissingRowFails(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	old := &user{ID: 1, Email: "a@x.com", Team: "core"}
	err := Update(w, old, old)
	require.Error(t, err)
	var nf *dberr.KeyNotFound
	require.ErrorAs(t, err, &nf)
}

func TestUpdateChangingPrimaryKeyMovesRowAndIndexes(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	require.NoError(t, Insert(w, &user{ID: 1, Email: "a@x.com", Team: "core"}))
	_, err := w.Commit()
	require.NoError(t, err)

	w2 := f.rwtxn(t)
	old := &user{ID: 1, Email: "a@x.com", Team: "core"}
	newV := &user{ID: 2, Email: "b@x.com", Team: "core"}
	require.NoError(t, Update(w2, old, newV))
	events, err := w2.Commit()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, byte(2), events[0].PrimaryKey.Bytes()[3])

	r := f.rtxn(t)
	defer r.Discard()

	_, found, err := GetPrimary[user](r, key.FromUint32(1))
	require.NoError(t, err)
	assert.False(t, found, "row must have moved off the old primary key")

	got, found, err := GetPrimary[user](r, key.FromUint32(2))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "b@x.com", got.Email)

	pt, _ := catalog.Lookup[user](f.catalog, f.registry)
	emailDef, _ := pt.Schema.SecondaryKeyDefinition("email")

	_, found, err = GetSecondary[user](r, emailDef, key.FromString("a@x.com"))
	require.NoError(t, err)
	assert.False(t, found, "old secondary entry must be gone")

	got, found, err = GetSecondary[user](r, emailDef, key.FromString("b@x.com"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(2), got.ID)
}

func TestUpdateChangingPrimaryKeyRejectsOccupiedTarget(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	require.NoError(t, Insert(w, &user{ID: 1, Email: "a@x.com", Team: "core"}))
	require.NoError(t, Insert(w, &user{ID: 2, Email: "b@x.com", Team: "core"}))
	_, err := w.Commit()
	require.NoError(t, err)

	w2 := f.rwtxn(t)
	old := &user{ID: 1, Email: "a@x.com", Team: "core"}
	newV := &user{ID: 2, Email: "c@x.com", Team: "core"}
	err = Update(w2, old, newV)
	require.Error(t, err)
	var dup *dberr.DuplicateKey
	require.ErrorAs(t, err, &dup)
}

func TestRemoveDeletesRowAndIndexes(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	require.NoError(t, Insert(w, &user{ID: 1, Email: "a@x.com", Team: "core"}))
	_, err := w.Commit()
	require.NoError(t, err)

	w2 := f.rwtxn(t)
	require.NoError(t, Remove[user](w2, key.FromUint32(1)))
	events, err := w2.Commit()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, watch.Remove, events[0].Kind)

	r := f.rtxn(t)
	defer r.Discard()
	_, found, err := GetPrimary[user](r, key.FromUint32(1))
	require.NoError(t, err)
	assert.False(t, found)

	pt, _ := catalog.Lookup[user](f.catalog, f.registry)
	emailDef, _ := pt.Schema.SecondaryKeyDefinition("email")
	_, found, err = GetSecondary[user](r, emailDef, key.FromString("a@x.com"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDrainPrimaryRemovesEverything(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	require.NoError(t, Insert(w, &user{ID: 1, Email: "a@x.com", Team: "core"}))
	require.NoError(t, Insert(w, &user{ID: 2, Email: "b@x.com", Team: "core"}))
	_, err := w.Commit()
	require.NoError(t, err)

	w2 := f.rwtxn(t)
	drained, err := DrainPrimary[user](w2)
	require.NoError(t, err)
	assert.Len(t, drained, 2)
	_, err = w2.Commit()
	require.NoError(t, err)

	r := f.rtxn(t)
	defer r.Discard()
	n, err := LenPrimary[user](r)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestMutationAfterCommitFails(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	_, err := w.Commit()
	require.NoError(t, err)

	err = Insert(w, &user{ID: 1, Email: "a@x.com", Team: "core"})
	require.Error(t, err)
	var closed *dberr.TransactionClosed
	require.ErrorAs(t, err, &closed)
}

func TestAbortDiscardsChanges(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	require.NoError(t, Insert(w, &user{ID: 1, Email: "a@x.com", Team: "core"}))
	w.Abort()

	r := f.rtxn(t)
	defer r.Discard()
	_, found, err := GetPrimary[user](r, key.FromUint32(1))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestScanPrimaryAllAndRange(t *testing.T) {
	f := newFixture(t)
	w := f.rwtxn(t)
	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, Insert(w, &user{ID: i, Email: "u" + string(rune('0'+i)) + "@x.com", Team: "core"}))
	}
	_, err := w.Commit()
	require.NoError(t, err)

	r := f.rtxn(t)
	defer r.Discard()

	all, err := All[user](r)
	require.NoError(t, err)
	defer all.Close()
	var ids []uint32
	for all.Next() {
		ids = append(ids, all.Value().ID)
	}
	require.NoError(t, all.Err())
	assert.Equal(t, []uint32{1, 2, 3, 4, 5}, ids)

	ranged, err := Range[user](r, key.FromUint32(2), key.FromUint32(4))
	require.NoError(t, err)
	defer ranged.Close()
	ids = nil
	for ranged.Next() {
		ids = append(ids, ranged.Value().ID)
	}
	require.NoError(t, ranged.Err())
	assert.Equal(t, []uint32{2, 3}, ids)
}
