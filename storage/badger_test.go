package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *BadgerBackend {
	t.Helper()
	b, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestWriteThenReadIsolated(t *testing.T) {
	b := openMem(t)

	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Set("t1", []byte("a"), []byte("1")))

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	_, found, err := rtx.Get("t1", []byte("a"))
	require.NoError(t, err)
	assert.False(t, found, "uncommitted write must not be visible to a concurrent read snapshot")
	rtx.Discard()

	require.NoError(t, wtx.Commit())

	rtx2, err := b.BeginRead()
	require.NoError(t, err)
	v, found, err := rtx2.Get("t1", []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), v)
	rtx2.Discard()
}

func TestSecondWriteBlocksUntilFirstReleases(t *testing.T) {
	b := openMem(t)

	wtx, err := b.BeginWrite()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		wtx2, err := b.BeginWrite()
		require.NoError(t, err)
		require.NoError(t, wtx2.Commit())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second writer acquired before first released")
	default:
	}

	require.NoError(t, wtx.Commit())
	<-done
}

func TestTableIsolation(t *testing.T) {
	b := openMem(t)
	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Set("a", []byte("k"), []byte("va")))
	require.NoError(t, wtx.Set("b", []byte("k"), []byte("vb")))
	require.NoError(t, wtx.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	va, _, err := rtx.Get("a", []byte("k"))
	require.NoError(t, err)
	vb, _, err := rtx.Get("b", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("va"), va)
	assert.Equal(t, []byte("vb"), vb)
}

func TestIteratePrefixAndOrder(t *testing.T) {
	b := openMem(t)
	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	for _, k := range []string{"a1", "a2", "a3", "b1"} {
		require.NoError(t, wtx.Set("t", []byte(k), []byte(k)))
	}
	require.NoError(t, wtx.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()

	it := rtx.Iterate("t", IterOptions{Prefix: []byte("a")})
	defer it.Close()
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"a1", "a2", "a3"}, got)
}

func TestCountAndDelete(t *testing.T) {
	b := openMem(t)
	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Set("t", []byte("a"), []byte("1")))
	require.NoError(t, wtx.Set("t", []byte("b"), []byte("2")))
	require.NoError(t, wtx.Commit())

	wtx2, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx2.Delete("t", []byte("a")))
	require.NoError(t, wtx2.Commit())

	rtx, err := b.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()
	n, err := rtx.Count("t")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestSnapshotCopy(t *testing.T) {
	src := openMem(t)
	dst := openMem(t)

	wtx, err := src.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Set("t", []byte("a"), []byte("1")))
	require.NoError(t, wtx.Commit())

	require.NoError(t, src.SnapshotCopy(dst, []string{"t"}))

	rtx, err := dst.BeginRead()
	require.NoError(t, err)
	defer rtx.Discard()
	v, found, err := rtx.Get("t", []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), v)
}

func TestSequenceMonotonic(t *testing.T) {
	b := openMem(t)
	seq, err := b.Sequence("watcher", 10)
	require.NoError(t, err)
	defer seq.Release()

	first, err := seq.Next()
	require.NoError(t, err)
	second, err := seq.Next()
	require.NoError(t, err)
	assert.Less(t, first, second)
}

func TestCheckIntegrityOnHealthyDB(t *testing.T) {
	b := openMem(t)
	wtx, err := b.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, wtx.Set("t", []byte("a"), []byte("1")))
	require.NoError(t, wtx.Commit())

	ok, err := b.CheckIntegrity()
	require.NoError(t, err)
	assert.True(t, ok)
}
