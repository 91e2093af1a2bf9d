package tracker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BadgerSnapshotStore {
	t.Helper()
	store, err := OpenBadgerSnapshotStore(StoreConfig{InMemory: true, Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func validSnapshot(formID string) Snapshot {
	return Snapshot{
		SchemaVersion:        SnapshotSchemaVersion,
		FormID:               formID,
		SessionID:            "session_1741597200000_abcdef123456",
		CurrentQuestionIndex: 2,
		TotalQuestions:       4,
		Answers:              map[string]json.RawMessage{"q1": json.RawMessage(`{"choice":"b"}`)},
		StartedAt:            time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		ElapsedSeconds:       90,
		FocusLossCount:       1,
		UpdatedAt:            time.Date(2025, 3, 10, 9, 1, 30, 0, time.UTC),
	}
}

func TestBadgerSnapshotStore_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "F1")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, store.Save(ctx, validSnapshot("F1")))
	loaded, err := store.Load(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, validSnapshot("F1"), *loaded)

	require.NoError(t, store.Delete(ctx, "F1"))
	_, err = store.Load(ctx, "F1")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestBadgerSnapshotStore_RejectsInvalidSnapshot(t *testing.T) {
	store := openTestStore(t)
	snap := validSnapshot("F1")
	snap.FocusLossCount = -1
	assert.Error(t, store.Save(context.Background(), snap))
}

func TestBadgerSnapshotStore_DiscardsCorruptSnapshot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey("F1"), []byte(`{"schemaVersion":99,"formId":"F1"}`))
	}))

	_, err := store.Load(ctx, "F1")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	err = store.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(snapshotKey("F1"))
		return err
	})
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)
}

func TestOpenBadgerSnapshotStore_RequiresDir(t *testing.T) {
	_, err := OpenBadgerSnapshotStore(StoreConfig{})
	assert.Error(t, err)
}

func TestOpenBadgerSnapshotStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadgerSnapshotStore(StoreConfig{Dir: dir, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, validSnapshot("F1")))
	require.NoError(t, store.Close())

	reopened, err := OpenBadgerSnapshotStore(StoreConfig{Dir: dir, Logger: testLogger()})
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, "session_1741597200000_abcdef123456", loaded.SessionID)
}

func TestDebouncedWriter_CoalescesSaves(t *testing.T) {
	store := newMemoryStore()
	writer := newDebouncedWriter(store, time.Hour, testLogger())
	defer writer.Close()

	for i := 0; i < 10; i++ {
		snap := validSnapshot("F1")
		snap.CurrentQuestionIndex = i
		require.NoError(t, writer.Save(snap))
	}
	assert.Equal(t, 0, store.saves, "nothing is written before the debounce delay")

	require.NoError(t, writer.Flush())
	assert.Equal(t, 1, store.saves)
	snap, ok := store.get("F1")
	require.True(t, ok)
	assert.Equal(t, 9, snap.CurrentQuestionIndex)
}

func TestDebouncedWriter_WritesAfterDelay(t *testing.T) {
	store := newMemoryStore()
	writer := newDebouncedWriter(store, 10*time.Millisecond, testLogger())
	defer writer.Close()

	require.NoError(t, writer.Save(validSnapshot("F1")))
	assert.Eventually(t, func() bool {
		_, ok := store.get("F1")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestDebouncedWriter_DeleteDropsPendingSave(t *testing.T) {
	store := newMemoryStore()
	writer := newDebouncedWriter(store, time.Hour, testLogger())

	require.NoError(t, store.Save(context.Background(), validSnapshot("F1")))
	require.NoError(t, writer.Save(validSnapshot("F1")))
	require.NoError(t, writer.Delete("F1"))
	require.NoError(t, writer.Close())

	_, ok := store.get("F1")
	assert.False(t, ok)
	assert.ErrorIs(t, writer.Save(validSnapshot("F1")), ErrWriterClosed)
	assert.NoError(t, writer.Close())
}
