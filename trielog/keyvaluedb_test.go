package trielog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/feltstate/bonsai-trie/db"
)

func newTestKV(t *testing.T, cfg Config) (*KeyValueDB, *db.MemoryBackend) {
	t.Helper()
	backend := db.NewMemoryBackend()
	return New(backend, cfg), backend
}

func TestCommitWritesThroughAndRecordsLog(t *testing.T) {
	kv, backend := newTestKV(t, Config{})

	require.NoError(t, kv.InsertFlat([]byte("leaf-1"), []byte("v1")))
	require.NoError(t, kv.Commit(1))

	got, ok, err := backend.Get(db.Flat, []byte("leaf-1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got)

	changes, err := kv.Changes(1)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	for _, rec := range changes {
		require.Equal(t, db.Flat, rec.Namespace)
		require.Equal(t, []byte("leaf-1"), rec.Key)
		require.False(t, rec.HasOld, "freshly created key has no old value")
		require.True(t, rec.HasNew)
		require.Equal(t, []byte("v1"), rec.New)
	}
}

// TestChangeRecordKeepsEarliestOldAndLatestNew: a key touched several
// times within one commit window keeps the earliest old value and the
// latest new value.
func TestChangeRecordKeepsEarliestOldAndLatestNew(t *testing.T) {
	kv, _ := newTestKV(t, Config{})

	require.NoError(t, kv.InsertFlat([]byte("k"), []byte("v1")))
	require.NoError(t, kv.Commit(1))

	require.NoError(t, kv.InsertFlat([]byte("k"), []byte("v2")))
	require.NoError(t, kv.InsertFlat([]byte("k"), []byte("v3")))
	require.NoError(t, kv.Commit(2))

	changes, err := kv.Changes(2)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	for _, rec := range changes {
		require.True(t, rec.HasOld)
		require.Equal(t, []byte("v1"), rec.Old)
		require.True(t, rec.HasNew)
		require.Equal(t, []byte("v3"), rec.New)
	}
}

// TestUnchangedValueEmitsNoLogEntry: a record whose old and new values
// are equal serializes to nothing.
func TestUnchangedValueEmitsNoLogEntry(t *testing.T) {
	kv, _ := newTestKV(t, Config{})

	require.NoError(t, kv.InsertFlat([]byte("k"), []byte("v1")))
	require.NoError(t, kv.Commit(1))

	require.NoError(t, kv.InsertFlat([]byte("k"), []byte("v1")))
	require.NoError(t, kv.Commit(2))

	changes, err := kv.Changes(2)
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestCommitWithNoChangesWritesNoLogEntries(t *testing.T) {
	kv, backend := newTestKV(t, Config{})
	require.NoError(t, kv.Commit(1))

	kvs, err := backend.GetByPrefix(db.TrieLog, logPrefix(1))
	require.NoError(t, err)
	require.Empty(t, kvs)
}

func TestLogRetentionPrunesOldest(t *testing.T) {
	kv, backend := newTestKV(t, Config{MaxSavedTrieLogs: intPtr(2)})

	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, kv.InsertFlat([]byte{byte(id)}, []byte{byte(id)}))
		require.NoError(t, kv.Commit(id))
	}

	_, err := kv.Changes(1)
	require.ErrorIs(t, err, ErrLogPruned)

	kvs, err := backend.GetByPrefix(db.TrieLog, logPrefix(1))
	require.NoError(t, err)
	require.Empty(t, kvs, "pruned log must be deleted from the backend")

	changes, err := kv.Changes(2)
	require.NoError(t, err)
	require.NotEmpty(t, changes)

	require.Equal(t, []uint64{2, 3}, kv.LogIDs())
}

func TestDisabledLoggingWritesNothing(t *testing.T) {
	kv, backend := newTestKV(t, Config{MaxSavedTrieLogs: intPtr(0)})

	require.NoError(t, kv.InsertFlat([]byte("k"), []byte("v")))
	require.NoError(t, kv.Commit(1))

	kvs, err := backend.GetByPrefix(db.TrieLog, nil)
	require.NoError(t, err)
	require.Empty(t, kvs)
	require.Empty(t, kv.LogIDs())

	require.ErrorIs(t, kv.RevertTo(1), ErrGoTo)
}

func TestRevertToRestoresOldValues(t *testing.T) {
	kv, backend := newTestKV(t, Config{})

	require.NoError(t, kv.InsertFlat([]byte("k"), []byte("v1")))
	require.NoError(t, kv.Commit(1))
	require.NoError(t, kv.InsertFlat([]byte("k"), []byte("v2")))
	require.NoError(t, kv.InsertFlat([]byte("fresh"), []byte("x")))
	require.NoError(t, kv.Commit(2))

	require.NoError(t, kv.RevertTo(1))

	got, ok, err := backend.Get(db.Flat, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got)

	_, ok, err = backend.Get(db.Flat, []byte("fresh"))
	require.NoError(t, err)
	require.False(t, ok, "key created by the reverted commit must be deleted")

	kvs, err := backend.GetByPrefix(db.TrieLog, logPrefix(2))
	require.NoError(t, err)
	require.Empty(t, kvs, "rolled-back log must be removed")
	require.Equal(t, []uint64{1}, kv.LogIDs())
}

func TestRevertToUnknownCommit(t *testing.T) {
	kv, _ := newTestKV(t, Config{})
	require.NoError(t, kv.InsertFlat([]byte("k"), []byte("v")))
	require.NoError(t, kv.Commit(1))
	require.ErrorIs(t, kv.RevertTo(42), ErrGoTo)

	// The failed revert must not have touched the retained ring.
	require.Equal(t, []uint64{1}, kv.LogIDs())
}

// TestRevertToDropsPendingWrites: uncommitted mutations tracked before a
// revert must not leak into the next commit's batch or log.
func TestRevertToDropsPendingWrites(t *testing.T) {
	kv, backend := newTestKV(t, Config{})

	require.NoError(t, kv.InsertFlat([]byte("k"), []byte("v1")))
	require.NoError(t, kv.Commit(1))

	require.NoError(t, kv.InsertFlat([]byte("stray"), []byte("junk")))
	require.NoError(t, kv.RevertTo(1))
	require.NoError(t, kv.Commit(2))

	_, ok, err := backend.Get(db.Flat, []byte("stray"))
	require.NoError(t, err)
	require.False(t, ok, "write pending at revert time must be discarded")

	changes, err := kv.Changes(2)
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestGetTransactionReplaysToTarget(t *testing.T) {
	kv, _ := newTestKV(t, Config{})

	// Genesis snapshot at 0 is taken by New; commits 1 and 2 land after it.
	require.NoError(t, kv.InsertFlat([]byte("k"), []byte("v1")))
	require.NoError(t, kv.Commit(1))
	require.NoError(t, kv.InsertFlat([]byte("k"), []byte("v2")))
	require.NoError(t, kv.Commit(2))

	txn, ok, err := kv.GetTransaction(1, Config{})
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := txn.GetFlat([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got, "transaction must observe state as of commit 1")

	// Writes inside the transaction stay invisible to the base facade.
	require.NoError(t, txn.InsertFlat([]byte("fork-only"), []byte("f")))
	require.NoError(t, txn.Commit(10))
	_, ok, err = kv.GetFlat([]byte("fork-only"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetTransactionWithoutSnapshotCoverage(t *testing.T) {
	backend := db.NewMemoryBackend()
	kv := &KeyValueDB{
		backend: backend,
		cfg:     Config{}.normalized(),
		batch:   backend.CreateBatch(),
		pending: make(map[string]*record),
	}
	// No snapshot was ever taken, so no id can be covered.
	_, ok, err := kv.GetTransaction(1, Config{})
	require.NoError(t, err)
	require.False(t, ok)
}

// TestGetTransactionRejectsPrunedReplayRange: once retention has dropped a
// log newer than the only available snapshot, replaying over the hole must
// fail rather than silently producing a partial state.
func TestGetTransactionRejectsPrunedReplayRange(t *testing.T) {
	kv, _ := newTestKV(t, Config{
		MaxSavedTrieLogs: intPtr(1),
		SnapshotInterval: 1000, // only the genesis snapshot at 0 exists
	})

	require.NoError(t, kv.InsertFlat([]byte("a"), []byte("1")))
	require.NoError(t, kv.Commit(1))
	require.NoError(t, kv.InsertFlat([]byte("b"), []byte("2")))
	require.NoError(t, kv.Commit(2)) // prunes commit 1's log

	_, _, err := kv.GetTransaction(2, Config{})
	require.ErrorIs(t, err, ErrTransaction)
}

func TestLogKeyLayoutRoundTrips(t *testing.T) {
	key := logKey(0x0102030405060708, db.Flat, []byte("subkey"), oldTag)
	require.Equal(t, byte(0x01), key[0])
	require.Equal(t, byte(0x08), key[7])
	require.Equal(t, byte(0x00), key[8])
	require.Equal(t, oldTag, key[len(key)-1])
	require.Equal(t, kindFlat, key[len(key)-2])

	recs := decodeLog(0x0102030405060708, []db.KV{{Key: key, Value: []byte("old-bytes")}})
	require.Len(t, recs, 1)
	for _, rec := range recs {
		require.Equal(t, db.Flat, rec.Namespace)
		require.Equal(t, []byte("subkey"), rec.Key)
		require.True(t, rec.HasOld)
		require.Equal(t, []byte("old-bytes"), rec.Old)
		require.False(t, rec.HasNew)
	}
}
