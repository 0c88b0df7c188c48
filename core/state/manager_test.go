package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"projectledger/storage"
)

type sampleRecord struct {
	Amount *big.Int
	Label  string
}

func TestKVRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	require.NoError(t, mgr.KVPut([]byte("sample"), sampleRecord{Amount: big.NewInt(42), Label: "x"}))

	var out sampleRecord
	ok, err := mgr.KVGet([]byte("sample"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), out.Amount.Int64())
	require.Equal(t, "x", out.Label)

	// nothing reaches the database before Commit
	require.Equal(t, 0, db.Len())
	require.NoError(t, mgr.Commit())
	require.Equal(t, 1, db.Len())
	require.Equal(t, 0, mgr.Pending())

	fresh := NewManager(db)
	ok, err = fresh.KVGet([]byte("sample"), &out)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRevertToSnapshot(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.KVPut([]byte("a"), uint64(1)))

	snap := mgr.Snapshot()
	require.NoError(t, mgr.KVPut([]byte("a"), uint64(2)))
	require.NoError(t, mgr.KVPut([]byte("b"), uint64(3)))
	require.NoError(t, mgr.KVDelete([]byte("a")))

	mgr.RevertToSnapshot(snap)

	var a uint64
	ok, err := mgr.KVGet([]byte("a"), &a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), a)

	ok, err = mgr.KVGet([]byte("b"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevertAfterCommitKeepsCommittedValues(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	require.NoError(t, mgr.KVPut([]byte("a"), uint64(7)))
	require.NoError(t, mgr.Commit())

	snap := mgr.Snapshot()
	require.NoError(t, mgr.KVPut([]byte("a"), uint64(8)))
	mgr.RevertToSnapshot(snap)

	var a uint64
	ok, err := mgr.KVGet([]byte("a"), &a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), a)
}

func TestKVAppendAndList(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	var empty [][]byte
	require.NoError(t, mgr.KVGetList([]byte("idx"), &empty))
	require.NotNil(t, empty)
	require.Len(t, empty, 0)

	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte{1}))
	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte{2}))
	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte{1}))

	var list [][]byte
	require.NoError(t, mgr.KVGetList([]byte("idx"), &list))
	require.Equal(t, [][]byte{{1}, {2}}, list)
}

func TestEmptyKeyRejected(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.Error(t, mgr.KVPut(nil, uint64(1)))
	_, err := mgr.KVGet(nil, nil)
	require.Error(t, err)
	require.Error(t, mgr.KVDelete(nil))
}
