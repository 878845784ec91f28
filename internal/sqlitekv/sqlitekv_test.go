package sqlitekv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreLoadEmpty(t *testing.T) {
	db := OpenMemory(t)
	store := NewStore(db)

	rec, err := store.Load()
	require.NoError(t, err)
	require.False(t, rec.IsActive)
	require.Nil(t, rec.ActiveTabID)
	require.Nil(t, rec.SessionID)
}

func TestStoreSaveThenLoadRoundTrips(t *testing.T) {
	db := OpenMemory(t)
	store := NewStore(db)

	tab := int64(42)
	sess := "sess-1"
	require.NoError(t, store.Save(Record{ActiveTabID: &tab, SessionID: &sess, IsActive: true}))

	rec, err := store.Load()
	require.NoError(t, err)
	require.True(t, rec.IsActive)
	require.NotNil(t, rec.ActiveTabID)
	require.Equal(t, tab, *rec.ActiveTabID)
	require.NotNil(t, rec.SessionID)
	require.Equal(t, sess, *rec.SessionID)
}

// TestStoreRetainsTabIDOnStop exercises the correctness lever from spec §9:
// clearing IsActive must not clear ActiveTabID, so a restarted host can
// still find the stale tab to clean up.
func TestStoreRetainsTabIDOnStop(t *testing.T) {
	db := OpenMemory(t)
	store := NewStore(db)

	tab := int64(7)
	sess := "sess-2"
	require.NoError(t, store.Save(Record{ActiveTabID: &tab, SessionID: &sess, IsActive: true}))

	rec, err := store.Load()
	require.NoError(t, err)
	rec.IsActive = false
	require.NoError(t, store.Save(rec))

	after, err := store.Load()
	require.NoError(t, err)
	require.False(t, after.IsActive)
	require.NotNil(t, after.ActiveTabID)
	require.Equal(t, tab, *after.ActiveTabID)
}

func TestStoreUpsertOverwritesPreviousRow(t *testing.T) {
	db := OpenMemory(t)
	store := NewStore(db)

	tabA := int64(1)
	require.NoError(t, store.Save(Record{ActiveTabID: &tabA, IsActive: true}))

	tabB := int64(2)
	require.NoError(t, store.Save(Record{ActiveTabID: &tabB, IsActive: false}))

	rec, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, tabB, *rec.ActiveTabID)
	require.False(t, rec.IsActive)
}
