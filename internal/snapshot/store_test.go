package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoadRoundtrip(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)

	dbPath := t.TempDir() + "/saves.db"
	store, err := OpenStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save("slot-1", snap))

	loaded, err := store.Load("slot-1")
	require.NoError(t, err)
	require.Equal(t, snap.CompilerVersion, loaded.CompilerVersion)
	require.Equal(t, snap.RuntimeFrames, loaded.RuntimeFrames)
	require.Nil(t, Validate(loaded, proj))
}

func TestStoreSaveOverwritesExistingSlot(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)

	dbPath := t.TempDir() + "/saves.db"
	store, err := OpenStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save("slot-1", snap))
	snap.RNGState = 12345
	require.NoError(t, store.Save("slot-1", snap))

	loaded, err := store.Load("slot-1")
	require.NoError(t, err)
	require.Equal(t, int64(12345), loaded.RNGState)

	names, err := store.List()
	require.NoError(t, err)
	require.Equal(t, []string{"slot-1"}, names)
}

func TestStoreLoadMissingSlotErrors(t *testing.T) {
	dbPath := t.TempDir() + "/saves.db"
	store, err := OpenStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load("nope")
	require.Error(t, err)
}

func TestStoreDeleteRemovesSlot(t *testing.T) {
	proj := mustCompile(t, choiceSrc)
	snap := snapshotAtChoice(t, proj)

	dbPath := t.TempDir() + "/saves.db"
	store, err := OpenStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save("slot-1", snap))
	require.NoError(t, store.Delete("slot-1"))

	_, err = store.Load("slot-1")
	require.Error(t, err)
}
