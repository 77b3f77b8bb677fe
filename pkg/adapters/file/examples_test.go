package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/empathyfine/pkg/adapters/file"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intensity(v int) *int { return &v }

func TestExampleStore_CommitAndRead(t *testing.T) {
	t.Parallel()
	store := file.NewExampleStore()
	ctx := context.Background()
	key := ports.PayloadKey{Dir: t.TempDir(), DatasetID: "ds1", Revision: 1}

	w, err := store.Create(ctx, key)
	require.NoError(t, err)
	require.NoError(t, w.Write(domain.Example{Prompt: "I lost my job", Response: "I'm sorry to hear that", Emotion: domain.EmotionSadness, Intensity: intensity(4)}))
	require.NoError(t, w.Write(domain.Example{Prompt: "", Response: "x", ParseError: "bad json"}))

	_, err = os.Stat(store.Locate(key))
	assert.ErrorIs(t, err, os.ErrNotExist, "payload must not be visible before commit")

	digest, err := w.Commit()
	require.NoError(t, err)
	assert.Len(t, digest, 64)
	assert.NoError(t, w.Abort(), "abort after commit is a no-op")

	got, err := store.Read(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 4, got[0].IntensityValue())
	assert.Equal(t, "bad json", got[1].ParseError)

	entries, err := os.ReadDir(filepath.Dir(store.Locate(key)))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestExampleStore_AbortLeavesNothing(t *testing.T) {
	t.Parallel()
	store := file.NewExampleStore()
	ctx := context.Background()
	key := ports.PayloadKey{Dir: t.TempDir(), DatasetID: "ds1", Revision: 2}

	w, err := store.Create(ctx, key)
	require.NoError(t, err)
	require.NoError(t, w.Write(domain.Example{Prompt: "p", Response: "r"}))
	require.NoError(t, w.Abort())

	_, err = store.Read(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	entries, err := os.ReadDir(filepath.Join(key.Dir, key.DatasetID))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExampleStore_SameContentSameDigest(t *testing.T) {
	t.Parallel()
	store := file.NewExampleStore()
	ctx := context.Background()
	dir := t.TempDir()

	write := func(rev int) string {
		w, err := store.Create(ctx, ports.PayloadKey{Dir: dir, DatasetID: "ds", Revision: rev})
		require.NoError(t, err)
		require.NoError(t, w.Write(domain.Example{Prompt: "p", Response: "r"}))
		d, err := w.Commit()
		require.NoError(t, err)
		return d
	}
	assert.Equal(t, write(1), write(2))

	require.NoError(t, store.Remove(ctx, dir, "ds"))
	_, err := os.Stat(filepath.Join(dir, "ds"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
