package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astaric/orangeremote/command"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "nested", "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchive_SaveLoad(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)

	require.NoError(t, a.Save(ctx, "r1", []byte{0x01, 0x02}))
	require.NoError(t, a.Save(ctx, "r1", []byte{0x03}))

	data, err := a.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, data)

	_, err = a.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_Delete(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, a.Save(ctx, command.Reference(id), []byte(id)))
	}

	n, err := a.Delete(ctx, "a", "b", "zz")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err = a.Delete(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchive_Prune(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)

	require.NoError(t, a.Save(ctx, "old", []byte("x")))

	n, err := a.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = a.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestArchive_InMemory(t *testing.T) {
	ctx := context.Background()
	a, err := Open(":memory:")
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Save(ctx, "m", []byte("v")))
	data, err := a.Load(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
}
