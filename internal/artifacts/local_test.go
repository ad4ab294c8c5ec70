package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutGetExists(t *testing.T) {
	t.Parallel()

	st, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := st.Exists(ctx, "thumbs/P-1.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	loc, err := st.Put(ctx, "thumbs/P-1.jpg", []byte("jpeg bytes"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(loc))

	ok, err = st.Exists(ctx, "thumbs/P-1.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := st.Get(ctx, "thumbs/P-1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	// No temp files should be left behind.
	entries, err := os.ReadDir(filepath.Dir(loc))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalPutOverwrites(t *testing.T) {
	t.Parallel()

	st, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = st.Put(ctx, "reports/data/a.jpg", []byte("one"))
	require.NoError(t, err)
	_, err = st.Put(ctx, "reports/data/a.jpg", []byte("two"))
	require.NoError(t, err)

	data, err := st.Get(ctx, "reports/data/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := NewLocal(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)

	for _, key := range []string{"../outside.txt", "a/../../outside.txt", ""} {
		_, err := st.Put(context.Background(), key, []byte("x"))
		assert.Error(t, err, "key %q", key)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	st := NewMemory()
	ctx := context.Background()

	_, err := st.Get(ctx, "missing")
	assert.Error(t, err)

	loc, err := st.Put(ctx, "thumbs/P-1.jpg", []byte("jpeg bytes"))
	require.NoError(t, err)
	assert.Equal(t, "memory://thumbs/P-1.jpg", loc)

	ok, err := st.Exists(ctx, "thumbs/P-1.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := st.Get(ctx, "thumbs/P-1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	// Mutating the returned slice must not corrupt the stored copy.
	data[0] = 'X'
	again, err := st.Get(ctx, "thumbs/P-1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(again))

	assert.Equal(t, []string{"thumbs/P-1.jpg"}, st.Keys())
}
