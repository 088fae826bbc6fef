package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "heatmap/model.json", []byte("v1")))
	require.NoError(t, s.Save(ctx, "heatmap/model.json", []byte("v2")))

	data, err := s.Load(ctx, "heatmap/model.json")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "heatmap"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestFileStore_Missing(t *testing.T) {
	s := NewFileStore(t.TempDir())
	_, err := s.Load(context.Background(), "risk/model.json")
	assert.True(t, errors.IsNotFound(err))
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	s := NewFileStore(t.TempDir())
	for _, key := range []string{"", "../x", "/etc/passwd"} {
		err := s.Save(context.Background(), key, []byte("x"))
		assert.True(t, errors.IsCode(err, errors.CodeInvalidParam), key)
	}
}

func TestMemoryStore_CopiesData(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Save(context.Background(), "k", buf))
	buf[0] = 'z'

	data, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = s.Load(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}
