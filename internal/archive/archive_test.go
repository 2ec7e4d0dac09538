package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rcwatch/rcwatch/internal/watch"
)

func TestFileSystemSavePage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs, err := NewFileSystem(dir, 1024, zap.NewNop())
	require.NoError(t, err)

	body := []byte("<html><body>broken layout</body></html>")
	path, err := fs.SavePage(context.Background(), "https://example.com/rc?filter=r1t", body)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(path, dir))
	require.True(t, strings.HasSuffix(path, watch.ContentHash(body)+".html"))

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, body, saved)
}

func TestFileSystemRejectsEmptyAndOversized(t *testing.T) {
	t.Parallel()

	fs, err := NewFileSystem(t.TempDir(), 8, zap.NewNop())
	require.NoError(t, err)

	_, err = fs.SavePage(context.Background(), "t", nil)
	require.Error(t, err)

	_, err = fs.SavePage(context.Background(), "t", []byte("way past eight bytes"))
	require.Error(t, err)
}

func TestFileSystemHonorsContext(t *testing.T) {
	t.Parallel()

	fs, err := NewFileSystem(t.TempDir(), 1024, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fs.SavePage(ctx, "t", []byte("body"))
	require.Error(t, err)
}

func TestObjectPath(t *testing.T) {
	t.Parallel()

	body := []byte("body")
	path := ObjectPath("snapshots", "https://example.com/rc?filter=r1t", body)
	require.True(t, strings.HasPrefix(path, "snapshots/https_example.com_rc_filter_r1t/"))
	require.True(t, strings.HasSuffix(path, watch.ContentHash(body)+".html"))

	bare := ObjectPath("", "x", body)
	require.False(t, strings.HasPrefix(bare, "/"))
	require.Equal(t, filepath.Dir(bare), "x")
}

func TestSanitizeID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https_example.com_rc", sanitizeID("https://example.com/rc"))
	require.Equal(t, "unknown", sanitizeID(""))
}
