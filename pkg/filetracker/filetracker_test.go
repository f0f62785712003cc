package filetracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, maxFile, maxTotal uint64, rotation bool) *Tracker {
	t.Helper()
	tr, err := New(Config{
		Directory:       t.TempDir(),
		Stem:            "output",
		Extension:       ".mcap",
		MaxFileSize:     maxFile,
		MaxTotalSize:    maxTotal,
		RotationEnabled: rotation,
	}, nil)
	require.NoError(t, err)
	return tr
}

func TestNewFileRejectsOversizedRequest(t *testing.T) {
	tr := newTestTracker(t, 100, 1000, false)
	_, err := tr.NewFile(200)
	require.Error(t, err)
}

func TestCloseFileRenamesTmpAndTracksAggregate(t *testing.T) {
	tr := newTestTracker(t, 1000, 1000, false)
	rec, err := tr.NewFile(10)
	require.NoError(t, err)

	tmp := tr.TmpPath(rec.Name)
	require.NoError(t, os.WriteFile(tmp, []byte("hello"), 0o644))

	tr.SetCurrentFileSize(5)
	require.NoError(t, tr.CloseFile())
	require.Equal(t, uint64(5), tr.AggregateSize())

	full := filepath.Join(tr.cfg.Directory, rec.Name)
	require.FileExists(t, full)
}

func TestNewFileRotatesOldestWhenAggregateFull(t *testing.T) {
	tr := newTestTracker(t, 100, 150, true)

	rec1, err := tr.NewFile(10)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tr.TmpPath(rec1.Name), make([]byte, 100), 0o644))
	tr.SetCurrentFileSize(100)
	require.NoError(t, tr.CloseFile())

	_, err = tr.NewFile(100)
	require.NoError(t, err)
	require.NoFileExists(t, filepath.Join(tr.cfg.Directory, rec1.Name))
}

func TestNewFileWithoutRotationReturnsFullDiskWhenExhausted(t *testing.T) {
	tr := newTestTracker(t, 100, 150, false)

	rec1, err := tr.NewFile(10)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tr.TmpPath(rec1.Name), make([]byte, 100), 0o644))
	tr.SetCurrentFileSize(100)
	require.NoError(t, tr.CloseFile())

	_, err = tr.NewFile(100)
	require.Error(t, err)
}
