// Package filetracker owns output file naming, rotation under a global size
// budget and oldest-first deletion (spec.md §4.2).
package filetracker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddserrors"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
)

// tmpSuffix is appended to a file's name while it is open for writing; the
// writer renames it away on close (spec.md §3, §6).
const tmpSuffix = ".tmp~"

// Config controls filename shape and the rotation budget.
type Config struct {
	Directory        string
	Stem             string
	Extension        string
	MaxFileSize      uint64
	MaxTotalSize     uint64
	RotationEnabled  bool
	IncludeTimestamp bool
}

// Tracker names the next file, enforces the aggregate size budget and
// rotates by deleting the oldest closed file when necessary. One Tracker
// mutex guards filename allocation and rotation bookkeeping (spec.md §5).
type Tracker struct {
	mu sync.Mutex

	cfg    Config
	logger log.Logger

	nextID      uint64
	current     *ddstypes.FileRecord
	closed      []ddstypes.FileRecord
	aggregate   uint64
}

// New validates cfg and returns an empty Tracker.
func New(cfg Config, logger log.Logger) (*Tracker, error) {
	if cfg.MaxFileSize == 0 || cfg.MaxFileSize > cfg.MaxTotalSize {
		return nil, ddserrors.NewConfiguration("max_file_size must be nonzero and <= max_total_size")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, ddserrors.NewInitialization(err, "creating output directory %s", cfg.Directory)
	}
	return &Tracker{cfg: cfg, logger: logger}, nil
}

// NewFile implements the §4.2 contract: reject too-large requests, rotate
// (deleting oldest-closed) until minSize fits the remaining aggregate budget,
// compute a collision-free filename and record the new current file.
func (t *Tracker) NewFile(minSize uint64) (ddstypes.FileRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if minSize > t.cfg.MaxFileSize {
		return ddstypes.FileRecord{}, ddserrors.FullDisk
	}

	for minSize > t.cfg.MaxTotalSize-t.aggregate {
		if !t.cfg.RotationEnabled {
			return ddstypes.FileRecord{}, ddserrors.FullDisk
		}
		if len(t.closed) == 0 {
			// nothing left to evict even though rotation is enabled.
			return ddstypes.FileRecord{}, ddserrors.FullDisk
		}
		oldest := t.closed[0]
		if err := os.Remove(filepath.Join(t.cfg.Directory, oldest.Name)); err != nil && !os.IsNotExist(err) {
			level.Warn(t.logger).Log("msg", "failed to delete rotated file", "file", oldest.Name, "err", err)
		}
		t.aggregate -= oldest.SizeBytes
		t.closed = t.closed[1:]
		level.Info(t.logger).Log("msg", "rotated out oldest file", "file", oldest.Name, "freed", humanize.Bytes(oldest.SizeBytes))
	}

	id := t.nextID
	t.nextID++

	name := t.buildFilename(id)
	full := filepath.Join(t.cfg.Directory, name)
	tmp := full + tmpSuffix
	if fileExists(full) || fileExists(tmp) {
		return ddstypes.FileRecord{}, ddserrors.NewInitialization(nil, "file name collision for %s", name)
	}

	rec := ddstypes.FileRecord{ID: id, Name: name, SizeBytes: 0}
	t.current = &rec
	return rec, nil
}

// CloseFile pushes the current file onto the closed list, adds its size to
// the aggregate, and renames "<name>.tmp~" to "<name>".
func (t *Tracker) CloseFile() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return ddserrors.PreconditionNotMet
	}

	full := filepath.Join(t.cfg.Directory, t.current.Name)
	tmp := full + tmpSuffix
	if err := os.Rename(tmp, full); err != nil {
		return ddserrors.NewInitialization(err, "renaming %s to %s", tmp, full)
	}

	t.closed = append(t.closed, *t.current)
	t.aggregate += t.current.SizeBytes
	t.current = nil
	return nil
}

// SetCurrentFileSize records the current file's size after each encode.
// It only warns, never fails, if a threshold is crossed — the actual
// enforcement happens earlier, in SizeTracker's reservation.
func (t *Tracker) SetCurrentFileSize(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return
	}
	t.current.SizeBytes = n
	if n > t.cfg.MaxFileSize {
		level.Warn(t.logger).Log("msg", "current file size crossed max_file_size", "size", humanize.Bytes(n), "max", humanize.Bytes(t.cfg.MaxFileSize))
	}
	if t.aggregate+n > t.cfg.MaxTotalSize {
		level.Warn(t.logger).Log("msg", "aggregate size crossed max_total_size", "aggregate", humanize.Bytes(t.aggregate+n), "max", humanize.Bytes(t.cfg.MaxTotalSize))
	}
}

// CurrentFile returns the file currently open for writing, if any.
func (t *Tracker) CurrentFile() (ddstypes.FileRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return ddstypes.FileRecord{}, false
	}
	return *t.current, true
}

// TmpPath returns the temp-suffixed path for name, joined with the tracker's directory.
func (t *Tracker) TmpPath(name string) string {
	return filepath.Join(t.cfg.Directory, name+tmpSuffix)
}

// MaxFileSize returns the configured per-file size budget.
func (t *Tracker) MaxFileSize() uint64 {
	return t.cfg.MaxFileSize
}

// AggregateSize is the sum of all closed file sizes plus the current file.
func (t *Tracker) AggregateSize() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	agg := t.aggregate
	if t.current != nil {
		agg += t.current.SizeBytes
	}
	return agg
}

func (t *Tracker) buildFilename(id uint64) string {
	stem := t.cfg.Stem
	if t.cfg.IncludeTimestamp {
		stem = fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102_150405"), stem)
	}
	if t.cfg.MaxTotalSize > t.cfg.MaxFileSize {
		stem = fmt.Sprintf("%s_%d", stem, id)
	}
	return stem + t.cfg.Extension
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// sortClosedOldestFirst is retained for callers (e.g. tests) that build a
// Tracker's closed list out of band and need the §4.2 oldest-first ordering.
func sortClosedOldestFirst(recs []ddstypes.FileRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
}
