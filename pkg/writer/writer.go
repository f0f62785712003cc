// Package writer defines the shared Writer contract and the on-file-full
// recovery algorithm (spec.md §4.3) common to the MCAP and SQL variants.
package writer

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddserrors"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/filetracker"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/sizetracker"
)

// Writer is the polymorphic operation set spec.md §9 calls for: a tagged
// variant with open/close/write, not a deep inheritance hierarchy.
type Writer interface {
	Enable() error
	Disable() error
	WriteSchema(ddstypes.Schema) error
	WriteChannel(ddstypes.Channel) error
	WriteMessage(ddstypes.Message) error
	UpdateDynamicTypes(*ddstypes.DynamicTypesCollection) error
	Close() error
}

// Encoder is implemented by each concrete format (mcap, sqlw) to do the
// actual byte-level work once Base has decided a retry is warranted.
type Encoder interface {
	// OpenFile is called with a freshly allocated file name/path from
	// FileTracker; it must create/open the on-disk handle.
	OpenFile(name string) error
	// CloseFile finalizes the current on-disk handle (e.g. writing the
	// dynamic-types attachment / flushing the SQL connection) but does not
	// rename it; Base.closeCurrentFile does the FileTracker rename.
	CloseFile() error
	// Reemit re-writes previously known schemas/channels as the first
	// records of a newly opened file, so each file stays independently
	// replayable (spec.md §4.3).
	Reemit() error
}

// OnDiskFull is invoked exactly once when FullDisk is encountered.
type OnDiskFull func()

// Base implements the on-file-full recovery algorithm shared by both
// concrete writers. Concrete writers embed Base and supply an Encoder.
type Base struct {
	Logger  log.Logger
	Sizes   *sizetracker.Tracker
	Files   *filetracker.Tracker
	Encoder Encoder

	OnDiskFull OnDiskFull

	fileBudget   uint64
	safetyMargin uint64

	disabled      bool
	diskFullFired bool
}

// Enable opens the first file. spaceAvailable is the per-file size budget
// (spec.md §4.1 max_file_size), re-applied to Sizes on every later rotation
// since each new file starts its own budget from scratch.
func (b *Base) Enable(spaceAvailable, safetyMargin uint64) error {
	b.fileBudget = spaceAvailable
	b.safetyMargin = safetyMargin
	b.Sizes.Reopen(spaceAvailable, safetyMargin, 0)
	if err := b.openNewFile(b.Sizes.MinSize()); err != nil {
		return err
	}
	b.disabled = false
	return nil
}

// Disable closes the current file and stops accepting writes.
func (b *Base) Disable() error {
	if b.disabled {
		return nil
	}
	b.disabled = true
	b.Sizes.Reset()
	return b.closeCurrentFile()
}

// Disabled reports whether the writer has stopped accepting writes, either
// because Disable was called or because FullDisk fired.
func (b *Base) Disabled() bool {
	return b.disabled
}

// WithRecovery runs fn, and on FullFile performs the §4.3 recovery sequence:
// close the current file, open a new one sized for fn's requirement, retry
// fn once. If opening the new file hits FullDisk, the writer disables
// itself and the on_disk_full callback fires exactly once.
func (b *Base) WithRecovery(fn func() error) error {
	if b.disabled {
		return nil
	}

	err := fn()
	var full *ddserrors.FullFile
	if !errors.As(err, &full) {
		return err
	}

	level.Info(b.Logger).Log("msg", "file full, rotating", "required", full.Required)
	minSize := b.Sizes.MinSize() + full.Required
	carry := b.Sizes.Carry()
	if cerr := b.closeCurrentFile(); cerr != nil {
		return errors.Wrap(cerr, "closing full file during rotation")
	}

	if oerr := b.openNewFile(minSize); oerr != nil {
		if errors.Is(oerr, ddserrors.FullDisk) {
			b.fireDiskFull()
			return nil
		}
		return oerr
	}
	b.Sizes.Reopen(b.fileBudget, b.safetyMargin, carry)

	return fn()
}

func (b *Base) openNewFile(minSize uint64) error {
	rec, err := b.Files.NewFile(minSize)
	if err != nil {
		return err
	}
	if err := b.Encoder.OpenFile(rec.Name); err != nil {
		return ddserrors.NewInitialization(err, "opening output file %s", rec.Name)
	}
	if err := b.Encoder.Reemit(); err != nil {
		return errors.Wrap(err, "re-emitting schemas/channels into new file")
	}
	return nil
}

func (b *Base) closeCurrentFile() error {
	if _, ok := b.Files.CurrentFile(); !ok {
		return nil
	}
	if err := b.Encoder.CloseFile(); err != nil {
		return errors.Wrap(err, "closing encoder file")
	}
	return b.Files.CloseFile()
}

func (b *Base) fireDiskFull() {
	b.disabled = true
	if b.diskFullFired {
		return
	}
	b.diskFullFired = true
	level.Error(b.Logger).Log("msg", "disk full, writer disabled")
	if b.OnDiskFull != nil {
		b.OnDiskFull()
	}
}
