// Package sizetracker pre-accounts every byte a writer is about to produce so
// no output file or aggregate disk budget is ever exceeded (spec.md §4.1).
package sizetracker

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddserrors"
)

// fileOverhead is the MCAP header + summary offsets + statistics + chunk
// index + data-end record, reproduced bit-identically from spec.md §4.1.
const fileOverhead = 315

// Tracker pre-authorizes writes against a file-size and aggregate-disk
// budget. All operations are non-blocking; Tracker itself holds a mutex only
// to protect its own counters, never a file handle.
type Tracker struct {
	mu sync.Mutex

	logger log.Logger

	baseFloor      uint64
	potentialSize  uint64
	writtenSize    uint64
	minSize        uint64
	spaceAvailable uint64
	enabled        bool
	diskFull       bool
}

// New constructs a disabled Tracker; call Init before first use.
func New(logger log.Logger) *Tracker {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Tracker{logger: logger}
}

// Init resets counters to FILE_OVERHEAD + safetyMargin and enables the
// tracker, as for a brand-new file with nothing yet reserved.
func (t *Tracker) Init(spaceAvailable, safetyMargin uint64) {
	t.Reopen(spaceAvailable, safetyMargin, 0)
}

// Reopen resets the tracker for a freshly opened file, the same as Init,
// except carry bytes are pre-reserved against both minSize and
// potentialSize — the cost of content (schemas, channels) an Encoder's
// Reemit is about to rewrite into the new file without going through the
// normal SchemaToWrite/ChannelToWrite reservation path.
func (t *Tracker) Reopen(spaceAvailable, safetyMargin, carry uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.baseFloor = fileOverhead + safetyMargin
	t.potentialSize = t.baseFloor + carry
	t.writtenSize = 0
	t.minSize = t.baseFloor + carry
	t.spaceAvailable = spaceAvailable
	t.enabled = true
	t.diskFull = false
}

// Carry returns the reserved bytes beyond the base file floor: the
// schema/channel cost a rotation must re-establish in the next file via
// Reopen's carry parameter.
func (t *Tracker) Carry() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.minSize < t.baseFloor {
		return 0
	}
	return t.minSize - t.baseFloor
}

// Reset disables the tracker. It asserts writtenSize <= potentialSize, which
// would indicate an encoder bug (an estimate that undershot reality).
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.writtenSize > t.potentialSize {
		level.Error(t.logger).Log("msg", "size tracker written exceeded potential on reset",
			"written", t.writtenSize, "potential", t.potentialSize)
	}
	t.enabled = false
}

// DiskFull reports whether any reservation attempt has failed since the last
// Init or Reopen; a later successful reservation does not clear it.
func (t *Tracker) DiskFull() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.diskFull
}

// MinSize is the irreducible overhead of the current file: header, plus
// already-written schemas/channels, plus the current attachment allowance.
func (t *Tracker) MinSize() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.minSize
}

// PotentialSize is the running total of everything reserved so far.
func (t *Tracker) PotentialSize() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.potentialSize
}

// WrittenSize is the running total of everything actually flushed to disk.
func (t *Tracker) WrittenSize() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writtenSize
}

func encodedMessageSize(payloadLen int) uint64 {
	return 31 + 8 + 8 + uint64(payloadLen)
}

func encodedSchemaSize(name, encoding, data int) uint64 {
	return 2*(uint64(23+name+encoding+data)) - 5
}

func encodedChannelSize(topic, encoding int, kvMetadata int) uint64 {
	return 2 * (25 + 10 + 10 + uint64(topic) + uint64(encoding) + uint64(kvMetadata))
}

func encodedAttachmentSize(payloadLen int) uint64 {
	return 58 + 70 + uint64(payloadLen)
}

func encodedMetadataSize(name int, kvMetadata int) uint64 {
	return 17 + 29 + uint64(name) + uint64(kvMetadata) + uint64(name)
}

// KVSize sums the byte length of a string->string metadata map the way the
// MCAP encoder would: each key and value length-prefixed, 4 bytes each.
func KVSize(kv map[string]string) int {
	total := 0
	for k, v := range kv {
		total += len(k) + len(v) + 8
	}
	return total
}

func (t *Tracker) reserve(encoded uint64, countsTowardMin bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return nil
	}
	if t.potentialSize+encoded > t.spaceAvailable {
		t.diskFull = true
		return &ddserrors.FullFile{Required: encoded}
	}
	t.potentialSize += encoded
	if countsTowardMin {
		t.minSize += encoded
	}
	return nil
}

// MessageToWrite authorizes a message write of payloadLen bytes.
func (t *Tracker) MessageToWrite(payloadLen int) error {
	return t.reserve(encodedMessageSize(payloadLen), false)
}

// SchemaToWrite authorizes a schema write.
func (t *Tracker) SchemaToWrite(name, encoding, data int) error {
	return t.reserve(encodedSchemaSize(name, encoding, data), true)
}

// ChannelToWrite authorizes a channel write.
func (t *Tracker) ChannelToWrite(topic, encoding int, kvMetadata int) error {
	return t.reserve(encodedChannelSize(topic, encoding, kvMetadata), true)
}

// MetadataToWrite authorizes a metadata-record write.
func (t *Tracker) MetadataToWrite(name int, kvMetadata int) error {
	return t.reserve(encodedMetadataSize(name, kvMetadata), true)
}

// AttachmentToWrite atomically releases oldPayloadLen bytes and reserves
// newPayloadLen bytes, used for the growing dynamic-types attachment
// (spec.md §4.1, §4.4).
func (t *Tracker) AttachmentToWrite(newPayloadLen, oldPayloadLen int) error {
	t.mu.Lock()
	old := encodedAttachmentSize(oldPayloadLen)
	newSize := encodedAttachmentSize(newPayloadLen)

	if !t.enabled {
		t.mu.Unlock()
		return nil
	}

	// release old first so the delta, not the absolute new size, is what must fit.
	released := t.potentialSize - old
	if released > t.potentialSize {
		released = 0 // release would underflow; treat as already accounted for
	}
	if released+newSize > t.spaceAvailable {
		t.diskFull = true
		t.mu.Unlock()
		return &ddserrors.FullFile{Required: newSize}
	}
	t.potentialSize = released + newSize
	t.minSize = t.minSize - old + newSize
	t.mu.Unlock()
	return nil
}

func (t *Tracker) written(encoded uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.writtenSize += encoded
	if t.writtenSize > t.potentialSize || t.writtenSize > t.spaceAvailable {
		level.Warn(t.logger).Log("msg", "size tracker estimation mismatch",
			"written", humanize.Bytes(t.writtenSize), "potential", humanize.Bytes(t.potentialSize))
	}
}

// MessageWritten records that a previously authorized message write landed on disk.
func (t *Tracker) MessageWritten(payloadLen int) { t.written(encodedMessageSize(payloadLen)) }

// SchemaWritten records a completed schema write.
func (t *Tracker) SchemaWritten(name, encoding, data int) {
	t.written(encodedSchemaSize(name, encoding, data))
}

// ChannelWritten records a completed channel write.
func (t *Tracker) ChannelWritten(topic, encoding int, kvMetadata int) {
	t.written(encodedChannelSize(topic, encoding, kvMetadata))
}

// MetadataWritten records a completed metadata write.
func (t *Tracker) MetadataWritten(name int, kvMetadata int) {
	t.written(encodedMetadataSize(name, kvMetadata))
}

// AttachmentWritten records a completed attachment write of payloadLen bytes.
func (t *Tracker) AttachmentWritten(payloadLen int) { t.written(encodedAttachmentSize(payloadLen)) }
