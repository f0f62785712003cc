// Package mcap implements the MCAP 0.x writer of spec.md §4.4: metadata
// "version" first, then all known schemas, all known channels, interleaved
// messages, and on close the "dynamic_types" attachment plus the
// "message_guid_map" metadata.
package mcap

import (
	"os"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/filetracker"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/monitor"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/serializer"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/sizetracker"
	basewriter "github.com/eProsima/DDS-Record-Replay-sub001/pkg/writer"
)

// ReleaseInfo is stamped into the mandatory "version" metadata record.
type ReleaseInfo struct {
	Release string
	Commit  string
}

// Options configures the writer beyond spec.md's mandatory framing.
type Options struct {
	Release     ReleaseInfo
	Compression mcap.CompressionFormat // "" defaults to mcap.CompressionZSTD; mcap.CompressionNone is "" too, so chunks are always compressed
}

// Writer is the MCAP variant of writer.Writer.
type Writer struct {
	basewriter.Base

	opts   Options
	files  *filetracker.Tracker
	logger log.Logger
	sink   monitor.Sink

	f  *os.File
	mw *mcap.Writer

	schemas        map[uint16]ddstypes.Schema
	channels       map[uint16]ddstypes.Channel
	dynTypes       *ddstypes.DynamicTypesCollection
	prevAttachment []byte
	guidMap        map[string]string // source_guid -> first channel topic seen with it
}

// New constructs a disabled MCAP writer. Call Enable before writing. sink may
// be nil, in which case file-creation failures are only logged.
func New(files *filetracker.Tracker, logger log.Logger, sink monitor.Sink, opts Options) *Writer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if sink == nil {
		sink = monitor.Noop{}
	}
	if opts.Compression == "" {
		opts.Compression = mcap.CompressionZSTD
	}
	w := &Writer{
		opts:     opts,
		files:    files,
		logger:   logger,
		sink:     sink,
		schemas:  make(map[uint16]ddstypes.Schema),
		channels: make(map[uint16]ddstypes.Channel),
		dynTypes: ddstypes.NewDynamicTypesCollection(),
		guidMap:  make(map[string]string),
	}
	w.Base = basewriter.Base{
		Logger:  logger,
		Sizes:   sizetracker.New(logger),
		Files:   files,
		Encoder: w,
	}
	return w
}

// Enable opens the first file, sized against the file-tracker's per-file budget.
func (w *Writer) Enable() error {
	return w.Base.Enable(w.files.MaxFileSize(), 0)
}

// Disable stops accepting writes and closes the current file.
func (w *Writer) Disable() error { return w.Base.Disable() }

// Close is an alias of Disable for the generic writer.Writer contract.
func (w *Writer) Close() error { return w.Disable() }

// OpenFile implements writer.Encoder.
func (w *Writer) OpenFile(name string) error {
	tmpPath := w.files.TmpPath(name)
	f, err := os.Create(tmpPath)
	if err != nil {
		w.sink.Emit("MCAP_FILE_CREATION_FAILURE", map[string]string{"path": tmpPath, "err": err.Error()})
		return errors.Wrapf(err, "creating %s", tmpPath)
	}
	w.f = f

	mw, err := mcap.NewWriter(f, &mcap.WriterOptions{
		Chunked:     true,
		Compression: w.opts.Compression,
		IncludeCRC:  true,
	})
	if err != nil {
		_ = f.Close()
		w.sink.Emit("MCAP_FILE_CREATION_FAILURE", map[string]string{"path": tmpPath, "err": err.Error()})
		return errors.Wrap(err, "constructing mcap writer")
	}
	w.mw = mw
	if err := w.mw.WriteHeader(&mcap.Header{Profile: "", Library: "dds-record-replay"}); err != nil {
		w.sink.Emit("MCAP_FILE_CREATION_FAILURE", map[string]string{"path": tmpPath, "err": err.Error()})
		return errors.Wrap(err, "writing mcap header")
	}

	if err := w.mw.WriteMetadata(&mcap.Metadata{
		Name: "version",
		Metadata: map[string]string{
			"release": w.opts.Release.Release,
			"commit":  w.opts.Release.Commit,
		},
	}); err != nil {
		w.sink.Emit("MCAP_FILE_CREATION_FAILURE", map[string]string{"path": tmpPath, "err": err.Error()})
		return errors.Wrap(err, "writing version metadata")
	}

	w.prevAttachment = nil
	w.guidMap = make(map[string]string)
	return nil
}

// Reemit implements writer.Encoder: schemas then channels, in id order, as
// the first records of a new file. It re-plays what this writer remembers
// having emitted into earlier files with their original ids; schema and
// channel ids are not renumbered per file, and the handler keeps using the
// same ids across rotations.
func (w *Writer) Reemit() error {
	for _, id := range sortedKeys(w.schemas) {
		s := w.schemas[id]
		if err := w.writeSchemaRecord(s); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(w.channels) {
		c := w.channels[id]
		if err := w.writeChannelRecord(c); err != nil {
			return err
		}
	}
	return nil
}

// CloseFile implements writer.Encoder: write the dynamic-types attachment
// and the message_guid_map metadata, then close the mcap/file handles.
func (w *Writer) CloseFile() error {
	if w.mw == nil {
		return nil
	}

	payload, err := serializer.MarshalCollection(w.dynTypes)
	if err != nil {
		return errors.Wrap(err, "marshaling dynamic types collection")
	}
	if err := w.mw.WriteAttachment(&mcap.Attachment{
		Name:      "dynamic_types",
		MediaType: "application/octet-stream",
		Data:      payload,
	}); err != nil {
		return errors.Wrap(err, "writing dynamic_types attachment")
	}

	if err := w.mw.WriteMetadata(&mcap.Metadata{
		Name:     "message_guid_map",
		Metadata: w.guidMap,
	}); err != nil {
		return errors.Wrap(err, "writing message_guid_map metadata")
	}

	if err := w.mw.Close(); err != nil {
		return errors.Wrap(err, "closing mcap writer")
	}
	if err := w.f.Close(); err != nil {
		return errors.Wrap(err, "closing file handle")
	}
	w.mw = nil
	w.f = nil

	if rec, ok := w.files.CurrentFile(); ok {
		w.files.SetCurrentFileSize(rec.SizeBytes)
	}
	return nil
}

// WriteSchema implements writer.Writer.
func (w *Writer) WriteSchema(s ddstypes.Schema) error {
	return w.WithRecovery(func() error {
		if err := w.Sizes.SchemaToWrite(len(s.Name), len(s.Encoding), len(s.Data)); err != nil {
			return err
		}
		if err := w.writeSchemaRecord(s); err != nil {
			return err
		}
		w.schemas[s.ID] = s
		w.Sizes.SchemaWritten(len(s.Name), len(s.Encoding), len(s.Data))
		return nil
	})
}

func (w *Writer) writeSchemaRecord(s ddstypes.Schema) error {
	return w.mw.WriteSchema(&mcap.Schema{
		ID:       s.ID,
		Name:     s.Name,
		Encoding: string(s.Encoding),
		Data:     []byte(s.Data),
	})
}

// WriteChannel implements writer.Writer.
func (w *Writer) WriteChannel(c ddstypes.Channel) error {
	return w.WithRecovery(func() error {
		kv := sizetracker.KVSize(c.Metadata)
		if err := w.Sizes.ChannelToWrite(len(c.TopicName), len(c.MessageEncoding), kv); err != nil {
			return err
		}
		if err := w.writeChannelRecord(c); err != nil {
			return err
		}
		w.channels[c.ID] = c
		w.Sizes.ChannelWritten(len(c.TopicName), len(c.MessageEncoding), kv)
		return nil
	})
}

func (w *Writer) writeChannelRecord(c ddstypes.Channel) error {
	return w.mw.WriteChannel(&mcap.Channel{
		ID:              c.ID,
		SchemaID:        c.SchemaID,
		Topic:           c.TopicName,
		MessageEncoding: c.MessageEncoding,
		Metadata:        c.Metadata,
	})
}

// WriteMessage implements writer.Writer.
func (w *Writer) WriteMessage(m ddstypes.Message) error {
	return w.WithRecovery(func() error {
		if err := w.Sizes.MessageToWrite(len(m.Payload)); err != nil {
			return err
		}
		if err := w.mw.WriteMessage(&mcap.Message{
			ChannelID:   m.ChannelID,
			Sequence:    m.Sequence,
			LogTime:     m.LogTimeNs,
			PublishTime: m.PublishTimeNs,
			Data:        m.Payload,
		}); err != nil {
			return errors.Wrap(err, "writing message")
		}
		if _, seen := w.guidMap[m.SourceGUID]; !seen {
			if c, ok := w.channels[m.ChannelID]; ok {
				w.guidMap[m.SourceGUID] = c.TopicName
			}
		}
		w.Sizes.MessageWritten(len(m.Payload))
		return nil
	})
}

// UpdateDynamicTypes implements writer.Writer: the re-serialize-and-replace
// pattern of spec.md §4.4, using the atomic AttachmentToWrite reservation.
// The attachment is only actually persisted at file close (CloseFile).
func (w *Writer) UpdateDynamicTypes(c *ddstypes.DynamicTypesCollection) error {
	newPayload, err := serializer.MarshalCollection(c)
	if err != nil {
		return errors.Wrap(err, "marshaling dynamic types collection")
	}
	if err := w.Sizes.AttachmentToWrite(len(newPayload), len(w.prevAttachment)); err != nil {
		return err
	}
	w.dynTypes = c
	w.prevAttachment = newPayload
	return nil
}

func sortedKeys[V any](m map[uint16]V) []uint16 {
	keys := make([]uint16, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
