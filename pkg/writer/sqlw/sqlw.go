// Package sqlw implements the SQLite writer of spec.md §4.5: Types, Topics,
// Messages tables, periodic on-disk size re-reads (WAL makes written_size a
// lower bound) and an EvictOldest helper for oldest-row eviction. Writes
// themselves never evict rows.
package sqlw

import (
	"database/sql"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/filetracker"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/sizetracker"
	basewriter "github.com/eProsima/DDS-Record-Replay-sub001/pkg/writer"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS Types (
	name TEXT PRIMARY KEY,
	information BLOB,
	object BLOB,
	is_ros2_type INTEGER
);
CREATE TABLE IF NOT EXISTS Topics (
	name TEXT,
	type TEXT,
	qos TEXT,
	is_ros2_topic INTEGER,
	PRIMARY KEY (name, type),
	FOREIGN KEY (type) REFERENCES Types(name)
);
CREATE TABLE IF NOT EXISTS Messages (
	writer_guid TEXT,
	sequence_number INTEGER,
	data BLOB,
	data_size INTEGER,
	topic TEXT,
	type TEXT,
	key TEXT,
	log_time TEXT,
	publish_time TEXT,
	PRIMARY KEY (writer_guid, sequence_number),
	FOREIGN KEY (topic, type) REFERENCES Topics(name, type)
);
CREATE TABLE IF NOT EXISTS Partitions (
	topic TEXT,
	partition TEXT
);
`

// Writer is the SQLite variant of writer.Writer.
type Writer struct {
	basewriter.Base

	files  *filetracker.Tracker
	logger log.Logger

	db       *sql.DB
	path     string
	tmpPath  string
	schemas  map[uint16]ddstypes.Schema
	channels map[uint16]ddstypes.Channel
	byTopic  map[string]uint16 // topic name -> channel id, for schema-id-change detection
	dynTypes *ddstypes.DynamicTypesCollection

	lastSizeCheck time.Time
}

// New constructs a disabled SQL writer. Call Enable before writing.
func New(files *filetracker.Tracker, logger log.Logger) *Writer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	w := &Writer{
		files:    files,
		logger:   logger,
		schemas:  make(map[uint16]ddstypes.Schema),
		channels: make(map[uint16]ddstypes.Channel),
		byTopic:  make(map[string]uint16),
		dynTypes: ddstypes.NewDynamicTypesCollection(),
	}
	w.Base = basewriter.Base{
		Logger:  logger,
		Sizes:   sizetracker.New(logger),
		Files:   files,
		Encoder: w,
	}
	return w
}

// Enable opens the first database file, sized against the per-file budget.
func (w *Writer) Enable() error { return w.Base.Enable(w.files.MaxFileSize(), 0) }

// Disable stops accepting writes and closes the current database.
func (w *Writer) Disable() error { return w.Base.Disable() }

// Close is an alias of Disable for the generic writer.Writer contract.
func (w *Writer) Close() error { return w.Disable() }

// OpenFile implements writer.Encoder.
func (w *Writer) OpenFile(name string) error {
	w.tmpPath = w.files.TmpPath(name)
	db, err := sql.Open("sqlite3", w.tmpPath+"?_journal_mode=WAL")
	if err != nil {
		return errors.Wrapf(err, "opening sqlite database %s", w.tmpPath)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "creating schema")
	}
	w.db = db
	w.lastSizeCheck = time.Time{}
	return nil
}

// Reemit implements writer.Encoder: re-insert known Types/Topics rows into
// the freshly opened database so it stays independently replayable.
func (w *Writer) Reemit() error {
	for _, s := range w.schemas {
		if err := w.insertType(s); err != nil {
			return err
		}
	}
	for _, c := range w.channels {
		if err := w.insertTopic(c); err != nil {
			return err
		}
	}
	return nil
}

// CloseFile implements writer.Encoder.
func (w *Writer) CloseFile() error {
	if w.db == nil {
		return nil
	}
	if err := w.db.Close(); err != nil {
		return errors.Wrap(err, "closing sqlite database")
	}
	w.db = nil
	if fi, err := os.Stat(w.tmpPath); err == nil {
		if rec, ok := w.files.CurrentFile(); ok {
			_ = rec
			w.files.SetCurrentFileSize(uint64(fi.Size()))
		}
	}
	return nil
}

// WriteSchema implements writer.Writer.
func (w *Writer) WriteSchema(s ddstypes.Schema) error {
	return w.WithRecovery(func() error {
		if err := w.Sizes.SchemaToWrite(len(s.Name), len(s.Encoding), len(s.Data)); err != nil {
			return err
		}
		if err := w.insertType(s); err != nil {
			return err
		}
		w.schemas[s.ID] = s
		w.Sizes.SchemaWritten(len(s.Name), len(s.Encoding), len(s.Data))
		return w.checkSizeAndEvict()
	})
}

func (w *Writer) insertType(s ddstypes.Schema) error {
	isROS2 := 0
	if s.Encoding == ddstypes.EncodingROS2Msg {
		isROS2 = 1
	}
	_, err := w.db.Exec(`INSERT OR REPLACE INTO Types(name, information, object, is_ros2_type) VALUES (?, ?, ?, ?)`,
		s.Name, []byte(s.Data), []byte(s.Data), isROS2)
	if err != nil {
		return errors.Wrap(err, "inserting Types row")
	}
	return nil
}

// WriteChannel implements writer.Writer.
func (w *Writer) WriteChannel(c ddstypes.Channel) error {
	return w.WithRecovery(func() error {
		kv := sizetracker.KVSize(c.Metadata)
		if err := w.Sizes.ChannelToWrite(len(c.TopicName), len(c.MessageEncoding), kv); err != nil {
			return err
		}
		if err := w.insertTopic(c); err != nil {
			return err
		}
		w.channels[c.ID] = c
		w.byTopic[c.TopicName] = c.ID
		w.Sizes.ChannelWritten(len(c.TopicName), len(c.MessageEncoding), kv)
		return nil
	})
}

func (w *Writer) insertTopic(c ddstypes.Channel) error {
	schema := w.schemas[c.SchemaID]
	isROS2 := 0
	if schema.Encoding == ddstypes.EncodingROS2Msg {
		isROS2 = 1
	}
	_, err := w.db.Exec(`INSERT OR REPLACE INTO Topics(name, type, qos, is_ros2_topic) VALUES (?, ?, ?, ?)`,
		c.TopicName, schema.Name, c.Metadata["qos"], isROS2)
	if err != nil {
		return errors.Wrap(err, "inserting Topics row")
	}
	for _, p := range splitNonEmpty(c.Metadata["partitions"]) {
		if _, err := w.db.Exec(`INSERT INTO Partitions(topic, partition) VALUES (?, ?)`, c.TopicName, p); err != nil {
			return errors.Wrap(err, "inserting Partitions row")
		}
	}
	return nil
}

// WriteMessage implements writer.Writer.
func (w *Writer) WriteMessage(m ddstypes.Message) error {
	return w.WithRecovery(func() error {
		if err := w.Sizes.MessageToWrite(len(m.Payload)); err != nil {
			return err
		}
		c, ok := w.channels[m.ChannelID]
		if !ok {
			return errors.New("sqlw: message references unknown channel id")
		}
		schema := w.schemas[c.SchemaID]
		_, err := w.db.Exec(
			`INSERT INTO Messages(writer_guid, sequence_number, data, data_size, topic, type, key, log_time, publish_time) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.SourceGUID, m.Sequence, m.Payload, m.DataSize, c.TopicName, schema.Name, "",
			formatISO8601Nanos(m.LogTimeNs), formatISO8601Nanos(m.PublishTimeNs),
		)
		if err != nil {
			return errors.Wrap(err, "inserting Messages row")
		}
		w.Sizes.MessageWritten(len(m.Payload))
		return w.checkSizeAndEvict()
	})
}

// UpdateDynamicTypes implements writer.Writer; the SQL writer only keeps the
// collection in memory. Types rows come from WriteSchema, which stores the
// schema text in both the information and object columns; the collection's
// type information and type objects are not written to the database.
func (w *Writer) UpdateDynamicTypes(c *ddstypes.DynamicTypesCollection) error {
	w.dynTypes = c
	return nil
}

// checkSizeAndEvict re-reads the on-disk file size at most once a second (WAL
// means the driver's own byte counter understates reality) and reports it to
// the FileTracker. It does not evict rows or VACUUM, whatever the size.
func (w *Writer) checkSizeAndEvict() error {
	if time.Since(w.lastSizeCheck) < time.Second {
		return nil
	}
	w.lastSizeCheck = time.Now()

	fi, err := os.Stat(w.tmpPath)
	if err != nil {
		return nil // best effort; the encoded-size estimate from sizetracker still governs rotation
	}
	w.files.SetCurrentFileSize(uint64(fi.Size()))
	return nil
}

// EvictOldest deletes n oldest Messages rows ordered by publish_time and
// VACUUMs. Neither this writer nor the recorder calls it; rows are evicted
// only when a caller invokes it directly.
func (w *Writer) EvictOldest(n int) error {
	if w.db == nil || n <= 0 {
		return nil
	}
	_, err := w.db.Exec(`DELETE FROM Messages WHERE rowid IN (SELECT rowid FROM Messages ORDER BY publish_time ASC LIMIT ?)`, n)
	if err != nil {
		return errors.Wrap(err, "evicting oldest messages")
	}
	if _, err := w.db.Exec(`VACUUM`); err != nil {
		level.Warn(w.logger).Log("msg", "vacuum failed after eviction", "err", err)
	}
	return nil
}

func formatISO8601Nanos(ns uint64) string {
	t := time.Unix(0, int64(ns)).UTC()
	return t.Format("2006-01-02T15:04:05.000000000Z")
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	out := []string{}
	cur := ""
	for _, r := range s {
		if r == ',' {
			if cur != "" {
				out = append(out, cur)
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
