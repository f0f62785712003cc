// Package sqlw implements replayer.Reader against a SQLite container written
// by writer/sqlw, querying Messages in ascending publish_time order.
package sqlw

import (
	"database/sql"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"github.com/pkg/errors"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
)

// Reader streams a SQLite container's Messages table. The schema has no
// native integer channel/schema ids (spec.md's SQL data model keys Types and
// Topics by name), so the reader assigns stable synthetic uint16 ids on open,
// one per distinct type name and one per distinct (name, type) topic row.
type Reader struct {
	db   *sql.DB
	rows *sql.Rows

	schemas      []ddstypes.Schema
	channels     []ddstypes.Channel
	dynTypes     *ddstypes.DynamicTypesCollection
	channelIDBy  map[string]uint16 // topic name -> channel id (one topic maps to one type in this schema)
	schemaIDBy   map[string]uint16 // type name -> schema id
}

// Open queries Types, Topics and Messages and prepares a streaming cursor
// over Messages ordered by publish_time.
func Open(path string) (*Reader, error) {
	db, err := sql.Open("sqlite3", path+"?mode=ro")
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	r := &Reader{
		db:          db,
		dynTypes:    ddstypes.NewDynamicTypesCollection(),
		channelIDBy: make(map[string]uint16),
		schemaIDBy:  make(map[string]uint16),
	}
	if err := r.loadSchemas(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := r.loadTopics(); err != nil {
		_ = db.Close()
		return nil, err
	}

	rows, err := db.Query(`SELECT writer_guid, sequence_number, data, data_size, topic, type, log_time, publish_time FROM Messages ORDER BY publish_time ASC`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "querying Messages")
	}
	r.rows = rows
	return r, nil
}

func (r *Reader) loadSchemas() error {
	rows, err := r.db.Query(`SELECT name, information, is_ros2_type FROM Types ORDER BY name ASC`)
	if err != nil {
		return errors.Wrap(err, "querying Types")
	}
	defer rows.Close()

	var id uint16 = 1
	for rows.Next() {
		var name string
		var info []byte
		var isROS2 int
		if err := rows.Scan(&name, &info, &isROS2); err != nil {
			return errors.Wrap(err, "scanning Types row")
		}
		enc := ddstypes.EncodingOMGIDL
		if isROS2 != 0 {
			enc = ddstypes.EncodingROS2Msg
		}
		r.schemaIDBy[name] = id
		r.schemas = append(r.schemas, ddstypes.Schema{
			ID:       id,
			Name:     name,
			Encoding: enc,
			Data:     string(info),
		})
		id++
	}
	return rows.Err()
}

func (r *Reader) loadTopics() error {
	rows, err := r.db.Query(`SELECT name, type, qos FROM Topics ORDER BY name ASC, type ASC`)
	if err != nil {
		return errors.Wrap(err, "querying Topics")
	}
	defer rows.Close()

	var id uint16 = 1
	for rows.Next() {
		var name, typ, qos string
		if err := rows.Scan(&name, &typ, &qos); err != nil {
			return errors.Wrap(err, "scanning Topics row")
		}
		partitions, err := r.partitionsFor(name)
		if err != nil {
			return err
		}
		r.channelIDBy[name] = id
		r.channels = append(r.channels, ddstypes.Channel{
			ID:              id,
			TopicName:       name,
			MessageEncoding: "cdr",
			SchemaID:        r.schemaIDBy[typ],
			Metadata: map[string]string{
				"qos":        qos,
				"partitions": partitions,
			},
		})
		id++
	}
	return rows.Err()
}

func (r *Reader) partitionsFor(topic string) (string, error) {
	rows, err := r.db.Query(`SELECT partition FROM Partitions WHERE topic = ? ORDER BY partition ASC`, topic)
	if err != nil {
		return "", errors.Wrap(err, "querying Partitions")
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	sort.Strings(parts)
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out, rows.Err()
}

// Topics implements replayer.Reader.
func (r *Reader) Topics() ([]ddstypes.Channel, error) { return r.channels, nil }

// Schemas implements replayer.Reader.
func (r *Reader) Schemas() ([]ddstypes.Schema, error) { return r.schemas, nil }

// DynamicTypes implements replayer.Reader. The SQL container carries no
// sidecar attachment equivalent to MCAP's "dynamic_types"; Types rows are
// the authoritative record, so this returns an empty collection.
func (r *Reader) DynamicTypes() (*ddstypes.DynamicTypesCollection, error) { return r.dynTypes, nil }

// Next implements replayer.Reader.
func (r *Reader) Next() (ddstypes.Message, bool, error) {
	if !r.rows.Next() {
		return ddstypes.Message{}, false, r.rows.Err()
	}

	var guid string
	var seq uint32
	var data []byte
	var dataSize uint32
	var topic, typ, logTime, publishTime string
	if err := r.rows.Scan(&guid, &seq, &data, &dataSize, &topic, &typ, &logTime, &publishTime); err != nil {
		return ddstypes.Message{}, false, errors.Wrap(err, "scanning Messages row")
	}

	logNs, err := parseISO8601Nanos(logTime)
	if err != nil {
		return ddstypes.Message{}, false, err
	}
	pubNs, err := parseISO8601Nanos(publishTime)
	if err != nil {
		return ddstypes.Message{}, false, err
	}

	return ddstypes.Message{
		Sequence:      seq,
		ChannelID:     r.channelIDBy[topic],
		LogTimeNs:     logNs,
		PublishTimeNs: pubNs,
		SourceGUID:    guid,
		DataSize:      dataSize,
		Payload:       data,
	}, true, nil
}

// Close implements replayer.Reader.
func (r *Reader) Close() error {
	if r.rows != nil {
		_ = r.rows.Close()
	}
	return r.db.Close()
}

func parseISO8601Nanos(s string) (uint64, error) {
	t, err := time.Parse("2006-01-02T15:04:05.000000000Z", s)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing timestamp %q", s)
	}
	return uint64(t.UnixNano()), nil
}
