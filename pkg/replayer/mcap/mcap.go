// Package mcap implements replayer.Reader against an MCAP 0.x file.
package mcap

import (
	"io"
	"os"
	"sort"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/pkg/errors"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/serializer"
)

// Reader streams an MCAP file's messages in ascending publish-time order.
type Reader struct {
	f *os.File

	msgs []ddstypes.Message
	pos  int

	schemas  []ddstypes.Schema
	channels []ddstypes.Channel
	dynTypes *ddstypes.DynamicTypesCollection
}

// Open reads the whole file once via the low-level lexer (chunks are
// transparently decompressed), buffering messages sorted by publish time.
// MCAP files in this system are expected to be recorder-sized (bounded by
// max_file_size), so buffering the index in memory is acceptable.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	r := &Reader{f: f, dynTypes: ddstypes.NewDynamicTypesCollection()}
	if err := r.index(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) index() error {
	lexer, err := mcap.NewLexer(r.f, &mcap.LexerOptions{
		SkipMagic:   false,
		ValidateCRC: false,
		EmitChunks:  false,
	})
	if err != nil {
		return errors.Wrap(err, "constructing mcap lexer")
	}
	defer lexer.Close()

	schemaByID := map[uint16]ddstypes.Schema{}
	channelByID := map[uint16]ddstypes.Channel{}

	buf := make([]byte, 0, 4096)
	for {
		tok, data, err := lexer.Next(buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reading mcap record")
		}
		buf = data

		switch tok {
		case mcap.TokenSchema:
			s, err := mcap.ParseSchema(data)
			if err != nil {
				return errors.Wrap(err, "parsing schema record")
			}
			schemaByID[s.ID] = ddstypes.Schema{
				ID:       s.ID,
				Name:     s.Name,
				Encoding: ddstypes.Encoding(s.Encoding),
				Data:     string(s.Data),
			}

		case mcap.TokenChannel:
			c, err := mcap.ParseChannel(data)
			if err != nil {
				return errors.Wrap(err, "parsing channel record")
			}
			channelByID[c.ID] = ddstypes.Channel{
				ID:              c.ID,
				TopicName:       c.Topic,
				MessageEncoding: c.MessageEncoding,
				SchemaID:        c.SchemaID,
				Metadata:        c.Metadata,
			}

		case mcap.TokenMessage:
			m, err := mcap.ParseMessage(data)
			if err != nil {
				return errors.Wrap(err, "parsing message record")
			}
			payload := make([]byte, len(m.Data))
			copy(payload, m.Data)
			r.msgs = append(r.msgs, ddstypes.Message{
				Sequence:      m.Sequence,
				ChannelID:     m.ChannelID,
				LogTimeNs:     m.LogTime,
				PublishTimeNs: m.PublishTime,
				DataSize:      uint32(len(payload)),
				Payload:       payload,
			})

		case mcap.TokenAttachment:
			a, err := mcap.ParseAttachment(data)
			if err != nil {
				return errors.Wrap(err, "parsing attachment record")
			}
			if a.Name != "dynamic_types" {
				continue
			}
			parsed, err := serializer.UnmarshalCollection(a.Data)
			if err != nil {
				return errors.Wrap(err, "decoding dynamic_types attachment")
			}
			r.dynTypes = parsed
		}
	}

	for _, s := range schemaByID {
		r.schemas = append(r.schemas, s)
	}
	for _, c := range channelByID {
		r.channels = append(r.channels, c)
	}
	sort.Slice(r.schemas, func(i, j int) bool { return r.schemas[i].ID < r.schemas[j].ID })
	sort.Slice(r.channels, func(i, j int) bool { return r.channels[i].ID < r.channels[j].ID })
	sort.Slice(r.msgs, func(i, j int) bool { return r.msgs[i].PublishTimeNs < r.msgs[j].PublishTimeNs })

	return nil
}

// Topics implements replayer.Reader.
func (r *Reader) Topics() ([]ddstypes.Channel, error) { return r.channels, nil }

// Schemas implements replayer.Reader.
func (r *Reader) Schemas() ([]ddstypes.Schema, error) { return r.schemas, nil }

// DynamicTypes implements replayer.Reader.
func (r *Reader) DynamicTypes() (*ddstypes.DynamicTypesCollection, error) { return r.dynTypes, nil }

// Next implements replayer.Reader.
func (r *Reader) Next() (ddstypes.Message, bool, error) {
	if r.pos >= len(r.msgs) {
		return ddstypes.Message{}, false, nil
	}
	m := r.msgs[r.pos]
	r.pos++
	return m, true, nil
}

// Close implements replayer.Reader.
func (r *Reader) Close() error {
	return r.f.Close()
}
