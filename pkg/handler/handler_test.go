package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
)

// fakeWriter records every call made to it; it never fails.
type fakeWriter struct {
	enabled  bool
	schemas  []ddstypes.Schema
	channels []ddstypes.Channel
	messages []ddstypes.Message
}

func (f *fakeWriter) Enable() error  { f.enabled = true; return nil }
func (f *fakeWriter) Disable() error { f.enabled = false; return nil }
func (f *fakeWriter) Close() error   { return f.Disable() }
func (f *fakeWriter) WriteSchema(s ddstypes.Schema) error {
	f.schemas = append(f.schemas, s)
	return nil
}
func (f *fakeWriter) WriteChannel(c ddstypes.Channel) error {
	f.channels = append(f.channels, c)
	return nil
}
func (f *fakeWriter) WriteMessage(m ddstypes.Message) error {
	f.messages = append(f.messages, m)
	return nil
}
func (f *fakeWriter) UpdateDynamicTypes(*ddstypes.DynamicTypesCollection) error { return nil }

func testConfig() Config {
	return Config{
		BufferSize:        1, // flush immediately so assertions see writes synchronously
		MaxPendingSamples: 2,
		OnlyWithSchema:    false,
		EventWindow:       50 * time.Millisecond,
		CleanupPeriod:     10 * time.Millisecond,
	}
}

func TestAddDataWithKnownSchemaFlushesImmediately(t *testing.T) {
	w := &fakeWriter{}
	h := New(testConfig(), w, nil, nil)
	require.NoError(t, h.Start())

	require.NoError(t, h.AddSchema("MyType", ddstypes.EncodingROS2Msg, "text", nil, nil))
	topic := ddstypes.NewTopicKey("/t", "MyType", nil)

	require.NoError(t, h.AddData(topic, ddstypes.TopicQoS{}, "MyType", Sample{Payload: []byte("x"), SourceTimestampNs: 1}))

	require.Len(t, w.schemas, 1)
	require.Len(t, w.channels, 1)
	require.Len(t, w.messages, 1)
}

func TestAddDataBeforeSchemaIsPendingThenResolved(t *testing.T) {
	// scenario S2: samples on a topic arrive before its schema.
	w := &fakeWriter{}
	h := New(testConfig(), w, nil, nil)
	require.NoError(t, h.Start())

	topic := ddstypes.NewTopicKey("/late", "LateType", nil)
	require.NoError(t, h.AddData(topic, ddstypes.TopicQoS{}, "LateType", Sample{Payload: []byte("1")}))
	require.NoError(t, h.AddData(topic, ddstypes.TopicQoS{}, "LateType", Sample{Payload: []byte("2")}))

	require.Empty(t, w.messages, "no message should be written yet for an unresolved type")

	require.NoError(t, h.AddSchema("LateType", ddstypes.EncodingROS2Msg, "text", nil, nil))

	require.Len(t, w.channels, 1)
	require.Len(t, w.messages, 2)
}

func TestAddDataEvictsOldestPendingSampleToBlankChannel(t *testing.T) {
	// scenario S3: pending queue bound by MaxPendingSamples, oldest evicted to
	// the blank-schema channel once the bound is exceeded.
	w := &fakeWriter{}
	cfg := testConfig()
	cfg.MaxPendingSamples = 1
	h := New(cfg, w, nil, nil)
	require.NoError(t, h.Start())

	topic := ddstypes.NewTopicKey("/late", "LateType", nil)
	require.NoError(t, h.AddData(topic, ddstypes.TopicQoS{}, "LateType", Sample{Payload: []byte("1")}))
	require.NoError(t, h.AddData(topic, ddstypes.TopicQoS{}, "LateType", Sample{Payload: []byte("2")}))

	require.Len(t, w.messages, 1, "oldest pending sample should have been flushed to a blank channel")
	require.Equal(t, uint16(ddstypes.BlankSchemaID), w.channels[0].SchemaID)
}

func TestOnlyWithSchemaDropsUnknownTypeSamples(t *testing.T) {
	w := &fakeWriter{}
	cfg := testConfig()
	cfg.MaxPendingSamples = 0
	cfg.OnlyWithSchema = true
	h := New(cfg, w, nil, nil)
	require.NoError(t, h.Start())

	topic := ddstypes.NewTopicKey("/t", "Unknown", nil)
	require.NoError(t, h.AddData(topic, ddstypes.TopicQoS{}, "Unknown", Sample{Payload: []byte("x")}))

	require.Empty(t, w.channels)
	require.Empty(t, w.messages)
}

func TestStopDropsAllData(t *testing.T) {
	w := &fakeWriter{}
	h := New(testConfig(), w, nil, nil)
	topic := ddstypes.NewTopicKey("/t", "MyType", nil)

	require.NoError(t, h.AddData(topic, ddstypes.TopicQoS{}, "MyType", Sample{Payload: []byte("x")}))
	require.Empty(t, w.messages, "AddData while STOPPED must be a no-op")
}

func TestPauseFromRunningFlushesBuffer(t *testing.T) {
	w := &fakeWriter{}
	cfg := testConfig()
	cfg.BufferSize = 100 // large enough that normal flush doesn't trigger
	h := New(cfg, w, nil, nil)
	require.NoError(t, h.Start())
	require.NoError(t, h.AddSchema("MyType", ddstypes.EncodingROS2Msg, "text", nil, nil))

	topic := ddstypes.NewTopicKey("/t", "MyType", nil)
	require.NoError(t, h.AddData(topic, ddstypes.TopicQoS{}, "MyType", Sample{Payload: []byte("x")}))
	require.Empty(t, w.messages)

	require.NoError(t, h.Pause())
	require.Len(t, w.messages, 1, "pausing from RUNNING flushes the buffer")
}
