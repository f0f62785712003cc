package recorder

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/config"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddsglue"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/handler"
	mcapreader "github.com/eProsima/DDS-Record-Replay-sub001/pkg/replayer/mcap"
)

// fakeSink is a monitor.Sink that only records what was emitted, for the
// scenarios that need to assert on telemetry rather than just file contents.
type fakeSink struct {
	mu     sync.Mutex
	events []string
}

func (s *fakeSink) Emit(tag string, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, tag)
}

func (s *fakeSink) count(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == tag {
			n++
		}
	}
	return n
}

// mcapOnlyConfig builds a RecorderConfig with only the MCAP output enabled,
// writing into dir/out.mcap, overriding the handler and size knobs per
// scenario.
func mcapOnlyConfig(dir string, h config.HandlerConfig, maxFileSize, maxTotalSize uint64, rotation bool) config.RecorderConfig {
	cfg := config.DefaultRecorderConfig()
	cfg.SQL.Enabled = false
	cfg.MCAP = config.OutputConfig{
		Enabled:          true,
		Path:             filepath.Join(dir, "out.mcap"),
		MaxFileSizeBytes: maxFileSize,
		MaxSizeBytes:     maxTotalSize,
		RotationEnabled:  rotation,
	}
	cfg.Handler = h
	return cfg
}

func readAllMessages(t *testing.T, r *mcapreader.Reader) []ddstypes.Message {
	t.Helper()
	var got []ddstypes.Message
	for {
		m, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, m)
	}
	return got
}

// TestRecorderScenarios drives the real pipeline (Recorder -> Handler ->
// writer/mcap -> FileTracker) end to end for every scenario named below,
// then reads the resulting bytes back with the replayer's own reader.
func TestRecorderScenarios(t *testing.T) {
	scenarios := []struct {
		name string
		run  func(t *testing.T)
	}{
		{"S1_TinyRecording", scenarioTinyRecording},
		{"S2_LateSchemaResolution", scenarioLateSchemaResolution},
		{"S3_PendingEviction", scenarioPendingEviction},
		{"S4_PausedEventWindow", scenarioPausedEventWindow},
		{"S5_FileRotation", scenarioFileRotation},
		{"S6_DiskFullTerminal", scenarioDiskFullTerminal},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, sc.run)
	}
}

// scenarioTinyRecording: three messages on one topic, one file, one schema,
// one channel, recorded and read back in order.
func scenarioTinyRecording(t *testing.T) {
	dir := t.TempDir()
	cfg := mcapOnlyConfig(dir, config.HandlerConfig{
		BufferSize:              1,
		MaxPendingSamples:       0,
		OnlyWithSchema:          false,
		UseSourceTimestampAsLog: true,
	}, 1<<20, 1<<20, false)

	rec, err := New(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	require.NoError(t, rec.OnTypeDiscovered(ddsglue.DiscoveredType{
		TypeName:        "Hello",
		Encoding:        ddstypes.EncodingROS2Msg,
		SchemaText:      "string data",
		TypeInformation: []byte{1, 2},
		TypeObject:      []byte{3, 4},
	}))

	topic := ddstypes.NewTopicKey("/chatter", "Hello", nil)
	payloads := [][]byte{{0x01}, {0x02}, {0x03}}
	logTimes := []uint64{1000, 2000, 3000}
	for i, p := range payloads {
		require.NoError(t, rec.OnSample(topic, ddstypes.TopicQoS{}, "Hello", handler.Sample{
			Payload:           p,
			SourceTimestampNs: logTimes[i],
		}))
	}
	require.NoError(t, rec.Stop())

	r, err := mcapreader.Open(cfg.MCAP.Path)
	require.NoError(t, err)
	defer r.Close()

	schemas, err := r.Schemas()
	require.NoError(t, err)
	require.Len(t, schemas, 1)

	channels, err := r.Topics()
	require.NoError(t, err)
	require.Len(t, channels, 1)

	got := readAllMessages(t, r)
	require.Len(t, got, 3)
	for i, m := range got {
		require.Equal(t, logTimes[i], m.PublishTimeNs)
		require.Equal(t, payloads[i], m.Payload)
	}

	dyn, err := r.DynamicTypes()
	require.NoError(t, err)
	require.Equal(t, 1, dyn.Len())
}

// scenarioLateSchemaResolution: two samples arrive before their schema; once
// the schema resolves both must be written, in order, with their original
// log times preserved.
func scenarioLateSchemaResolution(t *testing.T) {
	dir := t.TempDir()
	cfg := mcapOnlyConfig(dir, config.HandlerConfig{
		BufferSize:              1,
		MaxPendingSamples:       4,
		OnlyWithSchema:          true,
		UseSourceTimestampAsLog: true,
	}, 1<<20, 1<<20, false)

	rec, err := New(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	topic := ddstypes.NewTopicKey("/late", "Late", nil)
	require.NoError(t, rec.OnSample(topic, ddstypes.TopicQoS{}, "Late", handler.Sample{Payload: []byte{0xAA}, SourceTimestampNs: 500}))
	require.NoError(t, rec.OnSample(topic, ddstypes.TopicQoS{}, "Late", handler.Sample{Payload: []byte{0xBB}, SourceTimestampNs: 600}))

	require.NoError(t, rec.OnTypeDiscovered(ddsglue.DiscoveredType{
		TypeName:        "Late",
		Encoding:        ddstypes.EncodingROS2Msg,
		SchemaText:      "string data",
		TypeInformation: []byte{5},
		TypeObject:      []byte{6},
	}))

	require.NoError(t, rec.Stop())

	r, err := mcapreader.Open(cfg.MCAP.Path)
	require.NoError(t, err)
	defer r.Close()

	channels, err := r.Topics()
	require.NoError(t, err)
	require.Len(t, channels, 1)
	require.NotEqual(t, uint16(ddstypes.BlankSchemaID), channels[0].SchemaID)

	got := readAllMessages(t, r)
	require.Len(t, got, 2)
	require.Equal(t, uint64(500), got[0].PublishTimeNs)
	require.Equal(t, uint64(600), got[1].PublishTimeNs)
	require.Equal(t, []byte{0xAA}, got[0].Payload)
	require.Equal(t, []byte{0xBB}, got[1].Payload)
}

// scenarioPendingEviction: four samples arrive before any schema with a
// pending cap of two; the first two are evicted onto the blank-schema
// channel immediately, the last two are promoted once the real schema
// arrives.
func scenarioPendingEviction(t *testing.T) {
	dir := t.TempDir()
	cfg := mcapOnlyConfig(dir, config.HandlerConfig{
		BufferSize:              1,
		MaxPendingSamples:       2,
		OnlyWithSchema:          false,
		UseSourceTimestampAsLog: true,
	}, 1<<20, 1<<20, false)

	rec, err := New(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	topic := ddstypes.NewTopicKey("/x", "X", nil)
	for i := 0; i < 4; i++ {
		require.NoError(t, rec.OnSample(topic, ddstypes.TopicQoS{}, "X", handler.Sample{
			Payload:           []byte{byte(i)},
			SourceTimestampNs: uint64(1000 * (i + 1)),
		}))
	}

	require.NoError(t, rec.OnTypeDiscovered(ddsglue.DiscoveredType{
		TypeName:        "X",
		Encoding:        ddstypes.EncodingROS2Msg,
		SchemaText:      "string data",
		TypeInformation: []byte{7},
		TypeObject:      []byte{8},
	}))

	require.NoError(t, rec.Stop())

	r, err := mcapreader.Open(cfg.MCAP.Path)
	require.NoError(t, err)
	defer r.Close()

	channels, err := r.Topics()
	require.NoError(t, err)
	require.Len(t, channels, 2, "one blank-schema channel for the evicted pair, one real-schema channel for the promoted pair")

	var blankChannelID uint16
	found := false
	for _, c := range channels {
		if c.SchemaID == ddstypes.BlankSchemaID {
			blankChannelID = c.ID
			found = true
		}
	}
	require.True(t, found, "a blank-schema channel must exist")

	got := readAllMessages(t, r)
	require.Len(t, got, 4)
	require.Equal(t, blankChannelID, got[0].ChannelID, "first evicted sample lands on the blank channel")
	require.Equal(t, blankChannelID, got[1].ChannelID, "second evicted sample lands on the blank channel")
	require.NotEqual(t, blankChannelID, got[2].ChannelID, "first promoted sample lands on the real-schema channel")
	require.NotEqual(t, blankChannelID, got[3].ChannelID, "second promoted sample lands on the real-schema channel")
}

// scenarioPausedEventWindow: while PAUSED, a sample older than the event
// window must be pruned before the window's trigger is processed, leaving
// only the sample that arrived inside the window.
func scenarioPausedEventWindow(t *testing.T) {
	dir := t.TempDir()
	cfg := mcapOnlyConfig(dir, config.HandlerConfig{
		BufferSize:        100,
		MaxPendingSamples: 0,
		OnlyWithSchema:    false,
		EventWindow:       200 * time.Millisecond,
		CleanupPeriod:     50 * time.Millisecond,
	}, 1<<20, 1<<20, false)

	rec, err := New(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	require.NoError(t, rec.OnTypeDiscovered(ddsglue.DiscoveredType{
		TypeName:        "Motion",
		Encoding:        ddstypes.EncodingROS2Msg,
		SchemaText:      "string data",
		TypeInformation: []byte{9},
		TypeObject:      []byte{10},
	}))

	require.NoError(t, rec.Pause())

	topic := ddstypes.NewTopicKey("/motion", "Motion", nil)
	require.NoError(t, rec.OnSample(topic, ddstypes.TopicQoS{}, "Motion", handler.Sample{Payload: []byte{0x01}}))

	time.Sleep(300 * time.Millisecond) // the first sample is now older than the event window

	require.NoError(t, rec.OnSample(topic, ddstypes.TopicQoS{}, "Motion", handler.Sample{Payload: []byte{0x02}}))

	time.Sleep(60 * time.Millisecond) // let a cleanup tick prune the stale sample

	require.NoError(t, rec.TriggerEvent())
	time.Sleep(100 * time.Millisecond) // let the trigger-driven flush land before Stop tears the buffer down
	require.NoError(t, rec.Stop())

	r, err := mcapreader.Open(cfg.MCAP.Path)
	require.NoError(t, err)
	defer r.Close()

	got := readAllMessages(t, r)
	require.Len(t, got, 1, "only the sample fed after the event window elapsed should land on disk")
	require.Equal(t, []byte{0x02}, got[0].Payload)
}

// scenarioFileRotation: a per-file budget small enough that exactly one
// large message fits per file forces rotation on every later sample; once
// the aggregate budget is exceeded the oldest file is deleted.
func scenarioFileRotation(t *testing.T) {
	dir := t.TempDir()
	const maxFileSize = 10000
	const maxTotalSize = 30000

	cfg := mcapOnlyConfig(dir, config.HandlerConfig{
		BufferSize:              1,
		MaxPendingSamples:       0,
		OnlyWithSchema:          false,
		UseSourceTimestampAsLog: true,
	}, maxFileSize, maxTotalSize, true)

	rec, err := New(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	require.NoError(t, rec.OnTypeDiscovered(ddsglue.DiscoveredType{
		TypeName:        "S5Type",
		Encoding:        ddstypes.EncodingROS2Msg,
		SchemaText:      "d",
		TypeInformation: []byte{1, 2, 3, 4},
		TypeObject:      []byte{5, 6, 7, 8},
	}))

	topic := ddstypes.NewTopicKey("/s5", "S5Type", nil)
	payload := make([]byte, 6000)
	for i := 0; i < 4; i++ {
		require.NoError(t, rec.OnSample(topic, ddstypes.TopicQoS{}, "S5Type", handler.Sample{
			Payload:           payload,
			SourceTimestampNs: uint64(i),
		}))
	}

	require.NoError(t, rec.Stop())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Len(t, names, 3, "the oldest of the four rotated files must have been evicted: %v", names)
	require.NotContains(t, names, "out_0.mcap", "the first (oldest) file must be the one evicted")
	require.Contains(t, names, "out_3.mcap", "the file holding the triggering fourth sample must survive")
}

// scenarioDiskFullTerminal: same sizes as the rotation scenario but with
// rotation disabled; once the fourth file cannot be opened, exactly one
// DISK_FULL event fires and later samples are silently accepted without
// writes.
func scenarioDiskFullTerminal(t *testing.T) {
	dir := t.TempDir()
	const maxFileSize = 10000
	const maxTotalSize = 30000

	cfg := mcapOnlyConfig(dir, config.HandlerConfig{
		BufferSize:              1,
		MaxPendingSamples:       0,
		OnlyWithSchema:          false,
		UseSourceTimestampAsLog: true,
	}, maxFileSize, maxTotalSize, false)

	sink := &fakeSink{}
	rec, err := New(cfg, nil, sink)
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	require.NoError(t, rec.OnTypeDiscovered(ddsglue.DiscoveredType{
		TypeName:        "S6Type",
		Encoding:        ddstypes.EncodingROS2Msg,
		SchemaText:      "d",
		TypeInformation: []byte{1, 2, 3, 4},
		TypeObject:      []byte{5, 6, 7, 8},
	}))

	topic := ddstypes.NewTopicKey("/s6", "S6Type", nil)
	payload := make([]byte, 6000)
	for i := 0; i < 5; i++ {
		require.NoError(t, rec.OnSample(topic, ddstypes.TopicQoS{}, "S6Type", handler.Sample{
			Payload:           payload,
			SourceTimestampNs: uint64(i),
		}))
	}

	require.Equal(t, 1, sink.count("DISK_FULL"), "disk full must fire exactly once even though two samples hit the already-disabled writer")

	require.NoError(t, rec.Stop())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3, "no file beyond the third should ever have been created")
}
