package handler

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddserrors"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/monitor"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/writer"
)

// Sample is the (payload, source_guid, source_timestamp) tuple delivered by
// the DDS-side glue for one topic (spec.md §6 Inputs). The handler never
// copies Payload; callers are expected to hand it a reference they own for
// the duration of the call.
type Sample struct {
	Payload           []byte
	SourceGUID        string
	SourceTimestampNs uint64
}

// Config controls the handler's buffering and pending-sample behavior.
type Config struct {
	BufferSize              int
	MaxPendingSamples       int
	OnlyWithSchema          bool
	EventWindow             time.Duration
	CleanupPeriod           time.Duration
	UseSourceTimestampAsLog bool
}

type channelEntry struct {
	id       uint16
	schemaID uint16
	qos      ddstypes.TopicQoS // retained so a later schema rebind can reuse the real QoS string
}

type bufferedSample struct {
	channelID     uint16
	logTimeNs     uint64
	publishTimeNs uint64
	sourceGUID    string
	payload       []byte
}

// pendingEntry carries enough of the original AddData call to create a
// channel on schema resolution, since a pending sample's topic may not have
// any channel yet (spec.md §4.6, scenario S2).
type pendingEntry struct {
	topic ddstypes.TopicKey
	qos   ddstypes.TopicQoS
	sample Sample
}

// Handler is the BaseHandler of spec.md §4.6: a state machine plus an
// event-window buffer, pending-per-type queues and a schema registry, backed
// by exactly one Writer.
type Handler struct {
	cfg    Config
	writer writer.Writer
	sink   monitor.Sink
	logger log.Logger

	// cmdMu serializes command verbs; spec.md says callers are expected to
	// serialize these externally, but a handler-owned lock costs nothing and
	// protects against a caller that doesn't.
	cmdMu sync.Mutex
	state State

	// mtx guards everything on the data path: samplesBuffer, pending
	// queues, schemas, channels, received types and the dynamic-types
	// collection (spec.md §5).
	mtx             sync.Mutex
	samplesBuffer   []bufferedSample
	pendingRunning  map[string][]pendingEntry // per-type, RUNNING/STOPPED
	pendingPaused   map[string][]pendingEntry // per-type, PAUSED
	schemas         map[string]uint16         // type name -> schema id
	nextSchemaID    uint16
	channels        map[ddstypes.TopicKey]*channelEntry
	nextChannelID   uint16
	blankChannels   map[ddstypes.TopicKey]struct{} // topics bound to the blank schema
	dynTypes        *ddstypes.DynamicTypesCollection
	nextSequence    uint32

	event *eventThread

	triggered atomic.Bool
}

// New constructs a STOPPED handler around w.
func New(cfg Config, w writer.Writer, sink monitor.Sink, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if sink == nil {
		sink = monitor.Noop{}
	}
	h := &Handler{
		cfg:           cfg,
		writer:        w,
		sink:          sink,
		logger:        logger,
		state:         StateStopped,
		pendingRunning: make(map[string][]pendingEntry),
		pendingPaused:  make(map[string][]pendingEntry),
		schemas:        make(map[string]uint16),
		channels:       make(map[ddstypes.TopicKey]*channelEntry),
		blankChannels:  make(map[ddstypes.TopicKey]struct{}),
		dynTypes:       ddstypes.NewDynamicTypesCollection(),
	}
	return h
}

// State returns the handler's current state.
func (h *Handler) State() State {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()
	return h.state
}

// Start implements the transition table of spec.md §4.6.
func (h *Handler) Start() error {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	switch h.state {
	case StateStopped:
		h.state = StateRunning
	case StateRunning:
		level.Warn(h.logger).Log("msg", "start is a no-op while already RUNNING")
	case StatePaused:
		h.stopEventThreadLocked()
		h.clearBuffersLocked()
		h.state = StateRunning
	}
	return nil
}

// Pause implements the transition table of spec.md §4.6.
func (h *Handler) Pause() error {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	switch h.state {
	case StateStopped:
		h.state = StatePaused
		h.startEventThreadLocked()
	case StateRunning:
		h.flushBuffer()
		h.state = StatePaused
		h.startEventThreadLocked()
	case StatePaused:
		level.Warn(h.logger).Log("msg", "pause is a no-op while already PAUSED")
	}
	return nil
}

// Stop implements the transition table of spec.md §4.6.
func (h *Handler) Stop() error {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	switch h.state {
	case StateStopped:
		// no-op
	case StateRunning:
		h.flushBuffer()
		h.state = StateStopped
	case StatePaused:
		h.stopEventThreadLocked()
		h.clearBuffersLocked()
		h.state = StateStopped
	}
	return nil
}

// TriggerEvent implements the transition table of spec.md §4.6: only
// meaningful while PAUSED, where it signals the event condition variable.
func (h *Handler) TriggerEvent() error {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	if h.state != StatePaused {
		level.Warn(h.logger).Log("msg", "trigger_event is a no-op outside PAUSED", "state", h.state)
		return nil
	}
	if h.event != nil {
		h.event.trigger()
	}
	return nil
}

func (h *Handler) startEventThreadLocked() {
	h.event = newEventThread(h, h.cfg.CleanupPeriod, h.cfg.EventWindow)
	h.event.start()
}

func (h *Handler) stopEventThreadLocked() {
	if h.event == nil {
		return
	}
	h.event.stop()
	h.event = nil
}

func (h *Handler) clearBuffersLocked() {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.samplesBuffer = nil
	h.pendingPaused = make(map[string][]pendingEntry)
}

// AddData is the data-path entry point (spec.md §4.6).
func (h *Handler) AddData(topic ddstypes.TopicKey, qos ddstypes.TopicQoS, typeName string, s Sample) error {
	state := h.State()
	if state == StateStopped {
		return nil
	}

	h.mtx.Lock()
	defer h.mtx.Unlock()

	schemaID, known := h.schemas[typeName]
	if known {
		h.ensureChannelLocked(topic, qos, schemaID)
		return h.appendToBufferLocked(topic, s, state)
	}

	return h.handleUnknownSchemaLocked(topic, qos, typeName, s, state)
}

func (h *Handler) handleUnknownSchemaLocked(topic ddstypes.TopicKey, qos ddstypes.TopicQoS, typeName string, s Sample, state State) error {
	if h.cfg.MaxPendingSamples == 0 {
		if h.cfg.OnlyWithSchema {
			return nil // drop
		}
		h.ensureChannelLocked(topic, qos, ddstypes.BlankSchemaID)
		return h.appendToBufferLocked(topic, s, state)
	}

	queue := h.pendingRunning
	if state == StatePaused {
		queue = h.pendingPaused
	}

	queue[typeName] = append(queue[typeName], pendingEntry{topic: topic, qos: qos, sample: s})
	if len(queue[typeName]) > h.cfg.MaxPendingSamples {
		evicted := queue[typeName][0]
		queue[typeName] = queue[typeName][1:]
		if !h.cfg.OnlyWithSchema {
			h.ensureChannelLocked(evicted.topic, evicted.qos, ddstypes.BlankSchemaID)
			return h.appendToBufferLocked(evicted.topic, evicted.sample, state)
		}
	}
	return nil
}

func (h *Handler) appendToBufferLocked(topic ddstypes.TopicKey, s Sample, state State) error {
	ce, ok := h.channels[topic]
	if !ok {
		return ddserrors.NewInconsistency(nil, "no channel registered for topic %s", topic.TopicName)
	}

	logTime := s.SourceTimestampNs
	if !h.cfg.UseSourceTimestampAsLog {
		logTime = uint64(time.Now().UnixNano())
	}

	h.samplesBuffer = append(h.samplesBuffer, bufferedSample{
		channelID:     ce.id,
		logTimeNs:     logTime,
		publishTimeNs: s.SourceTimestampNs,
		sourceGUID:    s.SourceGUID,
		payload:       s.Payload,
	})

	if state == StateRunning && len(h.samplesBuffer) >= h.cfg.BufferSize {
		return h.flushBufferLocked()
	}
	return nil
}

func (h *Handler) ensureChannelLocked(topic ddstypes.TopicKey, qos ddstypes.TopicQoS, schemaID uint16) {
	if ce, ok := h.channels[topic]; ok && ce.schemaID == schemaID {
		return
	}

	id := h.nextChannelID
	h.nextChannelID++

	meta := map[string]string{
		"qos":        qos.Encode(),
		"ros2_types": "false",
		"partitions": topic.Partitions,
	}

	ch := ddstypes.Channel{
		ID:              id,
		TopicName:       topic.TopicName,
		MessageEncoding: "cdr",
		SchemaID:        schemaID,
		Metadata:        meta,
	}
	if err := h.writer.WriteChannel(ch); err != nil {
		level.Error(h.logger).Log("msg", "failed to write channel", "topic", topic.TopicName, "err", err)
		h.sink.Emit("QOS_MISMATCH", map[string]string{"topic": topic.TopicName})
		return
	}

	h.channels[topic] = &channelEntry{id: id, schemaID: schemaID, qos: qos}
	if schemaID == ddstypes.BlankSchemaID {
		h.blankChannels[topic] = struct{}{}
	} else {
		delete(h.blankChannels, topic)
	}
}

// flushBuffer acquires mtx and flushes; helper for the command transitions
// that already hold cmdMu but not mtx. The event thread, which takes mtx
// itself, calls flushBufferLocked directly.
func (h *Handler) flushBuffer() {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if err := h.flushBufferLocked(); err != nil {
		level.Error(h.logger).Log("msg", "failed to flush samples buffer", "err", err)
	}
}

func (h *Handler) flushBufferLocked() error {
	for _, bs := range h.samplesBuffer {
		seq := h.nextSequence
		h.nextSequence++
		msg := ddstypes.Message{
			Sequence:      seq,
			ChannelID:     bs.channelID,
			LogTimeNs:     bs.logTimeNs,
			PublishTimeNs: bs.publishTimeNs,
			SourceGUID:    bs.sourceGUID,
			DataSize:      uint32(len(bs.payload)),
			Payload:       bs.payload,
		}
		if err := h.writer.WriteMessage(msg); err != nil {
			h.samplesBuffer = nil
			return err
		}
	}
	h.samplesBuffer = nil
	return nil
}

// pruneOutdatedLocked drops buffered samples older than now-eventWindow; used
// only while PAUSED (spec.md §4.6 event thread).
func (h *Handler) pruneOutdatedLocked(now time.Time, window time.Duration) {
	if window <= 0 {
		return
	}
	cutoff := uint64(now.Add(-window).UnixNano())
	kept := h.samplesBuffer[:0]
	for _, bs := range h.samplesBuffer {
		if bs.logTimeNs >= cutoff {
			kept = append(kept, bs)
		}
	}
	h.samplesBuffer = kept
}

// AddSchema implements spec.md §4.6's add_schema algorithm.
func (h *Handler) AddSchema(typeName string, encoding ddstypes.Encoding, schemaText string, typeInfo, typeObj []byte) error {
	// Read state before taking mtx, the same order AddData uses, so this
	// never acquires cmdMu while holding mtx: Start/Pause/Stop take cmdMu
	// first and mtx second, and taking them in the opposite order here
	// would be a lock-order inversion against a concurrent command call.
	state := h.State()

	h.mtx.Lock()
	defer h.mtx.Unlock()

	if _, already := h.schemas[typeName]; already {
		return nil
	}

	id := h.nextSchemaID + 1 // 0 is reserved for the blank schema
	h.nextSchemaID++

	schema := ddstypes.Schema{ID: id, Name: typeName, Encoding: encoding, Data: schemaText}
	if err := h.writer.WriteSchema(schema); err != nil {
		h.sink.Emit("TYPE_MISMATCH", map[string]string{"type": typeName})
		return ddserrors.NewInconsistency(err, "writing schema for type %s", typeName)
	}
	h.schemas[typeName] = id

	h.rebindBlankChannelsLocked(typeName, id)

	h.dynTypes.Put(ddstypes.DynamicTypeEntry{TypeName: typeName, TypeInformation: typeInfo, TypeObject: typeObj})
	if err := h.writer.UpdateDynamicTypes(h.dynTypes); err != nil {
		level.Error(h.logger).Log("msg", "failed to update dynamic types", "type", typeName, "err", err)
	}

	return h.resolvePendingLocked(typeName, state)
}

func (h *Handler) rebindBlankChannelsLocked(typeName string, schemaID uint16) {
	for topic, ce := range h.channels {
		if ce.schemaID != ddstypes.BlankSchemaID || topic.TypeName != typeName {
			continue
		}
		newID := h.nextChannelID
		h.nextChannelID++
		ch := ddstypes.Channel{
			ID:              newID,
			TopicName:       topic.TopicName,
			MessageEncoding: "cdr",
			SchemaID:        schemaID,
			Metadata: map[string]string{
				"qos":        ce.qos.Encode(),
				"ros2_types": "false",
				"partitions": topic.Partitions,
			},
		}
		if err := h.writer.WriteChannel(ch); err != nil {
			level.Error(h.logger).Log("msg", "failed to rebind blank channel", "topic", topic.TopicName, "err", err)
			continue
		}
		h.channels[topic] = &channelEntry{id: newID, schemaID: schemaID, qos: ce.qos}
		delete(h.blankChannels, topic)
	}
}

func (h *Handler) resolvePendingLocked(typeName string, state State) error {
	schemaID := h.schemas[typeName]

	for _, pe := range h.pendingRunning[typeName] {
		h.ensureChannelLocked(pe.topic, pe.qos, schemaID)
		if err := h.appendToBufferLocked(pe.topic, pe.sample, state); err != nil {
			return err
		}
	}
	delete(h.pendingRunning, typeName)

	for _, pe := range h.pendingPaused[typeName] {
		// PAUSED: the event-window logic would otherwise drop these on the
		// next prune, so flush directly instead of buffering (spec.md §4.6).
		h.ensureChannelLocked(pe.topic, pe.qos, schemaID)
		if err := h.appendToBufferLocked(pe.topic, pe.sample, state); err != nil {
			return err
		}
	}
	delete(h.pendingPaused, typeName)

	if state == StatePaused {
		return h.flushBufferLocked()
	}
	return nil
}
