// Package replayer re-emits recorded samples at wall-clock-relative times
// (spec.md §4.8).
package replayer

import (
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
)

// Reader is implemented by the per-format readers (mcap, sqlw). Messages must
// be yielded in ascending PublishTimeNs order (spec.md §4.8).
type Reader interface {
	// Topics returns the topic set materialized from the file's metadata.
	Topics() ([]ddstypes.Channel, error)
	// Schemas returns every schema referenced by Topics.
	Schemas() ([]ddstypes.Schema, error)
	// DynamicTypes returns the recorded dynamic-types collection.
	DynamicTypes() (*ddstypes.DynamicTypesCollection, error)
	// Next returns the next message in ascending publish-time order, or
	// io.EOF-equivalent ok=false when exhausted.
	Next() (msg ddstypes.Message, ok bool, err error)
	Close() error
}

// Emitter republishes one message onto the live DDS domain. source_timestamp
// is set to the scheduled wall-clock time so QoS policies like lifespan
// still behave correctly (spec.md §4.8).
type Emitter interface {
	Emit(topic string, payload []byte, sourceTimestamp time.Time) error
}

// Config controls replay pacing.
type Config struct {
	Rate            float64 // 1.0 = realtime; must be > 0
	StartReplayTime time.Time
}

// Replayer streams one input file and re-emits its messages.
type Replayer struct {
	reader  Reader
	emit    Emitter
	cfg     Config
	logger  log.Logger

	channelsByID map[uint16]ddstypes.Channel
	schemasByID  map[uint16]ddstypes.Schema
	knownTopics  map[string]bool // topics the caller's reader registry actually materialized

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Replayer. knownTopics restricts emission to topics the
// caller's own reader registry has materialized; an empty/nil set means
// "accept every topic the file knows about".
func New(reader Reader, emit Emitter, cfg Config, knownTopics []string, logger log.Logger) (*Replayer, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1.0
	}

	channels, err := reader.Topics()
	if err != nil {
		return nil, err
	}
	schemas, err := reader.Schemas()
	if err != nil {
		return nil, err
	}

	r := &Replayer{
		reader:       reader,
		emit:         emit,
		cfg:          cfg,
		logger:       logger,
		channelsByID: make(map[uint16]ddstypes.Channel, len(channels)),
		schemasByID:  make(map[uint16]ddstypes.Schema, len(schemas)),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, c := range channels {
		r.channelsByID[c.ID] = c
	}
	for _, s := range schemas {
		r.schemasByID[s.ID] = s
	}
	if len(knownTopics) > 0 {
		r.knownTopics = make(map[string]bool, len(knownTopics))
		for _, t := range knownTopics {
			r.knownTopics[t] = true
		}
	}
	return r, nil
}

// Run streams the file to completion or until Stop is called. It blocks the
// calling goroutine; callers that want it to run in the background should
// invoke it via `go r.Run()`.
func (r *Replayer) Run() error {
	defer close(r.doneCh)

	sched, err := newScheduler(r.cfg.StartReplayTime, r.cfg.Rate, r.logger)
	if err != nil {
		return err
	}

	var t0 *uint64
	for {
		msg, ok, err := r.reader.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		ch, known := r.channelsByID[msg.ChannelID]
		if !known {
			level.Warn(r.logger).Log("msg", "message references unknown channel, skipping", "channel_id", msg.ChannelID)
			continue
		}
		if r.knownTopics != nil && !r.knownTopics[ch.TopicName] {
			level.Warn(r.logger).Log("msg", "skipping message for topic with no matching reader", "topic", ch.TopicName)
			continue
		}

		if t0 == nil {
			v := msg.LogTimeNs
			t0 = &v
		}

		target := sched.targetTime(*t0, msg.LogTimeNs)
		if stopped := sched.waitUntil(target, r.stopCh); stopped {
			return nil
		}

		if err := r.emit.Emit(ch.TopicName, msg.Payload, target); err != nil {
			level.Error(r.logger).Log("msg", "failed to emit replayed message", "topic", ch.TopicName, "err", err)
		}
	}
}

// Stop requests Run to return at the next scheduling point; safe to call
// from any goroutine.
func (r *Replayer) Stop() {
	close(r.stopCh)
	<-r.doneCh
}
