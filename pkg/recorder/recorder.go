// Package recorder wires SizeTracker/FileTracker/Writer/Handler per enabled
// output kind behind one HandlerContextCollection, and fans command verbs to
// it (spec.md §4.7, §5). This is the composition root a real DDS participant
// bootstrap would call into; it owns no DDS transport code itself.
package recorder

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/config"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddsglue"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddstypes"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/filetracker"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/handler"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/monitor"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/writer"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/writer/mcap"
	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/writer/sqlw"
)

// Recorder is the top-level object a CLI entry point constructs: one
// ContextCollection fed by a Bridge subscribed to the live DDS domain.
type Recorder struct {
	cfg    config.RecorderConfig
	logger log.Logger
	sink   monitor.Sink

	contexts *handler.ContextCollection
	bridge   *ddsglue.Bridge

	writers []writer.Writer
}

// New constructs every enabled writer/handler pair from cfg but does not yet
// enable them or subscribe to any sample source; call Start to enable them
// and Attach to subscribe to a SampleSource.
func New(cfg config.RecorderConfig, logger log.Logger, sink monitor.Sink) (*Recorder, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if sink == nil {
		sink = monitor.PrometheusSink{}
	}

	r := &Recorder{
		cfg:      cfg,
		logger:   logger,
		sink:     sink,
		contexts: handler.NewContextCollection(),
	}

	var handlers []*handler.Handler

	if cfg.MCAP.Enabled {
		files, err := filetracker.New(filetracker.Config{
			Directory:        dirOf(cfg.MCAP.Path),
			Stem:             stemOf(cfg.MCAP.Path),
			Extension:        ".mcap",
			MaxFileSize:      cfg.MCAP.MaxFileSizeBytes,
			MaxTotalSize:     cfg.MCAP.MaxSizeBytes,
			RotationEnabled:  cfg.MCAP.RotationEnabled,
			IncludeTimestamp: cfg.MCAP.IncludeTimestamp,
		}, log.With(logger, "writer", "mcap"))
		if err != nil {
			return nil, err
		}

		w := mcap.New(files, log.With(logger, "writer", "mcap"), sink, mcap.Options{})
		w.OnDiskFull = r.onDiskFull
		h := handler.New(handlerConfig(cfg.Handler), w, sink, log.With(logger, "handler", "mcap"))
		if err := r.contexts.InitHandlerContext(&handler.Context{Kind: handler.KindMCAP, Handler: h}); err != nil {
			return nil, err
		}
		r.writers = append(r.writers, w)
		handlers = append(handlers, h)
	}

	if cfg.SQL.Enabled {
		files, err := filetracker.New(filetracker.Config{
			Directory:        dirOf(cfg.SQL.Path),
			Stem:             stemOf(cfg.SQL.Path),
			Extension:        ".db",
			MaxFileSize:      cfg.SQL.MaxFileSizeBytes,
			MaxTotalSize:     cfg.SQL.MaxSizeBytes,
			RotationEnabled:  cfg.SQL.RotationEnabled,
			IncludeTimestamp: cfg.SQL.IncludeTimestamp,
		}, log.With(logger, "writer", "sql"))
		if err != nil {
			return nil, err
		}

		w := sqlw.New(files, log.With(logger, "writer", "sql"))
		w.OnDiskFull = r.onDiskFull
		h := handler.New(handlerConfig(cfg.Handler), w, sink, log.With(logger, "handler", "sql"))
		if err := r.contexts.InitHandlerContext(&handler.Context{Kind: handler.KindSQL, Handler: h}); err != nil {
			return nil, err
		}
		r.writers = append(r.writers, w)
		handlers = append(handlers, h)
	}

	r.bridge = ddsglue.NewBridge(handlers...)
	return r, nil
}

func handlerConfig(h config.HandlerConfig) handler.Config {
	return handler.Config{
		BufferSize:              h.BufferSize,
		MaxPendingSamples:       h.MaxPendingSamples,
		OnlyWithSchema:          h.OnlyWithSchema,
		EventWindow:             h.EventWindow,
		CleanupPeriod:           h.CleanupPeriod,
		UseSourceTimestampAsLog: h.UseSourceTimestampAsLog,
	}
}

// Attach wires src's sample stream to every handler through the Bridge.
// Type-discovery events should be forwarded to Recorder.OnTypeDiscovered by
// the caller's own DDS participant bootstrap.
func (r *Recorder) Attach(src ddsglue.SampleSource) error {
	return r.bridge.AttachTo(src, func(err error) {
		level.Error(r.logger).Log("msg", "sample delivery failed", "err", err)
	})
}

// OnTypeDiscovered forwards one discovered type to every handler.
func (r *Recorder) OnTypeDiscovered(t ddsglue.DiscoveredType) error {
	return r.bridge.OnTypeDiscovered(t)
}

// OnSample forwards one sample directly, bypassing a SampleSource — used by
// tests and any caller that already owns the DDS reader callback.
func (r *Recorder) OnSample(topic ddstypes.TopicKey, qos ddstypes.TopicQoS, typeName string, s handler.Sample) error {
	return r.bridge.OnSample(topic, qos, typeName, s)
}

// Start enables every writer and starts every handler (spec.md §4.7 Start).
func (r *Recorder) Start() error {
	for _, w := range r.writers {
		if err := w.Enable(); err != nil {
			return err
		}
	}
	return r.contexts.StartNTS()
}

// Pause flushes and pauses every handler, keeping writers open.
func (r *Recorder) Pause() error {
	return r.contexts.PauseNTS()
}

// TriggerEvent signals the event-window flush on every paused handler.
func (r *Recorder) TriggerEvent() error {
	return r.contexts.TriggerEventNTS()
}

// Stop flushes, stops every handler and disables every writer, closing the
// current output files.
func (r *Recorder) Stop() error {
	if err := r.contexts.StopNTS(); err != nil {
		return err
	}
	for _, w := range r.writers {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

// onDiskFull is the writer's OnDiskFull callback, invoked from inside
// WithRecovery while a handler's data-path mutex may already be held (e.g.
// AddData -> flushBufferLocked -> WriteMessage). Stop() walks every handler's
// Stop(), which re-takes that same mutex, so it must run off this call stack
// or a disk-full during a flush would deadlock the handler against itself.
func (r *Recorder) onDiskFull() {
	level.Error(r.logger).Log("msg", "recorder stopping: disk full")
	r.sink.Emit("DISK_FULL", nil)
	go func() {
		if err := r.Stop(); err != nil {
			level.Error(r.logger).Log("msg", "error stopping after disk full", "err", err)
		}
	}()
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func stemOf(path string) string {
	start := 0
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			start = i + 1
			break
		}
	}
	name := path[start:]
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}
