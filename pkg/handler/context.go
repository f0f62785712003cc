package handler

import (
	"go.uber.org/atomic"

	"github.com/eProsima/DDS-Record-Replay-sub001/pkg/ddserrors"
)

// Kind identifies which writer backend a Context wraps (spec.md §4.7).
type Kind int

const (
	KindMCAP Kind = iota
	KindSQL
)

func (k Kind) String() string {
	if k == KindSQL {
		return "SQL"
	}
	return "MCAP"
}

// Context pairs one Handler with its Kind. It is immutable once placed in a
// ContextCollection.
type Context struct {
	Kind    Kind
	Handler *Handler
}

// ContextCollection is a lock-free, write-once registry of the enabled
// handlers (spec.md §4.7). InitHandlerContext is the only mutating call and
// must happen before any of Start/Stop/Pause/TriggerEvent/ResetFileTrackers;
// after initialization the collection is read-only and needs no
// synchronization on the data path. The only state crossing goroutines is the
// atomic "started" flag, matching spec.md §5's note that the collection uses
// "an atomic initialized_ flag, no other synchronization".
type ContextCollection struct {
	contexts map[Kind]*Context
	started  atomic.Bool
}

// NewContextCollection returns an empty, unstarted collection.
func NewContextCollection() *ContextCollection {
	return &ContextCollection{contexts: make(map[Kind]*Context)}
}

// InitHandlerContext registers ctx under its Kind. Returns an error if that
// Kind is already present.
func (c *ContextCollection) InitHandlerContext(ctx *Context) error {
	if c.started.Load() {
		return ddserrors.PreconditionNotMet
	}
	if _, exists := c.contexts[ctx.Kind]; exists {
		return ddserrors.NewInitialization(nil, "handler context for kind %s already initialized", ctx.Kind)
	}
	c.contexts[ctx.Kind] = ctx
	return nil
}

// Get returns the Context for kind, if any.
func (c *ContextCollection) Get(kind Kind) (*Context, bool) {
	ctx, ok := c.contexts[kind]
	return ctx, ok
}

// All returns every registered Context, order unspecified.
func (c *ContextCollection) All() []*Context {
	out := make([]*Context, 0, len(c.contexts))
	for _, ctx := range c.contexts {
		out = append(out, ctx)
	}
	return out
}

// StartNTS starts every registered handler and marks the collection started,
// after which InitHandlerContext is refused (NTS: Not Thread Safe against
// concurrent Init calls, matching the collaborator's own naming).
func (c *ContextCollection) StartNTS() error {
	for _, ctx := range c.All() {
		if err := ctx.Handler.Start(); err != nil {
			return err
		}
	}
	c.started.Store(true)
	return nil
}

// StopNTS stops every registered handler.
func (c *ContextCollection) StopNTS() error {
	if !c.started.Load() {
		return ddserrors.PreconditionNotMet
	}
	for _, ctx := range c.All() {
		if err := ctx.Handler.Stop(); err != nil {
			return err
		}
	}
	return nil
}

// PauseNTS pauses every registered handler.
func (c *ContextCollection) PauseNTS() error {
	if !c.started.Load() {
		return ddserrors.PreconditionNotMet
	}
	for _, ctx := range c.All() {
		if err := ctx.Handler.Pause(); err != nil {
			return err
		}
	}
	return nil
}

// TriggerEventNTS triggers the event window flush on every registered handler.
func (c *ContextCollection) TriggerEventNTS() error {
	if !c.started.Load() {
		return ddserrors.PreconditionNotMet
	}
	for _, ctx := range c.All() {
		if err := ctx.Handler.TriggerEvent(); err != nil {
			return err
		}
	}
	return nil
}

// ResetFileTrackersNTS is a hook for the recorder orchestrator to renumber
// file ids across a full reconfiguration; actual FileTracker ownership lives
// with each writer, so this simply requires the collection is initialized.
func (c *ContextCollection) ResetFileTrackersNTS() error {
	if !c.started.Load() {
		return ddserrors.PreconditionNotMet
	}
	return nil
}
