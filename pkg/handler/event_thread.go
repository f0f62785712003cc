package handler

import (
	"time"
)

// eventThread exists only while the handler is PAUSED (spec.md §4.6). It
// wakes on a timeout of cleanupPeriod or on an explicit trigger, pruning
// samples older than the event window on every wakeup and flushing only when
// the wakeup was a trigger. Go has no condition-variable-with-timeout
// primitive, so this is expressed the idiomatic way: a select over a
// buffered trigger channel, a stop channel and a timer, rather than forcing
// sync.Cond into a role it doesn't support.
type eventThread struct {
	h *Handler

	cleanupPeriod time.Duration
	eventWindow   time.Duration

	triggerCh chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
}

func newEventThread(h *Handler, cleanupPeriod, eventWindow time.Duration) *eventThread {
	return &eventThread{
		h:             h,
		cleanupPeriod: cleanupPeriod,
		eventWindow:   eventWindow,
		triggerCh:     make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (et *eventThread) start() {
	go et.run()
}

// trigger signals the thread; safe to call from any goroutine, non-blocking.
func (et *eventThread) trigger() {
	select {
	case et.triggerCh <- struct{}{}:
	default:
		// already has a pending trigger queued; one flush will serve both.
	}
}

// stop signals the thread to exit and waits for it to actually do so.
func (et *eventThread) stop() {
	close(et.stopCh)
	<-et.done
}

func (et *eventThread) run() {
	defer close(et.done)

	period := et.cleanupPeriod
	if period <= 0 {
		period = time.Second
	}
	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		select {
		case <-et.stopCh:
			return

		case <-et.triggerCh:
			et.h.mtx.Lock()
			et.h.pruneOutdatedLocked(time.Now(), et.eventWindow)
			_ = et.h.flushBufferLocked()
			et.h.mtx.Unlock()

			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(period)

		case <-timer.C:
			et.h.mtx.Lock()
			et.h.pruneOutdatedLocked(time.Now(), et.eventWindow)
			et.h.mtx.Unlock()
			timer.Reset(period)
		}
	}
}
