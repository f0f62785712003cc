package replayer

import (
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// scheduler implements spec.md §4.8's pacing algorithm: T0 = max(startReplayTime,
// now); target wall-clock for a message at log-time offset delta from t0 is
// T0 + delta/rate.
type scheduler struct {
	t0     time.Time
	rate   float64
	logger log.Logger
}

func newScheduler(startReplayTime time.Time, rate float64, logger log.Logger) (*scheduler, error) {
	now := time.Now()
	t0 := startReplayTime
	if t0.IsZero() || t0.Before(now) {
		if !t0.IsZero() {
			level.Warn(logger).Log("msg", "start_replay_time is in the past, starting immediately", "requested", t0)
		}
		t0 = now
	}
	return &scheduler{t0: t0, rate: rate, logger: logger}, nil
}

// targetTime returns the wall-clock time a message at logTimeNs, given the
// recording's first message log-time t0Ns, should be emitted at.
func (s *scheduler) targetTime(t0Ns, logTimeNs uint64) time.Time {
	var deltaNs int64
	if logTimeNs >= t0Ns {
		deltaNs = int64(logTimeNs - t0Ns)
	} else {
		deltaNs = -int64(t0Ns - logTimeNs)
	}
	scaledNs := time.Duration(float64(deltaNs) / s.rate)
	return s.t0.Add(scaledNs)
}

// waitUntil cancellably sleeps until target or stopCh fires, whichever comes
// first, returning true if it was cancelled. A condition variable with no
// native timeout support would need a polling loop in C++; Go expresses the
// same cancellable-timed-wait with select over a timer and a stop channel.
func (s *scheduler) waitUntil(target time.Time, stopCh <-chan struct{}) (stopped bool) {
	d := time.Until(target)
	if d <= 0 {
		select {
		case <-stopCh:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return false
	case <-stopCh:
		return true
	}
}
