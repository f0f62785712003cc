package replayer

import (
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func TestTargetTimeScalesByRate(t *testing.T) {
	s := &scheduler{t0: time.Unix(1000, 0), rate: 2.0}
	target := s.targetTime(0, uint64(2*time.Second))
	require.Equal(t, s.t0.Add(1*time.Second), target)
}

func TestTargetTimeHandlesOutOfOrderLogTime(t *testing.T) {
	s := &scheduler{t0: time.Unix(1000, 0), rate: 1.0}
	target := s.targetTime(uint64(5*time.Second), uint64(2*time.Second))
	require.Equal(t, s.t0.Add(-3*time.Second), target)
}

func TestWaitUntilReturnsImmediatelyForPastTarget(t *testing.T) {
	s := &scheduler{t0: time.Now(), rate: 1.0}
	stopCh := make(chan struct{})
	stopped := s.waitUntil(time.Now().Add(-time.Second), stopCh)
	require.False(t, stopped)
}

func TestWaitUntilReturnsStoppedWhenCancelled(t *testing.T) {
	s := &scheduler{t0: time.Now(), rate: 1.0}
	stopCh := make(chan struct{})
	close(stopCh)
	stopped := s.waitUntil(time.Now().Add(time.Hour), stopCh)
	require.True(t, stopped)
}

func TestNewSchedulerFallsBackToNowWhenStartTimeIsPast(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	sched, err := newScheduler(past, 1.0, log.NewNopLogger())
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), sched.t0, time.Second)
}
