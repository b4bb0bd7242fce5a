package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTasksRunIndependently(t *testing.T) {
	var fast, failing, panicking atomic.Int32
	s := New(
		Task{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			fast.Add(1)
			return nil
		}},
		Task{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			failing.Add(1)
			return errors.New("boom")
		}},
		Task{Name: "panicking", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			panicking.Add(1)
			panic("oops")
		}},
	)
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return fast.Load() >= 3 && failing.Load() >= 3 && panicking.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestRunAtStart(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := New(Task{Name: "boot", Interval: time.Hour, RunAtStart: true, Run: func(context.Context) error {
		ran <- struct{}{}
		return nil
	}})
	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run at start")
	}
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	var finished atomic.Bool
	started := make(chan struct{})
	s := New(Task{Name: "slow", Interval: time.Hour, RunAtStart: true, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	}})
	s.Start(context.Background())
	<-started
	s.Stop()
	assert.True(t, finished.Load())

	// second Stop is a no-op
	s.Stop()
}

func TestCycleTimeout(t *testing.T) {
	done := make(chan error, 1)
	s := New(Task{Name: "bounded", Interval: time.Hour, Timeout: 10 * time.Millisecond, RunAtStart: true,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			done <- ctx.Err()
			return ctx.Err()
		}})
	s.Start(context.Background())
	defer s.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("cycle was not bounded by its timeout")
	}
}
