// Package scheduler runs periodic background jobs, each on its own ticker.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Task is one periodic job. Cycles of the same task never overlap; a slow
// cycle delays the next tick instead of stacking. A non-zero Timeout bounds
// each cycle's context.
type Task struct {
	Name       string
	Interval   time.Duration
	Timeout    time.Duration
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Scheduler owns the goroutines of its tasks.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []Task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(tasks ...Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Start launches every task. It returns at once; use Stop to end them.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, t := range s.tasks {
		s.launch(ctx, t)
	}
}

// Stop cancels every task and waits for in-flight cycles to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) launch(ctx context.Context, t Task) {
	if t.Interval <= 0 {
		slog.Error("task not started, interval must be positive", "task", t.Name)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		slog.Info("task started", "task", t.Name, "interval", t.Interval)
		if t.RunAtStart {
			runCycle(ctx, t)
		}
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("task stopped", "task", t.Name)
				return
			case <-ticker.C:
				runCycle(ctx, t)
			}
		}
	}()
}

func runCycle(ctx context.Context, t Task) {
	if ctx.Err() != nil {
		return
	}
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	if err := safeRun(ctx, t); err != nil && ctx.Err() == nil {
		slog.Warn("task cycle failed", "task", t.Name, "error", err)
	}
}

func safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked", "task", t.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Run(ctx)
}
