package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Worker runs registered tasks on a fixed interval, each in its own
// goroutine.
type Worker struct {
	tasks  map[string]Task
	config Config
	logger *slog.Logger

	// Synchronization
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a Worker. It must be started with Start and stopped with Stop.
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		tasks:  make(map[string]Task),
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Register adds a task. Names must be unique. Call this before Start.
func (w *Worker) Register(task Task) {
	name := task.Name()
	if _, exists := w.tasks[name]; exists {
		w.logger.Warn("Overwriting existing task", "task", name)
	}
	w.tasks[name] = task
	w.logger.Debug("Registered task", "task", name)
}

// Start runs every task once and then on each interval tick.
func (w *Worker) Start(ctx context.Context) {
	for _, task := range w.tasks {
		w.wg.Add(1)
		go w.runTask(ctx, task)
	}

	w.logger.Info("Worker started", "tasks", len(w.tasks), "interval", w.config.Interval)
}

// Stop signals all tasks to stop and waits up to ShutdownTimeout.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, some tasks may still be running")
	}
}

func (w *Worker) runTask(ctx context.Context, task Task) {
	defer w.wg.Done()

	logger := w.logger.With("task", task.Name())

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		if err := w.execute(ctx, task); err != nil {
			if IsPermanent(err) {
				logger.Error("Task failed permanently, unscheduling", "error", err)
				return
			}
			logger.Error("Task failed", "error", err)
		}

		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// execute runs one pass of task under TaskTimeout.
func (w *Worker) execute(ctx context.Context, task Task) error {
	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	if err := task.Run(taskCtx); err != nil {
		return err
	}
	w.logger.Debug("Task completed", "task", task.Name(), "duration_ms", time.Since(start).Milliseconds())
	return nil
}
