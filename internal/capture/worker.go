package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
)

// Runner executes the capture of one request. Run must release the request's
// stream id before returning.
type Runner interface {
	Run(ctx context.Context, req domain.CaptureRequest)
}

// Source hands out queued capture requests.
type Source interface {
	Next(ctx context.Context) (domain.CaptureRequest, error)
	Release(id string) bool
}

// Worker pulls requests off the queue and runs one pipeline per request
// concurrently. Pipelines run under their own context: stopping the worker
// loop lets them finish, Abort cancels them.
type Worker struct {
	source Source
	runner Runner
	logger *slog.Logger

	pipelineCtx context.Context
	abort       context.CancelFunc

	mu       sync.Mutex
	seq      uint64
	inFlight map[uint64]<-chan struct{}
	wg       sync.WaitGroup
}

func NewWorker(source Source, runner Runner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source:      source,
		runner:      runner,
		logger:      logging.WithComponent(logger, "capture_worker"),
		pipelineCtx: ctx,
		abort:       cancel,
		inFlight:    make(map[uint64]<-chan struct{}),
	}
}

// Run loops until ctx is cancelled, then waits for every dispatched pipeline
// to finish before returning.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Capture worker started")

	for {
		w.prune()

		req, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.ErrorContext(ctx, "Failed to take next capture", "error", err)
			continue
		}

		if err := w.dispatch(req); err != nil {
			w.logger.ErrorContext(ctx, "Failed to dispatch capture", "capture_id", req.ID, "error", err)
			w.source.Release(req.ID)
		}
	}

	w.logger.Info("Capture worker draining", "in_flight", w.InFlight())
	w.wg.Wait()
	w.logger.Info("Capture worker stopped")
	return nil
}

// Abort cancels every running pipeline, killing their child processes.
func (w *Worker) Abort() {
	w.abort()
}

// InFlight is the number of pipelines dispatched and not yet pruned or finished.
func (w *Worker) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, done := range w.inFlight {
		select {
		case <-done:
		default:
			n++
		}
	}
	return n
}

func (w *Worker) dispatch(req domain.CaptureRequest) error {
	if w.pipelineCtx.Err() != nil {
		return errors.New("worker aborted")
	}

	done := make(chan struct{})
	w.mu.Lock()
	w.seq++
	w.inFlight[w.seq] = done
	w.mu.Unlock()

	w.logger.Info("Starting capture", "capture_id", req.ID, "login", req.Login, "title", req.Title)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Capture pipeline panicked", "capture_id", req.ID, "panic", r)
				w.source.Release(req.ID)
			}
		}()
		w.runner.Run(w.pipelineCtx, req)
	}()
	return nil
}

// prune drops finished pipelines from the in-flight set.
func (w *Worker) prune() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, done := range w.inFlight {
		select {
		case <-done:
			delete(w.inFlight, id)
		default:
		}
	}
}
