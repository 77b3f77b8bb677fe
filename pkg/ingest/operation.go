package ingest

import (
	"context"
)

// Progress is a snapshot of a running operation.
type Progress struct {
	Stage   string `json:"stage"`
	Rows    int    `json:"rows"`
	Percent int    `json:"percent"`
}

// Operation is a cancellable background ingestion task.
type Operation[T any] struct {
	progress chan Progress
	done     chan struct{}
	cancel   context.CancelFunc
	result   T
	err      error
}

// start runs fn on its own goroutine. Progress updates never block fn: when the
// consumer falls behind, the oldest pending update is replaced.
func start[T any](ctx context.Context, fn func(ctx context.Context, report func(Progress)) (T, error)) *Operation[T] {
	ctx, cancel := context.WithCancel(ctx)
	op := &Operation[T]{
		progress: make(chan Progress, 16),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	go func() {
		defer close(op.done)
		defer close(op.progress)
		defer cancel()
		op.result, op.err = fn(ctx, op.report)
	}()
	return op
}

func (op *Operation[T]) report(p Progress) {
	for {
		select {
		case op.progress <- p:
			return
		default:
		}
		select {
		case <-op.progress:
		default:
		}
	}
}

// Progress streams updates and is closed when the operation ends.
func (op *Operation[T]) Progress() <-chan Progress { return op.progress }

// Done is closed when the operation ends.
func (op *Operation[T]) Done() <-chan struct{} { return op.done }

// Cancel stops the operation. Nothing it produced so far is kept.
func (op *Operation[T]) Cancel() { op.cancel() }

// Wait blocks until the operation ends or ctx is done.
func (op *Operation[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-op.done:
		return op.result, op.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
