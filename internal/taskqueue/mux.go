package taskqueue

import (
	"context"
	"fmt"
	"sync"

	obscontext "github.com/smallbiznis/ordersync/internal/observability/context"
)

// Mux routes tasks to the handler registered for their kind.
type Mux struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[Kind]Handler)}
}

func (m *Mux) Register(kind Kind, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = handler
}

func (m *Mux) Dispatch(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	m.mu.RLock()
	handler, ok := m.handlers[task.Kind]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, task.Kind)
	}

	if task.RequestID != "" {
		ctx = obscontext.WithRequestID(ctx, task.RequestID)
	}
	ctx = obscontext.WithJob(ctx, string(task.Kind), task.JobID)
	return handler(ctx, task)
}

// stamp copies the caller's request id so continuations stay correlated.
func stamp(ctx context.Context, task Task) Task {
	if task.RequestID == "" {
		task.RequestID = obscontext.RequestIDFromContext(ctx)
	}
	return task
}
