package taskqueue

import (
	"context"
	"fmt"

	"github.com/smallbiznis/ordersync/internal/config"
	obsmetrics "github.com/smallbiznis/ordersync/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("taskqueue",
	fx.Provide(NewMux),
	fx.Provide(NewQueue),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Mux       *Mux
	Log       *zap.Logger
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// NewQueue selects the queue implementation for TASK_QUEUE_MODE.
func NewQueue(p Params) (Queue, error) {
	mode := p.Cfg.TaskQueue.Mode
	var queue Queue

	switch mode {
	case config.QueueModeInline:
		queue = NewInline(p.Mux, p.Log)
	case config.QueueModePubSub:
		publisher, err := NewTopicPublisher(context.Background(), p.Cfg.TaskQueue)
		if err != nil {
			return nil, err
		}
		ps := NewPubSub(publisher, p.Log)
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				ps.Stop()
				return nil
			},
		})
		queue = ps
	case config.QueueModeLocal, "":
		local := NewLocal(LocalConfig{Workers: p.Cfg.TaskQueue.Workers, Buffer: p.Cfg.TaskQueue.Buffer}, p.Mux, p.Log)
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				local.Start()
				return nil
			},
			OnStop: local.Stop,
		})
		queue = local
	default:
		return nil, fmt.Errorf("unsupported task queue mode %q", mode)
	}

	p.Log.Named("taskqueue").Info("taskqueue.mode", zap.String("mode", mode))
	return &instrumented{Queue: queue, mode: mode, metrics: p.Metrics}, nil
}

type instrumented struct {
	Queue
	mode    string
	metrics *obsmetrics.Metrics
}

func (q *instrumented) Enqueue(ctx context.Context, task Task) error {
	if err := q.Queue.Enqueue(ctx, task); err != nil {
		return err
	}
	q.metrics.RecordTaskEnqueued(ctx, string(task.Kind), q.mode)
	return nil
}
