package syncjob

import (
	"context"

	"github.com/smallbiznis/ordersync/internal/syncjob/domain"
	"github.com/smallbiznis/ordersync/internal/syncjob/repository"
	"github.com/smallbiznis/ordersync/internal/syncjob/service"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	"go.uber.org/fx"
)

var Module = fx.Module("syncjob.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(RegisterTasks),
)

// RegisterTasks routes aggregated chunk tasks to the runner.
func RegisterTasks(mux *taskqueue.Mux, svc domain.Service) {
	mux.Register(taskqueue.KindAggregatedSync, func(ctx context.Context, task taskqueue.Task) error {
		var payload domain.ChunkPayload
		if err := task.Decode(&payload); err != nil {
			return err
		}
		if payload.JobID == "" {
			payload.JobID = task.JobID
		}
		return svc.RunChunk(ctx, payload)
	})
}
