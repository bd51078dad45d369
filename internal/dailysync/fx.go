package dailysync

import (
	"context"

	"github.com/smallbiznis/ordersync/internal/dailysync/domain"
	"github.com/smallbiznis/ordersync/internal/dailysync/repository"
	"github.com/smallbiznis/ordersync/internal/dailysync/service"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	"go.uber.org/fx"
)

var Module = fx.Module("dailysync.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(RegisterTasks),
)

func RegisterTasks(mux *taskqueue.Mux, svc domain.Service) {
	mux.Register(taskqueue.KindDailySync, func(ctx context.Context, task taskqueue.Task) error {
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
