package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ordersync/internal/aggregation"
	"github.com/smallbiznis/ordersync/internal/clock"
	"github.com/smallbiznis/ordersync/internal/config"
	"github.com/smallbiznis/ordersync/internal/dailysync"
	"github.com/smallbiznis/ordersync/internal/lock"
	"github.com/smallbiznis/ordersync/internal/migration"
	"github.com/smallbiznis/ordersync/internal/notification"
	"github.com/smallbiznis/ordersync/internal/observability"
	"github.com/smallbiznis/ordersync/internal/ordermapping"
	"github.com/smallbiznis/ordersync/internal/providers/email"
	"github.com/smallbiznis/ordersync/internal/providers/pdf"
	"github.com/smallbiznis/ordersync/internal/scheduler"
	"github.com/smallbiznis/ordersync/internal/server"
	"github.com/smallbiznis/ordersync/internal/stepexecutor"
	"github.com/smallbiznis/ordersync/internal/syncjob"
	"github.com/smallbiznis/ordersync/internal/taskqueue"
	"github.com/smallbiznis/ordersync/internal/transaction"
	"github.com/smallbiznis/ordersync/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,
		taskqueue.Module,

		// Collaborators
		email.Module,
		pdf.Module,
		stepexecutor.Module,
		transaction.Module,
		ordermapping.Module,
		notification.Module,

		// Sync domains
		aggregation.Module,
		syncjob.Module,
		dailysync.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
