package migration

import (
	"strings"

	"github.com/smallbiznis/ordersync/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg db.Config, log *zap.Logger) error {
		log = log.Named("migration")
		driver := strings.ToLower(strings.TrimSpace(cfg.Type))
		if driver == "" || driver == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB, log)
		}

		log.Info("schema.automigrate", zap.String("driver", driver))
		return AutoMigrate(conn)
	}),
)
