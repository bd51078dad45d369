package migration

import (
	dailydomain "github.com/smallbiznis/ordersync/internal/dailysync/domain"
	notificationdomain "github.com/smallbiznis/ordersync/internal/notification/domain"
	mappingdomain "github.com/smallbiznis/ordersync/internal/ordermapping/domain"
	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
	transactiondomain "github.com/smallbiznis/ordersync/internal/transaction/domain"
	"gorm.io/gorm"
)

// Models lists every persisted type, in dependency order.
func Models() []any {
	return []any{
		&transactiondomain.Transaction{},
		&transactiondomain.NonStockProduct{},
		&mappingdomain.OrderMapping{},
		&syncjobdomain.Job{},
		&syncjobdomain.Run{},
		&syncjobdomain.RunDetail{},
		&dailydomain.Job{},
		&notificationdomain.MailServerProfile{},
		&notificationdomain.UserSMTPCredential{},
	}
}

// AutoMigrate builds the schema from the models. Used for sqlite and mysql,
// where the embedded postgres migrations do not apply.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
