package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindSenderAccount(ctx context.Context, db *gorm.DB, userID string) (*SenderAccount, error)
}
