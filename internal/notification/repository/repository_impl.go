package repository

import (
	"context"

	"github.com/smallbiznis/ordersync/internal/notification/domain"
	"gorm.io/gorm"
)

type repo struct{}

type senderRow struct {
	domain.UserSMTPCredential
	Host   string
	Port   int
	UseTLS bool
}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindSenderAccount(ctx context.Context, db *gorm.DB, userID string) (*domain.SenderAccount, error) {
	var row senderRow
	err := db.WithContext(ctx).Raw(
		`SELECT c.user_id, c.username, c.encrypted_password, c.from_address, c.from_name,
		        c.mail_server_profile_id, c.created_at, c.updated_at,
		        p.host AS host, p.port AS port, p.use_tls AS use_tls
		 FROM user_smtp_credentials c
		 JOIN mail_server_profiles p ON p.id = c.mail_server_profile_id
		 WHERE c.user_id = ?`,
		userID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.UserID == "" {
		return nil, nil
	}
	return &domain.SenderAccount{
		UserSMTPCredential: row.UserSMTPCredential,
		Host:               row.Host,
		Port:               row.Port,
		UseTLS:             row.UseTLS,
	}, nil
}
