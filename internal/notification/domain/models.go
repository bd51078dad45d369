package domain

import "time"

// MailServerProfile describes an outgoing mail server shared by many users.
type MailServerProfile struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	Host      string    `gorm:"column:host;not null" json:"host"`
	Port      int       `gorm:"column:port;not null" json:"port"`
	UseTLS    bool      `gorm:"column:use_tls;not null;default:false" json:"use_tls"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (MailServerProfile) TableName() string { return "mail_server_profiles" }

// UserSMTPCredential holds a user's mailbox login. The password is sealed with secretbox.
type UserSMTPCredential struct {
	UserID              string    `gorm:"column:user_id;primaryKey;type:varchar(64)" json:"user_id"`
	Username            string    `gorm:"column:username;not null" json:"username"`
	EncryptedPassword   string    `gorm:"column:encrypted_password;not null" json:"-"`
	FromAddress         string    `gorm:"column:from_address" json:"from_address"`
	FromName            string    `gorm:"column:from_name" json:"from_name"`
	MailServerProfileID int64     `gorm:"column:mail_server_profile_id;not null" json:"mail_server_profile_id"`
	CreatedAt           time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time `gorm:"not null" json:"updated_at"`
}

func (UserSMTPCredential) TableName() string { return "user_smtp_credentials" }

// SenderAccount is a credential joined with its mail server profile.
type SenderAccount struct {
	UserSMTPCredential
	Host   string
	Port   int
	UseTLS bool
}
