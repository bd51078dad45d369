package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/ordersync/internal/config"
	"github.com/smallbiznis/ordersync/internal/notification/domain"
	"github.com/smallbiznis/ordersync/internal/notification/repository"
	"github.com/smallbiznis/ordersync/internal/providers/email"
	"github.com/smallbiznis/ordersync/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type capturingProvider struct {
	configs  []email.Config
	messages []email.Message
	err      error
}

func (p *capturingProvider) factory() email.Factory {
	return func(cfg email.Config) email.Provider {
		p.configs = append(p.configs, cfg)
		return p
	}
}

func (p *capturingProvider) Send(ctx context.Context, msg email.Message) error {
	p.messages = append(p.messages, msg)
	return p.err
}

func newTestKey(t *testing.T) (*[32]byte, string) {
	t.Helper()
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	return &key, base64.StdEncoding.EncodeToString(key[:])
}

func newTestService(t *testing.T, conn *gorm.DB, smtp config.SMTPConfig, provider *capturingProvider) domain.Service {
	t.Helper()
	return New(Params{
		DB:      conn,
		Log:     zaptest.NewLogger(t),
		Cfg:     config.Config{SMTP: smtp},
		Repo:    repository.Provide(),
		Factory: provider.factory(),
	})
}

func seedCredential(t *testing.T, conn *gorm.DB, key *[32]byte, userID, password string) {
	t.Helper()
	profile := domain.MailServerProfile{Name: "office", Host: "mail.example.test", Port: 465, UseTLS: true}
	require.NoError(t, conn.Create(&profile).Error)

	var nonce [nonceSize]byte
	_, err := rand.Read(nonce[:])
	require.NoError(t, err)
	require.NoError(t, conn.Create(&domain.UserSMTPCredential{
		UserID:              userID,
		Username:            "ops@example.test",
		EncryptedPassword:   sealPassword(key, nonce, password),
		FromAddress:         "ops@example.test",
		FromName:            "Ops",
		MailServerProfileID: profile.ID,
	}).Error)
}

func TestSecretRoundTrip(t *testing.T) {
	key, encoded := newTestKey(t)
	parsed, err := parseSecretKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, *key, *parsed)

	var nonce [nonceSize]byte
	sealed := sealPassword(key, nonce, "hunter2")
	plain, err := decryptPassword(parsed, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	_, err = decryptPassword(parsed, base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, domain.ErrInvalidCiphertext)

	_, err = parseSecretKey("too-short")
	assert.ErrorIs(t, err, domain.ErrInvalidSecretKey)
}

func TestNotifyUsesUserCredentials(t *testing.T) {
	conn := dbtest.Open(t)
	key, encoded := newTestKey(t)
	seedCredential(t, conn, key, "user-1", "s3cret")

	provider := &capturingProvider{}
	svc := newTestService(t, conn, config.SMTPConfig{SecretKey: encoded}, provider)

	ok := svc.NotifyAggregatedCompleted(context.Background(), domain.AggregatedSummary{
		JobID:      "job-1",
		UserID:     "user-1",
		UserEmail:  "owner@example.test",
		UserName:   "Owner",
		FromDate:   "2025-01-01",
		ToDate:     "2025-01-01",
		Total:      3,
		Processed:  3,
		Successful: 2,
		Failed:     1,
		Duration:   90 * time.Second,
		FailedItems: []domain.FailedInvoice{
			{InvoiceNumber: "202501010002", Orders: "A3", Error: "customer not found"},
		},
	})
	require.True(t, ok)

	require.Len(t, provider.configs, 1)
	cfg := provider.configs[0]
	assert.Equal(t, "mail.example.test", cfg.Host)
	assert.Equal(t, 465, cfg.Port)
	assert.Equal(t, "s3cret", cfg.Password)
	assert.True(t, cfg.UseTLS)

	require.Len(t, provider.messages, 1)
	msg := provider.messages[0]
	assert.Equal(t, []string{"owner@example.test"}, msg.To)
	assert.Contains(t, msg.Subject, "2 successful")
	assert.Contains(t, msg.HTMLBody, "202501010002")
	assert.Contains(t, msg.HTMLBody, "customer not found")
	assert.Contains(t, msg.HTMLBody, "1m30s")
}

func TestNotifyFallsBackToServiceAccount(t *testing.T) {
	conn := dbtest.Open(t)
	provider := &capturingProvider{}
	svc := newTestService(t, conn, config.SMTPConfig{
		Host: "relay.example.test",
		Port: 587,
		From: "noreply@example.test",
	}, provider)

	ok := svc.NotifyDailyCompleted(context.Background(), domain.DailySummary{
		JobID:     "daily-1",
		UserID:    "user-without-credentials",
		UserEmail: "owner@example.test",
		FromDate:  "2025-01-01",
		ToDate:    "2025-01-02",
		Days: []domain.DaySummary{
			{Date: "2025-01-01", Status: "completed", Total: 4, Successful: 4},
			{Date: "2025-01-02", Status: "failed", Total: 1, Failed: 1},
		},
	})
	require.True(t, ok)
	require.Len(t, provider.configs, 1)
	assert.Equal(t, "relay.example.test", provider.configs[0].Host)
	assert.False(t, provider.configs[0].UseTLS)
	assert.Contains(t, provider.messages[0].HTMLBody, "2025-01-02")
}

func TestNotifySkipsWithoutSender(t *testing.T) {
	conn := dbtest.Open(t)
	provider := &capturingProvider{}
	svc := newTestService(t, conn, config.SMTPConfig{}, provider)

	ok := svc.NotifyAggregatedCompleted(context.Background(), domain.AggregatedSummary{
		JobID:     "job-1",
		UserID:    "user-1",
		UserEmail: "owner@example.test",
	})
	assert.False(t, ok)
	assert.Empty(t, provider.messages)
}

func TestNotifySkipsWithoutRecipient(t *testing.T) {
	conn := dbtest.Open(t)
	provider := &capturingProvider{}
	svc := newTestService(t, conn, config.SMTPConfig{Host: "relay.example.test", Port: 25}, provider)

	assert.False(t, svc.NotifyAggregatedCompleted(context.Background(), domain.AggregatedSummary{JobID: "job-1"}))
	assert.Empty(t, provider.configs)
}

func TestNotifyReportsSendFailure(t *testing.T) {
	conn := dbtest.Open(t)
	provider := &capturingProvider{err: errors.New("connection refused")}
	svc := newTestService(t, conn, config.SMTPConfig{Host: "relay.example.test", Port: 25}, provider)

	ok := svc.NotifyAggregatedCompleted(context.Background(), domain.AggregatedSummary{
		JobID:     "job-1",
		UserEmail: "owner@example.test",
	})
	assert.False(t, ok)
	assert.Len(t, provider.messages, 1)
}
