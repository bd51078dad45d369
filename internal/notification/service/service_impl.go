package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/ordersync/internal/config"
	"github.com/smallbiznis/ordersync/internal/notification/domain"
	"github.com/smallbiznis/ordersync/internal/notification/templates"
	obslogger "github.com/smallbiznis/ordersync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ordersync/internal/observability/metrics"
	"github.com/smallbiznis/ordersync/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sendTimeout = 30 * time.Second

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	Repo        domain.Repository
	Factory     email.Factory
	Metrics     *obsmetrics.Metrics     `optional:"true"`
	SyncMetrics *obsmetrics.SyncMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	repo        domain.Repository
	factory     email.Factory
	fallback    config.SMTPConfig
	secretKey   *[32]byte
	metrics     *obsmetrics.Metrics
	syncMetrics *obsmetrics.SyncMetrics
}

func New(p Params) domain.Service {
	log := p.Log.Named("notification.service")
	key, err := parseSecretKey(p.Cfg.SMTP.SecretKey)
	if err != nil {
		log.Info("notification.secret_key.unset", zap.String("detail", "stored user smtp passwords cannot be decrypted"))
	}
	return &Service{
		db:          p.DB,
		log:         log,
		repo:        p.Repo,
		factory:     p.Factory,
		fallback:    p.Cfg.SMTP,
		secretKey:   key,
		metrics:     p.Metrics,
		syncMetrics: p.SyncMetrics,
	}
}

func (s *Service) NotifyAggregatedCompleted(ctx context.Context, summary domain.AggregatedSummary) bool {
	body, err := templates.Render(templates.AggregatedCompleted, aggregatedView(summary))
	if err != nil {
		s.fail(ctx, templates.AggregatedCompleted, summary.JobID, err)
		return false
	}
	subject := fmt.Sprintf("Order sync completed: %d successful, %d failed", summary.Successful, summary.Failed)
	return s.deliver(ctx, templates.AggregatedCompleted, summary.JobID, summary.UserID, summary.UserEmail, subject, body)
}

func (s *Service) NotifyDailyCompleted(ctx context.Context, summary domain.DailySummary) bool {
	body, err := templates.Render(templates.DailyCompleted, dailyView(summary))
	if err != nil {
		s.fail(ctx, templates.DailyCompleted, summary.JobID, err)
		return false
	}
	subject := fmt.Sprintf("Daily order sync %s to %s completed", summary.FromDate, summary.ToDate)
	return s.deliver(ctx, templates.DailyCompleted, summary.JobID, summary.UserID, summary.UserEmail, subject, body)
}

func (s *Service) deliver(ctx context.Context, template, jobID, userID, to, subject, body string) bool {
	log := obslogger.WithContext(ctx, s.log).With(zap.String("template", template), zap.String("job_id", jobID))
	to = strings.TrimSpace(to)
	if to == "" {
		log.Info("notification.email.skipped", zap.String("reason", "no_recipient"))
		return false
	}

	cfg, err := s.resolveSender(ctx, userID)
	if errors.Is(err, domain.ErrNoSender) {
		log.Info("notification.email.skipped", zap.String("reason", "no_sender"))
		return false
	}
	if err != nil {
		s.fail(ctx, template, jobID, err)
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.factory(cfg).Send(sendCtx, email.Message{
		To:       []string{to},
		Subject:  subject,
		HTMLBody: body,
	}); err != nil {
		s.fail(ctx, template, jobID, err)
		return false
	}

	s.metrics.RecordEmail(ctx, template, "sent")
	log.Info("notification.email.sent", zap.String("smtp_host", cfg.Host))
	return true
}

// resolveSender prefers the user's own mailbox and falls back to the service account.
func (s *Service) resolveSender(ctx context.Context, userID string) (email.Config, error) {
	if strings.TrimSpace(userID) != "" {
		account, err := s.repo.FindSenderAccount(ctx, s.db, userID)
		if err != nil {
			return email.Config{}, fmt.Errorf("load smtp credentials: %w", err)
		}
		if account != nil {
			if s.secretKey == nil {
				return email.Config{}, domain.ErrInvalidSecretKey
			}
			password, err := decryptPassword(s.secretKey, account.EncryptedPassword)
			if err != nil {
				return email.Config{}, err
			}
			from := account.FromAddress
			if from == "" {
				from = account.Username
			}
			return email.Config{
				Host:     account.Host,
				Port:     account.Port,
				Username: account.Username,
				Password: password,
				From:     from,
				FromName: account.FromName,
				UseTLS:   account.UseTLS,
			}, nil
		}
	}

	if !s.fallback.Configured() {
		return email.Config{}, domain.ErrNoSender
	}
	return email.Config{
		Host:     s.fallback.Host,
		Port:     s.fallback.Port,
		Username: s.fallback.Username,
		Password: s.fallback.Password,
		From:     s.fallback.From,
		UseTLS:   s.fallback.Port == 465,
	}, nil
}

func (s *Service) fail(ctx context.Context, template, jobID string, err error) {
	s.syncMetrics.IncEmailFailure(template)
	s.metrics.RecordEmail(ctx, template, "failed")
	obslogger.WithContext(ctx, s.log).Warn("notification.email.failed",
		zap.String("template", template),
		zap.String("job_id", jobID),
		zap.Error(err),
	)
}

type aggregatedTemplateData struct {
	domain.AggregatedSummary
	Duration string
}

func aggregatedView(summary domain.AggregatedSummary) aggregatedTemplateData {
	return aggregatedTemplateData{AggregatedSummary: summary, Duration: formatDuration(summary.Duration)}
}

type dailyTemplateData struct {
	domain.DailySummary
	Duration string
}

func dailyView(summary domain.DailySummary) dailyTemplateData {
	return dailyTemplateData{DailySummary: summary, Duration: formatDuration(summary.Duration)}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}
