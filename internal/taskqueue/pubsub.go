package taskqueue

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ordersync/internal/config"
	obslogger "github.com/smallbiznis/ordersync/internal/observability/logger"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Publisher is the slice of *pubsub.Topic the queue needs.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
	Stop()
}

type topicPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func (p *topicPublisher) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	return p.topic.Publish(ctx, msg).Get(ctx)
}

func (p *topicPublisher) Stop() {
	p.topic.Stop()
	_ = p.client.Close()
}

// NewTopicPublisher opens a client with explicit credentials when given,
// otherwise Application Default Credentials.
func NewTopicPublisher(ctx context.Context, cfg config.TaskQueueConfig) (Publisher, error) {
	projectID := strings.TrimSpace(cfg.PubSubProjectID)
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	topicName := strings.TrimSpace(cfg.PubSubTopic)
	if topicName == "" {
		return nil, errors.New("PUBSUB_TOPIC is required")
	}

	var opts []option.ClientOption
	if cfg.PubSubCredJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.PubSubCredJSON)))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &topicPublisher{client: client, topic: client.Topic(topicName)}, nil
}

// PubSub publishes tasks to a topic whose push subscription targets PushHandler.
type PubSub struct {
	publisher Publisher
	log       *zap.Logger
}

func NewPubSub(publisher Publisher, log *zap.Logger) *PubSub {
	if log == nil {
		log = zap.NewNop()
	}
	return &PubSub{publisher: publisher, log: log.Named("taskqueue.pubsub")}
}

func (q *PubSub) Enqueue(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	task = stamp(ctx, task)
	if task.Delay > 0 {
		q.log.Info("taskqueue.delay.ignored",
			zap.String("kind", string(task.Kind)),
			zap.String("job_id", task.JobID),
			zap.Duration("delay", task.Delay),
		)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	id, err := q.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind":   string(task.Kind),
			"job_id": task.JobID,
		},
	})
	if err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	obslogger.WithContext(ctx, q.log).Debug("taskqueue.published", zap.String("message_id", id), zap.String("kind", string(task.Kind)))
	return nil
}

func (q *PubSub) Stop() {
	q.publisher.Stop()
}

type pushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PushHandler receives push deliveries. Malformed messages are acked with 204;
// handler errors return 500 so Pub/Sub redelivers.
func PushHandler(mux *Mux, token string, log *zap.Logger) gin.HandlerFunc {
	log = log.Named("taskqueue.push")
	return func(c *gin.Context) {
		if token != "" && subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(token)) != 1 {
			c.Status(http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var envelope pushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			log.Warn("taskqueue.push.invalid_envelope", zap.Error(err))
			c.Status(http.StatusNoContent)
			return
		}
		var task Task
		if err := json.Unmarshal(envelope.Message.Data, &task); err != nil || task.Validate() != nil {
			log.Warn("taskqueue.push.invalid_task", zap.String("message_id", envelope.Message.ID))
			c.Status(http.StatusNoContent)
			return
		}

		ctx := context.WithoutCancel(c.Request.Context())
		if err := mux.Dispatch(ctx, task); err != nil {
			if errors.Is(err, ErrUnknownKind) {
				log.Warn("taskqueue.push.unknown_kind", zap.String("kind", string(task.Kind)))
				c.Status(http.StatusNoContent)
				return
			}
			obslogger.WithContext(ctx, log).Error("taskqueue.push.failed",
				zap.String("message_id", envelope.Message.ID),
				zap.String("kind", string(task.Kind)),
				zap.String("job_id", task.JobID),
				zap.Error(err),
			)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
