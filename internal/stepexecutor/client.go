package stepexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smallbiznis/ordersync/internal/config"
	obsmetrics "github.com/smallbiznis/ordersync/internal/observability/metrics"
	"github.com/smallbiznis/ordersync/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const DefaultTimeout = 60 * time.Second

var ErrNotConfigured = errors.New("step executor url is not configured")

type request struct {
	Step             string            `json:"step"`
	Transactions     []TransactionLine `json:"transactions"`
	NonStockProducts []TransactionLine `json:"nonStockProducts"`
}

type Params struct {
	fx.In

	Cfg         config.Config
	Log         *zap.Logger
	Metrics     *obsmetrics.Metrics     `optional:"true"`
	SyncMetrics *obsmetrics.SyncMetrics `optional:"true"`
}

type Client struct {
	http        *resty.Client
	url         string
	timeout     time.Duration
	log         *zap.Logger
	metrics     *obsmetrics.Metrics
	syncMetrics *obsmetrics.SyncMetrics
}

func New(p Params) *Client {
	return NewClient(p.Cfg.StepExecutor, p.Log, p.Metrics, p.SyncMetrics)
}

func NewClient(cfg config.StepExecutorConfig, log *zap.Logger, metrics *obsmetrics.Metrics, syncMetrics *obsmetrics.SyncMetrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	httpClient := resty.NewWithClient(tracing.WrapHTTPClient(&http.Client{})).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return isDialError(err)
			}
			return resp != nil && resp.StatusCode() == http.StatusTooManyRequests
		})

	if token := strings.TrimSpace(cfg.Token); token != "" {
		httpClient.SetAuthScheme("Bearer")
		httpClient.SetAuthToken(token)
	}

	return &Client{
		http:        httpClient,
		url:         strings.TrimSpace(cfg.URL),
		timeout:     timeout,
		log:         log.Named("stepexecutor"),
		metrics:     metrics,
		syncMetrics: syncMetrics,
	}
}

// Execute performs one step call bounded by the client timeout. It never
// returns an error: every outcome is folded into Result.
func (c *Client) Execute(ctx context.Context, step string, transactions, nonStock []TransactionLine) Result {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "stepexecutor.execute", attribute.String("ordersync.step", step))
	defer span.End()

	result := c.execute(ctx, step, transactions, nonStock)
	result.Duration = time.Since(start)

	outcome := "success"
	switch {
	case result.Skipped:
		outcome = "skipped"
	case !result.Success:
		outcome = "failed"
		span.SetStatus(codes.Error, result.Message)
		c.log.Warn("stepexecutor.step.failed",
			zap.String("step", step),
			zap.Int("lines", len(transactions)),
			zap.String("message", result.Message),
		)
	}
	c.syncMetrics.ObserveStep(step, result.Duration, !result.Success)
	c.metrics.RecordStepCall(ctx, step, outcome)
	return result
}

func (c *Client) execute(ctx context.Context, step string, transactions, nonStock []TransactionLine) Result {
	if c.url == "" {
		return Result{Message: ErrNotConfigured.Error()}
	}
	if transactions == nil {
		transactions = []TransactionLine{}
	}
	if nonStock == nil {
		nonStock = []TransactionLine{}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(callCtx).
		SetBody(request{Step: step, Transactions: transactions, NonStockProducts: nonStock}).
		Post(c.url)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			return Result{Message: fmt.Sprintf("step %s timed out after %s", step, c.timeout)}
		}
		if errors.Is(err, context.Canceled) {
			return Result{Message: fmt.Sprintf("step %s cancelled", step)}
		}
		return Result{Message: fmt.Sprintf("step %s request failed: %v", step, tracing.SafeError(err))}
	}

	return Interpret(step, resp.StatusCode(), resp.Body())
}

// Interpret normalises a step endpoint response. Skipped wins over success,
// success requires an explicit flag on a 2xx response, anything else is a
// failure with the most specific message found in the body.
func Interpret(step string, status int, body []byte) Result {
	var payload map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			payload = nil
		}
	}

	if flag(payload, "skipped") {
		return Result{Success: true, Skipped: true, Message: stringField(payload, "message")}
	}
	if status >= 200 && status < 300 && flag(payload, "success") {
		return Result{Success: true, Message: stringField(payload, "message")}
	}

	if msg := errorMessage(payload["error"]); msg != "" {
		return Result{Message: msg}
	}
	if msg := stringField(payload, "message"); msg != "" {
		return Result{Message: msg}
	}
	if status >= 300 {
		return Result{Message: fmt.Sprintf("step %s failed with status %d", step, status)}
	}
	return Result{Message: fmt.Sprintf("step %s failed", step)}
}

// errorMessage digs through string, {message}, {error} and {error:{message}} shapes.
func errorMessage(v any) string {
	switch e := v.(type) {
	case string:
		return strings.TrimSpace(e)
	case map[string]any:
		if msg, ok := e["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
		if nested, ok := e["error"]; ok {
			return errorMessage(nested)
		}
		if details, ok := e["details"].(string); ok {
			return strings.TrimSpace(details)
		}
	}
	return ""
}

func flag(payload map[string]any, key string) bool {
	v, ok := payload[key].(bool)
	return ok && v
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return strings.TrimSpace(v)
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
