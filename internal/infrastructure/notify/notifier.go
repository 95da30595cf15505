package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/tracing"
)

// Payload is the webhook body announcing a captured token
type Payload struct {
	UserID      int64  `json:"user_id"`
	SessionID   string `json:"session_id"`
	AccessToken string `json:"access_token"`
	ExpiresIn   *int   `json:"expires_in,omitempty"`
}

// Config tunes webhook delivery
type Config struct {
	URL          string
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Breaker      resilience.Settings
}

// DefaultConfig returns delivery settings for url
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
	}
}

// Notifier posts captured tokens to a webhook
type Notifier struct {
	url     string
	client  *resty.Client
	breaker *resilience.Breaker
	logger  *zap.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a notifier. Retries happen in the retryablehttp transport;
// the breaker sees one outcome per delivery.
func New(cfg Config, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig(cfg.URL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = def.RetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = def.RetryWaitMax
	}
	logger = logger.Named("notify")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.HTTPClient.Timeout = cfg.Timeout
	retryClient.Logger = retryLogger{logger.Sugar()}

	// Covers every attempt plus the waits between them
	budget := cfg.Timeout*time.Duration(cfg.MaxRetries+1) + cfg.RetryWaitMax*time.Duration(cfg.MaxRetries)

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(budget).
		SetHeader("User-Agent", "AuthStream-Webhook/1.0").
		SetHeader("Content-Type", "application/json")
	client.JSONMarshal = sonic.Marshal
	client.JSONUnmarshal = sonic.Unmarshal

	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		url:     cfg.URL,
		client:  client,
		breaker: resilience.New("token-webhook", cfg.Breaker),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// WithMetrics records delivery outcomes
func (n *Notifier) WithMetrics(metrics *monitoring.Metrics) *Notifier {
	n.metrics = metrics
	return n
}

// WithTracer traces deliveries and propagates the trace headers
func (n *Notifier) WithTracer(tracer *tracing.Tracer) *Notifier {
	n.tracer = tracer
	return n
}

// Deliver posts p and waits for the outcome
func (n *Notifier) Deliver(ctx context.Context, p Payload) error {
	var span *tracing.Span
	if n.tracer != nil {
		span, ctx = n.tracer.StartSpan(ctx, "webhook.deliver")
		span.SetTag("session_id", p.SessionID)
		defer func() {
			span.Finish()
			n.tracer.Submit(span)
		}()
	}

	err := n.breaker.Execute(func() error {
		headers := map[string]string{}
		tracing.InjectTraceContext(ctx, headers)

		resp, err := n.client.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(p).
			Post(n.url)
		if err != nil {
			return err
		}
		if span != nil {
			span.SetStatus(resp.StatusCode())
		}
		if resp.IsError() {
			return fmt.Errorf("webhook responded %s", resp.Status())
		}
		return nil
	})

	switch {
	case err == nil:
		n.metrics.RecordWebhook("success")
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		n.metrics.RecordWebhook("rejected")
	default:
		n.metrics.RecordWebhook("error")
	}
	if err != nil && span != nil {
		span.SetError(err)
	}
	return err
}

// Notify delivers p in the background. Failures are logged only.
func (n *Notifier) Notify(p Payload) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		if err := n.Deliver(n.ctx, p); err != nil {
			n.logger.Warn("Token webhook failed",
				zap.Int64("user_id", p.UserID),
				zap.String("session_id", p.SessionID),
				zap.Error(err))
			return
		}
		n.logger.Info("Token webhook delivered",
			zap.Int64("user_id", p.UserID),
			zap.String("session_id", p.SessionID))
	}()
}

// Close cancels pending deliveries and waits for them to return
func (n *Notifier) Close() {
	n.cancel()
	n.wg.Wait()
}

// retryLogger adapts zap to retryablehttp.LeveledLogger
type retryLogger struct {
	*zap.SugaredLogger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.Errorw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.Warnw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.Debugw(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.Debugw(msg, kv...) }
