package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/CodingButter/braidarr/pkg/kafka"
	"github.com/CodingButter/braidarr/pkg/logger"
)

// Kafka topic constants for security events.
const (
	TopicLoginSucceeded     = "braidarr.auth.login_succeeded"
	TopicLoginFailed        = "braidarr.auth.login_failed"
	TopicTokensRefreshed    = "braidarr.auth.tokens_refreshed"
	TopicTokenReuseDetected = "braidarr.auth.token_reuse_detected"
	TopicPasswordChanged    = "braidarr.auth.password_changed"
	TopicAPIKeyRejected     = "braidarr.auth.api_key_rejected"
)

// Source identifier for events originating from this service.
const SourceBraidarr = "braidarr"

// LoginSucceededData is the payload for a login_succeeded event.
type LoginSucceededData struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	IPAddress string `json:"ip_address"`
}

// LoginFailedData is the payload for a login_failed event. UserID is empty
// when the email did not match an account.
type LoginFailedData struct {
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email"`
	IPAddress string `json:"ip_address"`
	Reason    string `json:"reason"`
}

// TokensRefreshedData is the payload for a tokens_refreshed event.
type TokensRefreshedData struct {
	UserID    string `json:"user_id"`
	IPAddress string `json:"ip_address"`
}

// TokenReuseDetectedData is the payload for a token_reuse_detected event,
// emitted when an already-consumed refresh token is presented again.
type TokenReuseDetectedData struct {
	UserID    string `json:"user_id"`
	TokenID   string `json:"token_id"`
	IPAddress string `json:"ip_address"`
}

// PasswordChangedData is the payload for a password_changed event.
type PasswordChangedData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// APIKeyRejectedData is the payload for an api_key_rejected event.
type APIKeyRejectedData struct {
	KeyPrefix string `json:"key_prefix"`
	IPAddress string `json:"ip_address"`
	Reason    string `json:"reason"`
}

// Producer publishes security events to Kafka. A Producer constructed with a
// nil Kafka producer is a no-op, so event publishing can be disabled without
// branching at every call site. Publishing is best-effort: failures are
// logged and never surfaced to the request path.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new security event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// LoginSucceeded publishes a login_succeeded event.
func (p *Producer) LoginSucceeded(ctx context.Context, data LoginSucceededData) {
	p.publish(ctx, TopicLoginSucceeded, data.UserID, data)
}

// LoginFailed publishes a login_failed event.
func (p *Producer) LoginFailed(ctx context.Context, data LoginFailedData) {
	p.publish(ctx, TopicLoginFailed, data.UserID, data)
}

// TokensRefreshed publishes a tokens_refreshed event.
func (p *Producer) TokensRefreshed(ctx context.Context, data TokensRefreshedData) {
	p.publish(ctx, TopicTokensRefreshed, data.UserID, data)
}

// TokenReuseDetected publishes a token_reuse_detected event.
func (p *Producer) TokenReuseDetected(ctx context.Context, data TokenReuseDetectedData) {
	p.publish(ctx, TopicTokenReuseDetected, data.UserID, data)
}

// PasswordChanged publishes a password_changed event.
func (p *Producer) PasswordChanged(ctx context.Context, data PasswordChangedData) {
	p.publish(ctx, TopicPasswordChanged, data.UserID, data)
}

// APIKeyRejected publishes an api_key_rejected event, keyed by the key prefix
// since no user is established at rejection time.
func (p *Producer) APIKeyRejected(ctx context.Context, data APIKeyRejectedData) {
	p.publish(ctx, TopicAPIKeyRejected, data.KeyPrefix, data)
}

func (p *Producer) publish(ctx context.Context, topic, key string, data any) {
	if p == nil || p.kafka == nil {
		return
	}

	ev, err := pkgkafka.NewEvent(topic, key, SourceBraidarr, data)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build security event",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return
	}

	if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
		ev.WithCorrelationID(cid)
	}

	if err := p.kafka.Publish(ctx, topic, ev); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish security event",
			slog.String("topic", topic),
			slog.String("error", fmt.Sprintf("%v", err)),
		)
	}
}
