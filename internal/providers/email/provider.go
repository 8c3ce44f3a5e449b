// Package email delivers finished invoice documents to their owners.
package email

import (
	"context"
	"errors"

	"github.com/smallbiznis/feedlink/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

var ErrNoRecipient = errors.New("email_no_recipient")

// Attachment is a file carried by a document email.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Provider delivers a single document to one recipient.
type Provider interface {
	SendDocument(ctx context.Context, to, subject, body string, attachment Attachment) error
}

// NewFromConfig returns the SMTP provider, or a logging no-op when SMTP_HOST is unset.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.SMTP.Host == "" {
		return &NoOpProvider{log: log.Named("email.noop")}
	}
	return NewSMTP(Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
}

type NoOpProvider struct {
	log *zap.Logger
}

func (p *NoOpProvider) SendDocument(_ context.Context, to, subject, _ string, attachment Attachment) error {
	if p.log != nil {
		p.log.Debug("email.skipped",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.String("attachment", attachment.Filename),
		)
	}
	return nil
}
