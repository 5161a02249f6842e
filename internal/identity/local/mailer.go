package local

import (
	"context"
	"log/slog"
)

// Mailer delivers one-time verification codes.
type Mailer interface {
	SendCode(ctx context.Context, email, code string) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, email, code string) error

func (f MailerFunc) SendCode(ctx context.Context, email, code string) error {
	return f(ctx, email, code)
}

// LogMailer writes codes to the log instead of sending email. It is meant for
// local development only.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendCode(ctx context.Context, email, code string) error {
	l := m.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "verification code issued", "email", email, "code", code)
	return nil
}
