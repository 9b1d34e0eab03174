package users

import (
	"context"
	"log/slog"
)

// Mailer delivers verification and password reset codes.
type Mailer interface {
	SendVerification(ctx context.Context, to, code, college string) error
	SendPasswordReset(ctx context.Context, to, code, college string) error
}

// LogMailer writes codes to the log instead of sending mail, for local runs.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendVerification(ctx context.Context, to, code, college string) error {
	m.Logger.InfoContext(ctx, "verification code issued", "to", to, "college", college, "code", code)
	return nil
}

func (m LogMailer) SendPasswordReset(ctx context.Context, to, code, college string) error {
	m.Logger.InfoContext(ctx, "password reset code issued", "to", to, "college", college, "code", code)
	return nil
}
