// Package notify renders and delivers account mail: email verification and
// password reset links.
//
// Delivery is best effort. Callers treat a Send error as a degraded outcome,
// never as a failure of the operation that produced the message.
package notify

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// ErrNoRecipient is returned for messages without a To address.
var ErrNoRecipient = errors.New("notify: message has no recipient")

// Message is a rendered mail.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Channel delivers messages.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, msg Message) error

func (f ChannelFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogChannel writes messages to a zap logger instead of sending them. It is the
// default channel and is meant for development.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel returns a LogChannel. A nil logger discards everything.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger.Named("notify")}
}

func (c *LogChannel) Send(_ context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}
	c.logger.Info("mail",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return nil
}

// VerifyEmailLink returns "{baseURL}/verify-email?token={token}".
func VerifyEmailLink(baseURL, token string) string {
	return actionLink(baseURL, "verify-email", token)
}

// ResetPasswordLink returns "{baseURL}/reset-password?token={token}".
func ResetPasswordLink(baseURL, token string) string {
	return actionLink(baseURL, "reset-password", token)
}

func actionLink(baseURL, path, token string) string {
	return strings.TrimRight(baseURL, "/") + "/" + path + "?token=" + url.QueryEscape(token)
}
