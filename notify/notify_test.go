package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestActionLinks(t *testing.T) {
	if got := VerifyEmailLink("https://app.test/", "a+b"); got != "https://app.test/verify-email?token=a%2Bb" {
		t.Fatalf("VerifyEmailLink() = %q", got)
	}
	if got := ResetPasswordLink("https://app.test", "tok"); got != "https://app.test/reset-password?token=tok" {
		t.Fatalf("ResetPasswordLink() = %q", got)
	}
}

func TestVerificationMail(t *testing.T) {
	link := VerifyEmailLink("https://app.test", "tok")
	msg, err := VerificationMail("alice@x.test", "Alice", link, 20*time.Minute, false)
	if err != nil {
		t.Fatalf("VerificationMail() error = %v", err)
	}
	if msg.To != "alice@x.test" || msg.Subject != "Verify your email" {
		t.Fatalf("unexpected headers: %+v", msg)
	}
	for _, part := range []string{msg.Text, msg.HTML} {
		if !strings.Contains(part, "Alice") || !strings.Contains(part, "20 minutes") {
			t.Fatalf("body missing name or expiry: %q", part)
		}
	}
	if !strings.Contains(msg.Text, link) {
		t.Fatalf("text body missing link: %q", msg.Text)
	}
	if !strings.Contains(msg.HTML, `href="https://app.test/verify-email?token=tok"`) {
		t.Fatalf("html body missing link: %q", msg.HTML)
	}

	resend, err := VerificationMail("alice@x.test", "", link, time.Hour, true)
	if err != nil {
		t.Fatalf("VerificationMail(resend) error = %v", err)
	}
	if !strings.Contains(resend.Text, "fresh link") || !strings.Contains(resend.Text, "Hi alice@x.test") {
		t.Fatalf("resend wording missing: %q", resend.Text)
	}
}

func TestPasswordResetMailEscapesHTML(t *testing.T) {
	msg, err := PasswordResetMail("bob@x.test", "<script>", "https://app.test/reset-password?token=t", 20*time.Minute)
	if err != nil {
		t.Fatalf("PasswordResetMail() error = %v", err)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Fatalf("html body must escape the name: %q", msg.HTML)
	}
	if msg.Subject != "Reset your password" {
		t.Fatalf("Subject = %q", msg.Subject)
	}
}

func TestLogChannel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ch := NewLogChannel(zap.New(core))

	if err := ch.Send(context.Background(), Message{To: "a@x.test", Subject: "s", Text: "t"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	entries := logs.FilterMessage("mail").All()
	if len(entries) != 1 || entries[0].ContextMap()["to"] != "a@x.test" {
		t.Fatalf("unexpected log entries: %+v", entries)
	}
	if err := ch.Send(context.Background(), Message{}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("Send(empty) error = %v, want ErrNoRecipient", err)
	}
}

func TestChannelFunc(t *testing.T) {
	var got Message
	ch := ChannelFunc(func(_ context.Context, msg Message) error {
		got = msg
		return nil
	})
	if err := ch.Send(context.Background(), Message{To: "x"}); err != nil || got.To != "x" {
		t.Fatalf("ChannelFunc did not forward: %+v %v", got, err)
	}
}

func TestHumanDuration(t *testing.T) {
	cases := map[time.Duration]string{
		20 * time.Minute: "20 minutes",
		time.Hour:        "1 hour",
		2 * time.Hour:    "2 hours",
		90 * time.Minute: "90 minutes",
		30 * time.Second: "30 seconds",
		0:                "a short while",
	}
	for d, want := range cases {
		if got := humanDuration(d); got != want {
			t.Fatalf("humanDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
