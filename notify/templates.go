package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*
var templatesFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templatesFS, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templatesFS, "templates/*.txt"))
)

type actionMail struct {
	Name         string
	Intro        string
	Instructions string
	Button       string
	Link         string
	ExpiresIn    string
	Outro        string
}

const outro = "Need help, or have questions? Just reply to this email."

// VerificationMail renders the email verification message. resend selects the
// reminder wording.
func VerificationMail(to, name, link string, ttl time.Duration, resend bool) (Message, error) {
	m := actionMail{
		Name:         displayName(name, to),
		Intro:        "Welcome! We're excited to have you on board.",
		Instructions: "Confirm your email address to finish setting up your account:",
		Button:       "Verify your email",
		Link:         link,
		ExpiresIn:    humanDuration(ttl),
		Outro:        outro,
	}
	if resend {
		m.Intro = "Here is a fresh link to verify your email. Earlier links no longer work."
	}
	return render(to, "Verify your email", m)
}

// PasswordResetMail renders the password reset message.
func PasswordResetMail(to, name, link string, ttl time.Duration) (Message, error) {
	return render(to, "Reset your password", actionMail{
		Name:         displayName(name, to),
		Intro:        "We received a request to reset your password. If it wasn't you, ignore this email.",
		Instructions: "Choose a new password here:",
		Button:       "Reset your password",
		Link:         link,
		ExpiresIn:    humanDuration(ttl),
		Outro:        outro,
	})
}

func render(to, subject string, m actionMail) (Message, error) {
	var text, html bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, "action.txt", m); err != nil {
		return Message{}, fmt.Errorf("notify: render text: %w", err)
	}
	if err := htmlTemplates.ExecuteTemplate(&html, "action.html", m); err != nil {
		return Message{}, fmt.Errorf("notify: render html: %w", err)
	}
	return Message{To: to, Subject: subject, Text: text.String(), HTML: html.String()}, nil
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	return email
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
