package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wneessen/go-mail"
)

const (
	subjectSucceeded = "[🎵 NEW] File Upload Successful"
	subjectFailed    = "[🎵 ERROR] File Upload Failed"
)

// EmailConfig holds SMTP settings. The server is reached over implicit TLS.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	To       string
}

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailNotifier mails each event with the uploaded score attached.
type EmailNotifier struct {
	from   string
	to     string
	sender mailSender
}

// NewEmailNotifier builds an SMTP client for cfg.
func NewEmailNotifier(cfg EmailConfig) (*EmailNotifier, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}
	return &EmailNotifier{from: cfg.Username, to: cfg.To, sender: client}, nil
}

// Notify implements Notifier.
func (e *EmailNotifier) Notify(ctx context.Context, ev Event) error {
	msg, err := e.message(ev)
	if err != nil {
		return err
	}
	if err := e.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (e *EmailNotifier) message(ev Event) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.from); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(e.to); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(Subject(ev))
	msg.SetBodyString(mail.TypeTextPlain, Body(ev))

	if ev.UploadPath != "" {
		if _, err := os.Stat(ev.UploadPath); err == nil {
			msg.AttachFile(ev.UploadPath, mail.WithFileName(filepath.Base(ev.UploadPath)))
		}
	}
	return msg, nil
}

// Subject returns the mail subject for ev.
func Subject(ev Event) string {
	if ev.Status == StatusSucceeded {
		return subjectSucceeded
	}
	return subjectFailed
}

// Body returns the plain text mail body for ev.
func Body(ev Event) string {
	if ev.Status == StatusSucceeded {
		return fmt.Sprintf("The file '%s' was uploaded and processed successfully. MIDI file: %s", ev.Filename, ev.MIDIFilename)
	}
	return fmt.Sprintf("The file '%s' could not be converted (%s).\n\n%s\n\nUpload ID: %s", ev.Filename, ev.Kind, ev.Message, ev.Token)
}
