package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// EmailOptions configure the SMTP relay.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	StartTLS bool
	Timeout  time.Duration
}

// EmailNotifier sends plain-text alerts over SMTP.
type EmailNotifier struct {
	opts   EmailOptions
	logger zerolog.Logger
}

// NewEmailNotifier validates options and constructs an email notifier.
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) (*EmailNotifier, error) {
	if opts.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if opts.From == "" || len(opts.To) == 0 {
		return nil, errors.New("email sender and recipients are required")
	}
	if opts.Port <= 0 {
		opts.Port = 587
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &EmailNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "alert_email").Logger(),
	}, nil
}

// Notify renders the message and delivers it in a single SMTP session.
func (n *EmailNotifier) Notify(ctx context.Context, note Notification) error {
	msg, err := n.buildMessage(note)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(n.opts.Host, n.clientOptions()...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Debug().Strs("to", n.opts.To).Msg("email delivered")
	return nil
}

func (n *EmailNotifier) buildMessage(note Notification) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.opts.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", n.opts.From, err)
	}
	if err := msg.To(n.opts.To...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(RenderSubject(note))
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, RenderMessage(note))
	return msg, nil
}

func (n *EmailNotifier) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(n.opts.Port),
		mail.WithTimeout(n.opts.Timeout),
	}
	if n.opts.StartTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if n.opts.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.opts.Username),
			mail.WithPassword(n.opts.Password),
		)
	}
	return opts
}

var _ Notifier = (*EmailNotifier)(nil)
