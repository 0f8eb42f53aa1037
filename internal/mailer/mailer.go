// Package mailer delivers the composed report by SMTP.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-report/internal/models"
	"github.com/kjstillabower/weather-report/internal/observability"
)

const (
	DefaultHost = "smtp.gmail.com"
	DefaultPort = 587

	// AttachmentName is the filename recipients see regardless of the local path.
	AttachmentName = "weather_report.mp3"
)

var (
	ErrMissingCredentials = errors.New("missing email credentials")
	ErrAuthentication     = errors.New("smtp authentication failed")
	ErrDelivery           = errors.New("email delivery failed")
)

var validate = validator.New()

type Config struct {
	Host       string
	Port       int
	Sender     string `validate:"required"`
	Password   string `validate:"required"`
	Recipient  string `validate:"required"`
	Timeout    time.Duration
	// RequireTLS fails delivery when the server does not offer STARTTLS.
	// Otherwise the session upgrades when offered and stays plaintext when not.
	RequireTLS bool
	// TLSConfig overrides certificate verification for STARTTLS. Nil uses the
	// system roots with Host as server name.
	TLSConfig *tls.Config
}

// Notifier sends one report email per call. It holds no connection between
// calls.
type Notifier struct {
	cfg    Config
	logger *zap.Logger
}

func NewNotifier(cfg Config, logger *zap.Logger) *Notifier {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Sender = strings.TrimSpace(cfg.Sender)
	cfg.Recipient = strings.TrimSpace(cfg.Recipient)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{cfg: cfg, logger: logger}
}

// Send builds the message for rep, attaching audioPath when it names a
// readable file, and submits it. Missing credentials fail before any network
// activity. An unreadable attachment is logged and the email goes out without
// it.
func (n *Notifier) Send(ctx context.Context, rep models.Report, audioPath string) error {
	if err := n.checkCredentials(); err != nil {
		observability.EmailDeliveriesTotal.WithLabelValues(string(OutcomeMissingCredentials)).Inc()
		return err
	}

	msg, err := n.buildMessage(ctx, rep, audioPath)
	if err != nil {
		observability.EmailDeliveriesTotal.WithLabelValues(string(OutcomeDeliveryFailed)).Inc()
		return fmt.Errorf("%w: build message: %v", ErrDelivery, err)
	}

	client, err := n.newClient()
	if err != nil {
		observability.EmailDeliveriesTotal.WithLabelValues(string(OutcomeDeliveryFailed)).Inc()
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	n.logger.Info("connecting to SMTP server",
		zap.String("host", n.cfg.Host),
		zap.Int("port", n.cfg.Port),
	)

	sendCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	if err := client.DialAndSendWithContext(sendCtx, msg); err != nil {
		outcome := Classify(err)
		observability.EmailDeliveriesTotal.WithLabelValues(string(outcome)).Inc()
		if outcome == OutcomeAuthFailed {
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	observability.EmailDeliveriesTotal.WithLabelValues(string(OutcomeSent)).Inc()
	n.logger.Info("email sent", zap.String("recipient", n.cfg.Recipient))
	return nil
}

func (n *Notifier) checkCredentials() error {
	err := validate.Struct(n.cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		missing := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			missing = append(missing, strings.ToLower(fe.Field()))
		}
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return fmt.Errorf("%w: %v", ErrMissingCredentials, err)
}

func (n *Notifier) buildMessage(ctx context.Context, rep models.Report, audioPath string) (*mail.Msg, error) {
	msg := mail.NewMsg(mail.WithCharset(mail.CharsetUTF8))
	if err := msg.From(n.cfg.Sender); err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	if err := msg.To(n.cfg.Recipient); err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	msg.Subject(rep.Subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, rep.Body)

	if runID := observability.RunIDFromContext(ctx); runID != "" {
		msg.SetGenHeader(mail.Header("X-Run-ID"), runID)
	}

	if audioPath != "" {
		n.attach(msg, audioPath)
	}
	return msg, nil
}

func (n *Notifier) attach(msg *mail.Msg, audioPath string) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			n.logger.Warn("audio file not found, sending without attachment", zap.String("path", audioPath))
		} else {
			n.logger.Warn("audio file unreadable, sending without attachment",
				zap.String("path", audioPath),
				zap.Error(err),
			)
		}
		return
	}

	if err := msg.AttachReader(AttachmentName, bytes.NewReader(data),
		mail.WithFileContentType(mail.ContentType("audio/mpeg")),
	); err != nil {
		n.logger.Warn("failed to attach audio file", zap.String("path", audioPath), zap.Error(err))
		return
	}
	n.logger.Info("attached audio file", zap.String("filename", AttachmentName), zap.Int("bytes", len(data)))
}

func (n *Notifier) newClient() (*mail.Client, error) {
	policy := mail.TLSOpportunistic
	if n.cfg.RequireTLS {
		policy = mail.TLSMandatory
	}
	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.Sender),
		mail.WithPassword(n.cfg.Password),
		mail.WithTLSPolicy(policy),
		mail.WithTimeout(n.cfg.Timeout),
	}
	if n.cfg.TLSConfig != nil {
		tlsConfig := n.cfg.TLSConfig.Clone()
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = n.cfg.Host
		}
		opts = append(opts, mail.WithTLSConfig(tlsConfig))
	}
	return mail.NewClient(n.cfg.Host, opts...)
}
