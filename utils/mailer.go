package utils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"outreach/models"
)

const (
	TransportSimulated = "simulated"
	TransportSMTP      = "smtp"

	smtpMaxAttempts = 3
)

// Message is one outbound email ready for delivery.
type Message struct {
	Account   *models.EmailAccount
	To        string
	Subject   string
	Body      string
	MessageID string
}

// SendResult is the delivery outcome. Error is set when Success is false.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	Error             string
}

// EmailTransport delivers a message. Failures are reported in the result,
// never as a panic.
type EmailTransport interface {
	Send(ctx context.Context, msg Message) SendResult
}

// NewMessageID returns a globally unique Message-Id scoped to the sending domain.
func NewMessageID(fromEmail string) string {
	domain := ExtractDomain(fromEmail)
	if domain == "" {
		domain = "localhost"
	}
	return fmt.Sprintf("%s@%s", uuid.NewString(), domain)
}

// SimulatedTransport accepts every message without delivering it.
type SimulatedTransport struct {
	logger *logrus.Entry
}

func NewSimulatedTransport(logger *logrus.Entry) *SimulatedTransport {
	if logger == nil {
		logger = logrus.WithField("component", "simulated_transport")
	}
	return &SimulatedTransport{logger: logger}
}

func (t *SimulatedTransport) Send(ctx context.Context, msg Message) SendResult {
	if err := ctx.Err(); err != nil {
		return SendResult{Error: err.Error()}
	}
	t.logger.WithFields(logrus.Fields{
		"from":       msg.Account.Email,
		"to":         msg.To,
		"subject":    msg.Subject,
		"message_id": msg.MessageID,
	}).Info("Simulated email send")
	return SendResult{Success: true, ProviderMessageID: "sim-" + uuid.NewString()}
}

// SMTPTransport delivers through the sending account's own SMTP server.
type SMTPTransport struct {
	decrypt CredentialDecrypter
	logger  *logrus.Entry
	backoff func(attempt int) time.Duration
}

func NewSMTPTransport(decrypt CredentialDecrypter, logger *logrus.Entry) *SMTPTransport {
	if logger == nil {
		logger = logrus.WithField("component", "smtp_transport")
	}
	return &SMTPTransport{
		decrypt: decrypt,
		logger:  logger,
		backoff: func(attempt int) time.Duration { return time.Duration(attempt*attempt) * time.Second },
	}
}

func (t *SMTPTransport) dialer(account *models.EmailAccount) (*gomail.Dialer, error) {
	if account.SMTPHost == "" {
		return nil, errors.New("account has no SMTP host")
	}
	password, err := t.decrypt(account.SMTPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}
	username := account.SMTPUsername
	if username == "" {
		username = account.Email
	}

	d := gomail.NewDialer(account.SMTPHost, account.SMTPPort, username, password)
	d.TLSConfig = &tls.Config{ServerName: account.SMTPHost}
	d.SSL = strings.EqualFold(account.Encryption, "SSL") || account.SMTPPort == 465
	if domain := ExtractDomain(account.Email); domain != "" {
		d.LocalName = domain
	}
	return d, nil
}

func buildMessage(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.Account.Email, msg.Account.FromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-Id", "<"+msg.MessageID+">")
	m.SetHeader("X-Mailer", "Outreach/1.0")
	if looksLikeHTML(msg.Body) {
		m.SetBody("text/html", msg.Body)
	} else {
		m.SetBody("text/plain", msg.Body)
	}
	return m
}

func looksLikeHTML(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "</") || strings.Contains(lower, "<br")
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) SendResult {
	d, err := t.dialer(msg.Account)
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	m := buildMessage(msg)

	var lastErr error
	for attempt := 1; attempt <= smtpMaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return SendResult{Error: ctx.Err().Error()}
			case <-time.After(t.backoff(attempt)):
			}
		}

		lastErr = d.DialAndSend(m)
		if lastErr == nil {
			return SendResult{Success: true, ProviderMessageID: msg.MessageID}
		}
		if !isTemporaryError(lastErr) {
			break
		}
		t.logger.WithFields(logrus.Fields{
			"account_id": msg.Account.ID,
			"attempt":    attempt,
			"error":      lastErr.Error(),
		}).Warn("Temporary SMTP failure, retrying")
	}

	return SendResult{Error: fmt.Sprintf("smtp send failed: %v", lastErr)}
}

// isTemporaryError reports network timeouts and 4xx SMTP replies.
func isTemporaryError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{"try again", "temporary", "421", "450", "451", "452"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}
