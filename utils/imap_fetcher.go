package utils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"outreach/models"
)

const DefaultFetchLimit = 50

// InboundMessage is a parsed message pulled from a mailbox.
type InboundMessage struct {
	From        string
	To          string
	Subject     string
	TextBody    string
	HTMLBody    string
	MessageID   string
	InReplyTo   string
	References  []string
	Attachments []models.AttachmentInfo
	ReceivedAt  time.Time
}

// MailFetcher pulls new inbound messages for one account.
type MailFetcher interface {
	Fetch(ctx context.Context, account *models.EmailAccount, limit int) ([]InboundMessage, error)
}

// IMAPFetcher reads unseen messages over IMAP. Fetched messages are marked
// seen by the server, so each message is normally returned once.
type IMAPFetcher struct {
	decrypt CredentialDecrypter
	timeout time.Duration
	logger  *logrus.Entry
}

func NewIMAPFetcher(decrypt CredentialDecrypter, logger *logrus.Entry) *IMAPFetcher {
	if logger == nil {
		logger = logrus.WithField("component", "imap_fetcher")
	}
	return &IMAPFetcher{decrypt: decrypt, timeout: 30 * time.Second, logger: logger}
}

func (f *IMAPFetcher) connect(account *models.EmailAccount) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)
	tlsConfig := &tls.Config{ServerName: account.IMAPHost}

	var (
		c   *client.Client
		err error
	)
	switch strings.ToUpper(account.IMAPEncryption) {
	case "SSL", "TLS":
		c, err = client.DialTLS(addr, tlsConfig)
	case "STARTTLS":
		c, err = client.Dial(addr)
		if err == nil {
			if err = c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
			}
		}
	default:
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	c.Timeout = f.timeout
	return c, nil
}

func (f *IMAPFetcher) Fetch(ctx context.Context, account *models.EmailAccount, limit int) ([]InboundMessage, error) {
	if !account.HasIMAP() {
		return nil, errors.New("account has no IMAP configuration")
	}
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	secret := account.IMAPPassword
	if secret == "" {
		secret = account.SMTPPassword
	}
	password, err := f.decrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}
	username := account.IMAPUsername
	if username == "" {
		username = account.Email
	}

	c, err := f.connect(account)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if err := c.Login(username, password); err != nil {
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := account.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	var out []InboundMessage
	for msg := range messages {
		if ctx.Err() != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			f.logger.WithField("seq", msg.SeqNum).Warn("Message body not returned by server")
			continue
		}
		parsed, err := ParseMessage(body)
		if err != nil {
			f.logger.WithError(err).WithField("seq", msg.SeqNum).Warn("Failed to parse message")
			continue
		}
		if parsed.ReceivedAt.IsZero() && msg.Envelope != nil {
			parsed.ReceivedAt = msg.Envelope.Date.UTC()
		}
		out = append(out, parsed)
	}

	if err := <-done; err != nil {
		return out, fmt.Errorf("error during fetch: %w", err)
	}
	return out, ctx.Err()
}

// ParseMessage decodes an RFC 5322 message into an InboundMessage.
func ParseMessage(r io.Reader) (InboundMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("failed to create message reader: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	var msg InboundMessage
	msg.Subject, _ = h.Subject()
	msg.MessageID, _ = h.MessageID()
	if ids, _ := h.MsgIDList("In-Reply-To"); len(ids) > 0 {
		msg.InReplyTo = ids[0]
	}
	msg.References, _ = h.MsgIDList("References")
	if from, _ := h.AddressList("From"); len(from) > 0 {
		msg.From = strings.ToLower(from[0].Address)
	}
	if to, _ := h.AddressList("To"); len(to) > 0 {
		addrs := make([]string, 0, len(to))
		for _, a := range to {
			addrs = append(addrs, strings.ToLower(a.Address))
		}
		msg.To = strings.Join(addrs, ", ")
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		msg.ReceivedAt = date.UTC()
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return msg, fmt.Errorf("failed to read next part: %w", err)
		}

		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return msg, fmt.Errorf("failed to read body: %w", err)
			}
			switch {
			case strings.HasPrefix(contentType, "text/html") && msg.HTMLBody == "":
				msg.HTMLBody = string(b)
			case strings.HasPrefix(contentType, "text/plain") && msg.TextBody == "":
				msg.TextBody = string(b)
			}
		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			contentType, _, _ := ph.ContentType()
			n, _ := io.Copy(io.Discard, p.Body)
			msg.Attachments = append(msg.Attachments, models.AttachmentInfo{
				Filename:    filename,
				ContentType: contentType,
				Size:        int(n),
			})
		}
	}
	return msg, nil
}
