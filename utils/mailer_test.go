package utils

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/models"
)

func TestNewMessageID(t *testing.T) {
	id := NewMessageID("Sales@Acme.io")
	assert.True(t, strings.HasSuffix(id, "@acme.io"), id)
	assert.NotEqual(t, id, NewMessageID("sales@acme.io"))
	assert.True(t, strings.HasSuffix(NewMessageID("broken"), "@localhost"))
}

func TestSimulatedTransport(t *testing.T) {
	tr := NewSimulatedTransport(nil)
	msg := Message{Account: &models.EmailAccount{Email: "a@acme.io"}, To: "b@example.com", MessageID: "x@acme.io"}

	res := tr.Send(context.Background(), msg)
	assert.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.ProviderMessageID, "sim-"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = tr.Send(ctx, msg)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestSMTPTransportDialer(t *testing.T) {
	tr := NewSMTPTransport(NewCredentialDecrypter(""), nil)

	d, err := tr.dialer(&models.EmailAccount{Email: "a@acme.io", SMTPHost: "smtp.acme.io", SMTPPort: 465, SMTPPassword: "pw"})
	require.NoError(t, err)
	assert.True(t, d.SSL)
	assert.Equal(t, "a@acme.io", d.Username)
	assert.Equal(t, "pw", d.Password)
	assert.Equal(t, "acme.io", d.LocalName)

	d, err = tr.dialer(&models.EmailAccount{Email: "a@acme.io", SMTPHost: "smtp.acme.io", SMTPPort: 587, Encryption: "STARTTLS", SMTPUsername: "user"})
	require.NoError(t, err)
	assert.False(t, d.SSL)
	assert.Equal(t, "user", d.Username)

	_, err = tr.dialer(&models.EmailAccount{Email: "a@acme.io"})
	assert.Error(t, err)

	bad := NewSMTPTransport(func(string) (string, error) { return "", errors.New("bad key") }, nil)
	_, err = bad.dialer(&models.EmailAccount{SMTPHost: "smtp.acme.io"})
	assert.ErrorContains(t, err, "decrypt")
}

func TestSMTPTransportReportsDialerErrors(t *testing.T) {
	tr := NewSMTPTransport(NewCredentialDecrypter(""), nil)
	res := tr.Send(context.Background(), Message{Account: &models.EmailAccount{Email: "a@acme.io"}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no SMTP host")
}

func TestIsTemporaryError(t *testing.T) {
	assert.True(t, isTemporaryError(errors.New("421 Service not available, try again later")))
	assert.True(t, isTemporaryError(errors.New("451 temporary local problem")))
	assert.False(t, isTemporaryError(errors.New("550 mailbox unavailable")))
	assert.False(t, isTemporaryError(nil))
}

func TestLooksLikeHTML(t *testing.T) {
	assert.True(t, looksLikeHTML("<p>Hello</p>"))
	assert.True(t, looksLikeHTML("Hi<br>there"))
	assert.False(t, looksLikeHTML("Plain text, 2 < 3"))
}
