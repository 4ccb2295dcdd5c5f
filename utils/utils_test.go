package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysUntil(t *testing.T) {
	assert.Equal(t, 0, DaysUntil(0))
	assert.Equal(t, 0, DaysUntil(-time.Hour))
	assert.Equal(t, 1, DaysUntil(time.Minute))
	assert.Equal(t, 2, DaysUntil(48*time.Hour))
	assert.Equal(t, 3, DaysUntil(48*time.Hour+time.Second))
}

func TestCleanEmailAddress(t *testing.T) {
	assert.Equal(t, "jane@example.com", CleanEmailAddress("Jane Doe <Jane@Example.com>"))
	assert.Equal(t, "bob@example.com", CleanEmailAddress("  BOB@example.com "))
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "acme.io", ExtractDomain("sales@ACME.io"))
	assert.Equal(t, "", ExtractDomain("nobody"))
}

func TestFirstNameFromEmail(t *testing.T) {
	assert.Equal(t, "John Smith", FirstNameFromEmail("john.smith@corp.com"))
	assert.Equal(t, "Jo Ann", FirstNameFromEmail("jo_ann@corp.com"))
	assert.Equal(t, "Info", FirstNameFromEmail("info"))
}

func TestIsValidEmail(t *testing.T) {
	assert.True(t, IsValidEmail("lead@example.com"))
	assert.False(t, IsValidEmail("lead@"))
	assert.False(t, IsValidEmail(""))
}

func TestEncryptDecrypt(t *testing.T) {
	key := "0123456789abcdef0123456789abcdef"

	sealed, err := Encrypt(key, "smtp-secret")
	require.NoError(t, err)
	assert.NotEqual(t, "smtp-secret", sealed)

	plain, err := Decrypt(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "smtp-secret", plain)

	_, err = Decrypt(key, "c2hvcnQ=")
	assert.Error(t, err)

	_, err = Encrypt("short", "x")
	assert.Error(t, err)
}

func TestNewCredentialDecrypter(t *testing.T) {
	plain, err := NewCredentialDecrypter("")("as-is")
	require.NoError(t, err)
	assert.Equal(t, "as-is", plain)

	key := "0123456789abcdef0123456789abcdef"
	sealed, err := Encrypt(key, "pw")
	require.NoError(t, err)
	plain, err = NewCredentialDecrypter(key)(sealed)
	require.NoError(t, err)
	assert.Equal(t, "pw", plain)
}

func TestSkipError(t *testing.T) {
	err := error(Skip("check_schedule", "outside sending hours"))
	assert.True(t, IsSkip(err))
	assert.Equal(t, "check_schedule: outside sending hours", err.Error())
	assert.False(t, IsSkip(errors.New("boom")))

	wrapped := &SkipError{Stage: "select_account", Reason: "saturated", Err: ErrAllAccountsSaturated}
	assert.ErrorIs(t, wrapped, ErrAllAccountsSaturated)
}

func TestValidateStruct(t *testing.T) {
	type payload struct {
		Email string `validate:"required,email"`
		Limit int    `validate:"gte=1"`
	}
	assert.NoError(t, ValidateStruct(payload{Email: "a@b.io", Limit: 1}))

	err := ValidateStruct(payload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email is required")
	assert.Contains(t, err.Error(), "limit must be gte 1")
}
