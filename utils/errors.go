package utils

import (
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoAccounts means the campaign has an empty account ring.
	ErrNoAccounts = errors.New("campaign has no email accounts")
	// ErrAllAccountsSaturated means every account in the ring reached its daily limit.
	ErrAllAccountsSaturated = errors.New("all email accounts reached their daily limit")
)

// SkipError is an expected gate failure. It explains why a campaign or
// contact was passed over in this cycle.
type SkipError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
}

func (e *SkipError) Unwrap() error {
	return e.Err
}

func Skip(stage, reason string) *SkipError {
	return &SkipError{Stage: stage, Reason: reason}
}

// IsSkip reports whether err is a gate failure.
func IsSkip(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}

// CaptureError logs err with context and reports it to Sentry.
func CaptureError(errorType string, err error, context map[string]interface{}) {
	logrus.WithFields(logrus.Fields{
		"error_type": errorType,
		"error":      err.Error(),
		"context":    context,
	}).Error("Operation failed")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_type", errorType)
		scope.SetExtras(context)
		sentry.CaptureException(err)
	})
}

// LogEvent logs an event and leaves a Sentry breadcrumb.
func LogEvent(eventType string, data map[string]interface{}) {
	logrus.WithFields(logrus.Fields{
		"event_type": eventType,
		"data":       data,
	}).Info("Event occurred")

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category: eventType,
		Data:     data,
		Level:    sentry.LevelInfo,
	})
}
