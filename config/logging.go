package config

import (
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// ConfigureLogging sets the global logrus level and formatter.
func ConfigureLogging(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// InitSentry initializes Sentry for error tracking. An empty DSN leaves
// Sentry disabled.
func InitSentry(cfg *Config) error {
	if cfg.SentryDSN == "" {
		logrus.Info("Sentry disabled: SENTRY_DSN not set")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	logrus.Info("Sentry initialized")
	return nil
}
