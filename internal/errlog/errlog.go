// Package errlog centralizes structured error reporting for the mail
// fetch path, following controllers/sender_controller.go's LogError/LogEvent
// pair: a logrus.WithFields call to stderr plus a Sentry capture under the
// same error_type tag, generalized into a package so C10-C13 share one
// reporting surface instead of repeating the sentry.WithScope boilerplate.
package errlog

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Error logs err with errorType and context to logrus and, if a Sentry DSN
// was configured for this process, forwards it as a tagged exception.
func Error(errorType string, err error, context map[string]interface{}) {
	log := logrus.WithFields(logrus.Fields{
		"error_type": errorType,
		"error":      err.Error(),
	})
	for k, v := range context {
		log = log.WithField(k, v)
	}
	log.Error("mail fetch error")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_type", errorType)
		for k, v := range context {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Event logs a non-error occurrence, mirroring LogEvent's breadcrumb
// pattern, for the "degraded to IMAP" and similar transitions C13 needs
// visible in Sentry without raising them as exceptions.
func Event(eventType string, data map[string]interface{}) {
	log := logrus.WithFields(logrus.Fields{"event_type": eventType})
	for k, v := range data {
		log = log.WithField(k, v)
	}
	log.Info("mail fetch event")

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "info",
		Category:  eventType,
		Data:      data,
		Timestamp: time.Now(),
	})
}
