// Package requestlog implements C15: one ApiCallRecord insert per external
// API call, and the structured error/event logging pattern the teacher's
// LogError/LogEvent helpers use (controllers/sender_controller.go), adapted
// from ad hoc logrus.WithFields calls into one shared Logger that receives
// each request's metadata through its Record calls.
package requestlog

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailgateway/internal/store"
)

// RequestIDHeader is the inbound header httpapi checks before synthesizing
// a request id with NewRequestID.
const RequestIDHeader = "X-Request-Id"

// NewRequestID synthesizes a short token when the inbound request carried
// none, matching the web-{base36 time}-{6 random chars} shape.
func NewRequestID() string {
	return "web-" + strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + randomSuffix(6)
}

func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "000000"[:n]
	}
	enc := base64.RawURLEncoding.EncodeToString(buf)
	if len(enc) > n {
		enc = enc[:n]
	}
	return enc
}

// Logger appends ApiCallRecord rows and mirrors the teacher's structured
// console logging for failures it hits along the way.
type Logger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Logger {
	return &Logger{db: db}
}

type Entry struct {
	Action       string
	CredentialID *uint
	MailboxID    *uint
	ClientIP     string
	HTTPStatus   int
	ElapsedMs    int64
	RequestID    string
}

// Record inserts one ApiCallRecord for the completed call. Insert failures
// are logged, not returned, so a logging outage never masks the response
// the handler already committed to sending.
func (l *Logger) Record(ctx context.Context, e Entry) {
	requestID := e.RequestID
	if requestID == "" {
		requestID = NewRequestID()
	}

	record := store.ApiCallRecord{
		Action:       e.Action,
		CredentialID: e.CredentialID,
		MailboxID:    e.MailboxID,
		ClientIP:     e.ClientIP,
		HTTPStatus:   e.HTTPStatus,
		ElapsedMs:    e.ElapsedMs,
		Metadata:     store.JSONAny{"request_id": requestID},
		CreatedAt:    time.Now(),
	}

	if err := l.db.WithContext(ctx).Create(&record).Error; err != nil {
		logrus.WithFields(logrus.Fields{
			"action":     e.Action,
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("failed to persist api call record")
	}
}
