package requestlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mailgateway/internal/store"
)

func TestNewRequestID_HasExpectedShape(t *testing.T) {
	id := NewRequestID()
	require.Regexp(t, `^web-[0-9a-z]+-[A-Za-z0-9_-]{1,6}$`, id)
}

func TestNewRequestID_Unique(t *testing.T) {
	require.NotEqual(t, NewRequestID(), NewRequestID())
}

func TestRecord_InsertsApiCallRecord(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)

	l := New(db)
	credID := uint(7)
	l.Record(context.Background(), Entry{
		Action:       "get_email",
		CredentialID: &credID,
		HTTPStatus:   200,
		ElapsedMs:    12,
	})

	var count int64
	require.NoError(t, db.Model(&store.ApiCallRecord{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	var record store.ApiCallRecord
	require.NoError(t, db.First(&record).Error)
	require.Equal(t, "get_email", record.Action)
	require.NotEmpty(t, record.Metadata["request_id"])
}

func TestRecord_SynthesizesRequestIDWhenAbsent(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)

	l := New(db)
	l.Record(context.Background(), Entry{Action: "list_emails", HTTPStatus: 200})

	var record store.ApiCallRecord
	require.NoError(t, db.First(&record).Error)
	id, ok := record.Metadata["request_id"].(string)
	require.True(t, ok)
	require.Regexp(t, `^web-`, id)
}
