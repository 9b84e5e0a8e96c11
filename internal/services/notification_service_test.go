package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clubtokens/console-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notificationFixture struct {
	service *NotificationService
	mock    sqlmock.Sqlmock
	hook    *test.Hook
	calls   *int32
}

func newNotificationFixture(t *testing.T, status int) *notificationFixture {
	t.Helper()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "Bearer push-key", r.Header.Get("Authorization"))

		var msg PushMessage
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(PushReceipt{ID: "push-123", Accepted: len(msg.Recipients)})
	}))
	t.Cleanup(server.Close)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, hook := test.NewNullLogger()
	audit := NewAuditTrailService(db, 20, 100, logger)
	audit.now = func() time.Time { return fixedNow }

	provider := NewHTTPPushProvider(server.URL, "push-key", 2*time.Second)
	service := NewNotificationService(provider, audit, NewAuthorizationGate(), logger)

	return &notificationFixture{service: service, mock: mock, hook: hook, calls: &calls}
}

func notificationRequest(accountIDs ...string) NotificationRequest {
	return NotificationRequest{Title: "Matchday", Body: "Doors open at 18:00", AccountIDs: accountIDs}
}

func TestNotificationService_Send(t *testing.T) {
	f := newNotificationFixture(t, http.StatusOK)
	actor := clubAdmin([]string{"20315"}, models.FeatureNotifications)

	f.mock.ExpectBegin()
	f.mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(sqlmock.AnyArg(), "notification_sent", "admin-1", "club@example.com", "Club Admin",
			nil, nil, nil, nil, sqlmock.AnyArg(), "push-123", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectExec("INSERT INTO audit_outbox").WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectCommit()

	result, err := f.service.Send(context.Background(), actor, notificationRequest("2031500001", "2031500002"))
	require.NoError(t, err)
	assert.Equal(t, "push-123", result.ProviderMessageID)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, int32(1), atomic.LoadInt32(f.calls))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestNotificationService_AuditFailureIsPartial(t *testing.T) {
	f := newNotificationFixture(t, http.StatusOK)
	actor := clubAdmin([]string{"20315"}, models.FeatureNotifications)

	f.mock.ExpectBegin().WillReturnError(errors.New("database unavailable"))

	result, err := f.service.Send(context.Background(), actor, notificationRequest("2031500001"))

	var partial *PartialFailureError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, "notification_sent", partial.Action)
	require.NotNil(t, result, "the provider accepted the message")
	assert.Equal(t, "push-123", result.ProviderMessageID)

	require.NotNil(t, f.hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, f.hook.LastEntry().Level)
	assert.Equal(t, "notification sent without audit record", f.hook.LastEntry().Message)
	assert.Equal(t, "push-123", f.hook.LastEntry().Data["provider_message_id"])
}

func TestNotificationService_Denied(t *testing.T) {
	t.Run("recipient outside club scope", func(t *testing.T) {
		f := newNotificationFixture(t, http.StatusOK)
		actor := clubAdmin([]string{"20315"}, models.FeatureNotifications)

		_, err := f.service.Send(context.Background(), actor, notificationRequest("2031500001", "2031600001"))
		var denied *DeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, ReasonClubScope, denied.Reason)
		assert.Zero(t, atomic.LoadInt32(f.calls))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("inactive actor with invalid request", func(t *testing.T) {
		f := newNotificationFixture(t, http.StatusOK)
		actor := superAdmin()
		actor.IsActive = false

		_, err := f.service.Send(context.Background(), actor, NotificationRequest{})
		var denied *DeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, ReasonInactive, denied.Reason)
		assert.Zero(t, atomic.LoadInt32(f.calls))
	})

	t.Run("feature not enabled", func(t *testing.T) {
		f := newNotificationFixture(t, http.StatusOK)

		_, err := f.service.Send(context.Background(), clubAdmin([]string{"20315"}, models.FeatureTokens), notificationRequest("2031500001"))
		var denied *DeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, ReasonFeature, denied.Reason)
		assert.Zero(t, atomic.LoadInt32(f.calls))
	})
}

func TestNotificationService_ProviderFailure(t *testing.T) {
	f := newNotificationFixture(t, http.StatusBadGateway)

	_, err := f.service.Send(context.Background(), superAdmin(), notificationRequest("2031500001"))
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.NoError(t, f.mock.ExpectationsWereMet(), "nothing is audited when the provider rejects")
}

func TestNotificationService_Validation(t *testing.T) {
	f := newNotificationFixture(t, http.StatusOK)

	_, err := f.service.Send(context.Background(), superAdmin(), NotificationRequest{Title: "Matchday", Body: "Doors open"})
	var invalid *ValidationError
	assert.True(t, errors.As(err, &invalid))
	assert.Zero(t, atomic.LoadInt32(f.calls))
}
