package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-equipment/internal/models"
)

func setupMockNotificationsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *NotificationRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewNotificationRepository(db, logger)

	return db, mock, repo
}

var notificationColumns = []string{
	"id", "warning_id", "level", "scheduled_at", "status", "sent_at", "error", "created_at",
}

var dueColumns = []string{
	"id", "warning_id", "level", "scheduled_at", "status", "sent_at", "error", "created_at",
	"w_id", "device_id", "warning_type", "severity", "measured_value", "threshold_value",
	"message", "w_status", "w_created_at", "w_updated_at",
}

// ============================================
// 到期通知查询测试
// ============================================

func TestDueNotifications_Success(t *testing.T) {
	db, mock, repo := setupMockNotificationsDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	warningID := uuid.New().String()
	deviceID := uuid.New().String()
	notifID1 := uuid.New().String()
	notifID2 := uuid.New().String()

	rows := sqlmock.NewRows(dueColumns).
		AddRow(notifID1, warningID, 2, now.Add(-time.Minute), models.NotificationStatusScheduled, nil, nil, now.Add(-6*time.Minute),
			warningID, deviceID, models.WarningTypeVoltageHigh, models.SeverityMajor, 297.5, 242.0,
			"Voltage 297.50V exceeds critical threshold 290.40V", models.WarningStatusActive, now.Add(-6*time.Minute), now).
		AddRow(notifID2, warningID, 3, now.Add(-time.Second), models.NotificationStatusScheduled, nil, nil, now.Add(-16*time.Minute),
			warningID, deviceID, models.WarningTypeVoltageHigh, models.SeverityMajor, 297.5, 242.0,
			"Voltage 297.50V exceeds critical threshold 290.40V", models.WarningStatusActive, now.Add(-16*time.Minute), now)

	mock.ExpectQuery(`SELECT`).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnRows(rows)

	due, err := repo.DueNotifications(ctx, now, 100)

	require.NoError(t, err)
	require.Len(t, due, 2)

	assert.Equal(t, notifID1, due[0].Notification.ID)
	assert.Equal(t, 2, due[0].Notification.Level)
	assert.Equal(t, warningID, due[0].Warning.ID)
	assert.Equal(t, deviceID, due[0].Warning.DeviceID)
	require.NotNil(t, due[0].Warning.MeasuredValue)
	assert.Equal(t, 297.5, *due[0].Warning.MeasuredValue)

	assert.Equal(t, notifID2, due[1].Notification.ID)
	assert.Equal(t, 3, due[1].Notification.Level)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDueNotifications_Empty(t *testing.T) {
	db, mock, repo := setupMockNotificationsDB(t)
	defer db.Close()

	ctx := context.Background()

	rows := sqlmock.NewRows(dueColumns)
	mock.ExpectQuery(`SELECT`).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnRows(rows)

	due, err := repo.DueNotifications(ctx, time.Now(), 100)

	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 状态标记测试
// ============================================

func TestMarkNotificationSent_Success(t *testing.T) {
	db, mock, repo := setupMockNotificationsDB(t)
	defer db.Close()

	ctx := context.Background()
	notifID := uuid.New().String()

	mock.ExpectExec(`UPDATE warning_notifications`).
		WithArgs(notifID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkNotificationSent(ctx, notifID)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationSent_NotFound(t *testing.T) {
	db, mock, repo := setupMockNotificationsDB(t)
	defer db.Close()

	ctx := context.Background()
	notifID := uuid.New().String()

	mock.ExpectExec(`UPDATE warning_notifications`).
		WithArgs(notifID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkNotificationSent(ctx, notifID)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationFailed_Success(t *testing.T) {
	db, mock, repo := setupMockNotificationsDB(t)
	defer db.Close()

	ctx := context.Background()
	notifID := uuid.New().String()

	mock.ExpectExec(`UPDATE warning_notifications`).
		WithArgs(notifID, "webhook returned 503").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkNotificationFailed(ctx, notifID, "webhook returned 503")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 列表与清理测试
// ============================================

func TestListByWarning_Success(t *testing.T) {
	db, mock, repo := setupMockNotificationsDB(t)
	defer db.Close()

	ctx := context.Background()
	warningID := uuid.New().String()
	now := time.Now()
	sentAt := now.Add(time.Second)

	rows := sqlmock.NewRows(notificationColumns).
		AddRow(uuid.New().String(), warningID, 1, now, models.NotificationStatusSent, sentAt, nil, now).
		AddRow(uuid.New().String(), warningID, 2, now.Add(5*time.Minute), models.NotificationStatusFailed, nil, "connection timeout", now).
		AddRow(uuid.New().String(), warningID, 3, now.Add(15*time.Minute), models.NotificationStatusScheduled, nil, nil, now)

	mock.ExpectQuery(`SELECT`).
		WithArgs(warningID).
		WillReturnRows(rows)

	notifications, err := repo.ListByWarning(ctx, warningID)

	require.NoError(t, err)
	require.Len(t, notifications, 3)

	assert.Equal(t, 1, notifications[0].Level)
	assert.Equal(t, models.NotificationStatusSent, notifications[0].Status)
	assert.NotNil(t, notifications[0].SentAt)

	assert.Equal(t, models.NotificationStatusFailed, notifications[1].Status)
	require.NotNil(t, notifications[1].Error)
	assert.Equal(t, "connection timeout", *notifications[1].Error)

	assert.Equal(t, models.NotificationStatusScheduled, notifications[2].Status)
	assert.Nil(t, notifications[2].SentAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByWarning_InvalidID(t *testing.T) {
	db, mock, repo := setupMockNotificationsDB(t)
	defer db.Close()

	ctx := context.Background()

	notifications, err := repo.ListByWarning(ctx, "")

	assert.Error(t, err)
	assert.Nil(t, notifications)
	assert.Contains(t, err.Error(), "warning_id is required")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTerminalBefore_Success(t *testing.T) {
	db, mock, repo := setupMockNotificationsDB(t)
	defer db.Close()

	ctx := context.Background()
	cutoff := time.Now().AddDate(0, 0, -7)

	mock.ExpectExec(`DELETE FROM warning_notifications`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 40))

	deleted, err := repo.DeleteTerminalBefore(ctx, cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(40), deleted)

	require.NoError(t, mock.ExpectationsWereMet())
}
