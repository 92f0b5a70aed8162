package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-equipment/internal/models"

	"go.uber.org/zap"
)

// DueNotification 到期通知及其告警上下文
// 发送方需要告警内容，JOIN 一次取回避免逐条回查
type DueNotification struct {
	Notification *models.WarningNotification
	Warning      *models.Warning
}

// NotificationRepository 升级通知仓库
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository 创建升级通知仓库
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// DueNotifications 查询到期且告警仍处于活动状态的通知条目
// 告警被解决/确认/忽略后，剩余条目留在表中但不再入选
func (r *NotificationRepository) DueNotifications(ctx context.Context, now time.Time, limit int) ([]*DueNotification, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT
			n.id,
			n.warning_id,
			n.level,
			n.scheduled_at,
			n.status,
			n.sent_at,
			n.error,
			n.created_at,
			w.id,
			w.device_id,
			w.warning_type,
			w.severity,
			w.measured_value,
			w.threshold_value,
			w.message,
			w.status,
			w.created_at,
			w.updated_at
		FROM warning_notifications n
		JOIN warnings w ON w.id = n.warning_id
		WHERE n.status = 'scheduled'
		  AND n.scheduled_at <= $1
		  AND w.status = 'active'
		ORDER BY n.scheduled_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due notifications: %w", err)
	}
	defer rows.Close()

	due := []*DueNotification{}
	for rows.Next() {
		var n models.WarningNotification
		var w models.Warning
		var sentAt sql.NullTime
		var notifError sql.NullString
		var measuredValue, thresholdValue sql.NullFloat64

		err := rows.Scan(
			&n.ID,
			&n.WarningID,
			&n.Level,
			&n.ScheduledAt,
			&n.Status,
			&sentAt,
			&notifError,
			&n.CreatedAt,
			&w.ID,
			&w.DeviceID,
			&w.WarningType,
			&w.Severity,
			&measuredValue,
			&thresholdValue,
			&w.Message,
			&w.Status,
			&w.CreatedAt,
			&w.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due notification: %w", err)
		}

		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}
		if notifError.Valid {
			n.Error = &notifError.String
		}
		if measuredValue.Valid {
			w.MeasuredValue = &measuredValue.Float64
		}
		if thresholdValue.Valid {
			w.ThresholdValue = &thresholdValue.Float64
		}

		due = append(due, &DueNotification{
			Notification: &n,
			Warning:      &w,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due notifications: %w", err)
	}

	return due, nil
}

// MarkNotificationSent 标记通知已发送
func (r *NotificationRepository) MarkNotificationSent(ctx context.Context, notificationID string) error {
	if notificationID == "" {
		return fmt.Errorf("notification_id is required")
	}

	query := `
		UPDATE warning_notifications
		SET status = 'sent',
		    sent_at = NOW(),
		    error = NULL
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, notificationID)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("notification not found: %s", notificationID)
	}

	return nil
}

// MarkNotificationFailed 标记通知发送失败并记录原因
// 失败即终态，不做重试
func (r *NotificationRepository) MarkNotificationFailed(ctx context.Context, notificationID, errMsg string) error {
	if notificationID == "" {
		return fmt.Errorf("notification_id is required")
	}

	query := `
		UPDATE warning_notifications
		SET status = 'failed',
		    error = $2
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, notificationID, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("notification not found: %s", notificationID)
	}

	return nil
}

// ListByWarning 查询某告警的全部通知条目（导出用，按级别升序）
func (r *NotificationRepository) ListByWarning(ctx context.Context, warningID string) ([]*models.WarningNotification, error) {
	if warningID == "" {
		return nil, fmt.Errorf("warning_id is required")
	}

	query := `
		SELECT
			id,
			warning_id,
			level,
			scheduled_at,
			status,
			sent_at,
			error,
			created_at
		FROM warning_notifications
		WHERE warning_id = $1
		ORDER BY level ASC
	`

	rows, err := r.db.QueryContext(ctx, query, warningID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*models.WarningNotification{}
	for rows.Next() {
		var n models.WarningNotification
		var sentAt sql.NullTime
		var notifError sql.NullString

		err := rows.Scan(
			&n.ID,
			&n.WarningID,
			&n.Level,
			&n.ScheduledAt,
			&n.Status,
			&sentAt,
			&notifError,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}
		if notifError.Valid {
			n.Error = &notifError.String
		}

		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	return notifications, nil
}

// DeleteTerminalBefore 删除某时间之前创建且已到终态（sent/failed）的通知条目
func (r *NotificationRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM warning_notifications
		WHERE status IN ('sent', 'failed') AND created_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal notifications: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
