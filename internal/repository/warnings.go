package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wisefido-equipment/internal/models"

	"go.uber.org/zap"
)

// WarningFilter 告警列表查询条件
type WarningFilter struct {
	DeviceID    *string
	WarningType *string
	Status      *string
	Severity    *string
	StartTime   *time.Time
	EndTime     *time.Time
}

// WarningRepository 告警仓库
type WarningRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWarningRepository 创建告警仓库
func NewWarningRepository(db *sql.DB, logger *zap.Logger) *WarningRepository {
	return &WarningRepository{
		db:     db,
		logger: logger,
	}
}

// FindActiveWarning 查找某设备某类型的活动告警，不存在时返回 (nil, nil)
// 每个 (device_id, warning_type) 最多一条活动告警，由部分唯一索引保证
func (r *WarningRepository) FindActiveWarning(ctx context.Context, deviceID, warningType string) (*models.Warning, error) {
	if deviceID == "" || warningType == "" {
		return nil, fmt.Errorf("device_id and warning_type are required")
	}

	query := `
		SELECT
			id,
			device_id,
			warning_type,
			severity,
			measured_value,
			threshold_value,
			message,
			status,
			created_at,
			updated_at,
			acknowledged_at,
			acknowledged_by,
			resolved_at
		FROM warnings
		WHERE device_id = $1 AND warning_type = $2 AND status = 'active'
	`

	warning, err := r.scanWarning(r.db.QueryRowContext(ctx, query, deviceID, warningType))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active warning: %w", err)
	}

	return warning, nil
}

// GetWarning 根据 ID 获取告警
func (r *WarningRepository) GetWarning(ctx context.Context, warningID string) (*models.Warning, error) {
	if warningID == "" {
		return nil, fmt.Errorf("warning_id is required")
	}

	query := `
		SELECT
			id,
			device_id,
			warning_type,
			severity,
			measured_value,
			threshold_value,
			message,
			status,
			created_at,
			updated_at,
			acknowledged_at,
			acknowledged_by,
			resolved_at
		FROM warnings
		WHERE id = $1
	`

	warning, err := r.scanWarning(r.db.QueryRowContext(ctx, query, warningID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("warning not found: %s", warningID)
		}
		return nil, fmt.Errorf("failed to get warning: %w", err)
	}

	return warning, nil
}

// ListActiveByDevice 查询某设备的全部活动告警（缓存摘要用）
func (r *WarningRepository) ListActiveByDevice(ctx context.Context, deviceID string) ([]*models.Warning, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			id,
			device_id,
			warning_type,
			severity,
			measured_value,
			threshold_value,
			message,
			status,
			created_at,
			updated_at,
			acknowledged_at,
			acknowledged_by,
			resolved_at
		FROM warnings
		WHERE device_id = $1 AND status = 'active'
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active warnings: %w", err)
	}
	defer rows.Close()

	return r.collectWarnings(rows)
}

// CreateWithSchedule 在同一事务中创建告警及其全部升级通知条目
// 事务保证告警与升级计划要么同时存在要么都不存在
func (r *WarningRepository) CreateWithSchedule(ctx context.Context, warning *models.Warning, notifications []*models.WarningNotification) error {
	if warning == nil {
		return fmt.Errorf("warning is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. 创建告警
	warningQuery := `
		INSERT INTO warnings (
			id,
			device_id,
			warning_type,
			severity,
			measured_value,
			threshold_value,
			message,
			status,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err = tx.ExecContext(ctx, warningQuery,
		warning.ID,
		warning.DeviceID,
		warning.WarningType,
		warning.Severity,
		warning.MeasuredValue,
		warning.ThresholdValue,
		warning.Message,
		warning.Status,
		warning.CreatedAt,
		warning.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert warning: %w", err)
	}

	// 2. 创建升级通知条目
	notifQuery := `
		INSERT INTO warning_notifications (
			id,
			warning_id,
			level,
			scheduled_at,
			status,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	for _, n := range notifications {
		_, err = tx.ExecContext(ctx, notifQuery,
			n.ID,
			n.WarningID,
			n.Level,
			n.ScheduledAt,
			n.Status,
			n.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert warning notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateWarningMeasurement 告警持续期间用最新读数原地更新
// 不改变 created_at，升级计划照旧执行
func (r *WarningRepository) UpdateWarningMeasurement(ctx context.Context, warningID string, measured, threshold *float64, severity, message string) error {
	if warningID == "" {
		return fmt.Errorf("warning_id is required")
	}

	query := `
		UPDATE warnings
		SET measured_value = $2,
		    threshold_value = $3,
		    severity = $4,
		    message = $5,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, warningID, measured, threshold, severity, message)
	if err != nil {
		return fmt.Errorf("failed to update warning measurement: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("warning not found: %s", warningID)
	}

	return nil
}

// ResolveWarning 将活动告警置为已解决
// 告警已非活动时视为无事可做，不报错
func (r *WarningRepository) ResolveWarning(ctx context.Context, warningID string) error {
	if warningID == "" {
		return fmt.Errorf("warning_id is required")
	}

	query := `
		UPDATE warnings
		SET status = 'resolved',
		    resolved_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`

	_, err := r.db.ExecContext(ctx, query, warningID)
	if err != nil {
		return fmt.Errorf("failed to resolve warning: %w", err)
	}

	return nil
}

// AcknowledgeWarning 人工确认告警
func (r *WarningRepository) AcknowledgeWarning(ctx context.Context, warningID, acknowledgedBy string) error {
	if warningID == "" {
		return fmt.Errorf("warning_id is required")
	}

	query := `
		UPDATE warnings
		SET status = 'acknowledged',
		    acknowledged_at = NOW(),
		    acknowledged_by = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, warningID, acknowledgedBy)
	if err != nil {
		return fmt.Errorf("failed to acknowledge warning: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("active warning not found: %s", warningID)
	}

	return nil
}

// IgnoreWarning 人工忽略告警，不再升级
func (r *WarningRepository) IgnoreWarning(ctx context.Context, warningID string) error {
	if warningID == "" {
		return fmt.Errorf("warning_id is required")
	}

	query := `
		UPDATE warnings
		SET status = 'ignored',
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'acknowledged')
	`

	result, err := r.db.ExecContext(ctx, query, warningID)
	if err != nil {
		return fmt.Errorf("failed to ignore warning: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("warning not found or already closed: %s", warningID)
	}

	return nil
}

// ListWarnings 按条件分页查询告警
func (r *WarningRepository) ListWarnings(ctx context.Context, filter *WarningFilter, page, pageSize int) ([]*models.Warning, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	conditions := []string{}
	args := []interface{}{}
	argIdx := 1

	if filter != nil {
		if filter.DeviceID != nil {
			conditions = append(conditions, fmt.Sprintf("device_id = $%d", argIdx))
			args = append(args, *filter.DeviceID)
			argIdx++
		}
		if filter.WarningType != nil {
			conditions = append(conditions, fmt.Sprintf("warning_type = $%d", argIdx))
			args = append(args, *filter.WarningType)
			argIdx++
		}
		if filter.Status != nil {
			conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
			args = append(args, *filter.Status)
			argIdx++
		}
		if filter.Severity != nil {
			conditions = append(conditions, fmt.Sprintf("severity = $%d", argIdx))
			args = append(args, *filter.Severity)
			argIdx++
		}
		if filter.StartTime != nil {
			conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
			args = append(args, *filter.StartTime)
			argIdx++
		}
		if filter.EndTime != nil {
			conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
			args = append(args, *filter.EndTime)
			argIdx++
		}
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// 1. 查询总数
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM warnings %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count warnings: %w", err)
	}

	// 2. 查询当前页
	listQuery := fmt.Sprintf(`
		SELECT
			id,
			device_id,
			warning_type,
			severity,
			measured_value,
			threshold_value,
			message,
			status,
			created_at,
			updated_at,
			acknowledged_at,
			acknowledged_by,
			resolved_at
		FROM warnings
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIdx, argIdx+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query warnings: %w", err)
	}
	defer rows.Close()

	warnings, err := r.collectWarnings(rows)
	if err != nil {
		return nil, 0, err
	}

	return warnings, total, nil
}

// DeleteResolvedBefore 删除某时间之前解决的告警，返回删除行数
// 级联删除会一并清掉对应的通知条目
func (r *WarningRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM warnings
		WHERE status = 'resolved' AND resolved_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved warnings: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// rowScanner 兼容 *sql.Row 和 *sql.Rows 的扫描接口
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanWarning 从单行扫描告警
func (r *WarningRepository) scanWarning(row rowScanner) (*models.Warning, error) {
	var w models.Warning
	var measuredValue, thresholdValue sql.NullFloat64
	var acknowledgedAt, resolvedAt sql.NullTime
	var acknowledgedBy sql.NullString

	err := row.Scan(
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
		&acknowledgedAt,
		&acknowledgedBy,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if measuredValue.Valid {
		w.MeasuredValue = &measuredValue.Float64
	}
	if thresholdValue.Valid {
		w.ThresholdValue = &thresholdValue.Float64
	}
	if acknowledgedAt.Valid {
		w.AcknowledgedAt = &acknowledgedAt.Time
	}
	if acknowledgedBy.Valid {
		w.AcknowledgedBy = &acknowledgedBy.String
	}
	if resolvedAt.Valid {
		w.ResolvedAt = &resolvedAt.Time
	}

	return &w, nil
}

// collectWarnings 从多行结果收集告警列表
func (r *WarningRepository) collectWarnings(rows *sql.Rows) ([]*models.Warning, error) {
	warnings := []*models.Warning{}
	for rows.Next() {
		w, err := r.scanWarning(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan warning: %w", err)
		}
		warnings = append(warnings, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate warnings: %w", err)
	}

	return warnings, nil
}
