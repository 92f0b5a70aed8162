package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-equipment/internal/models"

	"go.uber.org/zap"
)

// EndpointRepository 接入端点仓库
// 端点配置由外部供应流程写入，本服务只读取配置、回写运行状态
type EndpointRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEndpointRepository 创建接入端点仓库
func NewEndpointRepository(db *sql.DB, logger *zap.Logger) *EndpointRepository {
	return &EndpointRepository{
		db:     db,
		logger: logger,
	}
}

// ListEnabledEndpoints 获取所有启用的端点
func (r *EndpointRepository) ListEnabledEndpoints(ctx context.Context) ([]*models.IngestionEndpoint, error) {
	query := `
		SELECT
			id,
			name,
			broker_host,
			broker_port,
			topic,
			qos,
			retain,
			username,
			password,
			keepalive_seconds,
			device_id,
			enabled,
			status,
			reconnect_attempts,
			last_connected_at,
			last_error,
			created_at,
			updated_at
		FROM ingestion_endpoints
		WHERE enabled = TRUE
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := []*models.IngestionEndpoint{}
	for rows.Next() {
		var ep models.IngestionEndpoint
		var name, username, password, deviceID, lastError sql.NullString
		var lastConnectedAt sql.NullTime
		var qos int

		err := rows.Scan(
			&ep.ID,
			&name,
			&ep.BrokerHost,
			&ep.BrokerPort,
			&ep.Topic,
			&qos,
			&ep.Retain,
			&username,
			&password,
			&ep.Keepalive,
			&deviceID,
			&ep.Enabled,
			&ep.Status,
			&ep.ReconnectAttempts,
			&lastConnectedAt,
			&lastError,
			&ep.CreatedAt,
			&ep.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}

		ep.QoS = byte(qos)

		// 处理可空字段
		if name.Valid {
			ep.Name = &name.String
		}
		if username.Valid {
			ep.Username = &username.String
		}
		if password.Valid {
			ep.Password = &password.String
		}
		if deviceID.Valid {
			ep.DeviceID = &deviceID.String
		}
		if lastConnectedAt.Valid {
			ep.LastConnectedAt = &lastConnectedAt.Time
		}
		if lastError.Valid {
			ep.LastError = &lastError.String
		}

		endpoints = append(endpoints, &ep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate endpoints: %w", err)
	}

	return endpoints, nil
}

// GetEndpoint 根据 ID 获取端点
func (r *EndpointRepository) GetEndpoint(ctx context.Context, endpointID string) (*models.IngestionEndpoint, error) {
	if endpointID == "" {
		return nil, fmt.Errorf("endpoint_id is required")
	}

	query := `
		SELECT
			id,
			name,
			broker_host,
			broker_port,
			topic,
			qos,
			retain,
			username,
			password,
			keepalive_seconds,
			device_id,
			enabled,
			status,
			reconnect_attempts,
			last_connected_at,
			last_error,
			created_at,
			updated_at
		FROM ingestion_endpoints
		WHERE id = $1
	`

	var ep models.IngestionEndpoint
	var name, username, password, deviceID, lastError sql.NullString
	var lastConnectedAt sql.NullTime
	var qos int

	err := r.db.QueryRowContext(ctx, query, endpointID).Scan(
		&ep.ID,
		&name,
		&ep.BrokerHost,
		&ep.BrokerPort,
		&ep.Topic,
		&qos,
		&ep.Retain,
		&username,
		&password,
		&ep.Keepalive,
		&deviceID,
		&ep.Enabled,
		&ep.Status,
		&ep.ReconnectAttempts,
		&lastConnectedAt,
		&lastError,
		&ep.CreatedAt,
		&ep.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("endpoint not found: %s", endpointID)
		}
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}

	ep.QoS = byte(qos)

	if name.Valid {
		ep.Name = &name.String
	}
	if username.Valid {
		ep.Username = &username.String
	}
	if password.Valid {
		ep.Password = &password.String
	}
	if deviceID.Valid {
		ep.DeviceID = &deviceID.String
	}
	if lastConnectedAt.Valid {
		ep.LastConnectedAt = &lastConnectedAt.Time
	}
	if lastError.Valid {
		ep.LastError = &lastError.String
	}

	return &ep, nil
}

// UpdateEndpointStatus 回写端点连接状态（连接成功时同时刷新 last_connected_at）
func (r *EndpointRepository) UpdateEndpointStatus(ctx context.Context, endpointID, status string, attempts int, lastError *string) error {
	if endpointID == "" {
		return fmt.Errorf("endpoint_id is required")
	}

	query := `
		UPDATE ingestion_endpoints
		SET status = $2,
		    reconnect_attempts = $3,
		    last_error = $4,
		    last_connected_at = CASE WHEN $2 = 'connected' THEN NOW() ELSE last_connected_at END,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, endpointID, status, attempts, lastError)
	if err != nil {
		return fmt.Errorf("failed to update endpoint status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("endpoint not found: %s", endpointID)
	}

	return nil
}
