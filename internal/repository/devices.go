package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-equipment/internal/models"

	"go.uber.org/zap"
)

// DeviceRepository 设备档案仓库（只读，供应流程负责写入）
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建设备档案仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// GetDevice 根据 ID 获取设备，不存在时返回 (nil, nil)
func (r *DeviceRepository) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			id,
			name,
			device_type,
			department,
			serial_number,
			created_at
		FROM devices
		WHERE id = $1
	`

	var device models.Device
	var department, serialNumber sql.NullString

	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&device.ID,
		&device.Name,
		&device.DeviceType,
		&department,
		&serialNumber,
		&device.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 设备未登记
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	if department.Valid {
		device.Department = &department.String
	}
	if serialNumber.Valid {
		device.SerialNumber = &serialNumber.String
	}

	return &device, nil
}
