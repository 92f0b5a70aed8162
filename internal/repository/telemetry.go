package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-equipment/internal/models"

	"go.uber.org/zap"
)

// TelemetryRepository 遥测数据仓库
// 管理追加写入的历史表 equipment_telemetry 和每设备一行的快照表 device_snapshots
type TelemetryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTelemetryRepository 创建遥测数据仓库
func NewTelemetryRepository(db *sql.DB, logger *zap.Logger) *TelemetryRepository {
	return &TelemetryRepository{
		db:     db,
		logger: logger,
	}
}

// GetSnapshot 获取设备当前快照，尚无快照时返回 (nil, nil)
func (r *TelemetryRepository) GetSnapshot(ctx context.Context, deviceID string) (*models.DeviceSnapshot, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			device_id,
			voltage,
			current,
			power,
			frequency,
			power_factor,
			temperature,
			humidity,
			leak_current,
			machine_state,
			socket_state,
			sensor_state,
			over_voltage,
			under_voltage,
			online,
			last_seen_at,
			updated_at
		FROM device_snapshots
		WHERE device_id = $1
	`

	var snap models.DeviceSnapshot
	var voltage, current, power, frequency, powerFactor sql.NullFloat64
	var temperature, humidity, leakCurrent sql.NullFloat64
	var machineState, socketState, sensorState, overVoltage, underVoltage sql.NullBool
	var lastSeenAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&snap.DeviceID,
		&voltage,
		&current,
		&power,
		&frequency,
		&powerFactor,
		&temperature,
		&humidity,
		&leakCurrent,
		&machineState,
		&socketState,
		&sensorState,
		&overVoltage,
		&underVoltage,
		&snap.Online,
		&lastSeenAt,
		&snap.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 首条读数之前没有快照
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	// 处理可空字段
	if voltage.Valid {
		snap.Voltage = &voltage.Float64
	}
	if current.Valid {
		snap.Current = &current.Float64
	}
	if power.Valid {
		snap.Power = &power.Float64
	}
	if frequency.Valid {
		snap.Frequency = &frequency.Float64
	}
	if powerFactor.Valid {
		snap.PowerFactor = &powerFactor.Float64
	}
	if temperature.Valid {
		snap.Temperature = &temperature.Float64
	}
	if humidity.Valid {
		snap.Humidity = &humidity.Float64
	}
	if leakCurrent.Valid {
		snap.LeakCurrent = &leakCurrent.Float64
	}
	if machineState.Valid {
		snap.MachineState = &machineState.Bool
	}
	if socketState.Valid {
		snap.SocketState = &socketState.Bool
	}
	if sensorState.Valid {
		snap.SensorState = &sensorState.Bool
	}
	if overVoltage.Valid {
		snap.OverVoltage = &overVoltage.Bool
	}
	if underVoltage.Valid {
		snap.UnderVoltage = &underVoltage.Bool
	}
	if lastSeenAt.Valid {
		snap.LastSeenAt = &lastSeenAt.Time
	}

	return &snap, nil
}

// SaveMerged 在同一事务中写入历史记录并更新快照
// 两处写入的字段值必须完全一致，失败时整体回滚，不会出现半写入
func (r *TelemetryRepository) SaveMerged(ctx context.Context, record *models.TelemetryRecord, snapshot *models.DeviceSnapshot) error {
	if record == nil || snapshot == nil {
		return fmt.Errorf("record and snapshot are required")
	}
	if record.DeviceID != snapshot.DeviceID {
		return fmt.Errorf("record and snapshot device_id mismatch")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. 追加历史记录
	insertQuery := `
		INSERT INTO equipment_telemetry (
			device_id,
			endpoint_id,
			voltage,
			current,
			power,
			frequency,
			power_factor,
			temperature,
			humidity,
			leak_current,
			machine_state,
			socket_state,
			sensor_state,
			over_voltage,
			under_voltage,
			device_time,
			ingested_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`

	_, err = tx.ExecContext(ctx, insertQuery,
		record.DeviceID,
		record.EndpointID,
		record.Voltage,
		record.Current,
		record.Power,
		record.Frequency,
		record.PowerFactor,
		record.Temperature,
		record.Humidity,
		record.LeakCurrent,
		record.MachineState,
		record.SocketState,
		record.SensorState,
		record.OverVoltage,
		record.UnderVoltage,
		record.DeviceTime,
		record.IngestedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry record: %w", err)
	}

	// 2. upsert 快照
	upsertQuery := `
		INSERT INTO device_snapshots (
			device_id,
			voltage,
			current,
			power,
			frequency,
			power_factor,
			temperature,
			humidity,
			leak_current,
			machine_state,
			socket_state,
			sensor_state,
			over_voltage,
			under_voltage,
			online,
			last_seen_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW()
		)
		ON CONFLICT (device_id) DO UPDATE SET
			voltage = EXCLUDED.voltage,
			current = EXCLUDED.current,
			power = EXCLUDED.power,
			frequency = EXCLUDED.frequency,
			power_factor = EXCLUDED.power_factor,
			temperature = EXCLUDED.temperature,
			humidity = EXCLUDED.humidity,
			leak_current = EXCLUDED.leak_current,
			machine_state = EXCLUDED.machine_state,
			socket_state = EXCLUDED.socket_state,
			sensor_state = EXCLUDED.sensor_state,
			over_voltage = EXCLUDED.over_voltage,
			under_voltage = EXCLUDED.under_voltage,
			online = EXCLUDED.online,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = NOW()
	`

	_, err = tx.ExecContext(ctx, upsertQuery,
		snapshot.DeviceID,
		snapshot.Voltage,
		snapshot.Current,
		snapshot.Power,
		snapshot.Frequency,
		snapshot.PowerFactor,
		snapshot.Temperature,
		snapshot.Humidity,
		snapshot.LeakCurrent,
		snapshot.MachineState,
		snapshot.SocketState,
		snapshot.SensorState,
		snapshot.OverVoltage,
		snapshot.UnderVoltage,
		snapshot.Online,
		snapshot.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateConnectivity 更新快照的连接标志（端点断开/恢复时调用）
// 设备尚无快照时不报错，首条读数到达后快照自然建立
func (r *TelemetryRepository) UpdateConnectivity(ctx context.Context, deviceID string, online bool) error {
	if deviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	query := `
		UPDATE device_snapshots
		SET online = $2,
		    updated_at = NOW()
		WHERE device_id = $1
	`

	_, err := r.db.ExecContext(ctx, query, deviceID, online)
	if err != nil {
		return fmt.Errorf("failed to update connectivity: %w", err)
	}

	return nil
}

// ListRecentTelemetry 查询某时间之后的历史记录（用于导出，按时间倒序）
func (r *TelemetryRepository) ListRecentTelemetry(ctx context.Context, since time.Time, limit int) ([]*models.TelemetryRecord, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT
			id,
			device_id,
			endpoint_id,
			voltage,
			current,
			power,
			frequency,
			power_factor,
			temperature,
			humidity,
			leak_current,
			machine_state,
			socket_state,
			sensor_state,
			over_voltage,
			under_voltage,
			device_time,
			ingested_at
		FROM equipment_telemetry
		WHERE ingested_at >= $1
		ORDER BY ingested_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	records := []*models.TelemetryRecord{}
	for rows.Next() {
		var rec models.TelemetryRecord
		var voltage, current, power, frequency, powerFactor sql.NullFloat64
		var temperature, humidity, leakCurrent sql.NullFloat64
		var machineState, socketState, sensorState, overVoltage, underVoltage sql.NullBool

		err := rows.Scan(
			&rec.ID,
			&rec.DeviceID,
			&rec.EndpointID,
			&voltage,
			&current,
			&power,
			&frequency,
			&powerFactor,
			&temperature,
			&humidity,
			&leakCurrent,
			&machineState,
			&socketState,
			&sensorState,
			&overVoltage,
			&underVoltage,
			&rec.DeviceTime,
			&rec.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan telemetry record: %w", err)
		}

		if voltage.Valid {
			rec.Voltage = &voltage.Float64
		}
		if current.Valid {
			rec.Current = &current.Float64
		}
		if power.Valid {
			rec.Power = &power.Float64
		}
		if frequency.Valid {
			rec.Frequency = &frequency.Float64
		}
		if powerFactor.Valid {
			rec.PowerFactor = &powerFactor.Float64
		}
		if temperature.Valid {
			rec.Temperature = &temperature.Float64
		}
		if humidity.Valid {
			rec.Humidity = &humidity.Float64
		}
		if leakCurrent.Valid {
			rec.LeakCurrent = &leakCurrent.Float64
		}
		if machineState.Valid {
			rec.MachineState = &machineState.Bool
		}
		if socketState.Valid {
			rec.SocketState = &socketState.Bool
		}
		if sensorState.Valid {
			rec.SensorState = &sensorState.Bool
		}
		if overVoltage.Valid {
			rec.OverVoltage = &overVoltage.Bool
		}
		if underVoltage.Valid {
			rec.UnderVoltage = &underVoltage.Bool
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate telemetry records: %w", err)
	}

	return records, nil
}
