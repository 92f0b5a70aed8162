package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-equipment/internal/config"
	"wisefido-equipment/internal/evaluator"
	"wisefido-equipment/internal/models"
	"wisefido-equipment/internal/repository"
	"wisefido-equipment/internal/store"
	"wisefido-equipment/internal/warning"
)

// fakeEscalation 记录创建的告警，代替真实升级调度器
type fakeEscalation struct {
	mu        sync.Mutex
	scheduled []*models.Warning
}

func (f *fakeEscalation) Schedule(ctx context.Context, w *models.Warning) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scheduled = append(f.scheduled, w)
	return nil
}

func (f *fakeEscalation) created() []*models.Warning {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*models.Warning, len(f.scheduled))
	copy(out, f.scheduled)
	return out
}

func setupPipeline(t *testing.T) (sqlmock.Sqlmock, *redis.Client, *fakeEscalation, *Pipeline) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cfg := &config.Config{}
	cfg.Warning.CooldownSeconds = 300
	cfg.Cache.SnapshotKeyPrefix = "equipment:device:"
	cfg.Cache.SnapshotSuffix = ":realtime"
	cfg.Cache.WarningSuffix = ":warnings"
	cfg.Cache.SnapshotTTL = 3600
	cfg.Cache.WarningTTL = 3600
	cfg.Cache.ReadingStream = "equipment:readings:stream"

	logger := zap.NewNop()
	telemetryRepo := repository.NewTelemetryRepository(db, logger)
	deviceRepo := repository.NewDeviceRepository(db, logger)
	warningRepo := repository.NewWarningRepository(db, logger)
	cache := store.NewCacheManager(cfg, store.NewRedisKVStore(redisClient), logger)
	telemetry := store.NewTelemetryStore(telemetryRepo, cache, redisClient, cfg.Cache.ReadingStream, logger)

	eval := evaluator.NewEvaluator(evaluator.DefaultProfiles(), logger)
	sched := &fakeEscalation{}
	warnings := warning.NewManager(cfg, warningRepo, sched, cache, logger)

	p := NewPipeline(telemetry, deviceRepo, eval, warnings, logger)

	return mock, redisClient, sched, p
}

var snapshotColumns = []string{
	"device_id", "voltage", "current", "power", "frequency", "power_factor",
	"temperature", "humidity", "leak_current", "machine_state", "socket_state",
	"sensor_state", "over_voltage", "under_voltage", "online", "last_seen_at", "updated_at",
}

var deviceColumns = []string{
	"id", "name", "device_type", "department", "serial_number", "created_at",
}

var warningColumns = []string{
	"id", "device_id", "warning_type", "severity", "measured_value", "threshold_value",
	"message", "status", "created_at", "updated_at", "acknowledged_at", "acknowledged_by", "resolved_at",
}

// ============================================
// 端到端链路测试
// ============================================

func TestHandleReading_BreachCreatesWarning(t *testing.T) {
	mock, redisClient, sched, p := setupPipeline(t)

	ctx := context.Background()
	deviceID := "dev-display-1"
	endpointID := "ep-1"
	payload := []byte(`{"voltage": 301.0, "timestamp": "10:00:00 01/01/2025"}`)
	deviceTime := time.Date(2025, time.January, 1, 10, 0, 0, 0, time.Local)

	// 首条读数：无快照，合并后落历史 + 快照
	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows(snapshotColumns))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO equipment_telemetry`).
		WithArgs(deviceID, endpointID, 301.0, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
			deviceTime, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO device_snapshots`).
		WithArgs(deviceID, 301.0, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
			true, deviceTime).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// 设备类型决定阈值规则
	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows(deviceColumns).
			AddRow(deviceID, "OR Display 1", models.DeviceTypeDisplay, nil, nil, time.Now()))

	// 301 > 242×1.2：voltage_high 候选，无活动告警则创建
	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID, models.WarningTypeVoltageHigh).
		WillReturnRows(sqlmock.NewRows(warningColumns))
	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID, models.WarningTypeVoltage).
		WillReturnRows(sqlmock.NewRows(warningColumns))
	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID, models.WarningTypeVoltageLow).
		WillReturnRows(sqlmock.NewRows(warningColumns))

	now := time.Now()
	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows(warningColumns).
			AddRow("warn-1", deviceID, models.WarningTypeVoltageHigh, models.SeverityMajor, 301.0, 242.0,
				"Voltage 301.00V exceeds critical threshold 290.40V", models.WarningStatusActive, now, now, nil, nil, nil))

	err := p.HandleReading(ctx, endpointID, deviceID, payload, time.Now())

	require.NoError(t, err)

	created := sched.created()
	require.Len(t, created, 1)
	assert.Equal(t, models.WarningTypeVoltageHigh, created[0].WarningType)
	assert.Equal(t, models.SeverityMajor, created[0].Severity)
	require.NotNil(t, created[0].MeasuredValue)
	assert.Equal(t, 301.0, *created[0].MeasuredValue)

	// 快照缓存 + 告警缓存 + 事件流全部就位
	snapJSON, err := redisClient.Get(ctx, "equipment:device:dev-display-1:realtime").Result()
	require.NoError(t, err)
	assert.Contains(t, snapJSON, `"voltage":301`)

	warnJSON, err := redisClient.Get(ctx, "equipment:device:dev-display-1:warnings").Result()
	require.NoError(t, err)
	assert.Contains(t, warnJSON, "warn-1")

	streamLen, err := redisClient.XLen(ctx, "equipment:readings:stream").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), streamLen)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleReading_RecoveryResolvesWarning(t *testing.T) {
	mock, redisClient, sched, p := setupPipeline(t)

	ctx := context.Background()
	deviceID := "dev-display-1"
	endpointID := "ep-1"
	payload := []byte(`{"voltage": 220.0}`)
	receivedAt := time.Now()
	lastSeen := receivedAt.Add(-time.Minute)
	createdAt := receivedAt.Add(-time.Hour)

	// 已有快照：电压 301、电流 8.5
	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows(snapshotColumns).
			AddRow(deviceID, 301.0, 8.5, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
				true, lastSeen, lastSeen))
	mock.ExpectBegin()
	// 合并结果：电压被替换，未上报的电流原样保留
	mock.ExpectExec(`INSERT INTO equipment_telemetry`).
		WithArgs(deviceID, endpointID, 220.0, 8.5, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
			receivedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO device_snapshots`).
		WithArgs(deviceID, 220.0, 8.5, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
			true, receivedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows(deviceColumns).
			AddRow(deviceID, "OR Display 1", models.DeviceTypeDisplay, nil, nil, time.Now()))

	// 220 在 [198, 242] 区间内：无候选，评估过的电压类告警解除
	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID, models.WarningTypeVoltageHigh).
		WillReturnRows(sqlmock.NewRows(warningColumns).
			AddRow("warn-1", deviceID, models.WarningTypeVoltageHigh, models.SeverityMajor, 301.0, 242.0,
				"Voltage 301.00V exceeds critical threshold 290.40V", models.WarningStatusActive, createdAt, createdAt, nil, nil, nil))
	mock.ExpectExec(`UPDATE warnings`).
		WithArgs("warn-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID, models.WarningTypeVoltage).
		WillReturnRows(sqlmock.NewRows(warningColumns))
	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID, models.WarningTypeVoltageLow).
		WillReturnRows(sqlmock.NewRows(warningColumns))

	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows(warningColumns))

	err := p.HandleReading(ctx, endpointID, deviceID, payload, receivedAt)

	require.NoError(t, err)
	assert.Empty(t, sched.created())

	warnJSON, err := redisClient.Get(ctx, "equipment:device:dev-display-1:warnings").Result()
	require.NoError(t, err)
	assert.Equal(t, "[]", warnJSON)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleReading_TimestampFallback(t *testing.T) {
	mock, _, sched, p := setupPipeline(t)

	ctx := context.Background()
	deviceID := "dev-display-1"
	endpointID := "ep-1"
	payload := []byte(`{"power": 500.0, "timestamp": "garbage"}`)
	receivedAt := time.Now()

	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows(snapshotColumns))
	mock.ExpectBegin()
	// 时间戳非法时 device_time 退回接收时间
	mock.ExpectExec(`INSERT INTO equipment_telemetry`).
		WithArgs(deviceID, endpointID, nil, nil, 500.0, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
			receivedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO device_snapshots`).
		WithArgs(deviceID, nil, nil, 500.0, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
			true, receivedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows(deviceColumns).
			AddRow(deviceID, "OR Display 1", models.DeviceTypeDisplay, nil, nil, time.Now()))

	// 500W 未超限：只检查 power_warning，无候选也无活动告警
	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID, models.WarningTypePower).
		WillReturnRows(sqlmock.NewRows(warningColumns))

	err := p.HandleReading(ctx, endpointID, deviceID, payload, receivedAt)

	require.NoError(t, err)
	assert.Empty(t, sched.created())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleReading_UnregisteredDeviceSkipsEvaluation(t *testing.T) {
	mock, redisClient, sched, p := setupPipeline(t)

	ctx := context.Background()
	deviceID := "dev-unknown"
	endpointID := "ep-1"
	payload := []byte(`{"voltage": 301.0}`)
	receivedAt := time.Now()

	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows(snapshotColumns))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO equipment_telemetry`).
		WithArgs(deviceID, endpointID, 301.0, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
			receivedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO device_snapshots`).
		WithArgs(deviceID, 301.0, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
			true, receivedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// 设备未登记：数据照常入库，跳过阈值评估
	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows(deviceColumns))

	err := p.HandleReading(ctx, endpointID, deviceID, payload, receivedAt)

	require.NoError(t, err)
	assert.Empty(t, sched.created())

	streamLen, err := redisClient.XLen(ctx, "equipment:readings:stream").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), streamLen)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleReading_UnparsableBodyDropped(t *testing.T) {
	mock, redisClient, sched, p := setupPipeline(t)

	ctx := context.Background()

	err := p.HandleReading(ctx, "ep-1", "dev-1", []byte(`not-json{{`), time.Now())

	// 整条丢弃：不触达数据库、缓存和事件流
	assert.Error(t, err)
	assert.Empty(t, sched.created())

	streamLen, err := redisClient.XLen(ctx, "equipment:readings:stream").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), streamLen)

	require.NoError(t, mock.ExpectationsWereMet())
}
