package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-equipment/internal/models"
	"wisefido-equipment/internal/repository"
	rediscommon "wisefido-equipment/internal/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ReadingEvent 发布到 Redis Stream 的读数事件
// 携带的是原始帧而非合并结果，下游按需自行合并
type ReadingEvent struct {
	DeviceID   string          `json:"device_id"`
	EndpointID string          `json:"endpoint_id"`
	Reading    *models.Reading `json:"reading"`
	DeviceTime time.Time       `json:"device_time"`
	IngestedAt time.Time       `json:"ingested_at"`
}

// TelemetryStore 遥测存储
// 负责把部分字段的读数帧合并进历史表和快照表
// 同一设备的合并串行执行，不同设备互不影响
type TelemetryStore struct {
	repo        *repository.TelemetryRepository
	cache       *CacheManager
	redisClient *redis.Client
	streamName  string
	logger      *zap.Logger

	mu          sync.Mutex
	deviceLocks map[string]*sync.Mutex
}

// NewTelemetryStore 创建遥测存储
func NewTelemetryStore(
	repo *repository.TelemetryRepository,
	cache *CacheManager,
	redisClient *redis.Client,
	streamName string,
	logger *zap.Logger,
) *TelemetryStore {
	return &TelemetryStore{
		repo:        repo,
		cache:       cache,
		redisClient: redisClient,
		streamName:  streamName,
		logger:      logger,
		deviceLocks: make(map[string]*sync.Mutex),
	}
}

// deviceLock 获取设备级互斥锁，同一设备的合并由它线性化
func (s *TelemetryStore) deviceLock(deviceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.deviceLocks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		s.deviceLocks[deviceID] = lock
	}
	return lock
}

// MergeAndStore 合并一条读数并持久化
// 1. 读取当前快照
// 2. 只用读数携带的字段覆盖，未携带的字段保留已知值
// 3. 同一事务写入历史记录和快照，两处字段值完全一致
// 4. 事务成功后尽力刷新缓存并发布读数事件，失败只记日志
// 返回合并后的快照
func (s *TelemetryStore) MergeAndStore(ctx context.Context, deviceID, endpointID string, reading *models.Reading, deviceTime time.Time) (*models.DeviceSnapshot, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if reading == nil {
		return nil, fmt.Errorf("reading is required")
	}

	lock := s.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := s.repo.GetSnapshot(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	ingestedAt := time.Now()
	merged := mergeSnapshot(prev, deviceID, reading, deviceTime)
	record := recordFromSnapshot(merged, endpointID, deviceTime, ingestedAt)

	if err := s.repo.SaveMerged(ctx, record, merged); err != nil {
		return nil, err
	}

	if err := s.cache.UpdateSnapshotCache(ctx, merged); err != nil {
		s.logger.Warn("failed to update snapshot cache",
			zap.String("device_id", deviceID),
			zap.Error(err))
	}

	event := &ReadingEvent{
		DeviceID:   deviceID,
		EndpointID: endpointID,
		Reading:    reading,
		DeviceTime: deviceTime,
		IngestedAt: ingestedAt,
	}
	if _, err := rediscommon.PublishJSONToStream(ctx, s.redisClient, s.streamName, event); err != nil {
		s.logger.Warn("failed to publish reading event",
			zap.String("device_id", deviceID),
			zap.String("stream", s.streamName),
			zap.Error(err))
	}

	return merged, nil
}

// SetConnectivity 更新设备在线标志并刷新缓存
// 设备尚无快照时只更新标志位不动缓存
func (s *TelemetryStore) SetConnectivity(ctx context.Context, deviceID string, online bool) error {
	if deviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	lock := s.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.UpdateConnectivity(ctx, deviceID, online); err != nil {
		return err
	}

	snap, err := s.repo.GetSnapshot(ctx, deviceID)
	if err != nil {
		s.logger.Warn("failed to reload snapshot after connectivity change",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return nil
	}
	if snap == nil {
		return nil
	}

	if err := s.cache.UpdateSnapshotCache(ctx, snap); err != nil {
		s.logger.Warn("failed to update snapshot cache",
			zap.String("device_id", deviceID),
			zap.Error(err))
	}

	return nil
}

// mergeSnapshot 以已知快照为底，用读数携带的字段覆盖
// 读数未携带的字段保持原值，绝不用空值抹掉已知状态
func mergeSnapshot(prev *models.DeviceSnapshot, deviceID string, r *models.Reading, deviceTime time.Time) *models.DeviceSnapshot {
	snap := &models.DeviceSnapshot{DeviceID: deviceID}

	if prev != nil {
		snap.Voltage = copyFloat(prev.Voltage)
		snap.Current = copyFloat(prev.Current)
		snap.Power = copyFloat(prev.Power)
		snap.Frequency = copyFloat(prev.Frequency)
		snap.PowerFactor = copyFloat(prev.PowerFactor)
		snap.Temperature = copyFloat(prev.Temperature)
		snap.Humidity = copyFloat(prev.Humidity)
		snap.LeakCurrent = copyFloat(prev.LeakCurrent)
		snap.MachineState = copyBool(prev.MachineState)
		snap.SocketState = copyBool(prev.SocketState)
		snap.SensorState = copyBool(prev.SensorState)
		snap.OverVoltage = copyBool(prev.OverVoltage)
		snap.UnderVoltage = copyBool(prev.UnderVoltage)
	}

	if r.Voltage != nil {
		snap.Voltage = copyFloat(r.Voltage)
	}
	if r.Current != nil {
		snap.Current = copyFloat(r.Current)
	}
	if r.Power != nil {
		snap.Power = copyFloat(r.Power)
	}
	if r.Frequency != nil {
		snap.Frequency = copyFloat(r.Frequency)
	}
	if r.PowerFactor != nil {
		snap.PowerFactor = copyFloat(r.PowerFactor)
	}
	if r.Temperature != nil {
		snap.Temperature = copyFloat(r.Temperature)
	}
	if r.Humidity != nil {
		snap.Humidity = copyFloat(r.Humidity)
	}
	if r.LeakCurrent != nil {
		snap.LeakCurrent = copyFloat(r.LeakCurrent)
	}
	if r.MachineState != nil {
		snap.MachineState = copyBool(r.MachineState)
	}
	if r.SocketState != nil {
		snap.SocketState = copyBool(r.SocketState)
	}
	if r.SensorState != nil {
		snap.SensorState = copyBool(r.SensorState)
	}
	if r.OverVoltage != nil {
		snap.OverVoltage = copyBool(r.OverVoltage)
	}
	if r.UnderVoltage != nil {
		snap.UnderVoltage = copyBool(r.UnderVoltage)
	}

	snap.Online = true
	snap.LastSeenAt = &deviceTime
	snap.UpdatedAt = time.Now()

	return snap
}

// recordFromSnapshot 用合并结果构建历史记录
// 历史与快照必须反映同一组字段值
func recordFromSnapshot(snap *models.DeviceSnapshot, endpointID string, deviceTime, ingestedAt time.Time) *models.TelemetryRecord {
	return &models.TelemetryRecord{
		DeviceID:     snap.DeviceID,
		EndpointID:   endpointID,
		Voltage:      copyFloat(snap.Voltage),
		Current:      copyFloat(snap.Current),
		Power:        copyFloat(snap.Power),
		Frequency:    copyFloat(snap.Frequency),
		PowerFactor:  copyFloat(snap.PowerFactor),
		Temperature:  copyFloat(snap.Temperature),
		Humidity:     copyFloat(snap.Humidity),
		LeakCurrent:  copyFloat(snap.LeakCurrent),
		MachineState: copyBool(snap.MachineState),
		SocketState:  copyBool(snap.SocketState),
		SensorState:  copyBool(snap.SensorState),
		OverVoltage:  copyBool(snap.OverVoltage),
		UnderVoltage: copyBool(snap.UnderVoltage),
		DeviceTime:   deviceTime,
		IngestedAt:   ingestedAt,
	}
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
