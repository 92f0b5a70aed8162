package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-equipment/internal/config"
	"wisefido-equipment/internal/models"
)

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *redis.Client, *CacheManager) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cfg := &config.Config{}
	cfg.Cache.SnapshotKeyPrefix = "equipment:device:"
	cfg.Cache.SnapshotSuffix = ":realtime"
	cfg.Cache.WarningSuffix = ":warnings"
	cfg.Cache.SnapshotTTL = 3600
	cfg.Cache.WarningTTL = 3600

	logger := zap.NewNop()
	cacheManager := NewCacheManager(cfg, NewRedisKVStore(redisClient), logger)

	return mr, redisClient, cacheManager
}

func TestCacheManager_UpdateSnapshotCache_Success(t *testing.T) {
	_, redisClient, cacheManager := setupTestCache(t)

	deviceID := "device-123"
	now := time.Now()
	snapshot := &models.DeviceSnapshot{
		DeviceID:   deviceID,
		Voltage:    floatPtr(231.5),
		Current:    floatPtr(2.1),
		Online:     true,
		LastSeenAt: &now,
		UpdatedAt:  now,
	}

	ctx := context.Background()
	err := cacheManager.UpdateSnapshotCache(ctx, snapshot)

	require.NoError(t, err)

	// 验证数据已写入
	key := "equipment:device:" + deviceID + ":realtime"
	val, err := redisClient.Get(ctx, key).Result()
	require.NoError(t, err)

	var cached models.DeviceSnapshot
	err = json.Unmarshal([]byte(val), &cached)
	require.NoError(t, err)
	assert.Equal(t, deviceID, cached.DeviceID)
	require.NotNil(t, cached.Voltage)
	assert.Equal(t, 231.5, *cached.Voltage)
	assert.True(t, cached.Online)
}

func TestCacheManager_GetSnapshotCache_Success(t *testing.T) {
	_, redisClient, cacheManager := setupTestCache(t)

	deviceID := "device-123"
	snapshot := &models.DeviceSnapshot{
		DeviceID: deviceID,
		Power:    floatPtr(480),
		Online:   true,
	}

	key := "equipment:device:" + deviceID + ":realtime"
	jsonData, err := json.Marshal(snapshot)
	require.NoError(t, err)

	ctx := context.Background()
	err = redisClient.Set(ctx, key, jsonData, time.Minute).Err()
	require.NoError(t, err)

	cached, err := cacheManager.GetSnapshotCache(ctx, deviceID)

	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, deviceID, cached.DeviceID)
	require.NotNil(t, cached.Power)
	assert.Equal(t, 480.0, *cached.Power)
	assert.Nil(t, cached.Voltage)
}

func TestCacheManager_GetSnapshotCache_Miss(t *testing.T) {
	_, _, cacheManager := setupTestCache(t)

	ctx := context.Background()
	cached, err := cacheManager.GetSnapshotCache(ctx, "device-not-exist")

	assert.Nil(t, cached)
	assert.Equal(t, ErrCacheMiss, err)
}

func TestCacheManager_UpdateWarningCache_Success(t *testing.T) {
	_, redisClient, cacheManager := setupTestCache(t)

	deviceID := "device-123"
	warnings := []*models.Warning{
		{
			ID:          "warning-1",
			DeviceID:    deviceID,
			WarningType: models.WarningTypeVoltageHigh,
			Severity:    models.SeverityMajor,
			Status:      models.WarningStatusActive,
		},
		{
			ID:          "warning-2",
			DeviceID:    deviceID,
			WarningType: models.WarningTypeCurrent,
			Severity:    models.SeverityModerate,
			Status:      models.WarningStatusActive,
		},
	}

	ctx := context.Background()
	err := cacheManager.UpdateWarningCache(ctx, deviceID, warnings)

	require.NoError(t, err)

	key := "equipment:device:" + deviceID + ":warnings"
	val, err := redisClient.Get(ctx, key).Result()
	require.NoError(t, err)

	var cached []*models.Warning
	err = json.Unmarshal([]byte(val), &cached)
	require.NoError(t, err)
	assert.Len(t, cached, 2)
	assert.Equal(t, "warning-1", cached[0].ID)
}

func TestCacheManager_UpdateWarningCache_EmptyList(t *testing.T) {
	_, redisClient, cacheManager := setupTestCache(t)

	deviceID := "device-123"

	// 空列表覆盖旧摘要，告警全部解决后缓存随之清空
	ctx := context.Background()
	err := cacheManager.UpdateWarningCache(ctx, deviceID, []*models.Warning{})
	require.NoError(t, err)

	key := "equipment:device:" + deviceID + ":warnings"
	val, err := redisClient.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "[]", val)
}

// 辅助函数
func floatPtr(f float64) *float64 {
	return &f
}

func boolPtr(b bool) *bool {
	return &b
}
