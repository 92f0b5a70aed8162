package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-equipment/internal/config"
	"wisefido-equipment/internal/models"

	"go.uber.org/zap"
)

// CacheManager Redis 缓存管理器
// 维护每设备的实时快照缓存和活动告警摘要缓存
type CacheManager struct {
	config *config.Config
	kv     KVStore
	logger *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	kv KVStore,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config: cfg,
		kv:     kv,
		logger: logger,
	}
}

// snapshotKey 构建快照缓存键
func (c *CacheManager) snapshotKey(deviceID string) string {
	return fmt.Sprintf("%s%s%s",
		c.config.Cache.SnapshotKeyPrefix,
		deviceID,
		c.config.Cache.SnapshotSuffix,
	)
}

// warningKey 构建告警摘要缓存键
func (c *CacheManager) warningKey(deviceID string) string {
	return fmt.Sprintf("%s%s%s",
		c.config.Cache.SnapshotKeyPrefix,
		deviceID,
		c.config.Cache.WarningSuffix,
	)
}

// UpdateSnapshotCache 更新设备实时快照缓存
func (c *CacheManager) UpdateSnapshotCache(ctx context.Context, snapshot *models.DeviceSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}

	key := c.snapshotKey(snapshot.DeviceID)

	jsonData, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	err = c.kv.Set(ctx, key, string(jsonData),
		time.Duration(c.config.Cache.SnapshotTTL)*time.Second)
	if err != nil {
		return fmt.Errorf("failed to set snapshot cache: %w", err)
	}

	c.logger.Debug("Updated snapshot cache",
		zap.String("device_id", snapshot.DeviceID),
		zap.String("key", key),
	)

	return nil
}

// GetSnapshotCache 读取设备实时快照缓存
// 缓存不存在时返回 ErrCacheMiss
func (c *CacheManager) GetSnapshotCache(ctx context.Context, deviceID string) (*models.DeviceSnapshot, error) {
	key := c.snapshotKey(deviceID)

	val, err := c.kv.Get(ctx, key)
	if err != nil {
		if err == ErrCacheMiss {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get snapshot cache: %w", err)
	}

	var snapshot models.DeviceSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// UpdateWarningCache 更新设备活动告警摘要缓存
func (c *CacheManager) UpdateWarningCache(ctx context.Context, deviceID string, warnings []*models.Warning) error {
	if deviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	key := c.warningKey(deviceID)

	jsonData, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	err = c.kv.Set(ctx, key, string(jsonData),
		time.Duration(c.config.Cache.WarningTTL)*time.Second)
	if err != nil {
		return fmt.Errorf("failed to set warning cache: %w", err)
	}

	c.logger.Debug("Updated warning cache",
		zap.String("device_id", deviceID),
		zap.String("key", key),
		zap.Int("warning_count", len(warnings)),
	)

	return nil
}
