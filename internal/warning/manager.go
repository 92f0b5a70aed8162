package warning

import (
	"context"
	"sync"
	"time"

	"wisefido-equipment/internal/config"
	"wisefido-equipment/internal/evaluator"
	"wisefido-equipment/internal/models"
	"wisefido-equipment/internal/repository"
	"wisefido-equipment/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EscalationScheduler 告警创建时的升级计划入口
type EscalationScheduler interface {
	Schedule(ctx context.Context, warning *models.Warning) error
}

// Manager 告警生命周期管理器
// 约束：同一 (device_id, warning_type) 最多一条 active 告警，
// 升级计划只在创建时生成一次，后续超标只做原地更新
type Manager struct {
	config      *config.Config
	warningRepo *repository.WarningRepository
	scheduler   EscalationScheduler
	cache       *store.CacheManager
	logger      *zap.Logger

	// lastNotify 记录 (device_id:warning_type) 最近一次提醒时间，
	// 冷却窗口只控制提醒节奏，不影响告警记录本身
	mu         sync.Mutex
	lastNotify map[string]time.Time
}

// NewManager 创建告警生命周期管理器
func NewManager(
	cfg *config.Config,
	warningRepo *repository.WarningRepository,
	scheduler EscalationScheduler,
	cache *store.CacheManager,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		config:      cfg,
		warningRepo: warningRepo,
		scheduler:   scheduler,
		cache:       cache,
		logger:      logger,
		lastNotify:  make(map[string]time.Time),
	}
}

// Process 处理一次评估结果：创建/更新候选告警，解除未再超标的告警
func (m *Manager) Process(ctx context.Context, deviceID string, eval evaluator.Evaluation) error {
	now := time.Now()
	changed := false
	var firstErr error

	for _, candidate := range eval.Candidates {
		existing, err := m.warningRepo.FindActiveWarning(ctx, deviceID, candidate.Type)
		if err != nil {
			m.logger.Error("Failed to look up active warning",
				zap.String("device_id", deviceID),
				zap.String("warning_type", candidate.Type),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if existing == nil {
			if err := m.createWarning(ctx, deviceID, candidate, now); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			changed = true
			continue
		}

		if err := m.updateWarning(ctx, existing, candidate, now); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		changed = true
	}

	resolved, err := m.resolveCleared(ctx, deviceID, eval)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	if resolved {
		changed = true
	}

	if changed {
		m.refreshWarningCache(ctx, deviceID)
	}

	return firstErr
}

// createWarning 创建新告警并立即生成升级计划（含一级通知）
func (m *Manager) createWarning(ctx context.Context, deviceID string, candidate evaluator.CandidateWarning, now time.Time) error {
	measured := candidate.Measured
	threshold := candidate.Threshold

	warning := &models.Warning{
		ID:             uuid.New().String(),
		DeviceID:       deviceID,
		WarningType:    candidate.Type,
		Severity:       candidate.Severity,
		MeasuredValue:  &measured,
		ThresholdValue: &threshold,
		Message:        candidate.Message,
		Status:         models.WarningStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.scheduler.Schedule(ctx, warning); err != nil {
		m.logger.Error("Failed to create warning",
			zap.String("device_id", deviceID),
			zap.String("warning_type", candidate.Type),
			zap.Error(err))
		return err
	}

	m.markNotified(deviceID, candidate.Type, now)

	m.logger.Info("Warning created",
		zap.String("warning_id", warning.ID),
		zap.String("device_id", deviceID),
		zap.String("warning_type", candidate.Type),
		zap.String("severity", candidate.Severity),
		zap.Float64("measured_value", candidate.Measured))

	return nil
}

// updateWarning 原地更新活动告警，不生成新的升级计划
func (m *Manager) updateWarning(ctx context.Context, existing *models.Warning, candidate evaluator.CandidateWarning, now time.Time) error {
	measured := candidate.Measured
	threshold := candidate.Threshold

	err := m.warningRepo.UpdateWarningMeasurement(ctx, existing.ID, &measured, &threshold, candidate.Severity, candidate.Message)
	if err != nil {
		m.logger.Error("Failed to update active warning",
			zap.String("warning_id", existing.ID),
			zap.String("device_id", existing.DeviceID),
			zap.Error(err))
		return err
	}

	cooldown := time.Duration(m.config.Warning.CooldownSeconds) * time.Second
	if m.notifyDue(existing.DeviceID, candidate.Type, now, cooldown) {
		m.markNotified(existing.DeviceID, candidate.Type, now)
		m.logger.Warn("Warning still breaching after cooldown",
			zap.String("warning_id", existing.ID),
			zap.String("device_id", existing.DeviceID),
			zap.String("warning_type", candidate.Type),
			zap.Float64("measured_value", candidate.Measured))
	} else {
		m.logger.Debug("Warning breach continues within cooldown",
			zap.String("warning_id", existing.ID),
			zap.String("device_id", existing.DeviceID),
			zap.String("warning_type", candidate.Type))
	}

	return nil
}

// resolveCleared 解除本次评估覆盖到、且不再超标的活动告警
// 未评估的类型（本帧未携带对应字段）保持原状
func (m *Manager) resolveCleared(ctx context.Context, deviceID string, eval evaluator.Evaluation) (bool, error) {
	resolved := false
	var firstErr error

	for _, warningType := range eval.Evaluated {
		if eval.HasCandidate(warningType) {
			continue
		}

		existing, err := m.warningRepo.FindActiveWarning(ctx, deviceID, warningType)
		if err != nil {
			m.logger.Error("Failed to look up active warning",
				zap.String("device_id", deviceID),
				zap.String("warning_type", warningType),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if existing == nil {
			continue
		}

		if err := m.warningRepo.ResolveWarning(ctx, existing.ID); err != nil {
			m.logger.Error("Failed to resolve warning",
				zap.String("warning_id", existing.ID),
				zap.String("device_id", deviceID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		m.clearNotified(deviceID, warningType)
		resolved = true

		m.logger.Info("Warning resolved",
			zap.String("warning_id", existing.ID),
			zap.String("device_id", deviceID),
			zap.String("warning_type", warningType))
	}

	return resolved, firstErr
}

// Acknowledge 人工确认告警
func (m *Manager) Acknowledge(ctx context.Context, warningID, acknowledgedBy string) error {
	warning, err := m.warningRepo.GetWarning(ctx, warningID)
	if err != nil {
		return err
	}

	if err := m.warningRepo.AcknowledgeWarning(ctx, warningID, acknowledgedBy); err != nil {
		return err
	}

	m.clearNotified(warning.DeviceID, warning.WarningType)
	m.refreshWarningCache(ctx, warning.DeviceID)

	m.logger.Info("Warning acknowledged",
		zap.String("warning_id", warningID),
		zap.String("device_id", warning.DeviceID),
		zap.String("acknowledged_by", acknowledgedBy))

	return nil
}

// Ignore 人工忽略告警
func (m *Manager) Ignore(ctx context.Context, warningID string) error {
	warning, err := m.warningRepo.GetWarning(ctx, warningID)
	if err != nil {
		return err
	}

	if err := m.warningRepo.IgnoreWarning(ctx, warningID); err != nil {
		return err
	}

	m.clearNotified(warning.DeviceID, warning.WarningType)
	m.refreshWarningCache(ctx, warning.DeviceID)

	m.logger.Info("Warning ignored",
		zap.String("warning_id", warningID),
		zap.String("device_id", warning.DeviceID))

	return nil
}

// refreshWarningCache 重建设备的活动告警缓存（尽力而为）
func (m *Manager) refreshWarningCache(ctx context.Context, deviceID string) {
	warnings, err := m.warningRepo.ListActiveByDevice(ctx, deviceID)
	if err != nil {
		m.logger.Warn("Failed to list active warnings for cache",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return
	}

	if err := m.cache.UpdateWarningCache(ctx, deviceID, warnings); err != nil {
		m.logger.Warn("Failed to update warning cache",
			zap.String("device_id", deviceID),
			zap.Error(err))
	}
}

func (m *Manager) notifyDue(deviceID, warningType string, now time.Time, cooldown time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.lastNotify[notifyKey(deviceID, warningType)]
	if !ok {
		return true
	}
	return now.Sub(last) >= cooldown
}

func (m *Manager) markNotified(deviceID, warningType string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastNotify[notifyKey(deviceID, warningType)] = now
}

func (m *Manager) clearNotified(deviceID, warningType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastNotify, notifyKey(deviceID, warningType))
}

func notifyKey(deviceID, warningType string) string {
	return deviceID + ":" + warningType
}
