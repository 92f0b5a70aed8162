package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-equipment/internal/config"
	"wisefido-equipment/internal/models"
	"wisefido-equipment/internal/notifier"
	"wisefido-equipment/internal/repository"
	"wisefido-equipment/internal/store"
)

// levelDelays 升级级别相对告警创建时刻的固定延迟
// 级别 1 在创建时同步发送，其余由周期扫描触发
var levelDelays = [5]time.Duration{
	0,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
}

// Scheduler 升级调度器
// 告警创建时落盘完整升级计划，周期扫描派发到期条目并清理过期数据
type Scheduler struct {
	config      *config.Config
	warningRepo *repository.WarningRepository
	notifRepo   *repository.NotificationRepository
	cache       *store.CacheManager
	notifier    notifier.Notifier
	logger      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler 创建升级调度器
func NewScheduler(
	cfg *config.Config,
	warningRepo *repository.WarningRepository,
	notifRepo *repository.NotificationRepository,
	cache *store.CacheManager,
	n notifier.Notifier,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		config:      cfg,
		warningRepo: warningRepo,
		notifRepo:   notifRepo,
		cache:       cache,
		notifier:    n,
		logger:      logger,
	}
}

// Plan 为新告警生成全部升级通知条目
func Plan(warning *models.Warning) []*models.WarningNotification {
	notifications := make([]*models.WarningNotification, 0, len(levelDelays))
	for i, delay := range levelDelays {
		notifications = append(notifications, &models.WarningNotification{
			ID:          uuid.New().String(),
			WarningID:   warning.ID,
			Level:       i + 1,
			ScheduledAt: warning.CreatedAt.Add(delay),
			Status:      models.NotificationStatusScheduled,
			CreatedAt:   warning.CreatedAt,
		})
	}
	return notifications
}

// Schedule 持久化新告警及其升级计划，并同步发送级别 1
// 告警和计划在同一事务中落盘，级别 1 发送失败只标记不回滚
func (s *Scheduler) Schedule(ctx context.Context, warning *models.Warning) error {
	if warning == nil {
		return fmt.Errorf("warning is required")
	}

	notifications := Plan(warning)

	if err := s.warningRepo.CreateWithSchedule(ctx, warning, notifications); err != nil {
		return fmt.Errorf("failed to persist escalation schedule: %w", err)
	}

	s.logger.Info("escalation schedule created",
		zap.String("warning_id", warning.ID),
		zap.String("device_id", warning.DeviceID),
		zap.String("warning_type", warning.WarningType),
		zap.Int("levels", len(notifications)),
	)

	// 级别 1 立即发送
	s.dispatch(ctx, notifications[0], warning)

	return nil
}

// Start 启动周期扫描和清理
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.sweepLoop(runCtx)
	go s.cleanupLoop(runCtx)

	s.logger.Info("escalation scheduler started",
		zap.Int("sweep_interval_seconds", s.config.Escalation.SweepIntervalSeconds),
		zap.Int("cleanup_interval_seconds", s.config.Escalation.CleanupIntervalSeconds),
	)
}

// Stop 停止调度器并等待在途扫描结束
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("escalation scheduler stopped")
}

// sweepLoop 周期扫描循环，启动时先跑一轮补发停机期间到期的条目
func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.config.Escalation.SweepIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.sweep(ctx); err != nil {
		s.logger.Error("escalation sweep failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("escalation sweep failed", zap.Error(err))
			}
		}
	}
}

// cleanupLoop 周期清理循环
func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.config.Escalation.CleanupIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.cleanup(ctx); err != nil {
		s.logger.Error("escalation cleanup failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanup(ctx); err != nil {
				s.logger.Error("escalation cleanup failed", zap.Error(err))
			}
		}
	}
}

// sweep 派发所有到期且告警仍活动的通知条目
// 逐条顺序发送，条目之间留小间隔，单条失败不影响后续
func (s *Scheduler) sweep(ctx context.Context) error {
	due, err := s.notifRepo.DueNotifications(ctx, time.Now(), 100)
	if err != nil {
		return fmt.Errorf("failed to load due notifications: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	sendDelay := time.Duration(s.config.Escalation.SendDelayMillis) * time.Millisecond

	dispatched := 0
	for i, d := range due {
		if ctx.Err() != nil {
			break
		}

		s.dispatch(ctx, d.Notification, d.Warning)
		dispatched++

		if i < len(due)-1 && sendDelay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sendDelay):
			}
		}
	}

	s.logger.Info("escalation sweep completed",
		zap.Int("due", len(due)),
		zap.Int("dispatched", dispatched),
	)

	return nil
}

// dispatch 发送单条通知并标记结果
// 发送失败记为 failed，不重试
func (s *Scheduler) dispatch(ctx context.Context, notification *models.WarningNotification, warning *models.Warning) {
	event := s.buildEvent(ctx, notification, warning)

	_, err := s.notifier.Notify(ctx, event)
	if err != nil {
		s.logger.Error("notification send failed",
			zap.String("notification_id", notification.ID),
			zap.String("warning_id", warning.ID),
			zap.Int("level", notification.Level),
			zap.Error(err),
		)
		if markErr := s.notifRepo.MarkNotificationFailed(ctx, notification.ID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark notification failed",
				zap.String("notification_id", notification.ID),
				zap.Error(markErr),
			)
		}
		return
	}

	if err := s.notifRepo.MarkNotificationSent(ctx, notification.ID); err != nil {
		s.logger.Error("failed to mark notification sent",
			zap.String("notification_id", notification.ID),
			zap.Error(err),
		)
	}
}

// buildEvent 组装通知事件，尽力附上实时快照
func (s *Scheduler) buildEvent(ctx context.Context, notification *models.WarningNotification, warning *models.Warning) *notifier.Event {
	event := &notifier.Event{
		WarningID:   warning.ID,
		DeviceID:    warning.DeviceID,
		WarningType: warning.WarningType,
		Severity:    warning.Severity,
		Level:       notification.Level,
		Measured:    warning.MeasuredValue,
		Threshold:   warning.ThresholdValue,
		Message:     warning.Message,
		TriggeredAt: warning.CreatedAt,
		SentAt:      time.Now(),
	}

	snap, err := s.cache.GetSnapshotCache(ctx, warning.DeviceID)
	if err != nil {
		if err != store.ErrCacheMiss {
			s.logger.Debug("failed to load snapshot for notification",
				zap.String("device_id", warning.DeviceID),
				zap.Error(err),
			)
		}
		return event
	}

	event.Snapshot = snap
	return event
}

// cleanup 删除超过保留期的已解决告警和终态通知条目
func (s *Scheduler) cleanup(ctx context.Context) error {
	now := time.Now()

	warningCutoff := now.AddDate(0, 0, -s.config.Escalation.WarningRetentionDays)
	warningsDeleted, err := s.warningRepo.DeleteResolvedBefore(ctx, warningCutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up resolved warnings: %w", err)
	}

	notifCutoff := now.AddDate(0, 0, -s.config.Escalation.NotificationRetentionDays)
	notificationsDeleted, err := s.notifRepo.DeleteTerminalBefore(ctx, notifCutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up terminal notifications: %w", err)
	}

	if warningsDeleted > 0 || notificationsDeleted > 0 {
		s.logger.Info("escalation cleanup completed",
			zap.Int64("warnings_deleted", warningsDeleted),
			zap.Int64("notifications_deleted", notificationsDeleted),
		)
	}

	return nil
}
