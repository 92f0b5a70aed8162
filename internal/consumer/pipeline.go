package consumer

import (
	"context"
	"time"

	"wisefido-equipment/internal/evaluator"
	"wisefido-equipment/internal/repository"
	"wisefido-equipment/internal/store"
	"wisefido-equipment/internal/warning"

	"go.uber.org/zap"
)

// Pipeline 读数处理管道：解析 → 合并落盘 → 阈值评估 → 告警生命周期
// 每个端点串行调用，同一设备的合并由 TelemetryStore 串行化
type Pipeline struct {
	telemetry  *store.TelemetryStore
	deviceRepo *repository.DeviceRepository
	evaluator  *evaluator.Evaluator
	warnings   *warning.Manager
	logger     *zap.Logger
}

// NewPipeline 创建读数处理管道
func NewPipeline(
	telemetry *store.TelemetryStore,
	deviceRepo *repository.DeviceRepository,
	eval *evaluator.Evaluator,
	warnings *warning.Manager,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		telemetry:  telemetry,
		deviceRepo: deviceRepo,
		evaluator:  eval,
		warnings:   warnings,
		logger:     logger,
	}
}

// HandleReading 处理一条来自已绑定端点的报文
func (p *Pipeline) HandleReading(ctx context.Context, endpointID, deviceID string, payload []byte, receivedAt time.Time) error {
	// 1. 解析报文，解析失败整条丢弃，不影响连接
	reading, err := ParseWireMessage(payload)
	if err != nil {
		p.logger.Warn("Dropping unparsable message",
			zap.String("endpoint_id", endpointID),
			zap.String("device_id", deviceID),
			zap.Int("payload_size", len(payload)),
			zap.Error(err))
		return err
	}

	// 2. 设备侧时间戳缺失或非法时退回接收时间
	deviceTime := receivedAt
	if reading.Timestamp != "" {
		parsed, err := ParseDeviceTime(reading.Timestamp)
		if err != nil {
			p.logger.Debug("Falling back to ingestion time",
				zap.String("device_id", deviceID),
				zap.String("timestamp", reading.Timestamp))
		} else {
			deviceTime = parsed
		}
	}

	// 3. 合并落盘（历史 + 快照 + 缓存 + 事件流）
	if _, err := p.telemetry.MergeAndStore(ctx, deviceID, endpointID, reading, deviceTime); err != nil {
		p.logger.Error("Failed to store reading",
			zap.String("endpoint_id", endpointID),
			zap.String("device_id", deviceID),
			zap.Error(err))
		return err
	}

	// 4. 设备类型决定阈值规则，未登记的设备只存不评估
	device, err := p.deviceRepo.GetDevice(ctx, deviceID)
	if err != nil {
		p.logger.Error("Failed to load device for evaluation",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return err
	}
	if device == nil {
		p.logger.Warn("Device not registered, skipping threshold evaluation",
			zap.String("device_id", deviceID),
			zap.String("endpoint_id", endpointID))
		return nil
	}

	// 5. 阈值评估 + 告警生命周期
	eval := p.evaluator.Evaluate(device.DeviceType, reading)
	if err := p.warnings.Process(ctx, deviceID, eval); err != nil {
		p.logger.Error("Failed to process warnings",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return err
	}

	p.logger.Debug("Reading processed",
		zap.String("endpoint_id", endpointID),
		zap.String("device_id", deviceID),
		zap.Int("candidates", len(eval.Candidates)))

	return nil
}
