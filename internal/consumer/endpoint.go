package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-equipment/internal/config"
	"wisefido-equipment/internal/models"
	"wisefido-equipment/internal/mqtt"
	"wisefido-equipment/internal/repository"
	"wisefido-equipment/internal/store"

	"go.uber.org/zap"
)

// readingSink 已绑定端点的报文出口
type readingSink interface {
	HandleReading(ctx context.Context, endpointID, deviceID string, payload []byte, receivedAt time.Time) error
}

// endpointConn 单端点连接状态机
// 状态流转：disconnected → connecting → {connected | error}
// connected 意外断开后重新进入 connecting，退避到上限后停在 disconnected 等待人工重试
type endpointConn struct {
	endpoint  *models.IngestionEndpoint
	config    *config.Config
	repo      *repository.EndpointRepository
	telemetry *store.TelemetryStore
	sink      readingSink
	logger    *zap.Logger

	mu       sync.Mutex
	client   *mqtt.Client
	status   string
	attempts int
	timer    *time.Timer
	stopped  bool
}

func newEndpointConn(
	endpoint *models.IngestionEndpoint,
	cfg *config.Config,
	repo *repository.EndpointRepository,
	telemetry *store.TelemetryStore,
	sink readingSink,
	logger *zap.Logger,
) *endpointConn {
	return &endpointConn{
		endpoint:  endpoint,
		config:    cfg,
		repo:      repo,
		telemetry: telemetry,
		sink:      sink,
		logger:    logger,
		status:    models.EndpointStatusDisconnected,
	}
}

// reconnectDelay 指数退避：base × 2^attempt 秒
func reconnectDelay(baseSeconds, attempt int) time.Duration {
	return time.Duration(baseSeconds) * time.Second << uint(attempt)
}

// connect 建立连接，立即返回，结果通过回调异步到达
// 已在连接中/已连接时为空操作
func (c *endpointConn) connect(ctx context.Context) {
	c.mu.Lock()
	if c.stopped || c.status == models.EndpointStatusConnecting || c.status == models.EndpointStatusConnected {
		c.mu.Unlock()
		return
	}

	// 配置缺陷只隔离本端点，不影响其他端点
	if c.endpoint.BrokerHost == "" {
		c.status = models.EndpointStatusError
		c.mu.Unlock()

		c.logger.Error("Endpoint has no broker host configured",
			zap.String("endpoint_id", c.endpoint.ID))
		errMsg := "broker host is not configured"
		c.persistStatus(ctx, models.EndpointStatusError, &errMsg)
		return
	}

	c.status = models.EndpointStatusConnecting
	client := mqtt.NewClient(&mqtt.Options{
		Broker:           c.endpoint.BrokerURL(),
		ClientID:         "wisefido-equipment-" + c.endpoint.ID,
		Username:         strValue(c.endpoint.Username),
		Password:         strValue(c.endpoint.Password),
		Keepalive:        time.Duration(c.endpoint.Keepalive) * time.Second,
		ConnectTimeout:   10 * time.Second,
		OnConnect:        c.onConnect,
		OnConnectionLost: c.onConnectionLost,
	})
	c.client = client
	c.mu.Unlock()

	c.persistStatus(ctx, models.EndpointStatusConnecting, nil)
	c.logger.Info("Connecting to endpoint broker",
		zap.String("endpoint_id", c.endpoint.ID),
		zap.String("broker", c.endpoint.BrokerURL()),
		zap.String("topic", c.endpoint.Topic))

	go func() {
		if err := client.Connect(); err != nil {
			c.logger.Error("Endpoint connection failed",
				zap.String("endpoint_id", c.endpoint.ID),
				zap.String("broker", c.endpoint.BrokerURL()),
				zap.Error(err))

			c.mu.Lock()
			c.status = models.EndpointStatusError
			c.mu.Unlock()

			errMsg := err.Error()
			c.persistStatus(context.Background(), models.EndpointStatusError, &errMsg)
			c.scheduleReconnect()
		}
		// 成功路径由 onConnect 回调接管
	}()
}

// onConnect 连接建立后订阅端点主题并清零退避计数
func (c *endpointConn) onConnect() {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return
	}

	if err := client.Subscribe(c.endpoint.Topic, c.endpoint.QoS, c.handleMessage); err != nil {
		c.logger.Error("Failed to subscribe after connect",
			zap.String("endpoint_id", c.endpoint.ID),
			zap.String("topic", c.endpoint.Topic),
			zap.Error(err))

		c.mu.Lock()
		c.status = models.EndpointStatusError
		c.mu.Unlock()

		errMsg := err.Error()
		c.persistStatus(context.Background(), models.EndpointStatusError, &errMsg)
		client.Disconnect()
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	c.status = models.EndpointStatusConnected
	c.attempts = 0
	c.mu.Unlock()

	c.persistStatus(context.Background(), models.EndpointStatusConnected, nil)
	c.logger.Info("Endpoint connected",
		zap.String("endpoint_id", c.endpoint.ID),
		zap.String("topic", c.endpoint.Topic))
}

// onConnectionLost 意外断开后标记设备离线并调度重连
func (c *endpointConn) onConnectionLost(err error) {
	c.logger.Warn("Endpoint connection lost",
		zap.String("endpoint_id", c.endpoint.ID),
		zap.Error(err))

	c.mu.Lock()
	stopped := c.stopped
	c.status = models.EndpointStatusDisconnected
	c.mu.Unlock()

	c.markDeviceOffline(context.Background())

	if stopped {
		return
	}

	errMsg := err.Error()
	c.persistStatus(context.Background(), models.EndpointStatusDisconnected, &errMsg)
	c.scheduleReconnect()
}

// scheduleReconnect 按指数退避调度下一次连接
// 超过次数上限后停在 disconnected，等待人工重试
func (c *endpointConn) scheduleReconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if c.attempts >= c.config.Endpoint.MaxReconnectAttempts {
		c.status = models.EndpointStatusDisconnected
		attempts := c.attempts
		c.mu.Unlock()

		c.logger.Error("Max reconnect attempts reached, endpoint stays disconnected",
			zap.String("endpoint_id", c.endpoint.ID),
			zap.Int("attempts", attempts))
		errMsg := "max reconnect attempts reached"
		c.persistStatus(context.Background(), models.EndpointStatusDisconnected, &errMsg)
		return
	}

	delay := reconnectDelay(c.config.Endpoint.ReconnectBaseSeconds, c.attempts)
	c.attempts++
	attempt := c.attempts

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		// 定时器触发时从 error/disconnected 回到可连接状态
		if c.status == models.EndpointStatusError {
			c.status = models.EndpointStatusDisconnected
		}
		c.mu.Unlock()
		c.connect(context.Background())
	})
	c.mu.Unlock()

	c.logger.Info("Reconnect scheduled",
		zap.String("endpoint_id", c.endpoint.ID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
}

// handleMessage 处理订阅消息（同一端点内按到达顺序串行）
func (c *endpointConn) handleMessage(topic string, payload []byte) error {
	receivedAt := time.Now()

	// 未绑定设备的端点不得污染任何设备的历史，整条丢弃
	if c.endpoint.DeviceID == nil {
		c.logger.Info("Discarding message from unassigned endpoint",
			zap.String("endpoint_id", c.endpoint.ID),
			zap.String("topic", topic),
			zap.Int("payload_size", len(payload)))
		return nil
	}

	return c.sink.HandleReading(context.Background(), c.endpoint.ID, *c.endpoint.DeviceID, payload, receivedAt)
}

// publish 向端点主题发布消息，未连接时直接失败
func (c *endpointConn) publish(payload []byte) error {
	c.mu.Lock()
	client := c.client
	status := c.status
	c.mu.Unlock()

	if client == nil || status != models.EndpointStatusConnected {
		return fmt.Errorf("endpoint is not connected: %s", c.endpoint.ID)
	}

	return client.Publish(c.endpoint.Topic, c.endpoint.QoS, c.endpoint.Retain, payload)
}

// retry 人工重试：清零退避计数后重新连接
func (c *endpointConn) retry(ctx context.Context) {
	c.mu.Lock()
	c.stopped = false
	c.attempts = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.status == models.EndpointStatusError {
		c.status = models.EndpointStatusDisconnected
	}
	c.mu.Unlock()

	c.connect(ctx)
}

// stop 断开连接并取消待执行的重连定时器
func (c *endpointConn) stop(ctx context.Context) {
	c.mu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	client := c.client
	c.client = nil
	c.status = models.EndpointStatusDisconnected
	c.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect()
	}

	c.persistStatus(ctx, models.EndpointStatusDisconnected, nil)
	c.markDeviceOffline(ctx)

	c.logger.Info("Endpoint disconnected",
		zap.String("endpoint_id", c.endpoint.ID))
}

// currentStatus 当前连接状态
func (c *endpointConn) currentStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// persistStatus 回写连接状态（尽力而为，失败不阻塞状态机）
func (c *endpointConn) persistStatus(ctx context.Context, status string, lastError *string) {
	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()

	if err := c.repo.UpdateEndpointStatus(ctx, c.endpoint.ID, status, attempts, lastError); err != nil {
		c.logger.Warn("Failed to persist endpoint status",
			zap.String("endpoint_id", c.endpoint.ID),
			zap.String("status", status),
			zap.Error(err))
	}
}

// markDeviceOffline 端点断开时将绑定设备标记为离线（尽力而为）
func (c *endpointConn) markDeviceOffline(ctx context.Context) {
	if c.endpoint.DeviceID == nil {
		return
	}

	if err := c.telemetry.SetConnectivity(ctx, *c.endpoint.DeviceID, false); err != nil {
		c.logger.Warn("Failed to mark device offline",
			zap.String("device_id", *c.endpoint.DeviceID),
			zap.Error(err))
	}
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
