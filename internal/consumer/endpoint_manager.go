package consumer

import (
	"context"
	"fmt"
	"sync"

	"wisefido-equipment/internal/config"
	"wisefido-equipment/internal/repository"
	"wisefido-equipment/internal/store"

	"go.uber.org/zap"
)

// EndpointManager 端点连接管理器
// 持有全部端点状态机的注册表，每个端点独立连接、独立退避，互不影响
type EndpointManager struct {
	config       *config.Config
	endpointRepo *repository.EndpointRepository
	telemetry    *store.TelemetryStore
	sink         readingSink
	logger       *zap.Logger

	mu    sync.Mutex
	conns map[string]*endpointConn
}

// NewEndpointManager 创建端点连接管理器
func NewEndpointManager(
	cfg *config.Config,
	endpointRepo *repository.EndpointRepository,
	telemetry *store.TelemetryStore,
	pipeline *Pipeline,
	logger *zap.Logger,
) *EndpointManager {
	return &EndpointManager{
		config:       cfg,
		endpointRepo: endpointRepo,
		telemetry:    telemetry,
		sink:         pipeline,
		logger:       logger,
		conns:        make(map[string]*endpointConn),
	}
}

// InitializeAll 加载所有启用端点并逐一建立连接
// 可重复调用：已在连接中/已连接的端点保持不动
func (m *EndpointManager) InitializeAll(ctx context.Context) error {
	endpoints, err := m.endpointRepo.ListEnabledEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to load endpoints: %w", err)
	}

	for _, ep := range endpoints {
		m.mu.Lock()
		conn, ok := m.conns[ep.ID]
		if !ok {
			conn = newEndpointConn(ep, m.config, m.endpointRepo, m.telemetry, m.sink, m.logger)
			m.conns[ep.ID] = conn
		}
		m.mu.Unlock()

		conn.connect(ctx)
	}

	m.logger.Info("Endpoint manager initialized",
		zap.Int("endpoint_count", len(endpoints)))

	return nil
}

// Connect 人工重连单个端点（清零退避计数）
func (m *EndpointManager) Connect(ctx context.Context, endpointID string) error {
	conn, err := m.conn(endpointID)
	if err != nil {
		return err
	}

	conn.retry(ctx)
	return nil
}

// Disconnect 断开单个端点并取消待执行的重连
func (m *EndpointManager) Disconnect(ctx context.Context, endpointID string) error {
	conn, err := m.conn(endpointID)
	if err != nil {
		return err
	}

	conn.stop(ctx)
	return nil
}

// DisconnectAll 关停全部端点，取消所有重连定时器后返回
func (m *EndpointManager) DisconnectAll(ctx context.Context) {
	m.mu.Lock()
	conns := make([]*endpointConn, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		conn.stop(ctx)
	}

	m.logger.Info("All endpoints disconnected",
		zap.Int("endpoint_count", len(conns)))
}

// Publish 向端点的订阅主题发布消息，未连接时失败
func (m *EndpointManager) Publish(endpointID string, payload []byte) error {
	conn, err := m.conn(endpointID)
	if err != nil {
		return err
	}

	return conn.publish(payload)
}

// Status 查询端点当前连接状态
func (m *EndpointManager) Status(endpointID string) (string, error) {
	conn, err := m.conn(endpointID)
	if err != nil {
		return "", err
	}

	return conn.currentStatus(), nil
}

func (m *EndpointManager) conn(endpointID string) (*endpointConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[endpointID]
	if !ok {
		return nil, fmt.Errorf("endpoint not managed: %s", endpointID)
	}
	return conn, nil
}
