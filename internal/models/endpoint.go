package models

import (
	"fmt"
	"time"
)

// 端点连接状态
const (
	EndpointStatusDisconnected = "disconnected"
	EndpointStatusConnecting   = "connecting"
	EndpointStatusConnected    = "connected"
	EndpointStatusError        = "error"
)

// IngestionEndpoint 数据接入端点（对应 ingestion_endpoints 表）
// 每个端点对应一个 MQTT broker 连接和单一订阅主题，可选绑定一台设备
// 配置由外部供应流程维护；本服务只回写 status / reconnect_attempts 等运行字段
type IngestionEndpoint struct {
	ID         string  `json:"id" db:"id"`
	Name       *string `json:"name,omitempty" db:"name"`
	BrokerHost string  `json:"broker_host" db:"broker_host"`
	BrokerPort int     `json:"broker_port" db:"broker_port"`
	Topic      string  `json:"topic" db:"topic"`
	QoS        byte    `json:"qos" db:"qos"`
	Retain     bool    `json:"retain" db:"retain"`
	Username   *string `json:"username,omitempty" db:"username"`
	Password   *string `json:"password,omitempty" db:"password"`
	Keepalive  int     `json:"keepalive_seconds" db:"keepalive_seconds"` // 秒

	DeviceID *string `json:"device_id,omitempty" db:"device_id"` // 绑定设备，未绑定时报文丢弃
	Enabled  bool    `json:"enabled" db:"enabled"`

	Status            string     `json:"status" db:"status"`
	ReconnectAttempts int        `json:"reconnect_attempts" db:"reconnect_attempts"`
	LastConnectedAt   *time.Time `json:"last_connected_at,omitempty" db:"last_connected_at"`
	LastError         *string    `json:"last_error,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BrokerURL 拼接 broker 地址，如 "tcp://10.0.0.5:1883"
func (e *IngestionEndpoint) BrokerURL() string {
	if e.BrokerHost == "" {
		return ""
	}
	port := e.BrokerPort
	if port == 0 {
		port = 1883
	}
	return fmt.Sprintf("tcp://%s:%d", e.BrokerHost, port)
}
