package models

import (
	"time"
)

// 告警状态
const (
	WarningStatusActive       = "active"
	WarningStatusAcknowledged = "acknowledged"
	WarningStatusResolved     = "resolved"
	WarningStatusIgnored      = "ignored"
)

// 告警级别
const (
	SeverityMinor    = "minor"
	SeverityModerate = "moderate"
	SeverityMajor    = "major"
	SeverityCritical = "critical"
)

// 告警类型
const (
	WarningTypeVoltageHigh    = "voltage_high"
	WarningTypeVoltageLow     = "voltage_low"
	WarningTypeVoltage        = "voltage_warning"
	WarningTypeCurrent        = "current_warning"
	WarningTypePower          = "power_warning"
	WarningTypeTemperature    = "temperature_warning"
	WarningTypeHumidityHigh   = "humidity_high"
	WarningTypeHumidity       = "humidity_warning"
	WarningTypeLeakCurrent    = "leak_current_warning"
)

// 通知条目状态
const (
	NotificationStatusScheduled = "scheduled"
	NotificationStatusSent      = "sent"
	NotificationStatusFailed    = "failed"
)

// Warning 设备告警（对应 warnings 表）
// 约束：同一 (device_id, warning_type) 最多存在一条 active 记录
type Warning struct {
	ID             string     `json:"id" db:"id"`
	DeviceID       string     `json:"device_id" db:"device_id"`
	WarningType    string     `json:"warning_type" db:"warning_type"`
	Severity       string     `json:"severity" db:"severity"`
	MeasuredValue  *float64   `json:"measured_value,omitempty" db:"measured_value"`
	ThresholdValue *float64   `json:"threshold_value,omitempty" db:"threshold_value"`
	Message        string     `json:"message" db:"message"`
	Status         string     `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// WarningNotification 升级通知条目（对应 warning_notifications 表）
// 随告警一次性创建，状态单向流转 scheduled → sent/failed，不会自动重置
type WarningNotification struct {
	ID          string     `json:"id" db:"id"`
	WarningID   string     `json:"warning_id" db:"warning_id"`
	Level       int        `json:"level" db:"level"`
	ScheduledAt time.Time  `json:"scheduled_at" db:"scheduled_at"`
	Status      string     `json:"status" db:"status"`
	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	Error       *string    `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
