package models

import (
	"time"
)

// 设备类型（决定阈值评估规则）
const (
	DeviceTypeDisplay     = "display"     // 医用显示器
	DeviceTypeSocket      = "socket"      // 智能插座
	DeviceTypeEnvironment = "environment" // 环境/绝缘监测传感器
)

// Device 设备档案（对应 devices 表，由外部供应流程维护，本服务只读）
type Device struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	DeviceType   string    `json:"device_type" db:"device_type"`
	Department   *string   `json:"department,omitempty" db:"department"`
	SerialNumber *string   `json:"serial_number,omitempty" db:"serial_number"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
