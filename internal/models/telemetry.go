package models

import (
	"time"
)

// DeviceSnapshot 设备实时快照（对应 device_snapshots 表，每设备一行）
// 每个测量字段保存该设备最近一次上报的值；从未上报过的字段保持 nil
type DeviceSnapshot struct {
	DeviceID string `json:"device_id" db:"device_id"`

	Voltage     *float64 `json:"voltage,omitempty" db:"voltage"`
	Current     *float64 `json:"current,omitempty" db:"current"`
	Power       *float64 `json:"power,omitempty" db:"power"`
	Frequency   *float64 `json:"frequency,omitempty" db:"frequency"`
	PowerFactor *float64 `json:"power_factor,omitempty" db:"power_factor"`

	Temperature *float64 `json:"temperature,omitempty" db:"temperature"`
	Humidity    *float64 `json:"humidity,omitempty" db:"humidity"`
	LeakCurrent *float64 `json:"leak_current,omitempty" db:"leak_current"`

	MachineState *bool `json:"machine_state,omitempty" db:"machine_state"`
	SocketState  *bool `json:"socket_state,omitempty" db:"socket_state"`
	SensorState  *bool `json:"sensor_state,omitempty" db:"sensor_state"`

	OverVoltage  *bool `json:"over_voltage,omitempty" db:"over_voltage"`
	UnderVoltage *bool `json:"under_voltage,omitempty" db:"under_voltage"`

	Online     bool       `json:"online" db:"online"`           // 连接状态（端点断开时置 false）
	LastSeenAt *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"` // 最近一次上报时间
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// TelemetryRecord 遥测历史记录（对应 equipment_telemetry 表，追加写入，不可变）
// 字段值为合并后的完整字段集，与写入时的快照完全一致
type TelemetryRecord struct {
	ID         int64  `json:"id" db:"id"`
	DeviceID   string `json:"device_id" db:"device_id"`
	EndpointID string `json:"endpoint_id" db:"endpoint_id"` // 来源端点

	Voltage     *float64 `json:"voltage,omitempty" db:"voltage"`
	Current     *float64 `json:"current,omitempty" db:"current"`
	Power       *float64 `json:"power,omitempty" db:"power"`
	Frequency   *float64 `json:"frequency,omitempty" db:"frequency"`
	PowerFactor *float64 `json:"power_factor,omitempty" db:"power_factor"`

	Temperature *float64 `json:"temperature,omitempty" db:"temperature"`
	Humidity    *float64 `json:"humidity,omitempty" db:"humidity"`
	LeakCurrent *float64 `json:"leak_current,omitempty" db:"leak_current"`

	MachineState *bool `json:"machine_state,omitempty" db:"machine_state"`
	SocketState  *bool `json:"socket_state,omitempty" db:"socket_state"`
	SensorState  *bool `json:"sensor_state,omitempty" db:"sensor_state"`

	OverVoltage  *bool `json:"over_voltage,omitempty" db:"over_voltage"`
	UnderVoltage *bool `json:"under_voltage,omitempty" db:"under_voltage"`

	DeviceTime time.Time `json:"device_time" db:"device_time"` // 设备侧时间（解析失败时等于 IngestedAt）
	IngestedAt time.Time `json:"ingested_at" db:"ingested_at"` // 服务端接收时间
}
