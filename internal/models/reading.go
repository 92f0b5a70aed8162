package models

// Reading 单条设备上报（可能只包含部分字段）
// 指针为 nil 表示该字段本次未上报，与“值为 0/false”严格区分
type Reading struct {
	// 电气测量
	Voltage     *float64 `json:"voltage,omitempty"`      // 电压 (V)
	Current     *float64 `json:"current,omitempty"`      // 电流 (A)
	Power       *float64 `json:"power,omitempty"`        // 功率 (W)
	Frequency   *float64 `json:"frequency,omitempty"`    // 频率 (Hz)
	PowerFactor *float64 `json:"power_factor,omitempty"` // 功率因数

	// 环境测量（environment 类型设备上报）
	Temperature *float64 `json:"temperature,omitempty"`  // 温度 (°C)
	Humidity    *float64 `json:"humidity,omitempty"`     // 湿度 (%RH)
	LeakCurrent *float64 `json:"leak_current,omitempty"` // 漏电流 (mA)

	// 状态标志
	MachineState *bool `json:"machine_state,omitempty"` // 机器运行状态
	SocketState  *bool `json:"socket_state,omitempty"`  // 插座通断状态
	SensorState  *bool `json:"sensor_state,omitempty"`  // 传感器状态

	// 告警标志（设备侧硬件判断）
	OverVoltage  *bool `json:"over_voltage,omitempty"`  // 过压标志
	UnderVoltage *bool `json:"under_voltage,omitempty"` // 欠压标志

	// 设备侧时间戳，格式 "HH:mm:ss DD/MM/YYYY"，可缺省
	Timestamp string `json:"timestamp,omitempty"`
}

// IsEmpty 是否不含任何测量字段
func (r *Reading) IsEmpty() bool {
	return r.Voltage == nil && r.Current == nil && r.Power == nil &&
		r.Frequency == nil && r.PowerFactor == nil &&
		r.Temperature == nil && r.Humidity == nil && r.LeakCurrent == nil &&
		r.MachineState == nil && r.SocketState == nil && r.SensorState == nil &&
		r.OverVoltage == nil && r.UnderVoltage == nil
}
