package consumer

import (
	"encoding/json"
	"fmt"
	"time"

	"wisefido-equipment/internal/models"
)

// deviceTimeLayout 设备侧时间戳格式 "HH:mm:ss DD/MM/YYYY"
const deviceTimeLayout = "15:04:05 02/01/2006"

// ParseWireMessage 解析端点上报的扁平 JSON 报文
// 所有测量字段均可缺省，缺省字段保持 nil，与显式 0/false 严格区分
func ParseWireMessage(payload []byte) (*models.Reading, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var reading models.Reading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reading: %w", err)
	}

	return &reading, nil
}

// ParseDeviceTime 解析设备侧时间戳
// 按本地墙钟时间解释，不做时区换算
func ParseDeviceTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}

	t, err := time.ParseInLocation(deviceTimeLayout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse device timestamp %q: %w", value, err)
	}

	return t, nil
}
