package evaluator

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"wisefido-equipment/internal/models"
)

// ThresholdProfile 设备类型阈值配置
// 运行期只读，未配置的字段不参与评估
type ThresholdProfile struct {
	VoltageMin     *float64 `yaml:"voltage_min"`
	VoltageMax     *float64 `yaml:"voltage_max"`
	CurrentMax     *float64 `yaml:"current_max"`
	PowerMax       *float64 `yaml:"power_max"`
	TemperatureMax *float64 `yaml:"temperature_max"`
	HumidityMax    *float64 `yaml:"humidity_max"`
	LeakSoft       *float64 `yaml:"leak_soft"`
	LeakStrong     *float64 `yaml:"leak_strong"`
	LeakShutdown   *float64 `yaml:"leak_shutdown"`
}

// DefaultProfiles 内置阈值，按 220V 标称电压和医疗场所漏电分级取值
func DefaultProfiles() map[string]*ThresholdProfile {
	return map[string]*ThresholdProfile{
		models.DeviceTypeDisplay: {
			VoltageMin: f(198),
			VoltageMax: f(242),
			CurrentMax: f(10),
			PowerMax:   f(2200),
		},
		models.DeviceTypeSocket: {
			VoltageMin: f(198),
			VoltageMax: f(242),
			CurrentMax: f(16),
			PowerMax:   f(3500),
		},
		models.DeviceTypeEnvironment: {
			TemperatureMax: f(40),
			HumidityMax:    f(70),
			LeakSoft:       f(1),
			LeakStrong:     f(3),
			LeakShutdown:   f(10),
		},
	}
}

// LoadProfiles 加载阈值配置
// path 为空时使用内置默认值，文件中的字段逐项覆盖对应设备类型的默认值
func LoadProfiles(path string, logger *zap.Logger) (map[string]*ThresholdProfile, error) {
	profiles := DefaultProfiles()

	if path == "" {
		logger.Info("using built-in threshold profiles")
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read thresholds file: %w", err)
	}

	overrides := map[string]*ThresholdProfile{}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds file: %w", err)
	}

	for deviceType, override := range overrides {
		if override == nil {
			continue
		}
		base, ok := profiles[deviceType]
		if !ok {
			profiles[deviceType] = override
			continue
		}
		mergeProfile(base, override)
	}

	logger.Info("threshold profiles loaded",
		zap.String("path", path),
		zap.Int("device_types", len(profiles)))

	return profiles, nil
}

// mergeProfile 用 override 中已设置的字段覆盖 base
func mergeProfile(base, override *ThresholdProfile) {
	if override.VoltageMin != nil {
		base.VoltageMin = override.VoltageMin
	}
	if override.VoltageMax != nil {
		base.VoltageMax = override.VoltageMax
	}
	if override.CurrentMax != nil {
		base.CurrentMax = override.CurrentMax
	}
	if override.PowerMax != nil {
		base.PowerMax = override.PowerMax
	}
	if override.TemperatureMax != nil {
		base.TemperatureMax = override.TemperatureMax
	}
	if override.HumidityMax != nil {
		base.HumidityMax = override.HumidityMax
	}
	if override.LeakSoft != nil {
		base.LeakSoft = override.LeakSoft
	}
	if override.LeakStrong != nil {
		base.LeakStrong = override.LeakStrong
	}
	if override.LeakShutdown != nil {
		base.LeakShutdown = override.LeakShutdown
	}
}

func f(v float64) *float64 {
	return &v
}
