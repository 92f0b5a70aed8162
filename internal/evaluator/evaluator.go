package evaluator

import (
	"fmt"

	"go.uber.org/zap"

	"wisefido-equipment/internal/models"
)

// CandidateWarning 候选告警
// Threshold 保存配置的基准阈值，消息中给出实际越过的界限
type CandidateWarning struct {
	Type      string
	Severity  string
	Measured  float64
	Threshold float64
	Message   string
}

// Evaluation 单轮评估结果
// Evaluated 记录本轮实际检查过的告警类型
// 读数未携带的字段不在其中，对应的活动告警不会因此被解决
type Evaluation struct {
	Candidates []CandidateWarning
	Evaluated  []string
}

// HasCandidate 判断本轮是否产生了指定类型的候选告警
func (e *Evaluation) HasCandidate(warningType string) bool {
	for _, c := range e.Candidates {
		if c.Type == warningType {
			return true
		}
	}
	return false
}

// WasEvaluated 判断指定类型是否在本轮被检查过
func (e *Evaluation) WasEvaluated(warningType string) bool {
	for _, t := range e.Evaluated {
		if t == warningType {
			return true
		}
	}
	return false
}

// Evaluator 阈值评估器
// 纯计算，不做任何 I/O，同一输入永远给出同一输出
type Evaluator struct {
	profiles map[string]*ThresholdProfile
	logger   *zap.Logger
}

// NewEvaluator 创建阈值评估器
func NewEvaluator(profiles map[string]*ThresholdProfile, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		profiles: profiles,
		logger:   logger,
	}
}

// Evaluate 按设备类型阈值评估一条读数
// 只评估读数实际携带的字段，每种告警类型最多产生一个候选
func (e *Evaluator) Evaluate(deviceType string, reading *models.Reading) Evaluation {
	result := Evaluation{
		Candidates: []CandidateWarning{},
		Evaluated:  []string{},
	}

	if reading == nil {
		return result
	}

	profile, ok := e.profiles[deviceType]
	if !ok {
		e.logger.Debug("no threshold profile for device type",
			zap.String("device_type", deviceType))
		return result
	}

	e.evaluateVoltage(profile, reading, &result)
	e.evaluateCurrent(profile, reading, &result)
	e.evaluatePower(profile, reading, &result)
	e.evaluateTemperature(profile, reading, &result)
	e.evaluateHumidity(profile, reading, &result)
	e.evaluateLeakCurrent(profile, reading, &result)

	return result
}

// evaluateVoltage 电压评估
// 高低两侧的一般越界共用 voltage_warning 类型
func (e *Evaluator) evaluateVoltage(p *ThresholdProfile, r *models.Reading, result *Evaluation) {
	if r.Voltage == nil || (p.VoltageMax == nil && p.VoltageMin == nil) {
		return
	}
	v := *r.Voltage
	result.Evaluated = append(result.Evaluated,
		models.WarningTypeVoltageHigh,
		models.WarningTypeVoltage,
		models.WarningTypeVoltageLow,
	)

	if p.VoltageMax != nil {
		max := *p.VoltageMax
		if v > max*1.2 {
			result.Candidates = append(result.Candidates, CandidateWarning{
				Type:      models.WarningTypeVoltageHigh,
				Severity:  models.SeverityMajor,
				Measured:  v,
				Threshold: max,
				Message:   fmt.Sprintf("Voltage %.2fV exceeds critical threshold %.2fV", v, max*1.2),
			})
			return
		}
		if v > max {
			result.Candidates = append(result.Candidates, CandidateWarning{
				Type:      models.WarningTypeVoltage,
				Severity:  models.SeverityModerate,
				Measured:  v,
				Threshold: max,
				Message:   fmt.Sprintf("Voltage %.2fV exceeds threshold %.2fV", v, max),
			})
			return
		}
	}

	if p.VoltageMin != nil {
		min := *p.VoltageMin
		if v < min*0.8 {
			result.Candidates = append(result.Candidates, CandidateWarning{
				Type:      models.WarningTypeVoltageLow,
				Severity:  models.SeverityMajor,
				Measured:  v,
				Threshold: min,
				Message:   fmt.Sprintf("Voltage %.2fV below critical threshold %.2fV", v, min*0.8),
			})
			return
		}
		if v < min {
			result.Candidates = append(result.Candidates, CandidateWarning{
				Type:      models.WarningTypeVoltage,
				Severity:  models.SeverityModerate,
				Measured:  v,
				Threshold: min,
				Message:   fmt.Sprintf("Voltage %.2fV below threshold %.2fV", v, min),
			})
			return
		}
	}
}

// evaluateCurrent 电流评估，只有上限规则
func (e *Evaluator) evaluateCurrent(p *ThresholdProfile, r *models.Reading, result *Evaluation) {
	if r.Current == nil || p.CurrentMax == nil {
		return
	}
	c := *r.Current
	max := *p.CurrentMax
	result.Evaluated = append(result.Evaluated, models.WarningTypeCurrent)

	if c > max {
		result.Candidates = append(result.Candidates, CandidateWarning{
			Type:      models.WarningTypeCurrent,
			Severity:  models.SeverityModerate,
			Measured:  c,
			Threshold: max,
			Message:   fmt.Sprintf("Current %.2fA exceeds threshold %.2fA", c, max),
		})
	}
}

// evaluatePower 功率评估，只有上限规则
func (e *Evaluator) evaluatePower(p *ThresholdProfile, r *models.Reading, result *Evaluation) {
	if r.Power == nil || p.PowerMax == nil {
		return
	}
	w := *r.Power
	max := *p.PowerMax
	result.Evaluated = append(result.Evaluated, models.WarningTypePower)

	if w > max {
		result.Candidates = append(result.Candidates, CandidateWarning{
			Type:      models.WarningTypePower,
			Severity:  models.SeverityModerate,
			Measured:  w,
			Threshold: max,
			Message:   fmt.Sprintf("Power %.2fW exceeds threshold %.2fW", w, max),
		})
	}
}

// evaluateTemperature 温度评估
func (e *Evaluator) evaluateTemperature(p *ThresholdProfile, r *models.Reading, result *Evaluation) {
	if r.Temperature == nil || p.TemperatureMax == nil {
		return
	}
	temp := *r.Temperature
	max := *p.TemperatureMax
	result.Evaluated = append(result.Evaluated, models.WarningTypeTemperature)

	if temp > max {
		result.Candidates = append(result.Candidates, CandidateWarning{
			Type:      models.WarningTypeTemperature,
			Severity:  models.SeverityModerate,
			Measured:  temp,
			Threshold: max,
			Message:   fmt.Sprintf("Temperature %.2fC exceeds threshold %.2fC", temp, max),
		})
	}
}

// evaluateHumidity 湿度评估，严重越界与一般越界分属两个类型
func (e *Evaluator) evaluateHumidity(p *ThresholdProfile, r *models.Reading, result *Evaluation) {
	if r.Humidity == nil || p.HumidityMax == nil {
		return
	}
	h := *r.Humidity
	max := *p.HumidityMax
	result.Evaluated = append(result.Evaluated,
		models.WarningTypeHumidityHigh,
		models.WarningTypeHumidity,
	)

	switch {
	case h > max*1.2:
		result.Candidates = append(result.Candidates, CandidateWarning{
			Type:      models.WarningTypeHumidityHigh,
			Severity:  models.SeverityMajor,
			Measured:  h,
			Threshold: max,
			Message:   fmt.Sprintf("Humidity %.2f%% exceeds critical threshold %.2f%%", h, max*1.2),
		})
	case h > max:
		result.Candidates = append(result.Candidates, CandidateWarning{
			Type:      models.WarningTypeHumidity,
			Severity:  models.SeverityModerate,
			Measured:  h,
			Threshold: max,
			Message:   fmt.Sprintf("Humidity %.2f%% exceeds threshold %.2f%%", h, max),
		})
	}
}

// evaluateLeakCurrent 漏电流评估
// 三档互斥，只取命中的最高档，档位边界计入该档
func (e *Evaluator) evaluateLeakCurrent(p *ThresholdProfile, r *models.Reading, result *Evaluation) {
	if r.LeakCurrent == nil {
		return
	}
	if p.LeakSoft == nil && p.LeakStrong == nil && p.LeakShutdown == nil {
		return
	}
	lc := *r.LeakCurrent
	result.Evaluated = append(result.Evaluated, models.WarningTypeLeakCurrent)

	switch {
	case p.LeakShutdown != nil && lc >= *p.LeakShutdown:
		result.Candidates = append(result.Candidates, CandidateWarning{
			Type:      models.WarningTypeLeakCurrent,
			Severity:  models.SeverityCritical,
			Measured:  lc,
			Threshold: *p.LeakShutdown,
			Message:   fmt.Sprintf("Leak current %.2fmA reached shutdown threshold %.2fmA", lc, *p.LeakShutdown),
		})
	case p.LeakStrong != nil && lc >= *p.LeakStrong:
		result.Candidates = append(result.Candidates, CandidateWarning{
			Type:      models.WarningTypeLeakCurrent,
			Severity:  models.SeverityMajor,
			Measured:  lc,
			Threshold: *p.LeakStrong,
			Message:   fmt.Sprintf("Leak current %.2fmA reached strong alarm threshold %.2fmA", lc, *p.LeakStrong),
		})
	case p.LeakSoft != nil && lc >= *p.LeakSoft:
		result.Candidates = append(result.Candidates, CandidateWarning{
			Type:      models.WarningTypeLeakCurrent,
			Severity:  models.SeverityMinor,
			Measured:  lc,
			Threshold: *p.LeakSoft,
			Message:   fmt.Sprintf("Leak current %.2fmA reached soft alarm threshold %.2fmA", lc, *p.LeakSoft),
		})
	}
}
