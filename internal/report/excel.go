package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"wisefido-equipment/internal/models"
)

// WarningReportHeader 告警工作表表头
var WarningReportHeader = []string{
	"Warning ID",
	"Device ID",
	"Warning Type",
	"Severity",
	"Measured Value",
	"Threshold Value",
	"Message",
	"Status",
	"Created At",
	"Acknowledged At",
	"Acknowledged By",
	"Resolved At",
}

// NotificationReportHeader 升级通知工作表表头
var NotificationReportHeader = []string{
	"Notification ID",
	"Warning ID",
	"Level",
	"Scheduled At",
	"Status",
	"Sent At",
	"Error",
	"Created At",
}

// TelemetryReportHeader 遥测历史工作表表头
var TelemetryReportHeader = []string{
	"Record ID",
	"Device ID",
	"Endpoint ID",
	"Voltage",
	"Current",
	"Power",
	"Frequency",
	"Power Factor",
	"Temperature",
	"Humidity",
	"Leak Current",
	"Machine State",
	"Socket State",
	"Sensor State",
	"Over Voltage",
	"Under Voltage",
	"Device Time",
	"Ingested At",
}

// BuildWarningReport 生成告警导出 Excel 文件
// 工作表依次为告警列表、各告警的升级通知条目、近期遥测历史
func BuildWarningReport(warnings []*models.Warning, notifications map[string][]*models.WarningNotification, telemetry []*models.TelemetryRecord) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	warningSheet := "Warnings"
	index, err := f.NewSheet(warningSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create warnings sheet: %w", err)
	}

	notificationSheet := "Notifications"
	if _, err := f.NewSheet(notificationSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create notifications sheet: %w", err)
	}

	telemetrySheet := "Telemetry"
	if _, err := f.NewSheet(telemetrySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create telemetry sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	warningWidths := []float64{38, 38, 20, 12, 15, 15, 50, 14, 20, 20, 20, 20}
	if err := writeSheetHeader(f, warningSheet, WarningReportHeader, warningWidths, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	notificationWidths := []float64{38, 38, 8, 20, 12, 20, 40, 20}
	if err := writeSheetHeader(f, notificationSheet, NotificationReportHeader, notificationWidths, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	telemetryWidths := []float64{12, 38, 38, 10, 10, 10, 10, 13, 12, 10, 13, 14, 13, 13, 13, 14, 20, 20}
	if err := writeSheetHeader(f, telemetrySheet, TelemetryReportHeader, telemetryWidths, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	// 写入告警行
	for rowIdx, w := range warnings {
		row := rowIdx + 2 // 从第2行开始（第1行是表头）
		values := []interface{}{
			w.ID,
			w.DeviceID,
			w.WarningType,
			w.Severity,
			formatFloat(w.MeasuredValue),
			formatFloat(w.ThresholdValue),
			w.Message,
			w.Status,
			formatTime(&w.CreatedAt),
			formatTime(w.AcknowledgedAt),
			strValue(w.AcknowledgedBy),
			formatTime(w.ResolvedAt),
		}
		if err := writeRow(f, warningSheet, row, values); err != nil {
			f.Close()
			return nil, err
		}
	}

	// 写入升级通知行，按告警列表顺序排列
	notifRow := 2
	for _, w := range warnings {
		for _, n := range notifications[w.ID] {
			values := []interface{}{
				n.ID,
				n.WarningID,
				n.Level,
				formatTime(&n.ScheduledAt),
				n.Status,
				formatTime(n.SentAt),
				strValue(n.Error),
				formatTime(&n.CreatedAt),
			}
			if err := writeRow(f, notificationSheet, notifRow, values); err != nil {
				f.Close()
				return nil, err
			}
			notifRow++
		}
	}

	// 写入遥测历史行
	for rowIdx, rec := range telemetry {
		row := rowIdx + 2
		values := []interface{}{
			rec.ID,
			rec.DeviceID,
			rec.EndpointID,
			formatFloat(rec.Voltage),
			formatFloat(rec.Current),
			formatFloat(rec.Power),
			formatFloat(rec.Frequency),
			formatFloat(rec.PowerFactor),
			formatFloat(rec.Temperature),
			formatFloat(rec.Humidity),
			formatFloat(rec.LeakCurrent),
			formatBool(rec.MachineState),
			formatBool(rec.SocketState),
			formatBool(rec.SensorState),
			formatBool(rec.OverVoltage),
			formatBool(rec.UnderVoltage),
			formatTime(&rec.DeviceTime),
			formatTime(&rec.IngestedAt),
		}
		if err := writeRow(f, telemetrySheet, row, values); err != nil {
			f.Close()
			return nil, err
		}
	}

	// 冻结三个工作表的表头
	for _, sheet := range []string{warningSheet, notificationSheet, telemetrySheet} {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			Split:       false,
			XSplit:      0,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to freeze panes: %w", err)
		}
	}

	// Note: File must remain open during Write operation
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}

// writeSheetHeader 写入表头并设置样式与列宽
func writeSheetHeader(f *excelize.File, sheet string, headers []string, widths []float64, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for i := range headers {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if i < len(widths) && widths[i] > 0 {
			if err := f.SetColWidth(sheet, col, col, widths[i]); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	return nil
}

// writeRow 写入一行数据，空值跳过
func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for col, value := range values {
		if value == nil || value == "" {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
		}
	}
	return nil
}

// formatTime 格式化时间，nil 时返回空串
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

// formatFloat 格式化数值，nil 时返回空串
func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}

// formatBool 格式化布尔值，nil 时返回空串
func formatBool(v *bool) string {
	if v == nil {
		return ""
	}
	if *v {
		return "true"
	}
	return "false"
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
