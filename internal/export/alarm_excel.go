package export

import (
	"bytes"
	"fmt"
	"time"

	"aibox-gateway/internal/domain"

	"github.com/xuri/excelize/v2"
)

// AlarmExportHeader 告警导出表头
var AlarmExportHeader = []string{
	"Alarm ID",
	"Board ID",
	"Board IP",
	"Task Session",
	"Alarm Type",
	"Severity",
	"Triggered At",
	"Video ID",
	"Delivery",
	"Retry Count",
	"Received At",
}

// GenerateAlarmExport 生成告警列表 Excel 文件
func GenerateAlarmExport(alarms []*domain.Alarm) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 需要文件保持打开，出错路径再 Close

	sheetName := "Alarms"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
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

	for col, header := range AlarmExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for row, a := range alarms {
		values := []any{
			a.ID,
			a.BoardID,
			a.BoardIP,
			a.TaskSession,
			a.AlarmType,
			a.Severity,
			microToTime(a.TimeStampMicro).Format("2006-01-02 15:04:05"),
			a.VideoID,
			string(a.Delivery),
			a.RetryCount,
			a.ReceivedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel file: %w", err)
	}
	return buf.Bytes(), nil
}

func microToTime(micros int64) time.Time {
	return time.Unix(micros/1e6, (micros%1e6)*1e3)
}
