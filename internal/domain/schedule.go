package domain

import (
	"encoding/hex"
	"fmt"
	"time"
)

// ScheduleSlots 一周布防位图：7天 × 48个半小时槽位，共336位（42字节）
const (
	ScheduleSlotsPerDay = 48
	ScheduleSlotCount   = 7 * ScheduleSlotsPerDay
	ScheduleBitmapBytes = ScheduleSlotCount / 8
)

// Schedule 布防时间表领域模型（对应 schedules 表）
// 任务按 ScheduleId 引用，不内嵌
type Schedule struct {
	ID     int64  `db:"id"`
	Name   string `db:"name"`
	Bitmap []byte `db:"bitmap"` // 336位周位图，bit=1 表示该半小时槽位布防

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NewAlwaysOnSchedule 创建全时段布防的时间表
func NewAlwaysOnSchedule(name string) *Schedule {
	bitmap := make([]byte, ScheduleBitmapBytes)
	for i := range bitmap {
		bitmap[i] = 0xFF
	}
	return &Schedule{Name: name, Bitmap: bitmap}
}

// slotIndex 计算时间对应的槽位下标。周一为第0天（与协议文档一致）
func slotIndex(t time.Time) int {
	day := (int(t.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	slot := t.Hour()*2 + t.Minute()/30
	return day*ScheduleSlotsPerDay + slot
}

// IsActiveAt 指定时间是否处于布防时段
func (s *Schedule) IsActiveAt(t time.Time) bool {
	if len(s.Bitmap) != ScheduleBitmapBytes {
		return false
	}
	idx := slotIndex(t)
	return s.Bitmap[idx/8]&(1<<(7-uint(idx%8))) != 0
}

// SetSlot 设置某天某槽位的布防状态。day: 0=周一 ... 6=周日
func (s *Schedule) SetSlot(day, slot int, active bool) error {
	if day < 0 || day > 6 || slot < 0 || slot >= ScheduleSlotsPerDay {
		return fmt.Errorf("invalid schedule slot: day=%d slot=%d", day, slot)
	}
	if len(s.Bitmap) != ScheduleBitmapBytes {
		s.Bitmap = make([]byte, ScheduleBitmapBytes)
	}
	idx := day*ScheduleSlotsPerDay + slot
	mask := byte(1 << (7 - uint(idx%8)))
	if active {
		s.Bitmap[idx/8] |= mask
	} else {
		s.Bitmap[idx/8] &^= mask
	}
	return nil
}

// BitmapHex 位图十六进制表示（下发盒子及入库用）
func (s *Schedule) BitmapHex() string {
	return hex.EncodeToString(s.Bitmap)
}

// ParseBitmapHex 解析十六进制位图
func ParseBitmapHex(h string) ([]byte, error) {
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("failed to decode schedule bitmap: %w", err)
	}
	if len(b) != ScheduleBitmapBytes {
		return nil, fmt.Errorf("schedule bitmap must be %d bytes, got %d", ScheduleBitmapBytes, len(b))
	}
	return b, nil
}
