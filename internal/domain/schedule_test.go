package domain

import (
	"testing"
	"time"

	"aibox-gateway/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_AlwaysOn(t *testing.T) {
	s := NewAlwaysOnSchedule("24x7")
	assert.True(t, s.IsActiveAt(time.Date(2023, 11, 6, 0, 0, 0, 0, time.UTC)))    // 周一 00:00
	assert.True(t, s.IsActiveAt(time.Date(2023, 11, 12, 23, 59, 0, 0, time.UTC))) // 周日 23:59
}

func TestSchedule_SetSlot(t *testing.T) {
	s := &Schedule{Name: "work-hours", Bitmap: make([]byte, ScheduleBitmapBytes)}

	// 周一 08:00-17:00 布防（槽位 16..33）
	for slot := 16; slot < 34; slot++ {
		require.NoError(t, s.SetSlot(0, slot, true))
	}

	monday := time.Date(2023, 11, 6, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Monday, monday.Weekday())

	assert.False(t, s.IsActiveAt(monday.Add(7*time.Hour+59*time.Minute))) // 07:59
	assert.True(t, s.IsActiveAt(monday.Add(8*time.Hour)))                 // 08:00
	assert.True(t, s.IsActiveAt(monday.Add(16*time.Hour+30*time.Minute))) // 16:30
	assert.False(t, s.IsActiveAt(monday.Add(17*time.Hour)))               // 17:00

	// 周二同一时段不布防
	tuesday := monday.AddDate(0, 0, 1)
	assert.False(t, s.IsActiveAt(tuesday.Add(9*time.Hour)))
}

func TestSchedule_SetSlot_Invalid(t *testing.T) {
	s := &Schedule{Bitmap: make([]byte, ScheduleBitmapBytes)}
	assert.Error(t, s.SetSlot(7, 0, true))
	assert.Error(t, s.SetSlot(0, 48, true))
	assert.Error(t, s.SetSlot(-1, 0, true))
}

func TestSchedule_BitmapHexRoundTrip(t *testing.T) {
	s := NewAlwaysOnSchedule("all")
	h := s.BitmapHex()
	assert.Len(t, h, ScheduleBitmapBytes*2)

	b, err := ParseBitmapHex(h)
	require.NoError(t, err)
	assert.Equal(t, s.Bitmap, b)

	_, err = ParseBitmapHex("ffff") // 长度不足
	assert.Error(t, err)
	_, err = ParseBitmapHex("zz")
	assert.Error(t, err)
}

func TestRuleProperty_Validate(t *testing.T) {
	pts := []protocol.Point{{X: 0.1, Y: 0.1}, {X: 0.9, Y: 0.1}, {X: 0.5, Y: 0.9}}

	valid := &RuleProperty{Kind: RuleZone, Points: pts}
	require.NoError(t, valid.Validate())

	// 多边形至少3点
	zone2 := &RuleProperty{Kind: RuleZone, Points: pts[:2]}
	assert.Error(t, zone2.Validate())

	// 越界线2点即可
	line := &RuleProperty{Kind: RuleLine, Points: pts[:2]}
	assert.NoError(t, line.Validate())

	// 坐标越界
	bad := &RuleProperty{Kind: RuleLine, Points: []protocol.Point{{X: 1.2, Y: 0.5}, {X: 0.3, Y: 0.4}}}
	assert.Error(t, bad.Validate())
}

func TestSeverityForType(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityForType("FireDetected"))
	assert.Equal(t, SeverityHigh, SeverityForType("NoHelmet"))
	assert.Equal(t, SeverityMedium, SeverityForType("crowd_gathering"))
	assert.Equal(t, SeverityLow, SeverityForType("VehicleParked"))
	assert.Equal(t, SeverityInfo, SeverityForType("SomethingNew"))
	assert.Equal(t, SeverityInfo, SeverityForType(""))
}
