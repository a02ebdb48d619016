package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// DeliveryState 告警下游投递状态
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "Pending"
	DeliveryDelivered DeliveryState = "Delivered"
	// DeliveryFailed 超出最大重试次数，终态，留给运维处理
	DeliveryFailed DeliveryState = "FailedPermanently"
)

// Alarm 告警领域模型（对应 alarms 表），接收后不可变
type Alarm struct {
	ID          string `db:"id"` // UUID
	BoardID     string `db:"board_id"`
	BoardIP     string `db:"board_ip"`
	TaskSession string `db:"task_session"`
	AlarmType   string `db:"alarm_type"`
	Severity    string `db:"severity"`

	// 微秒时间戳，设备侧单调递增，用于排序与重试窗口内去重
	TimeStampMicro int64 `db:"timestamp_micro"`

	// 关联视频（可缺省：未命中 VideoId 的告警降级为无视频告警）
	VideoID   string `db:"video_id"`
	VideoFile string `db:"video_file"` // 设备声称的引用，原样保留

	// 算法输出与图片（原始JSON保留）
	ResultJSON json.RawMessage `db:"result_json"`
	ImageKeys  []string        `db:"-"` // 对象存储中的图片键

	Delivery   DeliveryState `db:"delivery"`
	RetryCount int           `db:"retry_count"`
	LastError  string        `db:"last_error"`

	ReceivedAt time.Time `db:"received_at"`
}

// 告警严重级别（按类型关键字推导，类型本身不做硬编码枚举）
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

var severityKeywords = []struct {
	severity string
	keywords []string
}{
	{SeverityCritical, []string{"fire", "smoke", "fall", "falling"}},
	{SeverityHigh, []string{"helmet", "vest", "intrusion", "smoking", "climb", "goggle", "glove"}},
	{SeverityMedium, []string{"mask", "crowd"}},
	{SeverityLow, []string{"loiter", "person", "vehicle"}},
}

// SeverityForType 从告警类型推导严重级别。
// 类型来自盒子且不断扩充，未识别的类型归为 info
func SeverityForType(alarmType string) string {
	t := strings.ToLower(alarmType)
	for _, group := range severityKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(t, kw) {
				return group.severity
			}
		}
	}
	return SeverityInfo
}
