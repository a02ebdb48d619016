package protocol

import (
	"encoding/json"
	"fmt"
)

// Point 归一化坐标点，取值范围 [0,1]
type Point struct {
	X float64 `json:"X"`
	Y float64 `json:"Y"`
}

// Rect 归一化检测框
type Rect struct {
	X float64 `json:"X"`
	Y float64 `json:"Y"`
	W float64 `json:"W"`
	H float64 `json:"H"`
}

// Property 动态属性（键值对，内容随算法而变）
type Property struct {
	Key   string `json:"Key"`
	Name  string `json:"Name,omitempty"`
	Value string `json:"Value"`
}

// AlgResult 算法输出（告警信封中的 Result 字段）。
// 注意与投递层 Result{Code,Desc} 区分：这里 Code 为可选，
// 缺省或为 0 均视为有效检测结果
type AlgResult struct {
	Type        string     `json:"Type"`
	Code        *int       `json:"Code,omitempty"`
	Description string     `json:"Description,omitempty"`
	Box         *Rect      `json:"Box,omitempty"`
	Polygon     []Point    `json:"Polygon,omitempty"`
	Trajectory  []Point    `json:"Trajectory,omitempty"`
	Properties  []Property `json:"Properties,omitempty"`
}

// OK 检测结果是否有效（Code 缺省或为 0）
func (r *AlgResult) OK() bool {
	return r == nil || r.Code == nil || *r.Code == 0
}

// AlarmReport 告警上报信封（HTTP POST JSON）。
// TimeStamp 为微秒精度，设备侧保证单调递增，用于排序与去重。
// 固件版本差异大，未识别字段一律忽略
type AlarmReport struct {
	BoardID     string          `json:"BoardId"`
	BoardIP     string          `json:"BoardIp,omitempty"`
	AlarmID     string          `json:"AlarmId,omitempty"`
	TaskSession string          `json:"TaskSession"`
	TimeStamp   int64           `json:"TimeStamp"`
	VideoFile   string          `json:"VideoFile,omitempty"`
	Media       json.RawMessage `json:"Media,omitempty"`
	Result      *AlgResult      `json:"Result,omitempty"`
	Properties  []Property      `json:"Properties,omitempty"`
	ImageData   []string        `json:"ImageData,omitempty"`
}

// ParseAlarmReport 宽容解析告警上报。格式非法返回解析错误（绝不静默丢弃）
func ParseAlarmReport(payload []byte) (*AlarmReport, error) {
	var a AlarmReport
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("failed to parse alarm report: %w", err)
	}
	if a.BoardID == "" {
		return nil, fmt.Errorf("alarm report missing BoardId")
	}
	if a.TaskSession == "" {
		return nil, fmt.Errorf("alarm report missing TaskSession")
	}
	if a.TimeStamp <= 0 {
		return nil, fmt.Errorf("alarm report missing TimeStamp")
	}
	return &a, nil
}

// AlarmType 告警类型（优先取算法输出的 Type）
func (a *AlarmReport) AlarmType() string {
	if a.Result != nil && a.Result.Type != "" {
		return a.Result.Type
	}
	return "Unknown"
}

// VideoUploadReply 视频上传响应
type VideoUploadReply struct {
	Result  Result `json:"Result"`
	VideoID string `json:"VideoId,omitempty"`
}

// AlarmAck 告警上报响应体。
// 低版本固件不解析响应体，任何 HTTP 200 都视为投递成功
type AlarmAck struct {
	Code int    `json:"Code"`
	Desc string `json:"Desc,omitempty"`
}
