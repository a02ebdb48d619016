package protocol

import (
	"encoding/json"
	"fmt"
)

// ResourceMetrics 盒子资源指标（心跳携带）
type ResourceMetrics struct {
	CPUPercent    float64 `json:"CpuPercent"`
	MemoryPercent float64 `json:"MemPercent"`
	DiskPercent   float64 `json:"DiskPercent"`
	Temperature   float64 `json:"Temperature"`
}

// MediaSummary 心跳中的媒体通道摘要
type MediaSummary struct {
	MediaName string `json:"MediaName"`
	Status    string `json:"Status"`
}

// TaskSummary 心跳中的算法任务摘要
type TaskSummary struct {
	AlgTaskSession string `json:"AlgTaskSession"`
	Status         string `json:"Status"`
}

// Heartbeat 心跳信封（默认周期5秒）。
// MediaList/TaskList 为扩展字段，低版本固件不携带
type Heartbeat struct {
	BoardID   string           `json:"BoardId"`
	BoardIP   string           `json:"BoardIp,omitempty"`
	Version   string           `json:"Version,omitempty"`
	Resource  *ResourceMetrics `json:"Resource,omitempty"`
	MediaList []MediaSummary   `json:"MediaList,omitempty"`
	TaskList  []TaskSummary    `json:"TaskList,omitempty"`
}

// ParseHeartbeat 解析心跳负载
func ParseHeartbeat(payload []byte) (*Heartbeat, error) {
	var hb Heartbeat
	if err := json.Unmarshal(payload, &hb); err != nil {
		return nil, fmt.Errorf("failed to parse heartbeat: %w", err)
	}
	if hb.BoardID == "" {
		return nil, fmt.Errorf("heartbeat missing BoardId")
	}
	return &hb, nil
}
