package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"aibox-gateway/internal/protocol"
)

// TaskStatus 算法任务状态
type TaskStatus string

const (
	TaskCreated TaskStatus = "Created"
	TaskRunning TaskStatus = "Running"
	TaskPaused  TaskStatus = "Paused" // 布防时间表非激活时段
	TaskStopped TaskStatus = "Stopped"
	TaskDeleted TaskStatus = "Deleted"
)

// RuleKind 规则几何类型
type RuleKind string

const (
	RuleZone RuleKind = "zone" // 多边形区域，至少3个点
	RuleLine RuleKind = "line" // 越界线，至少2个点
)

// RuleProperty 区域/越线规则定义，坐标归一化到 [0,1]
type RuleProperty struct {
	Kind   RuleKind         `json:"Kind"`
	Name   string           `json:"Name,omitempty"`
	Points []protocol.Point `json:"Points"`
}

// Validate 校验规则几何
func (r *RuleProperty) Validate() error {
	min := 2
	if r.Kind == RuleZone {
		min = 3
	}
	if len(r.Points) < min {
		return fmt.Errorf("rule %q requires at least %d points, got %d", r.Kind, min, len(r.Points))
	}
	for i, p := range r.Points {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return fmt.Errorf("rule %q point %d out of normalized range: (%v, %v)", r.Kind, i, p.X, p.Y)
		}
	}
	return nil
}

// AlgorithmTask 算法任务领域模型（对应 alg_tasks 表）
// 标识为 (BoardId, AlgTaskSession)，每个盒子内唯一。
// 创建后自动启动；媒体或参数更新会触发隐式重启；删除前必须先停止
type AlgorithmTask struct {
	BoardID        string `db:"board_id"`
	AlgTaskSession string `db:"alg_task_session"`
	MediaName      string `db:"media_name"` // 绑定的媒体通道
	TaskDesc       string `db:"task_desc"`

	// 算法绑定
	AlgID     int   `db:"alg_id"`
	SubAlgIDs []int `db:"-"`

	Rules  []RuleProperty `db:"-"`
	Params map[string]any `db:"-"` // 动态参数包，发送前按能力描述校验

	ScheduleID *int64 `db:"schedule_id"` // 可选布防时间表
	ReportURL  string `db:"report_url"`  // 告警上报端点

	Status    TaskStatus `db:"status"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// HasRule 是否携带指定类型的规则
func (t *AlgorithmTask) HasRule(kind RuleKind) bool {
	for i := range t.Rules {
		if t.Rules[i].Kind == kind {
			return true
		}
	}
	return false
}

// MarshalParams 参数包序列化（入库用）
func (t *AlgorithmTask) MarshalParams() (json.RawMessage, error) {
	if t.Params == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(t.Params)
}

// CommandFields 构造下发给盒子的任务配置字段
func (t *AlgorithmTask) CommandFields() map[string]any {
	fields := map[string]any{
		"AlgTaskSession": t.AlgTaskSession,
		"MediaName":      t.MediaName,
		"TaskDesc":       t.TaskDesc,
		"AlgInfo":        []int{t.AlgID},
		"Restart":        true,
	}
	if len(t.SubAlgIDs) > 0 {
		fields["MethodConfig"] = t.SubAlgIDs
	}
	if len(t.Rules) > 0 {
		fields["Rules"] = t.Rules
	}
	if len(t.Params) > 0 {
		fields["UserData"] = t.Params
	}
	if t.ScheduleID != nil {
		fields["ScheduleId"] = *t.ScheduleID
	} else {
		fields["ScheduleId"] = -1
	}
	if t.ReportURL != "" {
		fields["MetadataUrl"] = t.ReportURL
	}
	return fields
}
