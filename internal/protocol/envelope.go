package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// 控制通道事件名（同时作为 MQTT 主题后缀）
const (
	EventMediaConfig  = "alg_media_config"
	EventMediaDelete  = "alg_media_delete"
	EventTaskConfig   = "alg_task_config"
	EventTaskDelete   = "alg_task_delete"
	EventTaskControl  = "alg_task_control"
	EventAbilityFetch = "alg_ability_fetch"
	EventVersionFetch = "alg_version_fetch"
	EventHeartbeat    = "heartbeat"
)

// CommandTopic 下行命令主题: aibox/{board_id}/{event}
func CommandTopic(boardID, event string) string {
	return fmt.Sprintf("aibox/%s/%s", boardID, event)
}

// ReplyTopic 回复主题: 命令主题追加 _reply 后缀
func ReplyTopic(boardID, event string) string {
	return CommandTopic(boardID, event) + "_reply"
}

// HeartbeatTopic 心跳主题
func HeartbeatTopic(boardID string) string {
	return CommandTopic(boardID, EventHeartbeat)
}

// ParseTopic 解析主题: aibox/{board_id}/{event}[_reply]
func ParseTopic(topic string) (boardID, event string, isReply bool, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "aibox" || parts[1] == "" || parts[2] == "" {
		return "", "", false, fmt.Errorf("invalid topic format: %s", topic)
	}
	boardID = parts[1]
	event = parts[2]
	if strings.HasSuffix(event, "_reply") {
		return boardID, strings.TrimSuffix(event, "_reply"), true, nil
	}
	return boardID, event, false, nil
}

// Result 协议结果，Code == 0 表示成功
type Result struct {
	Code int    `json:"Code"`
	Desc string `json:"Desc,omitempty"`
}

// OK 结果是否成功
func (r *Result) OK() bool {
	return r == nil || r.Code == 0
}

// ResultError 设备返回的应用层错误（Result.Code != 0）
// 区别于传输超时：命令已送达并被盒子拒绝
type ResultError struct {
	Code int
	Desc string
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("device result code %d: %s", e.Code, e.Desc)
}

// Reply 回复信封。盒子固件不同版本会携带额外字段，一律宽容解析：
// 未识别字段保留在 Raw 中由调用方按需提取，绝不因未知字段拒收
type Reply struct {
	BoardID string  `json:"BoardId"`
	BoardIP string  `json:"BoardIp,omitempty"`
	Event   string  `json:"Event"`
	Result  *Result `json:"Result,omitempty"`

	// Raw 原始负载（含事件特有字段）
	Raw json.RawMessage `json:"-"`
}

// ParseReply 解析回复信封
func ParseReply(payload []byte) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("failed to parse reply envelope: %w", err)
	}
	r.Raw = append(json.RawMessage(nil), payload...)
	return &r, nil
}

// Err 将回复的 Result 转换为错误（成功时返回 nil）
func (r *Reply) Err() error {
	if r.Result.OK() {
		return nil
	}
	return &ResultError{Code: r.Result.Code, Desc: r.Result.Desc}
}

// MarshalCommand 构造下行命令负载，自动注入 BoardId/Event。
// 协议约定命令为收敛式（重发同一命令幂等），fields 即为事件特有字段
func MarshalCommand(boardID, event string, fields map[string]any) ([]byte, error) {
	body := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		body[k] = v
	}
	body["BoardId"] = boardID
	body["Event"] = event
	return json.Marshal(body)
}
