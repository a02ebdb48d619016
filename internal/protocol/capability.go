package protocol

import (
	"encoding/json"
	"fmt"
)

// ParamDesc 算法参数描述（带类型与取值范围）
type ParamDesc struct {
	Key     string   `json:"Key"`
	Name    string   `json:"Name,omitempty"`
	Type    string   `json:"Type"` // "INT" | "FLOAT" | "BOOL" | "INPUT"
	Min     *float64 `json:"Min,omitempty"`
	Max     *float64 `json:"Max,omitempty"`
	Default string   `json:"Default,omitempty"`
}

// AlgDescriptor 单个算法的能力描述
type AlgDescriptor struct {
	AlgID         int         `json:"AlgId"`
	SubAlgIDs     []int       `json:"SubAlgIds,omitempty"`
	Name          string      `json:"Name,omitempty"`
	Permitted     bool        `json:"Permitted"`
	NeedZone      bool        `json:"NeedZone,omitempty"`
	NeedLine      bool        `json:"NeedLine,omitempty"`
	Params        []ParamDesc `json:"Params,omitempty"`
	AlarmPolicies []string    `json:"AlarmPolicies,omitempty"`
}

// AbilityReply 能力查询回复（alg_ability_fetch）
type AbilityReply struct {
	BoardID string          `json:"BoardId"`
	Event   string          `json:"Event"`
	Result  *Result         `json:"Result,omitempty"`
	Ability []AlgDescriptor `json:"Ability,omitempty"`
}

// ParseAbilityReply 解析能力回复，未识别字段忽略（新固件向前兼容）
func ParseAbilityReply(payload []byte) (*AbilityReply, error) {
	var r AbilityReply
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("failed to parse ability reply: %w", err)
	}
	return &r, nil
}

// VersionReply 版本查询回复（alg_version_fetch）
type VersionReply struct {
	BoardID string  `json:"BoardId"`
	Event   string  `json:"Event"`
	Result  *Result `json:"Result,omitempty"`
	Version string  `json:"Version,omitempty"`
}

// ParseVersionReply 解析版本回复
func ParseVersionReply(payload []byte) (*VersionReply, error) {
	var r VersionReply
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("failed to parse version reply: %w", err)
	}
	return &r, nil
}
