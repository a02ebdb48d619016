package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"aibox-gateway/internal/domain"
	"aibox-gateway/internal/protocol"

	"go.uber.org/zap"
)

// ValidationError 能力/状态前置校验失败。带此错误的命令绝不会发往设备
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Sender 命令发送接口（由关联层实现）
type Sender interface {
	Send(ctx context.Context, boardID, event string, fields map[string]any, timeout time.Duration) (*protocol.Reply, error)
}

// Snapshot 单设备能力快照。刷新时整体原子替换，绝不部分更新，
// 并发读取方不会看到半新半旧的状态
type Snapshot struct {
	BoardID    string
	FetchedAt  time.Time
	Algorithms map[int]protocol.AlgDescriptor // AlgId → 描述
}

// Descriptor 查找算法描述
func (s *Snapshot) Descriptor(algID int) (protocol.AlgDescriptor, bool) {
	d, ok := s.Algorithms[algID]
	return d, ok
}

// Registry 能力与版本注册表：缓存每个设备的算法能力与固件版本，
// 在命令下发前做特性门控与配置校验
type Registry struct {
	sender  Sender
	timeout time.Duration
	logger  *zap.Logger

	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	versions  map[string]string
}

// NewRegistry 创建注册表
func NewRegistry(sender Sender, timeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		sender:    sender,
		timeout:   timeout,
		logger:    logger,
		snapshots: make(map[string]*Snapshot),
		versions:  make(map[string]string),
	}
}

// Refresh 拉取设备能力并原子替换快照（按需或重连后调用）。
// 失败时保留旧快照并返回错误，绝不伪造默认能力
func (r *Registry) Refresh(ctx context.Context, boardID string) (*Snapshot, error) {
	reply, err := r.sender.Send(ctx, boardID, protocol.EventAbilityFetch, nil, r.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ability for %s: %w", boardID, err)
	}

	ability, err := protocol.ParseAbilityReply(reply.Raw)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		BoardID:    boardID,
		FetchedAt:  time.Now(),
		Algorithms: make(map[int]protocol.AlgDescriptor, len(ability.Ability)),
	}
	for _, desc := range ability.Ability {
		snap.Algorithms[desc.AlgID] = desc
	}

	r.mu.Lock()
	r.snapshots[boardID] = snap
	r.mu.Unlock()

	r.logger.Info("Capability snapshot refreshed",
		zap.String("board_id", boardID),
		zap.Int("algorithms", len(snap.Algorithms)),
	)
	return snap, nil
}

// RefreshVersion 查询设备固件版本
func (r *Registry) RefreshVersion(ctx context.Context, boardID string) (string, error) {
	reply, err := r.sender.Send(ctx, boardID, protocol.EventVersionFetch, nil, r.timeout)
	if err != nil {
		return "", fmt.Errorf("failed to fetch version for %s: %w", boardID, err)
	}
	vr, err := protocol.ParseVersionReply(reply.Raw)
	if err != nil {
		return "", err
	}
	if vr.Version != "" {
		r.SetVersion(boardID, vr.Version)
	}
	return vr.Version, nil
}

// SetVersion 记录设备固件版本（心跳携带版本时由会话回调调用）
func (r *Registry) SetVersion(boardID, version string) {
	if version == "" {
		return
	}
	r.mu.Lock()
	r.versions[boardID] = version
	r.mu.Unlock()
}

// Version 设备固件版本（可能为空：未查询到）
func (r *Registry) Version(boardID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versions[boardID]
}

// IsFeatureSupported 版本驱动的特性门控。版本未知一律不支持（fail closed）
func (r *Registry) IsFeatureSupported(boardID, feature string) bool {
	return VersionSupports(r.Version(boardID), feature)
}

// Snapshot 读取能力快照（未刷新过返回 false）
func (r *Registry) Snapshot(boardID string) (*Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[boardID]
	return snap, ok
}

// Forget 丢弃设备的能力与版本缓存（设备注销时调用）
func (r *Registry) Forget(boardID string) {
	r.mu.Lock()
	delete(r.snapshots, boardID)
	delete(r.versions, boardID)
	r.mu.Unlock()
}

// ValidateTask 按能力快照校验任务配置。
// 校验不通过的任务不会向设备发送任何命令
func (r *Registry) ValidateTask(task *domain.AlgorithmTask) error {
	snap, ok := r.Snapshot(task.BoardID)
	if !ok {
		return &ValidationError{Field: "BoardId", Reason: "capability not fetched for board " + task.BoardID}
	}

	desc, ok := snap.Descriptor(task.AlgID)
	if !ok {
		return &ValidationError{
			Field:  "AlgId",
			Reason: fmt.Sprintf("algorithm %d not reported by board", task.AlgID),
		}
	}
	if !desc.Permitted {
		return &ValidationError{
			Field:  "AlgId",
			Reason: fmt.Sprintf("algorithm %d not permitted on board", task.AlgID),
		}
	}

	// 自定义上报端点是版本门控特性，低版本固件会静默忽略该字段
	if task.ReportURL != "" && !r.IsFeatureSupported(task.BoardID, FeatureCustomReport) {
		return &ValidationError{
			Field:  "MetadataUrl",
			Reason: "firmware does not support a custom report endpoint",
		}
	}

	// 子算法必须在能力描述的集合内
	for _, sub := range task.SubAlgIDs {
		if !containsInt(desc.SubAlgIDs, sub) {
			return &ValidationError{
				Field:  "MethodConfig",
				Reason: fmt.Sprintf("sub-algorithm %d not supported by algorithm %d", sub, task.AlgID),
			}
		}
	}

	// 区域/越线要求
	if desc.NeedZone && !task.HasRule(domain.RuleZone) {
		return &ValidationError{Field: "Rules", Reason: "algorithm requires a zone rule"}
	}
	if desc.NeedLine && !task.HasRule(domain.RuleLine) {
		return &ValidationError{Field: "Rules", Reason: "algorithm requires a line rule"}
	}
	for i := range task.Rules {
		if err := task.Rules[i].Validate(); err != nil {
			return &ValidationError{Field: "Rules", Reason: err.Error()}
		}
	}

	// 动态参数按能力描述做类型与边界校验；
	// 能力描述未声明的参数原样透传（新固件可能支持更多参数）
	for _, pd := range desc.Params {
		raw, present := task.Params[pd.Key]
		if !present {
			continue
		}
		if err := validateParam(pd, raw); err != nil {
			return &ValidationError{Field: pd.Key, Reason: err.Error()}
		}
	}

	return nil
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// validateParam 单参数校验
func validateParam(pd protocol.ParamDesc, raw any) error {
	switch pd.Type {
	case "INT", "FLOAT":
		f, ok := toFloat(raw)
		if !ok {
			return fmt.Errorf("expected numeric value, got %T", raw)
		}
		if pd.Type == "INT" && f != float64(int64(f)) {
			return fmt.Errorf("expected integer value, got %v", raw)
		}
		if pd.Min != nil && f < *pd.Min {
			return fmt.Errorf("value %v below minimum %v", f, *pd.Min)
		}
		if pd.Max != nil && f > *pd.Max {
			return fmt.Errorf("value %v above maximum %v", f, *pd.Max)
		}
	case "BOOL":
		if _, ok := raw.(bool); !ok {
			return fmt.Errorf("expected boolean value, got %T", raw)
		}
	case "INPUT":
		if _, ok := raw.(string); !ok {
			return fmt.Errorf("expected string value, got %T", raw)
		}
	}
	return nil
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
