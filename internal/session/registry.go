package session

import (
	"sync"
	"time"

	"aibox-gateway/internal/domain"
	"aibox-gateway/internal/protocol"
)

// Registry 设备注册表：连接/在线状态的唯一事实来源。
// 其它组件只读，仅会话管理器写入
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*domain.Device
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*domain.Device)}
}

// Put 注册或更新设备（网关启动加载、管理面添加时调用）
func (r *Registry) Put(dev *domain.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev.ConnState == "" {
		dev.ConnState = domain.ConnDisconnected
	}
	r.devices[dev.BoardID] = dev
}

// Remove 移除设备（设备注销时由会话管理器调用）
func (r *Registry) Remove(boardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, boardID)
}

// Get 读取设备快照（副本，避免调用方看到并发修改）
func (r *Registry) Get(boardID string) (domain.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[boardID]
	if !ok {
		return domain.Device{}, false
	}
	return *dev, true
}

// List 所有设备快照
func (r *Registry) List() []domain.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, *dev)
	}
	return out
}

// setConnState 更新连接状态，返回是否发生变化
func (r *Registry) setConnState(boardID string, state domain.ConnState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[boardID]
	if !ok || dev.ConnState == state {
		return false
	}
	dev.ConnState = state
	dev.UpdatedAt = time.Now()
	return true
}

// recordHeartbeat 记录心跳副作用：遥测、固件版本、最后心跳时间。
// 心跳不是关联事件，不涉及在途命令
func (r *Registry) recordHeartbeat(boardID string, hb *protocol.Heartbeat, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[boardID]
	if !ok {
		return
	}
	dev.LastHeartbeat = at
	if hb.Version != "" {
		dev.Version = hb.Version
	}
	if hb.BoardIP != "" {
		dev.BoardIP = hb.BoardIP
	}
	if hb.Resource != nil {
		res := *hb.Resource
		dev.Resource = &res
	}
	// 心跳恢复时从 Degraded 回到 Connected
	if dev.ConnState == domain.ConnDegraded {
		dev.ConnState = domain.ConnConnected
	}
}
