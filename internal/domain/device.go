package domain

import (
	"time"

	"aibox-gateway/internal/protocol"
)

// ConnState 设备控制通道连接状态
type ConnState string

const (
	ConnDisconnected ConnState = "Disconnected"
	ConnConnecting   ConnState = "Connecting"
	ConnConnected    ConnState = "Connected"
	ConnDegraded     ConnState = "Degraded" // 心跳丢失但传输层尚未断开
)

// Device 盒子设备领域模型（对应 devices 表）
// 连接状态只由会话管理器写入；配置为激活的设备不会被删除，只会置为 inactive
type Device struct {
	BoardID string `db:"board_id"` // 唯一标识
	BoardIP string `db:"board_ip"`
	Name    string `db:"name"`
	Active  bool   `db:"active"`

	// 运行时状态（会话管理器维护）
	ConnState     ConnState                 `db:"conn_state"`
	Version       string                    `db:"version"` // 固件版本
	LastHeartbeat time.Time                 `db:"last_heartbeat"`
	Resource      *protocol.ResourceMetrics `db:"-"` // 最近一次心跳的资源指标

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Online 设备是否可接收命令
func (d *Device) Online() bool {
	return d.ConnState == ConnConnected || d.ConnState == ConnDegraded
}
