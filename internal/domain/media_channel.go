package domain

import "time"

// MediaStatus 媒体通道状态（盒子上报）
type MediaStatus string

const (
	MediaUnknown      MediaStatus = "Unknown"
	MediaInitializing MediaStatus = "Initializing"
	MediaWarning      MediaStatus = "Warning"
	MediaError        MediaStatus = "Error"
	MediaNormal       MediaStatus = "Normal"
)

// MediaChannel 媒体通道领域模型（对应 media_channels 表）
// 标识为 (BoardId, MediaName)，每个盒子内唯一。
// 配置命令为 upsert 语义：已存在则更新，URL 变更会触发盒子重启拉流
type MediaChannel struct {
	BoardID   string `db:"board_id"`
	MediaName string `db:"media_name"`
	MediaURL  string `db:"media_url"`
	MediaDesc string `db:"media_desc"`

	// 传输标志
	RtspTransport    bool   `db:"rtsp_transport"`     // RTSP 代理（TCP）
	GBTransport      bool   `db:"gb_transport"`       // GB28181 转发
	GB28181ChannelID string `db:"gb28181_channel_id"` // GB28181 子通道标识

	Status    MediaStatus `db:"status"`
	Deleted   bool        `db:"deleted"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

// CommandFields 构造下发给盒子的媒体配置字段
func (c *MediaChannel) CommandFields() map[string]any {
	fields := map[string]any{
		"MediaName":     c.MediaName,
		"MediaUrl":      c.MediaURL,
		"MediaDesc":     c.MediaDesc,
		"RtspTransport": c.RtspTransport,
		"GBTransport":   c.GBTransport,
	}
	if c.GBTransport || c.GB28181ChannelID != "" {
		fields["Params"] = []map[string]any{
			{"Key": "GB28181ChannelId", "Name": "GB28181 Channel", "Type": "INPUT", "Value": c.GB28181ChannelID},
		}
	}
	return fields
}
