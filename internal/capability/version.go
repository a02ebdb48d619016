package capability

import (
	"strconv"
	"strings"
)

// 版本门控特性名。协议文档为每个特性标注了最低固件版本，
// 网关必须查询/跟踪版本，绝不假设特性可用
const (
	FeatureHTTPHeartbeat     = "http-heartbeat"     // HTTP 心跳端点
	FeatureCustomReport      = "custom-report"      // 自定义上报覆盖钩子
	FeatureAlarmAck          = "alarm-ack"          // 告警响应体解析
	FeatureExtendedHeartbeat = "extended-heartbeat" // 心跳扩展字段（媒体/任务摘要）
)

// featureMinVersion 特性 → 最低支持版本。门控由版本驱动，不硬编码设备型号
var featureMinVersion = map[string]string{
	FeatureHTTPHeartbeat:     "2.1.0",
	FeatureCustomReport:      "2.2.0",
	FeatureAlarmAck:          "2.3.0",
	FeatureExtendedHeartbeat: "2.4.0",
}

// CompareVersions 语义化版本比较（major.minor.patch，逐段数值比较）。
// 返回 -1/0/1。段缺失按 0 处理，非数值段按 0 处理
func CompareVersions(a, b string) int {
	as := strings.Split(strings.TrimSpace(a), ".")
	bs := strings.Split(strings.TrimSpace(b), ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(strings.TrimFunc(as[i], func(r rune) bool { return r < '0' || r > '9' }))
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(strings.TrimFunc(bs[i], func(r rune) bool { return r < '0' || r > '9' }))
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// VersionSupports 版本是否满足特性最低要求。
// 未知特性或版本为空一律不支持（fail closed）
func VersionSupports(version, feature string) bool {
	min, ok := featureMinVersion[feature]
	if !ok || version == "" {
		return false
	}
	return CompareVersions(version, min) >= 0
}
