package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"aibox-gateway/internal/capability"
	"aibox-gateway/internal/domain"
	"aibox-gateway/internal/export"
	"aibox-gateway/internal/protocol"
	"aibox-gateway/internal/repository"

	"go.uber.org/zap"
)

// 上传体积上限
const (
	maxAlarmBodyBytes = 4 << 20
	maxVideoBodyBytes = 64 << 20
	multipartMemBytes = 8 << 20
)

// DeviceLister 在线设备列表（由会话注册表实现）
type DeviceLister interface {
	List() []domain.Device
}

// AlarmLister 告警查询（由告警仓库实现）
type AlarmLister interface {
	ListAlarms(ctx context.Context, filters repository.AlarmFilters) ([]*domain.Alarm, error)
	CountAlarms(ctx context.Context, filters repository.AlarmFilters) (int, error)
	ListFailedAlarms(ctx context.Context, limit int) ([]*domain.Alarm, error)
}

// FeatureGate 固件特性门控（由能力注册表实现）
type FeatureGate interface {
	IsFeatureSupported(boardID, feature string) bool
}

// HeartbeatFunc HTTP 心跳的副作用入口，与 MQTT 心跳走同一条路径
// （遥测入库、版本登记、媒体状态同步）
type HeartbeatFunc func(hb *protocol.Heartbeat)

// Server 报送面 HTTP 服务：设备批量上报（视频、告警、HTTP 心跳）+ 平台侧只读管理接口
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	pipeline   *Pipeline
	devices    DeviceLister
	alarms     AlarmLister
	gate       FeatureGate
	heartbeats HeartbeatFunc
	maxUpload  int64
	logger     *zap.Logger
}

// NewServer 创建报送服务。devices/gate/heartbeats 可为 nil
// （设备列表为空、确认体退化为纯 200、HTTP 心跳只确认不处理）；
// maxUploadBytes <= 0 时用默认上限
func NewServer(addr string, pipeline *Pipeline, devices DeviceLister, alarms AlarmLister, gate FeatureGate, heartbeats HeartbeatFunc, maxUploadBytes int64, logger *zap.Logger) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = maxVideoBodyBytes
	}
	s := &Server{
		mux:        http.NewServeMux(),
		pipeline:   pipeline,
		devices:    devices,
		alarms:     alarms,
		gate:       gate,
		heartbeats: heartbeats,
		maxUpload:  maxUploadBytes,
		logger:     logger,
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/video_upload", s.requireMethod(http.MethodPost, s.handleVideoUpload))
	s.mux.HandleFunc("/api/alarm_report", s.requireMethod(http.MethodPost, s.handleAlarmReport))
	s.mux.HandleFunc("/api/heartbeat", s.requireMethod(http.MethodPost, s.handleHeartbeat))

	s.mux.HandleFunc("/api/admin/devices", s.requireMethod(http.MethodGet, s.handleAdminDevices))
	s.mux.HandleFunc("/api/admin/alarms", s.requireMethod(http.MethodGet, s.handleAdminAlarms))
	s.mux.HandleFunc("/api/admin/alarms/export", s.requireMethod(http.MethodGet, s.handleAdminAlarmExport))
	s.mux.HandleFunc("/api/admin/alarms/failed", s.requireMethod(http.MethodGet, s.handleAdminFailedAlarms))
}

func (s *Server) requireMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// Handler 暴露路由（测试用）
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start 启动 HTTP 服务
func (s *Server) Start() error {
	s.logger.Info("Starting ingest HTTP server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping ingest HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleVideoUpload 视频上传：multipart 表单（BoardId、TaskSession、file）
func (s *Server) handleVideoUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemBytes); err != nil {
		writeResult(w, http.StatusBadRequest, 1, "invalid multipart form")
		return
	}

	boardID := r.FormValue("BoardId")
	taskSession := r.FormValue("TaskSession")
	if boardID == "" || taskSession == "" {
		writeResult(w, http.StatusBadRequest, 1, "missing BoardId or TaskSession")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeResult(w, http.StatusBadRequest, 1, "missing video file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeResult(w, http.StatusBadRequest, 1, "failed to read video file")
		return
	}

	videoID, err := s.pipeline.HandleVideoUpload(r.Context(), boardID, taskSession, header.Filename, data)
	if err != nil {
		s.logger.Error("Video upload failed",
			zap.String("board_id", boardID),
			zap.Error(err),
		)
		writeResult(w, http.StatusInternalServerError, 2, "failed to store video")
		return
	}

	writeJSON(w, http.StatusOK, protocol.VideoUploadReply{
		Result:  protocol.Result{Code: 0, Desc: "OK"},
		VideoID: videoID,
	})
}

// handleAlarmReport 告警上报。格式非法返回 400，重复上报直接确认
func (s *Server) handleAlarmReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAlarmBodyBytes))
	if err != nil {
		writeResult(w, http.StatusBadRequest, 1, "failed to read request body")
		return
	}

	report, err := protocol.ParseAlarmReport(body)
	if err != nil {
		s.logger.Warn("Rejected malformed alarm report", zap.Error(err))
		writeResult(w, http.StatusBadRequest, 1, err.Error())
		return
	}

	// 算法自判失败的上报：确认但不处理
	if report.Result != nil && !report.Result.OK() {
		writeAlarmAck(w, s.gate, report.BoardID)
		return
	}

	if _, err := s.pipeline.HandleAlarm(r.Context(), report); err != nil {
		s.logger.Error("Alarm processing failed",
			zap.String("board_id", report.BoardID),
			zap.Error(err),
		)
		writeResult(w, http.StatusInternalServerError, 2, "failed to process alarm")
		return
	}

	writeAlarmAck(w, s.gate, report.BoardID)
}

// handleHeartbeat HTTP 心跳（版本门控特性，MQTT 心跳之外的补充通道）。
// 已登记的固件版本或心跳自带的版本满足最低要求才接受
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAlarmBodyBytes))
	if err != nil {
		writeResult(w, http.StatusBadRequest, 1, "failed to read request body")
		return
	}

	hb, err := protocol.ParseHeartbeat(body)
	if err != nil {
		s.logger.Warn("Rejected malformed http heartbeat", zap.Error(err))
		writeResult(w, http.StatusBadRequest, 1, err.Error())
		return
	}

	supported := s.gate != nil && s.gate.IsFeatureSupported(hb.BoardID, capability.FeatureHTTPHeartbeat)
	if !supported && !capability.VersionSupports(hb.Version, capability.FeatureHTTPHeartbeat) {
		writeResult(w, http.StatusForbidden, 1, "firmware does not support http heartbeat")
		return
	}

	if s.heartbeats != nil {
		s.heartbeats(hb)
	}
	writeResult(w, http.StatusOK, 0, "OK")
}

// handleAdminDevices 设备列表（含连接状态）
func (s *Server) handleAdminDevices(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeJSON(w, http.StatusOK, okResult([]domain.Device{}))
		return
	}
	writeJSON(w, http.StatusOK, okResult(s.devices.List()))
}

// handleAdminAlarms 告警列表，支持设备/类型/级别/状态/时间段过滤与分页
func (s *Server) handleAdminAlarms(w http.ResponseWriter, r *http.Request) {
	filters, err := parseAlarmFilters(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failResult(err.Error()))
		return
	}

	alarms, err := s.alarms.ListAlarms(r.Context(), filters)
	if err != nil {
		s.logger.Error("Failed to list alarms", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failResult("failed to list alarms"))
		return
	}
	total, err := s.alarms.CountAlarms(r.Context(), filters)
	if err != nil {
		s.logger.Error("Failed to count alarms", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failResult("failed to count alarms"))
		return
	}

	writeJSON(w, http.StatusOK, okResult(map[string]any{
		"items": alarms,
		"total": total,
	}))
}

// handleAdminAlarmExport 告警列表导出为 xlsx
func (s *Server) handleAdminAlarmExport(w http.ResponseWriter, r *http.Request) {
	filters, err := parseAlarmFilters(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failResult(err.Error()))
		return
	}
	if filters.Limit == 0 {
		filters.Limit = 10000
	}

	alarms, err := s.alarms.ListAlarms(r.Context(), filters)
	if err != nil {
		s.logger.Error("Failed to list alarms for export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failResult("failed to list alarms"))
		return
	}

	data, err := export.GenerateAlarmExport(alarms)
	if err != nil {
		s.logger.Error("Failed to generate alarm export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failResult("failed to generate export"))
		return
	}

	filename := fmt.Sprintf("alarms_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(data)
}

// handleAdminFailedAlarms 投递失败告警列表（运维处置入口）
func (s *Server) handleAdminFailedAlarms(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 100)
	alarms, err := s.alarms.ListFailedAlarms(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list failed alarms", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, failResult("failed to list failed alarms"))
		return
	}
	writeJSON(w, http.StatusOK, okResult(alarms))
}

// parseAlarmFilters 从查询参数构建过滤条件
func parseAlarmFilters(r *http.Request) (repository.AlarmFilters, error) {
	q := r.URL.Query()
	var filters repository.AlarmFilters

	if v := q.Get("board_id"); v != "" {
		filters.BoardID = &v
	}
	if v := q.Get("alarm_type"); v != "" {
		filters.AlarmType = &v
	}
	if v := q.Get("severity"); v != "" {
		filters.Severity = &v
	}
	if v := q.Get("delivery"); v != "" {
		state := domain.DeliveryState(v)
		filters.Delivery = &state
	}
	if v := q.Get("start_time"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, fmt.Errorf("invalid start_time: %s", v)
		}
		filters.StartTime = &ts
	}
	if v := q.Get("end_time"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, fmt.Errorf("invalid end_time: %s", v)
		}
		filters.EndTime = &ts
	}
	filters.Limit = parseIntParam(r, "limit", 50)
	filters.Offset = parseIntParam(r, "offset", 0)
	return filters, nil
}

func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return def
	}
	return i
}

// writeAlarmAck 按固件特性门控决定响应体：
// 支持 alarm-ack 的固件解析 JSON 确认体，低版本只看 HTTP 200
func writeAlarmAck(w http.ResponseWriter, gate FeatureGate, boardID string) {
	if gate != nil && gate.IsFeatureSupported(boardID, capability.FeatureAlarmAck) {
		writeJSON(w, http.StatusOK, protocol.AlarmAck{Code: 0, Desc: "OK"})
		return
	}
	w.WriteHeader(http.StatusOK)
}

// writeResult 设备侧通用结果响应
func writeResult(w http.ResponseWriter, status, code int, desc string) {
	writeJSON(w, status, map[string]any{
		"Result": protocol.Result{Code: code, Desc: desc},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// 管理接口响应信封
type adminResult[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

func okResult[T any](result T) adminResult[T] {
	return adminResult[T]{Code: 2000, Type: "success", Message: "ok", Result: result}
}

func failResult(message string) adminResult[any] {
	return adminResult[any]{Code: -1, Type: "error", Message: message}
}
