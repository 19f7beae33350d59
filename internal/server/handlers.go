package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kumocam/internal/api"
	"kumocam/internal/camera"
	"kumocam/internal/config"
	"kumocam/internal/network"
	"kumocam/internal/ota"
	"kumocam/internal/servo"
	"kumocam/internal/stream"
)

// Camera はハンドラが使うカメラドライバの操作
type Camera interface {
	Config() camera.Config
	Status() camera.Status
	Stats() camera.Stats
	Settings() camera.SensorSettings
	ApplySettings(ctx context.Context, settings camera.SensorSettings) error
}

// Streamer はMJPEG配信の操作
type Streamer interface {
	Serve(ctx context.Context, w io.Writer, flush func()) error
	Capture(ctx context.Context) ([]byte, error)
	Stats() stream.Stats
	Stopped() bool
	Stop()
}

// Servos はサーボ制御の操作
type Servos interface {
	MoveDegrees(channel, deg int) (servo.Position, error)
	Positions() []servo.Position
}

// Network はネットワーク状態の取得
type Network interface {
	Status() network.Status
}

// Updater はOTA更新の操作
type Updater interface {
	Update(ctx context.Context, req ota.Request) (ota.Result, error)
	InProgress() bool
}

// Deps はハンドラの依存関係。nil の項目は無効な機能として扱う
type Deps struct {
	Camera    Camera
	Streamer  Streamer
	Discovery camera.Discovery
	Servos    Servos
	Network   Network
	Updater   Updater
}

// KumocamHandler はAPIエンドポイントを実装する
type KumocamHandler struct {
	config *config.Config
	deps   Deps
}

// Index はインデックスページを返す
func (h *KumocamHandler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", getIndexHTML())
}

// OpenAPISpec はOpenAPI定義を返す
func (h *KumocamHandler) OpenAPISpec(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml", api.SpecYAML())
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *KumocamHandler) HealthCheck(c *gin.Context) {
	response := api.HealthResponse{
		Status:    api.Healthy,
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *KumocamHandler) GetStatus(c *gin.Context) {
	response := api.StatusResponse{
		Status: api.Running,
		Server: api.ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Camera:    h.cameraInfo(),
		Timestamp: time.Now(),
	}

	if h.deps.Streamer != nil {
		st := h.deps.Streamer.Stats()
		response.Stream = api.StreamStats{
			Clients:    st.Clients,
			FramesSent: st.FramesSent,
			BytesSent:  st.BytesSent,
		}
	}
	if h.deps.Servos != nil {
		response.Servos = len(h.deps.Servos.Positions())
	}
	if h.otaInProgress() {
		response.Status = api.Updating
		response.OtaInProgress = true
	}

	c.JSON(http.StatusOK, response)
}

// GetCamera はカメラ情報取得エンドポイントの実装
func (h *KumocamHandler) GetCamera(c *gin.Context) {
	if h.deps.Camera == nil {
		h.unavailable(c, "camera_disabled", "カメラが無効です")
		return
	}
	c.JSON(http.StatusOK, h.cameraInfo())
}

// UpdateCameraSettings はセンサー設定変更エンドポイントの実装
func (h *KumocamHandler) UpdateCameraSettings(c *gin.Context) {
	if h.deps.Camera == nil {
		h.unavailable(c, "camera_disabled", "カメラが無効です")
		return
	}

	var req api.CameraSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.NewError("invalid_request", "リクエストが無効です", err))
		return
	}

	settings := fromAPISettings(req)
	if err := h.deps.Camera.ApplySettings(c.Request.Context(), settings); err != nil {
		c.JSON(http.StatusBadRequest, api.NewError("invalid_settings", "設定を適用できません", err))
		return
	}

	c.JSON(http.StatusOK, toAPISettings(h.deps.Camera.Settings()))
}

// GetCameraDevices はカメラデバイス一覧エンドポイントの実装
func (h *KumocamHandler) GetCameraDevices(c *gin.Context) {
	response := api.DevicesResponse{Devices: []api.DeviceInfo{}}
	if h.deps.Discovery == nil {
		c.JSON(http.StatusOK, response)
		return
	}

	ctx := c.Request.Context()
	devices, err := h.deps.Discovery.ScanDevices(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.NewError("scan_failed", "デバイスの検出に失敗しました", err))
		return
	}

	for _, device := range devices {
		info, err := h.deps.Discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			log.Printf("デバイス %s の情報取得に失敗: %v", device, err)
			continue
		}
		response.Devices = append(response.Devices, api.DeviceInfo{
			Device:  info.Device,
			Name:    info.Name,
			Driver:  info.Driver,
			Formats: info.Formats,
		})
	}

	c.JSON(http.StatusOK, response)
}

// GetServos はサーボ一覧エンドポイントの実装
func (h *KumocamHandler) GetServos(c *gin.Context) {
	response := api.ServosResponse{Servos: []api.ServoInfo{}}
	if h.deps.Servos != nil {
		for _, p := range h.deps.Servos.Positions() {
			response.Servos = append(response.Servos, toServoInfo(p))
		}
	}
	c.JSON(http.StatusOK, response)
}

// MoveServo はサーボ移動エンドポイントの実装
func (h *KumocamHandler) MoveServo(c *gin.Context) {
	if h.deps.Servos == nil {
		h.unavailable(c, "servo_disabled", "サーボ制御が無効です")
		return
	}

	channel, err := api.BindChannel(c.Param("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.NewError("invalid_channel", "チャンネル番号が無効です", err))
		return
	}

	var req api.ServoMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.NewError("invalid_request", "リクエストが無効です", err))
		return
	}

	pos, err := h.deps.Servos.MoveDegrees(channel, req.Angle)
	if err != nil {
		if errors.Is(err, servo.ErrChannelOutOfRange) {
			c.JSON(http.StatusBadRequest, api.NewError("invalid_channel", "チャンネル番号が範囲外です", err))
			return
		}
		c.JSON(http.StatusInternalServerError, api.NewError("servo_failed", "サーボの移動に失敗しました", err))
		return
	}

	c.JSON(http.StatusOK, toServoInfo(pos))
}

// GetNetwork はネットワーク状態エンドポイントの実装
func (h *KumocamHandler) GetNetwork(c *gin.Context) {
	var status network.Status
	if h.deps.Network != nil {
		status = h.deps.Network.Status()
	}

	c.JSON(http.StatusOK, api.NetworkInfo{
		Enabled: status.Enabled,
		Station: api.StationInfo{
			Interface: status.Station.Interface,
			Connected: status.Station.Connected,
			Ssid:      status.Station.SSID,
			Ip:        status.Station.IP,
		},
		AccessPoint: status.AccessPoint,
		Nat:         status.NAT,
	})
}

// UploadOTA はOTA更新エンドポイントの実装
func (h *KumocamHandler) UploadOTA(c *gin.Context) {
	if h.deps.Updater == nil {
		h.unavailable(c, "ota_disabled", "OTA更新が無効です")
		return
	}

	raw, err := api.BindOTACommand(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, api.NewError("invalid_command", "更新コマンドが無効です", err))
		return
	}
	cmd, err := ota.ParseCommand(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.NewError("invalid_command", "更新コマンドが無効です", err))
		return
	}

	result, err := h.deps.Updater.Update(c.Request.Context(), ota.Request{
		Command:  cmd,
		Password: c.GetHeader("X-OTA-Password"),
		Digest:   c.GetHeader("X-OTA-Digest"),
		Size:     c.Request.ContentLength,
		Body:     c.Request.Body,
	})
	if err != nil {
		status, code := otaErrorStatus(err)
		c.JSON(status, api.NewError(code, "OTA更新に失敗しました", err))
		return
	}

	c.JSON(http.StatusOK, api.OTAResponse{
		Command: string(result.Command),
		Bytes:   result.Bytes,
		Digest:  result.Digest,
		Restart: result.Restart,
	})
}

// Stream はMJPEGストリーミングエンドポイントの実装
func (h *KumocamHandler) Stream(c *gin.Context) {
	if !h.streamAvailable(c) {
		return
	}

	// レスポンスヘッダーを設定
	c.Header("Content-Type", stream.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)

	if err := h.deps.Streamer.Serve(c.Request.Context(), c.Writer, c.Writer.Flush); err != nil {
		log.Printf("ストリーム配信を終了しました: %v", err)
	}
}

// Capture は静止画エンドポイントの実装
func (h *KumocamHandler) Capture(c *gin.Context) {
	if !h.streamAvailable(c) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	data, err := h.deps.Streamer.Capture(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, api.NewError("capture_failed", "静止画の取得に失敗しました", err))
		return
	}

	c.Header("Content-Disposition", "inline; filename=capture.jpg")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// ヘルパー関数

// streamAvailable は配信可能か確認し、不可能ならエラーを返す
func (h *KumocamHandler) streamAvailable(c *gin.Context) bool {
	switch {
	case h.deps.Camera == nil || h.deps.Streamer == nil:
		h.unavailable(c, "camera_disabled", "カメラが無効です")
	case h.otaInProgress() || h.deps.Streamer.Stopped():
		h.unavailable(c, "ota_in_progress", "OTA更新中のため配信を停止しています")
	case h.deps.Camera.Status() != camera.StatusActive:
		h.unavailable(c, "camera_not_active", "カメラがアクティブではありません")
	default:
		return true
	}
	return false
}

func (h *KumocamHandler) otaInProgress() bool {
	return h.deps.Updater != nil && h.deps.Updater.InProgress()
}

func (h *KumocamHandler) unavailable(c *gin.Context, code, message string) {
	c.JSON(http.StatusServiceUnavailable, api.NewError(code, message, nil))
}

// cameraInfo はカメラ情報を生成されたスキーマに変換する
func (h *KumocamHandler) cameraInfo() api.CameraInfo {
	if h.deps.Camera == nil {
		return api.CameraInfo{Status: api.Inactive}
	}

	cfg := h.deps.Camera.Config()
	stats := h.deps.Camera.Stats()
	info := api.CameraInfo{
		Device:      cfg.Device,
		Status:      convertCameraStatus(stats.Status),
		PixelFormat: string(cfg.PixelFormat),
		Settings:    toAPISettings(h.deps.Camera.Settings()),
		Buffers:     stats.Buffers,
		Captured:    stats.Captured,
		Failures:    stats.Failures,
	}
	if stats.LastError != "" {
		info.LastError = stringPtr(stats.LastError)
	}
	return info
}

// convertCameraStatus はカメラステータスを変換する
func convertCameraStatus(status camera.Status) api.CameraInfoStatus {
	switch status {
	case camera.StatusActive:
		return api.Active
	case camera.StatusInactive:
		return api.Inactive
	case camera.StatusError:
		return api.Error
	default:
		return api.Inactive
	}
}

func toAPISettings(s camera.SensorSettings) api.CameraSettings {
	return api.CameraSettings{
		FrameSize:     string(s.FrameSize),
		Quality:       s.Quality,
		Brightness:    s.Brightness,
		Contrast:      s.Contrast,
		Saturation:    s.Saturation,
		Vflip:         s.VFlip,
		Hmirror:       s.HMirror,
		SpecialEffect: s.SpecialEffect,
	}
}

func fromAPISettings(s api.CameraSettings) camera.SensorSettings {
	return camera.SensorSettings{
		FrameSize:     camera.FrameSize(s.FrameSize),
		Quality:       s.Quality,
		Brightness:    s.Brightness,
		Contrast:      s.Contrast,
		Saturation:    s.Saturation,
		VFlip:         s.Vflip,
		HMirror:       s.Hmirror,
		SpecialEffect: s.SpecialEffect,
	}
}

func toServoInfo(p servo.Position) api.ServoInfo {
	info := api.ServoInfo{
		Channel: p.Channel,
		Name:    p.Name,
		Kind:    string(p.Kind),
		Input:   p.Input,
		PulseUs: int(p.Pulse / time.Microsecond),
		Ticks:   int(p.Ticks),
	}
	if !p.UpdatedAt.IsZero() {
		t := p.UpdatedAt
		info.UpdatedAt = &t
	}
	return info
}

// otaErrorStatus はOTAエラーをHTTPステータスに対応させる
func otaErrorStatus(err error) (int, string) {
	if errors.Is(err, ota.ErrInProgress) {
		return http.StatusConflict, "ota_in_progress"
	}

	var otaErr *ota.Error
	if !errors.As(err, &otaErr) {
		return http.StatusInternalServerError, "ota_failed"
	}

	switch otaErr.Kind {
	case ota.ErrorAuth:
		return http.StatusUnauthorized, "ota_auth"
	case ota.ErrorConnect, ota.ErrorReceive:
		return http.StatusBadRequest, "ota_" + string(otaErr.Kind)
	case ota.ErrorEnd:
		return http.StatusUnprocessableEntity, "ota_end"
	default:
		return http.StatusInternalServerError, "ota_" + string(otaErr.Kind)
	}
}

// stringPtr は文字列のポインタを返すヘルパー関数
func stringPtr(s string) *string {
	return &s
}
