package api

import "time"

// HealthResponseStatus はヘルスチェックの状態
type HealthResponseStatus string

const (
	Healthy HealthResponseStatus = "healthy"
)

// StatusResponseStatus はシステム全体の状態
type StatusResponseStatus string

const (
	Running  StatusResponseStatus = "running"
	Updating StatusResponseStatus = "updating"
)

// CameraInfoStatus はカメラの状態
type CameraInfoStatus string

const (
	Active   CameraInfoStatus = "active"
	Inactive CameraInfoStatus = "inactive"
	Error    CameraInfoStatus = "error"
)

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    HealthResponseStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
}

// ServerInfo はサーバー情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StreamStats は配信の統計情報
type StreamStats struct {
	Clients    int64  `json:"clients"`
	FramesSent uint64 `json:"frames_sent"`
	BytesSent  uint64 `json:"bytes_sent"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status        StatusResponseStatus `json:"status"`
	Server        ServerInfo           `json:"server"`
	Camera        CameraInfo           `json:"camera"`
	Stream        StreamStats          `json:"stream"`
	Servos        int                  `json:"servos"`
	OtaInProgress bool                 `json:"ota_in_progress"`
	Timestamp     time.Time            `json:"timestamp"`
}

// CameraSettings はセンサー設定
type CameraSettings struct {
	FrameSize     string `json:"frame_size"`
	Quality       int    `json:"quality"`
	Brightness    int    `json:"brightness"`
	Contrast      int    `json:"contrast"`
	Saturation    int    `json:"saturation"`
	Vflip         bool   `json:"vflip"`
	Hmirror       bool   `json:"hmirror"`
	SpecialEffect int    `json:"special_effect"`
}

// CameraInfo はカメラ情報
type CameraInfo struct {
	Device      string           `json:"device"`
	Status      CameraInfoStatus `json:"status"`
	PixelFormat string           `json:"pixel_format"`
	Settings    CameraSettings   `json:"settings"`
	Buffers     int              `json:"buffers,omitempty"`
	Captured    uint64           `json:"captured"`
	Failures    uint64           `json:"failures"`
	LastError   *string          `json:"last_error,omitempty"`
}

// DeviceInfo はカメラデバイスの情報
type DeviceInfo struct {
	Device  string   `json:"device"`
	Name    string   `json:"name"`
	Driver  string   `json:"driver,omitempty"`
	Formats []string `json:"formats,omitempty"`
}

// DevicesResponse はデバイス一覧のレスポンス
type DevicesResponse struct {
	Devices []DeviceInfo `json:"devices"`
}

// ServoInfo はサーボの位置情報
type ServoInfo struct {
	Channel   int        `json:"channel"`
	Name      string     `json:"name"`
	Kind      string     `json:"kind"`
	Input     int        `json:"input"`
	PulseUs   int        `json:"pulse_us"`
	Ticks     int        `json:"ticks"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ServosResponse はサーボ一覧のレスポンス
type ServosResponse struct {
	Servos []ServoInfo `json:"servos"`
}

// ServoMoveRequest はサーボ移動のリクエスト
type ServoMoveRequest struct {
	Angle int `json:"angle"`
}

// StationInfo はステーション接続の情報
type StationInfo struct {
	Interface string `json:"interface,omitempty"`
	Connected bool   `json:"connected"`
	Ssid      string `json:"ssid,omitempty"`
	Ip        string `json:"ip,omitempty"`
}

// NetworkInfo はネットワーク状態
type NetworkInfo struct {
	Enabled     bool        `json:"enabled"`
	Station     StationInfo `json:"station"`
	AccessPoint bool        `json:"access_point"`
	Nat         bool        `json:"nat"`
}

// OTAResponse は更新結果
type OTAResponse struct {
	Command string `json:"command"`
	Bytes   int64  `json:"bytes"`
	Digest  string `json:"digest"`
	Restart bool   `json:"restart"`
}

// ErrorResponse はエラーレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewError はエラーレスポンスを作成する
func NewError(code, message string, details error) ErrorResponse {
	resp := ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	}
	if details != nil {
		d := details.Error()
		resp.Details = &d
	}
	return resp
}
