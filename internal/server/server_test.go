package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kumocam/internal/api"
	"kumocam/internal/camera"
	"kumocam/internal/config"
	"kumocam/internal/network"
	"kumocam/internal/ota"
	"kumocam/internal/servo"
	"kumocam/internal/stream"
)

// testEnv はテスト用の依存関係一式
type testEnv struct {
	server  *Server
	driver  *camera.Driver
	servos  *servo.Controller
	dummy   *servo.DummyDriver
	updater *ota.Updater
}

func newTestEnv(t *testing.T, modify ...func(*config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Camera = camera.DefaultConfig(false)
	cfg.Camera.Device = camera.DevicePattern
	cfg.Camera.FrameSize = camera.FrameSizeQVGA
	cfg.Camera.FPS = 30
	for _, fn := range modify {
		fn(cfg)
	}

	driver := camera.NewDriver(camera.NewSensor(cfg.Camera.Device), cfg.Camera)
	if err := driver.Init(context.Background()); err != nil {
		t.Fatalf("camera Init failed: %v", err)
	}
	t.Cleanup(func() { _ = driver.Deinit() })

	dummy := servo.Dummy()
	servos := servo.NewController(dummy, map[int]string{0: "pan"})
	if err := servos.Init(); err != nil {
		t.Fatalf("servo Init failed: %v", err)
	}

	updater := ota.NewUpdater(ota.Config{
		FilesystemPath: filepath.Join(t.TempDir(), "data.tar"),
	}, ota.Hooks{}, nil)

	srv, err := New(cfg, Deps{
		Camera:    driver,
		Streamer:  stream.NewStreamer(driver),
		Discovery: camera.NewMockDiscovery([]string{"/dev/video0"}),
		Servos:    servos,
		Network:   network.NewManager(network.DefaultConfig(), network.NewMockRunner()),
		Updater:   updater,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return &testEnv{server: srv, driver: driver, servos: servos, dummy: dummy, updater: updater}
}

func (e *testEnv) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	env := newTestEnv(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	// テスト用のコンテキスト（タイムアウト付き）
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// サーバーを別ゴルーチンで起動
	errCh := make(chan error, 1)
	go func() {
		errCh <- env.server.Serve(ctx, listener)
	}()

	resp, err := http.Get("http://" + listener.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("予期しないステータスコード: %d", resp.StatusCode)
	}

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	// エラーチャンネルから結果を受信
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestServerEndpoints はサーバーのエンドポイントをテストする
func TestServerEndpoints(t *testing.T) {
	env := newTestEnv(t)

	// テストケース
	testCases := []struct {
		name           string
		endpoint       string
		expectedStatus int
		contains       string
	}{
		{"ルートエンドポイント", "/", http.StatusOK, `src="/stream"`},
		{"ヘルスチェックエンドポイント", "/health", http.StatusOK, `"healthy"`},
		{"ステータスエンドポイント", "/api/status", http.StatusOK, `"running"`},
		{"カメラエンドポイント", "/api/camera", http.StatusOK, `"pattern"`},
		{"デバイス一覧", "/api/camera/devices", http.StatusOK, "テストカメラ 1"},
		{"サーボ一覧", "/api/servos", http.StatusOK, `"servos"`},
		{"ネットワーク", "/api/network", http.StatusOK, `"enabled":false`},
		{"OpenAPI定義", "/api/openapi.yaml", http.StatusOK, "openapi: 3.0.3"},
		{"未定義のAPI", "/api/unknown", http.StatusNotFound, ""},
	}

	// 各エンドポイントをテスト
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(http.MethodGet, tc.endpoint, "", "")

			if w.Code != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d", w.Code, tc.expectedStatus)
			}
			if tc.contains != "" && !strings.Contains(w.Body.String(), tc.contains) {
				t.Errorf("レスポンスに %q が含まれていません: %s", tc.contains, w.Body.String())
			}
			if _, err := parseUUID(w.Header().Get(RequestIDHeader)); err != nil {
				t.Errorf("リクエストIDが付与されていません: %v", err)
			}
		})
	}
}

func TestMoveServo(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		name           string
		path           string
		body           string
		expectedStatus int
	}{
		{"正常", "/api/servos/0", `{"angle":90}`, http.StatusOK},
		{"最大角度", "/api/servos/15", `{"angle":180}`, http.StatusOK},
		{"角度が範囲外", "/api/servos/0", `{"angle":200}`, http.StatusBadRequest},
		{"チャンネルが範囲外", "/api/servos/16", `{"angle":90}`, http.StatusBadRequest},
		{"不正なJSON", "/api/servos/0", `{"angle":`, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(http.MethodPut, tc.path, "application/json", tc.body)
			if w.Code != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d: %s", w.Code, tc.expectedStatus, w.Body.String())
			}
		})
	}

	// 90度は1400µs、286ティック
	w := env.do(http.MethodPut, "/api/servos/0", "application/json", `{"angle":90}`)
	var info api.ServoInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if info.Name != "pan" || info.PulseUs != 1400 || info.Ticks != 286 {
		t.Errorf("サーボ情報が一致しません: %+v", info)
	}

	writes := env.dummy.Writes()
	last := writes[len(writes)-1]
	if last.Channel != 0 || last.On != 0 || last.Off != 286 {
		t.Errorf("PWM書き込みが一致しません: %+v", last)
	}
}

func TestUpdateCameraSettings(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPut, "/api/camera/settings", "application/json",
		`{"frame_size":"qvga","quality":10,"hmirror":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d: %s", w.Code, w.Body.String())
	}
	if !env.driver.Settings().HMirror {
		t.Error("設定が反映されていません")
	}

	w = env.do(http.MethodPut, "/api/camera/settings", "application/json",
		`{"frame_size":"qvga","quality":99}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("範囲外の品質で400が期待されました: %d", w.Code)
	}
}

func TestCapture(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/capture", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Typeが一致しません: %s", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte{0xFF, 0xD8}) {
		t.Error("JPEGではありません")
	}
}

func TestStream(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != stream.ContentType {
		t.Errorf("Content-Typeが一致しません: %s", ct)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, stream.Boundary+"Content-Type: image/jpeg\r\nContent-Length: ") {
		t.Errorf("マルチパートの形式が一致しません: %q", body[:min(len(body), 80)])
	}
}

func TestStreamUnavailable(t *testing.T) {
	env := newTestEnv(t)

	if err := env.driver.Deinit(); err != nil {
		t.Fatalf("Deinit failed: %v", err)
	}

	for _, path := range []string{"/stream", "/capture"} {
		w := env.do(http.MethodGet, path, "", "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: 503が期待されました: %d", path, w.Code)
		}
	}
}

func TestUploadOTA(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/ota?command=filesystem", "application/octet-stream", "archive")
	if w.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d: %s", w.Code, w.Body.String())
	}

	var resp api.OTAResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if resp.Command != "filesystem" || resp.Bytes != 7 || resp.Restart {
		t.Errorf("結果が一致しません: %+v", resp)
	}

	// ダイジェスト不一致
	req := httptest.NewRequest(http.MethodPost, "/api/ota?command=filesystem", strings.NewReader("archive"))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-OTA-Digest", strings.Repeat("0", 64))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("ダイジェスト不一致で422が期待されました: %d", rec.Code)
	}
}

// TestUploadOTASlowBody はヘッダーのタイムアウトより長くかかる本文を受け付けることをテストする
func TestUploadOTASlowBody(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.ReadHeaderTimeout = 200 * time.Millisecond
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- env.server.Serve(ctx, listener)
	}()

	const chunks, chunkSize = 8, 100
	pr, pw := io.Pipe()
	go func() {
		chunk := bytes.Repeat([]byte{0x5a}, chunkSize)
		for i := 0; i < chunks; i++ {
			time.Sleep(100 * time.Millisecond)
			if _, err := pw.Write(chunk); err != nil {
				return
			}
		}
		_ = pw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+listener.Addr().String()+"/api/ota?command=filesystem", pr)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.ContentLength = chunks * chunkSize
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d: %s", resp.StatusCode, body)
	}
	var result api.OTAResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if result.Bytes != chunks*chunkSize {
		t.Errorf("受信バイト数 = %d, want %d", result.Bytes, chunks*chunkSize)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

func TestOTAErrorStatus(t *testing.T) {
	testCases := []struct {
		err      error
		expected int
	}{
		{ota.ErrInProgress, http.StatusConflict},
		{&ota.Error{Kind: ota.ErrorAuth}, http.StatusUnauthorized},
		{&ota.Error{Kind: ota.ErrorBegin}, http.StatusInternalServerError},
		{&ota.Error{Kind: ota.ErrorReceive}, http.StatusBadRequest},
		{&ota.Error{Kind: ota.ErrorEnd}, http.StatusUnprocessableEntity},
	}

	for _, tc := range testCases {
		if status, _ := otaErrorStatus(tc.err); status != tc.expected {
			t.Errorf("otaErrorStatus(%v) = %d, want %d", tc.err, status, tc.expected)
		}
	}
}

func parseUUID(s string) (string, error) {
	id, err := uuid.Parse(s)
	return id.String(), err
}
