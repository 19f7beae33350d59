package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kumocam/internal/api"
	"kumocam/internal/config"
)

// RequestIDHeader はリクエストIDを運ぶヘッダー
const RequestIDHeader = "X-Request-ID"

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	engine     *gin.Engine
	httpServer *http.Server
	handler    *KumocamHandler
	validator  *api.Validator
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, deps Deps) (*Server, error) {
	doc, err := api.LoadSpec(context.Background())
	if err != nil {
		return nil, err
	}
	validator, err := api.NewValidator(doc)
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(requestID(), gin.Logger(), gin.Recovery())

	s := &Server{
		config:    cfg,
		engine:    engine,
		handler:   &KumocamHandler{config: cfg, deps: deps},
		validator: validator,
		httpServer: &http.Server{
			Addr:              cfg.ServerAddress(),
			Handler:           engine,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s, nil
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	h := s.handler

	// ページとストリーム
	s.engine.GET("/", h.Index)
	s.engine.GET("/stream", h.Stream)
	s.engine.GET("/capture", h.Capture)
	s.engine.GET("/api/openapi.yaml", h.OpenAPISpec)

	// OpenAPI定義で検証するエンドポイント
	v := s.engine.Group("/", s.validator.Middleware())
	v.GET("/health", h.HealthCheck)
	v.GET("/api/status", h.GetStatus)
	v.GET("/api/camera", h.GetCamera)
	v.PUT("/api/camera/settings", h.UpdateCameraSettings)
	v.GET("/api/camera/devices", h.GetCameraDevices)
	v.GET("/api/servos", h.GetServos)
	v.PUT("/api/servos/:channel", h.MoveServo)
	v.GET("/api/network", h.GetNetwork)
	v.POST("/api/ota", h.UploadOTA)
}

// requestID はリクエストIDを付与するミドルウェア
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve は listener で待ち受け、ctx の終了かシグナルでシャットダウンする
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		log.Printf("HTTPサーバーを起動しています: %s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		log.Println("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Printf("シグナルを受信しました: %v", sig)
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	log.Println("サーバーをシャットダウンしています...")

	// ストリーム配信は終了しないため先に止める
	if s.handler.deps.Streamer != nil {
		s.handler.deps.Streamer.Stop()
	}

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	log.Println("サーバーが正常にシャットダウンされました")
	return nil
}
