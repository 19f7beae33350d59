// Package app は各コンポーネントを起動順に組み立てる
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"periph.io/x/conn/v3/physic"

	"kumocam/internal/camera"
	"kumocam/internal/config"
	"kumocam/internal/network"
	"kumocam/internal/ota"
	"kumocam/internal/server"
	"kumocam/internal/servo"
	"kumocam/internal/stream"
	"kumocam/internal/system"
)

// Options は外部依存の差し替え
type Options struct {
	Sensor    camera.Sensor    // nil なら設定のデバイスから作成
	Discovery camera.Discovery // nil ならLinuxDiscovery
	Runner    network.Runner   // nil ならExecRunner
	Servo     servo.Driver     // nil なら設定から作成
	Analog    servo.AnalogReader
	Restarter system.Restarter // nil ならExecRestarter
}

// App はアプリケーション全体
type App struct {
	config *config.Config
	opts   Options

	driver   *camera.Driver
	streamer *stream.Streamer
	network  *network.Manager
	updater  *ota.Updater
	servos   *servo.Controller
	analog   servo.AnalogReader
	server   *server.Server

	closeOnce sync.Once
}

// New は新しいAppを作成する
func New(cfg *config.Config, opts Options) *App {
	if opts.Sensor == nil {
		opts.Sensor = camera.NewSensor(cfg.Camera.Device)
	}
	if opts.Discovery == nil {
		opts.Discovery = camera.NewLinuxDiscovery()
	}
	if opts.Runner == nil {
		opts.Runner = network.ExecRunner{}
	}

	a := &App{config: cfg, opts: opts}
	if opts.Restarter == nil {
		a.opts.Restarter = system.NewExecRestarter(a.beforeExec)
	}

	a.driver = camera.NewDriver(opts.Sensor, cfg.Camera)
	a.streamer = stream.NewStreamer(a.driver)
	a.network = network.NewManager(cfg.Network, opts.Runner)
	a.updater = ota.NewUpdater(cfg.OTA, a.otaHooks(), a.opts.Restarter)
	return a
}

// Run は起動処理を行い、ctx が終了するまで動作する
func (a *App) Run(ctx context.Context) error {
	defer a.release()

	// サーバーがシグナルで停止した場合も周期処理を止める
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// カメラ（失敗してもOTAのために続行する）
	if err := a.driver.Init(ctx); err != nil {
		log.Printf("カメラの初期化に失敗しました。OTAのために続行します: %v", err)
	}

	// ネットワーク
	online := true
	if a.config.Network.Enabled {
		if _, err := a.network.Start(ctx); err != nil {
			log.Printf("Wi-Fi接続に失敗しました: %v", err)
			online = false
		}
		defer func() {
			if err := a.network.Stop(context.Background()); err != nil {
				log.Printf("ネットワークの停止に失敗: %v", err)
			}
		}()
	}

	// サーボ
	var wg sync.WaitGroup
	if err := a.setupServos(); err != nil {
		log.Printf("サーボの初期化に失敗しました: %v", err)
	} else if follower := a.follower(); follower != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = follower.Run(ctx)
		}()
	}

	// 定期再起動
	if a.config.Restart.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := system.PeriodicRestart(ctx, a.config.Restart.Interval, a.opts.Restarter); err != nil {
				log.Printf("定期再起動に失敗: %v", err)
				a.resumeCamera()
			}
		}()
	}

	// HTTPサーバー（Wi-Fi未接続なら起動しない）
	var runErr error
	if online {
		srv, err := a.Server()
		if err != nil {
			runErr = err
		} else {
			log.Printf("HTTP: http://%s/ ストリーム http://%s/stream", a.config.ServerAddress(), a.config.ServerAddress())
			runErr = srv.Start(ctx)
		}
	} else {
		log.Println("Wi-Fiが無いためWebサーバーを起動しません")
		<-ctx.Done()
	}

	cancel()
	wg.Wait()
	return runErr
}

// Server はHTTPサーバーを作成する
func (a *App) Server() (*server.Server, error) {
	if a.server != nil {
		return a.server, nil
	}

	deps := server.Deps{
		Camera:    a.driver,
		Streamer:  a.streamer,
		Discovery: a.opts.Discovery,
		Network:   a.network,
		Updater:   a.updater,
	}
	if a.servos != nil {
		deps.Servos = a.servos
	}

	srv, err := server.New(a.config, deps)
	if err != nil {
		return nil, fmt.Errorf("HTTPサーバーの作成に失敗: %w", err)
	}
	a.server = srv
	return srv, nil
}

// otaHooks は更新中にカメラと配信を止めるフックを返す
func (a *App) otaHooks() ota.Hooks {
	return ota.Hooks{
		OnStart: func(cmd ota.Command) {
			log.Printf("OTA開始 (%s): 配信とカメラを停止します", cmd)
			a.streamer.Stop()
			if err := a.driver.Deinit(); err != nil {
				log.Printf("カメラの停止に失敗: %v", err)
			}
		},
		OnEnd: func(cmd ota.Command) {
			log.Printf("OTA終了 (%s)", cmd)
			// ファームウェア更新後は再起動するので再開しない
			if cmd == ota.CommandFilesystem {
				a.resumeCamera()
			}
		},
		OnProgress: func(progress, total int64) {
			log.Printf("OTA %d%%", progress*100/total)
		},
		OnError: func(kind ota.ErrorKind, err error) {
			log.Printf("OTAエラー [%s]: %v", kind, err)
			a.resumeCamera()
		},
	}
}

// resumeCamera は停止したカメラと配信を再開する
func (a *App) resumeCamera() {
	if err := a.driver.Init(context.Background()); err != nil {
		log.Printf("カメラの再初期化に失敗: %v", err)
	}
	a.streamer.Resume()
}

// setupServos はサーボドライバとアナログ入力を開く
func (a *App) setupServos() error {
	cfg := a.config.Servo

	drv := a.opts.Servo
	if drv == nil {
		switch cfg.Driver {
		case "":
			return nil
		case "dummy":
			drv = servo.Dummy()
		case "pca9685":
			p, err := servo.NewPCA9685(cfg.Bus, cfg.Address)
			if err != nil {
				return err
			}
			drv = p
		default:
			return fmt.Errorf("不明なサーボドライバ: %q", cfg.Driver)
		}
	}

	controller := servo.NewController(drv, cfg.Names)
	if err := controller.Init(); err != nil {
		_ = controller.Close()
		return err
	}
	for ch, deg := range cfg.Initial {
		if _, err := controller.MoveDegrees(ch, deg); err != nil {
			log.Printf("サーボ %d の初期位置設定に失敗: %v", ch, err)
		}
	}
	a.servos = controller

	if len(cfg.Follow) == 0 {
		return nil
	}
	reader, err := a.openAnalog()
	if err != nil {
		return fmt.Errorf("アナログ入力のオープンに失敗: %w", err)
	}
	a.analog = reader
	return nil
}

// openAnalog は設定に応じたアナログ入力を開く
func (a *App) openAnalog() (servo.AnalogReader, error) {
	if a.opts.Analog != nil {
		return a.opts.Analog, nil
	}

	cfg := a.config.Servo.Analog
	switch cfg.Source {
	case "ads1115":
		maxV := physic.ElectricPotential(cfg.MaxVoltage * float64(physic.Volt))
		return servo.NewADS1115(cfg.Bus, cfg.Address, maxV)
	case "serial":
		return servo.NewSerialAnalog(cfg.Device, cfg.Baud)
	default:
		return nil, errors.New("アナログ入力が設定されていません")
	}
}

func (a *App) follower() *servo.Follower {
	if a.servos == nil || a.analog == nil {
		return nil
	}
	return servo.NewFollower(a.servos, a.analog, a.config.Servo.Follow, a.config.Servo.Interval)
}

// beforeExec は再実行の前に配信とカメラを止める
// exec に失敗した場合は resumeCamera で元に戻せる
func (a *App) beforeExec() {
	a.streamer.Stop()
	if err := a.driver.Deinit(); err != nil {
		log.Printf("カメラの停止に失敗: %v", err)
	}
}

// release はハードウェア資源を解放する
func (a *App) release() {
	a.closeOnce.Do(func() {
		if err := a.driver.Deinit(); err != nil {
			log.Printf("カメラの停止に失敗: %v", err)
		}
		if a.analog != nil {
			_ = a.analog.Close()
		}
		if a.servos != nil {
			if err := a.servos.Close(); err != nil {
				log.Printf("サーボの停止に失敗: %v", err)
			}
		}
	})
}
