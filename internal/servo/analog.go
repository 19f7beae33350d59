package servo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

// ErrNoSample はまだ値を受信していない入力を読んだ場合のエラー
var ErrNoSample = errors.New("アナログ値がまだ取得されていません")

// AnalogReader はポテンショメーターなどのアナログ入力を読み取る
// 戻り値は 0..AnalogMax に正規化される
type AnalogReader interface {
	ReadAnalog(ctx context.Context, input int) (int, error)
	Close() error
}

var adsChannels = []ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

// ADS1115 はADS1115 ADCを使ったAnalogReader実装
type ADS1115 struct {
	bus        i2c.BusCloser
	dev        *ads1x15.Dev
	maxVoltage physic.ElectricPotential
	pins       map[int]ads1x15.PinADC
	mu         sync.Mutex
}

// NewADS1115 はI2Cバス上のADS1115を開く
func NewADS1115(busName string, addr uint16, maxVoltage physic.ElectricPotential) (*ADS1115, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periphの初期化に失敗: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("I2Cバス %q のオープンに失敗: %w", busName, err)
	}

	opts := ads1x15.DefaultOpts
	if addr != 0 {
		opts.I2cAddress = addr
	}

	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("ADS1115の初期化に失敗: %w", err)
	}

	return &ADS1115{
		bus:        bus,
		dev:        dev,
		maxVoltage: maxVoltage,
		pins:       make(map[int]ads1x15.PinADC),
	}, nil
}

// ReadAnalog は指定チャンネルの電圧を 0..AnalogMax に変換して返す
func (a *ADS1115) ReadAnalog(_ context.Context, input int) (int, error) {
	if input < 0 || input >= len(adsChannels) {
		return 0, fmt.Errorf("ADS1115の入力番号が範囲外: %d", input)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pin, ok := a.pins[input]
	if !ok {
		var err error
		pin, err = a.dev.PinForChannel(adsChannels[input], a.maxVoltage, 128*physic.Hertz, ads1x15.SaveEnergy)
		if err != nil {
			return 0, fmt.Errorf("入力 %d のピン取得に失敗: %w", input, err)
		}
		a.pins[input] = pin
	}

	sample, err := pin.Read()
	if err != nil {
		return 0, fmt.Errorf("入力 %d の読み取りに失敗: %w", input, err)
	}

	return scaleVoltage(sample.V, a.maxVoltage), nil
}

// Close はピンを停止してバスを閉じる
func (a *ADS1115) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for input, pin := range a.pins {
		if err := pin.Halt(); err != nil {
			log.Printf("ADS1115 入力 %d の停止に失敗: %v", input, err)
		}
	}
	a.pins = make(map[int]ads1x15.PinADC)

	return a.bus.Close()
}

// scaleVoltage は電圧を 0..AnalogMax に変換する
func scaleVoltage(v, maxVoltage physic.ElectricPotential) int {
	if maxVoltage <= 0 || v <= 0 {
		return 0
	}
	raw := int64(v) * AnalogMax / int64(maxVoltage)
	if raw > AnalogMax {
		return AnalogMax
	}
	return int(raw)
}

// SerialAnalog はシリアル接続したマイコンから "A<n>:<value>" 形式の行を受信する
type SerialAnalog struct {
	port   io.ReadCloser
	values map[int]int
	mu     sync.RWMutex
	done   chan struct{}
}

// NewSerialAnalog はシリアルポートを開いて受信ループを開始する
func NewSerialAnalog(device string, baudRate int) (*SerialAnalog, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("シリアルポート %s のオープンに失敗: %w", device, err)
	}

	return newSerialAnalog(port), nil
}

func newSerialAnalog(port io.ReadCloser) *SerialAnalog {
	s := &SerialAnalog{
		port:   port,
		values: make(map[int]int),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// readLoop は行単位で値を受信して保持する
func (s *SerialAnalog) readLoop() {
	defer close(s.done)

	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		input, value, err := parseAnalogLine(scanner.Text())
		if err != nil {
			continue
		}

		s.mu.Lock()
		s.values[input] = value
		s.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		log.Printf("シリアル受信が停止しました: %v", err)
	}
}

// ReadAnalog は最後に受信した値を返す
func (s *SerialAnalog) ReadAnalog(_ context.Context, input int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[input]
	if !ok {
		return 0, fmt.Errorf("%w: A%d", ErrNoSample, input)
	}
	return value, nil
}

// Close はポートを閉じて受信ループの終了を待つ
func (s *SerialAnalog) Close() error {
	err := s.port.Close()
	select {
	case <-s.done:
	case <-time.After(time.Second):
	}
	return err
}

// parseAnalogLine は "A0:512" 形式の行を解析する
func parseAnalogLine(line string) (int, int, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "A") {
		return 0, 0, fmt.Errorf("不正な行: %q", line)
	}

	parts := strings.SplitN(line[1:], ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("不正な行: %q", line)
	}

	input, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || input < 0 {
		return 0, 0, fmt.Errorf("不正な入力番号: %q", line)
	}

	value, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("不正な値: %q", line)
	}
	if value < 0 {
		value = 0
	} else if value > AnalogMax {
		value = AnalogMax
	}

	return input, value, nil
}
