package servo

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

// NumChannels はPCA9685の出力チャンネル数
const NumChannels = 16

// DefaultAddr はPCA9685のデフォルトI2Cアドレス
const DefaultAddr = pca9685.I2CAddr

// ErrChannelOutOfRange はチャンネル番号が範囲外の場合のエラー
var ErrChannelOutOfRange = errors.New("チャンネル番号が範囲外です")

// Driver はPWM出力ボードを抽象化するインターフェース
type Driver interface {
	// SetFrequency はPWM周波数を設定する
	SetFrequency(hz int) error

	// SetPWM は指定チャンネルのON/OFFティックを設定する
	SetPWM(channel int, on, off uint16) error

	// Close はデバイスを解放する
	Close() error
}

// PCA9685 はperiph経由でPCA9685を操作するDriver実装
type PCA9685 struct {
	bus i2c.BusCloser
	dev *pca9685.Dev
}

// NewPCA9685 はI2Cバスを開いてPCA9685を初期化する
func NewPCA9685(busName string, addr uint16) (*PCA9685, error) {
	// periphのホストドライバを初期化
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periphの初期化に失敗: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("I2Cバス %q のオープンに失敗: %w", busName, err)
	}

	dev, err := pca9685.NewI2C(bus, addr)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("PCA9685 (0x%02x) の初期化に失敗: %w", addr, err)
	}

	return &PCA9685{bus: bus, dev: dev}, nil
}

// SetFrequency はPWM周波数を設定する
func (p *PCA9685) SetFrequency(hz int) error {
	return p.dev.SetPwmFreq(physic.Frequency(hz) * physic.Hertz)
}

// SetPWM は指定チャンネルのON/OFFティックを設定する
func (p *PCA9685) SetPWM(channel int, on, off uint16) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("%w: %d", ErrChannelOutOfRange, channel)
	}
	return p.dev.SetPwm(channel, gpio.Duty(on), gpio.Duty(off))
}

// Close は全出力を停止してバスを閉じる
func (p *PCA9685) Close() error {
	haltErr := p.dev.SetAllPwm(0, 0)
	if err := p.bus.Close(); err != nil {
		return fmt.Errorf("I2Cバスのクローズに失敗: %w", err)
	}
	return haltErr
}

// Write はDummyドライバに記録された1回分の書き込み
type Write struct {
	Channel int
	On      uint16
	Off     uint16
}

// DummyDriver はハードウェアなしで動作する記録用Driver
type DummyDriver struct {
	mu        sync.Mutex
	frequency int
	writes    []Write
	closed    bool
}

// Dummy は新しいDummyDriverを作成する
func Dummy() *DummyDriver {
	return &DummyDriver{}
}

// SetFrequency は周波数を記録する
func (d *DummyDriver) SetFrequency(hz int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frequency = hz
	return nil
}

// SetPWM は書き込みを記録する
func (d *DummyDriver) SetPWM(channel int, on, off uint16) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("%w: %d", ErrChannelOutOfRange, channel)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, Write{Channel: channel, On: on, Off: off})
	return nil
}

// Close はクローズ済みとして記録する
func (d *DummyDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Frequency は最後に設定された周波数を返す
func (d *DummyDriver) Frequency() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frequency
}

// Writes は記録された書き込みのコピーを返す
func (d *DummyDriver) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := make([]Write, len(d.writes))
	copy(result, d.writes)
	return result
}

// Closed はCloseが呼ばれたかを返す
func (d *DummyDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
