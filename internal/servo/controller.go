package servo

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// InputKind は入力値の種類
type InputKind string

const (
	InputAngle  InputKind = "angle"  // 角度 (0-180)
	InputAnalog InputKind = "analog" // アナログ値 (0-1023)
)

// Position は各チャンネルに最後に書き込んだ値
type Position struct {
	Channel   int
	Name      string
	Kind      InputKind
	Input     int
	Pulse     time.Duration
	Ticks     uint16
	UpdatedAt time.Time
}

// Controller はサーボ出力を管理する
type Controller struct {
	driver    Driver
	names     map[int]string
	positions map[int]Position
	mu        sync.RWMutex
}

// NewController は新しいControllerを作成する
// names はチャンネル番号から表示名への対応（省略可）
func NewController(driver Driver, names map[int]string) *Controller {
	if names == nil {
		names = make(map[int]string)
	}
	return &Controller{
		driver:    driver,
		names:     names,
		positions: make(map[int]Position),
	}
}

// Init はPWM周波数を設定する
func (c *Controller) Init() error {
	if err := c.driver.SetFrequency(Frequency); err != nil {
		return fmt.Errorf("PWM周波数の設定に失敗: %w", err)
	}
	return nil
}

// MoveDegrees は角度を指定してサーボを動かす
func (c *Controller) MoveDegrees(channel, deg int) (Position, error) {
	return c.move(channel, InputAngle, deg, AngleMax)
}

// MoveAnalog はアナログ読み取り値でサーボを動かす
func (c *Controller) MoveAnalog(channel, raw int) (Position, error) {
	return c.move(channel, InputAnalog, raw, AnalogMax)
}

func (c *Controller) move(channel int, kind InputKind, input, inputMax int) (Position, error) {
	if channel < 0 || channel >= NumChannels {
		return Position{}, fmt.Errorf("%w: %d", ErrChannelOutOfRange, channel)
	}

	pulse := PulseWidth(input, inputMax)
	ticks := Ticks(pulse)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.driver.SetPWM(channel, 0, ticks); err != nil {
		return Position{}, fmt.Errorf("チャンネル %d への書き込みに失敗: %w", channel, err)
	}

	pos := Position{
		Channel:   channel,
		Name:      c.nameFor(channel),
		Kind:      kind,
		Input:     input,
		Pulse:     pulse,
		Ticks:     ticks,
		UpdatedAt: time.Now(),
	}
	c.positions[channel] = pos

	return pos, nil
}

// Position は指定チャンネルの最新値を返す
func (c *Controller) Position(channel int) (Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := c.positions[channel]
	return pos, ok
}

// Positions は書き込み済みチャンネルの一覧をチャンネル順に返す
func (c *Controller) Positions() []Position {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Position, 0, len(c.positions))
	for _, pos := range c.positions {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Channel < result[j].Channel
	})
	return result
}

// Close はドライバを解放する
func (c *Controller) Close() error {
	if err := c.driver.Close(); err != nil {
		log.Printf("サーボドライバのクローズに失敗: %v", err)
		return err
	}
	return nil
}

func (c *Controller) nameFor(channel int) string {
	if name, ok := c.names[channel]; ok {
		return name
	}
	return fmt.Sprintf("servo%d", channel)
}
