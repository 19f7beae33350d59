package servo

import "time"

const (
	// MinPulseWidth は最小パルス幅
	MinPulseWidth = 600 * time.Microsecond
	// MaxPulseWidth は最大パルス幅
	MaxPulseWidth = 2200 * time.Microsecond

	// Frequency はサーボ用PWM周波数 (Hz)
	Frequency = 50
	// Resolution は1周期あたりのティック数（12bit）
	Resolution = 4096

	// AngleMax は角度入力の最大値
	AngleMax = 180
	// AnalogMax はアナログ入力の最大値（10bit ADC）
	AnalogMax = 1023
)

// Map はArduinoのmap()と同じ整数演算で値域を変換する
func Map(x, inMin, inMax, outMin, outMax int) int {
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

// PulseWidth は入力値をパルス幅に変換する
func PulseWidth(input, inputMax int) time.Duration {
	if inputMax <= 0 {
		return MinPulseWidth
	}

	minUs := int(MinPulseWidth / time.Microsecond)
	maxUs := int(MaxPulseWidth / time.Microsecond)

	us := Map(input, 0, inputMax, minUs, maxUs)
	if us < minUs {
		us = minUs
	} else if us > maxUs {
		us = maxUs
	}

	return time.Duration(us) * time.Microsecond
}

// Ticks はパルス幅をPWMのティック数に変換する
// pulse_us / 1e6 * Frequency * Resolution を整数演算で切り捨てる
func Ticks(pulse time.Duration) uint16 {
	us := int64(pulse / time.Microsecond)
	if us <= 0 {
		return 0
	}

	ticks := us * Frequency * Resolution / 1_000_000
	if ticks >= Resolution {
		return Resolution - 1
	}
	return uint16(ticks)
}

// AngleTicks は角度をティック数に変換する
func AngleTicks(deg int) uint16 {
	return Ticks(PulseWidth(deg, AngleMax))
}

// AnalogTicks はアナログ値をティック数に変換する
func AnalogTicks(raw int) uint16 {
	return Ticks(PulseWidth(raw, AnalogMax))
}
