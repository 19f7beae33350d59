// Package servo はPCA9685 PWMドライバボード経由でサーボモーターを制御する
//
// # 責務
// - 入力値（角度 0-180 / アナログ値 0-1023）からパルス幅への変換
// - パルス幅から50Hz・12bit PWMのティック数への変換
// - PCA9685への書き込み
// - ポテンショメーター入力への追従制御
//
// # 仕様
//   - パルス幅: 600µs + (input / input_max) * 1600µs、[600µs, 2200µs]にクランプ
//   - ティック数: pulse_us / 1,000,000 * 50Hz * 4096（切り捨て）
//   - 各チャンネルには on=0, off=ティック数 を書き込む
//   - ハードウェアアクセスは periph.io を使用
package servo
