// Package camera カメラデバイスからのフレーム取得を担う
//
// # 責務
// - センサー（V4L2デバイス / テストパターン）の初期化と設定
// - 固定数のフレームバッファプールの管理
// - キャプチャゴルーチンによるバッファへの書き込み
// - JPEG以外の画素フォーマットのJPEGエンコード
// - V4L2デバイスの検出
//
// # 仕様
//   - Acquire は埋まったバッファが得られるまでブロックする
//   - Release でバッファをプールに返却する（1フレームにつき1回）
//   - Deinit でプールを閉じ、待機中の Acquire は ErrPoolClosed を返す
//   - 取得モード: when_empty（空きバッファのみ使用）/ latest（満杯時は最も古いフレームを再利用）
//
// # 前提要件
//   - ffmpeg: V4L2デバイスからのキャプチャに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - v4l-utils: デバイス名の取得とコントロール設定に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
