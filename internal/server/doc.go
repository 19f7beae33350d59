// Package server は、HTTPサーバーとAPIハンドラを管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// MJPEGストリームの配信、サーボ制御APIとOTA更新の受け付けを担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - インデックスページの配信
//   - MJPEGストリームと静止画の配信
//   - カメラ設定・サーボ・ネットワーク状態のJSON API
//   - OTA更新の受け付け
//
// 仕様:
//   - ginを使用
//   - JSON APIはOpenAPI定義で検証する
//   - リクエストごとに X-Request-ID を付与する
//   - グレースフルシャットダウンに対応
package server
