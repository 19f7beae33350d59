// Package stream はカメラのフレームをMJPEG（multipart/x-mixed-replace）として配信する。
//
// Streamer はフレームソースからフレームを1枚ずつ取得し、JPEG以外のフレームは
// 品質80でエンコードしてから、境界・ヘッダー・画像データの順に書き込む。
// 取得したフレームは成功・失敗にかかわらず必ずソースへ返却される。
package stream
