// Package api はHTTP APIの契約（OpenAPI定義とレスポンス型）を提供する。
//
// openapi.yaml を埋め込み、kin-openapi で読み込んだ定義を使って
// JSON APIへのリクエストを検証するginミドルウェアを提供する。
package api
