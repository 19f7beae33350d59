package server

import (
	"embed"
	"log"
)

//go:embed static
var embedFS embed.FS

// getIndexHTML は埋め込まれた index.html を返す
func getIndexHTML() []byte {
	data, err := embedFS.ReadFile("static/index.html")
	if err != nil {
		log.Fatalf("埋め込みindex.htmlの読み込みに失敗: %v", err)
	}
	return data
}
