package storage

import (
	"context"
	"io"
	"strings"
)

// Storage はキャンペーン画像の保存・削除を抽象化するインターフェース。
// ローカルファイルシステム実装と S3 実装がある。
type Storage interface {
	// Save はファイルを保存し、公開 URL を返す。
	// key はストレージ内の一意パス (例: "campaigns/<id>/<uuid>.jpg")。
	Save(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)

	// Delete は key に対応するファイルを削除する。存在しない key はエラーにしない。
	Delete(ctx context.Context, key string) error

	// KeyForURL は Save が返した URL から key を取り出す。
	// このストレージの URL でなければ ok=false。
	KeyForURL(url string) (key string, ok bool)
}

func keyForURL(prefix, url string) (string, bool) {
	prefix = strings.TrimRight(prefix, "/") + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(url, prefix)
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}
