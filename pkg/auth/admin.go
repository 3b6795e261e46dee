package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// ParseAdminIDs はカンマ区切りの ADMIN_USER_IDS をスライスに変換する
func ParseAdminIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// AdminGate は管理 API の入口。セッションを検証し、ADMIN_USER_IDS に含まれる
// ユーザーだけを通す。認証されていなければ 401、管理者でなければ 403。
type AdminGate struct {
	sessionSecret []byte // nil のときは DevUserID として扱う
	admins        map[string]struct{}
}

// NewAdminGate は外部の認証基盤が発行したセッションクッキーを検証するゲートを作る
func NewAdminGate(sessionSecret []byte, adminIDs []string) *AdminGate {
	return &AdminGate{sessionSecret: sessionSecret, admins: idSet(adminIDs)}
}

// NewDevAdminGate は開発用ゲート。全リクエストを DevUserID とみなし、DevUserID を管理者に含める
func NewDevAdminGate(adminIDs []string) *AdminGate {
	admins := idSet(adminIDs)
	admins[DevUserID] = struct{}{}
	return &AdminGate{admins: admins}
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// IsAdmin reports whether userID is on the admin list.
func (g *AdminGate) IsAdmin(userID string) bool {
	_, ok := g.admins[userID]
	return ok
}

// Wrap は next を管理者専用にする。通過したリクエストの context には userID が入る
func (g *AdminGate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, code := g.identify(r)
		if code != "" {
			writeError(w, http.StatusUnauthorized, code)
			return
		}
		if !g.IsAdmin(userID) {
			slog.Warn("admin access denied", "user_id", userID, "method", r.Method, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// identify returns the caller's user id, or an error code for the 401 body.
func (g *AdminGate) identify(r *http.Request) (string, string) {
	if g.sessionSecret == nil {
		return DevUserID, ""
	}
	cookie, err := r.Cookie(SessionCookieName())
	if err != nil {
		return "", "unauthorized"
	}
	userID, err := VerifySessionToken(cookie.Value, g.sessionSecret)
	if err != nil || userID == "" {
		return "", "invalid_session"
	}
	return userID, ""
}
