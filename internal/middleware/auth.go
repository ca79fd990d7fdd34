package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/BeranItService/chatbot/pkg/utils"
)

// AuthParam 是携带访问密钥的查询参数名。
const AuthParam = "Auth"

// Auth 校验查询参数中的访问密钥；key 为空时不做校验。
func Auth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get(AuthParam)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				utils.RespondError(w, http.StatusUnauthorized, "Could not verify your access")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
