package middleware

import (
	"crypto/hmac"
	"net/http"
)

// AdminTokenHeader задаёт заголовок с токеном администратора.
const AdminTokenHeader = "X-Admin-Token"

// AdminOnly пропускает запрос только с корректным токеном администратора.
// Пустой токен в конфигурации закрывает административные маршруты полностью.
func AdminOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if token == "" || got == "" || !hmac.Equal([]byte(got), []byte(token)) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
