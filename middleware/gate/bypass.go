package gate

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const APIKeyHeader = "X-API-Key"

// APIKeyBypass aceita requisições com X-API-Key igual ao segredo configurado.
// Segredo vazio desliga o bypass (retorna nil).
func APIKeyBypass(secret string) func(*http.Request) bool {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	want := []byte(secret)
	return func(r *http.Request) bool {
		got := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		if got == "" {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(got), want) == 1
	}
}
