// Package apierror escreve respostas de erro JSON no envelope padrão do gateway
// e propaga o request ID usado nelas.
package apierror

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInternal           = "INTERNAL_ERROR"
)

const RequestIDHeader = "X-Request-ID"

type requestIDContextKey struct{}

// Detail é o corpo de `error` no envelope.
type Detail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type Response struct {
	Error Detail `json:"error"`
}

// RequestID garante um request ID por requisição: o do chi, o do header ou um UUID novo.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = r.Header.Get(RequestIDHeader)
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContextKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID busca no nosso contexto e depois no do chi.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return requestID
	}
	return middleware.GetReqID(ctx)
}

// Write responde com status e envelope JSON. Sem request ID no contexto,
// usa o header X-Request-ID da requisição ou gera um.
func Write(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID := GetRequestID(r.Context())
	if requestID == "" {
		requestID = r.Header.Get(RequestIDHeader)
	}
	if requestID == "" {
		requestID = uuid.New().String()
		w.Header().Set(RequestIDHeader, requestID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Error: Detail{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	}})
}
