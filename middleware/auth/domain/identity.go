package domain

import (
	"context"
	"errors"
)

var (
	// ErrUnauthenticated: nenhuma credencial foi apresentada.
	ErrUnauthenticated = errors.New("auth: missing credentials")
	// ErrInvalidToken: a credencial foi rejeitada (assinatura, expiração, claims...).
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrNotConfigured: nenhum mecanismo de verificação está configurado.
	ErrNotConfigured = errors.New("auth: no verification mechanism configured")
	// ErrBackendUnavailable: JWKS ou introspecção não responderam.
	ErrBackendUnavailable = errors.New("auth: verification backend unavailable")
)

// VerifiedIdentity é o resultado de uma verificação bem-sucedida.
// UserID nunca é vazio.
type VerifiedIdentity struct {
	UserID string
	Claims map[string]any
}

// Introspector pergunta ao provedor de identidade quem é o dono do token.
type Introspector interface {
	Introspect(ctx context.Context, baseURL, publicKey, token string) (userID string, err error)
}
