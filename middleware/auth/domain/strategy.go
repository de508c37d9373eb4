package domain

import "strings"

type Strategy int

const (
	StrategyUnavailable Strategy = iota
	StrategySecret
	StrategyJWKS
	StrategyIntrospection
)

func (s Strategy) String() string {
	switch s {
	case StrategySecret:
		return "secret"
	case StrategyJWKS:
		return "jwks"
	case StrategyIntrospection:
		return "introspection"
	default:
		return "unavailable"
	}
}

// Capabilities descreve o que está configurado para verificar tokens.
type Capabilities struct {
	Secret    bool
	IssuerURL bool
	PublicKey bool
}

func (c Capabilities) Any() bool { return c.Secret || c.IssuerURL }

// SelectStrategy escolhe a verificação pela ordem:
//
//  1. HS* com segredo
//  2. RS*/ES*/PS*/EdDSA com URL do emissor (JWKS)
//  3. segredo configurado (algoritmo desconhecido ou vazio)
//  4. URL do emissor + chave pública (introspecção)
//  5. só URL do emissor (JWKS)
func SelectStrategy(alg string, caps Capabilities) Strategy {
	switch {
	case IsSymmetric(alg) && caps.Secret:
		return StrategySecret
	case IsAsymmetric(alg) && caps.IssuerURL:
		return StrategyJWKS
	case caps.Secret:
		return StrategySecret
	case caps.IssuerURL && caps.PublicKey:
		return StrategyIntrospection
	case caps.IssuerURL:
		return StrategyJWKS
	default:
		return StrategyUnavailable
	}
}

func IsSymmetric(alg string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(alg)), "HS")
}

func IsAsymmetric(alg string) bool {
	a := strings.ToUpper(strings.TrimSpace(alg))
	switch {
	case strings.HasPrefix(a, "RS"), strings.HasPrefix(a, "ES"), strings.HasPrefix(a, "PS"):
		return true
	case a == "EDDSA":
		return true
	}
	return false
}
