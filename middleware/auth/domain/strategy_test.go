package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectStrategy(t *testing.T) {
	all := Capabilities{Secret: true, IssuerURL: true, PublicKey: true}

	cases := []struct {
		name string
		alg  string
		caps Capabilities
		want Strategy
	}{
		{"hs with secret", "HS256", all, StrategySecret},
		{"hs lowercase", "hs512", Capabilities{Secret: true}, StrategySecret},
		{"rs with issuer", "RS256", all, StrategyJWKS},
		{"es with issuer", "ES256", Capabilities{IssuerURL: true}, StrategyJWKS},
		{"eddsa with issuer", "EdDSA", Capabilities{IssuerURL: true, PublicKey: true}, StrategyJWKS},
		{"rs without issuer falls to secret", "RS256", Capabilities{Secret: true}, StrategySecret},
		{"unknown alg with secret", "", Capabilities{Secret: true, IssuerURL: true}, StrategySecret},
		{"hs without secret uses introspection", "HS256", Capabilities{IssuerURL: true, PublicKey: true}, StrategyIntrospection},
		{"hs without secret or key uses jwks", "HS256", Capabilities{IssuerURL: true}, StrategyJWKS},
		{"public key alone is not enough", "HS256", Capabilities{PublicKey: true}, StrategyUnavailable},
		{"nothing configured", "RS256", Capabilities{}, StrategyUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SelectStrategy(tc.alg, tc.caps))
		})
	}
}

func TestStrategy_String(t *testing.T) {
	assert.Equal(t, "secret", StrategySecret.String())
	assert.Equal(t, "jwks", StrategyJWKS.String())
	assert.Equal(t, "introspection", StrategyIntrospection.String())
	assert.Equal(t, "unavailable", StrategyUnavailable.String())
}

func TestCapabilities_Any(t *testing.T) {
	assert.False(t, Capabilities{PublicKey: true}.Any())
	assert.True(t, Capabilities{Secret: true}.Any())
	assert.True(t, Capabilities{IssuerURL: true}.Any())
}
