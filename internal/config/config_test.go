package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ai-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv garante que nenhuma variável conhecida vaze do ambiente do CI.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, names := range envNames {
		for _, n := range names {
			if _, ok := os.LookupEnv(n); ok {
				t.Setenv(n, "")
				require.NoError(t, os.Unsetenv(n))
			}
		}
	}
}

func load(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := load(t)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 3*time.Second, cfg.RedisTimeout)
	assert.Equal(t, []string{"authenticated"}, cfg.Auth.Audiences)
	assert.Equal(t, 5*time.Second, cfg.Auth.HTTPTimeout)
	assert.Nil(t, cfg.Auth.Required)
	assert.False(t, cfg.AuthRequired())
	assert.Equal(t, 100, cfg.ConcurrencyMax)
	assert.Equal(t, "aigate:stats", cfg.Stats.Prefix)
	assert.Equal(t, 24*time.Hour, cfg.Stats.TTL)
	assert.Equal(t, domain.Limits{PerMinute: 30, PerHour: 300}, cfg.Limits())
}

func TestLoad_LegacyAliases(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUPABASE_JWT_SECRET", "s3cret")
	t.Setenv("SUPABASE_URL", "https://proj.example.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("SUPABASE_JWT_AUD", "authenticated, service ,")

	cfg := load(t)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, "https://proj.example.co", cfg.Auth.IssuerURL)
	assert.Equal(t, "anon", cfg.Auth.PublicKey)
	assert.Equal(t, []string{"authenticated", "service"}, cfg.Auth.Audiences)
	assert.True(t, cfg.AuthRequired())
}

func TestLoad_PrimaryNameWinsOverAlias(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_ISSUER_URL", "https://primary.example.com")
	t.Setenv("SUPABASE_PROJECT_URL", "https://alias.example.com")

	assert.Equal(t, "https://primary.example.com", load(t).Auth.IssuerURL)
}

func TestLoad_EmptyAudienceDisablesCheck(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_JWT_AUD", "")
	assert.Empty(t, load(t).Auth.Audiences)
}

func TestLoad_RequirePolicy(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_JWT_SECRET", "s")
	t.Setenv("REQUIRE_SUPABASE_AUTH_FOR_AI", "off")
	cfg := load(t)
	require.NotNil(t, cfg.Auth.Required)
	assert.False(t, cfg.AuthRequired())

	clearEnv(t)
	t.Setenv("REQUIRE_AUTH_FOR_AI", "yes")
	assert.True(t, load(t).AuthRequired())

	clearEnv(t)
	t.Setenv("REQUIRE_AUTH_FOR_AI", "maybe")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestLimits_ReadOnEveryCall(t *testing.T) {
	clearEnv(t)
	cfg := load(t)

	t.Setenv("AI_RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("AI_RATE_LIMIT_PER_HOUR", "50")
	assert.Equal(t, domain.Limits{PerMinute: 5, PerHour: 50}, cfg.Limits())

	t.Setenv("AI_RATE_LIMIT_PER_MINUTE", "abc")
	t.Setenv("AI_RATE_LIMIT_PER_HOUR", "-3")
	assert.Equal(t, domain.Limits{PerMinute: 30, PerHour: 300}, cfg.Limits())
}

func TestLoad_Durations(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_TIMEOUT", "250ms")
	t.Setenv("AUTH_HTTP_TIMEOUT", "2")
	t.Setenv("CONCURRENCY_TIMEOUT", "bogus")

	cfg := load(t)
	assert.Equal(t, 250*time.Millisecond, cfg.RedisTimeout)
	assert.Equal(t, 2*time.Second, cfg.Auth.HTTPTimeout)
	assert.Zero(t, cfg.ConcurrencyTimeout)
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "warn")
	t.Cleanup(func() { _ = os.Unsetenv("UPSTREAM_URL") })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("UPSTREAM_URL=http://ai:9000\nLOG_LEVEL=debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://ai:9000", cfg.UpstreamURL)
	// ambiente tem precedência sobre o arquivo
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"1", "true", "YES", "y", "On"} {
		v, ok := ParseBool(s)
		assert.True(t, ok, s)
		assert.True(t, v, s)
	}
	for _, s := range []string{"0", "false", "no", "N", "off"} {
		v, ok := ParseBool(s)
		assert.True(t, ok, s)
		assert.False(t, v, s)
	}
	_, ok := ParseBool("sometimes")
	assert.False(t, ok)
}
