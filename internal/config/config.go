// Package config carrega a configuração do gateway a partir do ambiente
// (com .env opcional). Os limites de rate limit são relidos a cada chamada
// de Config.Limits, o resto é lido uma vez em Load.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"ai-gateway/middleware/ratelimit/domain"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	keyListenAddr         = "listen_addr"
	keyUpstreamURL        = "upstream_url"
	keyLogLevel           = "log_level"
	keyPerMinute          = "ai.rate_limit_per_minute"
	keyPerHour            = "ai.rate_limit_per_hour"
	keyRedisURL           = "redis.url"
	keyRedisTimeout       = "redis.timeout"
	keyAuthSecret         = "auth.secret"
	keyAuthIssuerURL      = "auth.issuer_url"
	keyAuthPublicKey      = "auth.public_key"
	keyAuthJWKSURL        = "auth.jwks_url"
	keyAuthAudience       = "auth.audience"
	keyAuthIssuer         = "auth.issuer"
	keyAuthRequired       = "auth.required"
	keyAuthHTTPTimeout    = "auth.http_timeout"
	keyAPISecretKey       = "api_secret_key"
	keyTrustXFF           = "trust_xff"
	keyConcurrencyMax     = "concurrency.max"
	keyConcurrencyTimeout = "concurrency.timeout"
	keyStatsEnabled       = "stats.enabled"
	keyStatsPrefix        = "stats.prefix"
	keyStatsTTL           = "stats.ttl"
	keyStatsTrackKeys     = "stats.track_keys"

	DefaultAudience = "authenticated"
)

// nomes aceitos por chave; os seguintes ao primeiro são aliases legados.
var envNames = map[string][]string{
	keyListenAddr:         {"LISTEN_ADDR"},
	keyUpstreamURL:        {"UPSTREAM_URL"},
	keyLogLevel:           {"LOG_LEVEL"},
	keyPerMinute:          {"AI_RATE_LIMIT_PER_MINUTE"},
	keyPerHour:            {"AI_RATE_LIMIT_PER_HOUR"},
	keyRedisURL:           {"REDIS_URL"},
	keyRedisTimeout:       {"REDIS_TIMEOUT"},
	keyAuthSecret:         {"AUTH_JWT_SECRET", "SUPABASE_JWT_SECRET"},
	keyAuthIssuerURL:      {"AUTH_ISSUER_URL", "SUPABASE_PROJECT_URL", "SUPABASE_URL"},
	keyAuthPublicKey:      {"AUTH_PUBLIC_KEY", "SUPABASE_ANON_KEY"},
	keyAuthJWKSURL:        {"AUTH_JWKS_URL", "SUPABASE_JWKS_URL"},
	keyAuthAudience:       {"AUTH_JWT_AUD", "SUPABASE_JWT_AUD"},
	keyAuthIssuer:         {"AUTH_JWT_ISSUER", "SUPABASE_JWT_ISSUER"},
	keyAuthRequired:       {"REQUIRE_AUTH_FOR_AI", "REQUIRE_SUPABASE_AUTH_FOR_AI"},
	keyAuthHTTPTimeout:    {"AUTH_HTTP_TIMEOUT"},
	keyAPISecretKey:       {"API_SECRET_KEY"},
	keyTrustXFF:           {"TRUST_XFF"},
	keyConcurrencyMax:     {"CONCURRENCY_MAX"},
	keyConcurrencyTimeout: {"CONCURRENCY_TIMEOUT"},
	keyStatsEnabled:       {"RATE_STATS_ENABLED"},
	keyStatsPrefix:        {"RATE_STATS_PREFIX"},
	keyStatsTTL:           {"RATE_STATS_TTL"},
	keyStatsTrackKeys:     {"RATE_STATS_TRACK_KEYS"},
}

type Config struct {
	ListenAddr  string
	UpstreamURL string
	LogLevel    string

	RedisURL     string
	RedisTimeout time.Duration

	Auth AuthConfig

	APISecretKey string
	TrustXFF     bool

	ConcurrencyMax     int
	ConcurrencyTimeout time.Duration

	Stats StatsConfig

	v *viper.Viper
}

type AuthConfig struct {
	Secret    string
	IssuerURL string
	PublicKey string
	// JWKSURL vazio usa {IssuerURL}/auth/v1/certs.
	JWKSURL     string
	Audiences   []string
	Issuer      string
	HTTPTimeout time.Duration
	// Required é a política explícita; nil usa o padrão (ver Config.AuthRequired).
	Required *bool
}

// Configured diz se há algum mecanismo de verificação.
func (a AuthConfig) Configured() bool { return a.Secret != "" || a.IssuerURL != "" }

type StatsConfig struct {
	Enabled   bool
	Prefix    string
	TTL       time.Duration
	TrackKeys bool
}

// Load lê um .env opcional (default ".env"; arquivo ausente não é erro) e o ambiente.
// Variáveis já definidas no ambiente têm precedência sobre o .env.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	for key, names := range envNames {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	return FromViper(v)
}

// FromViper monta a Config a partir de uma instância já preparada.
func FromViper(v *viper.Viper) (*Config, error) {
	c := &Config{v: v}

	c.ListenAddr = str(v, keyListenAddr, ":8080")
	c.UpstreamURL = str(v, keyUpstreamURL, "")
	c.LogLevel = str(v, keyLogLevel, "info")

	c.RedisURL = str(v, keyRedisURL, "")
	c.RedisTimeout = duration(v, keyRedisTimeout, 3*time.Second)

	c.Auth = AuthConfig{
		Secret:      str(v, keyAuthSecret, ""),
		IssuerURL:   strings.TrimRight(str(v, keyAuthIssuerURL, ""), "/"),
		PublicKey:   str(v, keyAuthPublicKey, ""),
		JWKSURL:     str(v, keyAuthJWKSURL, ""),
		Issuer:      str(v, keyAuthIssuer, ""),
		HTTPTimeout: duration(v, keyAuthHTTPTimeout, 5*time.Second),
	}
	c.Auth.Audiences = audiences(v)
	if raw := str(v, keyAuthRequired, ""); raw != "" {
		b, ok := ParseBool(raw)
		if !ok {
			return nil, fmt.Errorf("invalid value %q for %s", raw, envNames[keyAuthRequired][0])
		}
		c.Auth.Required = &b
	}

	c.APISecretKey = str(v, keyAPISecretKey, "")
	c.TrustXFF = boolean(v, keyTrustXFF, false)

	c.ConcurrencyMax = integer(v, keyConcurrencyMax, 100)
	c.ConcurrencyTimeout = duration(v, keyConcurrencyTimeout, 0)

	c.Stats = StatsConfig{
		Enabled:   boolean(v, keyStatsEnabled, false),
		Prefix:    str(v, keyStatsPrefix, "aigate:stats"),
		TTL:       duration(v, keyStatsTTL, 24*time.Hour),
		TrackKeys: boolean(v, keyStatsTrackKeys, false),
	}
	return c, nil
}

// Limits relê os limites do ambiente. Valor inválido ou não positivo usa o padrão.
func (c *Config) Limits() domain.Limits {
	if c == nil || c.v == nil {
		return domain.DefaultLimits()
	}
	return domain.Limits{
		PerMinute: positive(c.v, keyPerMinute, domain.DefaultPerMinute),
		PerHour:   positive(c.v, keyPerHour, domain.DefaultPerHour),
	}
}

// AuthRequired aplica a política explícita, ou exige auth quando há como verificar.
func (c *Config) AuthRequired() bool {
	if c.Auth.Required != nil {
		return *c.Auth.Required
	}
	return c.Auth.Configured()
}

// ParseBool aceita 1/true/yes/y/on e 0/false/no/n/off.
func ParseBool(s string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}

func audiences(v *viper.Viper) []string {
	if !v.IsSet(keyAuthAudience) {
		return []string{DefaultAudience}
	}
	var out []string
	for _, part := range strings.Split(v.GetString(keyAuthAudience), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func str(v *viper.Viper, key, def string) string {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		return s
	}
	return def
}

func integer(v *viper.Viper, key string, def int) int {
	n, err := strconv.Atoi(str(v, key, ""))
	if err != nil {
		return def
	}
	return n
}

func positive(v *viper.Viper, key string, def int) int {
	if n := integer(v, key, def); n > 0 {
		return n
	}
	return def
}

func boolean(v *viper.Viper, key string, def bool) bool {
	if b, ok := ParseBool(str(v, key, "")); ok {
		return b
	}
	return def
}

func duration(v *viper.Viper, key string, def time.Duration) time.Duration {
	raw := str(v, key, "")
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d
	}
	// número puro = segundos
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
