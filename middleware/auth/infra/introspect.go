package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-gateway/middleware/auth/domain"

	"go.uber.org/zap"
)

// UserEndpointPath é o endpoint "quem sou eu" do provedor de identidade.
const UserEndpointPath = "/auth/v1/user"

const maxIntrospectBodyBytes = 1 << 20

// HTTPIntrospector valida um token perguntando ao próprio emissor quem é o usuário.
type HTTPIntrospector struct {
	client *http.Client
	logger *zap.Logger
}

func NewHTTPIntrospector(client *http.Client, logger *zap.Logger) *HTTPIntrospector {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPIntrospector{client: client, logger: logger}
}

type userResponse struct {
	ID string `json:"id"`
}

// Introspect implementa domain.Introspector.
func (i *HTTPIntrospector) Introspect(ctx context.Context, baseURL, publicKey, token string) (string, error) {
	url := strings.TrimRight(strings.TrimSpace(baseURL), "/") + UserEndpointPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build introspection request: %v", domain.ErrBackendUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", publicKey)
	req.Header.Set("Accept", "application/json")

	res, err := i.client.Do(req)
	if err != nil {
		i.logger.Warn("token introspection failed", zap.String("url", url), zap.Error(err))
		return "", fmt.Errorf("%w: introspection: %v", domain.ErrBackendUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxIntrospectBodyBytes))
		return "", fmt.Errorf("%w: user endpoint returned %d", domain.ErrInvalidToken, res.StatusCode)
	}

	var body userResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, maxIntrospectBodyBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode user endpoint response: %v", domain.ErrInvalidToken, err)
	}
	id := strings.TrimSpace(body.ID)
	if id == "" {
		return "", fmt.Errorf("%w: user endpoint returned no id", domain.ErrInvalidToken)
	}
	return id, nil
}
