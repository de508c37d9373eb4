// Package ratelimit fornece adapters HTTP (net/http) para rate limit e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: token bucket duplo (minuto + hora), contratos e tipos, sem net/http
//   - application: facade que escolhe Redis ou memória, e acquire/timeout de vagas
//   - infra: LocalLimiter, RedisLimiter (script Lua), semáforo e stores de estatística
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//   1) Extrai a chave do cliente (IP/header/XFF)
//   2) Chama a camada application para obter a decisão
//   3) Se bloqueado, responde 429 com Retry-After (rate limit) ou 503 (concorrência)
//   4) Se permitido, chama o próximo handler (ex: reverse proxy)
//
// O endpoint de IA usa o pacote gate, que resolve a identidade antes de escolher
// a chave; este pacote fornece o que os dois compartilham.
package ratelimit
