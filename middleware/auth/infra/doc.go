// Package infra contém os clientes HTTP do resolvedor de identidade: o cache
// de JWKS (com single-flight e refresh forçado em rotação de chave), o cliente
// de introspecção e as métricas de verificação.
package infra
