// Package application implementa o resolvedor de identidade: recebe um bearer
// token e devolve o usuário verificado, escolhendo entre segredo compartilhado,
// JWKS e introspecção conforme o algoritmo do token e a configuração.
package application
