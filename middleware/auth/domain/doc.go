// Package domain define os tipos do resolvedor de identidade: estratégias de
// verificação de bearer tokens, a identidade verificada e os erros.
//
// A escolha da estratégia (SelectStrategy) é uma função pura do algoritmo do
// token e do que está configurado, sem I/O.
package domain
