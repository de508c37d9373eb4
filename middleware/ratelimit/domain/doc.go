// Package domain define contratos e tipos de domínio para rate limit e concorrência.
//
// O algoritmo central é o token bucket duplo (BucketState.Take): cada chave tem
// um bucket por minuto e outro por hora, reabastecidos de forma contínua.
// Uma requisição só passa se os dois tiverem saldo.
//
// Este pacote não depende de net/http nem de implementações concretas.
package domain
