// Package gate protege o endpoint de IA: resolve a identidade do chamador
// (obrigatória ou opcional), escolhe a chave de rate limit (usuário verificado
// ou endereço de rede) e consome a cota antes de deixar a requisição passar.
//
// Falha de autenticação obrigatória responde antes de qualquer consumo de cota.
package gate
