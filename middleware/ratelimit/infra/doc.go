// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - LocalLimiter: token bucket duplo em memória, por chave, com janitor
//   - RedisLimiter: o mesmo algoritmo via script Lua, compartilhado entre instâncias
//   - ChanPool: semáforo simples para limite de concorrência
//   - MemoryStatsStore / RedisStatsStore / PromStatsStore: estatísticas das decisões
package infra
