// Package infra contém implementações concretas (infraestrutura) para os
// contratos definidos no pacote domain.
//
// Exemplos:
//   - BucketStore: token bucket por chave usando golang.org/x/time/rate
//   - WindowStore: janela deslizante de timestamps por chave
//   - CounterGate: contadores de requisições em voo (global + por chave)
//   - Registry: endereços excluídos, espelhado no filtro de pacotes
//   - IPSetFilter: adapter do binário ipset para o PacketFilter
package infra
