// Package admission fornece o adapter HTTP (net/http) do controle de admissão:
// limite de taxa, limite de concorrência e exclusão de endereços.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: o pipeline de admissão (ordem fixa + undo-on-reject) sem net/http
//   - infra: implementações concretas (token bucket, janela deslizante, gate,
//     registro de exclusão, ipset), detalhes de infraestrutura
//   - admission (este pacote): middleware HTTP + extração de chave + tradução
//     do veredito para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (IP/header/XFF)
//  2. Chama a camada application para obter o veredito
//  3. Se negado, responde 429 (taxa, exclusão, teto por IP) ou 503 (teto global)
//  4. Se admitido, chama o próximo handler e libera a vaga ao final
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o
// comportamento, como RATE_STRATEGY, RATE_RPS, BAN_THRESHOLD e PROFILE.
package admission
