// Package domain define contratos e tipos de domínio para o controle de
// admissão: limite de taxa, limite de concorrência e exclusão de endereços.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura (stores, firewall, Redis).
package domain
