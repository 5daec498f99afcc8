package domain

import (
	"context"
	"errors"
	"time"
)

// Tier separa os dois perfis de mitigação: a exclusão soft vive apenas no
// registro local e expira sozinha; a hard também instala uma regra no filtro
// de pacotes e só sai do kernel com unblock explícito.
//
// O tier é gravado em cada entrada (e não deduzido da configuração no
// momento da leitura) para que o registro e a sincronização com o backend
// fiquem ortogonais.
type Tier int

const (
	TierSoft Tier = iota
	TierHard
)

func (t Tier) String() string {
	if t == TierHard {
		return "hard"
	}
	return "soft"
}

// Exclusion é uma entrada do registro: um endereço negado incondicionalmente,
// temporário (ExpiresAt) ou permanente.
type Exclusion struct {
	Key       Key
	Tier      Tier
	Permanent bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired informa se a entrada temporária já passou da validade.
func (e Exclusion) Expired(now time.Time) bool {
	if e.Permanent {
		return false
	}
	return now.After(e.ExpiresAt)
}

// Remaining devolve quanto tempo de exclusão resta (0 para permanente).
func (e Exclusion) Remaining(now time.Time) time.Duration {
	if e.Permanent {
		return 0
	}
	d := e.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Registry é a visão local (autoritativa para o caminho da requisição) dos
// endereços excluídos.
//
// IsExcluded é chamado em toda requisição e precisa ser O(1); as demais
// operações são administrativas ou vêm do escalador.
type Registry interface {
	IsExcluded(Key, time.Time) bool
	Exclude(Exclusion) error
	Release(Key) error
	List(time.Time) []Exclusion
}

// Escalator converte negações repetidas de taxa em exclusões.
// Retorna true quando a violação registrada atingiu o limiar e o endereço
// acabou de ser excluído.
type Escalator interface {
	RecordViolation(Key, time.Time) bool
}

// ErrFilterUnavailable indica que o backend de filtro de pacotes não está
// acessível (binário ausente, sem privilégio). Nunca é fatal: o registro
// local continua valendo e o processo degrada para comportamento soft.
var ErrFilterUnavailable = errors.New("packet filter unavailable")

// PacketFilter é a porta para o mecanismo externo de drop em nível de kernel.
//
// Todas as operações tratam "já está no estado desejado" como sucesso.
// As chamadas são best-effort: o chamador loga falhas e segue em frente,
// nunca esperando pelo backend no caminho de admissão.
type PacketFilter interface {
	Block(ctx context.Context, addr string) error
	Unblock(ctx context.Context, addr string) error
	ListBlocked(ctx context.Context) ([]string, error)
}
