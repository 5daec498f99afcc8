package domain

// Camada de domínio do limite de taxa.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

// Key identifica o cliente (IP normalizado, API key, etc).
type Key string

// Limiter representa algo que pode decidir se uma ação é permitida agora.
//
// Observação: a implementação pode ser token-bucket, janela deslizante, etc.
// O instante é passado explicitamente para manter as implementações
// determinísticas em teste.
type Limiter interface {
	Allow(now time.Time) bool
}

// RetryHinter é opcional: estima quanto tempo falta até a próxima admissão.
// Implementações que não conseguem estimar simplesmente não o implementam.
type RetryHinter interface {
	RetryHint(now time.Time) time.Duration
}

// LimiterStore obtém um limiter por chave.
// A implementação pode manter cache, TTL, etc.
type LimiterStore interface {
	Get(Key) Limiter
}

// Reason explica por que uma requisição foi negada.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonExcluded          Reason = "excluded"
	ReasonGlobalConcurrency Reason = "global-concurrency"
	ReasonKeyConcurrency    Reason = "key-concurrency"
	ReasonRate              Reason = "rate"
)

// Verdict é a decisão de admissão para uma requisição.
//
// Quando Allowed=false, Reason indica qual verificação negou e RetryAfter
// (se > 0) é a recomendação para o header Retry-After. A tradução para
// status HTTP fica no adapter.
type Verdict struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration
}
