package application

import (
	"time"

	"defense-gateway/middleware/admission/domain"
)

// Service concentra a regra de admissão por requisição.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna um veredito.
// Qualquer colaborador nil desliga a verificação correspondente.
type Service struct {
	Registry  domain.Registry
	Gate      domain.Gate
	Limiters  domain.LimiterStore
	Escalator domain.Escalator
	// RetryAfter é usado quando o limiter não fornece estimativa própria.
	RetryAfter time.Duration
}

// Admit roda as verificações na ordem fixa e devolve o veredito mais a função
// release da vaga de concorrência (não-nil apenas quando admitido; deve ser
// chamada em todo caminho de saída da requisição).
//
// Invariante central: uma negação de taxa devolve a vaga já adquirida antes
// de retornar, de modo que uma rejeição nunca deixa saldo no gate.
func (s Service) Admit(key domain.Key, now time.Time) (domain.Verdict, func()) {
	if s.Registry != nil && s.Registry.IsExcluded(key, now) {
		return domain.Verdict{Reason: domain.ReasonExcluded}, nil
	}

	release := func() {}
	if s.Gate != nil {
		rel, res := s.Gate.TryAcquire(key)
		switch res {
		case domain.AcquireGlobalFull:
			return domain.Verdict{Reason: domain.ReasonGlobalConcurrency}, nil
		case domain.AcquireKeyFull:
			// negação de concorrência não toca o estado de taxa e não
			// conta como violação
			return domain.Verdict{Reason: domain.ReasonKeyConcurrency, RetryAfter: s.retryAfter()}, nil
		}
		release = rel
	}

	if s.Limiters != nil {
		if lim := s.Limiters.Get(key); lim != nil && !lim.Allow(now) {
			release() // undo-on-reject

			if s.Escalator != nil && s.Escalator.RecordViolation(key, now) {
				return domain.Verdict{Reason: domain.ReasonExcluded}, nil
			}
			return domain.Verdict{Reason: domain.ReasonRate, RetryAfter: s.hint(lim, now)}, nil
		}
	}

	return domain.Verdict{Allowed: true}, release
}

func (s Service) hint(lim domain.Limiter, now time.Time) time.Duration {
	if h, ok := lim.(domain.RetryHinter); ok {
		if d := h.RetryHint(now); d > 0 {
			return d
		}
	}
	return s.retryAfter()
}

func (s Service) retryAfter() time.Duration {
	if s.RetryAfter > 0 {
		return s.RetryAfter
	}
	return 1 * time.Second
}
