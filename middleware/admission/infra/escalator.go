package infra

import (
	"sync"
	"time"

	"defense-gateway/middleware/admission/domain"
)

// ViolationEscalator conta negações de taxa por chave e, ao atingir o limiar,
// promove a chave para o registro de exclusão.
//
// Máquina de estados por endereço: limpo -> avisado(n) -> excluído.
// O contador é zerado na exclusão, então o endereço volta a limpo (e não a
// avisado) quando o ban temporário expira.
type ViolationEscalator struct {
	mu     sync.Mutex
	counts map[domain.Key]*violationEntry

	registry  domain.Registry
	threshold int
	banFor    time.Duration // <= 0 significa exclusão permanente
	tier      domain.Tier

	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type violationEntry struct {
	count    int
	lastSeen time.Time
}

type EscalatorOption func(*ViolationEscalator)

func WithEscalatorIdleTTL(d time.Duration) EscalatorOption {
	return func(e *ViolationEscalator) { e.idleTTL = d }
}

func WithEscalatorCleanupEvery(d time.Duration) EscalatorOption {
	return func(e *ViolationEscalator) { e.cleanupEvery = d }
}

func NewViolationEscalator(registry domain.Registry, threshold int, banFor time.Duration, tier domain.Tier, opts ...EscalatorOption) *ViolationEscalator {
	e := &ViolationEscalator{
		counts:       make(map[domain.Key]*violationEntry),
		registry:     registry,
		threshold:    threshold,
		banFor:       banFor,
		tier:         tier,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordViolation implementa domain.Escalator. A chamada ao registro acontece
// fora da seção crítica do escalador (evita inversão de ordem de locks).
func (e *ViolationEscalator) RecordViolation(key domain.Key, now time.Time) bool {
	if e.threshold <= 0 {
		return false
	}

	e.mu.Lock()
	ent, ok := e.counts[key]
	if !ok {
		ent = &violationEntry{}
		e.counts[key] = ent
	}
	ent.count++
	ent.lastSeen = now
	banned := ent.count >= e.threshold
	if banned {
		delete(e.counts, key)
	}
	e.mu.Unlock()

	if !banned {
		return false
	}

	if e.registry != nil {
		exc := domain.Exclusion{
			Key:       key,
			Tier:      e.tier,
			CreatedAt: now,
		}
		if e.banFor > 0 {
			exc.ExpiresAt = now.Add(e.banFor)
		} else {
			exc.Permanent = true
		}
		// idempotente no registro: se a chave já está excluída, nada muda
		_ = e.registry.Exclude(exc)
	}
	return true
}

// Reset zera o contador de uma chave. É o alvo natural do onExpire do
// registro (unban, expiração de ban temporário).
func (e *ViolationEscalator) Reset(key domain.Key) {
	e.mu.Lock()
	delete(e.counts, key)
	e.mu.Unlock()
}

// Count devolve as violações acumuladas de uma chave.
func (e *ViolationEscalator) Count(key domain.Key) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.counts[key]; ok {
		return ent.count
	}
	return 0
}

func (e *ViolationEscalator) Cleanup() {
	cutoff := time.Now().Add(-e.idleTTL)

	e.mu.Lock()
	defer e.mu.Unlock()

	for k, ent := range e.counts {
		if ent.lastSeen.Before(cutoff) {
			delete(e.counts, k)
		}
	}
}

// StartJanitor inicia a varredura periódica de contadores ociosos.
func (e *ViolationEscalator) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, e.cleanupEvery, e.Cleanup)
}
