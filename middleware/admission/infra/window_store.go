package infra

import (
	"sync"
	"time"

	"defense-gateway/middleware/admission/domain"
)

// WindowStore é a alternativa de janela deslizante ao BucketStore: conta as
// requisições dos últimos window segundos por chave e nega quando a contagem
// passa de maxRequests.
//
// A sequência de timestamps é mantida em ordem de inserção (que também é
// ordem de tempo), então a evicção é um corte de prefixo, não uma varredura.
type WindowStore struct {
	mu           sync.Mutex
	entries      map[domain.Key]*windowEntry
	window       time.Duration
	maxRequests  int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type windowEntry struct {
	times    []time.Time
	lastSeen time.Time
}

type WindowOption func(*WindowStore)

func WithWindowIdleTTL(d time.Duration) WindowOption {
	return func(s *WindowStore) { s.idleTTL = d }
}

func WithWindowCleanupEvery(d time.Duration) WindowOption {
	return func(s *WindowStore) { s.cleanupEvery = d }
}

func NewWindowStore(window time.Duration, maxRequests int, opts ...WindowOption) *WindowStore {
	s := &WindowStore{
		entries:      make(map[domain.Key]*windowEntry),
		window:       window,
		maxRequests:  maxRequests,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WindowStore) Window() time.Duration { return s.window }
func (s *WindowStore) MaxRequests() int      { return s.maxRequests }

// Get implementa domain.LimiterStore.
func (s *WindowStore) Get(key domain.Key) domain.Limiter {
	return windowLimiter{store: s, key: key}
}

// register grava o timestamp, corta o prefixo fora da janela e devolve a
// contagem restante. Registro e verificação ficam na mesma seção crítica.
func (s *WindowStore) register(key domain.Key, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		ent = &windowEntry{}
		s.entries[key] = ent
	}
	ent.lastSeen = now
	ent.times = append(ent.times, now)
	ent.times = trimWindow(ent.times, now, s.window)
	return len(ent.times)
}

func (s *WindowStore) retryHint(key domain.Key, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || len(ent.times) <= s.maxRequests {
		return 0
	}
	// o excedente mais antigo precisa sair da janela para voltar ao limite
	oldest := ent.times[len(ent.times)-1-s.maxRequests]
	d := oldest.Add(s.window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(times) && now.Sub(times[i]) > window {
		i++
	}
	if i == 0 {
		return times
	}
	// copia para não segurar o array antigo inteiro via reslice
	out := make([]time.Time, len(times)-i)
	copy(out, times[i:])
	return out
}

func (s *WindowStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
func (s *WindowStore) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}

type windowLimiter struct {
	store *WindowStore
	key   domain.Key
}

func (w windowLimiter) Allow(now time.Time) bool {
	return w.store.register(w.key, now) <= w.store.maxRequests
}

func (w windowLimiter) RetryHint(now time.Time) time.Duration {
	return w.store.retryHint(w.key, now)
}
