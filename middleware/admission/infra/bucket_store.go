package infra

import (
	"sync"
	"time"

	"defense-gateway/middleware/admission/domain"

	"golang.org/x/time/rate"
)

// BucketStore é uma implementação de domain.LimiterStore baseada em
// token-bucket (x/time/rate) com cache por chave e limpeza periódica.
//
// Cada chave nasce com o bucket cheio (burst) e recarrega a rps tokens/s.
type BucketStore struct {
	mu           sync.Mutex
	entries      map[domain.Key]*bucketEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type BucketOption func(*BucketStore)

func WithBucketIdleTTL(d time.Duration) BucketOption {
	return func(s *BucketStore) { s.idleTTL = d }
}

func WithBucketCleanupEvery(d time.Duration) BucketOption {
	return func(s *BucketStore) { s.cleanupEvery = d }
}

func NewBucketStore(rps float64, burst int, opts ...BucketOption) *BucketStore {
	s := &BucketStore{
		entries:      make(map[domain.Key]*bucketEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BucketStore) RPS() float64 { return float64(s.rps) }
func (s *BucketStore) Burst() int   { return s.burst }

// Get implementa domain.LimiterStore.
func (s *BucketStore) Get(key domain.Key) domain.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return bucketLimiter{lim: ent.lim, rps: s.rps}
	}

	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &bucketEntry{lim: lim, lastSeen: now}
	return bucketLimiter{lim: lim, rps: s.rps}
}

func (s *BucketStore) Cleanup() {
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
// Pare cancelando o contexto.
func (s *BucketStore) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}

// bucketLimiter adapta *rate.Limiter ao contrato do domínio.
// O refill e o consumo são atômicos dentro do próprio rate.Limiter.
type bucketLimiter struct {
	lim *rate.Limiter
	rps rate.Limit
}

func (b bucketLimiter) Allow(now time.Time) bool {
	return b.lim.AllowN(now, 1)
}

// RetryHint estima (1 - tokens) / rps: quanto falta para acumular um token.
func (b bucketLimiter) RetryHint(now time.Time) time.Duration {
	if b.rps <= 0 {
		return 0
	}
	tokens := b.lim.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / float64(b.rps) * float64(time.Second))
}
