package infra

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"defense-gateway/middleware/admission/domain"
)

// Registry é a implementação local de domain.Registry: um mapa protegido por
// RWMutex, com colheita preguiçosa de entradas expiradas no lookup e uma
// varredura periódica opcional.
//
// Entradas hard são espelhadas no filtro de pacotes em uma goroutine com
// timeout próprio: a latência ou falha do backend nunca entra no caminho da
// requisição. O registro local é a fonte de verdade para a admissão.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.Key]domain.Exclusion

	filter        domain.PacketFilter
	filterTimeout time.Duration
	warnOnce      sync.Once

	onExpire     func(domain.Key)
	cleanupEvery time.Duration
}

type RegistryOption func(*Registry)

// WithPacketFilter liga o espelhamento das entradas hard no backend.
func WithPacketFilter(f domain.PacketFilter) RegistryOption {
	return func(r *Registry) { r.filter = f }
}

func WithFilterTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.filterTimeout = d }
}

func WithSweepEvery(d time.Duration) RegistryOption {
	return func(r *Registry) { r.cleanupEvery = d }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:       make(map[domain.Key]domain.Exclusion),
		filterTimeout: 2 * time.Second,
		cleanupEvery:  2 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetOnExpire registra o callback chamado quando uma entrada temporária
// expira ou é removida (tipicamente o reset do contador de violações).
// Deve ser chamado antes de servir tráfego.
func (r *Registry) SetOnExpire(fn func(domain.Key)) { r.onExpire = fn }

// IsExcluded é a primeira verificação de toda requisição: leitura sob RLock,
// O(1). Entradas expiradas são colhidas aqui mesmo, sem thread de varredura
// obrigatória.
func (r *Registry) IsExcluded(key domain.Key, now time.Time) bool {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	if !e.Expired(now) {
		return true
	}

	expired := false
	r.mu.Lock()
	if cur, ok := r.entries[key]; ok && cur.Expired(now) {
		delete(r.entries, key)
		expired = true
	}
	r.mu.Unlock()

	if expired && r.onExpire != nil {
		r.onExpire(key)
	}
	return false
}

// Exclude insere a entrada. Se a chave já está excluída (e não expirou), é
// no-op: re-atingir o limiar não reinicia a validade.
func (r *Registry) Exclude(e domain.Exclusion) error {
	if e.Key == "" {
		return errors.New("exclusion: empty key")
	}
	now := e.CreatedAt
	if now.IsZero() {
		now = time.Now()
		e.CreatedAt = now
	}
	// expiração inconsistente: temporária sem validade vira no-op de um
	// instante, nunca um ban acidental permanente
	if !e.Permanent && e.ExpiresAt.IsZero() {
		e.ExpiresAt = now
	}

	r.mu.Lock()
	if cur, ok := r.entries[e.Key]; ok && !cur.Expired(now) {
		r.mu.Unlock()
		return nil
	}
	r.entries[e.Key] = e
	r.mu.Unlock()

	if e.Tier == domain.TierHard {
		r.mirror(func(ctx context.Context, f domain.PacketFilter) error {
			return f.Block(ctx, string(e.Key))
		}, "block", e.Key)
	}
	return nil
}

// Release remove a entrada (idempotente) e, para o tier hard, pede o unblock
// no backend. Também zera o estado de violações via onExpire.
func (r *Registry) Release(key domain.Key) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	if ok && e.Tier == domain.TierHard {
		r.mirror(func(ctx context.Context, f domain.PacketFilter) error {
			return f.Unblock(ctx, string(key))
		}, "unblock", key)
	}
	if r.onExpire != nil {
		r.onExpire(key)
	}
	return nil
}

// List devolve as entradas vigentes, ordenadas por chave.
func (r *Registry) List(now time.Time) []domain.Exclusion {
	r.mu.RLock()
	out := make([]domain.Exclusion, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Sweep colhe todas as entradas expiradas. Os callbacks rodam fora do lock.
func (r *Registry) Sweep(now time.Time) {
	var expired []domain.Key

	r.mu.Lock()
	for k, e := range r.entries {
		if e.Expired(now) {
			delete(r.entries, k)
			expired = append(expired, k)
		}
	}
	r.mu.Unlock()

	if r.onExpire != nil {
		for _, k := range expired {
			r.onExpire(k)
		}
	}
}

// StartJanitor inicia a varredura periódica opcional (limita a memória de
// entradas expiradas que nunca mais são consultadas).
func (r *Registry) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, r.cleanupEvery, func() { r.Sweep(time.Now()) })
}

// ImportBackend reconcilia na subida: importa o conjunto de bloqueio vivo do
// backend como entradas hard permanentes. Best-effort; o chamador loga o erro
// e segue operando só com o registro local.
func (r *Registry) ImportBackend(ctx context.Context) error {
	if r.filter == nil {
		return nil
	}

	addrs, err := r.filter.ListBlocked(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	r.mu.Lock()
	for _, addr := range addrs {
		key := domain.Key(addr)
		if _, ok := r.entries[key]; ok {
			continue
		}
		r.entries[key] = domain.Exclusion{
			Key:       key,
			Tier:      domain.TierHard,
			Permanent: true,
			CreatedAt: now,
		}
	}
	r.mu.Unlock()
	return nil
}

// mirror dispara a chamada ao backend em goroutine própria, com timeout.
// Falhas são logadas e engolidas; indisponibilidade só avisa uma vez.
func (r *Registry) mirror(call func(context.Context, domain.PacketFilter) error, op string, key domain.Key) {
	if r.filter == nil {
		return
	}
	f := r.filter
	timeout := r.filterTimeout

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := call(ctx, f)
		if err == nil {
			return
		}
		if errors.Is(err, domain.ErrFilterUnavailable) {
			r.warnOnce.Do(func() {
				log.Printf("admission: packet filter unavailable, degrading to local-only enforcement: %v", err)
			})
			return
		}
		log.Printf("admission: packet filter %s %s: %v", op, key, err)
	}()
}
