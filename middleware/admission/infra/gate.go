package infra

import (
	"sync"

	"defense-gateway/middleware/admission/domain"
)

// CounterGate implementa domain.Gate com dois escopos sob um único mutex:
// um contador global e um por chave. Checar os dois tetos antes de
// incrementar, dentro da mesma seção crítica, dispensa rollback parcial.
//
// Limite <= 0 desliga o escopo correspondente.
type CounterGate struct {
	mu          sync.Mutex
	global      int
	perKey      map[domain.Key]int
	globalLimit int
	keyLimit    int
}

func NewCounterGate(globalLimit, keyLimit int) *CounterGate {
	return &CounterGate{
		perKey:      make(map[domain.Key]int),
		globalLimit: globalLimit,
		keyLimit:    keyLimit,
	}
}

// TryAcquire implementa domain.Gate. O release devolvido é protegido por
// sync.Once: chamá-lo mais de uma vez (caminho de erro + defer) não perde
// nem duplica decrementos.
func (g *CounterGate) TryAcquire(key domain.Key) (func(), domain.AcquireResult) {
	g.mu.Lock()
	if g.globalLimit > 0 && g.global >= g.globalLimit {
		g.mu.Unlock()
		return nil, domain.AcquireGlobalFull
	}
	if g.keyLimit > 0 && g.perKey[key] >= g.keyLimit {
		g.mu.Unlock()
		return nil, domain.AcquireKeyFull
	}
	g.global++
	g.perKey[key]++
	g.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { g.release(key) }) }, domain.AcquireOK
}

func (g *CounterGate) release(key domain.Key) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// clamp em zero: contador negativo é corrupção de estado e o
	// auto-reparo é não decrementar
	if g.global > 0 {
		g.global--
	}
	if n := g.perKey[key]; n > 1 {
		g.perKey[key] = n - 1
	} else {
		delete(g.perKey, key)
	}
}

// Active devolve o total de requisições em voo.
func (g *CounterGate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.global
}

// ActiveFor devolve as requisições em voo de uma chave.
func (g *CounterGate) ActiveFor(key domain.Key) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.perKey[key]
}
