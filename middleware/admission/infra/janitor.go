package infra

import "time"

// DoneContext é o mínimo necessário para aceitar context.Context sem importar
// context aqui. (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}

// startJanitor roda fn periodicamente até o contexto encerrar.
// Todos os stores por chave usam isto para varrer entradas ociosas: os mapas
// crescem sem limite por construção, então o TTL de ociosidade é a política
// explícita de evicção.
func startJanitor(ctx DoneContext, every time.Duration, fn func()) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
}
