package domain

// AcquireResult distingue os motivos de recusa do gate de concorrência,
// porque o adapter HTTP responde 503 para o teto global e 429 para o teto
// por endereço.
type AcquireResult int

const (
	AcquireOK AcquireResult = iota
	AcquireGlobalFull
	AcquireKeyFull
)

// Gate limita requisições em voo, por chave e globalmente.
//
// TryAcquire nunca bloqueia: ou devolve uma vaga com a função de release,
// ou recusa imediatamente. O release retornado deve ser seguro para chamar
// mais de uma vez (caminhos de erro podem passar por ele duas vezes).
type Gate interface {
	TryAcquire(Key) (release func(), result AcquireResult)
}
