// Package application contém o caso de uso central: a cadeia de verificações
// de admissão na ordem fixa exclusão -> concorrência -> taxa, com o desfazer
// simétrico quando uma verificação posterior nega (undo-on-reject).
//
// Ele depende apenas do pacote domain e não conhece net/http.
package application
