package main

import (
	"fmt"
	"net/http"
)

// Upstream "burro" de validação: sem nenhuma defesa, para colocar atrás do
// gateway (UPSTREAM_URL=http://localhost:8081) e comparar o comportamento
// com e sem a camada de admissão na frente.
func main() {
	http.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
		fmt.Println("Log: Alguém acessou o endpoint /showTela")
	})
	fmt.Println("Servidor upstream rodando em http://localhost:8081")
	err := http.ListenAndServe(":8081", nil)
	if err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
