package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

// Upstream falso para validar o gateway na mão:
//
//	UPSTREAM_URL=http://localhost:8081 go run ./cmd/gateway
//	curl -X POST localhost:8080/api/ai/ask -H "Authorization: Bearer $TOKEN"
func main() {
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	http.HandleFunc("/api/ai/ask", func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-Authenticated-User")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"answer": "resposta burra do servidor burrão",
			"user":   user,
		})
		if user == "" {
			fmt.Println("Log: chamada anônima em /api/ai/ask")
			return
		}
		fmt.Printf("Log: %s chamou /api/ai/ask\n", user)
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	fmt.Printf("Servidor rodando em http://localhost%s\n", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
