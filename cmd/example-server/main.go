package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"defense-gateway/middleware/admission"
	"defense-gateway/middleware/admission/domain"
	"defense-gateway/middleware/admission/infra"
	"defense-gateway/telemetry"
)

// Demo de apresentação: serve a pasta site/ com toda a pilha de admissão na
// frente (janela deslizante + concorrência + ban temporário) e expõe /status
// com as métricas do host. Os limites baixos são de propósito, para a demo
// mostrar o bloqueio acontecendo.
func main() {
	staticDir := "site"
	if v := os.Getenv("STATIC_DIR"); v != "" {
		staticDir = v
	}
	addr := ":8080"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := infra.NewRegistry()
	escalator := infra.NewViolationEscalator(registry, 4, 120*time.Second, domain.TierSoft)
	registry.SetOnExpire(escalator.Reset)
	registry.StartJanitor(ctx)
	escalator.StartJanitor(ctx)

	window := infra.NewWindowStore(10*time.Second, 12)
	window.StartJanitor(ctx)

	gate := infra.NewCounterGate(80, 6)

	sampler := telemetry.NewSampler()
	csvPath := "metrics.csv"
	if v := os.Getenv("METRICS_CSV"); v != "" {
		csvPath = v
	}
	sink, err := telemetry.NewCSVSink(csvPath)
	if err != nil {
		log.Fatalf("metrics csv error: %v", err)
	}
	defer func() { _ = sink.Close() }()

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		// coleta sob demanda, como a demo original
		snap, err := sampler.Sample(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := sink.Record(snap); err != nil {
			log.Printf("warning: csv write: %v", err)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(snap)
	})
	mux.HandleFunc("/", staticHandler(staticDir))

	h := admission.Middleware(admission.Options{
		Registry:          registry,
		Gate:              gate,
		Limiters:          window,
		Escalator:         escalator,
		Stats:             infra.NewMemoryStatsStore(),
		TrustProxyHeaders: true,
		RetryAfter:        10 * time.Second,
	})(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("example server listening on %s (serving %s)", addr, staticDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// staticHandler serve arquivos da pasta estática com fallback para index.html
// (rotas de frontend resolvem no cliente).
func staticHandler(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
		if name == "" || name == "." {
			name = "index.html"
		}
		full := filepath.Join(dir, name)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			http.ServeFile(w, r, full)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	}
}
