// Package adminapi expõe a superfície administrativa/diagnóstica da defesa:
// listar exclusões com TTL restante, bloquear/desbloquear endereços e
// consultar o estado geral.
//
// Não há autenticação: o listener deve ficar em rede confiável (ADMIN_ADDR
// separado do edge público).
package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"defense-gateway/middleware/admission/domain"
	"defense-gateway/telemetry"

	"github.com/go-chi/chi/v5"
)

// Gate é o que o status precisa do gate de concorrência.
type Gate interface {
	Active() int
}

type Server struct {
	Registry domain.Registry
	Gate     Gate
	Sampler  *telemetry.Sampler

	// Profile e BanFor descrevem a configuração vigente para blocks manuais:
	// o tier aplicado e a validade padrão quando o request não informa ttl.
	Profile string
	BanFor  time.Duration
}

type exclusionJSON struct {
	Address          string `json:"address"`
	Tier             string `json:"tier"`
	Permanent        bool   `json:"permanent"`
	RemainingSeconds int64  `json:"remaining_seconds,omitempty"`
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/defense/status", s.handleStatus)
	r.Get("/defense/exclusions", s.handleList)
	r.Put("/defense/exclusions/{addr}", s.handleBlock)
	r.Delete("/defense/exclusions/{addr}", s.handleUnblock)
	r.Get("/status", s.handleTelemetry)
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	exclusions := s.list(now)

	out := map[string]any{
		"profile":         s.Profile,
		"ban_seconds":     int64(s.BanFor.Seconds()),
		"exclusion_count": len(exclusions),
		"exclusions":      exclusions,
	}
	if s.Gate != nil {
		out["active_requests"] = s.Gate.Active()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.list(time.Now()))
}

// handleBlock instala uma exclusão administrativa. Idempotente: repetir o PUT
// de um endereço já excluído não reinicia a validade. O parâmetro opcional
// ?ttl=2m limita a duração; sem ele o bloqueio é permanente.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	if addr == "" {
		http.Error(w, "address required", http.StatusBadRequest)
		return
	}

	now := time.Now()
	exc := domain.Exclusion{
		Key:       domain.Key(addr),
		Tier:      tierFor(s.Profile),
		CreatedAt: now,
		Permanent: true,
	}
	if ttl := r.URL.Query().Get("ttl"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil || d <= 0 {
			http.Error(w, "invalid ttl", http.StatusBadRequest)
			return
		}
		exc.Permanent = false
		exc.ExpiresAt = now.Add(d)
	}

	if err := s.Registry.Exclude(exc); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr, "status": "excluded"})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	if addr == "" {
		http.Error(w, "address required", http.StatusBadRequest)
		return
	}

	if err := s.Registry.Release(domain.Key(addr)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr, "status": "released"})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.Sampler == nil {
		http.Error(w, "telemetry disabled", http.StatusNotFound)
		return
	}
	snap, ok := s.Sampler.Latest()
	if !ok {
		// ainda sem coleta periódica: coleta sob demanda
		var err error
		snap, err = s.Sampler.Sample(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) list(now time.Time) []exclusionJSON {
	out := []exclusionJSON{}
	if s.Registry == nil {
		return out
	}
	for _, e := range s.Registry.List(now) {
		j := exclusionJSON{
			Address:   string(e.Key),
			Tier:      e.Tier.String(),
			Permanent: e.Permanent,
		}
		if !e.Permanent {
			j.RemainingSeconds = int64(e.Remaining(now).Seconds())
		}
		out = append(out, j)
	}
	return out
}

func tierFor(profile string) domain.Tier {
	if profile == "hard" {
		return domain.TierHard
	}
	return domain.TierSoft
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
