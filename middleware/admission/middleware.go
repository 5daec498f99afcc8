package admission

import (
	"net/http"
	"time"

	"defense-gateway/middleware/admission/application"
	"defense-gateway/middleware/admission/domain"
)

type Options struct {
	Registry  domain.Registry
	Gate      domain.Gate
	Limiters  domain.LimiterStore
	Escalator domain.Escalator
	Stats     domain.StatsStore

	KeyFn               KeyFunc
	KeyHeader           string
	TrustProxyHeaders   bool
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
}

// rateInfo e windowInfo são opcionais nos stores, só para headers informativos.
type rateInfo interface {
	RPS() float64
	Burst() int
}

type windowInfo interface {
	Window() time.Duration
	MaxRequests() int
}

// Middleware aplica a cadeia de admissão antes do próximo handler e garante a
// devolução da vaga de concorrência em todo caminho de saída (o defer roda
// inclusive em panic do handler).
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustProxyHeaders)
	}

	svc := application.Service{
		Registry:   opts.Registry,
		Gate:       opts.Gate,
		Limiters:   opts.Limiters,
		Escalator:  opts.Escalator,
		RetryAfter: opts.RetryAfter,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", key)
				if ri, ok := opts.Limiters.(rateInfo); ok {
					w.Header().Set("X-RateLimit-RPS", formatFloat(ri.RPS()))
					w.Header().Set("X-RateLimit-Burst", formatInt(ri.Burst()))
				}
				if wi, ok := opts.Limiters.(windowInfo); ok {
					w.Header().Set("X-RateLimit-Window", formatInt(int(wi.Window().Seconds())))
					w.Header().Set("X-RateLimit-Max", formatInt(wi.MaxRequests()))
				}
			}

			verdict, release := svc.Admit(domain.Key(key), time.Now())
			if opts.Stats != nil {
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     domain.Key(key),
					Allowed: verdict.Allowed,
					Reason:  verdict.Reason,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				})
			}
			if !verdict.Allowed {
				if verdict.RetryAfter > 0 {
					w.Header().Set("Retry-After", formatSeconds(verdict.RetryAfter))
				}
				status := statusFor(verdict.Reason)
				http.Error(w, http.StatusText(status), status)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}

func statusFor(reason domain.Reason) int {
	if reason == domain.ReasonGlobalConcurrency {
		return http.StatusServiceUnavailable
	}
	return http.StatusTooManyRequests
}
