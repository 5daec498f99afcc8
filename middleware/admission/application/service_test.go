package application

import (
	"testing"
	"time"

	"defense-gateway/middleware/admission/domain"
)

type fakeRegistry struct {
	excluded map[domain.Key]bool
}

func (r fakeRegistry) IsExcluded(k domain.Key, _ time.Time) bool { return r.excluded[k] }
func (r fakeRegistry) Exclude(domain.Exclusion) error            { return nil }
func (r fakeRegistry) Release(domain.Key) error                  { return nil }
func (r fakeRegistry) List(time.Time) []domain.Exclusion         { return nil }

type fakeGate struct {
	result   domain.AcquireResult
	acquired int
	released int
}

func (g *fakeGate) TryAcquire(domain.Key) (func(), domain.AcquireResult) {
	if g.result != domain.AcquireOK {
		return nil, g.result
	}
	g.acquired++
	return func() { g.released++ }, domain.AcquireOK
}

type fakeLimiter struct {
	allow bool
	hint  time.Duration
}

func (f fakeLimiter) Allow(time.Time) bool              { return f.allow }
func (f fakeLimiter) RetryHint(time.Time) time.Duration { return f.hint }

type fakeStore struct {
	lim  domain.Limiter
	gets int
}

func (s *fakeStore) Get(domain.Key) domain.Limiter {
	s.gets++
	return s.lim
}

type fakeEscalator struct {
	violations int
	banNow     bool
}

func (e *fakeEscalator) RecordViolation(domain.Key, time.Time) bool {
	e.violations++
	return e.banNow
}

func TestService_Admit_AllowsWhenAllNil(t *testing.T) {
	svc := Service{}
	v, release := svc.Admit("k", time.Now())
	if !v.Allowed {
		t.Fatalf("expected allowed")
	}
	release()
}

func TestService_Admit_ExclusionShortCircuits(t *testing.T) {
	gate := &fakeGate{}
	store := &fakeStore{lim: fakeLimiter{allow: true}}
	svc := Service{
		Registry: fakeRegistry{excluded: map[domain.Key]bool{"k": true}},
		Gate:     gate,
		Limiters: store,
	}

	v, release := svc.Admit("k", time.Now())
	if v.Allowed {
		t.Fatalf("expected denial for excluded key")
	}
	if v.Reason != domain.ReasonExcluded {
		t.Fatalf("expected excluded reason, got %q", v.Reason)
	}
	if release != nil {
		t.Fatalf("expected nil release on denial")
	}
	// excluído nem chega a tocar gate ou limiter
	if gate.acquired != 0 || store.gets != 0 {
		t.Fatalf("expected no gate/limiter activity, got gate=%d limiter=%d", gate.acquired, store.gets)
	}
}

func TestService_Admit_GlobalFullIs503Reason(t *testing.T) {
	svc := Service{Gate: &fakeGate{result: domain.AcquireGlobalFull}}

	v, _ := svc.Admit("k", time.Now())
	if v.Allowed || v.Reason != domain.ReasonGlobalConcurrency {
		t.Fatalf("expected global concurrency denial, got %+v", v)
	}
}

func TestService_Admit_KeyFullDoesNotTouchRateState(t *testing.T) {
	store := &fakeStore{lim: fakeLimiter{allow: true}}
	esc := &fakeEscalator{}
	svc := Service{
		Gate:      &fakeGate{result: domain.AcquireKeyFull},
		Limiters:  store,
		Escalator: esc,
	}

	v, _ := svc.Admit("k", time.Now())
	if v.Allowed || v.Reason != domain.ReasonKeyConcurrency {
		t.Fatalf("expected per-key concurrency denial, got %+v", v)
	}
	if store.gets != 0 {
		t.Fatalf("expected rate state untouched, got %d gets", store.gets)
	}
	// negação de concorrência não conta como violação
	if esc.violations != 0 {
		t.Fatalf("expected no violations, got %d", esc.violations)
	}
}

func TestService_Admit_RateDenialReleasesSlot(t *testing.T) {
	gate := &fakeGate{}
	esc := &fakeEscalator{}
	svc := Service{
		Gate:      gate,
		Limiters:  &fakeStore{lim: fakeLimiter{allow: false, hint: 3 * time.Second}},
		Escalator: esc,
	}

	v, release := svc.Admit("k", time.Now())
	if v.Allowed || v.Reason != domain.ReasonRate {
		t.Fatalf("expected rate denial, got %+v", v)
	}
	if release != nil {
		t.Fatalf("expected nil release on denial")
	}
	// undo-on-reject: a vaga adquirida foi devolvida antes de retornar
	if gate.acquired != 1 || gate.released != 1 {
		t.Fatalf("expected acquire+release pair, got acquired=%d released=%d", gate.acquired, gate.released)
	}
	if esc.violations != 1 {
		t.Fatalf("expected one violation recorded, got %d", esc.violations)
	}
	if v.RetryAfter != 3*time.Second {
		t.Fatalf("expected limiter hint 3s, got %s", v.RetryAfter)
	}
}

func TestService_Admit_RateDenialThatBansReportsExcluded(t *testing.T) {
	svc := Service{
		Gate:      &fakeGate{},
		Limiters:  &fakeStore{lim: fakeLimiter{allow: false}},
		Escalator: &fakeEscalator{banNow: true},
	}

	v, _ := svc.Admit("k", time.Now())
	if v.Reason != domain.ReasonExcluded {
		t.Fatalf("expected excluded reason when threshold reached, got %q", v.Reason)
	}
}

func TestService_Admit_FallbackRetryAfter(t *testing.T) {
	svc := Service{
		Limiters: &fakeStore{lim: fakeLimiter{allow: false, hint: 0}},
	}

	v, _ := svc.Admit("k", time.Now())
	if v.RetryAfter != 1*time.Second {
		t.Fatalf("expected default RetryAfter=1s, got %s", v.RetryAfter)
	}

	svc.RetryAfter = 2500 * time.Millisecond
	v, _ = svc.Admit("k", time.Now())
	if v.RetryAfter != 2500*time.Millisecond {
		t.Fatalf("expected configured RetryAfter=2.5s, got %s", v.RetryAfter)
	}
}

func TestService_Admit_AllowedReleaseDecrementsOnce(t *testing.T) {
	gate := &fakeGate{}
	svc := Service{Gate: gate, Limiters: &fakeStore{lim: fakeLimiter{allow: true}}}

	v, release := svc.Admit("k", time.Now())
	if !v.Allowed {
		t.Fatalf("expected allowed")
	}
	release()
	if gate.released != 1 {
		t.Fatalf("expected one release, got %d", gate.released)
	}
}
