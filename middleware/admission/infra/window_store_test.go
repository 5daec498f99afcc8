package infra

import (
	"testing"
	"time"

	"defense-gateway/middleware/admission/domain"
)

func TestWindowStore_DeniesBeyondMax(t *testing.T) {
	s := NewWindowStore(10*time.Second, 3)
	lim := s.Get(domain.Key("k"))

	now := time.Now()
	for i := 0; i < 3; i++ {
		if !lim.Allow(now) {
			t.Fatalf("expected request %d within window limit to be allowed", i+1)
		}
	}
	if lim.Allow(now) {
		t.Fatalf("expected 4th request in window to be denied")
	}
}

func TestWindowStore_EvictsOldTimestamps(t *testing.T) {
	s := NewWindowStore(10*time.Second, 2)
	lim := s.Get(domain.Key("k"))

	t0 := time.Now()
	if !lim.Allow(t0) || !lim.Allow(t0) {
		t.Fatalf("expected first two requests to be allowed")
	}
	if lim.Allow(t0) {
		t.Fatalf("expected third request at t0 to be denied")
	}

	// depois da janela passar, as entradas antigas saem por corte de prefixo
	t1 := t0.Add(11 * time.Second)
	if !lim.Allow(t1) {
		t.Fatalf("expected request after window passed to be allowed")
	}
}

func TestWindowStore_KeysAreIndependent(t *testing.T) {
	s := NewWindowStore(10*time.Second, 1)

	now := time.Now()
	if !s.Get(domain.Key("a")).Allow(now) {
		t.Fatalf("expected key a to be allowed")
	}
	if !s.Get(domain.Key("b")).Allow(now) {
		t.Fatalf("expected key b to be allowed")
	}
	if s.Get(domain.Key("a")).Allow(now) {
		t.Fatalf("expected second request of key a to be denied")
	}
}

func TestWindowStore_RetryHintPointsToWindowExit(t *testing.T) {
	s := NewWindowStore(10*time.Second, 1)
	lim := s.Get(domain.Key("k"))

	now := time.Now()
	lim.Allow(now)
	if lim.Allow(now) {
		t.Fatalf("expected second request to be denied")
	}

	hint := lim.(domain.RetryHinter).RetryHint(now)
	if hint <= 0 || hint > 10*time.Second {
		t.Fatalf("expected hint within (0, 10s], got %s", hint)
	}
}

func TestWindowStore_CleanupRemovesIdleEntries(t *testing.T) {
	s := NewWindowStore(10*time.Second, 1, WithWindowIdleTTL(2*time.Millisecond), WithWindowCleanupEvery(0))

	s.Get(domain.Key("k")).Allow(time.Now())
	time.Sleep(4 * time.Millisecond)

	s.Cleanup()

	s.mu.Lock()
	_, ok := s.entries[domain.Key("k")]
	s.mu.Unlock()
	if ok {
		t.Fatalf("expected idle entry to be removed")
	}
}
