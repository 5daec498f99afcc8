package infra

import (
	"testing"
	"time"

	"defense-gateway/middleware/admission/domain"
)

func TestEscalator_BansAtThreshold(t *testing.T) {
	reg := NewRegistry()
	esc := NewViolationEscalator(reg, 3, 120*time.Second, domain.TierSoft)
	reg.SetOnExpire(esc.Reset)

	now := time.Now()
	if esc.RecordViolation("k", now) {
		t.Fatalf("expected 1st violation to not ban")
	}
	if esc.RecordViolation("k", now) {
		t.Fatalf("expected 2nd violation to not ban")
	}
	if !esc.RecordViolation("k", now) {
		t.Fatalf("expected 3rd violation to ban")
	}

	if !reg.IsExcluded("k", now) {
		t.Fatalf("expected key to be excluded after threshold")
	}
	if got := esc.Count("k"); got != 0 {
		t.Fatalf("expected count cleared on ban, got %d", got)
	}
}

func TestEscalator_ReescalationKeepsSingleEntryAndExpiry(t *testing.T) {
	reg := NewRegistry()
	esc := NewViolationEscalator(reg, 2, 120*time.Second, domain.TierSoft)

	t0 := time.Now()
	esc.RecordViolation("k", t0)
	esc.RecordViolation("k", t0) // banido até t0+120s

	want := reg.List(t0)[0].ExpiresAt

	// mais violações enquanto excluído: idempotente, não reinicia validade
	t1 := t0.Add(30 * time.Second)
	esc.RecordViolation("k", t1)
	esc.RecordViolation("k", t1)

	list := reg.List(t1)
	if len(list) != 1 {
		t.Fatalf("expected exactly one exclusion entry, got %d", len(list))
	}
	if !list[0].ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry unchanged at %s, got %s", want, list[0].ExpiresAt)
	}
}

func TestEscalator_ExpiryResetsToClean(t *testing.T) {
	reg := NewRegistry()
	esc := NewViolationEscalator(reg, 2, 100*time.Second, domain.TierSoft)
	reg.SetOnExpire(esc.Reset)

	t0 := time.Now()
	esc.RecordViolation("k", t0)
	esc.RecordViolation("k", t0)

	if !reg.IsExcluded("k", t0.Add(99*time.Second)) {
		t.Fatalf("expected key still excluded before expiry")
	}
	if reg.IsExcluded("k", t0.Add(101*time.Second)) {
		t.Fatalf("expected key admitted after expiry")
	}
	// volta a limpo, não a avisado
	if got := esc.Count("k"); got != 0 {
		t.Fatalf("expected violation count reset to 0 after expiry, got %d", got)
	}
}

func TestEscalator_PermanentBan(t *testing.T) {
	reg := NewRegistry()
	esc := NewViolationEscalator(reg, 1, 0, domain.TierHard)

	now := time.Now()
	if !esc.RecordViolation("k", now) {
		t.Fatalf("expected immediate ban with threshold=1")
	}

	list := reg.List(now)
	if len(list) != 1 || !list[0].Permanent || list[0].Tier != domain.TierHard {
		t.Fatalf("expected one permanent hard entry, got %+v", list)
	}
}

func TestEscalator_DisabledThreshold(t *testing.T) {
	reg := NewRegistry()
	esc := NewViolationEscalator(reg, 0, time.Minute, domain.TierSoft)

	now := time.Now()
	for i := 0; i < 10; i++ {
		if esc.RecordViolation("k", now) {
			t.Fatalf("expected disabled escalator to never ban")
		}
	}
}

func TestEscalator_CleanupRemovesIdleCounters(t *testing.T) {
	reg := NewRegistry()
	esc := NewViolationEscalator(reg, 10, time.Minute, domain.TierSoft,
		WithEscalatorIdleTTL(2*time.Millisecond), WithEscalatorCleanupEvery(0))

	esc.RecordViolation("k", time.Now())
	time.Sleep(4 * time.Millisecond)

	esc.Cleanup()

	if got := esc.Count("k"); got != 0 {
		t.Fatalf("expected idle counter to be swept, got %d", got)
	}
}
