package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vconbridge/telephony-adapters/internal/domain"
)

var dbSeq int

func newTrackerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbSeq++
	dsn := fmt.Sprintf("file:tracker%d?mode=memory&cache=shared", dbSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.TrackerEntry{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestAdmit_FirstNotificationProceeds(t *testing.T) {
	tr := New(newTrackerDB(t), 3)
	adm, err := tr.Admit(context.Background(), "REC123")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if adm.Verdict != VerdictProceed {
		t.Fatalf("Verdict = %v, want VerdictProceed", adm.Verdict)
	}
	entry, err := tr.Lookup(context.Background(), "REC123")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.Status != domain.StatusPending {
		t.Errorf("Status = %q, want pending", entry.Status)
	}
}

func TestAdmit_ConcurrentRedeliverySingleWinner(t *testing.T) {
	tr := New(newTrackerDB(t), 3)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	verdicts := make([]Verdict, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adm, err := tr.Admit(ctx, "REC123")
			if err != nil {
				t.Errorf("Admit: %v", err)
				return
			}
			verdicts[i] = adm.Verdict
		}(i)
	}
	wg.Wait()

	proceeds := 0
	for _, v := range verdicts {
		if v == VerdictProceed {
			proceeds++
		}
	}
	if proceeds != 1 {
		t.Fatalf("got %d VerdictProceed, want exactly 1", proceeds)
	}
}

func TestAdmit_DistinctIDsAllProceed(t *testing.T) {
	tr := New(newTrackerDB(t), 3)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	verdicts := make([]Verdict, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adm, err := tr.Admit(ctx, fmt.Sprintf("REC%03d", i))
			verdicts[i], errs[i] = adm.Verdict, err
		}(i)
	}
	wg.Wait()

	// Independent recordings never contend on each other's admission.
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Admit %d: %v", i, errs[i])
		}
		if verdicts[i] != VerdictProceed {
			t.Errorf("Admit %d: verdict = %v, want VerdictProceed", i, verdicts[i])
		}
	}
}

func TestComplete_ThenDuplicate(t *testing.T) {
	tr := New(newTrackerDB(t), 3)
	ctx := context.Background()

	if _, err := tr.Admit(ctx, "REC123"); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := tr.Complete(ctx, "REC123", "uuid-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	adm, err := tr.Admit(ctx, "REC123")
	if err != nil {
		t.Fatalf("re-Admit: %v", err)
	}
	if adm.Verdict != VerdictDuplicate {
		t.Fatalf("Verdict = %v, want VerdictDuplicate", adm.Verdict)
	}
	if adm.VconUUID != "uuid-1" {
		t.Errorf("VconUUID = %q, want uuid-1", adm.VconUUID)
	}
}

func TestFail_TerminalAfterMaxAttempts(t *testing.T) {
	tr := New(newTrackerDB(t), 2)
	ctx := context.Background()

	if _, err := tr.Admit(ctx, "REC123"); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	terminal, err := tr.Fail(ctx, "REC123")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if terminal {
		t.Fatal("terminal after 1 of 2 attempts")
	}

	// Redelivery re-admits the pending entry.
	adm, err := tr.Admit(ctx, "REC123")
	if err != nil || adm.Verdict != VerdictProceed {
		t.Fatalf("re-Admit = %+v, %v; want VerdictProceed", adm, err)
	}
	terminal, err = tr.Fail(ctx, "REC123")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if !terminal {
		t.Fatal("not terminal after exhausting attempts")
	}
	entry, err := tr.Lookup(ctx, "REC123")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.Status != domain.StatusFailed {
		t.Errorf("Status = %q, want failed", entry.Status)
	}
}

func TestReject_TerminalDespiteRemainingBudget(t *testing.T) {
	tr := New(newTrackerDB(t), 5)
	ctx := context.Background()

	if _, err := tr.Admit(ctx, "REC123"); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := tr.Reject(ctx, "REC123"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	entry, err := tr.Lookup(ctx, "REC123")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.Status != domain.StatusFailed {
		t.Errorf("Status = %q, want failed after 1 of 5 attempts", entry.Status)
	}
	if entry.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", entry.AttemptCount)
	}
	if entry.LastAttemptAt.IsZero() {
		t.Error("LastAttemptAt not set")
	}

	// The in-process claim is released; a fresh notification may still
	// re-admit the terminal entry for an operator-driven replay.
	adm, err := tr.Admit(ctx, "REC123")
	if err != nil || adm.Verdict != VerdictProceed {
		t.Fatalf("re-Admit = %+v, %v; want VerdictProceed", adm, err)
	}
}

func TestReject_UnknownID(t *testing.T) {
	tr := New(newTrackerDB(t), 3)
	if err := tr.Reject(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAdmit_ResetsTerminalFailure(t *testing.T) {
	tr := New(newTrackerDB(t), 1)
	ctx := context.Background()

	if _, err := tr.Admit(ctx, "REC123"); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if terminal, err := tr.Fail(ctx, "REC123"); err != nil || !terminal {
		t.Fatalf("Fail = %v, %v; want terminal", terminal, err)
	}

	adm, err := tr.Admit(ctx, "REC123")
	if err != nil {
		t.Fatalf("re-Admit: %v", err)
	}
	if adm.Verdict != VerdictProceed {
		t.Fatalf("Verdict = %v, want VerdictProceed after failed reset", adm.Verdict)
	}
	entry, err := tr.Lookup(ctx, "REC123")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.Status != domain.StatusPending || entry.AttemptCount != 0 {
		t.Errorf("entry = %+v, want pending with attempts reset", entry)
	}
}

func TestAdmit_SurvivesRestart(t *testing.T) {
	db := newTrackerDB(t)
	ctx := context.Background()

	tr1 := New(db, 3)
	if _, err := tr1.Admit(ctx, "REC123"); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := tr1.Complete(ctx, "REC123", "uuid-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Fresh tracker over the same database models a process restart.
	tr2 := New(db, 3)
	adm, err := tr2.Admit(ctx, "REC123")
	if err != nil {
		t.Fatalf("Admit after restart: %v", err)
	}
	if adm.Verdict != VerdictDuplicate || adm.VconUUID != "uuid-1" {
		t.Fatalf("Admit after restart = %+v, want duplicate with uuid-1", adm)
	}
}

func TestAdmit_TakesOverStalePending(t *testing.T) {
	db := newTrackerDB(t)
	ctx := context.Background()

	tr1 := New(db, 3)
	if _, err := tr1.Admit(ctx, "REC123"); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	// tr1 crashes without completing; its in-process claim is gone.
	tr2 := New(db, 3)
	adm, err := tr2.Admit(ctx, "REC123")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if adm.Verdict != VerdictProceed {
		t.Fatalf("Verdict = %v, want VerdictProceed for stale pending", adm.Verdict)
	}
}

func TestRelease_AllowsReadmission(t *testing.T) {
	tr := New(newTrackerDB(t), 3)
	ctx := context.Background()

	if _, err := tr.Admit(ctx, "REC123"); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if adm, _ := tr.Admit(ctx, "REC123"); adm.Verdict != VerdictInFlight {
		t.Fatalf("Verdict = %v, want VerdictInFlight while claimed", adm.Verdict)
	}
	tr.Release("REC123")
	adm, err := tr.Admit(ctx, "REC123")
	if err != nil || adm.Verdict != VerdictProceed {
		t.Fatalf("Admit after Release = %+v, %v; want VerdictProceed", adm, err)
	}
}

func TestLookup_NotFound(t *testing.T) {
	tr := New(newTrackerDB(t), 3)
	if _, err := tr.Lookup(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
