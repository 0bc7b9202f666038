// Package tracker implements the durable processing ledger keyed by
// vendor recording id, backed by GORM over SQLite (pure Go driver).
// It is the idempotency authority: a recording id is admitted for
// processing at most once at a time, and never again after success.
package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/vconbridge/telephony-adapters/internal/domain"
)

// ErrNotFound indicates no ledger entry exists for the recording id.
var ErrNotFound = errors.New("tracker: entry not found")

// Verdict is the outcome of an admission attempt.
type Verdict int

const (
	// VerdictProceed means the caller owns processing for this id.
	VerdictProceed Verdict = iota
	// VerdictDuplicate means the id already completed successfully.
	VerdictDuplicate
	// VerdictInFlight means another goroutine is processing this id.
	VerdictInFlight
)

// Admission is the result of Admit. VconUUID is set for VerdictDuplicate.
type Admission struct {
	Verdict  Verdict
	VconUUID string
}

// Open opens (or creates) the ledger database and applies PRAGMAs.
func Open(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.AutoMigrate(&domain.TrackerEntry{}); err != nil {
		return nil, err
	}
	return db, nil
}

// Tracker serializes admission per recording id. The in-process map
// arbitrates between concurrent requests inside one process; the
// primary key on recording_id arbitrates across restarts.
type Tracker struct {
	db          *gorm.DB
	maxAttempts int

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New wraps an opened ledger database.
func New(db *gorm.DB, maxAttempts int) *Tracker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Tracker{
		db:          db,
		maxAttempts: maxAttempts,
		inflight:    make(map[string]struct{}),
	}
}

// Admit claims recordingID for processing. Exactly one caller per id
// receives VerdictProceed; an id that already produced a conversation
// record is reported as a duplicate together with its vcon uuid.
// Entries left pending by a crash, and entries that exhausted their
// attempts, are re-admitted so a vendor redelivery can retry them.
func (t *Tracker) Admit(ctx context.Context, recordingID string) (Admission, error) {
	// The map claim is taken before any ledger I/O and the lock released
	// right after, so admissions for distinct ids never wait on each
	// other's SQLite round-trips.
	t.mu.Lock()
	if _, busy := t.inflight[recordingID]; busy {
		t.mu.Unlock()
		return Admission{Verdict: VerdictInFlight}, nil
	}
	t.inflight[recordingID] = struct{}{}
	t.mu.Unlock()

	adm, err := t.admit(ctx, recordingID)
	if err != nil || adm.Verdict != VerdictProceed {
		t.Release(recordingID)
	}
	return adm, err
}

func (t *Tracker) admit(ctx context.Context, recordingID string) (Admission, error) {
	var entry domain.TrackerEntry
	err := t.db.WithContext(ctx).First(&entry, "recording_id = ?", recordingID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		now := time.Now().UTC()
		entry = domain.TrackerEntry{
			RecordingID: recordingID,
			Status:      domain.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := t.db.WithContext(ctx).Create(&entry).Error; err != nil {
			// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
			low := strings.ToLower(err.Error())
			if errors.Is(err, gorm.ErrDuplicatedKey) ||
				strings.Contains(low, "unique constraint failed") ||
				strings.Contains(low, "constraint failed: unique") {
				return Admission{Verdict: VerdictInFlight}, nil
			}
			return Admission{}, err
		}
	case err != nil:
		return Admission{}, err
	case entry.Status == domain.StatusSuccess:
		return Admission{Verdict: VerdictDuplicate, VconUUID: entry.VconUUID}, nil
	case entry.Status == domain.StatusFailed:
		// A fresh vendor notification resets a terminal failure.
		updates := map[string]any{
			"status":        domain.StatusPending,
			"attempt_count": 0,
			"updated_at":    time.Now().UTC(),
		}
		if err := t.db.WithContext(ctx).Model(&entry).Updates(updates).Error; err != nil {
			return Admission{}, err
		}
	}
	// StatusPending with no in-flight claim: a crash interrupted the
	// previous attempt, so this delivery takes over.

	return Admission{Verdict: VerdictProceed}, nil
}

// Release drops the in-process claim without touching the ledger row.
// Used when an admitted notification cannot be queued; the entry stays
// pending and the vendor's redelivery will re-admit it.
func (t *Tracker) Release(recordingID string) {
	t.mu.Lock()
	delete(t.inflight, recordingID)
	t.mu.Unlock()
}

// Complete marks recordingID successfully relayed as vconUUID.
func (t *Tracker) Complete(ctx context.Context, recordingID, vconUUID string) error {
	defer t.Release(recordingID)
	return t.db.WithContext(ctx).
		Model(&domain.TrackerEntry{}).
		Where("recording_id = ?", recordingID).
		Updates(map[string]any{
			"status":     domain.StatusSuccess,
			"vcon_uuid":  vconUUID,
			"updated_at": time.Now().UTC(),
		}).Error
}

// Fail records a failed processing attempt. Once the attempt budget is
// exhausted the entry becomes terminal; otherwise it returns to pending
// so a vendor redelivery can try again. Reports whether the failure is
// terminal.
func (t *Tracker) Fail(ctx context.Context, recordingID string) (bool, error) {
	defer t.Release(recordingID)

	var entry domain.TrackerEntry
	if err := t.db.WithContext(ctx).First(&entry, "recording_id = ?", recordingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}

	now := time.Now().UTC()
	entry.AttemptCount++
	terminal := entry.AttemptCount >= t.maxAttempts
	updates := map[string]any{
		"attempt_count":   entry.AttemptCount,
		"last_attempt_at": now,
		"updated_at":      now,
		"status":          domain.StatusPending,
	}
	if terminal {
		updates["status"] = domain.StatusFailed
	}
	if err := t.db.WithContext(ctx).Model(&entry).Updates(updates).Error; err != nil {
		return false, err
	}
	return terminal, nil
}

// Reject records a terminal processing failure regardless of the
// remaining attempt budget. Used when the downstream explicitly refused
// the record: retrying the identical payload cannot succeed, so the
// entry goes straight to failed.
func (t *Tracker) Reject(ctx context.Context, recordingID string) error {
	defer t.Release(recordingID)

	now := time.Now().UTC()
	res := t.db.WithContext(ctx).
		Model(&domain.TrackerEntry{}).
		Where("recording_id = ?", recordingID).
		Updates(map[string]any{
			"status":          domain.StatusFailed,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_attempt_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Lookup returns the ledger entry for recordingID or ErrNotFound.
func (t *Tracker) Lookup(ctx context.Context, recordingID string) (*domain.TrackerEntry, error) {
	var entry domain.TrackerEntry
	err := t.db.WithContext(ctx).First(&entry, "recording_id = ?", recordingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
