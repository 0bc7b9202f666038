// Package domain defines the canonical types shared across the adapter
// pipeline. This file contains the persisted idempotency model mapped
// with GORM.
package domain

import "time"

// Status is the lifecycle state of a TrackerEntry.
type Status string

const (
	// StatusPending marks a recording admitted for processing but not
	// yet delivered. Pending entries may still be retried.
	StatusPending Status = "pending"
	// StatusSuccess marks a recording whose canonical record was
	// delivered downstream. Success is terminal and short-circuits all
	// future notifications for the same recording.
	StatusSuccess Status = "success"
	// StatusFailed marks a recording whose delivery attempts were
	// exhausted.
	StatusFailed Status = "failed"
)

// TrackerEntry is the durable idempotency record, keyed by the vendor
// recording identifier. The tracker package exclusively owns rows of
// this type; other components only propose transitions through its
// interface.
type TrackerEntry struct {
	RecordingID   string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	VconUUID      string    `gorm:"type:TEXT NOT NULL;default:''"`
	Status        Status    `gorm:"type:TEXT NOT NULL;index"`
	AttemptCount  int       `gorm:"type:INTEGER NOT NULL;default:0"`
	LastAttemptAt time.Time `gorm:"type:DATETIME"`
	CreatedAt     time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"type:DATETIME NOT NULL;autoUpdateTime"`
}

// TableName implements the GORM tabler interface.
func (TrackerEntry) TableName() string { return "tracker_entries" }
