package model

import "time"

// DetectionStatus is the coarse per-email detection lifecycle.
type DetectionStatus int

const (
	DetectionPending DetectionStatus = iota
	DetectionRunning
	DetectionSuccess
	DetectionFailed
)

// Email is one ingested message. (binding_id, email_uid) is unique, so
// re-fetching a message never creates a duplicate row. Emails are soft
// deleted, never removed.
type Email struct {
	ID        int
	BindingID int
	UserID    int
	// EmailUID is the provider-assigned message UID, unique within a binding.
	// Stored as a string to accommodate provider-specific formats.
	EmailUID        string
	Subject         string
	Sender          string
	EmailDate       *time.Time
	Body            string
	Headers         string
	DetectionStatus DetectionStatus
	IsDeleted       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
