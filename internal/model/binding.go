package model

import "time"

// MailboxBinding is one user's connection to a provider mailbox.
type MailboxBinding struct {
	ID           int
	UserID       int
	EmailAddress string
	// AuthCode is the provider authorization code used for IMAP login.
	AuthCode   string
	IMAPServer string
	IMAPPort   int
	// UseIDHandshake enables the RFC 2971 client-identification exchange
	// some providers require before permitting fetches.
	UseIDHandshake bool
	// LastUID is the sync watermark: the highest provider UID already
	// ingested. Stored as a string to accommodate provider-specific
	// formats; compared numerically after parsing.
	LastUID   string
	IsActive  bool
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
