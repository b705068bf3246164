package models

import "time"

// UIDTracking records sync progress for one (account, folder) pair.
// LastSeenUID only moves forward while UIDValidity is unchanged; a new
// UIDValidity resets it to zero.
type UIDTracking struct {
	AccountID     int64
	Folder        string
	UIDValidity   uint32
	LastSeenUID   uint32
	LastCheckedAt time.Time
}

// ConnectionHealth is the per-(account, folder) listener health record.
type ConnectionHealth struct {
	AccountID           int64
	Folder              string
	LastSuccessAt       *time.Time
	LastFailureAt       *time.Time
	ConsecutiveFailures int
	LastError           string
}
