package models

import (
	"time"

	"gorm.io/datatypes"
)

// IntakeSession is the audit record of one closed report conversation.
// It is written once when the conversation ends and never read back to
// resume one.
type IntakeSession struct {
	ID          uint           `gorm:"primaryKey;autoIncrement"`
	SessionID   string         `gorm:"size:36;not null;uniqueIndex"`
	Platform    string         `gorm:"size:16;not null;index:idx_session_account"`
	UserID      string         `gorm:"size:100;not null;index:idx_session_account"`
	ChatID      string         `gorm:"size:100"`
	Outcome     string         `gorm:"size:16;not null;index"` // confirmed, cancelled, expired
	Turns       int            `gorm:"not null;default:0"`
	Transcripts datatypes.JSON // JSON array of strings, oldest first
	ReportID    *uint          `gorm:"index"`
	StartedAt   time.Time
	ClosedAt    time.Time `gorm:"index"`
}
