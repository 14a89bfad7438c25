package models

import (
	"time"

	"gorm.io/datatypes"
)

// Report is a confirmed field report. The required fields are stored as a
// JSON object; the common ones are also copied to columns for querying.
type Report struct {
	ID              uint           `gorm:"primaryKey;autoIncrement"`
	EmployeeID      uint           `gorm:"not null;index"`
	SessionID       string         `gorm:"size:36;uniqueIndex"`
	ReportDate      time.Time      `gorm:"type:date;not null;index"`
	EquipmentNumber string         `gorm:"size:100"`
	BrigadeNumber   string         `gorm:"size:100"`
	Fields          datatypes.JSON `gorm:"not null"`
	Transcript      string         `gorm:"type:text"`
	Status          string         `gorm:"size:16;default:confirmed"`
	ConfirmedAt     time.Time      `gorm:"index"`
	CreatedAt       time.Time

	Employee Employee `gorm:"foreignKey:EmployeeID"`
}
