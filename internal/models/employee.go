package models

import "time"

// Employee is a person who files reports from one chat platform account.
type Employee struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Platform  string `gorm:"size:16;not null;uniqueIndex:idx_employee_account"`
	UserID    string `gorm:"size:100;not null;uniqueIndex:idx_employee_account"`
	ChatID    string `gorm:"size:100"` // where reminders go
	FullName  string `gorm:"size:255"`
	Active    bool   `gorm:"default:true;index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Reports []Report `gorm:"foreignKey:EmployeeID"`
}
