// Package store persists confirmed reports, employees and the session
// audit trail with GORM.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/cooldog631-ai/aim-bot/internal/intake"
	"github.com/cooldog631-ai/aim-bot/internal/messenger"
	"github.com/cooldog631-ai/aim-bot/internal/models"
	"github.com/cooldog631-ai/aim-bot/internal/report"
)

// Store implements intake.PersistenceSink and intake.SessionRecorder.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a Store over an already migrated database.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &Store{db: db, now: time.Now}, nil
}

// day truncates t to its calendar date at UTC midnight, the form report
// dates are stored in.
func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Create stores a confirmed report, creating the employee on first use.
func (s *Store) Create(ctx context.Context, sub intake.Submission) (uint, error) {
	fields := sub.Draft.Fields()
	raw, err := json.Marshal(fields)
	if err != nil {
		return 0, storageErr("create report", err)
	}
	date, ok := sub.Draft.ReportDate()
	if !ok {
		date = sub.Draft.CreatedAt()
	}

	var id uint
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		emp, err := upsertEmployee(tx, sub.Identity, sub.UserName)
		if err != nil {
			return err
		}
		rec := models.Report{
			EmployeeID:      emp.ID,
			SessionID:       sub.SessionID,
			ReportDate:      day(date),
			EquipmentNumber: fields[report.FieldEquipmentNumber],
			BrigadeNumber:   fields[report.FieldBrigadeNumber],
			Fields:          datatypes.JSON(raw),
			Transcript:      strings.Join(sub.Transcripts, "\n"),
			Status:          "confirmed",
			ConfirmedAt:     s.now().UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		id = rec.ID
		return nil
	})
	if err != nil {
		return 0, storageErr("create report", err)
	}
	return id, nil
}

func upsertEmployee(tx *gorm.DB, id messenger.Identity, name string) (models.Employee, error) {
	var emp models.Employee
	err := tx.Where(models.Employee{Platform: id.Platform, UserID: id.UserID}).
		Attrs(models.Employee{ChatID: id.ChatID, FullName: name, Active: true}).
		FirstOrCreate(&emp).Error
	if err != nil {
		return emp, err
	}
	updates := map[string]any{}
	if id.ChatID != "" && emp.ChatID != id.ChatID {
		updates["chat_id"] = id.ChatID
	}
	if name != "" && emp.FullName != name {
		updates["full_name"] = name
	}
	if len(updates) > 0 {
		if err := tx.Model(&emp).Updates(updates).Error; err != nil {
			return emp, err
		}
	}
	return emp, nil
}

// ListRecent returns the identity's reports dated within [from, to],
// newest first.
func (s *Store) ListRecent(ctx context.Context, id messenger.Identity, from, to time.Time) ([]report.Record, error) {
	return s.Reports(ctx, ReportFilter{Platform: id.Platform, UserID: id.UserID, From: from, To: to})
}

// ReportFilter narrows a report query. Zero values match everything.
type ReportFilter struct {
	Platform string
	UserID   string
	From     time.Time
	To       time.Time
	Limit    int
}

// Reports queries stored reports, newest first.
func (s *Store) Reports(ctx context.Context, f ReportFilter) ([]report.Record, error) {
	q := s.db.WithContext(ctx).Model(&models.Report{}).
		Joins("Employee").
		Order("reports.report_date DESC").
		Order("reports.id DESC")
	if f.Platform != "" {
		q = q.Where("Employee.platform = ?", f.Platform)
	}
	if f.UserID != "" {
		q = q.Where("Employee.user_id = ?", f.UserID)
	}
	if !f.From.IsZero() {
		q = q.Where("reports.report_date >= ?", day(f.From))
	}
	if !f.To.IsZero() {
		q = q.Where("reports.report_date <= ?", day(f.To))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []models.Report
	if err := q.Find(&rows).Error; err != nil {
		return nil, storageErr("list reports", err)
	}
	out := make([]report.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := toRecord(r)
		if err != nil {
			return nil, storageErr("decode report", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func toRecord(r models.Report) (report.Record, error) {
	fields := report.Fields{}
	if len(r.Fields) > 0 {
		if err := json.Unmarshal(r.Fields, &fields); err != nil {
			return report.Record{}, fmt.Errorf("report %d fields: %w", r.ID, err)
		}
	}
	return report.Record{
		ID:          r.ID,
		Platform:    r.Employee.Platform,
		UserID:      r.Employee.UserID,
		ReportDate:  r.ReportDate,
		Fields:      fields,
		Transcript:  r.Transcript,
		ConfirmedAt: r.ConfirmedAt,
	}, nil
}

// RecordSession writes the audit record of a closed conversation.
func (s *Store) RecordSession(ctx context.Context, sum intake.Summary) error {
	transcripts := sum.Transcripts
	if transcripts == nil {
		transcripts = []string{}
	}
	raw, err := json.Marshal(transcripts)
	if err != nil {
		return storageErr("record session", err)
	}
	row := models.IntakeSession{
		SessionID:   sum.SessionID,
		Platform:    sum.Identity.Platform,
		UserID:      sum.Identity.UserID,
		ChatID:      sum.Identity.ChatID,
		Outcome:     sum.Outcome,
		Turns:       sum.Turns,
		Transcripts: datatypes.JSON(raw),
		StartedAt:   sum.CreatedAt,
		ClosedAt:    sum.ClosedAt,
	}
	if sum.ReportID != 0 {
		id := sum.ReportID
		row.ReportID = &id
	}
	return storageErr("record session", s.db.WithContext(ctx).Create(&row).Error)
}

// Sessions returns the audit records of one identity, newest first.
func (s *Store) Sessions(ctx context.Context, id messenger.Identity, limit int) ([]models.IntakeSession, error) {
	var rows []models.IntakeSession
	q := s.db.WithContext(ctx).
		Where("platform = ? AND user_id = ?", id.Platform, id.UserID).
		Order("closed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, storageErr("list sessions", err)
	}
	return rows, nil
}

// EmployeesWithoutReport returns active employees with a known chat who
// have filed nothing dated on the given day.
func (s *Store) EmployeesWithoutReport(ctx context.Context, on time.Time) ([]models.Employee, error) {
	var emps []models.Employee
	filed := s.db.Model(&models.Report{}).
		Select("employee_id").
		Where("report_date = ?", day(on))
	err := s.db.WithContext(ctx).
		Where("active = ? AND chat_id <> ''", true).
		Where("id NOT IN (?)", filed).
		Order("id").
		Find(&emps).Error
	if err != nil {
		return nil, storageErr("employees without report", err)
	}
	return emps, nil
}
