package store

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cooldog631-ai/aim-bot/internal/db"
	"github.com/cooldog631-ai/aim-bot/internal/intake"
	"github.com/cooldog631-ai/aim-bot/internal/messenger"
	"github.com/cooldog631-ai/aim-bot/internal/report"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Every pooled connection would get its own empty :memory: database.
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(testDB(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time { return time.Date(2025, 10, 26, 9, 30, 0, 0, time.UTC) }
	return s
}

var worker = messenger.Identity{Platform: "discord", UserID: "42", ChatID: "dm-42"}

func submission(t *testing.T, sessionID, date, equipment string) intake.Submission {
	t.Helper()
	d, err := report.NewDraft(report.DefaultFieldSet(), report.Fields{
		report.FieldDate:            date,
		report.FieldEquipmentNumber: equipment,
		report.FieldBrigadeNumber:   "B-3",
		report.FieldWorkDescription: "Проверка топливной системы",
	}, time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewDraft: %v", err)
	}
	return intake.Submission{
		SessionID:   sessionID,
		Identity:    worker,
		UserName:    "Иван Петров",
		Draft:       d,
		Transcripts: []string{"K-101 B-3 проверка", "25.10.2025"},
	}
}

func TestNew_RequiresDB(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestCreate_StoresReportAndEmployee(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, submission(t, "s-1", "25.10.2025", "K-101"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == 0 {
		t.Fatal("Create returned id 0")
	}

	recs, err := s.ListRecent(ctx, worker, time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC), time.Date(2025, 10, 26, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.ID != id || r.Platform != "discord" || r.UserID != "42" {
		t.Errorf("record = %+v", r)
	}
	if r.ReportDate.Day() != 25 || r.ReportDate.Month() != time.October {
		t.Errorf("ReportDate = %s", r.ReportDate)
	}
	if r.Fields[report.FieldEquipmentNumber] != "K-101" || len(r.Fields) != 4 {
		t.Errorf("Fields = %v", r.Fields)
	}
	if r.Transcript != "K-101 B-3 проверка\n25.10.2025" {
		t.Errorf("Transcript = %q", r.Transcript)
	}

	emps, err := s.EmployeesWithoutReport(ctx, time.Date(2025, 10, 26, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("EmployeesWithoutReport: %v", err)
	}
	if len(emps) != 1 || emps[0].FullName != "Иван Петров" || emps[0].ChatID != "dm-42" {
		t.Errorf("employees = %+v", emps)
	}
}

func TestCreate_ReusesEmployee(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, submission(t, "s-1", "24.10.2025", "K-101")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, submission(t, "s-2", "25.10.2025", "K-202")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var count int64
	s.db.Table("employees").Count(&count)
	if count != 1 {
		t.Errorf("employees = %d, want 1", count)
	}

	recs, err := s.ListRecent(ctx, worker, time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 2 || recs[0].Fields[report.FieldEquipmentNumber] != "K-202" {
		t.Errorf("want newest first, got %+v", recs)
	}
}

func TestCreate_DuplicateSessionIsStorageError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, submission(t, "s-1", "25.10.2025", "K-101")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := s.Create(ctx, submission(t, "s-1", "25.10.2025", "K-101"))
	if !IsStorageError(err) {
		t.Fatalf("err = %v, want StorageError", err)
	}
}

func TestCreate_ClosedDatabase(t *testing.T) {
	s := testStore(t)
	sqlDB, err := s.db.DB()
	if err != nil {
		t.Fatalf("DB: %v", err)
	}
	sqlDB.Close()

	if _, err := s.Create(context.Background(), submission(t, "s-1", "25.10.2025", "K-101")); !IsStorageError(err) {
		t.Fatalf("err = %v, want StorageError", err)
	}
}

func TestListRecent_FiltersByIdentityAndRange(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i, date := range []string{"20.10.2025", "23.10.2025", "25.10.2025"} {
		if _, err := s.Create(ctx, submission(t, "s-"+date, date, "K-10"+string(rune('1'+i)))); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	other := submission(t, "s-other", "25.10.2025", "K-900")
	other.Identity = messenger.Identity{Platform: "slack", UserID: "U1", ChatID: "D1"}
	if _, err := s.Create(ctx, other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	recs, err := s.ListRecent(ctx, worker, time.Date(2025, 10, 23, 0, 0, 0, 0, time.UTC), time.Date(2025, 10, 25, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Platform != "discord" {
			t.Errorf("foreign record leaked: %+v", r)
		}
	}

	all, err := s.Reports(ctx, ReportFilter{Limit: 10})
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("all = %d, want 4", len(all))
	}
	slack, err := s.Reports(ctx, ReportFilter{Platform: "slack"})
	if err != nil || len(slack) != 1 || slack[0].UserID != "U1" {
		t.Errorf("slack = %+v, err %v", slack, err)
	}
}

func TestRecordSession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	closed := time.Date(2025, 10, 26, 10, 0, 0, 0, time.UTC)

	err := s.RecordSession(ctx, intake.Summary{
		SessionID:   "s-1",
		Identity:    worker,
		Outcome:     intake.OutcomeConfirmed,
		Turns:       2,
		Transcripts: []string{"a", "b"},
		ReportID:    7,
		CreatedAt:   closed.Add(-5 * time.Minute),
		ClosedAt:    closed,
	})
	if err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	if err := s.RecordSession(ctx, intake.Summary{SessionID: "s-2", Identity: worker, Outcome: intake.OutcomeExpired, ClosedAt: closed.Add(time.Hour)}); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}

	rows, err := s.Sessions(ctx, worker, 0)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Outcome != intake.OutcomeExpired || rows[0].ReportID != nil || string(rows[0].Transcripts) != "[]" {
		t.Errorf("newest row = %+v", rows[0])
	}
	if rows[1].ReportID == nil || *rows[1].ReportID != 7 || rows[1].Turns != 2 {
		t.Errorf("confirmed row = %+v", rows[1])
	}
}

func TestEmployeesWithoutReport_SkipsFiledAndInactive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, submission(t, "s-1", "26.10.2025", "K-101")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	lazy := submission(t, "s-2", "20.10.2025", "K-102")
	lazy.Identity = messenger.Identity{Platform: "slack", UserID: "U2", ChatID: "D2"}
	if _, err := s.Create(ctx, lazy); err != nil {
		t.Fatalf("Create: %v", err)
	}
	gone := submission(t, "s-3", "20.10.2025", "K-103")
	gone.Identity = messenger.Identity{Platform: "slack", UserID: "U3", ChatID: "D3"}
	if _, err := s.Create(ctx, gone); err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.db.Table("employees").Where("user_id = ?", "U3").Update("active", false)

	emps, err := s.EmployeesWithoutReport(ctx, time.Date(2025, 10, 26, 18, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("EmployeesWithoutReport: %v", err)
	}
	if len(emps) != 1 || emps[0].UserID != "U2" {
		t.Errorf("employees = %+v, want only U2", emps)
	}
}
