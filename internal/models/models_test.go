package models

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestEmployee_Fields(t *testing.T) {
	typ := reflect.TypeOf(Employee{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "Platform", "uniqueIndex:idx_employee_account")
	assertGormTag(t, typ, "UserID", "uniqueIndex:idx_employee_account")
	assertGormTag(t, typ, "UserID", "not null")
	assertGormTag(t, typ, "Active", "default:true")
	assertGormTag(t, typ, "Reports", "foreignKey:EmployeeID")

	assertFieldType(t, typ, "ID", "uint")
	assertFieldType(t, typ, "Reports", "[]models.Report")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
}

func TestReport_Fields(t *testing.T) {
	typ := reflect.TypeOf(Report{})

	assertGormTag(t, typ, "EmployeeID", "not null")
	assertGormTag(t, typ, "EmployeeID", "index")
	assertGormTag(t, typ, "SessionID", "uniqueIndex")
	assertGormTag(t, typ, "ReportDate", "type:date")
	assertGormTag(t, typ, "ReportDate", "index")
	assertGormTag(t, typ, "Transcript", "type:text")
	assertGormTag(t, typ, "Status", "default:confirmed")
	assertGormTag(t, typ, "Employee", "foreignKey:EmployeeID")

	assertFieldType(t, typ, "Fields", "datatypes.JSON")
	assertFieldType(t, typ, "ReportDate", "time.Time")
	assertFieldType(t, typ, "ConfirmedAt", "time.Time")
}

func TestIntakeSession_Fields(t *testing.T) {
	typ := reflect.TypeOf(IntakeSession{})

	assertGormTag(t, typ, "SessionID", "uniqueIndex")
	assertGormTag(t, typ, "Platform", "index:idx_session_account")
	assertGormTag(t, typ, "UserID", "index:idx_session_account")
	assertGormTag(t, typ, "Outcome", "not null")

	assertFieldType(t, typ, "ReportID", "*uint")
	assertFieldType(t, typ, "Transcripts", "datatypes.JSON")
	assertFieldType(t, typ, "ClosedAt", "time.Time")
}

func TestReport_ZeroValues(t *testing.T) {
	var r Report
	if r.ID != 0 || r.EmployeeID != 0 || len(r.Fields) != 0 {
		t.Errorf("zero Report = %+v", r)
	}
	if !r.ConfirmedAt.Equal(time.Time{}) {
		t.Error("ConfirmedAt should be zero")
	}
	if !strings.Contains(gormTag(t, reflect.TypeOf(r), "Fields"), "not null") {
		t.Error("Fields must be not null")
	}
}
