package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cooldog631-ai/aim-bot/internal/metrics"
	"github.com/cooldog631-ai/aim-bot/internal/models"
	"github.com/cooldog631-ai/aim-bot/internal/report"
	"github.com/cooldog631-ai/aim-bot/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	records   []report.Record
	employees []models.Employee
	err       error
	filter    store.ReportFilter
	day       time.Time
}

func (f *fakeStore) Reports(ctx context.Context, filter store.ReportFilter) ([]report.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	return f.records, f.err
}

func (f *fakeStore) EmployeesWithoutReport(ctx context.Context, on time.Time) ([]models.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.day = on
	return f.employees, f.err
}

func newTestRouter(t *testing.T, fs *fakeStore) *gin.Engine {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.New(reg).ReportSaved("discord")
	router, err := NewRouter(StartOpts{Store: fs, Gatherer: reg})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestNewRouter_NilStore(t *testing.T) {
	_, err := NewRouter(StartOpts{})
	if err == nil || !strings.Contains(err.Error(), "store is required") {
		t.Errorf("err = %v", err)
	}
}

func TestStart_NilStore(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestHealthz(t *testing.T) {
	w := get(newTestRouter(t, &fakeStore{}), "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body)
	}
}

func TestMetrics(t *testing.T) {
	w := get(newTestRouter(t, &fakeStore{}), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `aim_reports_saved_total{platform="discord"} 1`) {
		t.Errorf("metrics body missing counter:\n%s", w.Body)
	}
}

func TestReports_FiltersAndBody(t *testing.T) {
	fs := &fakeStore{records: []report.Record{{
		ID:         7,
		Platform:   "discord",
		UserID:     "u1",
		ReportDate: time.Date(2025, 10, 26, 0, 0, 0, 0, time.UTC),
		Fields:     report.Fields{report.FieldEquipmentNumber: "К-101"},
	}}}
	w := get(newTestRouter(t, fs), "/api/reports?platform=discord&user_id=u1&from=2025-10-01&to=2025-10-31&limit=20")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}

	want := store.ReportFilter{
		Platform: "discord",
		UserID:   "u1",
		From:     time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC),
		Limit:    20,
	}
	if fs.filter != want {
		t.Errorf("filter = %+v, want %+v", fs.filter, want)
	}

	var body struct {
		Count   int          `json:"count"`
		Reports []reportJSON `json:"reports"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Reports[0].ID != 7 || body.Reports[0].ReportDate != "2025-10-26" {
		t.Errorf("body = %+v", body)
	}
	if body.Reports[0].Fields[report.FieldEquipmentNumber] != "К-101" {
		t.Errorf("fields = %v", body.Reports[0].Fields)
	}
}

func TestReports_DefaultsAndCaps(t *testing.T) {
	fs := &fakeStore{}
	router := newTestRouter(t, fs)

	if w := get(router, "/api/reports"); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if fs.filter.Limit != 100 || !fs.filter.From.IsZero() {
		t.Errorf("default filter = %+v", fs.filter)
	}
	get(router, "/api/reports?limit=100000")
	if fs.filter.Limit != maxLimit {
		t.Errorf("limit = %d, want %d", fs.filter.Limit, maxLimit)
	}
}

func TestReports_BadRequest(t *testing.T) {
	router := newTestRouter(t, &fakeStore{})
	for _, path := range []string{
		"/api/reports?from=26.10.2025",
		"/api/reports?to=yesterday",
		"/api/reports?limit=-1",
		"/api/reminders/pending?date=2025/10/26",
	} {
		if w := get(router, path); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, w.Code)
		}
	}
}

func TestReports_StoreError(t *testing.T) {
	w := get(newTestRouter(t, &fakeStore{err: errors.New("db down")}), "/api/reports")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "db down") {
		t.Error("internal error text must not leak")
	}
}

func TestPending(t *testing.T) {
	fs := &fakeStore{employees: []models.Employee{{Platform: "slack", UserID: "U1", FullName: "Ivan"}}}
	w := get(newTestRouter(t, fs), "/api/reminders/pending?date=2025-10-27")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !fs.day.Equal(time.Date(2025, 10, 27, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("day = %v", fs.day)
	}
	if !strings.Contains(w.Body.String(), `"user_id":"U1"`) {
		t.Errorf("body = %s", w.Body)
	}
}
