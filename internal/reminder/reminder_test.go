package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cooldog631-ai/aim-bot/internal/messenger"
	"github.com/cooldog631-ai/aim-bot/internal/models"
)

type fakeLister struct {
	mu        sync.Mutex
	employees []models.Employee
	err       error
	days      []time.Time
}

func (f *fakeLister) EmployeesWithoutReport(ctx context.Context, on time.Time) ([]models.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days = append(f.days, on)
	return f.employees, f.err
}

func (f *fakeLister) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.days)
}

var monday = time.Date(2025, 10, 27, 17, 59, 0, 0, time.UTC)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Opts
		want string
	}{
		{"no lister", Opts{Schedule: "0 18 * * *", Text: "x"}, "lister is required"},
		{"no text", Opts{Schedule: "0 18 * * *", Lister: &fakeLister{}}, "text is required"},
		{"bad schedule", Opts{Schedule: "not a cron expr", Text: "x", Lister: &fakeLister{}}, "parse schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestNext_WeekdaysAtSix(t *testing.T) {
	r, err := New(Opts{Schedule: "0 18 * * 1-5", Text: "x", Lister: &fakeLister{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.Next(monday); !got.Equal(time.Date(2025, 10, 27, 18, 0, 0, 0, time.UTC)) {
		t.Errorf("Next(Mon 17:59) = %v", got)
	}
	friday := time.Date(2025, 10, 31, 18, 30, 0, 0, time.UTC)
	if got := r.Next(friday); got.Weekday() != time.Monday {
		t.Errorf("Next(Fri 18:30) = %v, want Monday", got)
	}
}

func TestSend_DeliversPerPlatform(t *testing.T) {
	discord := messenger.NewMockPort("discord")
	slack := messenger.NewMockPort("slack")
	lister := &fakeLister{employees: []models.Employee{
		{Platform: "discord", UserID: "u1", ChatID: "dm-1"},
		{Platform: "slack", UserID: "U2", ChatID: "D2"},
		{Platform: "telegram", UserID: "t3", ChatID: "c3"},
	}}
	r, err := New(Opts{
		Schedule: "0 18 * * *",
		Text:     "Отправьте отчет",
		Lister:   lister,
		Ports:    []messenger.Port{discord, slack},
		Now:      func() time.Time { return monday },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sent, err := r.Send(context.Background())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
	if m, ok := discord.LastSent(); !ok || m.ChatID != "dm-1" || m.Text != "Отправьте отчет" {
		t.Errorf("discord last = %+v", m)
	}
	if slack.SentCount() != 1 {
		t.Errorf("slack sent = %d", slack.SentCount())
	}
	if !lister.days[0].Equal(monday) {
		t.Errorf("queried day = %v", lister.days[0])
	}
}

func TestSend_DeliveryFailureContinues(t *testing.T) {
	discord := messenger.NewMockPort("discord")
	discord.FailSends(errors.New("forbidden"))
	slack := messenger.NewMockPort("slack")
	r, _ := New(Opts{
		Schedule: "0 18 * * *",
		Text:     "x",
		Lister: &fakeLister{employees: []models.Employee{
			{Platform: "discord", ChatID: "a"},
			{Platform: "slack", ChatID: "b"},
		}},
		Ports: []messenger.Port{discord, slack},
	})

	sent, err := r.Send(context.Background())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent != 1 || slack.SentCount() != 1 {
		t.Errorf("sent = %d, slack = %d", sent, slack.SentCount())
	}
}

func TestSend_ListError(t *testing.T) {
	r, _ := New(Opts{Schedule: "0 18 * * *", Text: "x", Lister: &fakeLister{err: errors.New("db down")}})
	if _, err := r.Send(context.Background()); err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("err = %v", err)
	}
}

func TestRun_FiresOnSchedule(t *testing.T) {
	lister := &fakeLister{}
	// Pin the clock to the last second before a minute boundary.
	now := time.Now().Truncate(time.Minute).Add(59*time.Second + 900*time.Millisecond)
	r, _ := New(Opts{
		Schedule: "* * * * *",
		Text:     "x",
		Lister:   lister,
		Now:      func() time.Time { return now },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for lister.calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("reminder did not fire")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
