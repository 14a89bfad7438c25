package messenger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func seqEvent(user string, n int) Event {
	return Event{
		ID:       fmt.Sprintf("%s-%d", user, n),
		Identity: Identity{Platform: "mock", UserID: user, ChatID: "c1"},
		Text:     fmt.Sprint(n),
	}
}

func TestSequencer_PreservesOrderPerIdentity(t *testing.T) {
	var mu sync.Mutex
	got := make(map[string][]string)
	seq := NewSequencer(func(_ context.Context, ev Event) {
		// Early events are slow so later ones would overtake them if
		// handed to free goroutines.
		if ev.Text == "0" {
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		got[ev.Identity.UserID] = append(got[ev.Identity.UserID], ev.ID)
		mu.Unlock()
	})

	const n = 50
	for i := 0; i < n; i++ {
		seq.Submit(context.Background(), seqEvent("u1", i))
		seq.Submit(context.Background(), seqEvent("u2", i))
	}
	seq.Wait()

	for _, user := range []string{"u1", "u2"} {
		ids := got[user]
		if len(ids) != n {
			t.Fatalf("%s: processed %d events, want %d", user, len(ids), n)
		}
		for i, id := range ids {
			if want := fmt.Sprintf("%s-%d", user, i); id != want {
				t.Fatalf("%s: event %d = %s, want %s", user, i, id, want)
			}
		}
	}
}

func TestSequencer_OneAtATimePerIdentity(t *testing.T) {
	var mu sync.Mutex
	running := make(map[string]int)
	overlap := false
	seq := NewSequencer(func(_ context.Context, ev Event) {
		key := ev.Identity.Key()
		mu.Lock()
		running[key]++
		if running[key] > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		running[key]--
		mu.Unlock()
	})
	for i := 0; i < 20; i++ {
		seq.Submit(context.Background(), seqEvent("u1", i))
	}
	seq.Wait()
	if overlap {
		t.Error("two events for one identity ran at the same time")
	}
}

func TestSequencer_IdentitiesRunInParallel(t *testing.T) {
	release := make(chan struct{})
	done := make(chan string, 1)
	seq := NewSequencer(func(_ context.Context, ev Event) {
		if ev.Identity.UserID == "u1" {
			<-release
			return
		}
		done <- ev.Identity.UserID
	})

	seq.Submit(context.Background(), seqEvent("u1", 0))
	seq.Submit(context.Background(), seqEvent("u2", 0))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("u2 was blocked behind u1")
	}
	close(release)
	seq.Wait()
}
