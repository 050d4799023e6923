package bus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestEventLogger_LogAndRead(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "events.jsonl")

	el, err := NewEventLogger(logPath)
	if err != nil {
		t.Fatalf("NewEventLogger() error = %v", err)
	}

	for i, run := range []string{"r1", "r2", "r1", "r1"} {
		event := Event{ID: string(rune('a' + i)), Type: "progress.completed", RunID: run}
		if err := el.Log(TopicProgress, event); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}
	if err := el.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	all, err := ReadEvents(logPath, "", 0)
	if err != nil {
		t.Fatalf("ReadEvents() error = %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ReadEvents() returned %d events, want 4", len(all))
	}

	r1, _ := ReadEvents(logPath, "r1", 0)
	if len(r1) != 3 || r1[0].Event.ID != "a" || r1[2].Event.ID != "d" {
		t.Errorf("ReadEvents(r1) = %+v", r1)
	}

	limited, _ := ReadEvents(logPath, "r1", 2)
	if len(limited) != 2 {
		t.Errorf("ReadEvents(limit 2) returned %d events", len(limited))
	}
}

func TestEventLogger_Append(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")

	for i := 0; i < 2; i++ {
		el, err := NewEventLogger(logPath)
		if err != nil {
			t.Fatalf("NewEventLogger() error = %v", err)
		}
		el.Log("t", Event{ID: "x"})
		el.Close()
	}

	events, _ := ReadEvents(logPath, "", 0)
	if len(events) != 2 {
		t.Errorf("reopened log has %d events, want 2", len(events))
	}
}

func TestEventLogger_Closed(t *testing.T) {
	el, err := NewEventLogger(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("NewEventLogger() error = %v", err)
	}
	el.Close()

	if err := el.Log("t", Event{ID: "x"}); err == nil {
		t.Error("Log() after Close() should return error")
	}
	if err := el.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestReadEvents_MissingAndMalformed(t *testing.T) {
	dir := t.TempDir()

	events, err := ReadEvents(filepath.Join(dir, "missing.jsonl"), "", 0)
	if err != nil || len(events) != 0 {
		t.Errorf("ReadEvents(missing) = %v, %v", events, err)
	}

	path := filepath.Join(dir, "mixed.jsonl")
	os.WriteFile(path, []byte("garbage\n{\"event\":{\"id\":\"ok\"},\"topic\":\"t\"}\n"), 0o644)
	events, _ = ReadEvents(path, "", 0)
	if len(events) != 1 || events[0].Event.ID != "ok" {
		t.Errorf("ReadEvents(mixed) = %+v", events)
	}
}

func TestReplay(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	el, _ := NewEventLogger(logPath)
	el.Log(TopicProgress, Event{ID: "1", RunID: "r"})
	el.Log(TopicRunCompleted, Event{ID: "2", RunID: "r"})
	el.Log(TopicProgress, Event{ID: "3", RunID: "other"})
	el.Close()

	bus := NewMemoryBus(nil)
	var mu sync.Mutex
	var seen []string
	var wg sync.WaitGroup
	record := func(_ context.Context, e Event) error {
		mu.Lock()
		seen = append(seen, e.ID)
		mu.Unlock()
		wg.Done()
		return nil
	}
	bus.Subscribe(context.Background(), TopicProgress, record)
	bus.Subscribe(context.Background(), TopicRunCompleted, record)

	wg.Add(2)
	n, err := Replay(context.Background(), logPath, "r", bus)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	waitFor(t, &wg)
	bus.Close()

	if n != 2 || len(seen) != 2 {
		t.Errorf("Replay() = %d, handlers saw %v", n, seen)
	}
}

func TestLoggedBus(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	el, err := NewEventLogger(logPath)
	if err != nil {
		t.Fatalf("NewEventLogger() error = %v", err)
	}

	b := NewLoggedBus(NewMemoryBus(nil), el, nil)
	if err := b.Publish(context.Background(), TopicProgress, Event{ID: "1", RunID: "r"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	events, _ := ReadEvents(logPath, "r", 0)
	if len(events) != 1 || events[0].Topic != TopicProgress {
		t.Errorf("logged events = %+v", events)
	}
}
