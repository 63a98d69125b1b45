package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestQueue_RunsTasksAndReportsErrors(t *testing.T) {
	var (
		mu      sync.Mutex
		results = map[string]error{}
	)
	q := NewQueue(2, 8, OnTaskDone(func(task Task, err error) {
		mu.Lock()
		results[task.ID] = err
		mu.Unlock()
	}))

	boom := errors.New("boom")
	tasks := []Task{
		{ID: "ok", Run: func(context.Context) error { return nil }},
		{ID: "fails", Run: func(context.Context) error { return boom }},
		{ID: "panics", Run: func(context.Context) error { panic("kaboom") }},
	}
	for _, task := range tasks {
		if err := q.Submit(task); err != nil {
			t.Fatalf("Submit(%s): %v", task.ID, err)
		}
	}
	q.Close()

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results["ok"] != nil {
		t.Errorf("ok: %v", results["ok"])
	}
	if !errors.Is(results["fails"], boom) {
		t.Errorf("fails: %v", results["fails"])
	}
	var pe *PanicError
	if !errors.As(results["panics"], &pe) || pe.Value != "kaboom" {
		t.Errorf("panics: %v", results["panics"])
	}
}

func TestQueue_Full(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	q := NewQueue(1, 1)
	defer q.Close()
	defer close(release)

	block := Task{ID: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := q.Submit(block); err != nil {
		t.Fatal(err)
	}
	<-started // worker is busy; buffer is empty

	wait := Task{ID: "buffered", Run: func(context.Context) error { return nil }}
	if err := q.Submit(wait); err != nil {
		t.Fatalf("buffered submit: %v", err)
	}
	if err := q.Submit(wait); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(1, 1)
	q.Close()
	q.Close()
	err := q.Submit(Task{ID: "late", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}
