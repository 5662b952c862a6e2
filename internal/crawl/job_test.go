package crawl

import (
	"context"
	"testing"
)

func TestJobService_CreateStartComplete(t *testing.T) {
	svc := NewJobService(nil)
	id, _, _ := svc.Create(context.Background(), 5)

	j, ok := svc.Get(id)
	if !ok || j.Status != JobPending {
		t.Fatalf("expected new job to be PENDING, got %+v ok=%v", j, ok)
	}

	svc.Start(id)
	svc.RecordSuccess(id)
	svc.RecordSuccess(id)
	svc.RecordFailure(id)
	svc.Complete(id, nil)

	j, _ = svc.Get(id)
	if j.Status != JobCompleted {
		t.Fatalf("expected COMPLETED, got %s", j.Status)
	}
	if j.Progress.CompletedURLs != 2 || j.Progress.FailedURLs != 1 {
		t.Fatalf("unexpected progress: %+v", j.Progress)
	}
}

func TestJobService_CompleteWithErrorMarksFailed(t *testing.T) {
	svc := NewJobService(nil)
	id, _, _ := svc.Create(context.Background(), 1)
	svc.Start(id)
	svc.Complete(id, errAllTasksFailed)

	j, _ := svc.Get(id)
	if j.Status != JobFailed || j.Error == "" {
		t.Fatalf("expected FAILED with an error message, got %+v", j)
	}
}

func TestJobService_CancelStopsContext(t *testing.T) {
	svc := NewJobService(nil)
	id, ctx, _ := svc.Create(context.Background(), 1)
	svc.Start(id)

	if err := svc.Cancel(id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	j, _ := svc.Get(id)
	if j.Status != JobCancelled {
		t.Fatalf("expected CANCELLED, got %s", j.Status)
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected job context to be cancelled")
	}

	// Complete must not override a cancellation.
	svc.Complete(id, nil)
	j, _ = svc.Get(id)
	if j.Status != JobCancelled {
		t.Fatalf("expected CANCELLED to stick, got %s", j.Status)
	}
}

func TestJobService_CancelTerminalJobFails(t *testing.T) {
	svc := NewJobService(nil)
	id, _, _ := svc.Create(context.Background(), 1)
	svc.Complete(id, nil)

	if err := svc.Cancel(id); err == nil {
		t.Fatal("expected Cancel on a completed job to return an error")
	}
}

func TestJobService_CancelUnknownJob(t *testing.T) {
	svc := NewJobService(nil)
	if err := svc.Cancel("does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown job id")
	}
}

func TestJobService_ListOrdersNewestFirst(t *testing.T) {
	svc := NewJobService(nil)
	first, _, _ := svc.Create(context.Background(), 1)
	second, _, _ := svc.Create(context.Background(), 1)

	list := svc.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(list))
	}
	if list[0].ID != second || list[1].ID != first {
		t.Fatalf("expected newest-first ordering, got %v", list)
	}
}
