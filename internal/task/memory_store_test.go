package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	tasks := []*Task{
		{ID: "t1", Goal: "research golang", Status: StatusPending, MaxRetries: 3},
		{ID: "t2", Goal: "post a tweet", Status: StatusFailed, MaxRetries: 3},
		{ID: "t3", Goal: "weather report", Status: StatusSucceeded, MaxRetries: 3},
	}

	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t3", ExecutionResult{Outcome: "finished", Summary: "sunny", Cycles: 2}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	if all[0].ID != "t3" {
		t.Fatalf("expected newest task first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "t2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	succeeded, err := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(succeeded) != 1 || succeeded[0].ID != "t3" {
		t.Fatalf("unexpected result list: %+v", succeeded)
	}

	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(base.Add(20 * time.Second))}))
	if err != nil {
		t.Fatalf("list updated since: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent tasks, got %d", len(recent))
	}

	queried, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("tweet")}))
	if err != nil {
		t.Fatalf("list with query: %v", err)
	}
	if len(queried) != 1 || queried[0].ID != "t2" {
		t.Fatalf("unexpected query result: %+v", queried)
	}

	asc, err := store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc)}))
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if asc[0].ID != "t1" {
		t.Fatalf("expected oldest task first, got %s", asc[0].ID)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := &Task{ID: "r1", Goal: "demo", Status: StatusPending, MaxRetries: 2}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := store.Claim(ctx, "r1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed task: %+v", claimed)
	}

	// 运行中的任务不可重复领取。
	if _, err := store.Claim(ctx, "r1"); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if err := store.MarkFailed(ctx, "r1", CodeTaskProcessing, "transient", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); err != nil {
		t.Fatalf("reclaim after failure: %v", err)
	}
	if err := store.MarkFailed(ctx, "r1", CodeTaskProcessing, "transient", false); err != nil {
		t.Fatalf("mark failed again: %v", err)
	}

	// 重试耗尽。
	if _, err := store.Claim(ctx, "r1"); !errors.Is(err, ErrTaskExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "r1", ExecutionResult{Outcome: "finished"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); !errors.Is(err, ErrTaskCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, task := range []*Task{
		{ID: "s1", Goal: "a", Status: StatusPending, MaxRetries: 3},
		{ID: "s2", Goal: "b", Status: StatusPending, MaxRetries: 3},
		{ID: "s3", Goal: "c", Status: StatusPending, MaxRetries: 3},
	} {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := store.MarkSucceeded(ctx, "s2", ExecutionResult{Outcome: "finished", Cycles: 1}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if err := store.MarkFailed(ctx, "s3", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Succeeded != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
