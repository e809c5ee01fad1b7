package alertqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sentrastack/sentra-triage/internal/llm"
	"github.com/sentrastack/sentra-triage/internal/models"
	"github.com/sentrastack/sentra-triage/internal/store"
)

type fakeRunner struct {
	resp       models.AnalystResponse
	err        error
	calls      int
	priorities []llm.Priority
}

func (f *fakeRunner) Run(_ context.Context, _ string, _ []models.ChatTurn, priority llm.Priority) (models.AnalystResponse, error) {
	f.calls++
	f.priorities = append(f.priorities, priority)
	return f.resp, f.err
}

func testManager(t *testing.T, capacity int) (*Manager, *store.MemoryStore, *fakeRunner) {
	t.Helper()
	st := store.NewMemoryStore()
	runner := &fakeRunner{resp: models.AnalystResponse{Answer: "benign", TrustScore: 0.7}}
	m := NewManager(st, runner, capacity, nil)

	// Deterministic, strictly increasing clock so creation order is stable.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return m, st, runner
}

func enqueueReq(alertID string, level int) models.EnqueueRequest {
	return models.EnqueueRequest{
		AlertID:         alertID,
		RuleID:          "5710",
		RuleDescription: "sshd: attempt to login using a non-existent user",
		RuleLevel:       level,
		AgentID:         "001",
		AgentName:       "web-01",
		AlertTimestamp:  time.Date(2025, 6, 1, 11, 59, 0, 0, time.UTC),
	}
}

func TestEnqueueAdmitsBelowCapacity(t *testing.T) {
	m, _, _ := testManager(t, 10)

	res, err := m.Enqueue(context.Background(), enqueueReq("a-1", 7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.ItemID == "" {
		t.Fatalf("expected admission, got %+v", res)
	}

	items, _ := m.List(context.Background(), nil)
	if len(items) != 1 || items[0].Status != models.QueueStatusQueued {
		t.Fatalf("expected one queued item, got %+v", items)
	}
	if items[0].QueuedBy != "analyst" {
		t.Fatalf("empty queued_by defaults to analyst, got %q", items[0].QueuedBy)
	}
}

func TestEnqueueRejectsDuplicateActiveAlert(t *testing.T) {
	m, _, _ := testManager(t, 10)
	ctx := context.Background()

	if _, err := m.Enqueue(ctx, enqueueReq("a-1", 7)); err != nil {
		t.Fatalf("seed enqueue failed: %v", err)
	}
	res, err := m.Enqueue(ctx, enqueueReq("a-1", 12))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("duplicate active alert must be rejected")
	}
	if !strings.Contains(res.Message, "already in the queue") {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestEnqueueDuplicateAllowedAfterCompletion(t *testing.T) {
	m, _, _ := testManager(t, 10)
	ctx := context.Background()

	first, _ := m.Enqueue(ctx, enqueueReq("a-1", 7))
	if _, err := m.Process(ctx, first.ItemID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	res, err := m.Enqueue(ctx, enqueueReq("a-1", 7))
	if err != nil || !res.Success {
		t.Fatalf("completed items must not block re-enqueue: res=%+v err=%v", res, err)
	}
}

func TestEnqueueEvictsLowestSeverityOldestQueued(t *testing.T) {
	m, _, _ := testManager(t, 3)
	ctx := context.Background()

	// Two level-5 items (the first is the eviction target) and one level-10.
	lowOld, _ := m.Enqueue(ctx, enqueueReq("a-1", 5))
	lowNew, _ := m.Enqueue(ctx, enqueueReq("a-2", 5))
	high, _ := m.Enqueue(ctx, enqueueReq("a-3", 10))

	res, err := m.Enqueue(ctx, enqueueReq("a-4", 9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected eviction admission, got %+v", res)
	}

	oldItem, err := m.store.GetItem(ctx, lowOld.ItemID)
	if err != nil {
		t.Fatalf("victim lookup failed: %v", err)
	}
	if oldItem.Status != models.QueueStatusDismissed {
		t.Fatalf("oldest lowest-severity item should be evicted, got %s", oldItem.Status)
	}
	for _, id := range []string{lowNew.ItemID, high.ItemID} {
		item, _ := m.store.GetItem(ctx, id)
		if item.Status != models.QueueStatusQueued {
			t.Fatalf("item %s should survive eviction, got %s", id, item.Status)
		}
	}
}

func TestEnqueueRejectsLowerSeverityWhenFull(t *testing.T) {
	m, _, _ := testManager(t, 2)
	ctx := context.Background()

	m.Enqueue(ctx, enqueueReq("a-1", 8))
	m.Enqueue(ctx, enqueueReq("a-2", 9))

	res, err := m.Enqueue(ctx, enqueueReq("a-3", 5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("lower-severity alert must not displace queued work")
	}

	items, _ := m.List(ctx, []models.QueueStatus{models.QueueStatusQueued})
	if len(items) != 2 {
		t.Fatalf("queue contents must be unchanged, got %d items", len(items))
	}
}

func TestEnqueueEqualSeverityEvicts(t *testing.T) {
	m, _, _ := testManager(t, 1)
	ctx := context.Background()

	m.Enqueue(ctx, enqueueReq("a-1", 7))
	res, err := m.Enqueue(ctx, enqueueReq("a-2", 7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("equal severity should evict, got %+v", res)
	}
}

func TestEnqueueRejectsWhenAllProcessing(t *testing.T) {
	m, st, _ := testManager(t, 1)
	ctx := context.Background()

	seed, _ := m.Enqueue(ctx, enqueueReq("a-1", 3))
	item, _ := st.GetItem(ctx, seed.ItemID)
	item.Status = models.QueueStatusProcessing
	if err := st.UpdateItem(ctx, item); err != nil {
		t.Fatalf("seed update failed: %v", err)
	}

	res, err := m.Enqueue(ctx, enqueueReq("a-2", 15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("in-flight items must never be evicted")
	}
}

func TestProcessCompletesQueuedItem(t *testing.T) {
	m, st, runner := testManager(t, 10)
	ctx := context.Background()

	res, _ := m.Enqueue(ctx, enqueueReq("a-1", 13))
	item, err := m.Process(ctx, res.ItemID)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if item.Status != models.QueueStatusCompleted {
		t.Fatalf("expected completed, got %s", item.Status)
	}
	if item.TriageResult == "" || !strings.Contains(item.TriageResult, "benign") {
		t.Fatalf("triage result should carry the answer: %q", item.TriageResult)
	}
	if runner.calls != 1 {
		t.Fatalf("expected exactly one run, got %d", runner.calls)
	}
	if runner.priorities[0] != llm.PriorityCritical {
		t.Fatalf("level 13 should run at critical priority, got %v", runner.priorities[0])
	}

	stored, _ := st.GetItem(ctx, res.ItemID)
	if stored.Status != models.QueueStatusCompleted {
		t.Fatalf("completion must be persisted, got %s", stored.Status)
	}
}

func TestProcessRejectsNonQueuedItem(t *testing.T) {
	m, _, runner := testManager(t, 10)
	ctx := context.Background()

	res, _ := m.Enqueue(ctx, enqueueReq("a-1", 7))
	if _, err := m.Process(ctx, res.ItemID); err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	if _, err := m.Process(ctx, res.ItemID); err == nil {
		t.Fatalf("completed item must not be processed again")
	}
	if runner.calls != 1 {
		t.Fatalf("no second run may happen, got %d", runner.calls)
	}
}

func TestProcessFailureMarksFailedWithPayload(t *testing.T) {
	m, st, runner := testManager(t, 10)
	runner.err = errors.New("model backend unavailable")
	ctx := context.Background()

	res, _ := m.Enqueue(ctx, enqueueReq("a-1", 7))
	if _, err := m.Process(ctx, res.ItemID); err == nil {
		t.Fatalf("failed run must surface its error")
	}

	item, _ := st.GetItem(ctx, res.ItemID)
	if item.Status != models.QueueStatusFailed {
		t.Fatalf("expected failed, got %s", item.Status)
	}
	if !strings.Contains(item.TriageResult, "model backend unavailable") {
		t.Fatalf("failure payload should carry the error: %q", item.TriageResult)
	}
}

func TestRemoveDismissesAnyState(t *testing.T) {
	m, st, _ := testManager(t, 10)
	ctx := context.Background()

	res, _ := m.Enqueue(ctx, enqueueReq("a-1", 7))
	if _, err := m.Process(ctx, res.ItemID); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if err := m.Remove(ctx, res.ItemID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	item, _ := st.GetItem(ctx, res.ItemID)
	if item.Status != models.QueueStatusDismissed {
		t.Fatalf("expected dismissed, got %s", item.Status)
	}
}

func TestClearHistoryKeepsActiveItems(t *testing.T) {
	m, _, _ := testManager(t, 10)
	ctx := context.Background()

	done, _ := m.Enqueue(ctx, enqueueReq("a-1", 7))
	m.Process(ctx, done.ItemID)
	m.Enqueue(ctx, enqueueReq("a-2", 7))

	removed, err := m.ClearHistory(ctx)
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed item, got %d", removed)
	}

	items, _ := m.List(ctx, nil)
	if len(items) != 1 || items[0].AlertID != "a-2" {
		t.Fatalf("queued item must survive history clearing: %+v", items)
	}
}

func TestPriorityForLevel(t *testing.T) {
	cases := []struct {
		level int
		want  llm.Priority
	}{
		{3, llm.PriorityNormal},
		{6, llm.PriorityNormal},
		{7, llm.PriorityHigh},
		{11, llm.PriorityHigh},
		{12, llm.PriorityCritical},
		{15, llm.PriorityCritical},
	}
	for _, tc := range cases {
		if got := priorityForLevel(tc.level); got != tc.want {
			t.Errorf("level %d: got %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestEvictionCandidatePrefersOldestAtLowestSeverity(t *testing.T) {
	now := time.Now()
	active := []models.AlertQueueItem{
		{ID: "1", RuleLevel: 5, Status: models.QueueStatusQueued, CreatedAt: now},
		{ID: "2", RuleLevel: 3, Status: models.QueueStatusProcessing, CreatedAt: now.Add(time.Second)},
		{ID: "3", RuleLevel: 5, Status: models.QueueStatusQueued, CreatedAt: now.Add(2 * time.Second)},
		{ID: "4", RuleLevel: 8, Status: models.QueueStatusQueued, CreatedAt: now.Add(3 * time.Second)},
	}

	victim, ok := evictionCandidate(active)
	if !ok {
		t.Fatalf("expected a candidate")
	}
	if victim.ID != "1" {
		t.Fatalf("processing items are exempt and ties go to the oldest; got %s", victim.ID)
	}
}

func TestQueueOrderIsCreationAscending(t *testing.T) {
	m, _, _ := testManager(t, 10)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		m.Enqueue(ctx, enqueueReq(fmt.Sprintf("a-%d", i), 5+i))
	}

	items, _ := m.List(ctx, nil)
	for i := 1; i < len(items); i++ {
		if items[i].CreatedAt.Before(items[i-1].CreatedAt) {
			t.Fatalf("items out of creation order at %d", i)
		}
	}
}
