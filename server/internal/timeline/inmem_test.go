package timeline

import (
	"context"
	"testing"

	"el-professor/server/internal/model"
)

// appendTurn 写入一轮完整的发言、判定与回复。
func appendTurn(t *testing.T, store *InMemoryStore, sessionID, turnID string) {
	t.Helper()
	ctx := context.Background()
	for _, evt := range []model.Event{
		{EventID: "utt-" + turnID, TurnID: turnID, Type: model.EventUtterance, Text: "Me gusta el café"},
		{TurnID: turnID, Type: model.EventVerdict},
		{EventID: "resp-" + turnID, TurnID: turnID, Type: model.EventResponse},
	} {
		if _, err := store.Append(ctx, sessionID, &evt); err != nil {
			t.Fatalf("append %s: %v", evt.Type, err)
		}
	}
}

func types(events []model.Event) []model.EventType {
	out := make([]model.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// TestRetryOfSameUtteranceKeepsOneEntry 重试同一发言（相同 EventID）只记一次。
func TestRetryOfSameUtteranceKeepsOneEntry(t *testing.T) {
	store := NewInMemoryStore(0)
	ctx := context.Background()

	first, _ := store.Append(ctx, "s1", &model.Event{EventID: "utt-t1", TurnID: "t1", Type: model.EventUtterance})
	again, _ := store.Append(ctx, "s1", &model.Event{EventID: "utt-t1", TurnID: "t1", Type: model.EventUtterance})
	if first != 1 || again != 1 {
		t.Fatalf("expected the retry to reuse seq 1, got %d and %d", first, again)
	}
	events, _ := store.List(ctx, "s1", Filter{})
	if len(events) != 1 || events[0].SessionID != "s1" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestListByTurnAndType(t *testing.T) {
	store := NewInMemoryStore(0)
	ctx := context.Background()
	_, _ = store.Append(ctx, "s1", &model.Event{Type: model.EventSessionStarted})
	appendTurn(t, store, "s1", "t1")
	appendTurn(t, store, "s1", "t2")

	turn, _ := store.List(ctx, "s1", Filter{TurnID: "t2"})
	if len(turn) != 3 || turn[0].Seq != 5 || turn[0].Type != model.EventUtterance {
		t.Fatalf("unexpected turn t2 events %+v", turn)
	}

	verdicts, _ := store.List(ctx, "s1", Filter{Types: []model.EventType{model.EventVerdict}})
	if len(verdicts) != 2 || verdicts[0].TurnID != "t1" || verdicts[1].TurnID != "t2" {
		t.Fatalf("unexpected verdicts %+v", verdicts)
	}

	both, _ := store.List(ctx, "s1", Filter{TurnID: "t1", Types: []model.EventType{model.EventUtterance, model.EventResponse}})
	if got := types(both); len(got) != 2 || got[0] != model.EventUtterance || got[1] != model.EventResponse {
		t.Fatalf("unexpected filtered types %v", got)
	}

	newer, _ := store.List(ctx, "s1", Filter{AfterSeq: 4})
	if len(newer) != 3 || newer[0].TurnID != "t2" {
		t.Fatalf("expected only events after seq 4, got %+v", newer)
	}

	missing, _ := store.List(ctx, "nobody", Filter{})
	if missing == nil || len(missing) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", missing)
	}
}

// TestRetentionEvictsOldestTurn 超过保留轮数时整轮淘汰最旧的，会话级事件保留，seq 不回退。
func TestRetentionEvictsOldestTurn(t *testing.T) {
	store := NewInMemoryStore(2)
	ctx := context.Background()
	_, _ = store.Append(ctx, "s1", &model.Event{Type: model.EventSessionStarted})
	appendTurn(t, store, "s1", "t1")
	appendTurn(t, store, "s1", "t2")
	appendTurn(t, store, "s1", "t3")

	events, _ := store.List(ctx, "s1", Filter{})
	if len(events) != 7 || events[0].Type != model.EventSessionStarted {
		t.Fatalf("expected session start plus two turns, got %v", types(events))
	}
	if old, _ := store.List(ctx, "s1", Filter{TurnID: "t1"}); len(old) != 0 {
		t.Fatalf("expected turn t1 evicted, got %+v", old)
	}
	if last := events[len(events)-1]; last.Seq != 10 || last.TurnID != "t3" {
		t.Fatalf("expected seq to keep counting, got %+v", last)
	}

	// 被淘汰轮次的 EventID 不再去重
	seq, _ := store.Append(ctx, "s1", &model.Event{EventID: "utt-t1", TurnID: "t1", Type: model.EventUtterance})
	if seq != 11 {
		t.Fatalf("expected evicted event id to append fresh, got seq %d", seq)
	}
}

func TestListReturnsCopy(t *testing.T) {
	store := NewInMemoryStore(0)
	ctx := context.Background()
	appendTurn(t, store, "s1", "t1")

	events, _ := store.List(ctx, "s1", Filter{})
	events[0].Text = "mutated"

	again, _ := store.List(ctx, "s1", Filter{TurnID: "t1"})
	if again[0].Text != "Me gusta el café" {
		t.Fatalf("expected internal data unchanged, got %q", again[0].Text)
	}
}

func TestDropForgetsOnlyThatSession(t *testing.T) {
	store := NewInMemoryStore(0)
	ctx := context.Background()
	appendTurn(t, store, "s1", "t1")
	appendTurn(t, store, "s2", "t1")

	if err := store.Drop(ctx, "s1"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if events, _ := store.List(ctx, "s1", Filter{}); len(events) != 0 {
		t.Fatalf("expected no events after drop, got %d", len(events))
	}
	if seq, _ := store.Append(ctx, "s1", &model.Event{EventID: "utt-t1", TurnID: "t1", Type: model.EventUtterance}); seq != 1 {
		t.Fatalf("expected seq restart at 1, got %d", seq)
	}
	if other, _ := store.List(ctx, "s2", Filter{}); len(other) != 3 {
		t.Fatalf("expected other session untouched, got %d", len(other))
	}
}
