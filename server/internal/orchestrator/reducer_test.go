package orchestrator

import (
	"testing"
	"time"

	"el-professor/server/internal/model"
)

// TestReduceResponseCommitsLevelAndTurn 验证回复事件推进档位与轮次数。
// 场景：已输出的回复携带新档位，快照应记录该档位，轮次数加一并更新时间。
func TestReduceResponseCommitsLevelAndTurn(t *testing.T) {
	state := &model.Session{SessionID: "s1", CurrentLevel: model.LevelIntermediate}
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)

	evt := model.Event{Type: model.EventResponse, Payload: &model.ResponsePayload{Level: model.LevelElementary}}
	Reduce(state, evt, now)

	if state.CurrentLevel != model.LevelElementary {
		t.Fatalf("expected elementary, got %s", state.CurrentLevel)
	}
	if state.TurnCount != 1 || !state.LastTurnAt.Equal(now) {
		t.Fatalf("expected one committed turn at %v, got %+v", now, state)
	}
}

// TestReduceClampsReplayedLevel 回放时即使事件记录的档位跳了多档，也只移动一档。
func TestReduceClampsReplayedLevel(t *testing.T) {
	state := &model.Session{SessionID: "s1", CurrentLevel: model.LevelBeginner}
	evt := model.Event{Type: model.EventResponse, Payload: &model.ResponsePayload{Level: model.LevelExpert}}
	Reduce(state, evt, time.Now())

	if state.CurrentLevel != model.LevelElementary {
		t.Fatalf("expected one-tier step to elementary, got %s", state.CurrentLevel)
	}
}

// TestReduceIgnoresAuditEvents 审计事件不改变会话状态。
func TestReduceIgnoresAuditEvents(t *testing.T) {
	state := &model.Session{SessionID: "s1", CurrentLevel: model.LevelAdvanced}
	for _, typ := range []model.EventType{model.EventUtterance, model.EventVerdict, model.EventRecovered, model.EventTurnAbandoned} {
		Reduce(state, model.Event{Type: typ, Text: "hola"}, time.Now())
	}
	Reduce(state, model.Event{Type: model.EventResponse}, time.Now())

	if state.CurrentLevel != model.LevelAdvanced || state.TurnCount != 0 {
		t.Fatalf("audit events must not change state: %+v", state)
	}
	if Reduce(nil, model.Event{Type: model.EventResponse}, time.Now()) != nil {
		t.Fatalf("expected nil for nil state")
	}
}
