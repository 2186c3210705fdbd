package orchestrator

import (
	"time"

	"el-professor/server/internal/model"
)

// Reduce 只做“事实归约”，不触发外部调用。
// 只有已输出的回复会推进档位与轮次数；其余事件只用于审计。
func Reduce(state *model.Session, evt model.Event, now time.Time) *model.Session {
	if state == nil {
		return nil
	}

	switch evt.Type {
	case model.EventResponse:
		if evt.Payload == nil {
			return state
		}
		// 档位每轮最多移动一档，回放时同样截断。
		state.CurrentLevel = state.CurrentLevel.Step(evt.Payload.Level)
		state.TurnCount++
		state.LastTurnAt = now
	}

	return state
}
