package timeline

import (
	"context"

	"el-professor/server/internal/model"
)

// Filter 选出时间线的一部分；零值表示全部。
type Filter struct {
	// TurnID 只看某一轮的发言、判定与回复。
	TurnID string
	// Types 只看这些事件类型。
	Types []model.EventType
	// AfterSeq 只返回 seq 更大的事件，供前端增量拉取。
	AfterSeq int64
}

func (f Filter) match(evt model.Event) bool {
	if evt.Seq <= f.AfterSeq {
		return false
	}
	if f.TurnID != "" && evt.TurnID != f.TurnID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if evt.Type == t {
			return true
		}
	}
	return false
}

type Store interface {
	// Append 写入一条审计事件，返回本次写入的 seq。
	// 同一 session 的 seq 单调递增；相同 EventID 幂等返回同一 seq。
	Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error)
	// List 按 seq 顺序返回符合 filter 的事件。
	List(ctx context.Context, sessionID string, filter Filter) ([]model.Event, error)
	// Drop 在会话结束时丢弃该 session 的全部事件（不做跨会话持久化）。
	Drop(ctx context.Context, sessionID string) error
}
