package timeline

import (
	"context"
	"sync"

	"el-professor/server/internal/model"
)

// DefaultMaxTurns 每个会话默认保留的轮次数。
const DefaultMaxTurns = 200

// sessionLog 是一个会话的审计日志。没有 TurnID 的会话级事件（开始、结束）不参与裁剪。
type sessionLog struct {
	events []model.Event
	seq    int64
	ids    map[string]int64
	// turns 按首次出现顺序记录轮次，用于淘汰最旧的一轮。
	turns []string
}

func (l *sessionLog) hasTurn(turnID string) bool {
	for i := len(l.turns) - 1; i >= 0; i-- {
		if l.turns[i] == turnID {
			return true
		}
	}
	return false
}

// evictOldestTurn 删除最旧一轮的全部事件及其去重索引。
func (l *sessionLog) evictOldestTurn() {
	oldest := l.turns[0]
	l.turns = l.turns[1:]

	kept := l.events[:0]
	for _, evt := range l.events {
		if evt.TurnID == oldest {
			if evt.EventID != "" {
				delete(l.ids, evt.EventID)
			}
			continue
		}
		kept = append(kept, evt)
	}
	clear(l.events[len(kept):])
	l.events = kept
}

// InMemoryStore 按会话保存审计日志，每个会话最多保留 maxTurns 轮，会话结束即丢弃。
type InMemoryStore struct {
	mu       sync.RWMutex
	maxTurns int
	logs     map[string]*sessionLog
}

// NewInMemoryStore maxTurns <= 0 时使用 DefaultMaxTurns。
func NewInMemoryStore(maxTurns int) *InMemoryStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &InMemoryStore{
		maxTurns: maxTurns,
		logs:     make(map[string]*sessionLog),
	}
}

// Append 分配 seq 并写入；新的一轮超出保留上限时淘汰最旧的一轮。seq 不因淘汰回退。
func (s *InMemoryStore) Append(_ context.Context, sessionID string, evt *model.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[sessionID]
	if !ok {
		l = &sessionLog{ids: make(map[string]int64)}
		s.logs[sessionID] = l
	}
	if evt.EventID != "" {
		if seq, exists := l.ids[evt.EventID]; exists {
			return seq, nil
		}
	}

	if evt.TurnID != "" && !l.hasTurn(evt.TurnID) {
		l.turns = append(l.turns, evt.TurnID)
		if len(l.turns) > s.maxTurns {
			l.evictOldestTurn()
		}
	}

	l.seq++
	stored := *evt
	stored.Seq = l.seq
	stored.SessionID = sessionID
	l.events = append(l.events, stored)
	if evt.EventID != "" {
		l.ids[evt.EventID] = l.seq
	}
	return l.seq, nil
}

// List 返回副本，调用方修改不影响内部数据。
func (s *InMemoryStore) List(_ context.Context, sessionID string, filter Filter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Event{}
	l, ok := s.logs[sessionID]
	if !ok {
		return out, nil
	}
	for _, evt := range l.events {
		if filter.match(evt) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Drop(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, sessionID)
	return nil
}
