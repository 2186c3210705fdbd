package session

import (
	"context"
	"errors"
	"sync"

	"el-professor/server/internal/model"
)

var ErrNotFound = errors.New("session not found")

// InMemoryStore 是一个基于内存的 Session 存储实现。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.Session
}

func NewInMemoryStore() *InMemoryStore {
	// 档位只在会话内有效，重启即丢弃。
	return &InMemoryStore{data: make(map[string]model.Session)}
}

// Get 根据 SessionID 获取会话快照（副本）。
func (s *InMemoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &state, nil
}

// Save 保存或更新会话。存的是值，调用方之后的修改不会影响已保存的状态。
func (s *InMemoryStore) Save(_ context.Context, state *model.Session) error {
	if state == nil || state.SessionID == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[state.SessionID] = *state
	return nil
}

// Delete 删除会话；不存在时返回 ErrNotFound。
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[id]; !ok {
		return ErrNotFound
	}
	delete(s.data, id)
	return nil
}

// Len 返回当前活跃会话数。
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
