package session

import (
	"context"

	"el-professor/server/internal/model"
)

// Store 保存每个通道独立的会话状态。会话之间从不共享状态。
type Store interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Save(ctx context.Context, s *model.Session) error
	// Delete 结束会话并丢弃其状态（不持久化）。
	Delete(ctx context.Context, id string) error
}
