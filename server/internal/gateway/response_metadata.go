package gateway

import (
	"sync"
	"time"
)

// ResponseKind 区分 Realtime 回复的来源。
type ResponseKind string

const (
	// ResponseKindSpeak 控制器要求逐字念出的回复。
	ResponseKindSpeak ResponseKind = "speak"
)

// ResponseMetadata 存储单个响应的元数据
type ResponseMetadata struct {
	ResponseID string
	Kind       ResponseKind
	// SpeakID 关联等待中的 Speak 调用。
	SpeakID string
	// Spoken 收到过音频或转写
	Spoken    bool
	CreatedAt time.Time
	Metadata  map[string]string // 完整的元数据
}

// ResponseMetadataRegistry 管理所有响应的元数据
// 解决问题：response.done 与发起它的 Speak 调用可靠关联
type ResponseMetadataRegistry struct {
	mu       sync.RWMutex
	registry map[string]*ResponseMetadata // key: responseID

	// 按 SpeakID 索引
	speakIndex map[string]string // speakID -> responseID

	logger Logger
}

// Logger 日志接口
type Logger interface {
	Printf(format string, v ...any)
}

// NewResponseMetadataRegistry 创建元数据注册表
func NewResponseMetadataRegistry(logger Logger) *ResponseMetadataRegistry {
	return &ResponseMetadataRegistry{
		registry:   make(map[string]*ResponseMetadata),
		speakIndex: make(map[string]string),
		logger:     logger,
	}
}

// Register 注册响应元数据（来自 response.created 回显的 metadata）
func (r *ResponseMetadataRegistry) Register(responseID string, metadata map[string]string) *ResponseMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := &ResponseMetadata{
		ResponseID: responseID,
		Kind:       ResponseKind(metadata["kind"]),
		SpeakID:    metadata["speak_id"],
		CreatedAt:  time.Now(),
		Metadata:   metadata,
	}

	r.registry[responseID] = rm
	if rm.SpeakID != "" {
		r.speakIndex[rm.SpeakID] = responseID
	}

	if r.logger != nil {
		r.logger.Printf("[ResponseMetadataRegistry] Registered: responseID=%s kind=%s speakID=%s",
			responseID, rm.Kind, rm.SpeakID)
	}
	return rm
}

// Get 获取响应元数据
func (r *ResponseMetadataRegistry) Get(responseID string) (*ResponseMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.registry[responseID]
	return rm, ok
}

// MarkSpoken 记录该响应已经产出音频或文字
func (r *ResponseMetadataRegistry) MarkSpoken(responseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.registry[responseID]; ok {
		rm.Spoken = true
	}
}

// Spoken 报告该响应是否产出过音频或文字
func (r *ResponseMetadataRegistry) Spoken(responseID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.registry[responseID]
	return ok && rm.Spoken
}

// GetBySpeakID 获取某次 Speak 对应的响应
func (r *ResponseMetadataRegistry) GetBySpeakID(speakID string) (*ResponseMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	responseID, ok := r.speakIndex[speakID]
	if !ok {
		return nil, false
	}

	rm, ok := r.registry[responseID]
	return rm, ok
}

// Unregister 注销响应元数据
func (r *ResponseMetadataRegistry) Unregister(responseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.registry[responseID]
	if !ok {
		return
	}

	delete(r.registry, responseID)
	if rm.SpeakID != "" && r.speakIndex[rm.SpeakID] == responseID {
		delete(r.speakIndex, rm.SpeakID)
	}

	if r.logger != nil {
		r.logger.Printf("[ResponseMetadataRegistry] Unregistered: responseID=%s kind=%s", responseID, rm.Kind)
	}
}

// Clear 清空所有元数据（用于会话结束）
func (r *ResponseMetadataRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := len(r.registry)
	r.registry = make(map[string]*ResponseMetadata)
	r.speakIndex = make(map[string]string)

	if r.logger != nil {
		r.logger.Printf("[ResponseMetadataRegistry] Cleared %d metadata entries", count)
	}
}

// Count 获取当前注册的响应数量
func (r *ResponseMetadataRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.registry)
}
