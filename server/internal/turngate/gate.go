package turngate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"el-professor/server/internal/model"
)

// State 是会话的轮次状态。Idle 与 AwaitingUtterance 是静默的休息态：
// 只有一次完整的发言能把状态推进到 Processing，没有任何定时器会这么做。
type State int32

const (
	StateIdle State = iota
	StateAwaitingUtterance
	StateProcessing
	StateEmitting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingUtterance:
		return "awaiting_utterance"
	case StateProcessing:
		return "processing"
	case StateEmitting:
		return "emitting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrNotOpen   = errors.New("turn gate not open")
	ErrQueueFull = errors.New("turn queue full")
)

// Turn 是交给处理器的一轮输入。
type Turn struct {
	Utterance model.Utterance
	// BeginEmit 在开始对外输出前调用，把状态切到 Emitting。
	BeginEmit func()
}

// Handler 处理一轮发言并返回回复。
type Handler func(ctx context.Context, t Turn) (*model.ResponsePayload, error)

// Options 轮次门配置。
type Options struct {
	// QueueSize 等待中的发言上限，超过即拒绝（背压）。
	QueueSize int
	// TurnTimeout 单轮处理超时。
	TurnTimeout time.Duration
}

const (
	defaultQueueSize   = 8
	defaultTurnTimeout = 20 * time.Second
)

// Stats 队列统计。
type Stats struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Total     int64  `json:"total"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
	Dropped   int64  `json:"dropped"`
	Discarded int64  `json:"discarded"`
	Ignored   int64  `json:"ignored"`
	Pending   int    `json:"pending"`
	Capacity  int    `json:"capacity"`
}

type result struct {
	payload *model.ResponsePayload
	err     error
}

type queuedTurn struct {
	utterance model.Utterance
	enqueued  time.Time
	resultCh  chan result // 同步提交时非空
}

// Gate 为单个会话串行处理发言（Actor Model）。一轮处理完才开始下一轮，轮次不会重叠。
type Gate struct {
	sessionID string
	handler   Handler
	opts      Options
	turns     chan *queuedTurn
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state     atomic.Int32
	openOnce  sync.Once
	closeOnce sync.Once

	mu        sync.Mutex
	total     int64
	processed int64
	failed    int64
	dropped   int64
	discarded int64
	ignored   int64
}

// NewGate 创建轮次门，初始状态为 Idle，调用 Open 后才接受发言。
func NewGate(sessionID string, handler Handler, opts Options, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = defaultTurnTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		sessionID: sessionID,
		handler:   handler,
		opts:      opts,
		turns:     make(chan *queuedTurn, opts.QueueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Open 启动串行处理循环：Idle -> AwaitingUtterance。
func (g *Gate) Open() {
	g.openOnce.Do(func() {
		if !g.state.CompareAndSwap(int32(StateIdle), int32(StateAwaitingUtterance)) {
			return
		}
		g.wg.Add(1)
		go g.processLoop()
		g.logger.Printf("[TurnGate] Opened for session %s", g.sessionID)
	})
}

// State 返回当前状态。
func (g *Gate) State() State {
	return State(g.state.Load())
}

// OnUtteranceComplete 是开始一轮的唯一入口，在语音端检测到一句话结束时调用（异步）。
// 空白发言直接忽略：静默永远不会触发回复。
func (g *Gate) OnUtteranceComplete(u model.Utterance) error {
	_, err := g.enqueue(u, nil)
	return err
}

// Submit 提交一轮发言并等待其回复（文本通道使用）。空白发言返回 (nil, nil)。
func (g *Gate) Submit(ctx context.Context, u model.Utterance) (*model.ResponsePayload, error) {
	resultCh := make(chan result, 1)
	accepted, err := g.enqueue(u, resultCh)
	if err != nil || !accepted {
		return nil, err
	}
	select {
	case res := <-resultCh:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.ctx.Done():
		return nil, model.ErrSessionEnded
	}
}

func (g *Gate) enqueue(u model.Utterance, resultCh chan result) (bool, error) {
	switch g.State() {
	case StateIdle:
		return false, ErrNotOpen
	case StateClosed:
		return false, model.ErrSessionEnded
	}
	if strings.TrimSpace(u.RawText) == "" {
		g.mu.Lock()
		g.ignored++
		g.mu.Unlock()
		return false, nil
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}

	turn := &queuedTurn{utterance: u, enqueued: time.Now(), resultCh: resultCh}
	select {
	case <-g.ctx.Done():
		return false, model.ErrSessionEnded
	case g.turns <- turn:
		g.mu.Lock()
		g.total++
		g.mu.Unlock()
		g.logger.Printf("[TurnGate] Enqueued utterance: session=%s id=%s queue_size=%d", g.sessionID, u.ID, len(g.turns))
		return true, nil
	default:
		g.mu.Lock()
		g.dropped++
		g.mu.Unlock()
		g.logger.Printf("[TurnGate] Queue full, dropping utterance: session=%s id=%s", g.sessionID, u.ID)
		return false, ErrQueueFull
	}
}

// processLoop 串行处理轮次（单 goroutine）。
func (g *Gate) processLoop() {
	defer g.wg.Done()
	for {
		select {
		case <-g.ctx.Done():
			g.drain()
			return
		case turn := <-g.turns:
			g.processTurn(turn)
		}
	}
}

func (g *Gate) processTurn(turn *queuedTurn) {
	start := time.Now()
	// select 可能在 Close 之后仍选中排队的发言；已关闭的闸门不再进入 processing。
	if !g.state.CompareAndSwap(int32(StateAwaitingUtterance), int32(StateProcessing)) {
		g.mu.Lock()
		g.discarded++
		g.mu.Unlock()
		g.logger.Printf("[TurnGate] Skipped turn on %s gate: session=%s id=%s", g.State(), g.sessionID, turn.utterance.ID)
		if turn.resultCh != nil {
			turn.resultCh <- result{err: model.ErrSessionEnded}
		}
		return
	}

	ctx, cancel := context.WithTimeout(g.ctx, g.opts.TurnTimeout)
	defer cancel()

	payload, err := g.handler(ctx, Turn{
		Utterance: turn.utterance,
		BeginEmit: func() { g.state.CompareAndSwap(int32(StateProcessing), int32(StateEmitting)) },
	})

	if g.ctx.Err() != nil {
		// 会话已结束：在途轮次作废，不交付回复。
		g.mu.Lock()
		g.discarded++
		g.mu.Unlock()
		g.logger.Printf("[TurnGate] Discarded in-flight turn: session=%s id=%s", g.sessionID, turn.utterance.ID)
		payload, err = nil, model.ErrSessionEnded
	} else {
		g.state.CompareAndSwap(int32(StateProcessing), int32(StateAwaitingUtterance))
		g.state.CompareAndSwap(int32(StateEmitting), int32(StateAwaitingUtterance))
		g.mu.Lock()
		if err != nil {
			g.failed++
		} else {
			g.processed++
		}
		g.mu.Unlock()
		if err != nil {
			g.logger.Printf("[TurnGate] Turn failed: session=%s id=%s error=%v processing_time=%v",
				g.sessionID, turn.utterance.ID, err, time.Since(start))
		} else {
			g.logger.Printf("[TurnGate] Turn done: session=%s id=%s queue_latency=%v processing_time=%v",
				g.sessionID, turn.utterance.ID, start.Sub(turn.enqueued), time.Since(start))
		}
	}

	if turn.resultCh != nil {
		turn.resultCh <- result{payload: payload, err: err}
	}
}

// drain 丢弃关闭时仍在排队的发言。
func (g *Gate) drain() {
	for {
		select {
		case turn := <-g.turns:
			g.mu.Lock()
			g.discarded++
			g.mu.Unlock()
			if turn.resultCh != nil {
				turn.resultCh <- result{err: model.ErrSessionEnded}
			}
		default:
			return
		}
	}
}

// Close 结束会话：取消在途轮次，丢弃排队中的发言。
func (g *Gate) Close() {
	g.closeOnce.Do(func() {
		g.state.Store(int32(StateClosed))
		g.cancel()
		g.wg.Wait()
		g.drain()

		s := g.Stats()
		g.logger.Printf("[TurnGate] Closed for session %s: total=%d processed=%d failed=%d dropped=%d discarded=%d ignored=%d",
			g.sessionID, s.Total, s.Processed, s.Failed, s.Dropped, s.Discarded, s.Ignored)
	})
}

// Stats 获取队列统计信息
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		SessionID: g.sessionID,
		State:     g.State().String(),
		Total:     g.total,
		Processed: g.processed,
		Failed:    g.failed,
		Dropped:   g.dropped,
		Discarded: g.discarded,
		Ignored:   g.ignored,
		Pending:   len(g.turns),
		Capacity:  cap(g.turns),
	}
}
