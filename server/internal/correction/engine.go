package correction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"el-professor/server/internal/langpack"
	"el-professor/server/internal/level"
	"el-professor/server/internal/model"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Request 是一次评估的输入。
type Request struct {
	Utterance       model.Utterance
	Level           model.Level
	LearnerLanguage string
}

// Evaluator 对一次发言给出裁决。返回错误表示评估器本身失败（网络、输出不合法等）。
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, req Request) (model.Verdict, error)
}

// Engine 是纠错引擎：主评估器失败时回退到短语库，对无法确定的输入偏向 Minor，
// 证据不足时附上例句，并缓存分类结果保证同一状态下重放得到相同分类。
type Engine struct {
	primary  Evaluator
	fallback *PhrasebookEvaluator
	pack     *langpack.Pack
	memo     *lru.Cache[string, model.Verdict]
	logger   *log.Logger

	exampleCursor atomic.Uint64
}

// NewEngine 创建纠错引擎。primary 为 nil 时只用短语库。
func NewEngine(pack *langpack.Pack, primary Evaluator, memoSize int, logger *log.Logger) (*Engine, error) {
	if pack == nil {
		return nil, errors.New("language pack is required")
	}
	if memoSize <= 0 {
		memoSize = 1024
	}
	memo, err := lru.New[string, model.Verdict](memoSize)
	if err != nil {
		return nil, fmt.Errorf("create verdict memo: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		primary:  primary,
		fallback: NewPhrasebookEvaluator(pack),
		pack:     pack,
		memo:     memo,
		logger:   logger,
	}, nil
}

// Evaluate 总是返回一个合法的裁决。返回的 error 只用于记录已恢复的问题
// （主评估器失败、ErrAmbiguousInput），调用方不应据此中止本轮。
func (e *Engine) Evaluate(ctx context.Context, req Request) (model.Verdict, error) {
	key := memoKey(e.pack.Code, req)
	if v, ok := e.memo.Get(key); ok {
		return e.withExample(v, req), ambiguity(v)
	}

	var recovered error
	v, err := e.evaluate(ctx, req)
	if err != nil {
		e.logger.Printf("[Correction] primary evaluator failed, falling back to phrasebook: %v", err)
		recovered = err
		v, err = e.fallback.Evaluate(ctx, req)
		if err != nil {
			// 短语库不会失败；兜底成温和的重说请求。
			v = model.NewRephraseVerdict("evaluation failed")
			recovered = errors.Join(recovered, err)
		}
	}

	// 被取消的轮次不写缓存，避免半途的结果污染重放。
	if ctx.Err() == nil {
		e.memo.Add(key, v)
	}
	return e.withExample(v, req), errors.Join(recovered, ambiguity(v))
}

func (e *Engine) evaluate(ctx context.Context, req Request) (model.Verdict, error) {
	// 单词/空发言不值得调用 LLM，直接走确定性路径。
	if e.primary == nil || langpack.WordCount(req.Utterance.RawText) <= 1 {
		return e.fallback.Evaluate(ctx, req)
	}
	v, err := e.primary.Evaluate(ctx, req)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("%s: %w", e.primary.Name(), err)
	}
	if v.IsZero() {
		return model.Verdict{}, fmt.Errorf("%s: empty verdict", e.primary.Name())
	}
	return v, nil
}

// withExample 对证据不足或无法给出纠正句的裁决附上当前档位的例句。
func (e *Engine) withExample(v model.Verdict, req Request) model.Verdict {
	_, hasCorrection := v.Correction()
	if !v.Sparse() && hasCorrection {
		return v
	}
	if !v.Sparse() && !v.Ambiguous() {
		return v
	}
	if ex, ok := e.pickExample(req.Level, req.LearnerLanguage, v.CorrectedText()); ok {
		return v.WithExample(ex)
	}
	return v
}

func (e *Engine) pickExample(lvl model.Level, learner, exclude string) (model.Gloss, bool) {
	maxWords := level.ProfileFor(lvl).MaxWords
	var pool []model.Gloss
	for _, g := range e.pack.Examples(lvl, learner) {
		if g.Text() == exclude || langpack.WordCount(g.Text()) > maxWords {
			continue
		}
		pool = append(pool, g)
	}
	if len(pool) == 0 {
		return model.Gloss{}, false
	}
	n := e.exampleCursor.Add(1) - 1
	return pool[n%uint64(len(pool))], true
}

func ambiguity(v model.Verdict) error {
	if v.Ambiguous() {
		return model.ErrAmbiguousInput
	}
	return nil
}

func memoKey(target string, req Request) string {
	return strings.Join([]string{target, req.Level.String(), req.LearnerLanguage, langpack.Normalize(req.Utterance.RawText)}, "|")
}
