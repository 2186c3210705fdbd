package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"el-professor/server/internal/composer"
	"el-professor/server/internal/correction"
	"el-professor/server/internal/emotion"
	"el-professor/server/internal/langpack"
	"el-professor/server/internal/level"
	"el-professor/server/internal/model"
	"el-professor/server/internal/persona"
	"el-professor/server/internal/session"
	"el-professor/server/internal/timeline"

	"github.com/google/uuid"
)

// SpeechOutput 把文本念给学习者。返回错误表示语音通道不可用。
type SpeechOutput interface {
	Speak(ctx context.Context, text string) error
}

// Embodiment 是机器人身体：情绪动作与说话姿态，均为尽力而为。
// 头部追踪是学习者的偏好，编排器从不改动。
type Embodiment interface {
	PlayEmotion(ctx context.Context, cue model.EmotionCue) error
	SetSpeaking(ctx context.Context, speaking bool) error
}

// VisualGrounder 看一眼摄像头，用 language 回答学习者关于眼前事物的问题。
// 看不到时返回 model.ErrVisualUnavailable。
type VisualGrounder interface {
	Describe(ctx context.Context, question, language string) (string, error)
}

// Channel 是一轮回复的输出通道。Speech 为空时回复只通过返回值交付（文本通道）。
// Vision 为空时视觉问题一律如实说明无法确认。
type Channel struct {
	Speech SpeechOutput
	Body   Embodiment
	Vision VisualGrounder
	// OnEmit 在开始对外输出前调用。
	OnEmit func()
}

// Options 编排器依赖。
type Options struct {
	Personas *persona.Registry
	// Packs 按目标语言代码索引。
	Packs map[string]*langpack.Pack
	// Evaluator 为某个目标语言构造主评估器；为空或返回 nil 时只用短语库。
	Evaluator func(targetLanguage string) correction.Evaluator
	// DefaultPersona 创建会话未指定人设时使用。
	DefaultPersona string
	MemoSize       int
	// Seed 非零时每个会话的随机源可复现。
	Seed   uint64
	Now    func() time.Time
	Logger *log.Logger
}

// runtime 是单个会话的私有组件实例，会话之间从不共享。
type runtime struct {
	persona    model.Persona
	pack       *langpack.Pack
	composer   *composer.Composer
	dispatcher *emotion.Dispatcher

	mu    sync.Mutex
	ended bool
}

// Orchestrator 是会话控制器：串起档位估计、纠错、回复组装与情绪分发，
// 并在输出成功后提交会话状态。
//
// 职责与契约：
// - append-first：审计事件先写 Timeline，再归约会话快照。
// - 语音失败时本轮作废：不发情绪、不改状态。
// - 输出之前被取消的轮次直接丢弃。
type Orchestrator struct {
	store    session.Store
	timeline timeline.Store
	opts     Options
	now      func() time.Time
	logger   *log.Logger

	engines    map[string]*correction.Engine
	estimators map[string]*level.Estimator

	mu       sync.RWMutex
	runtimes map[string]*runtime
	seq      uint64
}

func New(store session.Store, tl timeline.Store, opts Options) (*Orchestrator, error) {
	if opts.Personas == nil {
		return nil, errors.New("persona registry is required")
	}
	if len(opts.Packs) == 0 {
		return nil, errors.New("at least one language pack is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	o := &Orchestrator{
		store:      store,
		timeline:   tl,
		opts:       opts,
		now:        opts.Now,
		logger:     opts.Logger,
		engines:    make(map[string]*correction.Engine),
		estimators: make(map[string]*level.Estimator),
		runtimes:   make(map[string]*runtime),
	}
	for code, pack := range opts.Packs {
		var primary correction.Evaluator
		if opts.Evaluator != nil {
			primary = opts.Evaluator(code)
		}
		engine, err := correction.NewEngine(pack, primary, opts.MemoSize, opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("correction engine %s: %w", code, err)
		}
		o.engines[code] = engine
		o.estimators[code] = level.NewEstimator(pack, opts.Logger)
	}
	return o, nil
}

// StartSession 为一个新通道创建独立的会话状态。
func (o *Orchestrator) StartSession(ctx context.Context, req model.CreateSessionRequest) (*model.Session, model.Persona, error) {
	personaID := req.PersonaID
	if personaID == "" {
		personaID = o.opts.DefaultPersona
	}
	p, err := o.opts.Personas.Get(personaID)
	if err != nil {
		return nil, model.Persona{}, err
	}
	pack, ok := o.opts.Packs[p.TargetLanguage]
	if !ok {
		return nil, model.Persona{}, fmt.Errorf("no language pack for %q", p.TargetLanguage)
	}

	learner := req.LearnerLanguage
	if learner == "" {
		learner = p.LearnerLanguage
	}
	lvl := p.InitialLevel
	if req.Level != "" {
		if lvl, err = model.ParseLevel(req.Level); err != nil {
			return nil, model.Persona{}, err
		}
	}

	rt, err := o.newRuntime(p, pack)
	if err != nil {
		return nil, model.Persona{}, err
	}

	now := o.now()
	state := &model.Session{
		SessionID:       uuid.NewString(),
		PersonaID:       p.ID,
		LearnerLanguage: learner,
		TargetLanguage:  p.TargetLanguage,
		CurrentLevel:    lvl,
		CreatedAt:       now,
	}
	if err := o.store.Save(ctx, state); err != nil {
		return nil, model.Persona{}, err
	}

	o.mu.Lock()
	o.runtimes[state.SessionID] = rt
	o.mu.Unlock()

	o.audit(ctx, state.SessionID, model.Event{Type: model.EventSessionStarted, Level: &lvl, Text: p.ID})
	o.logger.Printf("[Orchestrator] Session started: id=%s persona=%s level=%s learner=%s",
		state.SessionID, p.ID, lvl, learner)
	return state, p, nil
}

func (o *Orchestrator) newRuntime(p model.Persona, pack *langpack.Pack) (*runtime, error) {
	// 组装器与分发器可能并发执行，各自持有独立的随机源。
	var cRng, dRng *rand.Rand
	if o.opts.Seed != 0 {
		o.mu.Lock()
		o.seq++
		n := o.seq
		o.mu.Unlock()
		cRng = rand.New(rand.NewPCG(o.opts.Seed, 2*n))
		dRng = rand.New(rand.NewPCG(o.opts.Seed, 2*n+1))
	}
	dispatcher, err := emotion.NewDispatcher(p.Emotions, dRng)
	if err != nil {
		return nil, fmt.Errorf("persona %s: %w", p.ID, err)
	}
	return &runtime{
		persona:    p,
		pack:       pack,
		composer:   composer.New(pack, cRng),
		dispatcher: dispatcher,
	}, nil
}

// EndSession 结束会话：状态与审计日志一并丢弃，在途轮次不再提交。
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	rt, ok := o.runtimes[sessionID]
	delete(o.runtimes, sessionID)
	o.mu.Unlock()
	if !ok {
		return session.ErrNotFound
	}

	rt.mu.Lock()
	rt.ended = true
	rt.mu.Unlock()

	if err := o.store.Delete(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	if err := o.timeline.Drop(ctx, sessionID); err != nil {
		return err
	}
	o.logger.Printf("[Orchestrator] Session ended: id=%s", sessionID)
	return nil
}

// Session 返回会话快照。
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*model.Session, error) {
	return o.store.Get(ctx, sessionID)
}

// Persona 返回会话绑定的人设。
func (o *Orchestrator) Persona(sessionID string) (model.Persona, error) {
	rt, err := o.runtime(sessionID)
	if err != nil {
		return model.Persona{}, err
	}
	return rt.persona, nil
}

// Timeline 返回会话中符合 filter 的审计事件。
func (o *Orchestrator) Timeline(ctx context.Context, sessionID string, filter timeline.Filter) ([]model.Event, error) {
	if _, err := o.runtime(sessionID); err != nil {
		return nil, err
	}
	return o.timeline.List(ctx, sessionID, filter)
}

// Hiccup 是会话语言下的统一失败话术。
func (o *Orchestrator) Hiccup(sessionID string) string {
	rt, err := o.runtime(sessionID)
	if err != nil {
		return ""
	}
	return rt.composer.Hiccup()
}

// CannotVerify 是摄像头不可用时的如实说明。
func (o *Orchestrator) CannotVerify(sessionID string) string {
	rt, err := o.runtime(sessionID)
	if err != nil {
		return ""
	}
	return rt.pack.Messages.CannotVerify
}

func (o *Orchestrator) runtime(sessionID string) (*runtime, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rt, ok := o.runtimes[sessionID]
	if !ok {
		return nil, session.ErrNotFound
	}
	return rt, nil
}

// HandleTurn 处理一次完整发言并输出回复。
//
// 顺序：档位估计 -> 纠错 -> 视觉问题看图 -> 组装回复与情绪（并发）-> 输出 -> 提交状态。
// 只有 ErrSpeechTransport 会作为本轮失败返回；其余问题都已恢复并写入审计。
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID string, u model.Utterance, ch Channel) (*model.ResponsePayload, error) {
	rt, err := o.runtime(sessionID)
	if err != nil {
		return nil, err
	}
	state, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = o.now()
	}
	turnID := u.ID

	o.audit(ctx, sessionID, model.Event{EventID: "utt-" + turnID, TurnID: turnID, Type: model.EventUtterance, Text: u.RawText})

	est, err := o.estimators[state.TargetLanguage].Estimate(u, state.CurrentLevel)
	if err != nil {
		o.recovered(ctx, sessionID, turnID, err)
	}

	verdict, err := o.engines[state.TargetLanguage].Evaluate(ctx, correction.Request{
		Utterance:       u,
		Level:           est.Level,
		LearnerLanguage: state.LearnerLanguage,
	})
	if err != nil {
		o.recovered(ctx, sessionID, turnID, err)
	}
	o.audit(ctx, sessionID, model.Event{TurnID: turnID, Type: model.EventVerdict, Verdict: &verdict, Level: &est.Level})

	var answer string
	if rt.pack.AsksVisual(langpack.Tokenize(u.RawText)) {
		answer = o.ground(ctx, sessionID, turnID, rt, u.RawText, ch.Vision)
	}

	if err := ctx.Err(); err != nil {
		return nil, o.discard(ctx, sessionID, turnID, err)
	}

	// 组装器与分发器只读 Verdict，可以并发。
	var (
		wg      sync.WaitGroup
		payload model.ResponsePayload
		cue     model.EmotionCue
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		payload = rt.composer.ComposeAnswer(verdict, est.Level, rt.persona, answer)
	}()
	go func() {
		defer wg.Done()
		cue = rt.dispatcher.Dispatch(verdict)
	}()
	wg.Wait()
	payload.TurnID = turnID
	payload.EmotionCue = &cue

	if err := ctx.Err(); err != nil {
		return nil, o.discard(ctx, sessionID, turnID, err)
	}

	if ch.OnEmit != nil {
		ch.OnEmit()
	}
	if err := o.emit(ctx, sessionID, &payload, ch); err != nil {
		o.audit(ctx, sessionID, model.Event{TurnID: turnID, Type: model.EventTurnAbandoned, Error: err.Error()})
		o.logger.Printf("[Orchestrator] Turn abandoned: session=%s turn=%s error=%v", sessionID, turnID, err)
		return nil, err
	}

	if err := o.commit(ctx, rt, state, payload); err != nil {
		return nil, err
	}
	o.logger.Printf("[Orchestrator] Turn done: session=%s turn=%s class=%s level=%s emotion=%s",
		sessionID, turnID, payload.Classification, payload.Level, cue.Emotion)
	return &payload, nil
}

// ground 回答视觉问题。没有摄像头、画面不可用或描述失败时，
// 回答换成语言包里“无法确认”的说明，错误写入审计后恢复。
func (o *Orchestrator) ground(ctx context.Context, sessionID, turnID string, rt *runtime, question string, vision VisualGrounder) string {
	if vision == nil {
		o.recovered(ctx, sessionID, turnID, fmt.Errorf("%w: no camera on this channel", model.ErrVisualUnavailable))
		return rt.pack.Messages.CannotVerify
	}
	answer, err := vision.Describe(ctx, question, rt.persona.TargetLanguage)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("empty description")
	}
	if err != nil {
		if !errors.Is(err, model.ErrVisualUnavailable) {
			err = fmt.Errorf("%w: %v", model.ErrVisualUnavailable, err)
		}
		o.recovered(ctx, sessionID, turnID, err)
		return rt.pack.Messages.CannotVerify
	}
	o.audit(ctx, sessionID, model.Event{TurnID: turnID, Type: model.EventVisual, Text: answer})
	return answer
}

// emit 输出顺序：进入说话姿态 -> 说话 -> 情绪动作 -> 退出说话姿态。
// 说话失败时不播放情绪。说话姿态由守护进程暂停并恢复追踪，学习者的追踪偏好不受影响。
func (o *Orchestrator) emit(ctx context.Context, sessionID string, payload *model.ResponsePayload, ch Channel) error {
	if ch.Body != nil {
		if err := ch.Body.SetSpeaking(ctx, true); err != nil {
			o.logger.Printf("[Orchestrator] enter speaking pose failed: session=%s error=%v", sessionID, err)
		}
		defer func() {
			// 退出不受本轮 ctx 取消影响。
			if err := ch.Body.SetSpeaking(context.WithoutCancel(ctx), false); err != nil {
				o.logger.Printf("[Orchestrator] leave speaking pose failed: session=%s error=%v", sessionID, err)
			}
		}()
	}

	if ch.Speech != nil {
		if err := ch.Speech.Speak(ctx, payload.SpokenText); err != nil {
			if errors.Is(err, model.ErrSpeechTransport) {
				return err
			}
			return fmt.Errorf("%w: %v", model.ErrSpeechTransport, err)
		}
	}

	if ch.Body != nil && payload.EmotionCue != nil {
		if err := ch.Body.PlayEmotion(ctx, *payload.EmotionCue); err != nil {
			o.logger.Printf("[Orchestrator] play emotion failed: session=%s emotion=%s error=%v",
				sessionID, payload.EmotionCue.Emotion, err)
		}
	}
	return nil
}

// commit 在输出之后提交档位与轮次数。会话已结束时不提交。
func (o *Orchestrator) commit(ctx context.Context, rt *runtime, state *model.Session, payload model.ResponsePayload) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.ended {
		return model.ErrSessionEnded
	}

	now := o.now()
	evt := model.Event{
		EventID:  "resp-" + payload.TurnID,
		TurnID:   payload.TurnID,
		Type:     model.EventResponse,
		Text:     payload.SpokenText,
		Level:    &payload.Level,
		Payload:  &payload,
		ServerTS: now,
	}
	// append-first：先写事实，再归约快照。
	o.audit(ctx, state.SessionID, evt)
	Reduce(state, evt, now)
	// 提交不受本轮 ctx 取消影响：回复已经说出口了。
	return o.store.Save(context.WithoutCancel(ctx), state)
}

func (o *Orchestrator) discard(ctx context.Context, sessionID, turnID string, cause error) error {
	o.audit(context.WithoutCancel(ctx), sessionID, model.Event{TurnID: turnID, Type: model.EventTurnDiscarded, Error: cause.Error()})
	o.logger.Printf("[Orchestrator] Turn discarded before emission: session=%s turn=%s cause=%v", sessionID, turnID, cause)
	return fmt.Errorf("turn discarded: %w", cause)
}

func (o *Orchestrator) recovered(ctx context.Context, sessionID, turnID string, err error) {
	o.logger.Printf("[Orchestrator] recovered: session=%s turn=%s error=%v", sessionID, turnID, err)
	o.audit(ctx, sessionID, model.Event{TurnID: turnID, Type: model.EventRecovered, Error: err.Error()})
}

// audit 写审计事件；审计失败只记录日志，不影响本轮。
func (o *Orchestrator) audit(ctx context.Context, sessionID string, evt model.Event) {
	if evt.ServerTS.IsZero() {
		evt.ServerTS = o.now()
	}
	evt.SessionID = sessionID
	if _, err := o.timeline.Append(context.WithoutCancel(ctx), sessionID, &evt); err != nil {
		o.logger.Printf("[Orchestrator] timeline append failed: session=%s type=%s error=%v", sessionID, evt.Type, err)
	}
}
