package orchestrator

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"el-professor/server/internal/langpack"
	"el-professor/server/internal/model"
	"el-professor/server/internal/persona"
	"el-professor/server/internal/session"
	"el-professor/server/internal/timeline"
	"el-professor/server/internal/turngate"
)

// recorder 记录输出顺序，模拟语音与机器人身体。
type recorder struct {
	mu       sync.Mutex
	calls    []string
	spoken   []string
	emotions []model.EmotionCue
	speakErr error
	onSpeak  func()
}

func (r *recorder) Speak(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "speak")
	if r.onSpeak != nil {
		r.onSpeak()
	}
	if r.speakErr != nil {
		return r.speakErr
	}
	r.spoken = append(r.spoken, text)
	return nil
}

func (r *recorder) PlayEmotion(ctx context.Context, cue model.EmotionCue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "emotion:"+cue.Emotion)
	r.emotions = append(r.emotions, cue)
	return nil
}

func (r *recorder) SetSpeaking(ctx context.Context, speaking bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if speaking {
		r.calls = append(r.calls, "speaking:on")
	} else {
		r.calls = append(r.calls, "speaking:off")
	}
	return nil
}

// SetHeadTracking 让 recorder 同时满足 embodiment.Body；编排器不应调用它。
func (r *recorder) SetHeadTracking(ctx context.Context, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		r.calls = append(r.calls, "tracking:on")
	} else {
		r.calls = append(r.calls, "tracking:off")
	}
	return nil
}

func (r *recorder) channel() Channel {
	return Channel{Speech: r, Body: r}
}

type fixture struct {
	orch     *Orchestrator
	store    *session.InMemoryStore
	timeline *timeline.InMemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	personas, err := persona.LoadDir("../../configs/personas")
	if err != nil {
		t.Fatalf("load personas: %v", err)
	}
	packs, err := langpack.LoadDir("../../configs/languages")
	if err != nil {
		t.Fatalf("load packs: %v", err)
	}
	store := session.NewInMemoryStore()
	tl := timeline.NewInMemoryStore(0)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orch, err := New(store, tl, Options{
		Personas:       personas,
		Packs:          packs,
		DefaultPersona: "el_professor",
		Seed:           42,
		Now:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return fixture{orch: orch, store: store, timeline: tl}
}

func (f fixture) start(t *testing.T, lvl string) *model.Session {
	t.Helper()
	s, _, err := f.orch.StartSession(context.Background(), model.CreateSessionRequest{Level: lvl})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return s
}

func (f fixture) state(t *testing.T, id string) *model.Session {
	t.Helper()
	s, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

func (f fixture) eventTypes(t *testing.T, id string) []model.EventType {
	t.Helper()
	events, err := f.timeline.List(context.Background(), id, timeline.Filter{})
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}
	var out []model.EventType
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

// TestScrambledSentenceGetsGentleCorrection 语序混乱的初学者句子：轻微错误，
// 给出纠正句与母语翻译，情绪为负向。
func TestScrambledSentenceGetsGentleCorrection(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "")
	rec := &recorder{}

	payload, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "Yo café gusta"}, rec.channel())
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if payload.Classification != model.ClassMinor {
		t.Fatalf("expected minor, got %s", payload.Classification)
	}
	if !strings.Contains(payload.SpokenText, "A mí me gusta el café. (J'aime le café.)") {
		t.Fatalf("expected correction with translation, got %q", payload.SpokenText)
	}
	if payload.EmotionCue == nil || payload.EmotionCue.Polarity != model.PolarityNegative ||
		!slices.Contains(model.DefaultNegativeEmotions, payload.EmotionCue.Emotion) {
		t.Fatalf("expected negative emotion, got %+v", payload.EmotionCue)
	}
	if payload.SentenceCount > model.MaxSentences {
		t.Fatalf("too many sentences: %d", payload.SentenceCount)
	}
	if len(rec.spoken) != 1 || rec.spoken[0] != payload.SpokenText {
		t.Fatalf("expected the payload to be spoken once, got %v", rec.spoken)
	}

	types := f.eventTypes(t, s.SessionID)
	if !slices.Contains(types, model.EventRecovered) {
		t.Fatalf("expected ambiguous input to be audited, got %v", types)
	}
}

func TestWellFormedSentenceIsAffirmed(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "beginner")
	rec := &recorder{}

	payload, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "Me gusta mucho el café"}, rec.channel())
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if payload.Classification != model.ClassCorrect {
		t.Fatalf("expected correct, got %s", payload.Classification)
	}
	if !strings.HasPrefix(payload.SpokenText, "¡Perfecto!") {
		t.Fatalf("expected ¡Perfecto!, got %q", payload.SpokenText)
	}
	if payload.EmotionCue.Polarity != model.PolarityPositive ||
		!slices.Contains(model.DefaultPositiveEmotions, payload.EmotionCue.Emotion) {
		t.Fatalf("expected positive emotion, got %+v", payload.EmotionCue)
	}
	if got := f.state(t, s.SessionID).TurnCount; got != 1 {
		t.Fatalf("expected turn count 1, got %d", got)
	}
}

// TestSilenceProducesNoPayload 静默时轮次门从不触发，没有任何输出。
func TestSilenceProducesNoPayload(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "")
	rec := &recorder{}

	gate := turngate.NewGate(s.SessionID, func(ctx context.Context, turn turngate.Turn) (*model.ResponsePayload, error) {
		ch := rec.channel()
		ch.OnEmit = turn.BeginEmit
		return f.orch.HandleTurn(ctx, s.SessionID, turn.Utterance, ch)
	}, turngate.Options{}, nil)
	gate.Open()
	defer gate.Close()

	for _, text := range []string{"", "  ", "\t"} {
		if err := gate.OnUtteranceComplete(model.Utterance{RawText: text}); err != nil {
			t.Fatalf("silence rejected: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 0 {
		t.Fatalf("expected no output for silence, got %v", rec.calls)
	}
	if got := f.state(t, s.SessionID).TurnCount; got != 0 {
		t.Fatalf("expected no turns, got %d", got)
	}
}

func TestSingleWordGetsExampleAndKeepsLevel(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "elementary")
	rec := &recorder{}

	payload, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "Hola"}, rec.channel())
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if payload.Level != model.LevelElementary || f.state(t, s.SessionID).CurrentLevel != model.LevelElementary {
		t.Fatalf("single word must not move the level: %s", payload.Level)
	}
	if !strings.Contains(payload.SpokenText, "Por ejemplo:") || strings.Contains(payload.SpokenText, "Se dice:") {
		t.Fatalf("expected example instead of correction, got %q", payload.SpokenText)
	}
}

// TestLevelDropsAtMostOneTierPerTurn 中级学习者连续两次明显错误，每轮最多降一档。
func TestLevelDropsAtMostOneTierPerTurn(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "intermediate")
	rec := &recorder{}

	payload, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "Yo café gusta"}, rec.channel())
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if payload.Classification == model.ClassCorrect {
		t.Fatalf("expected an error classification, got %s", payload.Classification)
	}
	if got := f.state(t, s.SessionID).CurrentLevel; got != model.LevelElementary {
		t.Fatalf("expected elementary after first turn, got %s", got)
	}

	if _, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "Yo perro grande"}, rec.channel()); err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if got := f.state(t, s.SessionID).CurrentLevel; got != model.LevelBeginner {
		t.Fatalf("expected beginner after second turn, got %s", got)
	}

	events, _ := f.timeline.List(context.Background(), s.SessionID, timeline.Filter{})
	clamped := false
	for _, e := range events {
		if e.Type == model.EventRecovered && strings.Contains(e.Error, model.ErrUnsupportedLevelTransition.Error()) {
			clamped = true
		}
	}
	if !clamped {
		t.Fatalf("expected clamped transition to be audited")
	}
}

func TestEmissionOrder(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "")
	rec := &recorder{}

	emitted := false
	ch := rec.channel()
	ch.OnEmit = func() { emitted = true }
	payload, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "Me gusta mucho el café"}, ch)
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	want := []string{"speaking:on", "speak", "emotion:" + payload.EmotionCue.Emotion, "speaking:off"}
	if !slices.Equal(rec.calls, want) || !emitted {
		t.Fatalf("unexpected emission order %v", rec.calls)
	}
}

// TestSpeechFailureAbandonsTurn 语音失败：不发情绪，会话状态不变，退出说话姿态。
func TestSpeechFailureAbandonsTurn(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "intermediate")
	rec := &recorder{speakErr: errors.New("socket closed")}

	_, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "Yo café gusta"}, rec.channel())
	if !errors.Is(err, model.ErrSpeechTransport) {
		t.Fatalf("expected ErrSpeechTransport, got %v", err)
	}
	if !slices.Equal(rec.calls, []string{"speaking:on", "speak", "speaking:off"}) {
		t.Fatalf("no emotion expected after a speech failure, got %v", rec.calls)
	}
	st := f.state(t, s.SessionID)
	if st.TurnCount != 0 || st.CurrentLevel != model.LevelIntermediate {
		t.Fatalf("session state must be untouched: %+v", st)
	}
	if !slices.Contains(f.eventTypes(t, s.SessionID), model.EventTurnAbandoned) {
		t.Fatalf("expected abandoned turn to be audited")
	}
}

func TestCanceledTurnIsDiscarded(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "")
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.orch.HandleTurn(ctx, s.SessionID, model.Utterance{RawText: "Me gusta mucho el café"}, rec.channel()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("discarded turn must not emit, got %v", rec.calls)
	}
	if f.state(t, s.SessionID).TurnCount != 0 {
		t.Fatalf("discarded turn must not commit")
	}
	if !slices.Contains(f.eventTypes(t, s.SessionID), model.EventTurnDiscarded) {
		t.Fatalf("expected discarded turn to be audited")
	}
}

func TestTextChannelWithoutSpeech(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "")

	payload, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "Me gusta mucho el café"}, Channel{})
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if payload.SpokenText == "" || payload.TurnID == "" {
		t.Fatalf("expected payload with turn id, got %+v", payload)
	}
	types := f.eventTypes(t, s.SessionID)
	want := []model.EventType{model.EventSessionStarted, model.EventUtterance, model.EventVerdict, model.EventResponse}
	if !slices.Equal(types, want) {
		t.Fatalf("unexpected timeline %v", types)
	}
}

// TestSessionsAreIndependent 两个通道各自维护档位，互不影响。
func TestSessionsAreIndependent(t *testing.T) {
	f := newFixture(t)
	a := f.start(t, "intermediate")
	b := f.start(t, "intermediate")

	if _, err := f.orch.HandleTurn(context.Background(), a.SessionID, model.Utterance{RawText: "Yo café gusta"}, Channel{}); err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if f.state(t, a.SessionID).CurrentLevel != model.LevelElementary {
		t.Fatalf("expected session a to move")
	}
	if f.state(t, b.SessionID).CurrentLevel != model.LevelIntermediate || f.state(t, b.SessionID).TurnCount != 0 {
		t.Fatalf("session b must be untouched")
	}
}

func TestEndSessionDropsState(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "")

	if err := f.orch.EndSession(context.Background(), s.SessionID); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if _, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "Hola"}, Channel{}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.orch.Timeline(context.Background(), s.SessionID, timeline.Filter{}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected timeline to be gone, got %v", err)
	}
	if events, _ := f.timeline.List(context.Background(), s.SessionID, timeline.Filter{}); len(events) != 0 {
		t.Fatalf("expected timeline dropped, got %d events", len(events))
	}
	if err := f.orch.EndSession(context.Background(), s.SessionID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second end, got %v", err)
	}
}

// TestSessionEndedMidTurnDoesNotCommit 说话期间会话结束，本轮不再提交。
func TestSessionEndedMidTurnDoesNotCommit(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "")
	rec := &recorder{}
	rec.onSpeak = func() {
		if err := f.orch.EndSession(context.Background(), s.SessionID); err != nil {
			t.Errorf("end session: %v", err)
		}
	}

	_, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "Me gusta mucho el café"}, rec.channel())
	if !errors.Is(err, model.ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	if _, err := f.store.Get(context.Background(), s.SessionID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session must not be resurrected, got %v", err)
	}
}

func TestStartSessionValidation(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.orch.StartSession(context.Background(), model.CreateSessionRequest{PersonaID: "nobody"}); !errors.Is(err, persona.ErrNotFound) {
		t.Fatalf("expected persona.ErrNotFound, got %v", err)
	}
	if _, _, err := f.orch.StartSession(context.Background(), model.CreateSessionRequest{Level: "wizard"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
	s, p, err := f.orch.StartSession(context.Background(), model.CreateSessionRequest{PersonaID: "el_cuentacuentos", LearnerLanguage: "en"})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if p.Tone != model.ToneWhimsical || s.LearnerLanguage != "en" || s.TargetLanguage != "es" {
		t.Fatalf("unexpected session %+v persona %+v", s, p)
	}
	if f.orch.Hiccup(s.SessionID) == "" || f.orch.CannotVerify(s.SessionID) == "" {
		t.Fatalf("expected pack messages")
	}
}

// TestTurnsNeverTouchTrackingPreference 学习者关掉追踪后，任何一轮都不会把它重新打开。
func TestTurnsNeverTouchTrackingPreference(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "")
	rec := &recorder{}
	if err := rec.SetHeadTracking(context.Background(), false); err != nil {
		t.Fatalf("set tracking: %v", err)
	}

	for _, text := range []string{"Me gusta mucho el café", "Yo café gusta"} {
		if _, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: text}, rec.channel()); err != nil {
			t.Fatalf("%q: %v", text, err)
		}
	}
	rec.speakErr = errors.New("socket closed")
	f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "Hola"}, rec.channel())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, call := range rec.calls[1:] {
		if strings.HasPrefix(call, "tracking:") {
			t.Fatalf("turn changed the tracking preference: %v", rec.calls)
		}
	}
}

type fakeVision struct {
	answer string
	err    error

	mu        sync.Mutex
	questions []string
	languages []string
}

func (v *fakeVision) Describe(ctx context.Context, question, language string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.questions = append(v.questions, question)
	v.languages = append(v.languages, language)
	return v.answer, v.err
}

// TestVisualQuestionIsGrounded 视觉问题先看图，回答进入口语回复并写入审计。
func TestVisualQuestionIsGrounded(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "")
	vision := &fakeVision{answer: "Veo una taza roja"}
	ch := Channel{Vision: vision}

	payload, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "¿Qué ves?"}, ch)
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if !strings.Contains(payload.SpokenText, "Veo una taza roja.") {
		t.Fatalf("expected grounded answer, got %q", payload.SpokenText)
	}
	if len(vision.questions) != 1 || vision.questions[0] != "¿Qué ves?" || vision.languages[0] != "es" {
		t.Fatalf("unexpected describe calls %v %v", vision.questions, vision.languages)
	}
	if !slices.Contains(f.eventTypes(t, s.SessionID), model.EventVisual) {
		t.Fatalf("expected visual grounding to be audited")
	}
}

// TestVisualQuestionWithoutCameraAdmitsIt 没有摄像头或画面不可用时如实说明，不猜测。
func TestVisualQuestionWithoutCameraAdmitsIt(t *testing.T) {
	for name, ch := range map[string]Channel{
		"no camera":   {},
		"unavailable": {Vision: &fakeVision{err: model.ErrVisualUnavailable}},
		"failed":      {Vision: &fakeVision{err: errors.New("describer timeout")}},
		"empty":       {Vision: &fakeVision{answer: "  "}},
	} {
		f := newFixture(t)
		s := f.start(t, "")
		payload, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "¿De qué color es mi camiseta?"}, ch)
		if err != nil {
			t.Fatalf("%s: handle turn: %v", name, err)
		}
		if !strings.Contains(payload.SpokenText, f.orch.CannotVerify(s.SessionID)) {
			t.Fatalf("%s: expected admission, got %q", name, payload.SpokenText)
		}
		events, _ := f.timeline.List(context.Background(), s.SessionID, timeline.Filter{})
		audited := false
		for _, e := range events {
			if e.Type == model.EventRecovered && strings.Contains(e.Error, model.ErrVisualUnavailable.Error()) {
				audited = true
			}
		}
		if !audited {
			t.Fatalf("%s: expected ErrVisualUnavailable to be audited", name)
		}
	}
}

func TestNonVisualTurnSkipsCamera(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, "")
	vision := &fakeVision{answer: "Veo una taza"}
	if _, err := f.orch.HandleTurn(context.Background(), s.SessionID, model.Utterance{RawText: "Me gusta mucho el café"}, Channel{Vision: vision}); err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if len(vision.questions) != 0 {
		t.Fatalf("camera must not be used for non-visual turns")
	}
}
