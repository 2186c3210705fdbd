package model

import "time"

// MaxSentences 是单轮口语回复允许的最大句数。
const MaxSentences = 4

// Session 保存一个对话通道的会话状态。
// 只由 Session Controller 修改；不做持久化，会话结束即丢弃。
type Session struct {
	// 唯一标识一个会话。
	SessionID string `json:"session_id"`
	// 本会话使用的人设，创建后不可变。
	PersonaID string `json:"persona_id"`
	// 学习者母语（翻译用）。
	LearnerLanguage string `json:"learner_language"`
	// 目标学习语言（口语输出用）。
	TargetLanguage string `json:"target_language"`

	// 当前推断的熟练度档位。
	CurrentLevel Level `json:"current_level"`
	// 已完成的轮次数。
	TurnCount int `json:"turn_count"`

	CreatedAt  time.Time `json:"created_at"`
	LastTurnAt time.Time `json:"last_turn_at,omitempty"`
}

// Utterance 是语音转写协作方在一轮结束时交付的完整发言，不可变。
type Utterance struct {
	ID               string    `json:"id"`
	RawText          string    `json:"raw_text"`
	Timestamp        time.Time `json:"timestamp"`
	InferredLanguage string    `json:"inferred_language,omitempty"`
}

// Polarity 情绪极性。
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
)

// EmotionCue 是发给具身层的情绪动作请求（建议性元数据）。
type EmotionCue struct {
	Polarity   Polarity `json:"polarity"`
	Candidates []string `json:"candidates"`
	// Emotion 是从 Candidates 中选中的那一个。
	Emotion string `json:"emotion"`
}

// ResponsePayload 是一轮对话交给传输/具身层的唯一输出单元。
type ResponsePayload struct {
	TurnID         string         `json:"turn_id"`
	SpokenText     string         `json:"spoken_text"`
	SentenceCount  int            `json:"sentence_count"`
	EmotionCue     *EmotionCue    `json:"emotion_cue,omitempty"`
	Classification Classification `json:"classification"`
	Level          Level          `json:"level"`
}

// EventType 时间线事件类型。
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventUtterance      EventType = "utterance"
	EventVerdict        EventType = "verdict"
	EventResponse       EventType = "response"
	EventRecovered      EventType = "recovered_error"
	EventVisual         EventType = "visual_grounding"
	EventTurnAbandoned  EventType = "turn_abandoned"
	EventTurnDiscarded  EventType = "turn_discarded"
	EventSessionEnded   EventType = "session_ended"
)

// Event 表示时间线中的一个审计事件。
type Event struct {
	// Seq 由后端分配的单调序号。
	Seq       int64  `json:"seq,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// EventID 用于去重与重试幂等。
	EventID string `json:"event_id,omitempty"`
	// TurnID 关联一次用户发言及其回复。
	TurnID string `json:"turn_id,omitempty"`

	Type  EventType `json:"type"`
	Text  string    `json:"text,omitempty"`
	Level *Level    `json:"level,omitempty"`

	Verdict *Verdict         `json:"verdict,omitempty"`
	Payload *ResponsePayload `json:"payload,omitempty"`
	Error   string           `json:"error,omitempty"`

	ServerTS time.Time `json:"server_ts,omitempty"`
}

// CreateSessionRequest 创建会话的请求体，字段均可省略（使用人设默认值）。
type CreateSessionRequest struct {
	PersonaID       string `json:"persona_id"`
	LearnerLanguage string `json:"learner_language"`
	Level           string `json:"level"`
}

// CreateSessionResponse 是创建会话的响应结构体。
type CreateSessionResponse struct {
	SessionID string  `json:"session_id"`
	State     Session `json:"state"`
	Persona   Persona `json:"persona"`
}

// TurnRequest 是文本通道交付的一次完整发言。
type TurnRequest struct {
	Text     string    `json:"text"`
	ClientTS time.Time `json:"client_ts,omitempty"`
}

// TurnResponse 是文本通道的一轮回复。
type TurnResponse struct {
	Payload ResponsePayload `json:"payload"`
	State   Session         `json:"state"`
}
