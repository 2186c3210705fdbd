package gateway

import (
	"time"

	"el-professor/server/internal/model"
)

// EventType 定义了网关处理的事件类型
type EventType string

const (
	// 语音相关事件
	EventTypeSpeechStarted  EventType = "speech_started"  // 检测到学习者开口
	EventTypeSpeechStopped  EventType = "speech_stopped"  // 检测到学习者停顿
	EventTypeASRFinal       EventType = "asr_final"       // 最终转写（开始一轮）
	EventTypeTTSStarted     EventType = "tts_started"     // TTS开始播放
	EventTypeTTSCompleted   EventType = "tts_completed"   // TTS完成播放
	EventTypeTTSInterrupted EventType = "tts_interrupted" // TTS被打断

	// 客户端控制事件
	EventTypeTextInput     EventType = "text_input"     // 键盘输入的一句话（降级路径）
	EventTypeBargeIn       EventType = "barge_in"       // 插话中断
	EventTypeExitRequested EventType = "exit_requested" // 退出请求

	// 输出事件
	EventTypeAssistantText EventType = "assistant_text" // 实际念出的文本
	EventTypeTurnPayload   EventType = "turn_payload"   // 一轮的完整回复（含情绪）
	EventTypeError         EventType = "error"
)

// ClientMessage 客户端发送给网关的消息（WebSocket文本帧）
type ClientMessage struct {
	Type     EventType `json:"type"`
	EventID  string    `json:"event_id,omitempty"`  // 幂等去重
	Text     string    `json:"text,omitempty"`      // 文本输入（降级路径）
	ClientTS time.Time `json:"client_ts,omitempty"` // 客户端时间戳
}

// ServerMessage 网关发送给客户端的消息
type ServerMessage struct {
	Type     EventType              `json:"type"`
	Seq      int64                  `json:"seq,omitempty"`     // 服务端序号
	TurnID   string                 `json:"turn_id,omitempty"` // 轮次关联
	Text     string                 `json:"text,omitempty"`    // 文本内容
	Payload  *model.ResponsePayload `json:"payload,omitempty"` // 一轮回复
	ServerTS time.Time              `json:"server_ts"`         // 服务端时间戳
	Error    string                 `json:"error,omitempty"`   // 错误信息
}

// RealtimeSessionUpdate 用于更新Realtime会话配置
type RealtimeSessionUpdate struct {
	Type    string                `json:"type"` // "session.update"
	Session RealtimeSessionConfig `json:"session"`
}

// RealtimeSessionConfig Realtime会话配置
type RealtimeSessionConfig struct {
	Modalities              []string                 `json:"modalities,omitempty"`         // ["text", "audio"]
	Instructions            string                   `json:"instructions,omitempty"`       // System prompt
	Voice                   string                   `json:"voice,omitempty"`              // alloy/echo/ballad
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"` // pcm16/g711_ulaw/g711_alaw
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetectionConfig     `json:"turn_detection,omitempty"` // VAD配置
	ToolChoice              string                   `json:"tool_choice,omitempty"`
	Temperature             float64                  `json:"temperature,omitempty"`
	MaxResponseOutputTokens int                      `json:"max_response_output_tokens,omitempty"`
}

// InputAudioTranscription 输入音频转写配置
type InputAudioTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// TurnDetectionConfig VAD（语音活动检测）配置
type TurnDetectionConfig struct {
	Type              string  `json:"type"`                          // "server_vad"
	Threshold         float64 `json:"threshold,omitempty"`           // 0.0-1.0
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`   // 开始前填充
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"` // 静音多久算结束
	// CreateResponse 必须为 false：模型从不自己开口，回复只由控制器触发。
	CreateResponse    bool `json:"create_response"`
	InterruptResponse bool `json:"interrupt_response"`
}

// RealtimeResponseCreate 创建回复指令（手动控制）
type RealtimeResponseCreate struct {
	Type     string                       `json:"type"`               // "response.create"
	EventID  string                       `json:"event_id,omitempty"` // 出错时 error.event_id 回指
	Response RealtimeResponseCreateConfig `json:"response,omitempty"`
}

// RealtimeResponseCreateConfig 回复创建配置
type RealtimeResponseCreateConfig struct {
	Modalities   []string          `json:"modalities,omitempty"`   // ["text", "audio"]
	Instructions string            `json:"instructions,omitempty"` // 本次回复的指令
	Voice        string            `json:"voice,omitempty"`
	Temperature  float64           `json:"temperature,omitempty"`
	ToolChoice   string            `json:"tool_choice,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"` // 回显在 response.created 中，用于关联
}

// RealtimeResponseCancel 取消当前回复（插话中断时使用）
type RealtimeResponseCancel struct {
	Type       string `json:"type"`                  // "response.cancel"
	ResponseID string `json:"response_id,omitempty"` // 可选，不传则取消所有进行中的
}

// RealtimeInputAudioBufferAppend 追加音频数据
type RealtimeInputAudioBufferAppend struct {
	Type  string `json:"type"`  // "input_audio_buffer.append"
	Audio string `json:"audio"` // Base64编码的音频数据
}

// realtimeResponse 是 response.created / response.done 中的 response 字段
type realtimeResponse struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata"`
	StatusDetails *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
		Error  *struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"status_details"`
	Output []struct {
		ID      string `json:"id"`
		Type    string `json:"type"` // "message"/"function_call"
		Content []struct {
			Type       string `json:"type"` // "audio"/"text"
			Text       string `json:"text"`
			Transcript string `json:"transcript"`
		} `json:"content"`
	} `json:"output"`
}

// hasSpeech 报告输出里是否有带文字或转写的 message 项
func (r realtimeResponse) hasSpeech() bool {
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Text != "" || part.Transcript != "" {
				return true
			}
		}
	}
	return false
}
