package model

import "errors"

var (
	// ErrAmbiguousInput 纠错引擎无法有把握地分类；按 Minor 兜底，不上抛。
	ErrAmbiguousInput = errors.New("ambiguous input")
	// ErrSpeechTransport 语音输入/输出协作方不可用；本轮作废，唯一会上抛给调用方的错误。
	ErrSpeechTransport = errors.New("speech transport failure")
	// ErrUnsupportedLevelTransition 估计的档位跳变超过一档；被截断，不拒绝。
	ErrUnsupportedLevelTransition = errors.New("unsupported level transition")
	// ErrVisualUnavailable 摄像头不可用；回复中明确说明无法确认。
	ErrVisualUnavailable = errors.New("visual collaborator unavailable")
	// ErrSessionEnded 会话已结束，在途轮次被丢弃。
	ErrSessionEnded = errors.New("session ended")
)
