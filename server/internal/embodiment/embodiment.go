package embodiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"el-professor/server/internal/config"
	"el-professor/server/internal/model"
)

// Direction 是头部朝向。
type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionFront Direction = "front"
)

// HeadPose 头部目标姿态（角度制）。
type HeadPose struct {
	RollDeg  float64 `json:"roll_deg"`
	PitchDeg float64 `json:"pitch_deg"`
	YawDeg   float64 `json:"yaw_deg"`
	Duration float64 `json:"duration"`
}

// poses 每个方向对应的姿态；front 为中位。
var poses = map[Direction]HeadPose{
	DirectionLeft:  {YawDeg: 40, Duration: 1},
	DirectionRight: {YawDeg: -40, Duration: 1},
	DirectionUp:    {PitchDeg: -30, Duration: 1},
	DirectionDown:  {PitchDeg: 30, Duration: 1},
	DirectionFront: {Duration: 1},
}

// Directions 返回所有合法方向，顺序固定。
func Directions() []Direction {
	return []Direction{DirectionLeft, DirectionRight, DirectionUp, DirectionDown, DirectionFront}
}

// PoseFor 返回方向对应的姿态。
func PoseFor(d Direction) (HeadPose, error) {
	p, ok := poses[Direction(strings.ToLower(string(d)))]
	if !ok {
		return HeadPose{}, fmt.Errorf("unknown direction %q", d)
	}
	return p, nil
}

// Body 是机器人身体。所有动作都是尽力而为，失败只记录不重试。
//
// SetHeadTracking 是学习者的偏好，只由学习者改动；
// SetSpeaking 是说话期间的姿态，守护进程在说话时暂停追踪，结束后回到学习者的偏好。
type Body interface {
	PlayEmotion(ctx context.Context, cue model.EmotionCue) error
	SetSpeaking(ctx context.Context, speaking bool) error
	SetHeadTracking(ctx context.Context, enabled bool) error
	MoveHead(ctx context.Context, d Direction) error
}

// New 按配置创建具身实现：http 访问机器人守护进程，log 只打印，none 什么都不做。
func New(cfg config.EmbodimentConfig, logger *log.Logger) (Body, error) {
	if logger == nil {
		logger = log.Default()
	}
	switch cfg.Mode {
	case "http":
		return NewClient(cfg, logger), nil
	case "log", "":
		return &LogBody{logger: logger}, nil
	case "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown embodiment mode %q", cfg.Mode)
	}
}

// Client 通过 HTTP 调用机器人守护进程。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

func NewClient(cfg config.EmbodimentConfig, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) PlayEmotion(ctx context.Context, cue model.EmotionCue) error {
	return c.post(ctx, "/api/emotions/play", map[string]any{
		"emotion":  cue.Emotion,
		"polarity": cue.Polarity,
	})
}

func (c *Client) SetSpeaking(ctx context.Context, speaking bool) error {
	return c.post(ctx, "/api/speaking", map[string]any{"speaking": speaking})
}

func (c *Client) SetHeadTracking(ctx context.Context, enabled bool) error {
	return c.post(ctx, "/api/head-tracking", map[string]any{"enabled": enabled})
}

func (c *Client) MoveHead(ctx context.Context, d Direction) error {
	pose, err := PoseFor(d)
	if err != nil {
		return err
	}
	return c.post(ctx, "/api/head/goto", pose)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("robot daemon error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// LogBody 没有机器人时使用，只打印动作。
type LogBody struct {
	logger *log.Logger
}

func NewLogBody(logger *log.Logger) *LogBody {
	if logger == nil {
		logger = log.Default()
	}
	return &LogBody{logger: logger}
}

func (b *LogBody) PlayEmotion(_ context.Context, cue model.EmotionCue) error {
	b.logger.Printf("[Embodiment] play emotion=%s polarity=%s", cue.Emotion, cue.Polarity)
	return nil
}

func (b *LogBody) SetSpeaking(_ context.Context, speaking bool) error {
	b.logger.Printf("[Embodiment] speaking=%v", speaking)
	return nil
}

func (b *LogBody) SetHeadTracking(_ context.Context, enabled bool) error {
	b.logger.Printf("[Embodiment] head tracking enabled=%v", enabled)
	return nil
}

func (b *LogBody) MoveHead(_ context.Context, d Direction) error {
	if _, err := PoseFor(d); err != nil {
		return err
	}
	b.logger.Printf("[Embodiment] move head direction=%s", d)
	return nil
}

// Noop 不做任何动作。
type Noop struct{}

func (Noop) PlayEmotion(context.Context, model.EmotionCue) error { return nil }
func (Noop) SetSpeaking(context.Context, bool) error             { return nil }
func (Noop) SetHeadTracking(context.Context, bool) error         { return nil }
func (Noop) MoveHead(_ context.Context, d Direction) error {
	_, err := PoseFor(d)
	return err
}
