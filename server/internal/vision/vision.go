package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"el-professor/server/internal/config"
	"el-professor/server/internal/llm"
	"el-professor/server/internal/model"
)

// maxSnapshotBytes 单张快照上限。
const maxSnapshotBytes = 4 << 20

// Camera 返回当前画面的 JPEG。
type Camera interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// HTTPCamera 从机器人守护进程的快照接口取图。
type HTTPCamera struct {
	url        string
	httpClient *http.Client
}

func NewHTTPCamera(cfg config.CameraConfig) *HTTPCamera {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPCamera{url: cfg.SnapshotURL, httpClient: &http.Client{Timeout: timeout}}
}

func (c *HTTPCamera) Snapshot(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot error (status %d)", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) > maxSnapshotBytes {
		return nil, fmt.Errorf("snapshot larger than %d bytes", maxSnapshotBytes)
	}
	return data, nil
}

// Observation 是一次视觉查询的结果：要么有画面，要么是如实的“无法确认”。
type Observation struct {
	JPEG   []byte
	Width  int
	Height int
	// Admission 画面不可用时对学习者说的话，不编造画面内容。
	Admission string
}

// Available 画面是否可用。
func (o Observation) Available() bool { return len(o.JPEG) > 0 }

// DataURL 用于 input_image 的 data URL。
func (o Observation) DataURL() string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(o.JPEG)
}

// Grounder 把摄像头包装成可靠的视觉来源。摄像头缺失、失败或返回非 JPEG 数据时
// 返回 ErrVisualUnavailable 和 Admission。
type Grounder struct {
	camera       Camera
	describer    llm.Client
	cannotVerify string
	logger       *log.Logger
}

// NewGrounder camera 为 nil 表示没有摄像头。
func NewGrounder(camera Camera, cannotVerify string, logger *log.Logger) *Grounder {
	if logger == nil {
		logger = log.Default()
	}
	return &Grounder{camera: camera, cannotVerify: cannotVerify, logger: logger}
}

// Observe 取一帧画面。
func (g *Grounder) Observe(ctx context.Context) (Observation, error) {
	unavailable := Observation{Admission: g.cannotVerify}
	if g.camera == nil {
		return unavailable, fmt.Errorf("%w: no camera configured", model.ErrVisualUnavailable)
	}

	data, err := g.camera.Snapshot(ctx)
	if err != nil {
		g.logger.Printf("[Vision] snapshot failed: %v", err)
		return unavailable, fmt.Errorf("%w: %v", model.ErrVisualUnavailable, err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		g.logger.Printf("[Vision] snapshot is not a valid jpeg: %v", err)
		return unavailable, fmt.Errorf("%w: invalid jpeg: %v", model.ErrVisualUnavailable, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return unavailable, fmt.Errorf("%w: empty frame", model.ErrVisualUnavailable)
	}
	return Observation{JPEG: data, Width: cfg.Width, Height: cfg.Height}, nil
}

// WithDescriber 设置看图回答问题的多模态模型。
func (g *Grounder) WithDescriber(client llm.Client) *Grounder {
	g.describer = client
	return g
}

const describeInstructions = `You look through a tutoring robot's camera.
Answer the learner's question in one short, simple sentence in the language with code %q.
Describe only what is clearly visible in the image. If the image does not show enough to answer, say you cannot tell.`

// Describe 取一帧画面，让多模态模型用目标语言一句话回答 question。
// 没有画面或模型时返回 ErrVisualUnavailable，调用方改为如实说明。
func (g *Grounder) Describe(ctx context.Context, question, language string) (string, error) {
	obs, err := g.Observe(ctx)
	if err != nil {
		return "", err
	}
	if g.describer == nil {
		return "", fmt.Errorf("%w: no describer configured", model.ErrVisualUnavailable)
	}

	answer, err := g.describer.Complete(ctx, []llm.Message{
		{Role: "system", Content: fmt.Sprintf(describeInstructions, language)},
		{Role: "user", Content: question, Images: []string{obs.DataURL()}},
	}, nil)
	if err != nil {
		g.logger.Printf("[Vision] describe failed: %v", err)
		return "", fmt.Errorf("%w: describe: %v", model.ErrVisualUnavailable, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("%w: empty description", model.ErrVisualUnavailable)
	}
	return answer, nil
}

// IsUnavailable 判断错误是否来自视觉不可用。
func IsUnavailable(err error) bool {
	return errors.Is(err, model.ErrVisualUnavailable)
}
