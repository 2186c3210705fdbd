package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"el-professor/server/internal/config"
)

const (
	anthropicVersion = "2023-06-01"
	// maxAnthropicResponseBytes 限制读取的响应体大小。
	maxAnthropicResponseBytes = 1 << 20
)

// AnthropicClient 直接调用 Messages API。
// Messages API 没有 json_schema 模式，schema 以文字形式附在 system 里，输出由 DecodeJSON 兜底解析。
type AnthropicClient struct {
	config     config.LLMProviderConfig
	httpClient *http.Client
}

// NewAnthropicClient 创建 Anthropic 客户端
func NewAnthropicClient(cfg config.LLMProviderConfig) *AnthropicClient {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.anthropic.com/v1"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &AnthropicClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type   string           `json:"type"` // "text" / "image"
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	StopReason string           `json:"stop_reason"`
	Content    []anthropicBlock `json:"content"`
}

// APIError 是 Messages API 返回的非 2xx 响应。
type APIError struct {
	Status  int
	Type    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("anthropic: status %d: %s: %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic: status %d: %s", e.Status, e.Body)
}

// Complete 完成文本生成（Anthropic）。
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	req := anthropicRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	var system []string
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		m, err := toAnthropicMessage(msg)
		if err != nil {
			return "", fmt.Errorf("anthropic: %w", err)
		}
		req.Messages = append(req.Messages, m)
	}
	if len(req.Messages) == 0 {
		return "", errors.New("anthropic: no input messages")
	}
	if schema != nil {
		raw, err := json.Marshal(schema.Schema)
		if err != nil {
			return "", fmt.Errorf("anthropic: marshal schema: %w", err)
		}
		system = append(system, "Respond with a single JSON object matching this schema, and nothing else:\n"+string(raw))
	}
	req.System = strings.Join(system, "\n\n")

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("anthropic: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic: execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAnthropicResponseBytes))
	if err != nil {
		return "", fmt.Errorf("anthropic: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", newAPIError(resp.StatusCode, respBody)
	}

	var out anthropicResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("anthropic: unmarshal response: %w", err)
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("anthropic: no text content in response (stop_reason %s)", out.StopReason)
	}
	return text.String(), nil
}

func toAnthropicMessage(msg Message) (anthropicMessage, error) {
	role := msg.Role
	if role != "assistant" {
		role = "user"
	}
	m := anthropicMessage{Role: role}
	for _, url := range msg.Images {
		src, err := parseDataURL(url)
		if err != nil {
			return anthropicMessage{}, err
		}
		m.Content = append(m.Content, anthropicBlock{Type: "image", Source: src})
	}
	if msg.Content != "" || len(m.Content) == 0 {
		m.Content = append(m.Content, anthropicBlock{Type: "text", Text: msg.Content})
	}
	return m, nil
}

// parseDataURL 把 data:<media>;base64,<data> 拆成 Anthropic 的 base64 图片来源。
func parseDataURL(url string) (*anthropicSource, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return nil, fmt.Errorf("image must be a data URL")
	}
	meta, data, ok := strings.Cut(rest, ",")
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !ok || !isBase64 || mediaType == "" || data == "" {
		return nil, fmt.Errorf("image must be a base64 data URL")
	}
	return &anthropicSource{Type: "base64", MediaType: mediaType, Data: data}, nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Body: strings.TrimSpace(string(body))}
	var payload struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Type = payload.Error.Type
		apiErr.Message = payload.Error.Message
	}
	return apiErr
}
