package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"el-professor/server/internal/config"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIClient 基于 Responses API 的客户端，结构化输出走 json_schema 格式。
type OpenAIClient struct {
	config config.LLMProviderConfig
	client *openai.Client
}

// NewOpenAIClient 创建 OpenAI 客户端
func NewOpenAIClient(cfg config.LLMProviderConfig, opts ...option.RequestOption) *OpenAIClient {
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIURL != "" {
		base = append(base, option.WithBaseURL(cfg.APIURL))
	}
	client := openai.NewClient(append(base, opts...)...)
	return &OpenAIClient{config: cfg, client: &client}
}

// Complete 完成文本生成（OpenAI）。system 消息合并为 Instructions，其余按角色进入输入列表。
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	var instructions []string
	var input []responses.ResponseInputItemUnionParam
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			instructions = append(instructions, msg.Content)
		case "assistant":
			input = append(input, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
		default:
			if len(msg.Images) > 0 {
				input = append(input, responses.ResponseInputItemParamOfMessage(userContent(msg), responses.EasyInputMessageRoleUser))
				continue
			}
			input = append(input, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		}
	}
	if len(input) == 0 {
		return "", errors.New("no input messages")
	}

	params := responses.ResponseNewParams{
		Model: c.config.Model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: input,
		},
	}
	if len(instructions) > 0 {
		params.Instructions = openai.String(strings.Join(instructions, "\n\n"))
	}
	if c.config.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(c.config.MaxTokens))
	}
	if !isOpenAIReasoningModel(c.config.Model) {
		params.Temperature = openai.Float(c.config.Temperature)
	}
	if schema != nil {
		format := &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:   schema.Name,
			Schema: schema.Schema,
			Strict: openai.Bool(schema.Strict),
			Type:   "json_schema",
		}
		if schema.Description != "" {
			format.Description = openai.String(schema.Description)
		}
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{OfJSONSchema: format},
		}
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("responses api: %w", err)
	}
	out := resp.OutputText()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("empty output (status %s)", resp.Status)
	}
	return out, nil
}

// userContent 组装带图片的用户输入；图片用低分辨率，回答只需要一句话。
func userContent(msg Message) responses.ResponseInputMessageContentListParam {
	content := responses.ResponseInputMessageContentListParam{}
	for _, url := range msg.Images {
		content = append(content, responses.ResponseInputContentUnionParam{
			OfInputImage: &responses.ResponseInputImageParam{
				Detail:   responses.ResponseInputImageDetailLow,
				ImageURL: openai.String(url),
			},
		})
	}
	if msg.Content != "" {
		content = append(content, responses.ResponseInputContentParamOfInputText(msg.Content))
	}
	return content
}

// isOpenAIReasoningModel reasoning 模型不接受 temperature。
func isOpenAIReasoningModel(model string) bool {
	return strings.HasPrefix(model, "gpt-5") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4")
}
