// Package tool 是学习者界面可直接下发的机器人指令（开关人脸追踪、转头）。
// 指令不暴露给语音模型：模型只朗读控制器组好的文本。
package tool

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// ToolDefinition 描述一条指令，参数用 JSON Schema 表示，前端据此生成控件
type ToolDefinition struct {
	Type        string         `json:"type"`        // "function"
	Name        string         `json:"name"`        // 指令名称
	Description string         `json:"description"` // 指令描述
	Parameters  map[string]any `json:"parameters"`  // JSON Schema格式的参数定义
}

// Result 是一次指令执行的结果。
type Result struct {
	// Output 原样返回给调用方（JSON 字符串）。
	Output string
}

// ToolExecutor 指令执行器接口
type ToolExecutor interface {
	// GetDefinition 返回指令定义（GET /api/robot/commands）
	GetDefinition() ToolDefinition

	// Execute 执行工具调用
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// ToolRegistry 工具注册表
type ToolRegistry struct {
	tools map[string]ToolExecutor
}

// NewToolRegistry 创建工具注册表
func NewToolRegistry(executors ...ToolExecutor) *ToolRegistry {
	r := &ToolRegistry{
		tools: make(map[string]ToolExecutor),
	}
	for _, e := range executors {
		r.Register(e)
	}
	return r
}

// Register 注册工具
func (r *ToolRegistry) Register(executor ToolExecutor) {
	def := executor.GetDefinition()
	r.tools[def.Name] = executor
}

// Get 获取工具执行器
func (r *ToolRegistry) Get(name string) (ToolExecutor, bool) {
	executor, ok := r.tools[name]
	return executor, ok
}

// GetAllDefinitions 获取所有指令定义，按名称排序
func (r *ToolRegistry) GetAllDefinitions() []ToolDefinition {
	definitions := make([]ToolDefinition, 0, len(r.tools))
	for _, executor := range r.tools {
		definitions = append(definitions, executor.GetDefinition())
	}
	sort.Slice(definitions, func(i, j int) bool { return definitions[i].Name < definitions[j].Name })
	return definitions
}

// Execute 执行工具调用
func (r *ToolRegistry) Execute(ctx context.Context, name string, argsJSON string) (Result, error) {
	executor, ok := r.Get(name)
	if !ok {
		return Result{}, &ToolNotFoundError{ToolName: name}
	}

	// 无参指令允许空请求体
	args := map[string]any{}
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return Result{}, &InvalidArgsError{ToolName: name, Err: err}
		}
	}

	return executor.Execute(ctx, args)
}

// ToolNotFoundError 工具未找到错误
type ToolNotFoundError struct {
	ToolName string
}

func (e *ToolNotFoundError) Error() string {
	return "tool not found: " + e.ToolName
}

// InvalidArgsError 无效参数错误
type InvalidArgsError struct {
	ToolName string
	Err      error
}

func (e *InvalidArgsError) Error() string {
	return "invalid args for tool " + e.ToolName + ": " + e.Err.Error()
}

func (e *InvalidArgsError) Unwrap() error { return e.Err }

// jsonOutput 把结果编码为 JSON 字符串。
func jsonOutput(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"success":false,"error":"encode result"}`
	}
	return string(data)
}
