package tool

import (
	"context"
	"errors"
	"fmt"

	"el-professor/server/internal/embodiment"
)

// HeadTracker 开关头部追踪。
type HeadTracker interface {
	SetHeadTracking(ctx context.Context, enabled bool) error
}

// HeadTrackingTool 开关人脸追踪，这是学习者的偏好，说话时的动作不会改动它。
type HeadTrackingTool struct {
	body HeadTracker
}

func NewHeadTrackingTool(body HeadTracker) *HeadTrackingTool {
	return &HeadTrackingTool{body: body}
}

func (t *HeadTrackingTool) GetDefinition() ToolDefinition {
	return ToolDefinition{
		Type:        "function",
		Name:        "head_tracking",
		Description: "Turns the robot face tracking on or off.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"enabled": map[string]any{
					"type":        "boolean",
					"description": "true to follow the learner face; false to stop",
				},
			},
			"required": []string{"enabled"},
		},
	}
}

func (t *HeadTrackingTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	enabled, ok := args["enabled"].(bool)
	if !ok {
		return Result{}, &InvalidArgsError{ToolName: "head_tracking", Err: errors.New("enabled must be a boolean")}
	}
	if err := t.body.SetHeadTracking(ctx, enabled); err != nil {
		return Result{Output: jsonOutput(map[string]any{"success": false, "error": err.Error()})}, nil
	}
	return Result{Output: jsonOutput(map[string]any{"success": true, "enabled": enabled})}, nil
}

// HeadMover 转动头部。
type HeadMover interface {
	MoveHead(ctx context.Context, d embodiment.Direction) error
}

// MoveHeadTool 把头转向某个方向。
type MoveHeadTool struct {
	body HeadMover
}

func NewMoveHeadTool(body HeadMover) *MoveHeadTool {
	return &MoveHeadTool{body: body}
}

func (t *MoveHeadTool) GetDefinition() ToolDefinition {
	directions := embodiment.Directions()
	enum := make([]string, len(directions))
	for i, d := range directions {
		enum[i] = string(d)
	}
	return ToolDefinition{
		Type:        "function",
		Name:        "move_head",
		Description: "Moves the robot head in a direction: left, right, up, down or front (neutral).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"direction": map[string]any{
					"type":        "string",
					"enum":        enum,
					"description": "where to look",
				},
			},
			"required": []string{"direction"},
		},
	}
}

func (t *MoveHeadTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	raw, ok := args["direction"].(string)
	if !ok || raw == "" {
		return Result{}, &InvalidArgsError{ToolName: "move_head", Err: errors.New("direction must be a string")}
	}
	d := embodiment.Direction(raw)
	if _, err := embodiment.PoseFor(d); err != nil {
		return Result{}, &InvalidArgsError{ToolName: "move_head", Err: err}
	}
	if err := t.body.MoveHead(ctx, d); err != nil {
		return Result{Output: jsonOutput(map[string]any{"success": false, "error": err.Error()})}, nil
	}
	return Result{Output: jsonOutput(map[string]any{
		"success":   true,
		"direction": d,
		"message":   fmt.Sprintf("head moved %s", d),
	})}, nil
}
