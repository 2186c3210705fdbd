package tool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"el-professor/server/internal/embodiment"
)

type fakeBody struct {
	tracking []bool
	moves    []embodiment.Direction
	err      error
}

func (b *fakeBody) SetHeadTracking(_ context.Context, enabled bool) error {
	b.tracking = append(b.tracking, enabled)
	return b.err
}

func (b *fakeBody) MoveHead(_ context.Context, d embodiment.Direction) error {
	b.moves = append(b.moves, d)
	return b.err
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	return m
}

func registry(body *fakeBody) *ToolRegistry {
	return NewToolRegistry(NewHeadTrackingTool(body), NewMoveHeadTool(body))
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	defs := registry(&fakeBody{}).GetAllDefinitions()
	var names []string
	for _, d := range defs {
		if d.Type != "function" {
			t.Fatalf("expected function type, got %q", d.Type)
		}
		names = append(names, d.Name)
	}
	if strings.Join(names, ",") != "head_tracking,move_head" {
		t.Fatalf("unexpected tool order %v", names)
	}
}

func TestRegistryErrors(t *testing.T) {
	r := registry(&fakeBody{})

	var notFound *ToolNotFoundError
	if _, err := r.Execute(context.Background(), "play_emotion", "{}"); !errors.As(err, &notFound) {
		t.Fatalf("expected ToolNotFoundError, got %v", err)
	}
	var invalid *InvalidArgsError
	if _, err := r.Execute(context.Background(), "move_head", "{not json"); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgsError, got %v", err)
	}
	if _, err := r.Execute(context.Background(), "move_head", `{"direction":"behind"}`); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgsError for unknown direction, got %v", err)
	}
	if _, err := r.Execute(context.Background(), "head_tracking", `{"enabled":"yes"}`); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgsError for non-boolean, got %v", err)
	}
}

func TestHeadTools(t *testing.T) {
	body := &fakeBody{}
	r := registry(body)

	res, err := r.Execute(context.Background(), "head_tracking", `{"enabled":false}`)
	if err != nil {
		t.Fatalf("head_tracking: %v", err)
	}
	if decode(t, res.Output)["success"] != true || len(body.tracking) != 1 || body.tracking[0] {
		t.Fatalf("unexpected head_tracking result %q %v", res.Output, body.tracking)
	}

	res, err = r.Execute(context.Background(), "move_head", `{"direction":"left"}`)
	if err != nil {
		t.Fatalf("move_head: %v", err)
	}
	if decode(t, res.Output)["direction"] != "left" || len(body.moves) != 1 {
		t.Fatalf("unexpected move_head result %q", res.Output)
	}

	// 机器人失败时结果里带错误，由界面提示
	body.err = errors.New("motor busy")
	res, err = r.Execute(context.Background(), "move_head", `{"direction":"up"}`)
	if err != nil {
		t.Fatalf("move_head failure should be reported in output, got %v", err)
	}
	if decode(t, res.Output)["success"] != false {
		t.Fatalf("expected failure output, got %q", res.Output)
	}
}

func TestEmptyArgsAccepted(t *testing.T) {
	var invalid *InvalidArgsError
	if _, err := registry(&fakeBody{}).Execute(context.Background(), "head_tracking", "  "); !errors.As(err, &invalid) {
		t.Fatalf("empty body should reach the command and fail its own validation, got %v", err)
	}
}
