package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"el-professor/server/internal/config"
	"el-professor/server/internal/embodiment"
	"el-professor/server/internal/model"
	"el-professor/server/internal/orchestrator"
	"el-professor/server/internal/turngate"
)

func TestChatLoop(t *testing.T) {
	cfg := &config.Config{
		Paths: config.PathsConfig{Personas: "../../configs/personas", Languages: "../../configs/languages"},
		Tutor: config.TutorConfig{DefaultPersona: "el_professor", Evaluator: "phrasebook", Seed: 3},
	}
	orch, _, err := buildOrchestrator(cfg, nil)
	if err != nil {
		t.Fatalf("build orchestrator: %v", err)
	}
	ctx := context.Background()
	state, _, err := orch.StartSession(ctx, model.CreateSessionRequest{})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	gate := turngate.NewGate(state.SessionID, func(ctx context.Context, turn turngate.Turn) (*model.ResponsePayload, error) {
		return orch.HandleTurn(ctx, state.SessionID, turn.Utterance, orchestrator.Channel{Body: embodiment.Noop{}, OnEmit: turn.BeginEmit})
	}, turngate.Options{}, nil)
	gate.Open()
	defer gate.Close()

	var out bytes.Buffer
	in := strings.NewReader("Hola\n\n   \nMe gusta el café.\n")
	if err := chatLoop(ctx, in, &out, gate, orch.Hiccup(state.SessionID)); err != nil {
		t.Fatalf("chat loop: %v", err)
	}

	// 两句有效发言各得到一行状态，空行不产生回复
	if got := strings.Count(out.String(), "  ["); got != 2 {
		t.Fatalf("expected 2 replies, got %d:\n%s", got, out.String())
	}
	session, err := orch.Session(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if session.TurnCount != 2 {
		t.Fatalf("expected turn count 2, got %d", session.TurnCount)
	}
}

func TestBuildVision(t *testing.T) {
	cfg := &config.Config{}
	camera, describer, err := buildVision(cfg)
	if err != nil || camera != nil || describer != nil {
		t.Fatalf("disabled camera: got %v %v %v", camera, describer, err)
	}

	cfg.Camera = config.CameraConfig{Enabled: true, SnapshotURL: "http://localhost:8000/api/camera/snapshot"}
	camera, describer, err = buildVision(cfg)
	if err != nil || camera == nil || describer != nil {
		t.Fatalf("camera without describer: got %v %v %v", camera, describer, err)
	}

	cfg.Camera.Describe = true
	cfg.LLM = config.LLMConfig{Provider: "anthropic", Anthropic: config.LLMProviderConfig{APIKey: "dummy", Model: "claude-test"}}
	if _, describer, err = buildVision(cfg); err != nil || describer == nil {
		t.Fatalf("expected describer client, got %v %v", describer, err)
	}

	cfg.LLM.Provider = "mystery"
	if _, _, err = buildVision(cfg); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
