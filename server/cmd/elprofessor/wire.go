package main

import (
	"fmt"
	"log"

	"el-professor/server/internal/config"
	"el-professor/server/internal/correction"
	"el-professor/server/internal/langpack"
	"el-professor/server/internal/llm"
	"el-professor/server/internal/orchestrator"
	"el-professor/server/internal/persona"
	"el-professor/server/internal/session"
	"el-professor/server/internal/timeline"
	"el-professor/server/internal/vision"
)

// buildOrchestrator 加载人设与语言包，按配置选择纠错评估器。
func buildOrchestrator(cfg *config.Config, logger *log.Logger) (*orchestrator.Orchestrator, *persona.Registry, error) {
	personas, err := persona.LoadDir(cfg.Paths.Personas)
	if err != nil {
		return nil, nil, fmt.Errorf("load personas: %w", err)
	}
	packs, err := langpack.LoadDir(cfg.Paths.Languages)
	if err != nil {
		return nil, nil, fmt.Errorf("load language packs: %w", err)
	}

	var evaluator func(string) correction.Evaluator
	if cfg.Tutor.Evaluator == "llm" {
		client, err := llm.NewClient(cfg.LLM)
		if err != nil {
			return nil, nil, fmt.Errorf("llm client: %w", err)
		}
		evaluator = func(target string) correction.Evaluator {
			return correction.NewLLMEvaluator(client, target)
		}
	}

	orch, err := orchestrator.New(session.NewInMemoryStore(), timeline.NewInMemoryStore(cfg.Tutor.TimelineTurns), orchestrator.Options{
		Personas:       personas,
		Packs:          packs,
		Evaluator:      evaluator,
		DefaultPersona: cfg.Tutor.DefaultPersona,
		MemoSize:       cfg.Tutor.MemoSize,
		Seed:           cfg.Tutor.Seed,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return orch, personas, nil
}

// buildVision 摄像头与看图模型都是可选的；缺任何一个，视觉问题都只会得到如实的“看不到”。
func buildVision(cfg *config.Config) (vision.Camera, llm.Client, error) {
	if !cfg.Camera.Enabled {
		return nil, nil, nil
	}
	camera := vision.NewHTTPCamera(cfg.Camera)
	if !cfg.Camera.Describe {
		return camera, nil, nil
	}
	describer, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("describer client: %w", err)
	}
	return camera, describer, nil
}
