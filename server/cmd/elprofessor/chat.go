package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"el-professor/server/internal/embodiment"
	"el-professor/server/internal/model"
	"el-professor/server/internal/orchestrator"
	"el-professor/server/internal/turngate"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		personaID string
		learner   string
		level     string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the tutor from the terminal (text channel)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, z, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			orch, _, err := buildOrchestrator(cfg, componentLogger(z, "orchestrator"))
			if err != nil {
				return err
			}
			body, err := embodiment.New(cfg.Embodiment, componentLogger(z, "embodiment"))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			state, p, err := orch.StartSession(ctx, model.CreateSessionRequest{
				PersonaID:       personaID,
				LearnerLanguage: learner,
				Level:           level,
			})
			if err != nil {
				return err
			}
			defer orch.EndSession(context.WithoutCancel(ctx), state.SessionID)

			gate := turngate.NewGate(state.SessionID, func(ctx context.Context, turn turngate.Turn) (*model.ResponsePayload, error) {
				return orch.HandleTurn(ctx, state.SessionID, turn.Utterance, orchestrator.Channel{Body: body, OnEmit: turn.BeginEmit})
			}, turngate.Options{QueueSize: cfg.Tutor.QueueSize, TurnTimeout: cfg.Tutor.TurnTimeout}, componentLogger(z, "turngate"))
			gate.Open()
			defer gate.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s, %s). Escribe y pulsa Enter; Ctrl-D para salir.\n", p.Name, p.TargetLanguage, state.CurrentLevel)
			return chatLoop(ctx, cmd.InOrStdin(), out, gate, orch.Hiccup(state.SessionID))
		},
	}
	cmd.Flags().StringVarP(&personaID, "persona", "p", "", "persona id (defaults to tutor.default_persona)")
	cmd.Flags().StringVar(&learner, "learner", "", "learner language for translations (defaults to the persona's)")
	cmd.Flags().StringVar(&level, "level", "", "starting level: beginner | elementary | intermediate | advanced | expert")
	return cmd
}

// chatLoop 每一行输入就是一句完整发言。
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, gate *turngate.Gate, hiccup string) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()

		payload, err := gate.Submit(ctx, model.Utterance{ID: uuid.NewString(), RawText: line})
		switch {
		case err == nil && payload == nil:
			continue
		case errors.Is(err, model.ErrSpeechTransport):
			fmt.Fprintln(out, hiccup)
			continue
		case err != nil:
			return err
		}

		fmt.Fprintln(out, payload.SpokenText)
		var cue string
		if payload.EmotionCue != nil {
			cue = payload.EmotionCue.Emotion
		}
		fmt.Fprintf(out, "  [%s · %s · %s]\n", strings.ToLower(string(payload.Classification)), payload.Level, cue)
	}
}
