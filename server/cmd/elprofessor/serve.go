package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"el-professor/server/internal/api"
	"el-professor/server/internal/embodiment"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and realtime voice server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, z, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()
			if err := cfg.ValidateRealtime(); err != nil {
				return err
			}

			orch, personas, err := buildOrchestrator(cfg, componentLogger(z, "orchestrator"))
			if err != nil {
				return err
			}
			body, err := embodiment.New(cfg.Embodiment, componentLogger(z, "embodiment"))
			if err != nil {
				return err
			}
			camera, describer, err := buildVision(cfg)
			if err != nil {
				return err
			}

			server := api.NewServer(cfg, orch, personas, body, camera, describer, componentLogger(z, "api"))
			if addr == "" {
				addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			}
			httpServer := &http.Server{
				Addr:        addr,
				Handler:     server.Routes(),
				ReadTimeout: cfg.Server.ReadTimeout,
				// 语音流是长连接，不设置 WriteTimeout
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				z.Info("el professor listening", zap.String("addr", addr), zap.String("persona", cfg.Tutor.DefaultPersona))
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			z.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.host:server.port)")
	return cmd
}
