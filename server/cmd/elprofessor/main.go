package main

import (
	"fmt"
	"log"
	"os"

	"el-professor/server/internal/config"
	"el-professor/server/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	// .env 只用于本地开发，缺失时忽略
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "elprofessor",
		Short:         "Spanish tutoring dialogue controller for a small desktop robot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "config file path")

	root.AddCommand(newServeCmd(), newChatCmd(), newPersonasCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig 读取配置并初始化进程日志；返回的 cleanup 刷新并还原全局日志。
func loadConfig() (*config.Config, *zap.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	z, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	restore := logging.Redirect(z)
	cleanup := func() {
		restore()
		_ = z.Sync()
	}
	return cfg, z, cleanup, nil
}

func componentLogger(z *zap.Logger, name string) *log.Logger {
	return logging.StdLog(z, name)
}
