package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	LLM        LLMConfig        `yaml:"llm"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Tutor      TutorConfig      `yaml:"tutor"`
	Embodiment EmbodimentConfig `yaml:"embodiment"`
	Camera     CameraConfig     `yaml:"camera"`
	Logging    LoggingConfig    `yaml:"logging"`
	Paths      PathsConfig      `yaml:"paths"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// OpenAIConfig Realtime 语音通道配置
type OpenAIConfig struct {
	APIKey      string `yaml:"api_key"`
	RealtimeURL string `yaml:"realtime_url"`
	Model       string `yaml:"model"`
	// Voice 为空时使用人设的声音。
	Voice                   string `yaml:"voice"`
	MaxResponseOutputTokens int    `yaml:"max_response_output_tokens"`
}

// LLMConfig 纠错评估使用的文本模型
type LLMConfig struct {
	Provider  string            `yaml:"provider"` // "openai" or "anthropic"
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`
}

// LLMProviderConfig LLM 提供商配置
type LLMProviderConfig struct {
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type GatewayConfig struct {
	InputAudioFormat             string        `yaml:"input_audio_format"`
	OutputAudioFormat            string        `yaml:"output_audio_format"`
	InputAudioTranscriptionModel string        `yaml:"input_audio_transcription_model"`
	// TranscriptionLanguage 是学习者说话时转写使用的语言提示（留空则自动识别）。
	TranscriptionLanguage string        `yaml:"transcription_language"`
	PingInterval          time.Duration `yaml:"ping_interval"`
	ConnectAttempts       int           `yaml:"connect_attempts"`
	ConnectBackoff        time.Duration `yaml:"connect_backoff"`
}

// TutorConfig 对话控制器配置
type TutorConfig struct {
	DefaultPersona string `yaml:"default_persona"`
	// Evaluator 决定纠错评估器：llm | phrasebook
	Evaluator string `yaml:"evaluator"`
	MemoSize  int    `yaml:"memo_size"`
	QueueSize int    `yaml:"queue_size"`
	// TimelineTurns 每个会话审计日志保留的轮次数。
	TimelineTurns int `yaml:"timeline_turns"`
	// Seed 固定随机源（肯定语、幽默、情绪选择）；0 表示按时间取种。
	Seed        uint64        `yaml:"seed"`
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

// EmbodimentConfig 机器人具身层配置
type EmbodimentConfig struct {
	// Mode: http | log | none
	Mode    string        `yaml:"mode"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type CameraConfig struct {
	Enabled     bool          `yaml:"enabled"`
	SnapshotURL string        `yaml:"snapshot_url"`
	Timeout     time.Duration `yaml:"timeout"`
	// Describe 用 llm 段配置的多模态模型回答“你看到什么”；关闭时视觉问题一律如实说明看不到。
	Describe bool `yaml:"describe"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type PathsConfig struct {
	Personas  string `yaml:"personas"`
	Languages string `yaml:"languages"`
}

// Load 从文件加载配置，环境变量覆盖敏感信息
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Parse 解析 YAML、补默认值并应用环境变量覆盖，不做校验。
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.OpenAI.RealtimeURL == "" {
		c.OpenAI.RealtimeURL = "wss://api.openai.com/v1/realtime"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-realtime"
	}
	if c.Gateway.InputAudioFormat == "" {
		c.Gateway.InputAudioFormat = "pcm16"
	}
	if c.Gateway.OutputAudioFormat == "" {
		c.Gateway.OutputAudioFormat = "pcm16"
	}
	if c.Gateway.InputAudioTranscriptionModel == "" {
		c.Gateway.InputAudioTranscriptionModel = "gpt-4o-transcribe"
	}
	if c.Gateway.PingInterval == 0 {
		c.Gateway.PingInterval = 30 * time.Second
	}
	if c.Gateway.ConnectAttempts == 0 {
		c.Gateway.ConnectAttempts = 3
	}
	if c.Gateway.ConnectBackoff == 0 {
		c.Gateway.ConnectBackoff = time.Second
	}
	if c.Tutor.DefaultPersona == "" {
		c.Tutor.DefaultPersona = "el_professor"
	}
	if c.Tutor.Evaluator == "" {
		c.Tutor.Evaluator = "phrasebook"
	}
	if c.Tutor.MemoSize == 0 {
		c.Tutor.MemoSize = 1024
	}
	if c.Tutor.TimelineTurns == 0 {
		c.Tutor.TimelineTurns = 200
	}
	if c.Tutor.QueueSize == 0 {
		c.Tutor.QueueSize = 8
	}
	if c.Tutor.TurnTimeout == 0 {
		c.Tutor.TurnTimeout = 20 * time.Second
	}
	if c.Embodiment.Mode == "" {
		c.Embodiment.Mode = "log"
	}
	if c.Embodiment.Timeout == 0 {
		c.Embodiment.Timeout = 2 * time.Second
	}
	if c.Camera.Timeout == 0 {
		c.Camera.Timeout = 3 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Paths.Personas == "" {
		c.Paths.Personas = "configs/personas"
	}
	if c.Paths.Languages == "" {
		c.Paths.Languages = "configs/languages"
	}
}

func (c *Config) applyEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.OpenAI.APIKey = apiKey
		if c.LLM.OpenAI.APIKey == "" {
			c.LLM.OpenAI.APIKey = apiKey
		}
	}
	if llmKey := os.Getenv("LLM_API_KEY"); llmKey != "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.OpenAI.APIKey = llmKey
		case "anthropic":
			c.LLM.Anthropic.APIKey = llmKey
		}
	}
	if anthropicKey := os.Getenv("ANTHROPIC_API_KEY"); anthropicKey != "" {
		c.LLM.Anthropic.APIKey = anthropicKey
	}
	if model := os.Getenv("OPENAI_REALTIME_MODEL"); model != "" {
		c.OpenAI.Model = model
	}
	if voice := os.Getenv("OPENAI_REALTIME_VOICE"); voice != "" {
		c.OpenAI.Voice = voice
	}
	if persona := os.Getenv("ELPROFESSOR_PERSONA"); persona != "" {
		c.Tutor.DefaultPersona = persona
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Paths.Personas == "" || c.Paths.Languages == "" {
		return fmt.Errorf("personas and languages paths are required")
	}
	switch c.Tutor.Evaluator {
	case "phrasebook":
	case "llm":
		if err := c.LLM.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown evaluator: %s", c.Tutor.Evaluator)
	}
	switch c.Embodiment.Mode {
	case "http":
		if c.Embodiment.BaseURL == "" {
			return fmt.Errorf("embodiment base_url is required in http mode")
		}
	case "log", "none":
	default:
		return fmt.Errorf("unknown embodiment mode: %s", c.Embodiment.Mode)
	}
	if c.Camera.Enabled && c.Camera.SnapshotURL == "" {
		return fmt.Errorf("camera snapshot_url is required when camera is enabled")
	}
	if c.Camera.Describe {
		if !c.Camera.Enabled {
			return fmt.Errorf("camera describe requires camera enabled")
		}
		if err := c.LLM.validate(); err != nil {
			return fmt.Errorf("camera describe: %w", err)
		}
	}
	if c.Tutor.QueueSize < 1 {
		return fmt.Errorf("tutor queue_size must be positive")
	}
	return nil
}

// ValidateRealtime 只有启用语音通道（serve）时才需要 Realtime 密钥。
func (c *Config) ValidateRealtime() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY env var or config)")
	}
	return nil
}

func (l LLMConfig) validate() error {
	switch l.Provider {
	case "openai":
		if l.OpenAI.APIKey == "" || l.OpenAI.Model == "" {
			return fmt.Errorf("llm.openai api_key and model are required")
		}
	case "anthropic":
		if l.Anthropic.APIKey == "" || l.Anthropic.Model == "" {
			return fmt.Errorf("llm.anthropic api_key and model are required")
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %s", l.Provider)
	}
	return nil
}
