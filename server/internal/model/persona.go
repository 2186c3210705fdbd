package model

// Tone 决定人设的说话风格。
type Tone string

const (
	TonePedagogical Tone = "pedagogical"
	ToneWhimsical   Tone = "whimsical"
)

// AffirmationMode 决定肯定语的轮换方式。
type AffirmationMode string

const (
	AffirmationRoundRobin AffirmationMode = "round_robin"
	AffirmationRandom     AffirmationMode = "random"
)

var (
	DefaultPositiveEmotions = []string{"cheerful", "enthusiastic", "happy", "excited"}
	DefaultNegativeEmotions = []string{"sad-mild", "disappointed"}
)

// EmotionSets 按极性分组的情绪动作标识。
type EmotionSets struct {
	Positive []string `yaml:"positive" json:"positive"`
	Negative []string `yaml:"negative" json:"negative"`
}

// Persona 是静态的人设配置：会话开始时加载一次，会话期间不可变。
// 两种导师人格只是两份数据，流水线代码只有一套。
type Persona struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Tone        Tone   `yaml:"tone" json:"tone"`

	// TargetLanguage 是口语输出使用的学习语言。
	TargetLanguage string `yaml:"target_language" json:"target_language"`
	// LearnerLanguage 是默认的学习者母语（括号翻译使用）。
	LearnerLanguage string `yaml:"learner_language" json:"learner_language"`
	InitialLevel    Level  `yaml:"initial_level" json:"initial_level"`

	Voice           string          `yaml:"voice" json:"voice"`
	HumorFrequency  float64         `yaml:"humor_frequency" json:"humor_frequency"`
	AffirmationMode AffirmationMode `yaml:"affirmation_mode" json:"affirmation_mode"`
	Emotions        EmotionSets     `yaml:"emotions" json:"emotions"`

	// Prompt 是人设正文，用于生成 Realtime 的系统指令。
	Prompt string `yaml:"prompt" json:"-"`
}
