package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"el-professor/server/internal/model"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("persona not found")

// Registry 保存启动时加载的全部人设，加载后只读。
type Registry struct {
	personas map[string]model.Persona
	order    []string
}

// Load 从单个 YAML 文件加载人设并校验。
func Load(path string) (model.Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Persona{}, fmt.Errorf("read persona: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 人设，缺省字段使用默认值。
func Parse(data []byte) (model.Persona, error) {
	var p model.Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return model.Persona{}, fmt.Errorf("parse persona: %w", err)
	}
	applyDefaults(&p)
	if err := Validate(p); err != nil {
		return model.Persona{}, err
	}
	return p, nil
}

// LoadDir 加载目录下全部人设文件。
func LoadDir(dir string) (*Registry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read personas dir: %w", err)
	}
	r := &Registry{personas: make(map[string]model.Persona)}
	for _, file := range files {
		if file.IsDir() || !(strings.HasSuffix(file.Name(), ".yaml") || strings.HasSuffix(file.Name(), ".yml")) {
			continue
		}
		p, err := Load(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file.Name(), err)
		}
		if err := r.add(p); err != nil {
			return nil, err
		}
	}
	if len(r.personas) == 0 {
		return nil, fmt.Errorf("no personas in %s", dir)
	}
	return r, nil
}

// NewRegistry 用内存中的人设构建 Registry（测试与 CLI 使用）。
func NewRegistry(personas ...model.Persona) (*Registry, error) {
	r := &Registry{personas: make(map[string]model.Persona)}
	for _, p := range personas {
		applyDefaults(&p)
		if err := Validate(p); err != nil {
			return nil, err
		}
		if err := r.add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(p model.Persona) error {
	if _, dup := r.personas[p.ID]; dup {
		return fmt.Errorf("duplicate persona: %s", p.ID)
	}
	r.personas[p.ID] = p
	r.order = append(r.order, p.ID)
	sort.Strings(r.order)
	return nil
}

// Get 返回人设的副本；切片字段也复制，调用方修改不会影响 Registry。
func (r *Registry) Get(id string) (model.Persona, error) {
	p, ok := r.personas[id]
	if !ok {
		return model.Persona{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.Emotions = model.EmotionSets{
		Positive: append([]string(nil), p.Emotions.Positive...),
		Negative: append([]string(nil), p.Emotions.Negative...),
	}
	return p, nil
}

// List 按 ID 排序返回全部人设。
func (r *Registry) List() []model.Persona {
	out := make([]model.Persona, 0, len(r.order))
	for _, id := range r.order {
		p, _ := r.Get(id)
		out = append(out, p)
	}
	return out
}

func applyDefaults(p *model.Persona) {
	if p.Tone == "" {
		p.Tone = model.TonePedagogical
	}
	if p.AffirmationMode == "" {
		p.AffirmationMode = model.AffirmationRoundRobin
	}
	if p.Voice == "" {
		p.Voice = "echo"
	}
	if len(p.Emotions.Positive) == 0 {
		p.Emotions.Positive = append([]string(nil), model.DefaultPositiveEmotions...)
	}
	if len(p.Emotions.Negative) == 0 {
		p.Emotions.Negative = append([]string(nil), model.DefaultNegativeEmotions...)
	}
}

// Validate 校验人设配置。正负情绪集合不允许重叠，否则极性映射会失效。
func Validate(p model.Persona) error {
	if p.ID == "" {
		return errors.New("persona id is required")
	}
	switch p.Tone {
	case model.TonePedagogical, model.ToneWhimsical:
	default:
		return fmt.Errorf("persona %s: unknown tone %q", p.ID, p.Tone)
	}
	switch p.AffirmationMode {
	case model.AffirmationRoundRobin, model.AffirmationRandom:
	default:
		return fmt.Errorf("persona %s: unknown affirmation mode %q", p.ID, p.AffirmationMode)
	}
	if p.TargetLanguage == "" || p.LearnerLanguage == "" {
		return fmt.Errorf("persona %s: target_language and learner_language are required", p.ID)
	}
	if p.HumorFrequency < 0 || p.HumorFrequency > 1 {
		return fmt.Errorf("persona %s: humor_frequency must be within [0,1]", p.ID)
	}
	if !p.InitialLevel.Valid() {
		return fmt.Errorf("persona %s: invalid initial level", p.ID)
	}
	if len(p.Emotions.Positive) == 0 || len(p.Emotions.Negative) == 0 {
		return fmt.Errorf("persona %s: both emotion sets must be non-empty", p.ID)
	}
	positive := make(map[string]struct{}, len(p.Emotions.Positive))
	for _, e := range p.Emotions.Positive {
		positive[e] = struct{}{}
	}
	for _, e := range p.Emotions.Negative {
		if _, ok := positive[e]; ok {
			return fmt.Errorf("persona %s: emotion %q is in both polarity sets", p.ID, e)
		}
	}
	return nil
}
