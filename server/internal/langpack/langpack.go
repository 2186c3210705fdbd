package langpack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"el-professor/server/internal/model"

	"gopkg.in/yaml.v3"
)

// Pack 是一种目标学习语言的数据包：肯定语、引导语、幽默句、短语库等。
// 加载后只读，可被多个会话并发使用。
type Pack struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`

	Affirmations []string                `yaml:"affirmations"`
	Leads        map[model.Tone]LeadSet  `yaml:"leads"`
	Humor        map[model.Tone][]string `yaml:"humor"`
	Phrasebook   []Entry                 `yaml:"phrasebook"`
	Markers      []string                `yaml:"markers"`
	Idioms       []string                `yaml:"idioms"`
	Lexicon      []string                `yaml:"lexicon"`
	Messages     Messages                `yaml:"messages"`
	Grammar      Grammar                 `yaml:"grammar"`
	// VisualCues 是询问眼前事物的说法（“qué ves”），命中时本轮需要看图作答。
	VisualCues []string `yaml:"visual_cues"`

	// 以下为加载后构建的索引。
	lexicon  map[string]struct{}
	markers  map[string]struct{}
	idioms   [][]string
	function map[string]struct{}
	optional [][]string
	families map[string][]int
	visual   [][]string
}

// Grammar 描述语法槽位：短语库评估只把功能词、词形变化和语序上的差异算作错误，
// 实词替换（换了名词、数字、名字）视为同一句型的合法变体。
type Grammar struct {
	// FunctionWords 冠词、介词、代词、连词等封闭词类。
	FunctionWords []string `yaml:"function_words"`
	// Optional 可省略的主语或强调成分，比较前两边都去掉。
	Optional []string `yaml:"optional"`
	// Inflections 同一词的不同变位或性数形式。
	Inflections [][]string `yaml:"inflections"`
}

// LeadSet 是按裁决类型分组的开场短句。
type LeadSet struct {
	Minor     []string `yaml:"minor"`
	Incorrect []string `yaml:"incorrect"`
	Rephrase  []string `yaml:"rephrase"`
}

// Messages 固定话术。
type Messages struct {
	CorrectionPrefix string `yaml:"correction_prefix"`
	ExamplePrefix    string `yaml:"example_prefix"`
	Hiccup           string `yaml:"hiccup"`
	CannotVerify     string `yaml:"cannot_verify"`
}

// Entry 是短语库中的一个规范句子。
type Entry struct {
	Text         string            `yaml:"text"`
	Level        model.Level       `yaml:"level"`
	Translations map[string]string `yaml:"translations"`

	tokens []string
}

// Tokens 返回规范化后的词元（小写、去重音）。
func (e Entry) Tokens() []string { return e.tokens }

// Gloss 返回该句在学习者母语下的 Gloss。
func (e Entry) Gloss(learnerLanguage string) (model.Gloss, bool) {
	tr, ok := e.Translations[learnerLanguage]
	if !ok {
		return model.Gloss{}, false
	}
	g, err := model.NewGloss(e.Text, tr)
	if err != nil {
		return model.Gloss{}, false
	}
	return g, true
}

// Parse 从 YAML 解析语言包并建立索引。
func Parse(data []byte) (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse language pack: %w", err)
	}
	if err := p.init(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load 从文件加载语言包。
func Load(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language pack: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return p, nil
}

// LoadDir 加载目录下全部 *.yaml 语言包，按 Code 索引。
func LoadDir(dir string) (map[string]*Pack, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read languages dir: %w", err)
	}
	packs := make(map[string]*Pack)
	for _, file := range files {
		if file.IsDir() || !(strings.HasSuffix(file.Name(), ".yaml") || strings.HasSuffix(file.Name(), ".yml")) {
			continue
		}
		p, err := Load(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := packs[p.Code]; dup {
			return nil, fmt.Errorf("duplicate language pack: %s", p.Code)
		}
		packs[p.Code] = p
	}
	if len(packs) == 0 {
		return nil, fmt.Errorf("no language packs in %s", dir)
	}
	return packs, nil
}

func (p *Pack) init() error {
	if p.Code == "" {
		return fmt.Errorf("language pack code is required")
	}
	if len(p.Affirmations) == 0 {
		return fmt.Errorf("language pack %s: affirmations are required", p.Code)
	}
	if p.Messages.Hiccup == "" || p.Messages.CannotVerify == "" {
		return fmt.Errorf("language pack %s: hiccup and cannot_verify messages are required", p.Code)
	}

	p.lexicon = make(map[string]struct{})
	p.markers = make(map[string]struct{})

	for i := range p.Phrasebook {
		e := &p.Phrasebook[i]
		if !e.Level.Valid() {
			return fmt.Errorf("language pack %s: entry %q has invalid level", p.Code, e.Text)
		}
		if len(e.Translations) == 0 {
			return fmt.Errorf("language pack %s: entry %q has no translation", p.Code, e.Text)
		}
		e.tokens = Tokenize(e.Text)
		for _, tok := range e.tokens {
			p.lexicon[tok] = struct{}{}
		}
	}
	for _, w := range p.Lexicon {
		for _, tok := range Tokenize(w) {
			p.lexicon[tok] = struct{}{}
		}
	}
	for _, m := range p.Markers {
		for _, tok := range Tokenize(m) {
			p.markers[tok] = struct{}{}
			p.lexicon[tok] = struct{}{}
		}
	}
	for _, idiom := range p.Idioms {
		toks := Tokenize(idiom)
		if len(toks) == 0 {
			continue
		}
		p.idioms = append(p.idioms, toks)
		for _, tok := range toks {
			p.lexicon[tok] = struct{}{}
		}
	}

	p.function = make(map[string]struct{})
	for _, w := range p.Grammar.FunctionWords {
		for _, tok := range Tokenize(w) {
			p.function[tok] = struct{}{}
		}
	}
	for _, phrase := range p.Grammar.Optional {
		if toks := Tokenize(phrase); len(toks) > 0 {
			p.optional = append(p.optional, toks)
		}
	}
	// 长的可省略成分优先匹配（“a mí” 先于 “a”）
	sort.SliceStable(p.optional, func(i, j int) bool { return len(p.optional[i]) > len(p.optional[j]) })
	p.families = make(map[string][]int)
	for id, family := range p.Grammar.Inflections {
		for _, w := range family {
			for _, tok := range Tokenize(w) {
				p.families[tok] = append(p.families[tok], id)
			}
		}
	}
	for _, cue := range p.VisualCues {
		if toks := Tokenize(cue); len(toks) > 0 {
			p.visual = append(p.visual, toks)
		}
	}
	return nil
}

// IsFunctionWord 判断词元是否为功能词。
func (p *Pack) IsFunctionWord(token string) bool {
	_, ok := p.function[token]
	return ok
}

// StripOptional 去掉可省略成分，返回新切片。
func (p *Pack) StripOptional(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		skip := 0
		for _, phrase := range p.optional {
			if hasPrefixSeq(tokens[i:], phrase) {
				skip = len(phrase)
				break
			}
		}
		if skip > 0 {
			i += skip
			continue
		}
		out = append(out, tokens[i])
		i++
	}
	return out
}

// SameLemma 判断两个词元是否为同一词的不同形式：同在一个变位族，
// 或共享至少四个字符的词干且各自只多出不超过两个字符的词尾（hermano/hermanos）。
func (p *Pack) SameLemma(a, b string) bool {
	if a == b {
		return true
	}
	for _, x := range p.families[a] {
		for _, y := range p.families[b] {
			if x == y {
				return true
			}
		}
	}
	ra, rb := []rune(a), []rune(b)
	n := 0
	for n < len(ra) && n < len(rb) && ra[n] == rb[n] {
		n++
	}
	return n >= 4 && len(ra)-n <= 2 && len(rb)-n <= 2
}

// AsksVisual 判断发言是否在问眼前的东西。
func (p *Pack) AsksVisual(tokens []string) bool {
	for _, cue := range p.visual {
		if containsSeq(tokens, cue) {
			return true
		}
	}
	return false
}

// Known 判断词元是否在该语言的词表中。
func (p *Pack) Known(token string) bool {
	_, ok := p.lexicon[token]
	return ok
}

// IsMarker 判断词元是否为复杂度标记（连词、从句引导词等）。
func (p *Pack) IsMarker(token string) bool {
	_, ok := p.markers[token]
	return ok
}

// CountIdioms 统计词元序列中出现的习语数量。
func (p *Pack) CountIdioms(tokens []string) int {
	count := 0
	for _, idiom := range p.idioms {
		if containsSeq(tokens, idiom) {
			count++
		}
	}
	return count
}

// Examples 返回指定档位且有该母语翻译的例句。
func (p *Pack) Examples(level model.Level, learnerLanguage string) []model.Gloss {
	var out []model.Gloss
	for _, e := range p.Phrasebook {
		if e.Level != level {
			continue
		}
		if g, ok := e.Gloss(learnerLanguage); ok {
			out = append(out, g)
		}
	}
	return out
}

// LeadsFor 返回人设语气对应的引导语；缺省回退到 pedagogical。
func (p *Pack) LeadsFor(tone model.Tone) LeadSet {
	if set, ok := p.Leads[tone]; ok {
		return set
	}
	return p.Leads[model.TonePedagogical]
}

// HumorFor 返回人设语气对应的幽默句。
func (p *Pack) HumorFor(tone model.Tone) []string {
	return p.Humor[tone]
}

func hasPrefixSeq(tokens, prefix []string) bool {
	if len(prefix) > len(tokens) {
		return false
	}
	for i := range prefix {
		if tokens[i] != prefix[i] {
			return false
		}
	}
	return true
}

func containsSeq(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
