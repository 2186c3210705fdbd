package model

import (
	"encoding/json"
	"errors"
	"strings"
)

// Classification 是纠错引擎对一轮发言的裁决。
type Classification string

const (
	ClassCorrect   Classification = "correct"
	ClassMinor     Classification = "minor"
	ClassIncorrect Classification = "incorrect"
)

// Polarity 返回该裁决对应的情绪极性：只有 Correct 是正向。
func (c Classification) Polarity() Polarity {
	if c == ClassCorrect {
		return PolarityPositive
	}
	return PolarityNegative
}

var (
	errEmptyGlossText        = errors.New("gloss text is empty")
	errEmptyGlossTranslation = errors.New("gloss translation is empty")
	errCorrectWithCorrection = errors.New("correct verdict cannot carry a correction")
)

// Gloss 是“目标语句子 + 母语翻译”的不可拆分组合。
// 只能通过 NewGloss 构造，因此不存在没有翻译的纠正句或例句。
type Gloss struct {
	text        string
	translation string
}

// NewGloss 构造一个句子及其翻译，任一为空都返回错误。
func NewGloss(text, translation string) (Gloss, error) {
	text = strings.TrimSpace(text)
	translation = strings.TrimSpace(translation)
	if text == "" {
		return Gloss{}, errEmptyGlossText
	}
	if translation == "" {
		return Gloss{}, errEmptyGlossTranslation
	}
	return Gloss{text: text, translation: translation}, nil
}

func (g Gloss) Text() string        { return g.text }
func (g Gloss) Translation() string { return g.translation }

func (g Gloss) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Text        string `json:"text"`
		Translation string `json:"translation"`
	}{g.text, g.translation})
}

// Verdict 是纠错引擎每轮产出的唯一裁决，创建后不可修改。
//
// 约束在构造时保证：
// - Correct 不带纠正句；
// - Minor/Incorrect 的纠正句总是带翻译（Gloss）；
// - 例句同样是 Gloss，必带翻译。
type Verdict struct {
	classification Classification
	correction     *Gloss
	example        *Gloss
	rationale      string
	sparse         bool
	ambiguous      bool
}

// NewCorrectVerdict 构造一个“完全正确”的裁决。
func NewCorrectVerdict(rationale string) Verdict {
	return Verdict{classification: ClassCorrect, rationale: rationale}
}

// NewCorrectionVerdict 构造带纠正句的 Minor/Incorrect 裁决。
func NewCorrectionVerdict(class Classification, correction Gloss, rationale string) (Verdict, error) {
	if class == ClassCorrect {
		return Verdict{}, errCorrectWithCorrection
	}
	if class != ClassMinor && class != ClassIncorrect {
		return Verdict{}, errors.New("unknown classification: " + string(class))
	}
	if correction.text == "" || correction.translation == "" {
		return Verdict{}, errEmptyGlossTranslation
	}
	c := correction
	return Verdict{classification: class, correction: &c, rationale: rationale}, nil
}

// NewRephraseVerdict 构造无法确定如何纠正时的温和 Minor 裁决（不带纠正句）。
func NewRephraseVerdict(rationale string) Verdict {
	return Verdict{classification: ClassMinor, rationale: rationale, ambiguous: true}
}

// WithExample 返回附带例句的副本。
func (v Verdict) WithExample(example Gloss) Verdict {
	if example.text == "" || example.translation == "" {
		return v
	}
	e := example
	v.example = &e
	return v
}

// AsSparse 返回标记为“证据不足”（空或单词发言）的副本。
func (v Verdict) AsSparse() Verdict {
	v.sparse = true
	return v
}

// AsAmbiguous 返回标记为“无法确定分类”的副本。
func (v Verdict) AsAmbiguous() Verdict {
	v.ambiguous = true
	return v
}

func (v Verdict) Classification() Classification { return v.classification }
func (v Verdict) Rationale() string              { return v.rationale }
func (v Verdict) Sparse() bool                   { return v.sparse }
func (v Verdict) Ambiguous() bool                { return v.ambiguous }
func (v Verdict) IsZero() bool                   { return v.classification == "" }

// Correction 返回纠正句（含翻译）。
func (v Verdict) Correction() (Gloss, bool) {
	if v.correction == nil {
		return Gloss{}, false
	}
	return *v.correction, true
}

// Example 返回例句（含翻译）。
func (v Verdict) Example() (Gloss, bool) {
	if v.example == nil {
		return Gloss{}, false
	}
	return *v.example, true
}

func (v Verdict) CorrectedText() string {
	if v.correction == nil {
		return ""
	}
	return v.correction.text
}

func (v Verdict) Translation() string {
	if v.correction == nil {
		return ""
	}
	return v.correction.translation
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Classification Classification `json:"classification"`
		CorrectedText  string         `json:"corrected_text,omitempty"`
		Translation    string         `json:"translation,omitempty"`
		Example        *Gloss         `json:"example,omitempty"`
		Rationale      string         `json:"rationale,omitempty"`
		Sparse         bool           `json:"sparse,omitempty"`
		Ambiguous      bool           `json:"ambiguous,omitempty"`
	}{
		Classification: v.classification,
		CorrectedText:  v.CorrectedText(),
		Translation:    v.Translation(),
		Example:        v.example,
		Rationale:      v.rationale,
		Sparse:         v.sparse,
		Ambiguous:      v.ambiguous,
	})
}
