package correction

import (
	"context"
	"fmt"
	"strings"

	"el-professor/server/internal/langpack"
	"el-professor/server/internal/level"
	"el-professor/server/internal/llm"
	"el-professor/server/internal/model"
)

// llmVerdict 是模型的结构化输出。
type llmVerdict struct {
	Classification string `json:"classification" jsonschema:"enum=correct,enum=minor,enum=incorrect"`
	CorrectedText  string `json:"corrected_text" jsonschema:"description=Minimal corrected sentence in the target language or empty when correct"`
	Translation    string `json:"translation" jsonschema:"description=The corrected sentence translated into the learner language or empty when correct"`
	TokenChanges   int    `json:"token_changes" jsonschema:"description=Number of word insertions or deletions or substitutions needed"`
	Confident      bool   `json:"confident"`
	Rationale      string `json:"rationale"`
}

var verdictSchema = llm.GenerateSchema[llmVerdict]()

// maxCorrectionSentences 纠正句最多两句，回复里还要留位置给引导语。
const maxCorrectionSentences = 2

// LLMEvaluator 用文本模型做语法判断。模型输出不合法（例如有纠正句没有翻译）时返回错误，由引擎回退。
type LLMEvaluator struct {
	client         llm.Client
	targetLanguage string
}

func NewLLMEvaluator(client llm.Client, targetLanguage string) *LLMEvaluator {
	return &LLMEvaluator{client: client, targetLanguage: targetLanguage}
}

func (e *LLMEvaluator) Name() string { return "llm" }

func (e *LLMEvaluator) Evaluate(ctx context.Context, req Request) (model.Verdict, error) {
	messages := []llm.Message{
		{Role: "system", Content: e.systemPrompt(req)},
		{Role: "user", Content: req.Utterance.RawText},
	}
	raw, err := e.client.Complete(ctx, messages, &llm.JSONSchema{
		Name:        "Verdict",
		Description: "Grammar verdict for one learner utterance",
		Schema:      verdictSchema,
		Strict:      true,
	})
	if err != nil {
		return model.Verdict{}, fmt.Errorf("complete: %w", err)
	}

	var out llmVerdict
	if err := llm.DecodeJSON(raw, &out); err != nil {
		return model.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	return out.toVerdict()
}

func (o llmVerdict) toVerdict() (model.Verdict, error) {
	class := model.Classification(strings.ToLower(strings.TrimSpace(o.Classification)))
	switch class {
	case model.ClassCorrect:
		return model.NewCorrectVerdict(o.Rationale), nil
	case model.ClassMinor, model.ClassIncorrect:
	default:
		return model.Verdict{}, fmt.Errorf("unknown classification %q", o.Classification)
	}

	if strings.TrimSpace(o.CorrectedText) == "" {
		if o.Confident {
			return model.Verdict{}, fmt.Errorf("%s verdict without corrected text", class)
		}
		return model.NewRephraseVerdict(o.Rationale), nil
	}
	if n := langpack.CountSentences(o.CorrectedText); n > maxCorrectionSentences {
		return model.Verdict{}, fmt.Errorf("correction too long: %d sentences", n)
	}
	gloss, err := model.NewGloss(o.CorrectedText, o.Translation)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("invalid correction: %w", err)
	}

	// 没把握时偏向鼓励：不判 Incorrect。
	if !o.Confident {
		v, err := model.NewCorrectionVerdict(model.ClassMinor, gloss, o.Rationale)
		if err != nil {
			return model.Verdict{}, err
		}
		return v.AsAmbiguous(), nil
	}
	// 多个可行纠正时模型被要求选改动最少的；一两处改动按 Minor 处理。
	if class == model.ClassIncorrect && o.TokenChanges > 0 && o.TokenChanges <= maxLocalEdits {
		class = model.ClassMinor
	}
	return model.NewCorrectionVerdict(class, gloss, o.Rationale)
}

func (e *LLMEvaluator) systemPrompt(req Request) string {
	p := level.ProfileFor(req.Level)
	var sb strings.Builder
	sb.WriteString("[Role Definition]\n")
	sb.WriteString(fmt.Sprintf("You grade short spoken utterances from a learner of %s whose native language is %s.\n\n", e.targetLanguage, req.LearnerLanguage))
	sb.WriteString("[Learner]\n")
	sb.WriteString(fmt.Sprintf("Level: %s (%s)\n\n", req.Level, p.CEFR))
	sb.WriteString("[Task]\n")
	sb.WriteString("- The text is a speech transcript: ignore punctuation, capitalisation and missing accents.\n")
	sb.WriteString("- correct: the sentence is grammatical and natural.\n")
	sb.WriteString("- minor: one or two local fixes (agreement, article, preposition, a single word).\n")
	sb.WriteString("- incorrect: structural problem (word order, wrong construction, missing verb).\n")
	sb.WriteString("- When several corrections are plausible, choose the one with the fewest word changes.\n")
	sb.WriteString(fmt.Sprintf("- translation must be the corrected sentence in %s. It is mandatory whenever corrected_text is not empty.\n", req.LearnerLanguage))
	sb.WriteString("- Set confident=false when you cannot tell what the learner meant.\n")
	return sb.String()
}
