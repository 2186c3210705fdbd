package correction

import (
	"context"
	"fmt"

	"el-professor/server/internal/langpack"
	"el-professor/server/internal/model"
)

const (
	// maxLocalEdits 以内的改动算作 Minor（一两处局部修正）。
	maxLocalEdits = 2
	// structuralSimilarity 以上说明词都对但结构错，判为 Incorrect。
	structuralSimilarity = 0.6
	// minCoverage 以下的候选句与发言关系太远，不作为纠正参考。
	minCoverage = 0.5
)

// slot 标记一个实词槽位：学习者在这里用了短语库之外的词，不算错误。
const slot = "*"

// PhrasebookEvaluator 用语言包短语库做确定性评估：把发言和规范句对齐，
// 只统计语法槽位（功能词、词形变化、语序）上的改动。
//
// 换了实词的句子（“Me llamo Pedro” 对 “Me llamo Ana”）仍是同一句型，判为 Correct；
// 句型相同但语法也有问题时，由于纠正句会替换学习者的实词，改为请学习者重说。
type PhrasebookEvaluator struct {
	pack *langpack.Pack
}

func NewPhrasebookEvaluator(pack *langpack.Pack) *PhrasebookEvaluator {
	return &PhrasebookEvaluator{pack: pack}
}

func (e *PhrasebookEvaluator) Name() string { return "phrasebook" }

type candidate struct {
	entry langpack.Entry
	index int
	// edits 语法槽位上的改动数
	edits int
	// varied 两边被当作实词槽位的词元数
	varied   int
	refLen   int
	shared   int
	coverage float64
	sim      float64
}

// Evaluate 实现 Evaluator。不会返回错误：没有可信候选时给出温和的重说请求。
func (e *PhrasebookEvaluator) Evaluate(ctx context.Context, req Request) (model.Verdict, error) {
	tokens := langpack.Tokenize(req.Utterance.RawText)

	if len(tokens) <= 1 {
		if len(tokens) == 1 && e.pack.Known(tokens[0]) {
			return model.NewCorrectVerdict("single known word").AsSparse(), nil
		}
		return model.NewRephraseVerdict("not enough words to judge").AsSparse(), nil
	}

	best, ok := e.bestCandidate(tokens, req.Level)
	if !ok {
		return model.NewRephraseVerdict("no close phrasebook sentence"), nil
	}
	if best.edits == 0 {
		if best.varied > 0 {
			return model.NewCorrectVerdict(fmt.Sprintf("phrasebook pattern with %d content words varied", best.varied)), nil
		}
		return model.NewCorrectVerdict("matches phrasebook sentence"), nil
	}
	if best.varied > 0 {
		// 规范句的实词与学习者的不同，拿它当纠正句会改掉学习者想说的内容。
		return model.NewRephraseVerdict(fmt.Sprintf("%d grammar changes around varied content", best.edits)), nil
	}

	gloss, ok := best.entry.Gloss(req.LearnerLanguage)
	if !ok {
		// 没有学习者母语的翻译就不能给纠正句。
		return model.NewRephraseVerdict("no translation for " + req.LearnerLanguage), nil
	}

	switch {
	case best.edits <= maxLocalEdits && 2*best.edits <= best.refLen:
		return model.NewCorrectionVerdict(model.ClassMinor, gloss, fmt.Sprintf("%d local token changes", best.edits))
	case best.sim >= structuralSimilarity:
		return model.NewCorrectionVerdict(model.ClassIncorrect, gloss, fmt.Sprintf("structural: %d token changes", best.edits))
	default:
		v, err := model.NewCorrectionVerdict(model.ClassMinor, gloss, fmt.Sprintf("low confidence: %d token changes", best.edits))
		if err != nil {
			return model.Verdict{}, err
		}
		return v.AsAmbiguous(), nil
	}
}

// bestCandidate 在可信候选中选语法改动最少的；平局取实词变动少的，
// 再平局取档位最接近的，最后取短语库顺序靠前的。
func (e *PhrasebookEvaluator) bestCandidate(tokens []string, lvl model.Level) (candidate, bool) {
	var best candidate
	found := false
	for i, entry := range e.pack.Phrasebook {
		ref := entry.Tokens()
		if len(ref) == 0 {
			continue
		}
		c := candidate{entry: entry, index: i, shared: sharedTokens(tokens, ref)}
		c.coverage = float64(c.shared) / float64(len(tokens))
		c.sim = float64(c.shared) / float64(max(len(tokens), len(ref)))
		if c.shared == 0 || (c.coverage < minCoverage && c.sim < structuralSimilarity) {
			continue
		}

		said, want := e.align(tokens, ref)
		c.edits = tokenEditDistance(said, want)
		c.varied = countSlots(said) + countSlots(want)
		c.refLen = len(want)

		if !found || better(c, best, lvl) {
			best, found = c, true
		}
	}
	return best, found
}

// match 是一个词元在对面句子里的对应情况。
type match int

const (
	matched match = iota
	// variant 与对面一个词元是同一词的不同形式
	variant
	unpaired
)

// align 去掉可省略成分后，把两边多出来的实词换成槽位。
// 能配对的词形变体（hermano/hermanos）保留原样，计为语法改动；
// 紧挨在槽位前面的多出来或变了形的功能词（冠词、介词）随实词一起换成槽位，
// 因为它们要和新的实词保持一致（“un piso” 对 “una casa”）。
func (e *PhrasebookEvaluator) align(tokens, ref []string) (said, want []string) {
	said = e.pack.StripOptional(tokens)
	want = e.pack.StripOptional(ref)

	extra := unmatched(said, want)
	missing := unmatched(want, said)

	for i := range said {
		if extra[i] != unpaired {
			continue
		}
		for j := range want {
			if missing[j] == unpaired && e.pack.SameLemma(said[i], want[j]) {
				extra[i], missing[j] = variant, variant
				break
			}
		}
	}

	return e.slotted(said, extra), e.slotted(want, missing)
}

func (e *PhrasebookEvaluator) slotted(tokens []string, state []match) []string {
	out := append([]string(nil), tokens...)
	for i := len(out) - 1; i >= 0; i-- {
		if state[i] == matched {
			continue
		}
		function := e.pack.IsFunctionWord(out[i])
		beforeSlot := i+1 < len(out) && out[i+1] == slot
		switch {
		case state[i] == unpaired && !function:
			out[i] = slot
		case function && beforeSlot:
			out[i] = slot
		}
	}
	return out
}

// unmatched 标出 a 中在 b 里找不到对应（按多重集合）的词元。
func unmatched(a, b []string) []match {
	counts := make(map[string]int, len(b))
	for _, tok := range b {
		counts[tok]++
	}
	out := make([]match, len(a))
	for i, tok := range a {
		if counts[tok] > 0 {
			counts[tok]--
			continue
		}
		out[i] = unpaired
	}
	return out
}

func countSlots(tokens []string) int {
	n := 0
	for _, tok := range tokens {
		if tok == slot {
			n++
		}
	}
	return n
}

func better(a, b candidate, lvl model.Level) bool {
	if a.edits != b.edits {
		return a.edits < b.edits
	}
	if a.varied != b.varied {
		return a.varied < b.varied
	}
	da, db := a.entry.Level.Distance(lvl), b.entry.Level.Distance(lvl)
	if da != db {
		return da < db
	}
	return a.index < b.index
}

// tokenEditDistance 词元级 Levenshtein 距离：插入、删除、替换各计一次改动。
// 槽位不计：插入或删除槽位免费，对齐到规范句槽位上的任何词也免费。
func tokenEditDistance(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := 1; j <= len(b); j++ {
		prev[j] = prev[j-1] + slotCost(b[j-1])
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = prev[0] + slotCost(a[i-1])
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] || b[j-1] == slot {
				cost = 0
			}
			cur[j] = min(prev[j]+slotCost(a[i-1]), cur[j-1]+slotCost(b[j-1]), prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func slotCost(tok string) int {
	if tok == slot {
		return 0
	}
	return 1
}

// sharedTokens 多重集合交集大小，与顺序无关。
func sharedTokens(a, b []string) int {
	counts := make(map[string]int, len(b))
	for _, tok := range b {
		counts[tok]++
	}
	shared := 0
	for _, tok := range a {
		if counts[tok] > 0 {
			counts[tok]--
			shared++
		}
	}
	return shared
}
