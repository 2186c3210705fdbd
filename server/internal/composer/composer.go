package composer

import (
	"math/rand/v2"
	"strings"
	"sync"

	"el-professor/server/internal/langpack"
	"el-professor/server/internal/level"
	"el-professor/server/internal/model"
)

// priority 越大越先被丢弃。
type priority int

const (
	priorityCore priority = iota
	priorityExample
	priorityHumor
)

type piece struct {
	text     string
	priority priority
}

// Composer 把裁决渲染成口语回复。持有肯定语轮换状态，每个会话一个实例。
type Composer struct {
	pack *langpack.Pack

	mu     sync.Mutex
	rng    *rand.Rand
	cursor int
}

// New 创建 Composer。rng 为空时使用随机种子。
func New(pack *langpack.Pack, rng *rand.Rand) *Composer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Composer{pack: pack, rng: rng}
}

// Compose 生成本轮的回复文本。保证不超过 model.MaxSentences 句；
// 纠正句与其翻译是一个整体，不会被拆开或丢弃。EmotionCue 由调用方补上。
func (c *Composer) Compose(v model.Verdict, lvl model.Level, p model.Persona) model.ResponsePayload {
	return c.ComposeAnswer(v, lvl, p, "")
}

// ComposeAnswer 同 Compose，另外把对学习者问题的回答（看图描述或无法确认的说明）
// 作为核心内容放在纠正之后、例句之前。回答为空时与 Compose 相同。
func (c *Composer) ComposeAnswer(v model.Verdict, lvl model.Level, p model.Persona, answer string) model.ResponsePayload {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxWords := level.ProfileFor(lvl).MaxWords
	leads := c.pack.LeadsFor(p.Tone)
	var pieces []piece

	correction, hasCorrection := v.Correction()
	switch {
	case v.Classification() == model.ClassCorrect:
		pieces = append(pieces, piece{c.affirmation(p.AffirmationMode), priorityCore})
	case hasCorrection:
		lead := leads.Minor
		if v.Classification() == model.ClassIncorrect {
			lead = leads.Incorrect
		}
		if s := c.pick(lead); s != "" {
			pieces = append(pieces, piece{s, priorityCore})
		}
		pieces = append(pieces, piece{c.gloss(c.pack.Messages.CorrectionPrefix, correction, maxWords), priorityCore})
	default:
		if s := c.pick(leads.Rephrase); s != "" {
			pieces = append(pieces, piece{s, priorityCore})
		}
	}

	if answer = terminate(answer); answer != "" {
		pieces = append(pieces, piece{answer, priorityCore})
	}

	if ex, ok := v.Example(); ok {
		// 单词发言时例句代替纠正，属于核心内容。
		prio := priorityExample
		if v.Sparse() || !hasCorrection {
			prio = priorityCore
		}
		pieces = append(pieces, piece{c.gloss(c.pack.Messages.ExamplePrefix, ex, maxWords), prio})
	}

	if p.HumorFrequency > 0 && c.rng.Float64() < p.HumorFrequency {
		if s := c.pick(c.pack.HumorFor(p.Tone)); s != "" {
			pieces = append(pieces, piece{s, priorityHumor})
		}
	}

	pieces = fitBudget(pieces, model.MaxSentences)
	texts := make([]string, 0, len(pieces))
	for _, pc := range pieces {
		texts = append(texts, pc.text)
	}
	spoken := strings.Join(texts, " ")

	return model.ResponsePayload{
		SpokenText:     spoken,
		SentenceCount:  langpack.CountSentences(spoken),
		Classification: v.Classification(),
		Level:          lvl,
	}
}

// Hiccup 是用户可见的统一失败话术。
func (c *Composer) Hiccup() string {
	return c.pack.Messages.Hiccup
}

func (c *Composer) affirmation(mode model.AffirmationMode) string {
	set := c.pack.Affirmations
	if mode == model.AffirmationRandom {
		return set[c.rng.IntN(len(set))]
	}
	s := set[c.cursor%len(set)]
	c.cursor++
	return s
}

func (c *Composer) pick(set []string) string {
	if len(set) == 0 {
		return ""
	}
	return set[c.rng.IntN(len(set))]
}

// gloss 渲染“前缀 句子。(翻译)”。前缀会让句子超出档位词数时省略前缀。
func (c *Composer) gloss(prefix string, g model.Gloss, maxWords int) string {
	text := terminate(g.Text())
	if prefix != "" && langpack.WordCount(prefix)+langpack.WordCount(text) <= maxWords {
		text = prefix + " " + text
	}
	return text + " (" + g.Translation() + ")"
}

// fitBudget 超出句数预算时从最低优先级开始丢弃，同优先级先丢后面的。
func fitBudget(pieces []piece, budget int) []piece {
	for countPieces(pieces) > budget {
		drop := -1
		for i := len(pieces) - 1; i >= 0; i-- {
			if pieces[i].priority == priorityCore {
				continue
			}
			if drop == -1 || pieces[i].priority > pieces[drop].priority {
				drop = i
			}
		}
		if drop == -1 {
			return truncateCore(pieces, budget)
		}
		pieces = append(pieces[:drop], pieces[drop+1:]...)
	}
	return pieces
}

// truncateCore 只剩核心内容仍超预算时（例如模型给出多句纠正），保留最前面的完整片段。
func truncateCore(pieces []piece, budget int) []piece {
	var out []piece
	total := 0
	for _, pc := range pieces {
		n := langpack.CountSentences(pc.text)
		if total+n > budget && len(out) > 0 {
			break
		}
		out = append(out, pc)
		total += n
	}
	return out
}

func countPieces(pieces []piece) int {
	total := 0
	for _, pc := range pieces {
		total += langpack.CountSentences(pc.text)
	}
	return total
}

func terminate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	if strings.HasSuffix(s, "…") {
		return s
	}
	return s + "."
}
