package emotion

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"el-professor/server/internal/model"
)

// Dispatcher 把裁决映射为情绪动作请求。极性只由分类决定，
// 同极性内伪随机挑选并避免连续重复。每个会话一个实例。
type Dispatcher struct {
	positive []string
	negative []string

	mu   sync.Mutex
	rng  *rand.Rand
	last map[model.Polarity]string
}

// NewDispatcher 使用人设的情绪集合；集合为空时用默认值，正负重叠时报错。
func NewDispatcher(sets model.EmotionSets, rng *rand.Rand) (*Dispatcher, error) {
	positive := sets.Positive
	if len(positive) == 0 {
		positive = model.DefaultPositiveEmotions
	}
	negative := sets.Negative
	if len(negative) == 0 {
		negative = model.DefaultNegativeEmotions
	}
	for _, p := range positive {
		for _, n := range negative {
			if p == n {
				return nil, fmt.Errorf("emotion %q is in both polarity sets", p)
			}
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Dispatcher{
		positive: append([]string(nil), positive...),
		negative: append([]string(nil), negative...),
		rng:      rng,
		last:     make(map[model.Polarity]string),
	}, nil
}

// Dispatch 返回本轮的情绪请求。Correct 为正向，Minor/Incorrect 为负向。
func (d *Dispatcher) Dispatch(v model.Verdict) model.EmotionCue {
	polarity := v.Classification().Polarity()
	candidates := d.negative
	if polarity == model.PolarityPositive {
		candidates = d.positive
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pick := candidates[d.rng.IntN(len(candidates))]
	if len(candidates) > 1 && pick == d.last[polarity] {
		// 换成下一个，不重新抽签，保证一次就结束。
		idx := indexOf(candidates, pick)
		pick = candidates[(idx+1+d.rng.IntN(len(candidates)-1))%len(candidates)]
	}
	d.last[polarity] = pick

	return model.EmotionCue{
		Polarity:   polarity,
		Candidates: append([]string(nil), candidates...),
		Emotion:    pick,
	}
}

func indexOf(set []string, s string) int {
	for i, v := range set {
		if v == s {
			return i
		}
	}
	return 0
}
