package level

import (
	"fmt"
	"log"
	"unicode/utf8"

	"el-professor/server/internal/langpack"
	"el-professor/server/internal/model"
)

// Result 是一次估计的结果。
type Result struct {
	// Level 是本轮提交后的档位（已截断为最多一档）。
	Level model.Level `json:"level"`
	// Target 是特征直接映射出的档位。
	Target model.Level `json:"target"`
	// Points 是特征打分，便于日志与调试。
	Points int `json:"points"`
	// Clamped 表示 Target 与先前档位相差超过一档，已被截断。
	Clamped bool `json:"clamped,omitempty"`
	// Sparse 表示空发言或单词发言，证据不足，档位保持不变。
	Sparse bool `json:"sparse,omitempty"`
}

// Features 是从一次发言提取的特征。
type Features struct {
	Tokens         int
	MeanWordLength float64
	Markers        int
	Idioms         int
	KnownRatio     float64
}

// Estimator 根据发言特征推断学习者档位。无状态，可并发使用。
type Estimator struct {
	pack   *langpack.Pack
	logger *log.Logger
}

func NewEstimator(pack *langpack.Pack, logger *log.Logger) *Estimator {
	if logger == nil {
		logger = log.Default()
	}
	return &Estimator{pack: pack, logger: logger}
}

// Estimate 返回新档位。档位每轮最多移动一档；目标与先前一致时保持不变；
// 空发言或单词发言不改变档位。跳变超过一档时返回被截断的结果和
// ErrUnsupportedLevelTransition，调用方记录后照常使用结果。
func (e *Estimator) Estimate(u model.Utterance, prior model.Level) (Result, error) {
	tokens := langpack.Tokenize(u.RawText)
	if len(tokens) <= 1 {
		return Result{Level: prior, Target: prior, Sparse: true}, nil
	}

	f := e.Extract(tokens)
	points := Score(f)
	target := TierForPoints(points)

	res := Result{Level: prior.Step(target), Target: target, Points: points}
	if target.Distance(prior) > 1 {
		res.Clamped = true
		e.logger.Printf("[Level] clamped transition %s -> %s (target %s, points=%d)", prior, res.Level, target, points)
		return res, fmt.Errorf("%w: %s -> %s", model.ErrUnsupportedLevelTransition, prior, target)
	}
	return res, nil
}

// Extract 计算特征；pack 为空时只使用长度类特征。
func (e *Estimator) Extract(tokens []string) Features {
	f := Features{Tokens: len(tokens)}
	if len(tokens) == 0 {
		return f
	}
	letters, known := 0, 0
	for _, tok := range tokens {
		letters += utf8.RuneCountInString(tok)
		if e.pack == nil {
			continue
		}
		if e.pack.IsMarker(tok) {
			f.Markers++
		}
		if e.pack.Known(tok) {
			known++
		}
	}
	f.MeanWordLength = float64(letters) / float64(len(tokens))
	if e.pack != nil {
		f.Idioms = e.pack.CountIdioms(tokens)
		f.KnownRatio = float64(known) / float64(len(tokens))
	} else {
		f.KnownRatio = 1
	}
	return f
}

// Score 把特征映射为分数：长度、词长、复杂度标记、习语加分，陌生词过多减分。
func Score(f Features) int {
	points := 0
	switch {
	case f.Tokens < 4:
	case f.Tokens < 8:
		points++
	case f.Tokens < 14:
		points += 2
	default:
		points += 3
	}
	if f.MeanWordLength >= 5.5 {
		points++
	}
	switch {
	case f.Markers >= 3:
		points += 2
	case f.Markers >= 1:
		points++
	}
	if f.Idioms > 0 {
		points++
	}
	if f.KnownRatio < 0.5 {
		points--
	}
	if points < 0 {
		points = 0
	}
	return points
}

// TierForPoints 分数到档位的固定映射。
func TierForPoints(points int) model.Level {
	switch {
	case points <= 1:
		return model.LevelBeginner
	case points == 2:
		return model.LevelElementary
	case points == 3:
		return model.LevelIntermediate
	case points <= 5:
		return model.LevelAdvanced
	default:
		return model.LevelExpert
	}
}
