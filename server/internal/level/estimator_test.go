package level

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"el-professor/server/internal/langpack"
	"el-professor/server/internal/model"
)

func newTestEstimator(t *testing.T) *Estimator {
	t.Helper()
	pack, err := langpack.Load("../../configs/languages/es.yaml")
	if err != nil {
		t.Fatalf("load pack: %v", err)
	}
	return NewEstimator(pack, nil)
}

func utter(text string) model.Utterance {
	return model.Utterance{ID: "u", RawText: text, Timestamp: time.Unix(0, 0)}
}

// TestSparseUtteranceKeepsLevel 单词或空发言是证据不足，不降档。
func TestSparseUtteranceKeepsLevel(t *testing.T) {
	e := newTestEstimator(t)
	for _, text := range []string{"", "   ", "Hola", "¡Hola!"} {
		res, err := e.Estimate(utter(text), model.LevelAdvanced)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", text, err)
		}
		if !res.Sparse || res.Level != model.LevelAdvanced {
			t.Fatalf("%q: expected sparse and unchanged level, got %+v", text, res)
		}
	}
}

// TestTwoIncorrectTurnsDropOneTierEach 中级学习者连续两次简单错句：第一轮最多降到初级（Elementary）。
func TestTwoIncorrectTurnsDropOneTierEach(t *testing.T) {
	e := newTestEstimator(t)

	res, err := e.Estimate(utter("Yo café gusta"), model.LevelIntermediate)
	if !errors.Is(err, model.ErrUnsupportedLevelTransition) {
		t.Fatalf("expected clamped transition, got %v", err)
	}
	if res.Level != model.LevelElementary || !res.Clamped || res.Target != model.LevelBeginner {
		t.Fatalf("unexpected first result: %+v", res)
	}

	res, err = e.Estimate(utter("Yo perro grande"), res.Level)
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if res.Level != model.LevelBeginner {
		t.Fatalf("expected beginner after second turn, got %s", res.Level)
	}
}

func TestComplexSentenceRisesOneTier(t *testing.T) {
	e := newTestEstimator(t)
	res, err := e.Estimate(utter("Si hubiera sabido que venías, habría preparado algo especial para cenar"), model.LevelBeginner)
	if !errors.Is(err, model.ErrUnsupportedLevelTransition) {
		t.Fatalf("expected clamp error, got %v", err)
	}
	if res.Target != model.LevelAdvanced || res.Level != model.LevelElementary {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTieKeepsPriorLevel(t *testing.T) {
	e := newTestEstimator(t)
	res, err := e.Estimate(utter("Me gusta mucho el café"), model.LevelBeginner)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if res.Level != model.LevelBeginner || res.Target != model.LevelBeginner {
		t.Fatalf("expected beginner, got %+v", res)
	}
}

// TestLevelNeverMovesMoreThanOneTier 随机发言序列下，每轮档位变化不超过一档。
func TestLevelNeverMovesMoreThanOneTier(t *testing.T) {
	e := newTestEstimator(t)
	words := []string{"yo", "café", "porque", "aunque", "hubiera", "extraordinariamente", "sin", "embargo", "echar", "de", "menos", "casa", "xyz"}
	rng := rand.New(rand.NewPCG(7, 11))

	current := model.LevelIntermediate
	for i := 0; i < 500; i++ {
		n := rng.IntN(24)
		parts := make([]string, n)
		for j := range parts {
			parts[j] = words[rng.IntN(len(words))]
		}
		res, _ := e.Estimate(utter(strings.Join(parts, " ")), current)
		if res.Level.Distance(current) > 1 {
			t.Fatalf("turn %d: %s -> %s", i, current, res.Level)
		}
		current = res.Level
	}
}

func TestTierForPoints(t *testing.T) {
	cases := []struct {
		points int
		want   model.Level
	}{
		{0, model.LevelBeginner},
		{1, model.LevelBeginner},
		{2, model.LevelElementary},
		{3, model.LevelIntermediate},
		{5, model.LevelAdvanced},
		{9, model.LevelExpert},
	}
	for _, c := range cases {
		if got := TierForPoints(c.points); got != c.want {
			t.Errorf("points %d: expected %s, got %s", c.points, c.want, got)
		}
	}
}
