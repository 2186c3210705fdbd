package model

import "testing"

func TestLevelStepMovesAtMostOneTier(t *testing.T) {
	for _, from := range AllLevels() {
		for _, to := range AllLevels() {
			got := from.Step(to)
			if got.Distance(from) > 1 {
				t.Fatalf("step %s -> %s jumped to %s", from, to, got)
			}
			if from == to && got != from {
				t.Fatalf("tie must keep prior level, got %s", got)
			}
			if to.Distance(got) > to.Distance(from) {
				t.Fatalf("step %s -> %s moved away: %s", from, to, got)
			}
		}
	}
}

func TestLevelTextRoundTrip(t *testing.T) {
	for _, l := range AllLevels() {
		text, err := l.MarshalText()
		if err != nil {
			t.Fatalf("marshal %d: %v", l, err)
		}
		var back Level
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("unmarshal %s: %v", text, err)
		}
		if back != l {
			t.Fatalf("expected %s, got %s", l, back)
		}
	}
	if _, err := ParseLevel("master"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if ClampLevel(-3) != LevelBeginner || ClampLevel(42) != LevelExpert {
		t.Fatalf("clamp out of range")
	}
}
