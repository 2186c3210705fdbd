package model

import (
	"encoding/json"
	"strings"
	"testing"
)

// TestNewGlossRejectsMissingTranslation 验证纠正句与翻译不可拆分。
func TestNewGlossRejectsMissingTranslation(t *testing.T) {
	if _, err := NewGloss("A mí me gusta el café", ""); err == nil {
		t.Fatalf("expected error for empty translation")
	}
	if _, err := NewGloss("  ", "J'aime le café"); err == nil {
		t.Fatalf("expected error for empty text")
	}
	g, err := NewGloss(" A mí me gusta el café ", " J'aime le café ")
	if err != nil {
		t.Fatalf("new gloss: %v", err)
	}
	if g.Text() != "A mí me gusta el café" || g.Translation() != "J'aime le café" {
		t.Fatalf("expected trimmed gloss, got %q / %q", g.Text(), g.Translation())
	}
}

func TestNewCorrectionVerdictPairsTranslation(t *testing.T) {
	if _, err := NewCorrectionVerdict(ClassMinor, Gloss{}, "zero gloss"); err == nil {
		t.Fatalf("expected error for zero gloss")
	}
	g, _ := NewGloss("A mí me gusta el café", "J'aime le café")
	if _, err := NewCorrectionVerdict(ClassCorrect, g, ""); err == nil {
		t.Fatalf("expected error for correct verdict with correction")
	}

	v, err := NewCorrectionVerdict(ClassMinor, g, "word order")
	if err != nil {
		t.Fatalf("new verdict: %v", err)
	}
	if v.CorrectedText() == "" || v.Translation() == "" {
		t.Fatalf("expected corrected text and translation")
	}
	if v.Classification().Polarity() != PolarityNegative {
		t.Fatalf("expected negative polarity for minor")
	}
}

func TestVerdictWithExampleReturnsCopy(t *testing.T) {
	base := NewCorrectVerdict("ok")
	ex, _ := NewGloss("Hola, ¿qué tal?", "Salut, ça va ?")
	withEx := base.WithExample(ex)

	if _, ok := base.Example(); ok {
		t.Fatalf("original verdict must not change")
	}
	got, ok := withEx.Example()
	if !ok || got.Translation() == "" {
		t.Fatalf("expected example with translation")
	}
	if base.WithExample(Gloss{}) != base {
		t.Fatalf("zero gloss must be ignored")
	}
}

func TestVerdictMarshalJSON(t *testing.T) {
	g, _ := NewGloss("A mí me gusta el café", "J'aime le café")
	v, _ := NewCorrectionVerdict(ClassMinor, g, "word order")
	data, err := json.Marshal(v.AsAmbiguous())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"classification":"minor"`, `"corrected_text":"A mí me gusta el café"`, `"translation":"J'aime le café"`, `"ambiguous":true`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}
}
