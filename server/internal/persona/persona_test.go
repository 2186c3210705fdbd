package persona

import (
	"errors"
	"strings"
	"testing"

	"el-professor/server/internal/model"
)

func TestLoadDirShipsTwoPersonas(t *testing.T) {
	reg, err := LoadDir("../../configs/personas")
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 personas, got %d", len(list))
	}

	prof, err := reg.Get("el_professor")
	if err != nil {
		t.Fatalf("get el_professor: %v", err)
	}
	if prof.Tone != model.TonePedagogical || prof.TargetLanguage != "es" {
		t.Fatalf("unexpected el_professor: %+v", prof)
	}
	story, err := reg.Get("el_cuentacuentos")
	if err != nil {
		t.Fatalf("get el_cuentacuentos: %v", err)
	}
	if story.Tone != model.ToneWhimsical || story.HumorFrequency <= prof.HumorFrequency {
		t.Fatalf("expected whimsical persona with more humor, got %+v", story)
	}

	if _, err := reg.Get("nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestGetReturnsCopy 验证人设在会话期间不可变：调用方修改副本不影响注册表。
func TestGetReturnsCopy(t *testing.T) {
	reg, err := NewRegistry(model.Persona{ID: "p", TargetLanguage: "es", LearnerLanguage: "fr"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	p, _ := reg.Get("p")
	p.Emotions.Positive[0] = "angry"
	again, _ := reg.Get("p")
	if again.Emotions.Positive[0] != model.DefaultPositiveEmotions[0] {
		t.Fatalf("registry persona was mutated: %v", again.Emotions.Positive)
	}
}

func TestValidateRejectsOverlappingEmotions(t *testing.T) {
	_, err := Parse([]byte(`
id: broken
target_language: es
learner_language: fr
emotions:
  positive: [happy, sad-mild]
  negative: [sad-mild]
`))
	if err == nil || !strings.Contains(err.Error(), "both polarity sets") {
		t.Fatalf("expected overlap error, got %v", err)
	}

	cases := map[string]string{
		"no id":        "target_language: es\nlearner_language: fr",
		"bad tone":     "id: x\ntone: grumpy\ntarget_language: es\nlearner_language: fr",
		"bad humor":    "id: x\nhumor_frequency: 2\ntarget_language: es\nlearner_language: fr",
		"no language":  "id: x",
		"bad level":    "id: x\ninitial_level: master\ntarget_language: es\nlearner_language: fr",
		"bad rotation": "id: x\naffirmation_mode: shuffle\ntarget_language: es\nlearner_language: fr",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestBuildInstructionsCarriesNoInitiativeRules(t *testing.T) {
	reg, err := LoadDir("../../configs/personas")
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	for _, p := range reg.List() {
		instructions := BuildInstructions(p)
		if err := ValidateInstructions(instructions); err != nil {
			t.Fatalf("%s: %v", p.ID, err)
		}
		for _, want := range []string{"ONLY respond when the user speaks to you", "You have no camera", p.Name} {
			if !strings.Contains(instructions, want) {
				t.Errorf("%s: expected %q in instructions", p.ID, want)
			}
		}
	}
}

func TestBuildInstructionsFallsBackToDescription(t *testing.T) {
	p := model.Persona{ID: "x", Name: "Tío Pepe", Description: "Un tío simpático."}
	instructions := BuildInstructions(p)
	if !strings.Contains(instructions, "You are Tío Pepe. Un tío simpático.") {
		t.Fatalf("expected description fallback, got:\n%s", instructions)
	}
}

// TestBuildInstructionsOmitsLevel 会话指令只发一次，不能带会过期的学习者等级。
func TestBuildInstructionsOmitsLevel(t *testing.T) {
	p := model.Persona{ID: "x", Name: "Tío Pepe", Description: "Un tío simpático.", TargetLanguage: "es", LearnerLanguage: "fr"}
	instructions := BuildInstructions(p)
	for _, stale := range []string{"Current level", "A1", "B1", "C1"} {
		if strings.Contains(instructions, stale) {
			t.Errorf("instructions must not mention %q:\n%s", stale, instructions)
		}
	}
	if !strings.Contains(instructions, "Target language: es") {
		t.Errorf("expected target language line, got:\n%s", instructions)
	}
}
