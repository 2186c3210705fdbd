package persona

import (
	"fmt"
	"strings"

	"el-professor/server/internal/model"
)

// maxInstructionsLen 限制 Realtime 系统指令长度。
const maxInstructionsLen = 4000

// BuildInstructions 生成 Realtime 会话的系统指令。
//
// 会话使用 create_response=false，模型只在控制器显式下发 response.create 时开口。
// 指令只在会话建立时发送一次，不携带学习者等级：等级每轮都会变，
// 逐轮的难度由控制器组好的文本承载。
func BuildInstructions(p model.Persona) string {
	var sb strings.Builder

	sb.WriteString("[Role Definition]\n")
	sb.WriteString(extractProfile(p))
	sb.WriteString("\n")

	sb.WriteString("[Learner]\n")
	sb.WriteString(fmt.Sprintf("Target language: %s\n", p.TargetLanguage))
	sb.WriteString(fmt.Sprintf("Native language: %s\n", p.LearnerLanguage))
	sb.WriteString("\n")

	sb.WriteString("[Constraints]\n")
	sb.WriteString(fmt.Sprintf("- Speak only in %s, except translations in %s inside parentheses.\n", p.TargetLanguage, p.LearnerLanguage))
	sb.WriteString(fmt.Sprintf("- Never say more than %d sentences in one reply.\n", model.MaxSentences))
	sb.WriteString("- When you are given a text to say, read it exactly as written. Do not add, remove or reorder anything.\n")
	sb.WriteString("- Never describe what a camera shows or claim to see anything. You have no camera.\n")
	sb.WriteString("\n")

	sb.WriteString("[Critical Rules]\n")
	sb.WriteString("1. DO NOT speak spontaneously or initiate conversation. ONLY respond when the user speaks to you.\n")
	sb.WriteString("2. If the user stays silent after your reply, remain completely silent. Do not fill silence or ask follow-up questions.\n")
	sb.WriteString("3. The conversation is user-driven, not robot-driven.\n")

	return sb.String()
}

// SpeakInstructions 是 response.create 的单次指令：逐字朗读控制器组好的回复。
func SpeakInstructions(p model.Persona, text string) string {
	return fmt.Sprintf("Say exactly the following text aloud in the voice of %s, with a warm tone, and nothing else:\n%s", p.Name, text)
}

// ValidateInstructions 校验生成的指令包含必要段落且长度合理。
func ValidateInstructions(instructions string) error {
	if instructions == "" {
		return fmt.Errorf("empty instructions")
	}
	for _, section := range []string{"[Role Definition]", "[Learner]", "[Constraints]", "[Critical Rules]"} {
		if !strings.Contains(instructions, section) {
			return fmt.Errorf("missing required section: %s", section)
		}
	}
	if len(instructions) > maxInstructionsLen {
		return fmt.Errorf("instructions too long: %d > %d", len(instructions), maxInstructionsLen)
	}
	return nil
}

// extractProfile 取人设正文中 “## Profile” 段落；没有时取前几行，再没有就用描述。
func extractProfile(p model.Persona) string {
	lines := strings.Split(p.Prompt, "\n")
	var essence strings.Builder
	inProfile := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "## Profile") {
			inProfile = true
			continue
		}
		if inProfile {
			if strings.HasPrefix(line, "##") {
				break
			}
			if line != "" {
				essence.WriteString(line)
				essence.WriteString("\n")
			}
		}
	}
	if essence.Len() == 0 {
		for i, line := range lines {
			if i >= 5 {
				break
			}
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				essence.WriteString(line)
				essence.WriteString("\n")
			}
		}
	}
	if essence.Len() == 0 {
		essence.WriteString(fmt.Sprintf("You are %s. %s\n", p.Name, p.Description))
	}
	return essence.String()
}
