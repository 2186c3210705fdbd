package level

import "el-professor/server/internal/model"

// Profile 描述某一档位的输出复杂度上限。
type Profile struct {
	Level model.Level
	CEFR  string
	// MaxWords 每句最多词数（括号内翻译不计）。
	MaxWords int
}

var profiles = [...]Profile{
	{Level: model.LevelBeginner, CEFR: "A1-A2", MaxWords: 8},
	{Level: model.LevelElementary, CEFR: "A2", MaxWords: 10},
	{Level: model.LevelIntermediate, CEFR: "B1-B2", MaxWords: 14},
	{Level: model.LevelAdvanced, CEFR: "C1", MaxWords: 18},
	{Level: model.LevelExpert, CEFR: "C1-C2", MaxWords: 24},
}

// ProfileFor 返回档位对应的固定配置；非法档位按 Beginner 处理。
func ProfileFor(l model.Level) Profile {
	if !l.Valid() {
		return profiles[model.LevelBeginner]
	}
	return profiles[l]
}
