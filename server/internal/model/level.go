package model

import (
	"fmt"
	"strings"
)

// Level 是学习者的熟练度档位，五档有序。
type Level int

const (
	LevelBeginner Level = iota
	LevelElementary
	LevelIntermediate
	LevelAdvanced
	LevelExpert
)

var levelNames = [...]string{"beginner", "elementary", "intermediate", "advanced", "expert"}

// levelCEFR 对应欧洲语言共同参考框架的大致区间，给 Prompt 和日志用。
var levelCEFR = [...]string{"A1-A2", "A2", "B1-B2", "C1", "C1-C2"}

// AllLevels 按从低到高返回全部档位。
func AllLevels() []Level {
	return []Level{LevelBeginner, LevelElementary, LevelIntermediate, LevelAdvanced, LevelExpert}
}

func (l Level) Valid() bool {
	return l >= LevelBeginner && l <= LevelExpert
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// CEFR 返回档位对应的 CEFR 区间。
func (l Level) CEFR() string {
	if !l.Valid() {
		return ""
	}
	return levelCEFR[l]
}

// Step 向 target 移动最多一档；target 与当前相同则保持不变。
func (l Level) Step(target Level) Level {
	switch {
	case target > l:
		return l + 1
	case target < l:
		return l - 1
	default:
		return l
	}
}

// Distance 返回两个档位之间的档数差（绝对值）。
func (l Level) Distance(other Level) int {
	d := int(l) - int(other)
	if d < 0 {
		return -d
	}
	return d
}

// ClampLevel 把任意整数收敛到合法档位范围。
func ClampLevel(v int) Level {
	if v < int(LevelBeginner) {
		return LevelBeginner
	}
	if v > int(LevelExpert) {
		return LevelExpert
	}
	return Level(v)
}

// ParseLevel 解析档位名称（大小写不敏感）。
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return LevelBeginner, fmt.Errorf("unknown level: %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid level: %d", int(l))
	}
	return []byte(levelNames[l]), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
