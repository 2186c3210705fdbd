package langpack

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold 去掉重音并转小写：“Mí” 与 “mi” 视为同一词元。
// 语音转写经常丢失或多出重音，比较时不应计为错误。
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Tokenize 把句子切成规范化词元，标点（包括 ¿ ¡）全部丢弃。
func Tokenize(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Normalize 返回词元以单空格连接的形式，用作缓存键。
func Normalize(s string) string {
	return strings.Join(Tokenize(s), " ")
}

// WordCount 统计原始文本中的词数（与 Tokenize 一致）。
func WordCount(s string) int {
	return len(Tokenize(s))
}

// CountSentences 统计句数。括号内的翻译不计；连续的终止符（“?!”、“...”）算一句；
// 最后一个终止符之后还有文字也算一句。¿ ¡ 是起始符，不计。
func CountSentences(s string) int {
	count := 0
	depth := 0
	pending := false
	prevTerminal := false
	for _, r := range s {
		switch {
		case r == '(':
			depth++
			continue
		case r == ')':
			if depth > 0 {
				depth--
			}
			continue
		case depth > 0:
			continue
		}
		switch r {
		case '.', '!', '?', '…':
			if !prevTerminal && pending {
				count++
			}
			pending = false
			prevTerminal = true
		default:
			prevTerminal = false
			if unicode.IsLetter(r) || unicode.IsNumber(r) {
				pending = true
			}
		}
	}
	if pending {
		count++
	}
	return count
}
