package roles

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// 自由入力のロール名（"Régisseur Son (intermittent)" 等）を比較用キーへ揃える
func NormalizeRole(s string) string {
	s = stripDiacritics(s)
	s = stripParentheses(s)
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' {
			return ' '
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeType は機材種別の表記ゆれ（大小文字・アクセント・仏語表記）を吸収する
func NormalizeType(s string) (EquipmentType, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(stripDiacritics(s)), " "))
	t, ok := typeAliases[key]
	return t, ok
}

func stripDiacritics(s string) string {
	// Transformer は状態を持つので毎回組み立てる
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// 括弧で囲まれた部分を落とす。閉じ括弧が無い場合は末尾まで捨てる
func stripParentheses(s string) string {
	var sb strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth == 0:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
