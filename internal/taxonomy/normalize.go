package taxonomy

import (
	"strings"
	"unicode"
)

// Normalize 对职业名称做统一清洗：
// 小写化，保留字母/数字/连字符/斜杠，其余标点折叠为空格，压缩连续空白。
// 构建索引和查询必须经过同一套清洗，否则向量空间对不上。
func Normalize(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == '/':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// tokenize 把清洗后的文本切分为unigram+bigram词项
func tokenize(normalized string) []string {
	words := strings.Fields(normalized)
	if len(words) == 0 {
		return nil
	}

	terms := make([]string, 0, len(words)*2-1)
	terms = append(terms, words...)
	for i := 0; i+1 < len(words); i++ {
		terms = append(terms, words[i]+" "+words[i+1])
	}
	return terms
}
