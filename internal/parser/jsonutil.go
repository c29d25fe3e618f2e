package parser

import (
	"strings"
	"unicode/utf8"
)

// CleanLLMReply 对LLM原始回复做预处理：去BOM、剥代码围栏、替换非法UTF-8序列。
// 各解析器在 json.Unmarshal 之前统一走这里。
func CleanLLMReply(raw string) string {
	s := strings.TrimPrefix(raw, "\uFEFF")
	s = StripCodeFence(s)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.TrimSpace(s)
}

// StripCodeFence 去掉 ```json ... ``` 形式的Markdown代码围栏
func StripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	// 围栏后可能紧跟语言标记，如 json
	if idx := strings.IndexByte(t, '\n'); idx >= 0 {
		first := strings.TrimSpace(t[:idx])
		if first == "json" || first == "JSON" || first == "" {
			t = t[idx+1:]
		}
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// ExtractJSON 用花括号配对从自由文本中截取第一个完整的JSON对象，
// 找不到返回空串。
func ExtractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// SanitizeJSON 把字符串字面量内部未转义的双引号改写为 \"。
// 判断依据：字符串内遇到 " 时，看下一个非空白字符是否是 :, ], } 或 ,，
// 是则视为真正的字符串结束，否则视为内部引号。
func SanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		switch {
		case c == '"' && !escaped:
			if !inStr {
				inStr = true
				b.WriteByte(c)
			} else {
				j := i + 1
				for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
					j++
				}
				if j < len(src) && (src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}') {
					inStr = false
					b.WriteByte(c)
				} else {
					b.WriteString("\\\"")
				}
			}
			escaped = false

		case c == '\\' && !escaped:
			escaped = true
			b.WriteByte(c)

		default:
			b.WriteByte(c)
			escaped = false
		}
	}

	return b.String()
}
