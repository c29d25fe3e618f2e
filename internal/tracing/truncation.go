package tracing

import "strings"

const (
	// DefaultMaxLength span属性值的默认长度上限
	DefaultMaxLength = 200

	// MaxResumeLength 简历文本预览的长度上限
	MaxResumeLength = 150
)

// 属性名里出现这些关键字时值要做掩码
var sensitiveKeywords = []string{
	"email", "phone", "password", "身份证", "id_card",
	"address", "地址", "name", "姓名", "linkedin", "secret", "token",
}

// SafeAttributeValue 给span属性做脱敏：敏感字段掩码，其余超长截断。
func SafeAttributeValue(name, value string, maxLength int) string {
	lower := strings.ToLower(name)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return MaskPII(value)
		}
	}
	return TruncateString(value, maxLength)
}

// MaskPII 掩码个人信息，只露出首尾。
// 短值（如姓名）露首尾各一个字符，长值（邮箱、手机号）露前后各两个。
func MaskPII(value string) string {
	runes := []rune(value)
	switch n := len(runes); {
	case n == 0:
		return ""
	case n == 1:
		return "*"
	case n == 2:
		return string(runes[:1]) + "*"
	case n <= 4:
		return string(runes[:1]) + strings.Repeat("*", n-2) + string(runes[n-1:])
	default:
		return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
	}
}

// TruncateString 超过maxLength时保留首尾并在中间放省略号
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	half := (maxLength - 3) / 2
	if half < 1 {
		half = 1
	}
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

// SafeResumeContent 简历全文只以短预览进span
func SafeResumeContent(content string) string {
	return TruncateString(content, MaxResumeLength)
}
