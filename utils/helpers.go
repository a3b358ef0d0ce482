package utils

// RedactToken 辅助函数，用于安全地展示 SSO token 的前缀，并添加后缀 "..."。
// 主要用于日志或 API 响应，避免暴露完整的敏感凭证。
// 例如，RedactToken("eyJhbGciOiJIUzI1NiJ9.abcdef") 返回 "eyJhbGciOiJI..."。
// s: 输入字符串。
// 返回: 处理后的字符串，或在输入为空时返回 "[EMPTY]"。
func RedactToken(s string) string {
	const prefixLength = 12 // 展示的开头字符数量，与测试端点的展示格式保持一致。
	if len(s) == 0 {
		return "[EMPTY]"
	}
	if len(s) > prefixLength {
		return s[:prefixLength] + "..."
	}
	// 短字符串同样追加 "..."，与长字符串的 "prefix..." 格式保持一致。
	return s + "..."
}

// SafeSuffix 辅助函数，用于安全地获取字符串末尾的指定长度的子串，并添加前缀 "..."。
// 与 RedactToken 相反，它展示末尾而非开头，适合在日志中区分相似前缀的 token。
// s: 输入字符串。
// 返回: 处理后的字符串，或在输入为空时返回 "[EMPTY]"。
func SafeSuffix(s string) string {
	const suffixLength = 4
	if len(s) == 0 {
		return "[EMPTY]"
	}
	if len(s) > suffixLength {
		return "..." + s[len(s)-suffixLength:]
	}
	return "..." + s
}

// DerefString 安全地解引用字符串指针。
// 如果指针为 nil，则返回提供的默认字符串值。
// 这对于处理来自 JSON 请求等可能为 nil 的可选字符串字段非常有用。
func DerefString(s *string, def string) string {
	if s != nil {
		return *s
	}
	return def
}

// DerefBool 安全地解引用布尔指针，nil 时返回默认值。
func DerefBool(b *bool, def bool) bool {
	if b != nil {
		return *b
	}
	return def
}
