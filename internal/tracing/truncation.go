package tracing

import (
	"strings"
)

// DefaultMaxLength span属性值的默认最大长度
const DefaultMaxLength = 200

// maskPIILookup 属性名包含这些关键字时值需要掩码处理
// 简历域里邮箱、电话、姓名都可能出现在任务的通知和画像字段里
var maskPIILookup = map[string]bool{
	"email":    true,
	"邮箱":       true,
	"phone":    true,
	"电话":       true,
	"name":     true,
	"姓名":       true,
	"address":  true,
	"地址":       true,
	"password": true,
	"secret":   true,
	"token":    true,
}

// SafeAttributeValue 返回可以安全写入span属性的值：
// 敏感属性名对应的值做掩码，其余超长值做截断
func SafeAttributeValue(name string, value string, maxLength int) string {
	lowerName := strings.ToLower(name)
	for keyword := range maskPIILookup {
		if strings.Contains(lowerName, keyword) {
			return MaskPII(value)
		}
	}
	return TruncateString(value, maxLength)
}

// MaskPII 对个人敏感信息掩码，保留首尾便于排查时粗略对账
func MaskPII(value string) string {
	if value == "" {
		return ""
	}

	runes := []rune(value)
	length := len(runes)

	if length <= 1 {
		return "*"
	}
	if length <= 4 {
		// 短值如"张三"掩为"张*"，"王小明"掩为"王*明"
		if length == 2 {
			return string(runes[0:1]) + "*"
		}
		return string(runes[0:1]) + strings.Repeat("*", length-2) + string(runes[length-1:])
	}

	// 邮箱、手机号等长值保留前后各两位
	return string(runes[0:2]) + strings.Repeat("*", length-4) + string(runes[length-2:])
}

// TruncateString 按字符数截断，超长时保留首尾、中间用省略号连接
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
