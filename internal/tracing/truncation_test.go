package tracing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPII(t *testing.T) {
	assert.Equal(t, "", MaskPII(""))
	assert.Equal(t, "*", MaskPII("A"))
	assert.Equal(t, "张*", MaskPII("张三"))
	assert.Equal(t, "王*明", MaskPII("王小明"))
	assert.Equal(t, "us****************om", MaskPII("user@example.com.com"))

	masked := MaskPII("13812345678")
	assert.Equal(t, "13*******78", masked)
	assert.NotContains(t, masked, "12345")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))

	long := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	out := TruncateString(long, 21)
	assert.Contains(t, out, "...")
	assert.True(t, len([]rune(out)) <= 21)
	assert.True(t, strings.HasPrefix(out, "aaa"))
	assert.True(t, strings.HasSuffix(out, "bbb"))

	// 预算太小放不下省略号时硬截断
	assert.Equal(t, "abc", TruncateString("abcdef", 3))
}

func TestSafeAttributeValue(t *testing.T) {
	// 敏感属性名走掩码
	masked := SafeAttributeValue("analysis.notify_email", "user@example.com", DefaultMaxLength)
	assert.NotEqual(t, "user@example.com", masked)
	assert.Contains(t, masked, "*")

	// 普通属性名只做截断
	assert.Equal(t, "upload-123", SafeAttributeValue("source_ref", "upload-123", DefaultMaxLength))
	assert.Contains(t, SafeAttributeValue("source_ref", strings.Repeat("x", 500), DefaultMaxLength), "...")
}
