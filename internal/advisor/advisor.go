package advisor

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"resume-insight-go/internal/constants"
	"resume-insight-go/internal/logger"
	"resume-insight-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// 建议阶段的输入正文上限，超出部分截断
// 推荐是锦上添花的阶段，用较短的上下文换取更快的响应
const maxAdviceChars = 8000

const systemPrompt = `你是一位资深的职业发展顾问。基于候选人的简历和结构化画像，给出3到5条具体、可执行的简历改进建议。直接输出建议文本，使用编号列表，不要输出JSON或其他格式包装。`

// Advisor 简历改进建议生成器
type Advisor struct {
	model model.ChatModel
}

// NewAdvisor 创建建议生成器
func NewAdvisor(chatModel model.ChatModel) *Advisor {
	return &Advisor{model: chatModel}
}

// Generate 生成简历改进建议
// 该方法从不返回错误：模型调用失败或超时一律降级为兜底文案，
// 调用方应通过带超时的ctx控制本阶段的时间上限
func (a *Advisor) Generate(ctx context.Context, rawText string, profile *types.ExtractedProfile) string {
	text := truncateAtRune(strings.TrimSpace(rawText), maxAdviceChars)

	userPrompt := buildUserPrompt(text, profile)

	resp, err := a.model.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: userPrompt},
	})
	if err != nil {
		logger.Warn().Err(err).Msg("建议生成失败，使用兜底文案")
		return constants.FallbackRecommendation
	}

	advice := strings.TrimSpace(resp.Content)
	if advice == "" {
		logger.Warn().Msg("建议生成返回空内容，使用兜底文案")
		return constants.FallbackRecommendation
	}
	return advice
}

// truncateAtRune 按字节上限截断但不切开多字节字符，保证输出仍是合法UTF-8
func truncateAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func buildUserPrompt(resumeText string, profile *types.ExtractedProfile) string {
	var b strings.Builder
	if profile != nil {
		b.WriteString("候选人画像:\n")
		fmt.Fprintf(&b, "- 职位: %s\n", profile.JobTitle)
		if profile.Location != "" {
			fmt.Fprintf(&b, "- 地点: %s\n", profile.Location)
		}
		fmt.Fprintf(&b, "- 经验区间: %s\n", profile.Experience)
		fmt.Fprintf(&b, "- 工作安排: %s\n", profile.Schedule)
		if profile.SkillsText != "" {
			fmt.Fprintf(&b, "- 技能: %s\n", profile.SkillsText)
		}
		b.WriteString("\n")
	}
	b.WriteString("简历原文:\n")
	b.WriteString(resumeText)
	return b.String()
}
