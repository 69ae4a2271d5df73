package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"resume-insight-go/internal/logger"
	"resume-insight-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// 简历正文过长时截断到该长度再送入模型，防止超出上下文窗口
const maxResumeChars = 20000

const systemPrompt = `你是一个简历信息抽取引擎。从用户提供的简历文本中抽取以下字段，只输出一个JSON对象，不要输出任何解释：
{
  "job_title": "候选人的目标职位或最近职位名称，字符串，必填",
  "location": "候选人所在城市或期望工作地，字符串，未知时为空字符串",
  "schedule": "工作时间安排，取值只能是 FIVE_ON_TWO_OFF / TWO_ON_TWO_OFF / SIX_ON_ONE_OFF / THREE_ON_THREE_OFF / ONE_ON_TWO_OFF / WEEKEND_ONLY / SHIFT / FLEXIBLE / REMOTE / FLY_IN_FLY_OUT / ROTATIONAL / FULL_DAY / PART_TIME / NIGHT_SHIFT 之一，无法判断时填 unknown",
  "experience": "工作经验区间，取值只能是 noExperience / between1And3 / between3And6 / moreThan6 之一",
  "work_hours": 每周工作小时数，数字，无法判断时填40,
  "skills_text": "技能关键词，用空格分隔的字符串，未知时为空字符串"
}`

// llmProfile LLM响应的原始结构，字段先按宽松类型接收再做收敛
type llmProfile struct {
	JobTitle   string   `json:"job_title"`
	Location   string   `json:"location"`
	Schedule   string   `json:"schedule"`
	Experience string   `json:"experience"`
	WorkHours  *float64 `json:"work_hours"`
	SkillsText string   `json:"skills_text"`
}

// LLMProfileExtractor 基于大模型的简历画像抽取器
type LLMProfileExtractor struct {
	model      model.ChatModel
	maxRetries int
}

// NewLLMProfileExtractor 创建画像抽取器，maxRetries为失败后的额外重试次数
func NewLLMProfileExtractor(chatModel model.ChatModel, maxRetries int) *LLMProfileExtractor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &LLMProfileExtractor{model: chatModel, maxRetries: maxRetries}
}

// Extract 从简历原文抽取结构化画像
// 抽取结果通不过校验（例如职位名称为空）视为失败，调用方应将任务置为错误态
func (e *LLMProfileExtractor) Extract(ctx context.Context, rawText string) (*types.ExtractedProfile, error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return nil, fmt.Errorf("简历文本为空")
	}
	text = truncateAtRune(text, maxResumeChars)

	response, err := e.callModel(ctx, text)
	if err != nil {
		return nil, err
	}

	jsonStr := extractJSON(response)
	if jsonStr == "" {
		logger.Warn().Str("response", truncate(response, 300)).Msg("无法从LLM响应中提取JSON")
		return nil, fmt.Errorf("无法从LLM响应中提取有效的JSON")
	}

	var raw llmProfile
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("解析画像JSON失败: %w", err)
	}

	profile := coerceProfile(&raw)
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("抽取结果不合法: %w", err)
	}
	return profile, nil
}

// callModel 带重试地调用模型，只对网络类错误重试
func (e *LLMProfileExtractor) callModel(ctx context.Context, resumeText string) (string, error) {
	messages := []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: resumeText},
	}

	retryDelay := 2 * time.Second
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("上下文已取消: %w", ctx.Err())
			case <-time.After(retryDelay):
				retryDelay *= 2
				logger.Debug().Int("attempt", attempt).Msg("重试画像抽取LLM调用")
			}
		}

		resp, err := e.model.Generate(ctx, messages)
		if err == nil {
			return resp.Content, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}
	return "", fmt.Errorf("画像抽取LLM调用失败: %w", lastErr)
}

// coerceProfile 把宽松解析的原始字段收敛为合法画像
// 枚举外的schedule归为unknown，工时缺失时按标准工时补齐
func coerceProfile(raw *llmProfile) *types.ExtractedProfile {
	profile := &types.ExtractedProfile{
		JobTitle:   strings.TrimSpace(raw.JobTitle),
		Location:   strings.TrimSpace(raw.Location),
		Schedule:   types.NormalizeSchedule(strings.TrimSpace(raw.Schedule)),
		Experience: types.ExperienceBand(strings.TrimSpace(raw.Experience)),
		SkillsText: strings.TrimSpace(raw.SkillsText),
	}
	if raw.WorkHours != nil {
		profile.WorkHours = *raw.WorkHours
	} else {
		profile.WorkHours = 40
	}
	if !profile.Experience.IsValid() {
		profile.Experience = types.ExperienceNone
	}
	return profile
}

var jsonFenceRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// extractJSON 从LLM响应中提取JSON文本
// 优先匹配```json代码块，回退到大括号配对扫描
func extractJSON(text string) string {
	if matches := jsonFenceRe.FindStringSubmatch(text); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

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
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
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
