package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"resume-insight-go/internal/constants"
	"resume-insight-go/internal/llm"
	"resume-insight-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() *types.ExtractedProfile {
	return &types.ExtractedProfile{
		JobTitle:   "数据分析师",
		Location:   "上海",
		Schedule:   types.ScheduleFullDay,
		Experience: types.ExperienceOneToThree,
		WorkHours:  40,
		SkillsText: "SQL Python Tableau",
	}
}

func TestGenerateReturnsModelAdvice(t *testing.T) {
	mock := llm.NewMockChatModel(llm.MockResponse{Content: "1. 突出量化成果\n2. 精简项目描述"})
	a := NewAdvisor(mock)

	advice := a.Generate(context.Background(), "简历原文……", testProfile())
	assert.Equal(t, "1. 突出量化成果\n2. 精简项目描述", advice)

	// 画像信息进入了用户提示词
	require.Equal(t, 1, mock.CallCount())
	userMsg := mock.ReceivedMessages[0][1].Content
	assert.Contains(t, userMsg, "数据分析师")
	assert.Contains(t, userMsg, "SQL Python Tableau")
}

func TestGenerateFallsBackOnError(t *testing.T) {
	mock := llm.NewMockChatModel(llm.MockResponse{Error: errors.New("deadline exceeded")})
	a := NewAdvisor(mock)

	advice := a.Generate(context.Background(), "简历原文", testProfile())
	assert.Equal(t, constants.FallbackRecommendation, advice)
}

func TestGenerateFallsBackOnEmptyContent(t *testing.T) {
	mock := llm.NewMockChatModel(llm.MockResponse{Content: "   "})
	a := NewAdvisor(mock)

	advice := a.Generate(context.Background(), "简历原文", testProfile())
	assert.Equal(t, constants.FallbackRecommendation, advice)
}

func TestGenerateTruncatesOnRuneBoundary(t *testing.T) {
	mock := llm.NewMockChatModel(llm.MockResponse{Content: "建议"})
	a := NewAdvisor(mock)

	// 每个汉字3字节，截断上限不落在字符边界上
	a.Generate(context.Background(), strings.Repeat("历", 3000), testProfile())

	userMsg := mock.ReceivedMessages[0][1].Content
	assert.True(t, utf8.ValidString(userMsg))
}

func TestGenerateWithNilProfile(t *testing.T) {
	mock := llm.NewMockChatModel(llm.MockResponse{Content: "通用建议"})
	a := NewAdvisor(mock)

	advice := a.Generate(context.Background(), "简历原文", nil)
	assert.Equal(t, "通用建议", advice)
}
