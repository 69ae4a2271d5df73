package types

import (
	"fmt"
)

// ScheduleType 表示工作时间安排类别（闭合枚举）
type ScheduleType string

const (
	ScheduleFiveOnTwoOff    ScheduleType = "FIVE_ON_TWO_OFF"
	ScheduleTwoOnTwoOff     ScheduleType = "TWO_ON_TWO_OFF"
	ScheduleSixOnOneOff     ScheduleType = "SIX_ON_ONE_OFF"
	ScheduleThreeOnThreeOff ScheduleType = "THREE_ON_THREE_OFF"
	ScheduleOneOnTwoOff     ScheduleType = "ONE_ON_TWO_OFF"
	ScheduleWeekend         ScheduleType = "WEEKEND_ONLY"
	ScheduleShift           ScheduleType = "SHIFT"
	ScheduleFlexible        ScheduleType = "FLEXIBLE"
	ScheduleRemote          ScheduleType = "REMOTE"
	ScheduleFlyInFlyOut     ScheduleType = "FLY_IN_FLY_OUT"
	ScheduleRotational      ScheduleType = "ROTATIONAL"
	ScheduleFullDay         ScheduleType = "FULL_DAY"
	SchedulePartTime        ScheduleType = "PART_TIME"
	ScheduleNight           ScheduleType = "NIGHT_SHIFT"
	ScheduleUnknown         ScheduleType = "unknown"
)

var validSchedules = map[ScheduleType]struct{}{
	ScheduleFiveOnTwoOff: {}, ScheduleTwoOnTwoOff: {}, ScheduleSixOnOneOff: {},
	ScheduleThreeOnThreeOff: {}, ScheduleOneOnTwoOff: {}, ScheduleWeekend: {},
	ScheduleShift: {}, ScheduleFlexible: {}, ScheduleRemote: {},
	ScheduleFlyInFlyOut: {}, ScheduleRotational: {}, ScheduleFullDay: {},
	SchedulePartTime: {}, ScheduleNight: {}, ScheduleUnknown: {},
}

// IsValid 判断是否为合法的枚举值
func (s ScheduleType) IsValid() bool {
	_, ok := validSchedules[s]
	return ok
}

// NormalizeSchedule 将任意输入收敛到合法枚举，未知值归为unknown
func NormalizeSchedule(raw string) ScheduleType {
	s := ScheduleType(raw)
	if s.IsValid() {
		return s
	}
	return ScheduleUnknown
}

// ExperienceBand 表示工作经验区间（闭合枚举）
type ExperienceBand string

const (
	ExperienceNone        ExperienceBand = "noExperience"
	ExperienceOneToThree  ExperienceBand = "between1And3"
	ExperienceThreeToSix  ExperienceBand = "between3And6"
	ExperienceMoreThanSix ExperienceBand = "moreThan6"
)

var validExperience = map[ExperienceBand]struct{}{
	ExperienceNone: {}, ExperienceOneToThree: {},
	ExperienceThreeToSix: {}, ExperienceMoreThanSix: {},
}

// IsValid 判断是否为合法的枚举值
func (e ExperienceBand) IsValid() bool {
	_, ok := validExperience[e]
	return ok
}

// ExtractedProfile 抽取阶段产出的结构化画像
// 不独立持久化，仅嵌入分析结果
type ExtractedProfile struct {
	JobTitle   string         `json:"job_title"`
	Location   string         `json:"location,omitempty"`
	Schedule   ScheduleType   `json:"schedule"`
	Experience ExperienceBand `json:"experience"`
	// 每周工作小时数
	WorkHours  float64 `json:"work_hours"`
	SkillsText string  `json:"skills_text,omitempty"`
}

// Validate 校验画像字段是否满足流水线要求
func (p *ExtractedProfile) Validate() error {
	if p.JobTitle == "" {
		return fmt.Errorf("职位名称为空")
	}
	if !p.Schedule.IsValid() {
		return fmt.Errorf("非法的工作时间安排: %q", p.Schedule)
	}
	if !p.Experience.IsValid() {
		return fmt.Errorf("非法的经验区间: %q", p.Experience)
	}
	if p.WorkHours < 0 || p.WorkHours > 168 {
		return fmt.Errorf("工作小时数超出范围 [0,168]: %v", p.WorkHours)
	}
	return nil
}

// SalaryRange 薪资预测区间，货币单位由打分模型决定
type SalaryRange struct {
	Lower    int64  `json:"lower"`
	Upper    int64  `json:"upper"`
	Currency string `json:"currency"`
}

// AnalysisOutcome 分析成功时写入任务结果字段的完整载荷
type AnalysisOutcome struct {
	Profile         *ExtractedProfile `json:"profile"`
	ProfessionID    int               `json:"profession_id"`
	ProfessionLabel string            `json:"profession_label,omitempty"`
	Salary          SalaryRange       `json:"salary"`
	Recommendation  string            `json:"recommendation"`
}
