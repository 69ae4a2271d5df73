package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSchedule(t *testing.T) {
	assert.Equal(t, ScheduleRemote, NormalizeSchedule("REMOTE"))
	assert.Equal(t, ScheduleFullDay, NormalizeSchedule("FULL_DAY"))
	assert.Equal(t, ScheduleUnknown, NormalizeSchedule("remote"))
	assert.Equal(t, ScheduleUnknown, NormalizeSchedule(""))
	assert.Equal(t, ScheduleUnknown, NormalizeSchedule("随便写的"))
}

func TestProfileValidate(t *testing.T) {
	valid := func() *ExtractedProfile {
		return &ExtractedProfile{
			JobTitle:   "电工",
			Schedule:   ScheduleShift,
			Experience: ExperienceThreeToSix,
			WorkHours:  40,
		}
	}

	assert.NoError(t, valid().Validate())

	p := valid()
	p.JobTitle = ""
	assert.Error(t, p.Validate())

	p = valid()
	p.Schedule = ScheduleType("SOMETIMES")
	assert.Error(t, p.Validate())

	p = valid()
	p.Experience = ExperienceBand("veteran")
	assert.Error(t, p.Validate())

	p = valid()
	p.WorkHours = -1
	assert.Error(t, p.Validate())

	p = valid()
	p.WorkHours = 169
	assert.Error(t, p.Validate())

	// 边界值合法
	p = valid()
	p.WorkHours = 0
	assert.NoError(t, p.Validate())
	p.WorkHours = 168
	assert.NoError(t, p.Validate())
}

func TestExperienceIsValid(t *testing.T) {
	assert.True(t, ExperienceNone.IsValid())
	assert.True(t, ExperienceMoreThanSix.IsValid())
	assert.False(t, ExperienceBand("10years").IsValid())
}
