package salary

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"resume-insight-go/internal/config"
	"resume-insight-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArtifact() Artifact {
	return Artifact{
		Currency:    "RUB",
		DefaultBase: 10.8,
		Spread:      0.15,
		BaseByProfession: map[string]float64{
			"1": 11.5,
			"2": 11.0,
		},
		ExperienceCoef: map[string]float64{
			"noExperience": -0.25,
			"between1And3": 0.0,
			"between3And6": 0.2,
			"moreThan6":    0.35,
		},
		ScheduleCoef: map[string]float64{
			"REMOTE":    0.05,
			"PART_TIME": -0.3,
		},
		LocationCoef: map[string]float64{
			"москва": 0.3,
		},
		HoursCoef:         0.005,
		SkillCoefPerToken: 0.01,
		SkillBonusCap:     0.05,
	}
}

func writeArtifact(t *testing.T, a Artifact) string {
	t.Helper()
	data, err := json.Marshal(a)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "salary_model.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestEstimator(t *testing.T) *Estimator {
	t.Helper()
	return NewEstimator(config.SalaryConfig{ArtifactPath: writeArtifact(t, testArtifact())}, nil)
}

func validProfile() *types.ExtractedProfile {
	return &types.ExtractedProfile{
		JobTitle:   "Software Engineer",
		Schedule:   types.ScheduleFullDay,
		Experience: types.ExperienceOneToThree,
		WorkHours:  40,
	}
}

func TestEstimateKnownProfession(t *testing.T) {
	est := newTestEstimator(t)

	r, err := est.Estimate(context.Background(), validProfile(), 1)
	require.NoError(t, err)

	// base=11.5, 其余修正为0: bounds = exp(11.5 ± 0.15)
	assert.Equal(t, int64(math.Round(math.Exp(11.5-0.15))), r.Lower)
	assert.Equal(t, int64(math.Round(math.Exp(11.5+0.15))), r.Upper)
	assert.Equal(t, "RUB", r.Currency)
	assert.LessOrEqual(t, r.Lower, r.Upper)
}

func TestEstimateUnknownProfessionUsesDefaultBase(t *testing.T) {
	est := newTestEstimator(t)

	r, err := est.Estimate(context.Background(), validProfile(), 9999)
	require.NoError(t, err)
	assert.Equal(t, int64(math.Round(math.Exp(10.8-0.15))), r.Lower)
}

func TestEstimateAppliesCoefficients(t *testing.T) {
	est := newTestEstimator(t)

	p := validProfile()
	p.Experience = types.ExperienceMoreThanSix
	p.Schedule = types.ScheduleRemote
	p.Location = "  Москва "
	p.WorkHours = 50

	r, err := est.Estimate(context.Background(), p, 2)
	require.NoError(t, err)

	mid := 11.0 + 0.35 + 0.05 + 0.3 + 0.005*(50-40)
	assert.Equal(t, int64(math.Round(math.Exp(mid-0.15))), r.Lower)
	assert.Equal(t, int64(math.Round(math.Exp(mid+0.15))), r.Upper)
}

func TestEstimateSkillBonusIsCapped(t *testing.T) {
	est := newTestEstimator(t)

	p := validProfile()
	// 20个技能词条超过上限，加成封顶在0.05
	p.SkillsText = "go java python rust sql redis kafka docker k8s aws gcp azure linux git ci cd grpc http tls nginx"

	r, err := est.Estimate(context.Background(), p, 1)
	require.NoError(t, err)

	mid := 11.5 + 0.05
	assert.Equal(t, int64(math.Round(math.Exp(mid+0.15))), r.Upper)
}

func TestEstimateRejectsInvalidProfile(t *testing.T) {
	est := newTestEstimator(t)
	ctx := context.Background()

	_, err := est.Estimate(ctx, nil, 1)
	assert.Error(t, err)

	p := validProfile()
	p.JobTitle = ""
	_, err = est.Estimate(ctx, p, 1)
	assert.Error(t, err)

	p = validProfile()
	p.WorkHours = 200
	_, err = est.Estimate(ctx, p, 1)
	assert.Error(t, err)
}

func TestEstimatorMissingArtifact(t *testing.T) {
	est := NewEstimator(config.SalaryConfig{ArtifactPath: "/nonexistent/salary.json"}, nil)
	_, err := est.Estimate(context.Background(), validProfile(), 1)
	assert.Error(t, err)
}

func TestArtifactValidation(t *testing.T) {
	bad := testArtifact()
	bad.DefaultBase = 0
	est := NewEstimator(config.SalaryConfig{ArtifactPath: writeArtifact(t, bad)}, nil)
	_, err := est.Estimate(context.Background(), validProfile(), 1)
	assert.Error(t, err)
}
