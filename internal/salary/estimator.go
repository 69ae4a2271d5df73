package salary

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"resume-insight-go/internal/config"
	"resume-insight-go/internal/logger"
	"resume-insight-go/internal/types"
)

// BlobStore 打分文件的读取接口，由MinIO适配器实现
type BlobStore interface {
	GetModelObject(ctx context.Context, objectKey string) ([]byte, error)
}

// Artifact 薪资打分文件
// 模型在对数薪资空间做加性打分：基准值加上各画像维度的系数修正，
// 最后指数还原并按扩散系数展开成区间
type Artifact struct {
	// 货币代码，写入预测结果
	Currency string `json:"currency"`
	// 未收录职业的默认对数基准薪资
	DefaultBase float64 `json:"default_base"`
	// 区间半宽（对数空间）
	Spread float64 `json:"spread"`
	// 逐职业对数基准薪资，键为职业分类ID的十进制字符串
	BaseByProfession map[string]float64 `json:"base_by_profession"`
	// 经验区间修正
	ExperienceCoef map[string]float64 `json:"experience_coef"`
	// 工作时间安排修正
	ScheduleCoef map[string]float64 `json:"schedule_coef"`
	// 地区修正，键为清洗后的小写地区名
	LocationCoef map[string]float64 `json:"location_coef"`
	// 每偏离标准工时一小时的修正
	HoursCoef float64 `json:"hours_coef"`
	// 每个技能词条的加成及其上限
	SkillCoefPerToken float64 `json:"skill_coef_per_token"`
	SkillBonusCap     float64 `json:"skill_bonus_cap"`
}

const standardWeeklyHours = 40

// Estimator 薪资区间预测器，打分文件延迟到首次使用时加载
type Estimator struct {
	cfg   config.SalaryConfig
	blobs BlobStore // 可为nil，此时只走本地文件

	once     sync.Once
	artifact *Artifact
	loadErr  error
}

// NewEstimator 创建薪资预测器
func NewEstimator(cfg config.SalaryConfig, blobs BlobStore) *Estimator {
	return &Estimator{cfg: cfg, blobs: blobs}
}

// Warmup 主动触发打分文件加载，供进程启动时调用
func (e *Estimator) Warmup(ctx context.Context) error {
	return e.ensureArtifact(ctx)
}

func (e *Estimator) ensureArtifact(ctx context.Context) error {
	e.once.Do(func() {
		e.artifact, e.loadErr = e.loadArtifact(ctx)
	})
	return e.loadErr
}

// loadArtifact 读取打分文件，对象存储优先，本地路径兜底
func (e *Estimator) loadArtifact(ctx context.Context) (*Artifact, error) {
	var data []byte
	if e.blobs != nil && e.cfg.ArtifactObject != "" {
		if d, err := e.blobs.GetModelObject(ctx, e.cfg.ArtifactObject); err == nil && len(d) > 0 {
			data = d
		} else if err != nil {
			logger.Warn().Err(err).Str("object", e.cfg.ArtifactObject).Msg("从对象存储读取薪资打分文件失败，尝试本地路径")
		}
	}
	if data == nil {
		d, err := os.ReadFile(e.cfg.ArtifactPath)
		if err != nil {
			return nil, fmt.Errorf("薪资打分文件不可读 (object=%q path=%q): %w", e.cfg.ArtifactObject, e.cfg.ArtifactPath, err)
		}
		data = d
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("解析薪资打分文件失败: %w", err)
	}
	if a.Currency == "" {
		a.Currency = "RUB"
	}
	if a.DefaultBase <= 0 {
		return nil, fmt.Errorf("薪资打分文件缺少有效的default_base")
	}
	if a.Spread < 0 {
		return nil, fmt.Errorf("薪资打分文件的spread为负数: %v", a.Spread)
	}

	logger.Info().
		Int("professions", len(a.BaseByProfession)).
		Str("currency", a.Currency).
		Msg("薪资打分文件已加载")
	return &a, nil
}

// Estimate 基于结构化画像和职业分类ID预测薪资区间
// 画像不合法时直接报错，不会用垃圾输入去跑模型
func (e *Estimator) Estimate(ctx context.Context, profile *types.ExtractedProfile, professionID int) (types.SalaryRange, error) {
	if profile == nil {
		return types.SalaryRange{}, fmt.Errorf("画像为空")
	}
	if err := profile.Validate(); err != nil {
		return types.SalaryRange{}, fmt.Errorf("画像不合法: %w", err)
	}
	if err := e.ensureArtifact(ctx); err != nil {
		return types.SalaryRange{}, err
	}

	a := e.artifact

	mid := a.DefaultBase
	if base, ok := a.BaseByProfession[strconv.Itoa(professionID)]; ok {
		mid = base
	}

	mid += a.ExperienceCoef[string(profile.Experience)]
	mid += a.ScheduleCoef[string(profile.Schedule)]
	if profile.Location != "" {
		mid += a.LocationCoef[strings.ToLower(strings.TrimSpace(profile.Location))]
	}
	if profile.WorkHours > 0 {
		mid += a.HoursCoef * (profile.WorkHours - standardWeeklyHours)
	}

	if a.SkillCoefPerToken > 0 && profile.SkillsText != "" {
		bonus := a.SkillCoefPerToken * float64(len(strings.Fields(profile.SkillsText)))
		if a.SkillBonusCap > 0 && bonus > a.SkillBonusCap {
			bonus = a.SkillBonusCap
		}
		mid += bonus
	}

	lower := int64(math.Round(math.Exp(mid - a.Spread)))
	upper := int64(math.Round(math.Exp(mid + a.Spread)))
	if lower < 0 {
		lower = 0
	}
	if upper < lower {
		upper = lower
	}

	return types.SalaryRange{
		Lower:    lower,
		Upper:    upper,
		Currency: a.Currency,
	}, nil
}
