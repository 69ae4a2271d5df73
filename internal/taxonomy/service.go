package taxonomy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"resume-insight-go/internal/config"
	"resume-insight-go/internal/constants"
	"resume-insight-go/internal/logger"
)

// BlobStore 模型制品的读写接口，由MinIO适配器实现
type BlobStore interface {
	GetModelObject(ctx context.Context, objectKey string) ([]byte, error)
	PutModelObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// MatchCache 分类结果缓存与重建锁接口，由Redis适配器实现
type MatchCache interface {
	GetCachedTaxonomyMatch(ctx context.Context, normalizedTitle string) (string, error)
	SetCachedTaxonomyMatch(ctx context.Context, normalizedTitle string, matchJSON string) error
	AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error)
}

// Service 职业分类服务
// 索引构建昂贵且结果不可变，用sync.Once保证进程内至多构建一次；
// 构建失败的错误同样被缓存，后续调用直接失败而不是反复重试重建
type Service struct {
	cfg   config.TaxonomyConfig
	blobs BlobStore  // 可为nil，此时只走本地文件
	cache MatchCache // 可为nil，此时跳过缓存和分布式锁

	once     sync.Once
	idx      *Index
	buildErr error
}

// NewService 创建职业分类服务，索引延迟到首次使用时构建
func NewService(cfg config.TaxonomyConfig, blobs BlobStore, cache MatchCache) *Service {
	return &Service{
		cfg:   cfg,
		blobs: blobs,
		cache: cache,
	}
}

// Warmup 主动触发索引构建，供进程启动时调用以避免首个请求付出构建开销
func (s *Service) Warmup(ctx context.Context) error {
	return s.ensureIndex(ctx)
}

// ensureIndex 构建守卫：并发调用只有一个真正执行构建，其余等待结果
func (s *Service) ensureIndex(ctx context.Context) error {
	s.once.Do(func() {
		s.idx, s.buildErr = s.buildOrLoad(ctx)
	})
	return s.buildErr
}

// buildOrLoad 优先加载持久化快照，失败时回退到从参考数据集重建
func (s *Service) buildOrLoad(ctx context.Context) (*Index, error) {
	start := time.Now()

	if data := s.loadSnapshotBytes(ctx); data != nil {
		idx, err := DecodeSnapshot(data)
		if err == nil {
			logger.Info().
				Int("entries", idx.Size()).
				Dur("elapsed", time.Since(start)).
				Msg("职业分类索引已从快照加载")
			return idx, nil
		}
		// 快照损坏不致命，回退重建
		logger.Warn().Err(err).Msg("索引快照不可用，回退到从数据集重建")
	}

	// 多实例同时重建会压垮存储，用分布式锁把重建收敛到单实例
	var lockValue string
	if s.cache != nil {
		var err error
		lockValue, err = s.cache.AcquireLock(ctx, constants.KeyTaxonomyBuildLock, 2*time.Minute)
		if err != nil {
			logger.Warn().Err(err).Msg("获取索引重建锁失败，继续本地重建")
		}
		if lockValue != "" {
			defer func() {
				if _, err := s.cache.ReleaseLock(ctx, constants.KeyTaxonomyBuildLock, lockValue); err != nil {
					logger.Warn().Err(err).Msg("释放索引重建锁失败")
				}
			}()
		}
	}

	entries, err := s.loadDataset(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载参考数据集失败: %w", err)
	}

	idx, err := BuildIndex(entries)
	if err != nil {
		return nil, fmt.Errorf("构建职业分类索引失败: %w", err)
	}

	s.persistSnapshot(ctx, idx)

	logger.Info().
		Int("entries", idx.Size()).
		Dur("elapsed", time.Since(start)).
		Msg("职业分类索引构建完成")
	return idx, nil
}

// loadSnapshotBytes 依次尝试对象存储和本地路径，都失败返回nil
func (s *Service) loadSnapshotBytes(ctx context.Context) []byte {
	if s.blobs != nil && s.cfg.SnapshotObject != "" {
		if data, err := s.blobs.GetModelObject(ctx, s.cfg.SnapshotObject); err == nil && len(data) > 0 {
			return data
		}
	}
	if s.cfg.SnapshotPath != "" {
		if data, err := os.ReadFile(s.cfg.SnapshotPath); err == nil && len(data) > 0 {
			return data
		}
	}
	return nil
}

// loadDataset 读取参考数据集CSV，对象存储优先，本地路径兜底
func (s *Service) loadDataset(ctx context.Context) ([]Entry, error) {
	if s.blobs != nil && s.cfg.DatasetObject != "" {
		if data, err := s.blobs.GetModelObject(ctx, s.cfg.DatasetObject); err == nil && len(data) > 0 {
			return LoadEntriesCSV(bytes.NewReader(data), s.cfg.FallbackID)
		}
	}

	f, err := os.Open(s.cfg.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("参考数据集不可读 (object=%q path=%q): %w", s.cfg.DatasetObject, s.cfg.DatasetPath, err)
	}
	defer f.Close()
	return LoadEntriesCSV(f, s.cfg.FallbackID)
}

// persistSnapshot 尽力持久化快照，失败只告警不影响服务
func (s *Service) persistSnapshot(ctx context.Context, idx *Index) {
	data, err := idx.EncodeSnapshot()
	if err != nil {
		logger.Warn().Err(err).Msg("编码索引快照失败")
		return
	}
	if s.blobs != nil && s.cfg.SnapshotObject != "" {
		if err := s.blobs.PutModelObject(ctx, s.cfg.SnapshotObject, data, "application/octet-stream"); err != nil {
			logger.Warn().Err(err).Msg("上传索引快照失败")
		}
	}
	if s.cfg.SnapshotPath != "" {
		if err := os.WriteFile(s.cfg.SnapshotPath, data, 0o644); err != nil {
			logger.Warn().Err(err).Msg("写入本地索引快照失败")
		}
	}
}

// Classify 把自由文本职业名称映射到职业分类ID
// 最佳相似度低于置信度下限时返回兜底ID，防止把生僻职业硬塞进错误类目
func (s *Service) Classify(ctx context.Context, jobTitle string) (Match, error) {
	if err := s.ensureIndex(ctx); err != nil {
		return Match{}, err
	}

	normalized := Normalize(jobTitle)
	if normalized == "" {
		return Match{ID: s.cfg.FallbackID, Confidence: 0}, nil
	}

	// 同名职业反复出现，先查缓存
	if s.cache != nil {
		if cached, err := s.cache.GetCachedTaxonomyMatch(ctx, normalized); err == nil && cached != "" {
			var m Match
			if err := json.Unmarshal([]byte(cached), &m); err == nil {
				return m, nil
			}
		}
	}

	best := s.idx.Query(normalized)
	result := best
	if best.Confidence < s.cfg.MinConfidence {
		result = Match{ID: s.cfg.FallbackID, Confidence: best.Confidence}
	}

	if s.cache != nil {
		if data, err := json.Marshal(result); err == nil {
			if err := s.cache.SetCachedTaxonomyMatch(ctx, normalized, string(data)); err != nil {
				logger.Debug().Err(err).Msg("写入分类结果缓存失败")
			}
		}
	}

	return result, nil
}

// TopMatches 返回前k个候选类目，供调试接口使用
func (s *Service) TopMatches(ctx context.Context, jobTitle string, k int) ([]Match, error) {
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return s.idx.QueryTopK(jobTitle, k), nil
}
