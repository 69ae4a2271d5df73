package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfigFromFile 验证YAML配置能被正确加载并与默认值合并
func TestLoadConfigFromFile(t *testing.T) {
	yamlContent := `
server:
  address: ":9090"
rabbitmq:
  url: "amqp://user:pass@mq:5672/"
  prefetch_count: 3
pipeline:
  workers: 8
  extract_timeout: "120s"
taxonomy:
  min_confidence: 0.2
  fallback_id: 40
rate_limit:
  limit: 6
  window: "60s"
llm:
  model: "qwen-turbo"
  task_models:
    extract: "qwen-plus"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "amqp://user:pass@mq:5672/", cfg.RabbitMQ.URL)
	assert.Equal(t, 3, cfg.RabbitMQ.PrefetchCount)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, "120s", cfg.Pipeline.ExtractTimeout)
	assert.Equal(t, 0.2, cfg.Taxonomy.MinConfidence)
	assert.Equal(t, 40, cfg.Taxonomy.FallbackID)
	assert.Equal(t, 6, cfg.RateLimit.Limit)

	// 未出现在文件里的字段保持默认值
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "resume-originals", cfg.MinIO.OriginalsBucket)
	assert.Equal(t, "analysis-models", cfg.MinIO.ModelsBucket)
}

// TestLoadConfigEnvOverride 验证敏感配置可以被环境变量覆盖
func TestLoadConfigEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  api_key: \"from-file\"\n"), 0o644))

	t.Setenv("LLM_API_KEY", "from-env")
	t.Setenv("SERVER_API_KEY", "admin-key")

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, "admin-key", cfg.Server.APIKey)
}

// TestLoadConfigBadYAML 验证语法错误的配置文件会报错
func TestLoadConfigBadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n\taddress: bad-tab-indent\n"), 0o644))

	cfg, err := LoadConfig(configPath)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestGetModelForTask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Model = "qwen-plus"
	cfg.LLM.TaskModels = map[string]string{"advise": "qwen-turbo"}

	assert.Equal(t, "qwen-turbo", cfg.GetModelForTask("advise"))
	assert.Equal(t, "qwen-plus", cfg.GetModelForTask("extract"))
	assert.Equal(t, "qwen-plus", cfg.GetModelForTask("unknown_task"))
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 90*time.Second, GetDuration("90s", time.Second))
	assert.Equal(t, 10*time.Minute, GetDuration("10m", time.Second))
	// 空串和非法值都退回默认值
	assert.Equal(t, 5*time.Second, GetDuration("", 5*time.Second))
	assert.Equal(t, 5*time.Second, GetDuration("not-a-duration", 5*time.Second))
}

func TestDefaultConfigRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 6, cfg.RateLimit.Limit)
	assert.Equal(t, "60s", cfg.RateLimit.Window)
	assert.Equal(t, 1, cfg.RabbitMQ.PrefetchCount)
}
