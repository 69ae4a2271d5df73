package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// GatewayModulePrefix 网关模块
	GatewayModulePrefix = "gateway"
	// TaxonomyModulePrefix 职业分类模块
	TaxonomyModulePrefix = "taxonomy"

	// EntityWindow 滑动窗口实体
	EntityWindow = "window"
	// EntityLock 分布式锁实体
	EntityLock = "lock"
	// EntityMatch 分类结果缓存实体
	EntityMatch = "match"

	// KeyPollWindow 状态查询限流滑动窗口 (ZSET)
	// 格式: app:gateway:window:{callerID}
	KeyPollWindow = AppPrefix + ":" + GatewayModulePrefix + ":" + EntityWindow + ":%s"

	// KeyTaxonomyBuildLock 索引重建分布式锁 (STRING)
	// 格式: app:taxonomy:lock:build
	KeyTaxonomyBuildLock = AppPrefix + ":" + TaxonomyModulePrefix + ":" + EntityLock + ":build"

	// KeyTaxonomyMatch 职业名称分类结果缓存 (STRING)
	// 格式: app:taxonomy:match:{normalizedTitle}
	KeyTaxonomyMatch = AppPrefix + ":" + TaxonomyModulePrefix + ":" + EntityMatch + ":%s"
)
