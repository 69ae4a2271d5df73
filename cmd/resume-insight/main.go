package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resume-insight-go/internal/advisor"
	"resume-insight-go/internal/api/handler"
	"resume-insight-go/internal/api/middleware"
	"resume-insight-go/internal/api/router"
	"resume-insight-go/internal/config"
	"resume-insight-go/internal/extractor"
	"resume-insight-go/internal/llm"
	"resume-insight-go/internal/logger"
	"resume-insight-go/internal/outbox"
	"resume-insight-go/internal/parser"
	"resume-insight-go/internal/processor"
	"resume-insight-go/internal/salary"
	"resume-insight-go/internal/storage"
	"resume-insight-go/internal/taxonomy"
	"resume-insight-go/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzzerolog "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
)

const serviceName = "resume-insight"

func main() {
	configPath := pflag.String("config", "", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
		FilePath:     cfg.Logger.FilePath,
	})
	hlog.SetLogger(hertzzerolog.From(logger.Logger))
	logger.Info().Msg("配置与日志初始化完成")

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, serviceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化链路追踪失败")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("关闭链路追踪失败")
		}
	}()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储层失败")
	}
	defer storageManager.Close()

	// LLM客户端：抽取和建议可以配置不同的模型
	extractModel, err := llm.NewQwenChatModel(cfg.LLM.APIKey, cfg.GetModelForTask("extract"), cfg.LLM.APIURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化抽取模型客户端失败")
	}
	adviseModel, err := llm.NewQwenChatModel(cfg.LLM.APIKey, cfg.GetModelForTask("advise"), cfg.LLM.APIURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化建议模型客户端失败")
	}

	// 所有工作者共享同一份LLM配额，在客户端统一限流
	var extractChatModel model.ChatModel = extractModel
	var adviseChatModel model.ChatModel = adviseModel
	if cfg.LLM.QPM > 0 {
		extractChatModel = llm.NewRateLimitedChatModel(extractModel, cfg.LLM.QPM)
		adviseChatModel = llm.NewRateLimitedChatModel(adviseModel, cfg.LLM.QPM)
	}

	pdfExtractor, err := parser.NewPDFTextExtractor(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化PDF解析器失败")
	}

	// 存储层允许部分降级，接口参数只在适配器真实存在时才注入
	var modelBlobs taxonomy.BlobStore
	var salaryBlobs salary.BlobStore
	var matchCache taxonomy.MatchCache
	if storageManager.MinIO != nil {
		modelBlobs = storageManager.MinIO
		salaryBlobs = storageManager.MinIO
	}
	if storageManager.Redis != nil {
		matchCache = storageManager.Redis
	}

	taxonomySvc := taxonomy.NewService(cfg.Taxonomy, modelBlobs, matchCache)
	salaryEst := salary.NewEstimator(cfg.Salary, salaryBlobs)
	profileExtractor := extractor.NewLLMProfileExtractor(extractChatModel, cfg.Pipeline.ExtractMaxRetries)
	adviceGen := advisor.NewAdvisor(adviseChatModel)

	// 预热模型制品，失败不阻塞启动，首次使用时还会重试
	go func() {
		warmupCtx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		if err := taxonomySvc.Warmup(warmupCtx); err != nil {
			logger.Warn().Err(err).Msg("职业分类索引预热失败")
		}
		if err := salaryEst.Warmup(warmupCtx); err != nil {
			logger.Warn().Err(err).Msg("薪资打分文件预热失败")
		}
	}()

	// 工作池依赖消息队列取任务、对象存储取解析文本，缺一不可
	var messageRelay *outbox.MessageRelay
	var worker *processor.Worker
	if storageManager.RabbitMQ != nil && storageManager.MinIO != nil {
		relayLogger := log.New(logger.Logger, "[OutboxRelay] ", log.LstdFlags)
		messageRelay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ, relayLogger).
			WithPollingInterval(config.GetDuration(cfg.RabbitMQ.OutboxRelayInterval, 5*time.Second)).
			WithBatchSize(cfg.RabbitMQ.OutboxRelayBatchSize)
		messageRelay.Start()
		logger.Info().Msg("出站消息中继已启动")

		timeouts := processor.StageTimeouts{
			Extract:   config.GetDuration(cfg.Pipeline.ExtractTimeout, 90*time.Second),
			Predict:   config.GetDuration(cfg.Pipeline.PredictTimeout, 10*time.Second),
			Recommend: config.GetDuration(cfg.Pipeline.RecommendTimeout, 20*time.Second),
		}
		pipeline := processor.NewAnalysisPipeline(
			storageManager.MySQL,
			storageManager.MinIO,
			profileExtractor,
			taxonomySvc,
			salaryEst,
			adviceGen,
			timeouts,
		).WithNotifier(storageManager.RabbitMQ, cfg.RabbitMQ.NotificationExchange, cfg.RabbitMQ.NotificationRoutingKey)

		worker = processor.NewWorker(storageManager.RabbitMQ, pipeline, &cfg.RabbitMQ, cfg.Pipeline.Workers)
		if err := worker.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("启动分析工作池失败")
		}
	} else {
		logger.Warn().Msg("RabbitMQ或MinIO不可用，出站中继与分析工作池未启动")
	}

	rateLimiter := middleware.NewPollRateLimiter(cfg.RateLimit, storageManager.Redis)
	analysisHandler := handler.NewAnalysisHandler(cfg, storageManager, pdfExtractor)

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		tracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, cfg, analysisHandler, rateLimiter)
	logger.Info().Str("address", cfg.Server.Address).Msg("HTTP服务器启动中")

	go func() {
		if err := h.Run(); err != nil {
			logger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("接收到终止信号，正在优雅退出")

	// 先停掉任务摄入，再关HTTP入口
	if worker != nil {
		worker.Stop()
	}
	if messageRelay != nil {
		messageRelay.Stop()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP服务器关闭失败")
	}
	logger.Info().Msg("优雅退出完成")
}
