package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resume-match-go/internal/agent"
	"resume-match-go/internal/api/handler"
	"resume-match-go/internal/api/router"
	"resume-match-go/internal/budget"
	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/extractor"
	"resume-match-go/internal/identity"
	appLogger "resume-match-go/internal/logger"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/scoring"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/vector"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	hertzadapter "github.com/hertz-contrib/logger/zerolog"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("加载配置失败")
	}

	initLogger(cfg)
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, &cfg.Tracing)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("初始化链路追踪失败")
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	// 文本oracle，带QPM令牌桶限流
	deepseek, err := agent.NewDeepSeekChatModel(cfg.DeepSeek.APIKey, cfg.DeepSeek.Model, cfg.DeepSeek.APIURL,
		agent.WithTemperature(cfg.DeepSeek.Temperature),
		agent.WithMaxTokens(cfg.DeepSeek.MaxTokens),
		agent.WithHTTPTimeout(config.GetDuration(cfg.DeepSeek.Timeout, 60*time.Second)),
	)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("初始化DeepSeek模型失败")
	}
	llmModel := agent.NewRateLimitedChatModel(deepseek, cfg.DeepSeek.QPM)

	// 嵌入器，Redis读穿缓存
	gemini, err := parser.NewGeminiEmbedder(cfg.Gemini)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("初始化Gemini嵌入器失败")
	}
	var embedder embedding.Embedder = gemini
	if storageManager.Redis != nil {
		embedder = parser.NewCachedEmbedder(gemini, storageManager.Redis)
	}

	// PDF解析器，配置了Tika时优先
	var pdfExtractor parser.PDFExtractor
	if cfg.Tika.ServerURL != "" {
		var tikaOptions []parser.TikaOption
		if cfg.Tika.Timeout > 0 {
			tikaOptions = append(tikaOptions, parser.WithTimeout(time.Duration(cfg.Tika.Timeout)*time.Second))
		}
		pdfExtractor = parser.NewTikaPDFExtractor(cfg.Tika.ServerURL, tikaOptions...)
		glog.Info("使用Tika PDF解析器")
	} else {
		pdfExtractor, err = parser.NewEinoPDFTextExtractor(ctx)
		if err != nil {
			appLogger.Fatal().Err(err).Msg("创建Eino PDF解析器失败")
		}
		glog.Info("使用Eino PDF解析器")
	}

	budgetManager := budget.NewManager(budget.WithMaxTokens(cfg.Scoring.MaxContextTokens))
	hybridExtractor := extractor.NewHybridExtractor(llmModel, extractor.WithBudgetManager(budgetManager))
	resolver := identity.NewResolver(storageManager.MySQL)

	classifier := scoring.NewClassifier(embedder, llmModel, storageManager.MySQL)
	scorer := scoring.NewScorer(llmModel,
		scoring.WithWorkers(cfg.Scoring.Workers),
		scoring.WithBudgetManager(budgetManager),
	)

	resumeIndex := vector.NewIndex()
	warmIndexes(ctx, classifier, resumeIndex, embedder, storageManager)

	var publisher *storage.EventPublisher
	if storageManager.RabbitMQ != nil {
		publisher, err = storage.NewEventPublisher(storageManager.RabbitMQ, &cfg.RabbitMQ)
		if err != nil {
			appLogger.Warn().Err(err).Msg("初始化事件发布器失败, 事件通知不可用")
		}
	}

	resumeHandler := handler.NewResumeHandler(storageManager, pdfExtractor, hybridExtractor, resolver, embedder, resumeIndex, publisher)
	jobHandler := handler.NewJobHandler(storageManager, classifier, scorer, embedder, resumeIndex, publisher, cfg.Scoring.TopK)

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		tracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, jobHandler, resumeHandler, cfg.Server.APIKeys)
	glog.Infof("HTTP服务器启动中, 监听地址: %s", cfg.Server.Address)

	go func() {
		if err := h.Run(); err != nil {
			appLogger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号, 正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("服务器关闭失败")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		appLogger.Warn().Err(err).Msg("链路追踪关闭失败")
	}
	glog.Info("优雅退出完成")
}

// initLogger 初始化zerolog并把Hertz的日志接到同一个记录器上
func initLogger(cfg *config.Config) {
	appLogger.Init(appLogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Caller: cfg.Logger.Caller,
	})

	glog.SetLogger(hertzadapter.From(appLogger.Logger))
}

// warmIndexes 启动时预热两个内存索引：
// 分类索引从categories表重建，简历索引从已完成的提交回放。
func warmIndexes(ctx context.Context, classifier *scoring.Classifier, resumeIndex *vector.Index, embedder embedding.Embedder, st *storage.Storage) {
	if st.MySQL == nil {
		return
	}

	categories, err := st.MySQL.ListCategories(ctx)
	if err != nil {
		appLogger.Warn().Err(err).Msg("预热分类索引失败")
	} else {
		for _, c := range categories {
			if err := classifier.RegisterCategory(ctx, c.Name); err != nil {
				appLogger.Warn().Err(err).Str("category", c.Name).Msg("登记分类向量失败")
			}
		}
		appLogger.Info().Int("count", len(categories)).Msg("分类索引预热完成")
	}

	if st.MinIO == nil {
		return
	}
	subs, err := st.MySQL.ListSubmissionsByStatus(ctx, constants.StatusProcessingCompleted, 0)
	if err != nil {
		appLogger.Warn().Err(err).Msg("预热简历索引失败")
		return
	}
	warmed := 0
	for _, sub := range subs {
		text, err := st.MinIO.GetParsedText(ctx, sub.SubmissionUUID)
		if err != nil {
			appLogger.Warn().Err(err).Str("submission_uuid", sub.SubmissionUUID).Msg("回读解析文本失败, 跳过预热")
			continue
		}
		vectors, err := embedder.EmbedStrings(ctx, []string{text})
		if err != nil || len(vectors) == 0 {
			appLogger.Warn().Err(err).Str("submission_uuid", sub.SubmissionUUID).Msg("嵌入简历失败, 跳过预热")
			continue
		}
		vec := make([]float32, len(vectors[0]))
		for i, v := range vectors[0] {
			vec[i] = float32(v)
		}
		if _, err := resumeIndex.Insert(sub.SubmissionUUID, vec); err != nil {
			appLogger.Warn().Err(err).Str("submission_uuid", sub.SubmissionUUID).Msg("简历向量入索引失败")
			continue
		}
		warmed++
	}
	appLogger.Info().Int("count", warmed).Msg("简历索引预热完成")
}
