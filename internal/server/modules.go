package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/fx"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/spike2204/intelligent-qa/internal/bm25"
	"github.com/spike2204/intelligent-qa/internal/chunking"
	"github.com/spike2204/intelligent-qa/internal/config"
	"github.com/spike2204/intelligent-qa/internal/contextmgr"
	"github.com/spike2204/intelligent-qa/internal/enrich"
	"github.com/spike2204/intelligent-qa/internal/parser"
	"github.com/spike2204/intelligent-qa/internal/redis"
	"github.com/spike2204/intelligent-qa/internal/repository"
	"github.com/spike2204/intelligent-qa/internal/retrieval"
	"github.com/spike2204/intelligent-qa/internal/router"
	"github.com/spike2204/intelligent-qa/internal/vectorstore"
	"github.com/spike2204/intelligent-qa/pkg/clients/doc2x"
	"github.com/spike2204/intelligent-qa/pkg/clients/embedding"
	"github.com/spike2204/intelligent-qa/pkg/logger"
	"github.com/spike2204/intelligent-qa/pkg/middleware"
	pkgredis "github.com/spike2204/intelligent-qa/pkg/redis"
	"github.com/spike2204/intelligent-qa/pkg/storage"
)

// Module 是主要的FX依赖注入模块
var Module = fx.Options(
	// 基础设施模块
	InfrastructureModule,
	// 客户端模块
	ClientsModule,
	// 服务模块
	ServicesModule,
	// HTTP服务器模块
	HTTPServerModule,
	// 启动器
	fx.Invoke(StartHTTPServer),
)

// InfrastructureModule 基础设施模块 - 配置、日志、存储、缓存
var InfrastructureModule = fx.Module("infrastructure",
	fx.Provide(
		NewAppConfig,
		NewAppLogger,
		NewRepositories,
		NewVectorStore,
		NewCacheService,
		NewObjectStorage,
	),
)

// ClientsModule 客户端模块 - 外部服务客户端
var ClientsModule = fx.Module("clients",
	fx.Provide(
		NewEmbedder,
		NewModelRouter,
		NewParserRegistry,
	),
)

// ServicesModule 服务模块 - 业务逻辑服务
var ServicesModule = fx.Module("services",
	fx.Provide(
		NewChunker,
		NewEnricher,
		NewBM25Index,
		NewRetrievalEngine,
		NewContextManager,
		NewAppServer,
	),
)

// HTTPServerModule HTTP服务器模块
var HTTPServerModule = fx.Module("http_server",
	fx.Provide(
		NewHTTPServer,
	),
)

// NewAppConfig 创建应用配置
func NewAppConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// NewAppLogger 创建应用日志器
func NewAppLogger() (*slog.Logger, error) {
	if err := logger.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.Get(), nil
}

// Repositories 聚合四个领域仓储，供下游构造函数按接口取用。
type Repositories struct {
	Documents repository.DocumentRepository
	Chunks    repository.ChunkRepository
	Sessions  repository.SessionRepository
	Messages  repository.MessageRepository
}

// NewRepositories 按配置选择存储后端：postgres 或进程内存。
func NewRepositories(cfg config.Config, lifecycle fx.Lifecycle) (*Repositories, error) {
	if !cfg.Postgres.Enabled {
		mem := repository.NewMemory()
		return &Repositories{
			Documents: mem.Documents,
			Chunks:    mem.Chunks,
			Sessions:  mem.Sessions,
			Messages:  mem.Messages,
		}, nil
	}

	pg, err := repository.NewPostgres(context.Background(), cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create repositories: %w", err)
	}
	lifecycle.Append(fx.Hook{OnStop: func(context.Context) error {
		pg.Close()
		return nil
	}})
	return &Repositories{
		Documents: pg.Documents,
		Chunks:    pg.Chunks,
		Sessions:  pg.Sessions,
		Messages:  pg.Messages,
	}, nil
}

// NewVectorStore 创建向量索引后端
func NewVectorStore(cfg config.Config) (vectorstore.Store, error) {
	if cfg.Vector.Type == "postgres" {
		store, err := vectorstore.NewPostgresStore(context.Background(), cfg.PostgresDSN(), cfg.Vector.Dimension)
		if err != nil {
			return nil, fmt.Errorf("failed to create vector store: %w", err)
		}
		return store, nil
	}
	logger.Get().Info("使用内存向量存储", "dimension", cfg.Vector.Dimension)
	return vectorstore.NewMemoryStore(cfg.Vector.Dimension), nil
}

// NewCacheService 创建缓存服务；redis 关闭时返回 nil，调用方按可选依赖处理。
func NewCacheService(cfg config.Config, lifecycle fx.Lifecycle) (*redis.CacheService, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client, err := pkgredis.NewClient(pkgredis.ClientOptions{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	lifecycle.Append(fx.Hook{OnStop: func(context.Context) error {
		client.Close()
		return nil
	}})
	return redis.NewCacheService(client), nil
}

// NewObjectStorage 创建对象存储客户端；minio 关闭时返回 nil。
func NewObjectStorage(cfg config.Config) (storage.ObjectStorage, error) {
	if !cfg.MinIO.Enabled {
		return nil, nil
	}
	client, err := storage.NewMinIOClient(storage.MinIOConfig{
		Endpoint:        cfg.MinIO.Endpoint,
		AccessKeyID:     cfg.MinIO.AccessKeyID,
		SecretAccessKey: cfg.MinIO.SecretAccessKey,
		BucketName:      cfg.MinIO.BucketName,
		UseSSL:          cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return client, nil
}

// NewEmbedder 创建向量化客户端
func NewEmbedder(cfg config.Config) embedding.Embedder {
	return embedding.New(embedding.Config{
		Kind:       cfg.Embedding.Type,
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimension:  cfg.Embedding.Dimension,
		BatchSize:  cfg.Embedding.BatchSize,
		RetryCount: cfg.Retry.MaxAttempts,
	})
}

// NewModelRouter 创建对话模型路由
func NewModelRouter(cfg config.Config) *router.Router {
	return router.New(cfg)
}

// NewParserRegistry 创建文档解析注册表
func NewParserRegistry(cfg config.Config, cache *redis.CacheService) *parser.Registry {
	var converter doc2x.DocumentConverter
	if cfg.Parser.Doc2X.Enabled {
		converter = doc2x.NewClient(doc2x.Config{
			BaseURL:    cfg.Parser.Doc2X.BaseURL,
			APIKey:     cfg.Parser.Doc2X.APIKey,
			RetryCount: cfg.Retry.MaxAttempts,
		})
	}
	// 接口不能直接装入可能为 nil 的具体指针，否则接口非 nil。
	var convCache parser.ConversionCache
	if cache != nil {
		convCache = cache
	}
	return parser.NewRegistry(
		parser.NewMarkdownParser(),
		parser.NewPDFParser(converter, convCache, cfg.Parser.Doc2X.MinNativeChars),
	)
}

// NewChunker 创建文档切分器
func NewChunker(cfg config.Config) (*chunking.Chunker, error) {
	return chunking.NewChunker(chunking.Config{
		ChunkSize:    cfg.Chunking.ChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
		MinChunkSize: cfg.Chunking.MinChunkSize,
	})
}

// NewEnricher 创建分块上下文增强器
func NewEnricher(r *router.Router) *enrich.Enricher {
	return enrich.NewEnricher(r.Primary())
}

// NewBM25Index 创建进程内 BM25 索引
func NewBM25Index() *bm25.Index {
	return bm25.NewIndex()
}

// NewRetrievalEngine 创建混合检索引擎
func NewRetrievalEngine(
	cfg config.Config,
	embedder embedding.Embedder,
	store vectorstore.Store,
	index *bm25.Index,
	r *router.Router,
	repos *Repositories,
	cache *redis.CacheService,
) *retrieval.Engine {
	return retrieval.NewEngine(cfg.RAG, embedder, store, index, r, repos.Documents, repos.Chunks, cache)
}

// NewContextManager 创建会话上下文管理器
func NewContextManager(cfg config.Config, repos *Repositories, r *router.Router) *contextmgr.Manager {
	return contextmgr.NewManager(cfg.Context, repos.Sessions, repos.Messages, r.Primary())
}

// NewAppServer 组装服务实例
func NewAppServer(
	cfg config.Config,
	parsers *parser.Registry,
	chunker *chunking.Chunker,
	enricher *enrich.Enricher,
	embedder embedding.Embedder,
	vectors vectorstore.Store,
	index *bm25.Index,
	retriever *retrieval.Engine,
	r *router.Router,
	contexts *contextmgr.Manager,
	repos *Repositories,
	objectStorage storage.ObjectStorage,
	cache *redis.CacheService,
) *Server {
	return NewServer(Deps{
		Config:    cfg,
		Parsers:   parsers,
		Chunker:   chunker,
		Enricher:  enricher,
		Embedder:  embedder,
		Vectors:   vectors,
		Index:     index,
		Retriever: retriever,
		Router:    r,
		Contexts:  contexts,
		Documents: repos.Documents,
		Chunks:    repos.Chunks,
		Storage:   objectStorage,
		Cache:     cache,
	})
}

// NewHTTPServer 创建HTTP服务器（h2c，允许本地 HTTP/2 明文连接）
func NewHTTPServer(s *Server, cfg config.Config) *http.Server {
	addr := cfg.ServerAddr()
	logger.Get().Info("HTTP服务器配置完成", "address", addr)

	handler := middleware.Recover(middleware.AccessLog(s.Routes()))
	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// StartHTTPServer 启动HTTP服务器并在启动前重建索引
func StartHTTPServer(httpServer *http.Server, s *Server, lifecycle fx.Lifecycle, shutdowner fx.Shutdowner) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.WarmIndexes(ctx); err != nil {
				return err
			}
			logger.Get().Info("启动HTTP服务器", "addr", httpServer.Addr)
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Get().Error("HTTP服务器启动失败", "error", err)
					if shutdownErr := shutdowner.Shutdown(); shutdownErr != nil {
						logger.Get().Error("应用程序关闭失败", "error", shutdownErr)
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Get().Info("停止HTTP服务器")
			return httpServer.Shutdown(ctx)
		},
	})
}
