// Package config loads service configuration from config.yaml via viper.
// Every knob has a default so an empty file still yields a runnable
// in-memory deployment (mock providers, memory vector store).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServiceConfig carries the connection settings shared by every external
// provider client (LLM, embedding, doc2x).
type ServiceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// LLMConfig describes one chat model endpoint.
//
// Type selects the provider family (openai, dashscope, azure, mock) and
// APIType selects the wire protocol (chat for Chat Completions, responses
// for the Responses API).
type LLMConfig struct {
	ServiceConfig `mapstructure:",squash"`
	Type          string `mapstructure:"type"`
	APIType       string `mapstructure:"api_type"`
	TimeoutMs     int    `mapstructure:"timeout_ms"`
	MaxTokens     int    `mapstructure:"max_tokens"`
}

// FallbackConfig is the standby model used when the primary stream fails.
type FallbackConfig struct {
	LLMConfig `mapstructure:",squash"`
	Enabled   bool `mapstructure:"enabled"`
}

// ChunkingConfig bounds the two-stage document chunker.
type ChunkingConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	MinChunkSize int `mapstructure:"min_chunk_size"`
}

// ContextConfig bounds conversation history handling.
type ContextConfig struct {
	MaxHistoryRounds int `mapstructure:"max_history_rounds"`
	MaxContextTokens int `mapstructure:"max_context_tokens"`
	SummaryThreshold int `mapstructure:"summary_threshold"`
}

// RAGConfig tunes the hybrid retrieval engine.
type RAGConfig struct {
	TopK                       int     `mapstructure:"top_k"`
	SimilarityThreshold        float64 `mapstructure:"similarity_threshold"`
	ContextualRetrievalEnabled bool    `mapstructure:"contextual_retrieval_enabled"`
	SmallDocumentThreshold     int     `mapstructure:"small_document_threshold"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	ServiceConfig `mapstructure:",squash"`
	Type          string `mapstructure:"type"`
	Dimension     int    `mapstructure:"dimension"`
	BatchSize     int    `mapstructure:"batch_size"`
}

// RetryConfig bounds outbound HTTP retries.
type RetryConfig struct {
	MaxAttempts    int     `mapstructure:"max_attempts"`
	InitialDelayMs int     `mapstructure:"initial_delay_ms"`
	Multiplier     float64 `mapstructure:"multiplier"`
}

// Config is the full service configuration tree.
type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`
	Postgres struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"dbname"`
	} `mapstructure:"postgres"`
	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	MinIO struct {
		Enabled         bool   `mapstructure:"enabled"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		BucketName      string `mapstructure:"bucket_name"`
		UseSSL          bool   `mapstructure:"use_ssl"`
	} `mapstructure:"minio"`
	Document struct {
		StoragePath  string `mapstructure:"storage_path"`
		MaxFileSize  int64  `mapstructure:"max_file_size"`
		AllowedTypes string `mapstructure:"allowed_types"`
	} `mapstructure:"document"`
	Parser struct {
		Doc2X struct {
			ServiceConfig  `mapstructure:",squash"`
			Enabled        bool `mapstructure:"enabled"`
			MinNativeChars int  `mapstructure:"min_native_chars"`
		} `mapstructure:"doc2x"`
	} `mapstructure:"parser"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Context   ContextConfig   `mapstructure:"context"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    struct {
		Type      string `mapstructure:"type"`
		Dimension int    `mapstructure:"dimension"`
	} `mapstructure:"vector"`
}

// AllowedTypeList splits document.allowed_types into lowercase extensions.
func (c *Config) AllowedTypeList() []string {
	parts := strings.Split(c.Document.AllowedTypes, ",")
	types := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToLower(strings.TrimSpace(p)); t != "" {
			types = append(types, t)
		}
	}
	return types
}

// PostgresDSN assembles the pgx connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.Postgres.User, c.Postgres.Password,
		c.Postgres.Host, c.Postgres.Port, c.Postgres.DBName)
}

// RedisAddr assembles the rueidis address.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ServerAddr assembles the HTTP listen address.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")

	viper.SetDefault("postgres.enabled", false)
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.dbname", "intelligent_qa")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("minio.enabled", false)
	viper.SetDefault("minio.endpoint", "localhost:9000")
	viper.SetDefault("minio.bucket_name", "documents")
	viper.SetDefault("minio.use_ssl", false)

	viper.SetDefault("document.storage_path", "./uploads")
	viper.SetDefault("document.max_file_size", 52428800)
	viper.SetDefault("document.allowed_types", "pdf,md,markdown,txt")

	viper.SetDefault("parser.doc2x.enabled", false)
	viper.SetDefault("parser.doc2x.min_native_chars", 100)

	viper.SetDefault("chunking.chunk_size", 500)
	viper.SetDefault("chunking.chunk_overlap", 50)
	viper.SetDefault("chunking.min_chunk_size", 100)

	viper.SetDefault("llm.type", "mock")
	viper.SetDefault("llm.api_type", "chat")
	viper.SetDefault("llm.timeout_ms", 60000)
	viper.SetDefault("llm.max_tokens", 2048)

	viper.SetDefault("fallback.enabled", false)
	viper.SetDefault("fallback.api_type", "chat")
	viper.SetDefault("fallback.timeout_ms", 60000)
	viper.SetDefault("fallback.max_tokens", 2048)

	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.initial_delay_ms", 1000)
	viper.SetDefault("retry.multiplier", 2.0)

	viper.SetDefault("context.max_history_rounds", 10)
	viper.SetDefault("context.max_context_tokens", 4000)
	viper.SetDefault("context.summary_threshold", 6)

	viper.SetDefault("rag.top_k", 5)
	viper.SetDefault("rag.similarity_threshold", 0.7)
	viper.SetDefault("rag.contextual_retrieval_enabled", false)
	viper.SetDefault("rag.small_document_threshold", 10)

	viper.SetDefault("embedding.type", "mock")
	viper.SetDefault("embedding.dimension", 1024)
	viper.SetDefault("embedding.batch_size", 16)

	viper.SetDefault("vector.type", "memory")
	viper.SetDefault("vector.dimension", 1024)
}

// LoadConfig reads config.yaml from path and unmarshals it over the
// defaults. Environment variables override file values.
func LoadConfig(path string) (config Config, err error) {
	setDefaults()

	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	if err = viper.ReadInConfig(); err != nil {
		// A missing file is fine: defaults describe a self-contained
		// in-memory deployment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}
