// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Tika        TikaConfig        `mapstructure:"tika"`
	MinIO       MinIOConfig       `mapstructure:"minio"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	LLM         LLMConfig         `mapstructure:"llm"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Chunking    ChunkingConfig    `mapstructure:"chunking"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
// Provider 取值 openai（兼容 /embeddings 接口）或 gemini（batchEmbedContents）。
type EmbeddingConfig struct {
	Provider         string  `mapstructure:"provider"`
	APIKey           string  `mapstructure:"api_key"`
	BaseURL          string  `mapstructure:"base_url"`
	Model            string  `mapstructure:"model"`
	Dimensions       int     `mapstructure:"dimensions"`
	BatchSize        int     `mapstructure:"batch_size"`
	Retries          int     `mapstructure:"retries"`
	BackoffSeconds   float64 `mapstructure:"backoff_seconds"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	DocumentTaskType string  `mapstructure:"document_task_type"`
	QuestionTaskType string  `mapstructure:"question_task_type"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider       string              `mapstructure:"provider"`
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	Prompt         LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置助手人设与无上下文时的固定回答。
type LLMPromptConfig struct {
	Persona         string `mapstructure:"persona"`
	FallbackPersona string `mapstructure:"fallback_persona"`
	NoAnswerText    string `mapstructure:"no_answer_text"`
}

// VectorStoreConfig 选择并配置向量库实现。
type VectorStoreConfig struct {
	Type          string              `mapstructure:"type"`
	Collection    string              `mapstructure:"collection"`
	Qdrant        QdrantConfig        `mapstructure:"qdrant"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

// QdrantConfig 存储 Qdrant REST 接口的连接信息。
type QdrantConfig struct {
	URL            string `mapstructure:"url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// ChunkingConfig 控制文本切块的窗口大小与重叠长度（字符数）。
type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// RetrievalConfig 控制检索阶段的参数。
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
}

// LedgerConfig 指定元数据台账文件的位置。
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// IngestConfig 控制文档入库流程。
type IngestConfig struct {
	AsyncEnabled      bool   `mapstructure:"async_enabled"`
	StagingDir        string `mapstructure:"staging_dir"`
	URLTimeoutSeconds int    `mapstructure:"url_timeout_seconds"`
	DefaultDomain     string `mapstructure:"default_domain"`
	SeedDir           string `mapstructure:"seed_dir"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 如果当前目录存在 .env 文件，会先将其加载到环境变量中，环境变量优先于 YAML。
func Init(configPath string) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := v.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

// setDefaults 注册所有可选项的默认值，同时让 AutomaticEnv 能识别这些键。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("embedding.provider", "gemini")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("embedding.model", "gemini-embedding-001")
	v.SetDefault("embedding.dimensions", 3072)
	v.SetDefault("embedding.batch_size", 50)
	v.SetDefault("embedding.retries", 3)
	v.SetDefault("embedding.backoff_seconds", 2.0)
	v.SetDefault("embedding.timeout_seconds", 60)
	v.SetDefault("embedding.document_task_type", "RETRIEVAL_DOCUMENT")
	v.SetDefault("embedding.question_task_type", "QUESTION_ANSWERING")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("llm.model", "gemini-2.5-pro")
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.prompt.persona", "You are VERA AI, a legal research assistant.")
	v.SetDefault("llm.prompt.fallback_persona", "You are VERA AI, a legal assistant.")
	v.SetDefault("llm.prompt.no_answer_text", "I'm sorry, I don't have any information on that topic")

	v.SetDefault("vector_store.type", "qdrant")
	v.SetDefault("vector_store.collection", "vera_docs")
	v.SetDefault("vector_store.qdrant.url", "http://localhost:6333")
	v.SetDefault("vector_store.qdrant.api_key", "")
	v.SetDefault("vector_store.qdrant.timeout_seconds", 30)

	v.SetDefault("chunking.size", 1000)
	v.SetDefault("chunking.overlap", 150)
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("ledger.path", "data/docs_metadata.json")

	v.SetDefault("ingest.async_enabled", false)
	v.SetDefault("ingest.url_timeout_seconds", 30)
	v.SetDefault("ingest.default_domain", "general")
	v.SetDefault("ingest.seed_dir", "initfile")

	v.SetDefault("kafka.group_id", "vera-go-ingest")
}

// Validate 在启动阶段检查必需的凭据与常量，缺失时快速失败。
func (c *Config) Validate() error {
	var errs []error
	if c.Embedding.APIKey == "" {
		errs = append(errs, errors.New("embedding.api_key is not set"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is not set"))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions))
	}
	if c.Embedding.Retries < 1 {
		errs = append(errs, fmt.Errorf("embedding.retries must be at least 1, got %d", c.Embedding.Retries))
	}
	if c.VectorStore.Collection == "" {
		errs = append(errs, errors.New("vector_store.collection is not set"))
	}
	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 {
		errs = append(errs, fmt.Errorf("invalid chunking window: size=%d overlap=%d", c.Chunking.Size, c.Chunking.Overlap))
	}
	if c.Ingest.AsyncEnabled && (c.Kafka.Brokers == "" || c.MinIO.Endpoint == "" || c.Database.MySQL.DSN == "") {
		errs = append(errs, errors.New("ingest.async_enabled requires kafka, minio and mysql settings"))
	}
	return errors.Join(errs...)
}
