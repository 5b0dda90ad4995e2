// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	GitHub        GitHubConfig        `mapstructure:"github"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
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

// GitHubConfig 存储 GitHub API 相关的配置。
// Token 可通过环境变量 GITHUB_TOKEN 覆盖。
type GitHubConfig struct {
	Token   string `mapstructure:"token"`
	APIBase string `mapstructure:"api_base"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ElasticsearchConfig 存储 Elasticsearch 向量索引相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
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
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// IngestConfig 存储摄取管道相关的配置。
type IngestConfig struct {
	DocsDir      string `mapstructure:"docs_dir"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	TopK         int    `mapstructure:"top_k"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 关键凭证缺失时立即 panic，避免在深层运行时才暴露配置问题。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 允许通过环境变量覆盖敏感配置项
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("github.token", "GITHUB_TOKEN")
	_ = viper.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	_ = viper.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = viper.BindEnv("elasticsearch.password", "ES_PASSWORD")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults(&Conf)

	if err := validate(&Conf); err != nil {
		panic(fmt.Errorf("配置校验失败: %w", err))
	}
}

// applyDefaults 填充可省略项的默认值。
func applyDefaults(c *Config) {
	if c.GitHub.APIBase == "" {
		c.GitHub.APIBase = "https://api.github.com"
	}
	if c.Ingest.DocsDir == "" {
		c.Ingest.DocsDir = "docs"
	}
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = 1000
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		c.Ingest.ChunkOverlap = 200
	}
	if c.Ingest.TopK <= 0 {
		c.Ingest.TopK = 5
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
}

// validate 检查管道运行所必需的配置项。
func validate(c *Config) error {
	var missing []string
	if c.GitHub.Token == "" {
		missing = append(missing, "github.token (或环境变量 GITHUB_TOKEN)")
	}
	if c.Embedding.APIKey == "" {
		missing = append(missing, "embedding.api_key (或环境变量 EMBEDDING_API_KEY)")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm.api_key (或环境变量 LLM_API_KEY)")
	}
	if c.Elasticsearch.IndexName == "" {
		missing = append(missing, "elasticsearch.index_name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("缺少必需配置项: %s", strings.Join(missing, ", "))
	}
	return nil
}
