package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider          string        `yaml:"provider"`
		APIKey            string        `yaml:"api_key"`
		BaseURL           string        `yaml:"base_url"`
		Model             string        `yaml:"model"`
		EmbeddingModel    string        `yaml:"embedding_model"`
		Temperature       float64       `yaml:"temperature"`
		MaxTokens         int           `yaml:"max_tokens"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		Timeout           time.Duration `yaml:"timeout"`
	} `yaml:"llm"`

	Processor struct {
		ChunkSize int `yaml:"chunk_size"`
		// ChunkOverlap is nil when unset so that an explicit 0 survives defaulting.
		ChunkOverlap *int `yaml:"chunk_overlap"`
	} `yaml:"processor"`

	Retrieval struct {
		TopK           int    `yaml:"top_k"`
		Backend        string `yaml:"backend"`
		EmbedBatchSize int    `yaml:"embed_batch_size"`
	} `yaml:"retrieval"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"database"`

	Server struct {
		Addr           string        `yaml:"addr"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendMemory   = "memory"
	BackendPGVector = "pgvector"
)

// LoadConfig reads the YAML file at path, or the first file found in the
// default locations when path is empty. Environment variables (and a .env file
// in the working directory) override file values.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docqa/config.yaml"),
			"/etc/docqa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = ProviderOpenAI
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == ProviderOllama {
			config.LLM.Model = "mistral"
		} else {
			config.LLM.Model = "gpt-4o-mini"
		}
	}
	if config.LLM.EmbeddingModel == "" {
		if config.LLM.Provider == ProviderOllama {
			config.LLM.EmbeddingModel = "nomic-embed-text:latest"
		} else {
			config.LLM.EmbeddingModel = "text-embedding-3-small"
		}
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == ProviderOllama {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == nil {
		overlap := 200
		if config.Processor.ChunkSize < 1000 {
			overlap = config.Processor.ChunkSize / 5
		}
		config.Processor.ChunkOverlap = &overlap
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 5
	}
	if config.Retrieval.Backend == "" {
		config.Retrieval.Backend = BackendMemory
	}
	if config.Retrieval.EmbedBatchSize == 0 {
		config.Retrieval.EmbedBatchSize = 64
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "docqa_fragments"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 1536
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8000"
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 120 * time.Second
	}
	if config.Server.MaxUploadBytes == 0 {
		config.Server.MaxUploadBytes = 32 << 20
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "json"
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	// Each base URL variable applies only to its own provider.
	baseURLEnv := "OPENAI_BASE_URL"
	if config.LLM.Provider == ProviderOllama {
		baseURLEnv = "OLLAMA_BASE_URL"
	}
	if baseURL := os.Getenv(baseURLEnv); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		config.LLM.EmbeddingModel = model
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if addr := os.Getenv("DOCQA_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	envInt("DOCQA_TOP_K", &config.Retrieval.TopK)
	envInt("DOCQA_CHUNK_SIZE", &config.Processor.ChunkSize)
	if v := os.Getenv("DOCQA_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Processor.ChunkOverlap = &n
		}
	}
}

// envInt ignores values that do not parse so a typo falls back to the file value.
func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
