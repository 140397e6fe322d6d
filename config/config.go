// Package config loads docqa settings from a YAML file, an optional .env file
// and DOCQA_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/answer"
	"github.com/poiesic/docqa/audit"
	"github.com/poiesic/docqa/chunker"
	"github.com/poiesic/docqa/ingestion"
	"github.com/poiesic/docqa/session"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// DefaultFileName is looked up in the working directory by LoadDefault.
const DefaultFileName = "docqa.yaml"

// StorageConfig selects and configures the store.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	// Path is the data directory of the badger and sqlite backends.
	Path string `yaml:"path"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn"`
	// Dimensions pins the pgvector column size; 0 keeps the store default.
	Dimensions int  `yaml:"dimensions"`
	Debug      bool `yaml:"debug"`
}

// AIConfig configures the OpenAI-compatible provider.
type AIConfig struct {
	// Host sets both hosts unless they are given individually.
	Host            string  `yaml:"host"`
	EmbeddingHost   string  `yaml:"embedding_host"`
	GenerationHost  string  `yaml:"generation_host"`
	EmbeddingModel  string  `yaml:"embedding_model"`
	GenerationModel string  `yaml:"generation_model"`
	APIKey          string  `yaml:"api_key"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	Temperature     float64 `yaml:"temperature"`
}

// ChunkingConfig sizes chunks in characters.
type ChunkingConfig struct {
	MaxChars int `yaml:"max_chars"`
	Overlap  int `yaml:"overlap"`
}

// PolicyConfig holds the answer guardrail thresholds.
type PolicyConfig struct {
	ScopedMaxDistance   float64 `yaml:"scoped_max_distance"`
	UnscopedMaxDistance float64 `yaml:"unscoped_max_distance"`
	DefaultK            int     `yaml:"default_k"`
	AllowUnscoped       bool    `yaml:"allow_unscoped"`
}

// IngestionConfig tunes the ingestion pipeline.
type IngestionConfig struct {
	Workers    int           `yaml:"workers"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Config is the root configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	AI        AIConfig        `yaml:"ai"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Policy    PolicyConfig    `yaml:"policy"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	ClientID  string          `yaml:"client_id"`
	LogLimit  int             `yaml:"log_limit"`
}

// Default returns the built-in configuration.
func Default() *Config {
	policy := answer.DefaultPolicy()
	return &Config{
		Storage: StorageConfig{
			Backend: BackendBadger,
			Path:    defaultDataPath(),
		},
		AI: AIConfig{
			EmbeddingHost:   ai.DefaultHost,
			GenerationHost:  ai.DefaultHost,
			EmbeddingModel:  ai.DefaultEmbeddingModel,
			GenerationModel: ai.DefaultGenerationModel,
			APIKeyEnv:       "OPENAI_API_KEY",
		},
		Chunking: ChunkingConfig{
			MaxChars: chunker.DefaultMaxChars,
			Overlap:  chunker.DefaultOverlap,
		},
		Policy: PolicyConfig{
			ScopedMaxDistance:   policy.ScopedMaxDistance,
			UnscopedMaxDistance: policy.UnscopedMaxDistance,
			DefaultK:            policy.DefaultK,
			AllowUnscoped:       policy.AllowUnscoped,
		},
		Ingestion: IngestionConfig{
			Workers:    2,
			Retries:    ingestion.DefaultRetries,
			RetryDelay: ingestion.DefaultRetryDelay,
		},
		ClientID: session.DefaultClientID,
		LogLimit: audit.DefaultListLimit,
	}
}

func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "docqa-data"
	}
	return filepath.Join(home, ".local", "share", "docqa")
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadDefault tries ./docqa.yaml, then ~/.config/docqa/config.yaml. It
// returns the path it used, or "" when neither exists.
func LoadDefault() (*Config, string, error) {
	candidates := []string{DefaultFileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "docqa", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	cfg, err := Load("")
	return cfg, "", err
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// Save writes cfg to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnv overrides file values with DOCQA_* variables.
func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	str("DOCQA_STORAGE_BACKEND", &c.Storage.Backend)
	str("DOCQA_STORAGE_PATH", &c.Storage.Path)
	str("DOCQA_POSTGRES_DSN", &c.Storage.DSN)
	str("DOCQA_AI_HOST", &c.AI.Host)
	str("DOCQA_EMBEDDING_HOST", &c.AI.EmbeddingHost)
	str("DOCQA_GENERATION_HOST", &c.AI.GenerationHost)
	str("DOCQA_EMBEDDING_MODEL", &c.AI.EmbeddingModel)
	str("DOCQA_GENERATION_MODEL", &c.AI.GenerationModel)
	str("DOCQA_CLIENT_ID", &c.ClientID)

	// The configured key variable only fills in a key the file left empty.
	if c.AI.APIKey == "" && c.AI.APIKeyEnv != "" {
		c.AI.APIKey = os.Getenv(c.AI.APIKeyEnv)
	}
	str("DOCQA_API_KEY", &c.AI.APIKey)

	floats := map[string]*float64{
		"DOCQA_SCOPED_MAX_DISTANCE":   &c.Policy.ScopedMaxDistance,
		"DOCQA_UNSCOPED_MAX_DISTANCE": &c.Policy.UnscopedMaxDistance,
	}
	for name, dst := range floats {
		if v := os.Getenv(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = f
		}
	}
	if v := os.Getenv("DOCQA_ALLOW_UNSCOPED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DOCQA_ALLOW_UNSCOPED: %w", err)
		}
		c.Policy.AllowUnscoped = b
	}
	return nil
}

// applyDefaults fills fields a file may have blanked.
func (c *Config) applyDefaults() {
	if c.AI.Host != "" {
		c.AI.EmbeddingHost = c.AI.Host
		c.AI.GenerationHost = c.AI.Host
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendBadger
	}
	if c.ClientID == "" {
		c.ClientID = session.DefaultClientID
	}
	if c.Chunking.MaxChars <= 0 {
		c.Chunking.MaxChars = chunker.DefaultMaxChars
	}
	if c.Ingestion.Workers <= 0 {
		c.Ingestion.Workers = 1
	}
	if c.Ingestion.Retries <= 0 {
		c.Ingestion.Retries = 1
	}
	if c.LogLimit <= 0 {
		c.LogLimit = audit.DefaultListLimit
	}
}

// Validate checks the configuration for values the components would reject.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBadger, BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage.path is required for the %s backend", c.Storage.Backend)
		}
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return errors.New("config: storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Chunking.Overlap < 0 {
		return errors.New("config: chunking.overlap cannot be negative")
	}
	if err := c.AIConfig().Validate(); err != nil {
		return err
	}
	return c.AnswerPolicy().Validate()
}

// AIConfig returns the provider configuration.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGenerationHost(c.AI.GenerationHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithTemperature(c.AI.Temperature),
	)
}

// AnswerPolicy returns the guardrail policy.
func (c *Config) AnswerPolicy() answer.Policy {
	return answer.Policy{
		ScopedMaxDistance:   c.Policy.ScopedMaxDistance,
		UnscopedMaxDistance: c.Policy.UnscopedMaxDistance,
		DefaultK:            c.Policy.DefaultK,
		AllowUnscoped:       c.Policy.AllowUnscoped,
	}
}
