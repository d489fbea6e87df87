// Package config loads pipeline configuration from environment variables,
// an optional .env file and an optional yaml config file. Every stage shares
// the same configuration surface; each binary reads only the parts it needs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all pipeline configuration.
type Config struct {
	Store     Store     `mapstructure:"store"`
	Indices   Indices   `mapstructure:"indices"`
	LLM       LLM       `mapstructure:"llm"`
	Embedding Embedding `mapstructure:"embedding"`
	Log       Log       `mapstructure:"log"`
	Model     Model     `mapstructure:"model"`
	Server    Server    `mapstructure:"server"`
}

// Store holds the document store connection settings.
type Store struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Insecure bool   `mapstructure:"insecure"`
	Timeout  string `mapstructure:"timeout"`
}

// Indices names the five store indices the pipeline reads and writes.
type Indices struct {
	Source             string `mapstructure:"source"`
	ChunkComplete      string `mapstructure:"chunk_complete"`
	ChunkSentence      string `mapstructure:"chunk_sentence"`
	Cluster            string `mapstructure:"cluster"`
	DocumentProjection string `mapstructure:"document_projection"`
}

// LLM holds the language model settings. ModelConfigs is a JSON blob keyed
// by profile name, e.g. {"default": {"n_ctx": 4096, "max_tokens": 200}}.
type LLM struct {
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	ModelConfigs string `mapstructure:"model_configs"`
	Timeout      string `mapstructure:"timeout"`
}

// ModelProfile is one decoded entry of LLM.ModelConfigs.
type ModelProfile struct {
	NCtx        int     `json:"n_ctx"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// Embedding holds the embedding service settings.
type Embedding struct {
	ModelID   string `mapstructure:"model_id"`
	Endpoint  string `mapstructure:"endpoint"`
	AuthToken string `mapstructure:"auth_token"`
	Timeout   string `mapstructure:"timeout"`
}

// Log holds the execution log settings shared by all stages.
type Log struct {
	Directory     string `mapstructure:"directory"`
	ExecutionFile string `mapstructure:"execution_file"`
}

// Model holds the model-artifact directory used by the topic stages.
type Model struct {
	Path string `mapstructure:"path"`
}

// Server holds the RAG HTTP service settings.
type Server struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

var globalConfig *Config

// Load loads the configuration from the environment, .env and an optional
// config file. Required keys are validated together so a misconfigured
// deployment reports every missing key at once.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".clustertalk")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.SetEnvPrefix("CLUSTER_TALK")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvironmentVariables()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return cfg
	}
	return globalConfig
}

// Reset clears the cached configuration. Used by tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

// Profile decodes the named model profile from the ModelConfigs JSON blob.
func (l LLM) Profile(name string) (ModelProfile, error) {
	profiles := map[string]ModelProfile{}
	if err := json.Unmarshal([]byte(l.ModelConfigs), &profiles); err != nil {
		return ModelProfile{}, fmt.Errorf("decoding llm.model_configs: %w", err)
	}
	p, ok := profiles[name]
	if !ok {
		return ModelProfile{}, fmt.Errorf("model profile %q not found in llm.model_configs", name)
	}
	return p, nil
}

func setDefaults() {
	viper.SetDefault("store.port", 9200)
	viper.SetDefault("store.timeout", "10s")
	viper.SetDefault("llm.model", "gemini-flash-lite-latest")
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("llm.model_configs", `{"default":{"n_ctx":4096,"max_tokens":200,"temperature":0.1}}`)
	viper.SetDefault("embedding.timeout", "30s")
	viper.SetDefault("log.directory", "logs")
	viper.SetDefault("log.execution_file", "execution.log")
	viper.SetDefault("model.path", "models")
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.allowed_origins", []string{"*"})
}

func bindEnvironmentVariables() {
	keys := []string{
		"store.host", "store.port", "store.username", "store.password",
		"store.insecure", "store.timeout",
		"indices.source", "indices.chunk_complete", "indices.chunk_sentence",
		"indices.cluster", "indices.document_projection",
		"llm.api_key", "llm.model", "llm.model_configs", "llm.timeout",
		"embedding.model_id", "embedding.endpoint", "embedding.auth_token",
		"embedding.timeout",
		"log.directory", "log.execution_file",
		"model.path",
		"server.host", "server.port", "server.allowed_origins",
	}
	for _, k := range keys {
		_ = viper.BindEnv(k)
	}
}

func validate(cfg *Config) error {
	var missing []string
	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}
	require("store.host", cfg.Store.Host)
	require("store.username", cfg.Store.Username)
	require("store.password", cfg.Store.Password)
	require("indices.source", cfg.Indices.Source)
	require("indices.chunk_complete", cfg.Indices.ChunkComplete)
	require("indices.chunk_sentence", cfg.Indices.ChunkSentence)
	require("indices.cluster", cfg.Indices.Cluster)
	require("indices.document_projection", cfg.Indices.DocumentProjection)
	require("llm.api_key", cfg.LLM.APIKey)
	require("embedding.model_id", cfg.Embedding.ModelID)
	require("embedding.auth_token", cfg.Embedding.AuthToken)

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration keys: %s", strings.Join(missing, ", "))
	}
	return nil
}
