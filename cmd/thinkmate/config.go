package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MegaGrindStone/thinkmate/internal/handlers"
	"github.com/MegaGrindStone/thinkmate/internal/history"
	"github.com/MegaGrindStone/thinkmate/internal/services"
	"gopkg.in/yaml.v3"
)

const appName = "thinkmate"

// provider is what the server needs from a model server: streamed replies and the list of models.
type provider interface {
	handlers.LLM
	services.ModelLister
}

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (provider, error)
	model() string
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port            string        `yaml:"port"`
	LogLevel        string        `yaml:"logLevel"`
	DataDir         string        `yaml:"dataDir"`
	Store           string        `yaml:"store"`
	SystemPrompt    string        `yaml:"systemPrompt"`
	MonitorInterval time.Duration `yaml:"monitorInterval"`
	LLM             llmConfig     `yaml:"llm"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
	APIKey        string `yaml:"apiKey"`
}

func defaultConfig() config {
	return config{
		Port:            "8080",
		LogLevel:        "info",
		Store:           "file",
		MonitorInterval: services.DefaultMonitorInterval,
		LLM: &ollamaConfig{
			BaseLLMConfig: BaseLLMConfig{Provider: "ollama"},
		},
	}
}

// loadConfig reads the config file at path. A missing file yields the default config.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return defaultConfig(), nil
		}
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port            string         `yaml:"port"`
		LogLevel        string         `yaml:"logLevel"`
		DataDir         string         `yaml:"dataDir"`
		Store           string         `yaml:"store"`
		SystemPrompt    string         `yaml:"systemPrompt"`
		MonitorInterval time.Duration  `yaml:"monitorInterval"`
		LLM             map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.LogLevel != "" {
		c.LogLevel = rawConfig.LogLevel
	}
	if rawConfig.Store != "" {
		c.Store = rawConfig.Store
	}
	if rawConfig.MonitorInterval != 0 {
		c.MonitorInterval = rawConfig.MonitorInterval
	}
	c.DataDir = rawConfig.DataDir
	c.SystemPrompt = rawConfig.SystemPrompt

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "ollama":
		llm = &ollamaConfig{}
	case "openai":
		llm = &openAIConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (c config) validate() error {
	switch c.Store {
	case "file", "bolt", "sqlite":
	default:
		return fmt.Errorf("unknown store: %s", c.Store)
	}
	if _, err := c.logLevel(); err != nil {
		return err
	}
	if c.MonitorInterval < 0 {
		return fmt.Errorf("monitorInterval must not be negative")
	}
	return nil
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("unknown log level: %s", c.LogLevel)
	}
	return level, nil
}

// dataDir returns the directory holding the history and the settings file.
func (c config) dataDir(cfgDir string) string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return cfgDir
}

// openStore opens the history store selected by the config in dir.
func (c config) openStore(dir string, logger *slog.Logger) (history.Store, error) {
	switch c.Store {
	case "bolt":
		return history.NewBoltDB(filepath.Join(dir, "history.db"), logger)
	case "sqlite":
		return history.NewSQLiteStore(filepath.Join(dir, "history.sqlite"), logger)
	default:
		return history.NewFileStore(dir, logger), nil
	}
}

func (o ollamaConfig) llm(systemPrompt string, logger *slog.Logger) (provider, error) {
	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host != "" && !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return services.NewOllama(host, systemPrompt, logger)
}

func (o ollamaConfig) model() string {
	return o.Model
}

func (o openAIConfig) llm(systemPrompt string, logger *slog.Logger) (provider, error) {
	if o.BaseURL == "" && o.Model == "" {
		return nil, fmt.Errorf("model is required when using the OpenAI API")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, systemPrompt, logger), nil
}

func (o openAIConfig) model() string {
	return o.Model
}
