// Package config loads vaultd configuration from (in increasing precedence)
// built-in defaults, a JSON config file, and VAULTD_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Server  ServerConfig
	OpenAI  OpenAIConfig
	Storage StorageConfig
	Chat    ChatConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken guards the cart, wishlist, and catalog routes.
	APIToken  string
	RateRPS   float64
	RateBurst int
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // empty means the public API
	ChatModel   string
	EmbedModel  string
	MaxInFlight int
}

type StorageConfig struct {
	DataDir string
}

type ChatConfig struct {
	// RequestTimeout bounds one whole orchestration chain, as a
	// time.ParseDuration string.
	RequestTimeout string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:      4000,
			RateRPS:   5,
			RateBurst: 10,
		},
		OpenAI: OpenAIConfig{
			ChatModel:   "gpt-4-turbo",
			EmbedModel:  "text-embedding-3-small",
			MaxInFlight: 8,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Chat: ChatConfig{
			RequestTimeout: "90s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/vaultd/config.json (when present) with VAULTD_*
// environment variables taking precedence.
func Load() (Config, error) {
	return loadWith(readConfigFile(configFilePath()))
}

func loadWith(file map[string]any) (Config, error) {
	cfg := defaults()

	applyFile(&cfg, file)
	applyEnv(&cfg)

	if cfg.OpenAI.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OpenAI API key. Set it via VAULTD_OPENAI_API_KEY or openai.api_key in %s", configFilePath())
	}
	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: API token. Set it via VAULTD_API_TOKEN or server.api_token in %s", configFilePath())
	}

	return cfg, nil
}

func applyFile(cfg *Config, file map[string]any) {
	fileStr(file, "server.api_token", &cfg.Server.APIToken)
	fileInt(file, "server.port", &cfg.Server.Port)
	fileFloat(file, "server.rate_rps", &cfg.Server.RateRPS)
	fileInt(file, "server.rate_burst", &cfg.Server.RateBurst)
	fileStr(file, "openai.api_key", &cfg.OpenAI.APIKey)
	fileStr(file, "openai.base_url", &cfg.OpenAI.BaseURL)
	fileStr(file, "openai.chat_model", &cfg.OpenAI.ChatModel)
	fileStr(file, "openai.embed_model", &cfg.OpenAI.EmbedModel)
	fileInt(file, "openai.max_in_flight", &cfg.OpenAI.MaxInFlight)
	fileStr(file, "storage.data_dir", &cfg.Storage.DataDir)
	fileStr(file, "chat.request_timeout", &cfg.Chat.RequestTimeout)
	fileStr(file, "log.level", &cfg.Log.Level)
}

func applyEnv(cfg *Config) {
	envStr("VAULTD_API_TOKEN", &cfg.Server.APIToken)
	envInt("VAULTD_SERVER_PORT", &cfg.Server.Port)
	envFloat("VAULTD_RATE_RPS", &cfg.Server.RateRPS)
	envInt("VAULTD_RATE_BURST", &cfg.Server.RateBurst)
	envStr("VAULTD_OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	envStr("VAULTD_OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	envStr("VAULTD_OPENAI_CHAT_MODEL", &cfg.OpenAI.ChatModel)
	envStr("VAULTD_OPENAI_EMBED_MODEL", &cfg.OpenAI.EmbedModel)
	envInt("VAULTD_OPENAI_MAX_IN_FLIGHT", &cfg.OpenAI.MaxInFlight)
	envStr("VAULTD_STORAGE_DATA_DIR", &cfg.Storage.DataDir)
	envStr("VAULTD_CHAT_REQUEST_TIMEOUT", &cfg.Chat.RequestTimeout)
	envStr("VAULTD_LOG_LEVEL", &cfg.Log.Level)
}

func envStr(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] ignoring %s: %v\n", name, err)
		return
	}
	*dst = i
}

func envFloat(name string, dst *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] ignoring %s: %v\n", name, err)
		return
	}
	*dst = f
}

func fileStr(file map[string]any, key string, dst *string) {
	if v, ok := file[key].(string); ok {
		*dst = v
	}
}

func fileInt(file map[string]any, key string, dst *int) {
	// JSON numbers decode as float64.
	if v, ok := file[key].(float64); ok {
		*dst = int(v)
	}
}

func fileFloat(file map[string]any, key string, dst *float64) {
	if v, ok := file[key].(float64); ok {
		*dst = v
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "vaultd-data"
		}
	}
	return filepath.Join(dir, "vaultd")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "vaultd", "config.json")
}
