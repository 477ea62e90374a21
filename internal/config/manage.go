package config

import "fmt"

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key   string
	Value string
}

// ShowAll returns all non-secret config key/value pairs from the current
// config. Secrets (the OpenAI API key, the API token) are excluded.
func ShowAll(cfg Config) []KeyInfo {
	return []KeyInfo{
		{Key: "server.port", Value: fmt.Sprintf("%d", cfg.Server.Port)},
		{Key: "server.rate_rps", Value: fmt.Sprintf("%g", cfg.Server.RateRPS)},
		{Key: "server.rate_burst", Value: fmt.Sprintf("%d", cfg.Server.RateBurst)},
		{Key: "openai.base_url", Value: cfg.OpenAI.BaseURL},
		{Key: "openai.chat_model", Value: cfg.OpenAI.ChatModel},
		{Key: "openai.embed_model", Value: cfg.OpenAI.EmbedModel},
		{Key: "openai.max_in_flight", Value: fmt.Sprintf("%d", cfg.OpenAI.MaxInFlight)},
		{Key: "storage.data_dir", Value: cfg.Storage.DataDir},
		{Key: "chat.request_timeout", Value: cfg.Chat.RequestTimeout},
		{Key: "log.level", Value: cfg.Log.Level},
	}
}
