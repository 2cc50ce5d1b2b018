package config

import (
	"encoding/base64"
	"fmt"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	RedisAddr      string
	SigningKey     []byte
	AllowedOrigins []string

	// Assist is optional; an empty API key disables the assistant.
	AssistAPIKey  string
	AssistBaseURL string
	AssistModels  []string

	// DevMode swaps the Postgres and Redis backends for in-memory ones,
	// so DatabaseDSN and RedisAddr may be empty.
	DevMode bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, redisAddr, base64Secret string, allowedOrigins []string, devMode bool) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if !devMode {
		if databaseDSN == "" {
			return nil, fmt.Errorf("database DSN cannot be empty")
		}
		if redisAddr == "" {
			return nil, fmt.Errorf("redis address cannot be empty")
		}
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		RedisAddr:      redisAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		DevMode:        devMode,
	}, nil
}
