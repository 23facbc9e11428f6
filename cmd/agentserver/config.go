package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentorch/agentserver/session"
)

// fileConfig is the on-disk shape of the server's YAML configuration file.
// Grounded on the layered-YAML-config idiom in
// `codeready-toolchain-tarsy/pkg/config/loader.go`'s `TarsyYAMLConfig`
// (one struct per top-level section, `yaml:"..."` tags, env-var-named
// secrets rather than inline secrets), scaled down to this server's much
// smaller configuration surface.
type fileConfig struct {
	Server  serverConfig  `yaml:"server"`
	History historyConfig `yaml:"history"`
	Models  modelsConfig  `yaml:"models"`
}

type serverConfig struct {
	Name          string `yaml:"name"`
	LinesAddr     string `yaml:"lines_addr"`
	GRPCAddr      string `yaml:"grpc_addr"`
	ProxyBasePort int    `yaml:"proxy_base_port"`
}

type historyConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseDir string `yaml:"base_dir"`
}

type modelsConfig struct {
	AnthropicAPIKeyEnv string `yaml:"anthropic_api_key_env"`
	AnthropicModel     string `yaml:"anthropic_default_model"`
	OpenAIAPIKeyEnv    string `yaml:"openai_api_key_env"`
	OpenAIModel        string `yaml:"openai_default_model"`
	BedrockModel       string `yaml:"bedrock_default_model"`
	BedrockRegion      string `yaml:"bedrock_region"`
}

func defaultConfig() fileConfig {
	return fileConfig{
		Server: serverConfig{
			Name:          "agentserver",
			LinesAddr:     "127.0.0.1:4455",
			GRPCAddr:      "127.0.0.1:4456",
			ProxyBasePort: 41000,
		},
		History: historyConfig{Enabled: false},
		Models: modelsConfig{
			AnthropicAPIKeyEnv: "ANTHROPIC_API_KEY",
			AnthropicModel:     "claude-sonnet-4-5-20250929",
			OpenAIAPIKeyEnv:    "OPENAI_API_KEY",
			OpenAIModel:        "gpt-4o",
			// Bedrock is opt-in: BedrockModel stays empty until a config
			// file sets it, so a default startup never attempts an AWS
			// credential lookup that was never asked for.
			BedrockRegion: "us-east-1",
		},
	}
}

// loadConfig reads path (if non-empty) over the defaults; an empty path or
// a path that does not exist is not an error and yields the defaults, so
// the server can start with zero configuration.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

func (c historyConfig) toSession() session.HistoryConfig {
	return session.HistoryConfig{Enabled: c.Enabled, BaseDir: c.BaseDir}
}
