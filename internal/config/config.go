// Package config loads relaybot's JSON configuration, layers .env and
// environment overrides on top, and validates the result.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // timezone hints must work in minimal containers

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration for relaybot.
type Config struct {
	General GeneralConfig `json:"general"`
	Slack   SlackConfig   `json:"slack"`
	LLM     LLMConfig     `json:"llm"`
	Agent   AgentConfig   `json:"agent"`
	Limits  LimitsConfig  `json:"limits"`
	Store   StoreConfig   `json:"store"`
	Tools   ToolsConfig   `json:"tools"`
	Server  ServerConfig  `json:"server"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`         // "text" | "json"
	LogFile   string `json:"logFile,omitempty"` // optional extra sink
	Timezone  string `json:"timezone"`          // IANA name used for the time hint
}

type SlackConfig struct {
	BotToken      string `json:"botToken"`
	AppToken      string `json:"appToken,omitempty"` // required for Socket Mode
	SigningSecret string `json:"signingSecret,omitempty"`
	SocketMode    bool   `json:"socketMode"`
	OptInChannel  string `json:"optInChannel,omitempty"` // empty disables gating
	NotifyDenied  bool   `json:"notifyDenied"`
	APIURL        string `json:"apiUrl,omitempty"`
}

type LLMConfig struct {
	APIBase            string   `json:"apiBase"`
	APIKey             string   `json:"apiKey"`
	Models             []string `json:"models"` // tried in order
	SummaryModel       string   `json:"summaryModel"`
	MaxTokens          int      `json:"maxTokens"`
	Temperature        float64  `json:"temperature"`
	SummaryTemperature float64  `json:"summaryTemperature"`
	TimeoutSeconds     int      `json:"timeoutSeconds"`
	RateLimitPerMinute int      `json:"rateLimitPerMinute"`
	RateBurst          int      `json:"rateBurst"`
	CooldownSeconds    int      `json:"cooldownSeconds"` // failed models sit out this long
}

type AgentConfig struct {
	Toolset       string   `json:"toolset"`            // "minimal" | "extended"
	MaxSteps      int      `json:"maxSteps,omitempty"` // 0 = toolset default
	Concurrency   int      `json:"concurrency"`
	BusSize       int      `json:"busSize"`
	HistoryLimit  int      `json:"historyLimit"`
	HistoryTokens int      `json:"historyTokens"`
	PromptFile    string   `json:"promptFile,omitempty"`
	AllowedTools  []string `json:"allowedTools,omitempty"`
	DeniedTools   []string `json:"deniedTools,omitempty"`
}

type LimitsConfig struct {
	RateWindowSeconds int `json:"rateWindowSeconds"`
	RateMax           int `json:"rateMax"`
	QuotaThreshold    int `json:"quotaThreshold"`
	QuotaTTLSeconds   int `json:"quotaTtlSeconds"`
}

type StoreConfig struct {
	Backend      string `json:"backend"` // "memory" | "redis" | "sqlite"
	RedisURL     string `json:"redisUrl,omitempty"`
	KeyPrefix    string `json:"keyPrefix,omitempty"`
	SQLitePath   string `json:"sqlitePath,omitempty"`
	SweepSeconds int    `json:"sweepSeconds"`
}

type ToolsConfig struct {
	TimeoutSeconds  int    `json:"timeoutSeconds"`
	ExaAPIKey       string `json:"exaApiKey,omitempty"`
	ExaURL          string `json:"exaUrl"`
	DiagramRenderer string `json:"diagramRenderer"` // "ink" | "chrome" | "chain" | "off"
	MermaidInkURL   string `json:"mermaidInkUrl"`
	ChromePath      string `json:"chromePath,omitempty"`
	MermaidScript   string `json:"mermaidScript,omitempty"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Duration helpers keep seconds in the file and durations in code.
func (l LimitsConfig) RateWindow() time.Duration {
	return time.Duration(l.RateWindowSeconds) * time.Second
}

func (l LimitsConfig) QuotaTTL() time.Duration {
	return time.Duration(l.QuotaTTLSeconds) * time.Second
}

func (t ToolsConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

func (l LLMConfig) Cooldown() time.Duration {
	return time.Duration(l.CooldownSeconds) * time.Second
}

// Location resolves the configured timezone, falling back to UTC.
func (g GeneralConfig) Location() *time.Location {
	if g.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Addr is the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load builds the effective configuration: Defaults, then the JSON file at
// path (skipped when path is empty), then environment overrides. The result
// is validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}

		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))

		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.SQLitePath = ExpandPath(cfg.Store.SQLitePath)
	cfg.Agent.PromptFile = ExpandPath(cfg.Agent.PromptFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment. Variables that are already set win. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// envOverrides lists the environment variables that override file values.
// Unset variables leave the field nil.
type envOverrides struct {
	SlackBotToken      *string `envconfig:"SLACK_BOT_TOKEN"`
	SlackAppToken      *string `envconfig:"SLACK_APP_TOKEN"`
	SlackSigningSecret *string `envconfig:"SLACK_SIGNING_SECRET"`
	SlackSocketMode    *bool   `envconfig:"SLACK_SOCKET_MODE"`
	OptInChannel       *string `envconfig:"OPT_IN_CHANNEL"`
	RedisURL           *string `envconfig:"REDIS_URL"`
	LLMAPIKey          *string `envconfig:"LLM_API_KEY"`
	LLMAPIBase         *string `envconfig:"LLM_API_BASE"`
	ExaAPIKey          *string `envconfig:"EXA_API_KEY"`
	LogLevel           *string `envconfig:"LOG_LEVEL"`
	Port               *int    `envconfig:"PORT"`
}

// ApplyEnv copies set environment variables over cfg. Setting REDIS_URL also
// selects the redis backend.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}

	setString(&cfg.Slack.BotToken, env.SlackBotToken)
	setString(&cfg.Slack.AppToken, env.SlackAppToken)
	setString(&cfg.Slack.SigningSecret, env.SlackSigningSecret)
	setString(&cfg.Slack.OptInChannel, env.OptInChannel)
	setString(&cfg.LLM.APIKey, env.LLMAPIKey)
	setString(&cfg.LLM.APIBase, env.LLMAPIBase)
	setString(&cfg.Tools.ExaAPIKey, env.ExaAPIKey)
	setString(&cfg.General.LogLevel, env.LogLevel)
	if env.SlackSocketMode != nil {
		cfg.Slack.SocketMode = *env.SlackSocketMode
	}
	if env.RedisURL != nil && *env.RedisURL != "" {
		cfg.Store.RedisURL = *env.RedisURL
		cfg.Store.Backend = "redis"
	}
	if env.Port != nil {
		cfg.Server.Port = *env.Port
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate collects every problem with cfg into one error.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.General.Timezone != "" {
		if _, err := time.LoadLocation(cfg.General.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("general.timezone: unknown zone %q", cfg.General.Timezone))
		}
	}

	if cfg.Slack.BotToken == "" {
		errs = append(errs, "slack.botToken is required (or SLACK_BOT_TOKEN)")
	}
	if cfg.Slack.SocketMode && cfg.Slack.AppToken == "" {
		errs = append(errs, "slack.appToken is required in socket mode (or SLACK_APP_TOKEN)")
	}
	if !cfg.Slack.SocketMode && cfg.Slack.SigningSecret == "" {
		errs = append(errs, "slack.signingSecret is required for the events endpoint (or SLACK_SIGNING_SECRET)")
	}

	if cfg.LLM.APIBase == "" {
		errs = append(errs, "llm.apiBase is required")
	}
	if cfg.LLM.APIKey == "" {
		errs = append(errs, "llm.apiKey is required (or LLM_API_KEY)")
	}
	if len(cfg.LLM.Models) == 0 {
		errs = append(errs, "llm.models must list at least one model")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}
	if cfg.LLM.TimeoutSeconds < 1 {
		errs = append(errs, "llm.timeoutSeconds must be >= 1")
	}
	if cfg.LLM.CooldownSeconds < 0 {
		errs = append(errs, "llm.cooldownSeconds must be >= 0")
	}

	switch cfg.Agent.Toolset {
	case "minimal", "extended":
	default:
		errs = append(errs, "agent.toolset must be one of: minimal, extended")
	}
	if cfg.Agent.MaxSteps < 0 || cfg.Agent.MaxSteps > 100 {
		errs = append(errs, "agent.maxSteps must be between 0 and 100")
	}
	if cfg.Agent.Concurrency < 1 || cfg.Agent.Concurrency > 100 {
		errs = append(errs, "agent.concurrency must be between 1 and 100")
	}
	if cfg.Agent.HistoryLimit < 1 || cfg.Agent.HistoryLimit > 1000 {
		errs = append(errs, "agent.historyLimit must be between 1 and 1000")
	}

	if cfg.Limits.RateWindowSeconds < 1 {
		errs = append(errs, "limits.rateWindowSeconds must be >= 1")
	}
	if cfg.Limits.RateMax < 1 {
		errs = append(errs, "limits.rateMax must be >= 1")
	}
	if cfg.Limits.QuotaThreshold < 1 {
		errs = append(errs, "limits.quotaThreshold must be >= 1")
	}
	if cfg.Limits.QuotaTTLSeconds < 1 {
		errs = append(errs, "limits.quotaTtlSeconds must be >= 1")
	}

	switch cfg.Store.Backend {
	case "memory":
	case "redis":
		if cfg.Store.RedisURL == "" {
			errs = append(errs, "store.redisUrl is required for the redis backend (or REDIS_URL)")
		}
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlitePath is required for the sqlite backend")
		}
	default:
		errs = append(errs, "store.backend must be one of: memory, redis, sqlite")
	}

	if cfg.Tools.TimeoutSeconds < 1 {
		errs = append(errs, "tools.timeoutSeconds must be >= 1")
	}
	switch cfg.Tools.DiagramRenderer {
	case "ink", "chrome", "chain", "off":
	default:
		errs = append(errs, "tools.diagramRenderer must be one of: ink, chrome, chain, off")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
