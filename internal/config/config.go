package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for the mamacare gateway.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Channel   ChannelConfig             `json:"channel"`
	Speech    SpeechConfig              `json:"speech"`
	Storage   StorageConfig             `json:"storage"`
	Triage    TriageConfig              `json:"triage"`
	Alerts    AlertsConfig              `json:"alerts"`
	Media     MediaConfig               `json:"media"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel         string   `json:"logLevel"`
	LogFile          string   `json:"logFile,omitempty"`
	ListenAddr       string   `json:"listenAddr"`
	QueueSize        int      `json:"queueSize"`        // bounded inbound queue between webhook and pipeline
	Workers          int      `json:"workers"`          // concurrent pipeline workers
	ProviderPriority []string `json:"providerPriority"` // first entry with credentials wins
}

// ProviderConfig holds credentials for one LLM provider. Which provider the
// pipeline uses is decided once at startup from providerPriority; adapters
// never read credentials ad hoc.
type ProviderConfig struct {
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// ChannelConfig configures the WhatsApp Cloud API channel.
type ChannelConfig struct {
	AccessToken   string `json:"accessToken"`
	VerifyToken   string `json:"verifyToken"`
	AppSecret     string `json:"appSecret,omitempty"`
	PhoneNumberID string `json:"phoneNumberId"`
	WebhookPath   string `json:"webhookPath,omitempty"`
	APIBase       string `json:"apiBase,omitempty"`
}

type SpeechConfig struct {
	STT STTConfig `json:"stt"`
	TTS TTSConfig `json:"tts"`
}

type STTConfig struct {
	APIBase  string `json:"apiBase,omitempty"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"` // hint for the provider model
}

type TTSConfig struct {
	Provider string `json:"provider,omitempty"` // "openai" | "elevenlabs"
	APIBase  string `json:"apiBase,omitempty"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model,omitempty"`
	Voice    string `json:"voice,omitempty"`
}

type StorageConfig struct {
	DBPath string `json:"dbPath"`
}

type TriageConfig struct {
	RulesPath string `json:"rulesPath,omitempty"` // optional YAML rules merged over the built-in table
}

type AlertsConfig struct {
	Enabled       bool   `json:"enabled"`
	TelegramToken string `json:"telegramToken,omitempty"`
	ChatID        string `json:"chatId,omitempty"`
	MinUrgency    string `json:"minUrgency,omitempty"` // "critical" | "high"
}

type MediaConfig struct {
	Dir           string `json:"dir"`
	PublicBaseURL string `json:"publicBaseUrl"` // e.g. https://gateway.example.org
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.mamacare).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mamacare"
	}
	return filepath.Join(home, ".mamacare")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Media.Dir = ExpandPath(cfg.Media.Dir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Triage.RulesPath = ExpandPath(cfg.Triage.RulesPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
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
			return match // Keep original if no env var and no default
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

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.QueueSize < 1 || cfg.General.QueueSize > 10000 {
		errs = append(errs, "general.queueSize must be between 1 and 10000")
	}
	if cfg.General.Workers < 1 || cfg.General.Workers > 100 {
		errs = append(errs, "general.workers must be between 1 and 100")
	}
	if len(cfg.General.ProviderPriority) == 0 {
		errs = append(errs, "general.providerPriority must name at least one provider")
	}
	for _, name := range cfg.General.ProviderPriority {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("general.providerPriority references unknown provider: %s", name))
		}
	}

	switch cfg.Alerts.MinUrgency {
	case "", "critical", "high":
		// valid
	default:
		errs = append(errs, "alerts.minUrgency must be one of: critical, high")
	}
	if cfg.Alerts.Enabled && (cfg.Alerts.TelegramToken == "" || cfg.Alerts.ChatID == "") {
		errs = append(errs, "alerts: telegramToken and chatId are required when enabled")
	}

	switch cfg.Speech.TTS.Provider {
	case "", "openai", "elevenlabs":
		// valid
	default:
		errs = append(errs, "speech.tts.provider must be one of: openai, elevenlabs")
	}

	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.dbPath is required")
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
