package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	AppName     string          `yaml:"app_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Upstream    UpstreamConfig  `yaml:"upstream"`
	Library     LibraryConfig   `yaml:"library"`
	Enrich      EnrichConfig    `yaml:"enrich"`
	LocalSTT    LocalSTTConfig  `yaml:"local_stt"`
	Models      ModelsConfig    `yaml:"models"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// UpstreamConfig describes the cloud speech-to-text provider.
type UpstreamConfig struct {
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

type LibraryConfig struct {
	Path          string `yaml:"path"`
	MaxRecordings int    `yaml:"max_recordings"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type EnrichConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Mode         string  `yaml:"mode"` // mock, openai, ollama
	Endpoint     string  `yaml:"endpoint"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TimeoutMS    int     `yaml:"timeout_ms"`
}

type LocalSTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Command    string `yaml:"command"`
	Variant    string `yaml:"variant"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type ModelsConfig struct {
	Dir         string `yaml:"dir"`
	CatalogPath string `yaml:"catalog_path"`
}

func Default() Config {
	return Config{
		AppName:     "echonoted",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Upstream: UpstreamConfig{
			BaseURL:          "https://api.openai.com/v1",
			Model:            "whisper-1",
			RequestTimeoutMS: 60000,
		},
		Library: LibraryConfig{
			Path:          "./data/echonote-library.db",
			MaxRecordings: 10000,
			RetentionDays: 0,
		},
		Enrich: EnrichConfig{
			Enabled:      true,
			Mode:         "mock",
			Endpoint:     "http://localhost:11434",
			Model:        "llama3.2:latest",
			SystemPrompt: "Rewrite the transcript as concise, well punctuated notes. Keep every fact.",
			MaxTokens:    512,
			Temperature:  0.3,
			TimeoutMS:    30000,
		},
		LocalSTT: LocalSTTConfig{
			Enabled:    false,
			Variant:    "base",
			SampleRate: 16000,
			Channels:   1,
		},
		Models: ModelsConfig{
			Dir: "./data/models",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.AppName, "ECHONOTE_APP_NAME")
	overrideString(&cfg.Environment, "ECHONOTE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ECHONOTE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ECHONOTE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ECHONOTE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ECHONOTE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ECHONOTE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "ECHONOTE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "ECHONOTE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ECHONOTE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "ECHONOTE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ECHONOTE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ECHONOTE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ECHONOTE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ECHONOTE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ECHONOTE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Upstream.APIKey, "ECHONOTE_UPSTREAM_API_KEY")
	overrideString(&cfg.Upstream.BaseURL, "ECHONOTE_UPSTREAM_BASE_URL")
	overrideString(&cfg.Upstream.Model, "ECHONOTE_UPSTREAM_MODEL")
	overrideInt(&cfg.Upstream.RequestTimeoutMS, "ECHONOTE_UPSTREAM_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Library.Path, "ECHONOTE_LIBRARY_PATH")
	overrideInt(&cfg.Library.MaxRecordings, "ECHONOTE_LIBRARY_MAX_RECORDINGS")
	overrideInt(&cfg.Library.RetentionDays, "ECHONOTE_LIBRARY_RETENTION_DAYS")
	overrideBool(&cfg.Library.VacuumOnStart, "ECHONOTE_LIBRARY_VACUUM_ON_START")
	overrideBool(&cfg.Enrich.Enabled, "ECHONOTE_ENRICH_ENABLED")
	overrideString(&cfg.Enrich.Mode, "ECHONOTE_ENRICH_MODE")
	overrideString(&cfg.Enrich.Endpoint, "ECHONOTE_ENRICH_ENDPOINT")
	overrideString(&cfg.Enrich.Model, "ECHONOTE_ENRICH_MODEL")
	overrideString(&cfg.Enrich.SystemPrompt, "ECHONOTE_ENRICH_SYSTEM_PROMPT")
	overrideInt(&cfg.Enrich.MaxTokens, "ECHONOTE_ENRICH_MAX_TOKENS")
	overrideFloat(&cfg.Enrich.Temperature, "ECHONOTE_ENRICH_TEMPERATURE")
	overrideInt(&cfg.Enrich.TimeoutMS, "ECHONOTE_ENRICH_TIMEOUT_MS")
	overrideBool(&cfg.LocalSTT.Enabled, "ECHONOTE_LOCAL_STT_ENABLED")
	overrideString(&cfg.LocalSTT.Command, "ECHONOTE_LOCAL_STT_COMMAND")
	overrideString(&cfg.LocalSTT.Variant, "ECHONOTE_LOCAL_STT_VARIANT")
	overrideString(&cfg.LocalSTT.Language, "ECHONOTE_LOCAL_STT_LANGUAGE")
	overrideInt(&cfg.LocalSTT.SampleRate, "ECHONOTE_LOCAL_STT_SAMPLE_RATE")
	overrideInt(&cfg.LocalSTT.Channels, "ECHONOTE_LOCAL_STT_CHANNELS")
	overrideString(&cfg.Models.Dir, "ECHONOTE_MODELS_DIR")
	overrideString(&cfg.Models.CatalogPath, "ECHONOTE_MODELS_CATALOG_PATH")

	// Desktop installs usually keep only the provider key in the environment.
	if cfg.Upstream.APIKey == "" {
		overrideString(&cfg.Upstream.APIKey, "OPENAI_API_KEY")
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.AppName == "" {
		return errors.New("app_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url must not be empty")
	}
	if cfg.Upstream.Model == "" {
		return errors.New("upstream.model must not be empty")
	}
	if cfg.Upstream.RequestTimeoutMS <= 0 {
		return errors.New("upstream.request_timeout_ms must be positive")
	}
	if cfg.Library.Path == "" {
		return errors.New("library.path must not be empty")
	}
	if cfg.Library.MaxRecordings < 0 {
		return errors.New("library.max_recordings must be >= 0")
	}
	if cfg.Library.RetentionDays < 0 {
		return errors.New("library.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Enrich.Enabled {
		switch cfg.Enrich.Mode {
		case "mock", "openai", "ollama":
		default:
			return errors.New("enrich.mode must be one of mock|openai|ollama")
		}
		if cfg.Enrich.Mode == "ollama" && cfg.Enrich.Endpoint == "" {
			return errors.New("enrich.endpoint must be set when mode=ollama")
		}
		if cfg.Enrich.MaxTokens < 0 {
			return errors.New("enrich.max_tokens must be >= 0")
		}
		if cfg.Enrich.TimeoutMS <= 0 {
			return errors.New("enrich.timeout_ms must be positive")
		}
	}
	if cfg.LocalSTT.Enabled {
		if cfg.LocalSTT.Command == "" {
			return errors.New("local_stt.command must be set when local transcription is enabled")
		}
		if cfg.LocalSTT.Variant == "" {
			return errors.New("local_stt.variant must be set when local transcription is enabled")
		}
		if cfg.LocalSTT.SampleRate <= 0 {
			return errors.New("local_stt.sample_rate must be positive")
		}
		if cfg.LocalSTT.Channels <= 0 {
			return errors.New("local_stt.channels must be positive")
		}
	}
	if cfg.Models.Dir == "" {
		return errors.New("models.dir must not be empty")
	}
	return nil
}
