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
	LogLevel       string  `yaml:"log_level"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	OTLPInsecure   bool    `yaml:"otlp_insecure"`
	TraceStdout    bool    `yaml:"trace_stdout"`
	SampleRatio    float64 `yaml:"sample_ratio"`
	PrometheusBind string  `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Settings    SettingsConfig   `yaml:"settings"`
	Voice       VoiceConfig      `yaml:"voice"`
	Audio       AudioConfig      `yaml:"audio"`
	Narrator    NarratorConfig   `yaml:"narrator"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SettingsConfig locates the character customization store and the
// directory holding photos and recorded letters.
type SettingsConfig struct {
	Path    string `yaml:"path"`
	DataDir string `yaml:"data_dir"`
}

type VoiceConfig struct {
	Directory   string   `yaml:"directory"`
	Extensions  []string `yaml:"extensions"`
	FallbackURI string   `yaml:"fallback_uri"`
}

type AudioConfig struct {
	Mode           string  `yaml:"mode"` // mock, speaker, exec
	Command        string  `yaml:"command"`
	SampleRate     int     `yaml:"sample_rate"`
	BufferMS       int     `yaml:"buffer_ms"`
	MasterVolume   float64 `yaml:"master_volume"`
	FetchTimeoutMS int     `yaml:"fetch_timeout_ms"`
	MockDurationMS int     `yaml:"mock_duration_ms"`
}

type NarratorConfig struct {
	Enabled          bool `yaml:"enabled"`
	RequestTimeoutMS int  `yaml:"request_timeout_ms"`
	PublishStatus    bool `yaml:"publish_status"`
}

func Default() Config {
	return Config{
		RuntimeName: "alfa-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			SampleRatio:    1.0,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/alfa-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Settings: SettingsConfig{
			Path:    "./data/alfa-settings.db",
			DataDir: "./data/characters",
		},
		Voice: VoiceConfig{
			Directory:   "./assets/sounds",
			Extensions:  []string{".wav", ".mp3", ".m4a"},
			FallbackURI: "./assets/sounds/default.mp3",
		},
		Audio: AudioConfig{
			Mode:           "mock",
			SampleRate:     44100,
			BufferMS:       100,
			MasterVolume:   1.0,
			FetchTimeoutMS: 10000,
			MockDurationMS: 1500,
		},
		Narrator: NarratorConfig{
			Enabled:          true,
			RequestTimeoutMS: 30000,
			PublishStatus:    true,
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
	overrideString(&cfg.RuntimeName, "ALFA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "ALFA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ALFA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ALFA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ALFA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ALFA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.TraceStdout, "ALFA_TELEMETRY_TRACE_STDOUT")
	overrideFloat(&cfg.Telemetry.SampleRatio, "ALFA_TELEMETRY_SAMPLE_RATIO")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ALFA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "ALFA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "ALFA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "ALFA_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "ALFA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "ALFA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "ALFA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ALFA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ALFA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ALFA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ALFA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ALFA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "ALFA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "ALFA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "ALFA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "ALFA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "ALFA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Settings.Path, "ALFA_SETTINGS_PATH")
	overrideString(&cfg.Settings.DataDir, "ALFA_SETTINGS_DATA_DIR")
	overrideString(&cfg.Voice.Directory, "ALFA_VOICE_DIRECTORY")
	overrideStringSlice(&cfg.Voice.Extensions, "ALFA_VOICE_EXTENSIONS")
	overrideString(&cfg.Voice.FallbackURI, "ALFA_VOICE_FALLBACK_URI")
	overrideString(&cfg.Audio.Mode, "ALFA_AUDIO_MODE")
	overrideString(&cfg.Audio.Command, "ALFA_AUDIO_COMMAND")
	overrideInt(&cfg.Audio.SampleRate, "ALFA_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.BufferMS, "ALFA_AUDIO_BUFFER_MS")
	overrideFloat(&cfg.Audio.MasterVolume, "ALFA_AUDIO_MASTER_VOLUME")
	overrideInt(&cfg.Audio.FetchTimeoutMS, "ALFA_AUDIO_FETCH_TIMEOUT_MS")
	overrideInt(&cfg.Audio.MockDurationMS, "ALFA_AUDIO_MOCK_DURATION_MS")
	overrideBool(&cfg.Narrator.Enabled, "ALFA_NARRATOR_ENABLED")
	overrideInt(&cfg.Narrator.RequestTimeoutMS, "ALFA_NARRATOR_REQUEST_TIMEOUT_MS")
	overrideBool(&cfg.Narrator.PublishStatus, "ALFA_NARRATOR_PUBLISH_STATUS")
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
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
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
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be between 0 and 1")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Settings.Path == "" {
		return errors.New("settings.path must not be empty")
	}
	if cfg.Settings.DataDir == "" {
		return errors.New("settings.data_dir must not be empty")
	}
	if cfg.Voice.Directory == "" {
		return errors.New("voice.directory must not be empty")
	}
	if cfg.Voice.FallbackURI == "" {
		return errors.New("voice.fallback_uri must not be empty")
	}
	for _, ext := range cfg.Voice.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("voice.extensions entry %q must start with a dot", ext)
		}
	}
	switch cfg.Audio.Mode {
	case "mock", "speaker", "exec":
	default:
		return errors.New("audio.mode must be one of mock|speaker|exec")
	}
	if cfg.Audio.Mode == "exec" && cfg.Audio.Command == "" {
		return errors.New("audio.command must be set when mode=exec")
	}
	if cfg.Audio.Mode == "speaker" {
		if cfg.Audio.SampleRate <= 0 {
			return errors.New("audio.sample_rate must be positive")
		}
		if cfg.Audio.BufferMS <= 0 {
			return errors.New("audio.buffer_ms must be positive")
		}
	}
	if cfg.Audio.MasterVolume < 0 || cfg.Audio.MasterVolume > 1 {
		return errors.New("audio.master_volume must be between 0 and 1")
	}
	if cfg.Narrator.Enabled && cfg.Narrator.RequestTimeoutMS <= 0 {
		return errors.New("narrator.request_timeout_ms must be positive")
	}
	return nil
}
