package config

import (
	"errors"
	"fmt"
	"io/ioutil"
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
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Speech      SpeechConfig     `yaml:"speech"`
	Router      RouterConfig     `yaml:"router"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// Engine selector values understood by the speech service. Any other
// non-empty value selects the remote synthesis backend.
const (
	EngineSelectorLocal  = ""
	EngineSelectorKokoro = "browser-kokoro"
)

type SpeechConfig struct {
	Engine         string            `yaml:"engine"`
	Voice          string            `yaml:"voice"`
	Rate           float64           `yaml:"rate"`
	SplitStrategy  string            `yaml:"split_strategy"`
	Autoplay       bool              `yaml:"autoplay"`
	ShowTranscript bool              `yaml:"show_transcript"`
	CacheClips     int               `yaml:"cache_clips"`
	SampleRate     int               `yaml:"sample_rate"`
	Local          LocalSynthConfig  `yaml:"local"`
	Kokoro         KokoroConfig      `yaml:"kokoro"`
	Remote         RemoteSynthConfig `yaml:"remote"`
}

type LocalSynthConfig struct {
	Command     string `yaml:"command"`
	ListCommand string `yaml:"list_command"`
}

type KokoroConfig struct {
	Command    string `yaml:"command"`
	Precision  string `yaml:"precision"`
	WarmupText string `yaml:"warmup_text"`
}

type RemoteSynthConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	Model     string `yaml:"model"`
	Format    string `yaml:"format"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type RouterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Role    string `yaml:"role"`
}

func Default() Config {
	return Config{
		RuntimeName: "aloud-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
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
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:   "aloud-node-1",
			Role: "speaker",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/aloud-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Speech: SpeechConfig{
			Engine:         EngineSelectorLocal,
			Voice:          "",
			Rate:           1.0,
			SplitStrategy:  "punctuation",
			Autoplay:       false,
			ShowTranscript: true,
			CacheClips:     64,
			SampleRate:     24000,
			Local: LocalSynthConfig{
				Command:     "espeak-ng -v {voice} -s {wpm}",
				ListCommand: "espeak-ng --voices",
			},
			Kokoro: KokoroConfig{
				Precision:  "fp32",
				WarmupText: "ok",
			},
			Remote: RemoteSynthConfig{
				Model:  "tts-1",
				Format: "mp3",
			},
		},
		Router: RouterConfig{
			Enabled: true,
			Role:    "assistant",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
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
	overrideString(&cfg.RuntimeName, "ALOUD_RUNTIME_NAME")
	overrideString(&cfg.Environment, "ALOUD_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ALOUD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ALOUD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ALOUD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ALOUD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ALOUD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "ALOUD_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "ALOUD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ALOUD_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "ALOUD_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "ALOUD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ALOUD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ALOUD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ALOUD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ALOUD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ALOUD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "ALOUD_NODE_ID")
	overrideString(&cfg.Node.Role, "ALOUD_NODE_ROLE")
	overrideString(&cfg.EventStore.Path, "ALOUD_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "ALOUD_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "ALOUD_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "ALOUD_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "ALOUD_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Speech.Engine, "ALOUD_SPEECH_ENGINE")
	overrideString(&cfg.Speech.Voice, "ALOUD_SPEECH_VOICE")
	overrideFloat(&cfg.Speech.Rate, "ALOUD_SPEECH_RATE")
	overrideString(&cfg.Speech.SplitStrategy, "ALOUD_SPEECH_SPLIT_STRATEGY")
	overrideBool(&cfg.Speech.Autoplay, "ALOUD_SPEECH_AUTOPLAY")
	overrideBool(&cfg.Speech.ShowTranscript, "ALOUD_SPEECH_SHOW_TRANSCRIPT")
	overrideInt(&cfg.Speech.CacheClips, "ALOUD_SPEECH_CACHE_CLIPS")
	overrideInt(&cfg.Speech.SampleRate, "ALOUD_SPEECH_SAMPLE_RATE")
	overrideString(&cfg.Speech.Local.Command, "ALOUD_SPEECH_LOCAL_COMMAND")
	overrideString(&cfg.Speech.Local.ListCommand, "ALOUD_SPEECH_LOCAL_LIST_COMMAND")
	overrideString(&cfg.Speech.Kokoro.Command, "ALOUD_SPEECH_KOKORO_COMMAND")
	overrideString(&cfg.Speech.Kokoro.Precision, "ALOUD_SPEECH_KOKORO_PRECISION")
	overrideString(&cfg.Speech.Kokoro.WarmupText, "ALOUD_SPEECH_KOKORO_WARMUP_TEXT")
	overrideString(&cfg.Speech.Remote.URL, "ALOUD_SPEECH_REMOTE_URL")
	overrideString(&cfg.Speech.Remote.Token, "ALOUD_SPEECH_REMOTE_TOKEN")
	overrideString(&cfg.Speech.Remote.Model, "ALOUD_SPEECH_REMOTE_MODEL")
	overrideString(&cfg.Speech.Remote.Format, "ALOUD_SPEECH_REMOTE_FORMAT")
	overrideInt(&cfg.Speech.Remote.TimeoutMS, "ALOUD_SPEECH_REMOTE_TIMEOUT_MS")
	overrideBool(&cfg.Router.Enabled, "ALOUD_ROUTER_ENABLED")
	overrideString(&cfg.Router.Role, "ALOUD_ROUTER_ROLE")
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
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if err := validateSpeech(cfg.Speech); err != nil {
		return err
	}
	if cfg.Router.Enabled && cfg.Router.Role == "" {
		return errors.New("router.role must not be empty when the router is enabled")
	}
	return nil
}

func validateSpeech(cfg SpeechConfig) error {
	if cfg.Rate <= 0 || cfg.Rate > 4 {
		return errors.New("speech.rate must be in (0, 4]")
	}
	switch cfg.SplitStrategy {
	case "punctuation", "paragraph", "none":
	default:
		return errors.New("speech.split_strategy must be one of punctuation|paragraph|none")
	}
	if cfg.CacheClips < 0 {
		return errors.New("speech.cache_clips must be >= 0")
	}
	if cfg.SampleRate <= 0 {
		return errors.New("speech.sample_rate must be positive")
	}
	switch cfg.Engine {
	case EngineSelectorLocal:
		if cfg.Local.Command == "" {
			return errors.New("speech.local.command must be set when the local engine is selected")
		}
	case EngineSelectorKokoro:
		if cfg.Kokoro.Command == "" {
			return errors.New("speech.kokoro.command must be set when engine=browser-kokoro")
		}
		switch cfg.Kokoro.Precision {
		case "fp32", "fp16", "q8":
		default:
			return errors.New("speech.kokoro.precision must be one of fp32|fp16|q8")
		}
	default:
		if cfg.Remote.URL == "" {
			return errors.New("speech.remote.url must be set when a remote engine is selected")
		}
		switch cfg.Remote.Format {
		case "mp3", "wav":
		default:
			return errors.New("speech.remote.format must be one of mp3|wav")
		}
		if cfg.Remote.TimeoutMS < 0 {
			return errors.New("speech.remote.timeout_ms must be >= 0")
		}
	}
	return nil
}
