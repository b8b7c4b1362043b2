// Package config provides the configuration schema and loaders for the
// Chatter services.
//
// Configuration comes from three layers, later layers winning:
//
//  1. built-in defaults ([Default])
//  2. a YAML file ([Load] / [LoadFromReader])
//  3. environment variables ([Config.ApplyEnv])
//
// The gateway and the persona worker share one Config shape; each service
// reads the sections it cares about. Room and persona definitions live in
// separate YAML files referenced from here (see rooms.go and personas.go)
// so operators can edit them without touching service settings.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// GenerationMode selects the reply generator implementation.
type GenerationMode string

const (
	// ModeDeterministic uses the template generator. No network calls.
	ModeDeterministic GenerationMode = "deterministic"

	// ModeStub replays canned fixture replies keyed by persona and marker.
	ModeStub GenerationMode = "stub"

	// ModeLLM generates replies through the configured LLM provider.
	ModeLLM GenerationMode = "llm"
)

// IsValid reports whether m is a recognised generation mode.
func (m GenerationMode) IsValid() bool {
	switch m {
	case ModeDeterministic, ModeStub, ModeLLM:
		return true
	}
	return false
}

// MemoryBackend selects the memory store implementation.
type MemoryBackend string

const (
	// BackendMemory is the in-process store. Data is lost on restart.
	BackendMemory MemoryBackend = "memory"

	// BackendPostgres stores memories in Postgres with pgvector search.
	BackendPostgres MemoryBackend = "postgres"
)

// IsValid reports whether b is a recognised memory backend.
func (b MemoryBackend) IsValid() bool {
	return b == BackendMemory || b == BackendPostgres
}

// EmbeddingsProvider selects how memory text is embedded for search.
type EmbeddingsProvider string

const (
	// EmbeddingsOpenAI uses the OpenAI embeddings API.
	EmbeddingsOpenAI EmbeddingsProvider = "openai"

	// EmbeddingsOllama uses a local Ollama instance.
	EmbeddingsOllama EmbeddingsProvider = "ollama"
)

// IsValid reports whether p is a recognised embeddings provider.
func (p EmbeddingsProvider) IsValid() bool {
	return p == EmbeddingsOpenAI || p == EmbeddingsOllama
}

// Config is the root configuration for both services.
type Config struct {
	// Server configures the HTTP/WebSocket listener.
	Server ServerConfig `yaml:"server"`

	// Bus configures the Redis Streams connection and stream names.
	Bus BusConfig `yaml:"bus"`

	// RoomConfigPath points at the YAML file defining rooms.
	RoomConfigPath string `yaml:"room_config_path"`

	// PersonaConfigDir is a directory of per-persona YAML files.
	PersonaConfigDir string `yaml:"persona_config_dir"`

	// ModerationRulesPath optionally points at a safety rule file. Empty
	// means the built-in defaults (redact email and phone, block nothing).
	ModerationRulesPath string `yaml:"moderation_rules_path"`

	// Policy holds the decision model weights shared by all personas.
	Policy PolicyConfig `yaml:"policy"`

	// Generation selects and configures the reply generator.
	Generation GenerationConfig `yaml:"generation"`

	// AutoCommentary configures the observation-driven commentary loop.
	AutoCommentary AutoCommentaryConfig `yaml:"auto_commentary"`

	// Memory configures the scoped memory layer.
	Memory MemoryConfig `yaml:"memory"`

	// Reflection configures the periodic memory extraction loop.
	Reflection ReflectionConfig `yaml:"reflection"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// ListenAddr is the host:port the service binds, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// ShutdownGrace is how long in-flight work may drain on shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// BusConfig holds the Redis connection and the stream/group names.
type BusConfig struct {
	// RedisURL is a redis:// connection string.
	RedisURL string `yaml:"redis_url"`

	// IngestStream carries candidate messages into the gateway.
	IngestStream string `yaml:"ingest_stream"`

	// FirehoseStream carries accepted, moderated messages out.
	FirehoseStream string `yaml:"firehose_stream"`

	// ObservationsStream carries perceptor observations.
	ObservationsStream string `yaml:"observations_stream"`

	// FramesStream carries frame metadata. The core never consumes it but
	// knows the name for diagnostics.
	FramesStream string `yaml:"frames_stream"`

	// TranscriptsStream carries transcript segment metadata.
	TranscriptsStream string `yaml:"transcripts_stream"`

	// GatewayGroup is the consumer group the gateway reads ingest with.
	GatewayGroup string `yaml:"gateway_group"`

	// WorkerGroup is the consumer group the persona workers read the
	// firehose and observations with.
	WorkerGroup string `yaml:"worker_group"`

	// ReadBlock is how long a group read blocks waiting for entries.
	ReadBlock time.Duration `yaml:"read_block"`

	// ReadCount is the per-read batch size.
	ReadCount int64 `yaml:"read_count"`
}

// PolicyConfig holds the decision model weights. All personas share these;
// per-persona behaviour (base probability, interests) comes from the persona
// file, and the cooldown and budget come from the room file.
type PolicyConfig struct {
	// EventWeight scales the contribution of observation event strength.
	EventWeight float64 `yaml:"event_weight"`

	// MentionBoost multiplies the probability when the persona is
	// mentioned by display name.
	MentionBoost float64 `yaml:"mention_boost"`

	// TrendWeight scales the contribution of chat velocity.
	TrendWeight float64 `yaml:"trend_weight"`

	// BotDamp scales the suppression applied as the recent window fills
	// with bot-origin messages.
	BotDamp float64 `yaml:"bot_damp"`

	// ProbabilityCap is the upper bound on the final speak probability.
	ProbabilityCap float64 `yaml:"probability_cap"`

	// MaxMessageAge is how old a trigger message may be before it is
	// discarded as stale.
	MaxMessageAge time.Duration `yaml:"max_message_age"`
}

// GenerationConfig configures reply generation.
type GenerationConfig struct {
	// Mode picks the generator implementation.
	Mode GenerationMode `yaml:"mode"`

	// PromptDir is the directory of prompt template files hashed into the
	// prompt manifest at startup.
	PromptDir string `yaml:"prompt_dir"`

	// FixturesPath is the YAML file of stub replies (stub mode only).
	FixturesPath string `yaml:"fixtures_path"`

	// LLM configures the live provider (llm mode only).
	LLM LLMConfig `yaml:"llm"`
}

// LLMConfig configures the live LLM provider.
type LLMConfig struct {
	// Provider is the backend name handed to the any-llm adapter, e.g.
	// "openai", "anthropic" or "ollama".
	Provider string `yaml:"provider"`

	// BaseURL overrides the provider's default endpoint. Useful for
	// OpenAI-compatible local servers.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the endpoint. Usually set through the
	// environment rather than the file.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier sent with every request.
	Model string `yaml:"model"`

	// Timeout bounds a single generation call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxConcurrent caps in-flight generation calls per worker process.
	MaxConcurrent int64 `yaml:"max_concurrent"`
}

// AutoCommentaryConfig configures the observation-driven commentary loop.
type AutoCommentaryConfig struct {
	// Enabled switches the loop on.
	Enabled bool `yaml:"enabled"`

	// ConfigPath optionally points at a YAML file whose contents overlay
	// this section. Operators tune commentary without redeploying.
	ConfigPath string `yaml:"config_path"`

	// HypeThreshold is the minimum observation hype level that can trigger
	// commentary on its own.
	HypeThreshold float64 `yaml:"hype_threshold"`

	// MinInterval is the per-room floor between auto messages.
	MinInterval time.Duration `yaml:"min_interval"`

	// MaxPerObservation caps messages generated from a single observation.
	MaxPerObservation int `yaml:"max_per_observation"`

	// MomentumWindow is how long a burst of observations keeps the room
	// hot for follow-up commentary.
	MomentumWindow time.Duration `yaml:"momentum_window"`

	// DiversityWindow is how many most-recent auto speakers are avoided
	// when picking the next persona.
	DiversityWindow int `yaml:"diversity_window"`
}

// MemoryConfig configures the scoped memory layer.
type MemoryConfig struct {
	// Backend picks the store implementation.
	Backend MemoryBackend `yaml:"backend"`

	// PostgresDSN is the connection string (postgres backend only).
	PostgresDSN string `yaml:"postgres_dsn"`

	// Embeddings picks the embeddings provider (postgres backend only).
	Embeddings EmbeddingsProvider `yaml:"embeddings"`

	// EmbeddingsModel overrides the provider default model.
	EmbeddingsModel string `yaml:"embeddings_model"`

	// OllamaURL is the local Ollama endpoint (ollama embeddings only).
	OllamaURL string `yaml:"ollama_url"`

	// TopK is how many memories a search returns.
	TopK int `yaml:"top_k"`

	// Deadline bounds a single memory operation on the hot path.
	Deadline time.Duration `yaml:"deadline"`

	// MaxConcurrent caps in-flight memory operations per worker process.
	MaxConcurrent int64 `yaml:"max_concurrent"`
}

// ReflectionConfig configures the periodic memory extraction loop.
type ReflectionConfig struct {
	// Enabled switches the loop on.
	Enabled bool `yaml:"enabled"`

	// Interval is the wall-clock reflection period per persona.
	Interval time.Duration `yaml:"interval"`

	// OwnMessageThreshold triggers an early reflection after the persona
	// has spoken this many times since the last one.
	OwnMessageThreshold int `yaml:"own_message_threshold"`

	// DriftClamp bounds each per-cycle style drift delta.
	DriftClamp float64 `yaml:"drift_clamp"`

	// MaxItems caps memories written per reflection cycle.
	MaxItems int `yaml:"max_items"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:    ":8080",
			ShutdownGrace: 5 * time.Second,
		},
		Bus: BusConfig{
			RedisURL:           "redis://localhost:6379/0",
			IngestStream:       "chat.ingest",
			FirehoseStream:     "chat.firehose",
			ObservationsStream: "stream.observations",
			FramesStream:       "stream.frames",
			TranscriptsStream:  "stream.transcripts",
			GatewayGroup:       "chat_gateway",
			WorkerGroup:        "persona_workers",
			ReadBlock:          2 * time.Second,
			ReadCount:          64,
		},
		RoomConfigPath:   "configs/rooms.yaml",
		PersonaConfigDir: "configs/personas",
		Policy: PolicyConfig{
			EventWeight:    1.5,
			MentionBoost:   3.0,
			TrendWeight:    0.8,
			BotDamp:        0.7,
			ProbabilityCap: 0.95,
			MaxMessageAge:  30 * time.Second,
		},
		Generation: GenerationConfig{
			Mode:      ModeDeterministic,
			PromptDir: "configs/prompts",
			LLM: LLMConfig{
				Provider:      "openai",
				Timeout:       3 * time.Second,
				MaxConcurrent: 8,
			},
		},
		AutoCommentary: AutoCommentaryConfig{
			HypeThreshold:     0.6,
			MinInterval:       8 * time.Second,
			MaxPerObservation: 2,
			MomentumWindow:    45 * time.Second,
			DiversityWindow:   2,
		},
		Memory: MemoryConfig{
			Backend:       BackendMemory,
			Embeddings:    EmbeddingsOpenAI,
			OllamaURL:     "http://localhost:11434",
			TopK:          5,
			Deadline:      500 * time.Millisecond,
			MaxConcurrent: 8,
		},
		Reflection: ReflectionConfig{
			Enabled:             true,
			Interval:            5 * time.Minute,
			OwnMessageThreshold: 25,
			DriftClamp:          0.02,
			MaxItems:            3,
		},
		LogLevel: LogInfo,
	}
}

// Load reads a YAML config file over the defaults, applies environment
// overrides, and resolves the auto-commentary overlay file if one is
// configured. A missing config file is fine; defaults plus environment
// apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env
		case err != nil:
			return nil, fmt.Errorf("open config: %w", err)
		default:
			defer f.Close()
			if err := decodeInto(cfg, f); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if p := cfg.AutoCommentary.ConfigPath; p != "" {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read auto commentary config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg.AutoCommentary); err != nil {
			return nil, fmt.Errorf("parse auto commentary config %s: %w", p, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults. No environment
// overrides are applied; tests use this directly.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, r); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. getenv is injected so
// tests can supply their own environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	setStr := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setStr("REDIS_URL", &c.Bus.RedisURL)
	setStr("INGEST_STREAM", &c.Bus.IngestStream)
	setStr("FIREHOSE_STREAM", &c.Bus.FirehoseStream)
	setStr("STREAM_OBSERVATIONS_KEY", &c.Bus.ObservationsStream)
	setStr("STREAM_FRAMES_KEY", &c.Bus.FramesStream)
	setStr("STREAM_TRANSCRIPTS_KEY", &c.Bus.TranscriptsStream)
	setStr("ROOM_CONFIG_PATH", &c.RoomConfigPath)
	setStr("PERSONA_CONFIG_DIR", &c.PersonaConfigDir)
	setStr("MODERATION_RULES_PATH", &c.ModerationRulesPath)
	setStr("AUTO_COMMENTARY_CONFIG_PATH", &c.AutoCommentary.ConfigPath)
	setStr("LLM_PROVIDER", &c.Generation.LLM.Provider)
	setStr("LLM_BASE_URL", &c.Generation.LLM.BaseURL)
	setStr("LLM_API_KEY", &c.Generation.LLM.APIKey)
	setStr("LLM_MODEL", &c.Generation.LLM.Model)
	setStr("LISTEN_ADDR", &c.Server.ListenAddr)
	setStr("POSTGRES_DSN", &c.Memory.PostgresDSN)

	if v := getenv("GENERATION_MODE"); v != "" {
		c.Generation.Mode = GenerationMode(v)
	}
	if v := getenv("AUTO_COMMENTARY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AutoCommentary.Enabled = b
		}
	}
	if v := getenv("MEMORY_BACKEND"); v != "" {
		c.Memory.Backend = MemoryBackend(v)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = LogLevel(strings.ToLower(v))
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Bus.RedisURL == "" {
		return fmt.Errorf("config: bus.redis_url is required")
	}
	required := map[string]string{
		"bus.ingest_stream":       c.Bus.IngestStream,
		"bus.firehose_stream":     c.Bus.FirehoseStream,
		"bus.observations_stream": c.Bus.ObservationsStream,
		"bus.gateway_group":       c.Bus.GatewayGroup,
		"bus.worker_group":        c.Bus.WorkerGroup,
	}
	for name, v := range required {
		if v == "" {
			return fmt.Errorf("config: %s is required", name)
		}
	}
	if c.Bus.IngestStream == c.Bus.FirehoseStream {
		return fmt.Errorf("config: ingest and firehose streams must differ")
	}
	if !c.Generation.Mode.IsValid() {
		return fmt.Errorf("config: unknown generation mode %q", c.Generation.Mode)
	}
	if c.Generation.Mode == ModeLLM && c.Generation.LLM.Model == "" {
		return fmt.Errorf("config: generation.llm.model is required in llm mode")
	}
	if !c.Memory.Backend.IsValid() {
		return fmt.Errorf("config: unknown memory backend %q", c.Memory.Backend)
	}
	if c.Memory.Backend == BackendPostgres {
		if c.Memory.PostgresDSN == "" {
			return fmt.Errorf("config: memory.postgres_dsn is required for the postgres backend")
		}
		if !c.Memory.Embeddings.IsValid() {
			return fmt.Errorf("config: unknown embeddings provider %q", c.Memory.Embeddings)
		}
	}
	if p := c.Policy.ProbabilityCap; p <= 0 || p > 1 {
		return fmt.Errorf("config: policy.probability_cap must be in (0, 1], got %v", p)
	}
	if c.Reflection.DriftClamp < 0 {
		return fmt.Errorf("config: reflection.drift_clamp must not be negative")
	}
	if !c.LogLevel.IsValid() {
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}
