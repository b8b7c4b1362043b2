package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/itsDarianNgo/Chatter/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  shutdown_grace: 10s

bus:
  redis_url: redis://redis:6379/1
  ingest_stream: test.ingest
  firehose_stream: test.firehose

policy:
  mention_boost: 4.0

generation:
  mode: stub
  fixtures_path: testdata/fixtures.yaml

log_level: debug
`

func TestLoadFromReaderOverlaysDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.ShutdownGrace != 10*time.Second {
		t.Errorf("shutdown_grace = %v", cfg.Server.ShutdownGrace)
	}
	if cfg.Bus.RedisURL != "redis://redis:6379/1" {
		t.Errorf("redis_url = %q", cfg.Bus.RedisURL)
	}
	if cfg.Generation.Mode != config.ModeStub {
		t.Errorf("mode = %q", cfg.Generation.Mode)
	}
	if cfg.Policy.MentionBoost != 4.0 {
		t.Errorf("mention_boost = %v", cfg.Policy.MentionBoost)
	}

	// Untouched sections keep their defaults.
	if cfg.Bus.ObservationsStream != "stream.observations" {
		t.Errorf("observations_stream = %q", cfg.Bus.ObservationsStream)
	}
	if cfg.Policy.EventWeight != 1.5 {
		t.Errorf("event_weight = %v", cfg.Policy.EventWeight)
	}
	if cfg.Memory.Deadline != 500*time.Millisecond {
		t.Errorf("memory deadline = %v", cfg.Memory.Deadline)
	}
}

func TestApplyEnvWinsOverFile(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	env := map[string]string{
		"REDIS_URL":               "redis://elsewhere:6379/0",
		"FIREHOSE_STREAM":         "env.firehose",
		"GENERATION_MODE":         "deterministic",
		"AUTO_COMMENTARY_ENABLED": "true",
		"LLM_MODEL":               "test-model",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Bus.RedisURL != "redis://elsewhere:6379/0" {
		t.Errorf("redis_url = %q", cfg.Bus.RedisURL)
	}
	if cfg.Bus.FirehoseStream != "env.firehose" {
		t.Errorf("firehose_stream = %q", cfg.Bus.FirehoseStream)
	}
	if cfg.Generation.Mode != config.ModeDeterministic {
		t.Errorf("mode = %q", cfg.Generation.Mode)
	}
	if !cfg.AutoCommentary.Enabled {
		t.Error("auto commentary not enabled")
	}
	if cfg.Generation.LLM.Model != "test-model" {
		t.Errorf("llm model = %q", cfg.Generation.LLM.Model)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		want   string
	}{
		{
			name:   "same ingest and firehose",
			mutate: func(cfg *config.Config) { cfg.Bus.FirehoseStream = cfg.Bus.IngestStream },
			want:   "must differ",
		},
		{
			name:   "bad generation mode",
			mutate: func(cfg *config.Config) { cfg.Generation.Mode = "psychic" },
			want:   "generation mode",
		},
		{
			name: "llm mode without model",
			mutate: func(cfg *config.Config) {
				cfg.Generation.Mode = config.ModeLLM
				cfg.Generation.LLM.Model = ""
			},
			want: "llm.model",
		},
		{
			name: "postgres without dsn",
			mutate: func(cfg *config.Config) {
				cfg.Memory.Backend = config.BackendPostgres
				cfg.Memory.PostgresDSN = ""
			},
			want: "postgres_dsn",
		},
		{
			name:   "probability cap out of range",
			mutate: func(cfg *config.Config) { cfg.Policy.ProbabilityCap = 1.2 },
			want:   "probability_cap",
		},
		{
			name:   "bad log level",
			mutate: func(cfg *config.Config) { cfg.LogLevel = "loud" },
			want:   "log level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadRooms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rooms.yaml")
	content := `
rooms:
  - id: room_a
    name: Main Stage
    max_chars: 300
    emotes: [PogChamp, Kappa]
    budget_messages: 6
    budget_window_sec: 60
    cooldown_ms: 2000
  - id: room_b
    name: Quiet Lobby
    activity_multiplier: 0.4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rooms, err := config.LoadRooms(path)
	if err != nil {
		t.Fatalf("LoadRooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("got %d rooms, want 2", len(rooms))
	}
	a := rooms["room_a"]
	if a.MaxChars != 300 || a.CooldownMS != 2000 || len(a.Emotes) != 2 {
		t.Errorf("room_a = %+v", a)
	}
	if a.ActivityMultiplier != 1.0 {
		t.Errorf("room_a multiplier = %v, want default 1.0", a.ActivityMultiplier)
	}
	if rooms["room_b"].ActivityMultiplier != 0.4 {
		t.Errorf("room_b multiplier = %v", rooms["room_b"].ActivityMultiplier)
	}
}

func TestLoadRoomsDuplicateID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rooms.yaml")
	content := "rooms:\n  - id: dup\n  - id: dup\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := config.LoadRooms(path); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("LoadRooms = %v, want duplicate error", err)
	}
}

func TestLoadPersonas(t *testing.T) {
	dir := t.TempDir()
	persona := `
id: hypebeast
display_name: HypeBeast99
aliases: [hype, beast]
rooms: [room_a]
base_probability: 0.12
catchphrases: ["LETS GOOO", "no shot"]
interests: [clutch, victory]
style:
  tone: loud, all-in
  verbosity: 0.3
  excitability: 0.9
  emote_policy: often
  bounds:
    excitability_min: 0.7
`
	if err := os.WriteFile(filepath.Join(dir, "hypebeast.yaml"), []byte(persona), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	personas, err := config.LoadPersonas(dir)
	if err != nil {
		t.Fatalf("LoadPersonas: %v", err)
	}
	if len(personas) != 1 {
		t.Fatalf("got %d personas, want 1", len(personas))
	}
	p := personas[0]
	if p.Style.EmotePolicy != config.EmotesOften {
		t.Errorf("emote_policy = %q", p.Style.EmotePolicy)
	}
	names := p.MentionNames()
	if len(names) != 3 || names[0] != "hypebeast99" {
		t.Errorf("MentionNames = %v", names)
	}
	if !p.InRoom("room_a") || p.InRoom("room_b") {
		t.Error("room membership wrong")
	}
}

func TestLoadPersonasRejectsBadProbability(t *testing.T) {
	dir := t.TempDir()
	persona := "id: p1\ndisplay_name: P1\nbase_probability: 1.5\n"
	if err := os.WriteFile(filepath.Join(dir, "p1.yaml"), []byte(persona), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := config.LoadPersonas(dir); err == nil || !strings.Contains(err.Error(), "base_probability") {
		t.Errorf("LoadPersonas = %v, want base_probability error", err)
	}
}
