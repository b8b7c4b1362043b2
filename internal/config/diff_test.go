package config

import (
	"testing"
	"time"
)

func TestDiffNoChanges(t *testing.T) {
	d := Diff(Default(), Default())
	if d.AutoCommentaryChanged || d.LogLevelChanged || d.RestartRequired {
		t.Errorf("diff of identical configs = %+v, want zero", d)
	}
}

func TestDiffAutoCommentary(t *testing.T) {
	old := Default()
	cur := Default()
	cur.AutoCommentary.Enabled = true
	cur.AutoCommentary.HypeThreshold = 0.8

	d := Diff(old, cur)
	if !d.AutoCommentaryChanged {
		t.Fatal("auto commentary change not detected")
	}
	if !d.NewAutoCommentary.Enabled || d.NewAutoCommentary.HypeThreshold != 0.8 {
		t.Errorf("NewAutoCommentary = %+v", d.NewAutoCommentary)
	}
	if d.RestartRequired {
		t.Error("auto commentary change flagged as restart-required")
	}
}

func TestDiffLogLevel(t *testing.T) {
	old := Default()
	cur := Default()
	cur.LogLevel = LogDebug

	d := Diff(old, cur)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
}

func TestDiffRestartRequired(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bus", func(c *Config) { c.Bus.RedisURL = "redis://other:6379/0" }},
		{"policy", func(c *Config) { c.Policy.MentionBoost = 9 }},
		{"generation", func(c *Config) { c.Generation.Mode = ModeStub }},
		{"memory", func(c *Config) { c.Memory.TopK = 9 }},
		{"reflection", func(c *Config) { c.Reflection.Interval = time.Hour }},
		{"rooms path", func(c *Config) { c.RoomConfigPath = "elsewhere.yaml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := Default()
			cur := Default()
			tt.mutate(cur)
			d := Diff(old, cur)
			if !d.RestartRequired {
				t.Error("restart-required change not flagged")
			}
			if d.AutoCommentaryChanged || d.LogLevelChanged {
				t.Errorf("unrelated hot-reload flags set: %+v", d)
			}
		})
	}
}
