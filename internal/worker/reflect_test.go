package worker

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/itsDarianNgo/Chatter/internal/config"
	busmock "github.com/itsDarianNgo/Chatter/internal/bus/mock"
	"github.com/itsDarianNgo/Chatter/pkg/memory"
	memmock "github.com/itsDarianNgo/Chatter/pkg/memory/mock"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

func TestDriftDelta(t *testing.T) {
	const clamp = 0.02
	for cycle := 0; cycle < 50; cycle++ {
		for _, knob := range []string{"verbosity", "excitability"} {
			d := driftDelta("blaze", cycle, knob, clamp)
			if math.Abs(d) > clamp {
				t.Errorf("driftDelta(cycle=%d, %s) = %v, outside ±%v", cycle, knob, d, clamp)
			}
		}
	}

	if driftDelta("blaze", 3, "verbosity", clamp) != driftDelta("blaze", 3, "verbosity", clamp) {
		t.Error("drift not deterministic")
	}
	if driftDelta("blaze", 3, "verbosity", clamp) == driftDelta("frost", 3, "verbosity", clamp) {
		t.Error("personas share a drift value")
	}
	if driftDelta("blaze", 3, "verbosity", clamp) == driftDelta("blaze", 4, "verbosity", clamp) {
		t.Error("cycles share a drift value")
	}
	if driftDelta("blaze", 0, "verbosity", 0) != 0 {
		t.Error("zero clamp should yield zero drift")
	}
}

func TestApplyDriftClampsToBounds(t *testing.T) {
	p := testPersonas()[0]
	p.Style.Verbosity = 0.85
	p.Style.Excitability = 0.15
	now := time.Now()
	state := newPersonaState(&p, now)

	state.applyDrift(now, 0.5, -0.5)
	got := state.snapshot()
	if got.Style.Verbosity != p.Style.Bounds.VerbosityMax {
		t.Errorf("verbosity = %v, want clamped to %v", got.Style.Verbosity, p.Style.Bounds.VerbosityMax)
	}
	if got.Style.Excitability != p.Style.Bounds.ExcitabilityMin {
		t.Errorf("excitability = %v, want clamped to %v", got.Style.Excitability, p.Style.Bounds.ExcitabilityMin)
	}
	if state.cycleCount() != 1 {
		t.Errorf("cycles = %d, want 1", state.cycleCount())
	}
}

func TestReflectionDue(t *testing.T) {
	cfg := config.ReflectionConfig{Interval: 5 * time.Minute, OwnMessageThreshold: 3}
	p := testPersonas()[0]
	now := time.Now()
	state := newPersonaState(&p, now)

	if state.reflectionDue(now.Add(time.Minute), cfg) {
		t.Error("due right after creation")
	}
	if !state.reflectionDue(now.Add(cfg.Interval), cfg) {
		t.Error("not due after interval")
	}

	for i := 0; i < cfg.OwnMessageThreshold; i++ {
		state.noteOwnMessage()
	}
	if !state.reflectionDue(now.Add(time.Minute), cfg) {
		t.Error("not due after own-message threshold")
	}

	state.applyDrift(now.Add(2*time.Minute), 0, 0)
	if state.reflectionDue(now.Add(3*time.Minute), cfg) {
		t.Error("due again right after reflecting")
	}
}

func TestReflectDriftsAndWritesMemory(t *testing.T) {
	cfg := testConfig()
	cfg.Reflection.Enabled = true
	cfg.Reflection.MaxItems = 3
	b := busmock.New()
	inner := &memmock.Adapter{}
	guard := memory.NewGuard(inner, nil, time.Second, 4, nil, slog.New(slog.DiscardHandler))
	w := newTestWorker(t, cfg, b, guard)

	w.window.Add(*humanMessage("ref-1", "that boss fight was wild"))
	w.window.Add(*humanMessage("ref-2", "no shot he clutches this"))

	state := w.states["blaze"]
	before := state.snapshot()
	w.reflect(context.Background(), "blaze", state)
	after := state.snapshot()

	if state.cycleCount() != 1 {
		t.Errorf("cycles = %d, want 1", state.cycleCount())
	}
	clamp := cfg.Reflection.DriftClamp
	if d := math.Abs(after.Style.Verbosity - before.Style.Verbosity); d > clamp {
		t.Errorf("verbosity moved %v, clamp %v", d, clamp)
	}
	if d := math.Abs(after.Style.Excitability - before.Style.Excitability); d > clamp {
		t.Errorf("excitability moved %v, clamp %v", d, clamp)
	}

	items := inner.Added()
	if len(items) == 0 || len(items) > cfg.Reflection.MaxItems {
		t.Fatalf("items written = %d, want 1..%d", len(items), cfg.Reflection.MaxItems)
	}
	wantNS := memory.Namespace(testRoom, "blaze")
	var styles, events int
	for _, item := range items {
		if item.Namespace != wantNS {
			t.Errorf("namespace = %q, want %q", item.Namespace, wantNS)
		}
		if item.ID == "" || item.Content == "" {
			t.Errorf("incomplete item: %+v", item)
		}
		switch item.Kind {
		case memory.KindStyle:
			styles++
		case memory.KindEvent:
			events++
		default:
			t.Errorf("unexpected kind %q", item.Kind)
		}
	}
	if styles != 1 {
		t.Errorf("style items = %d, want 1", styles)
	}
	if events == 0 {
		t.Error("no event items distilled from recent chat")
	}

	stats := w.Stats()
	if stats.Reflections != 1 {
		t.Errorf("reflections = %d, want 1", stats.Reflections)
	}
	if stats.MemoryWritesAccepted != int64(len(items)) {
		t.Errorf("memory_writes_accepted = %d, want %d", stats.MemoryWritesAccepted, len(items))
	}
}

func TestReflectWithoutMemory(t *testing.T) {
	cfg := testConfig()
	cfg.Reflection.Enabled = true
	b := busmock.New()
	w := newTestWorker(t, cfg, b, nil)

	state := w.states["frost"]
	w.reflect(context.Background(), "frost", state)

	if state.cycleCount() != 1 {
		t.Error("reflection skipped without memory")
	}
	if w.Stats().MemoryWritesAccepted != 0 {
		t.Error("memory writes counted with memory disabled")
	}
}

func TestLatestHumanLines(t *testing.T) {
	msgs := []types.ChatMessage{
		{Origin: types.OriginHuman, DisplayName: "A", Content: "first"},
		{Origin: types.OriginBot, DisplayName: "Bot", Content: "noise"},
		{Origin: types.OriginHuman, DisplayName: "B", Content: "   "},
		{Origin: types.OriginHuman, DisplayName: "C", Content: "second"},
		{Origin: types.OriginHuman, DisplayName: "D", Content: "third"},
	}
	got := latestHumanLines(msgs, 2)
	if len(got) != 2 || got[0].Content != "third" || got[1].Content != "second" {
		t.Errorf("latestHumanLines = %+v, want [third second]", got)
	}
}
