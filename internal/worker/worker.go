// Package worker runs the persona engine: it consumes the moderated
// firehose and the observation stream, decides which personas speak,
// generates their lines, and publishes them back onto the ingest stream.
//
// Three loops share one Worker:
//
//   - the trigger loop reacts to firehose chat messages through the policy
//     engine
//   - the auto loop comments on stream observations without a chat trigger
//   - the reflection loop periodically drifts persona style and distils
//     recent chat into memory
//
// Reactive and auto publishes share one speak tracker, so a chatty auto
// loop eats into the same per-room budget the policy engine enforces.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/itsDarianNgo/Chatter/internal/bus"
	"github.com/itsDarianNgo/Chatter/internal/chatwindow"
	"github.com/itsDarianNgo/Chatter/internal/config"
	"github.com/itsDarianNgo/Chatter/internal/generate"
	"github.com/itsDarianNgo/Chatter/internal/obsbuffer"
	"github.com/itsDarianNgo/Chatter/internal/observe"
	"github.com/itsDarianNgo/Chatter/internal/policy"
	"github.com/itsDarianNgo/Chatter/internal/resilience"
	"github.com/itsDarianNgo/Chatter/internal/schema"
	"github.com/itsDarianNgo/Chatter/pkg/memory"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// dedupeCapacity bounds the trigger replay-suppression window.
const dedupeCapacity = 4096

// maxJitter is the upper bound of the random pause taken before a persona
// replies, so simultaneous speakers do not land in the same instant.
const maxJitter = 250 * time.Millisecond

// signalObservations is how many live observations feed the event-strength
// signal.
const signalObservations = 8

// Worker drives every persona loop for one process.
type Worker struct {
	cfg      *config.Config
	consumer string
	b        bus.Bus
	gen      generate.Generator
	mem      *memory.Guard

	validator *schema.Validator
	engine    *policy.Engine
	window    *chatwindow.Window
	obs       *obsbuffer.Buffer
	personas  []config.Persona
	rooms     map[string]config.Room
	states    map[string]*personaState
	auto      *autoState
	dedupe    *seenCache
	metrics   *observe.Metrics
	logger    *slog.Logger

	now    func() time.Time
	jitter func() time.Duration

	consumed      atomic.Int64
	published     atomic.Int64
	autoPublished atomic.Int64
	duplicates    atomic.Int64
	invalid       atomic.Int64
	obsReceived   atomic.Int64
	memReads      atomic.Int64
	memWrites     atomic.Int64
	reflections   atomic.Int64

	decisionMu sync.Mutex
	byReason   map[string]int64
	recent     []policy.Decision

	autoMu  sync.RWMutex
	autoCfg config.AutoCommentaryConfig
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock injects a frozen clock for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithJitter overrides the pre-reply pause; tests pass a zero function.
func WithJitter(f func() time.Duration) Option {
	return func(w *Worker) { w.jitter = f }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// New wires a Worker. mem may be nil when memory is disabled; gen must not
// be nil. consumer names this process inside the worker consumer group.
func New(cfg *config.Config, consumer string, b bus.Bus, gen generate.Generator, mem *memory.Guard, personas []config.Persona, rooms map[string]config.Room, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		cfg:       cfg,
		consumer:  consumer,
		b:         b,
		gen:       gen,
		mem:       mem,
		validator: schema.NewValidator(),
		window:    chatwindow.New(),
		obs:       obsbuffer.New(),
		personas:  personas,
		rooms:     rooms,
		states:    make(map[string]*personaState, len(personas)),
		auto:      newAutoState(),
		dedupe:    newSeenCache(dedupeCapacity),
		metrics:   observe.DefaultMetrics(),
		logger:    logger.With("component", "worker"),
		now:       time.Now,
		byReason:  make(map[string]int64),
		autoCfg:   cfg.AutoCommentary,
	}
	w.jitter = func() time.Duration {
		return time.Duration(rand.Int64N(int64(maxJitter)))
	}
	for _, opt := range opts {
		opt(w)
	}
	w.engine = policy.New(cfg.Policy, rooms, policy.WithClock(w.now))
	for i := range personas {
		w.states[personas[i].ID] = newPersonaState(&w.personas[i], w.now())
	}
	return w
}

// Run starts every loop and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.b.EnsureGroup(ctx, w.cfg.Bus.FirehoseStream, w.cfg.Bus.WorkerGroup); err != nil {
		return fmt.Errorf("ensure firehose group: %w", err)
	}
	if err := w.b.EnsureGroup(ctx, w.cfg.Bus.ObservationsStream, w.cfg.Bus.WorkerGroup); err != nil {
		return fmt.Errorf("ensure observations group: %w", err)
	}

	w.metrics.ActivePersonas.Add(ctx, int64(len(w.personas)))
	defer w.metrics.ActivePersonas.Add(context.WithoutCancel(ctx), -int64(len(w.personas)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.runTriggers(ctx)
	}()
	go func() {
		defer wg.Done()
		w.runObservations(ctx)
	}()
	if w.cfg.Reflection.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runReflection(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// runTriggers consumes the firehose and reacts to each chat message.
func (w *Worker) runTriggers(ctx context.Context) {
	backoff := resilience.Backoff{}
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := w.b.GroupRead(ctx, w.cfg.Bus.FirehoseStream, w.cfg.Bus.WorkerGroup, w.consumer, w.cfg.Bus.ReadCount, w.cfg.Bus.ReadBlock)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Warn("firehose read failed, backing off", "error", err)
			if backoff.Sleep(ctx) != nil {
				return
			}
			continue
		}
		backoff.Reset()

		ackIDs := make([]string, 0, len(msgs))
		for _, msg := range msgs {
			w.handleTrigger(ctx, msg.Payload)
			ackIDs = append(ackIDs, msg.ID)
		}
		if len(ackIDs) > 0 {
			if err := w.b.Ack(ctx, w.cfg.Bus.FirehoseStream, w.cfg.Bus.WorkerGroup, ackIDs...); err != nil {
				w.logger.Warn("firehose ack failed", "error", err, "count", len(ackIDs))
			}
		}
	}
}

// handleTrigger runs one firehose payload through dedupe, the chat window,
// and the policy engine for every persona.
func (w *Worker) handleTrigger(ctx context.Context, payload []byte) {
	w.consumed.Add(1)
	w.metrics.MessagesConsumed.Add(ctx, 1)

	if err := w.validator.Validate(payload); err != nil {
		w.invalid.Add(1)
		w.metrics.InvalidRecords.Add(ctx, 1)
		w.logger.Warn("invalid firehose record", "error", err)
		return
	}
	var msg types.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		w.invalid.Add(1)
		w.metrics.InvalidRecords.Add(ctx, 1)
		return
	}
	if msg.SchemaName != types.SchemaChatMessage {
		w.invalid.Add(1)
		w.metrics.InvalidRecords.Add(ctx, 1)
		return
	}
	if w.dedupe.Seen(msg.ID) {
		w.duplicates.Add(1)
		return
	}

	w.window.Add(msg)

	sig := w.signals(msg.RoomID)
	for i := range w.personas {
		persona := w.states[w.personas[i].ID].snapshot()
		sig.MentionHits = w.window.MentionHits(msg.RoomID, persona.MentionNames())
		d := w.engine.Decide(&persona, &msg, sig)
		w.recordDecision(ctx, d)
		if d.Outcome != policy.OutcomeSpeak {
			continue
		}
		w.speak(ctx, &persona, &msg, nil, d.Mentioned)
	}
}

// speak generates and publishes one reply for persona. trigger and obs are
// mutually exclusive: exactly one is non-nil.
func (w *Worker) speak(ctx context.Context, persona *config.Persona, trigger *types.ChatMessage, obs *types.StreamObservation, mentioned bool) bool {
	roomID := ""
	if trigger != nil {
		roomID = trigger.RoomID
	} else if obs != nil {
		roomID = obs.RoomID
	}

	if d := w.jitter(); d > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
		}
	}

	query := ""
	if trigger != nil {
		query = trigger.Content
	} else if obs != nil {
		query = obs.Summary
	}
	memories := w.searchMemories(ctx, persona.ID, roomID, query)

	res, err := w.gen.Generate(ctx, generate.Request{
		Persona:     persona,
		Room:        w.rooms[roomID],
		Trigger:     trigger,
		Observation: obs,
		Recent:      w.window.Recent(roomID),
		Memories:    memories,
		Mentioned:   mentioned,
	})
	if err != nil {
		w.countReason(ctx, persona.ID, "gen_error")
		w.logger.Warn("generation failed", "persona", persona.ID, "error", err)
		return false
	}
	if res.Content == "" {
		w.countReason(ctx, persona.ID, "gen_empty")
		return false
	}

	producer := types.ProducerPersonaWorker
	if obs != nil {
		producer = types.ProducerPersonaWorkerAuto
		if containsForbidden(res.Content) {
			w.countReason(ctx, persona.ID, "auto_forbidden")
			w.logger.Warn("auto reply leaked observation internals, dropped",
				"persona", persona.ID, "obs_id", obs.ID)
			return false
		}
	}

	now := w.now()
	out := types.ChatMessage{
		SchemaName:    types.SchemaChatMessage,
		SchemaVersion: types.SchemaVersionChatMessage,
		ID:            uuid.NewString(),
		TS:            now.UnixMilli(),
		RoomID:        roomID,
		Origin:        types.OriginBot,
		UserID:        persona.ID,
		DisplayName:   persona.DisplayName,
		Content:       res.Content,
		Trace:         &types.Trace{Producer: producer},
	}
	payload, err := json.Marshal(&out)
	if err != nil {
		w.logger.Warn("marshal reply failed", "persona", persona.ID, "error", err)
		return false
	}
	if err := w.b.Publish(ctx, w.cfg.Bus.IngestStream, payload); err != nil {
		w.logger.Warn("ingest publish failed", "persona", persona.ID, "error", err)
		return false
	}

	w.engine.Tracker().RecordSpeak(persona.ID, roomID, now)
	w.states[persona.ID].noteOwnMessage()
	w.metrics.RecordPublish(ctx, w.cfg.Bus.IngestStream, producer)
	if obs != nil {
		w.autoPublished.Add(1)
		w.metrics.AutoMessages.Add(ctx, 1)
	} else {
		w.published.Add(1)
	}
	w.logger.Debug("reply published",
		"persona", persona.ID, "room", roomID, "source", res.Source, "producer", producer)
	return true
}

// signals reads the policy context for a room from the chat window and the
// observation buffer.
func (w *Worker) signals(roomID string) policy.Signals {
	strength := 0.0
	for _, o := range w.obs.Latest(roomID, signalObservations) {
		if o.HypeLevel > strength {
			strength = o.HypeLevel
		}
	}
	return policy.Signals{
		RatePerSec:    w.window.RatePerSec(roomID),
		BotFraction:   w.window.BotFraction(roomID),
		EventStrength: strength,
	}
}

// searchMemories queries the memory guard and flattens the hits into prompt
// snippets. Returns nil when memory is disabled or empty.
func (w *Worker) searchMemories(ctx context.Context, personaID, roomID, query string) []string {
	if w.mem == nil || query == "" {
		return nil
	}
	ns := memory.Namespace(roomID, personaID)
	results, _ := w.mem.Search(ctx, ns, query, w.cfg.Memory.TopK)
	if !w.mem.IsDegraded() {
		w.memReads.Add(1)
	}
	if len(results) == 0 {
		return nil
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Item.Content)
	}
	return out
}

// UpdateAutoCommentary swaps the auto-commentary tuning at runtime. The
// config watcher calls this on reload; in-flight gates finish on the old
// values.
func (w *Worker) UpdateAutoCommentary(cfg config.AutoCommentaryConfig) {
	w.autoMu.Lock()
	w.autoCfg = cfg
	w.autoMu.Unlock()
	w.logger.Info("auto commentary retuned",
		"enabled", cfg.Enabled,
		"hype_threshold", cfg.HypeThreshold,
		"min_interval", cfg.MinInterval)
}

// autoConfig returns the current auto-commentary tuning.
func (w *Worker) autoConfig() config.AutoCommentaryConfig {
	w.autoMu.RLock()
	defer w.autoMu.RUnlock()
	return w.autoCfg
}

// recordDecision folds one policy decision into the stats counters and the
// recent-decision ring.
func (w *Worker) recordDecision(ctx context.Context, d policy.Decision) {
	w.metrics.RecordDecision(ctx, d.PersonaID, string(d.Outcome), d.Reason)
	w.decisionMu.Lock()
	defer w.decisionMu.Unlock()
	w.byReason[d.Reason]++
	w.recent = append(w.recent, d)
	if len(w.recent) > recentDecisions {
		w.recent = w.recent[len(w.recent)-recentDecisions:]
	}
}

// countReason bumps a non-policy reason counter (generation and auto gates).
func (w *Worker) countReason(ctx context.Context, personaID, reason string) {
	w.metrics.RecordDecision(ctx, personaID, string(policy.OutcomeSuppress), reason)
	w.decisionMu.Lock()
	w.byReason[reason]++
	w.decisionMu.Unlock()
}

// seenCache is a fixed-capacity id set with FIFO eviction.
type seenCache struct {
	mu    sync.Mutex
	cap   int
	order []string
	ids   map[string]struct{}
}

func newSeenCache(capacity int) *seenCache {
	return &seenCache{cap: capacity, ids: make(map[string]struct{}, capacity)}
}

// Seen reports whether id was already recorded, recording it if not.
func (c *seenCache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[id]; ok {
		return true
	}
	c.ids[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > c.cap {
		delete(c.ids, c.order[0])
		c.order = c.order[1:]
	}
	return false
}
