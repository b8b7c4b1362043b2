package generate

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/itsDarianNgo/Chatter/internal/observe"
	"github.com/itsDarianNgo/Chatter/pkg/provider/llm"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// recentTurns caps how many window messages are sent as conversation
// context. More adds latency and tokens without better one-liners.
const recentTurns = 12

// maxReplyTokens caps generation; chat lines are short.
const maxReplyTokens = 80

// LLM generates replies through a model provider. Concurrency is capped
// with a weighted semaphore and each call carries a hard deadline; on any
// failure the deterministic generator answers instead, tagged
// SourceLLMFallback.
type LLM struct {
	provider llm.Provider
	prompts  *Prompts
	timeout  time.Duration
	sem      *semaphore.Weighted
	fallback *Deterministic
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// NewLLM wires the live generator. maxConcurrent <= 0 defaults to 8;
// timeout <= 0 defaults to 3s.
func NewLLM(provider llm.Provider, prompts *Prompts, timeout time.Duration, maxConcurrent int64, m *observe.Metrics, logger *slog.Logger) *LLM {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{
		provider: provider,
		prompts:  prompts,
		timeout:  timeout,
		sem:      semaphore.NewWeighted(maxConcurrent),
		fallback: NewDeterministic(),
		metrics:  m,
		logger:   logger.With("component", "generate"),
	}
}

// Generate implements Generator.
func (g *LLM) Generate(ctx context.Context, req Request) (Result, error) {
	if req.Trigger != nil {
		if token, ok := markerToken(req.Trigger.Content); ok {
			return finalize(echoReply(token), req, SourceMarkerEcho), nil
		}
	}

	res, err := g.complete(ctx, req)
	if err != nil {
		g.logger.Warn("llm generation failed, using deterministic fallback",
			"persona_id", req.Persona.ID, "error", err)
		fb, ferr := g.fallback.Generate(ctx, req)
		if ferr != nil {
			return Result{}, ferr
		}
		fb.Source = SourceLLMFallback
		return fb, nil
	}
	return res, nil
}

func (g *LLM) complete(ctx context.Context, req Request) (Result, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer g.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	system, err := g.prompts.System(req)
	if err != nil {
		return Result{}, err
	}
	user, err := g.prompts.User(req)
	if err != nil {
		return Result{}, err
	}

	creq := llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     append(contextMessages(req), llm.Message{Role: "user", Content: user}),
		Temperature:  temperatureFor(req.Persona.Style.Excitability),
		MaxTokens:    maxReplyTokens,
	}

	start := time.Now()
	resp, err := g.provider.Complete(callCtx, creq)
	g.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("persona", req.Persona.ID)))
	if err != nil {
		return Result{}, err
	}
	return finalize(resp.Content, req, SourceLLM), nil
}

// contextMessages turns the chat window into conversation turns. The
// persona's own lines become assistant turns so the model keeps its voice
// consistent.
func contextMessages(req Request) []llm.Message {
	recent := req.Recent
	if len(recent) > recentTurns {
		recent = recent[len(recent)-recentTurns:]
	}
	msgs := make([]llm.Message, 0, len(recent))
	for i := range recent {
		m := &recent[i]
		role := "user"
		if m.UserID == req.Persona.ID {
			role = "assistant"
		}
		name := m.DisplayName
		if m.Origin == types.OriginSystem {
			name = "system"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content, Name: name})
	}
	return msgs
}

// temperatureFor maps persona excitability [0, 1] onto a sampling
// temperature in [0.5, 1.3].
func temperatureFor(excitability float64) float64 {
	if excitability < 0 {
		excitability = 0
	}
	if excitability > 1 {
		excitability = 1
	}
	return 0.5 + 0.8*excitability
}
