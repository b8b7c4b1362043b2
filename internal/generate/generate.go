// Package generate produces persona chat lines.
//
// Three implementations share one interface: the deterministic template
// generator (no network, reproducible), the stub generator (canned fixture
// replies for end-to-end tests) and the live LLM generator. The live
// generator falls back to the deterministic one on any provider failure so
// a dead model endpoint degrades chat quality, never chat liveness.
//
// All generators emit at most one line of at most the room's max_chars; an
// empty line means there is nothing to post and the caller drops it.
package generate

import (
	"context"
	"strings"

	"github.com/itsDarianNgo/Chatter/internal/config"
	"github.com/itsDarianNgo/Chatter/internal/policy"
	"github.com/itsDarianNgo/Chatter/internal/safety"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// Source labels which implementation produced a reply.
const (
	SourceDeterministic = "deterministic"
	SourceStub          = "stub"
	SourceLLM           = "llm"
	SourceLLMFallback   = "llm_fallback"
	SourceMarkerEcho    = "marker_echo"
)

// Request carries everything a generator may use for one reply. Trigger is
// nil for observation-driven commentary; Observation is nil for reactive
// replies.
type Request struct {
	Persona     *config.Persona
	Room        config.Room
	Trigger     *types.ChatMessage
	Observation *types.StreamObservation

	// Recent is the room's chat window, oldest first.
	Recent []types.ChatMessage

	// Memories are persona memory snippets relevant to the trigger.
	Memories []string

	// Mentioned is whether the trigger addressed the persona directly.
	Mentioned bool
}

// Result is one generated chat line.
type Result struct {
	// Content is a single line, already normalized and length-capped. It is
	// empty when post-processing leaves nothing to post.
	Content string

	// Source names the implementation that produced the line.
	Source string
}

// Generator produces a chat line for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// markerToken extracts the first test-marker token from content, if any.
// Every prefix the policy engine force-posts on is recognized here, so a
// forced reply always carries the literal marker its trigger used.
func markerToken(content string) (string, bool) {
	for _, f := range strings.Fields(content) {
		for _, prefix := range markerPrefixes {
			if strings.HasPrefix(f, prefix) {
				return strings.TrimRight(f, ".,!?"), true
			}
		}
	}
	return "", false
}

var markerPrefixes = []string{
	policy.MarkerTokenPrefix,
	policy.MarkerBotLoopPrefix,
	policy.MarkerPrefix,
}

// echoReply is the fixed acknowledgement for marker tokens.
func echoReply(token string) string {
	return "got it: " + token
}

// finalize normalizes a candidate line to the room limit and strips a
// leading @handle token. An empty result is returned as is, so the caller
// drops the post.
func finalize(content string, req Request, source string) Result {
	maxChars := req.Room.MaxChars
	if maxChars <= 0 {
		maxChars = safety.DefaultMaxChars
	}
	line := safety.Normalize(content, maxChars)
	if strings.HasPrefix(line, "@") {
		_, line, _ = strings.Cut(line, " ")
	}
	return Result{Content: line, Source: source}
}

func fallbackLine(p *config.Persona) string {
	if len(p.Catchphrases) > 0 {
		return p.Catchphrases[0]
	}
	return "gg"
}
