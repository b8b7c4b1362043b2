package generate

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/itsDarianNgo/Chatter/internal/config"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// Deterministic is the template generator. Replies are a pure function of
// (persona, trigger or observation id), so replaying a run reproduces the
// same chat lines without any network dependency.
type Deterministic struct{}

// NewDeterministic returns the template generator.
func NewDeterministic() *Deterministic {
	return &Deterministic{}
}

// Template families. Slots: %[1]s speaker, %[2]s catchphrase, %[3]s
// interest, %[4]s summary fragment.
var (
	mentionTemplates = []string{
		"yo %[1]s what's good, %[2]s",
		"%[1]s called me out LUL",
		"heard you %[1]s, %[2]s",
		"ok %[1]s bet",
		"%[1]s my viewer fr",
	}
	eventTemplates = []string{
		"NO WAY did you see that?? %[2]s",
		"%[4]s and chat is SLEEPING on it",
		"CLIP IT. %[4]s",
		"that %[3]s moment was insane",
		"W stream, %[4]s",
	}
	chatterTemplates = []string{
		"%[2]s",
		"anyone else here for the %[3]s content",
		"lurking but %[2]s",
		"chat moving too fast lol",
		"this is peak %[3]s honestly",
	}
	commentaryTemplates = []string{
		"%[4]s PogChamp",
		"yooo %[4]s",
		"%[4]s, called it",
		"nahhh %[4]s LUL",
		"ok now THIS is content. %[4]s",
	}
)

// Generate implements Generator.
func (d *Deterministic) Generate(_ context.Context, req Request) (Result, error) {
	if req.Trigger != nil {
		if token, ok := markerToken(req.Trigger.Content); ok {
			return finalize(echoReply(token), req, SourceMarkerEcho), nil
		}
	}

	seed := deriveSeed(req)
	line := d.compose(req, seed)
	line = appendEmote(line, req, seed)
	return finalize(line, req, SourceDeterministic), nil
}

func (d *Deterministic) compose(req Request, seed uint64) string {
	p := req.Persona

	var family []string
	switch {
	case req.Trigger == nil && req.Observation != nil:
		family = commentaryTemplates
	case req.Mentioned:
		family = mentionTemplates
	case req.Observation != nil && req.Observation.HypeLevel >= 0.5:
		family = eventTemplates
	default:
		family = chatterTemplates
	}

	tpl := pick(family, seed)

	speaker := "chat"
	if req.Trigger != nil && req.Trigger.DisplayName != "" {
		speaker = req.Trigger.DisplayName
	}
	catchphrase := pickString(p.Catchphrases, seed>>8, fallbackLine(p))
	interest := pickString(p.Interests, seed>>16, "this")
	summary := summaryFragment(req.Observation)

	return fmt.Sprintf(tpl, speaker, catchphrase, interest, summary)
}

// summaryFragment takes the first clause of an observation summary so a
// commentary line reads like a reaction, not a report.
func summaryFragment(obs *types.StreamObservation) string {
	if obs == nil {
		return "that"
	}
	s := obs.Summary
	for _, sep := range []string{". ", "; ", ", "} {
		if i := strings.Index(s, sep); i > 0 {
			s = s[:i]
			break
		}
	}
	return strings.TrimSuffix(strings.TrimSpace(s), ".")
}

// appendEmote adds a room emote according to the persona's emote policy.
// "sometimes" appends on roughly half of seeds.
func appendEmote(line string, req Request, seed uint64) string {
	emotes := req.Room.Emotes
	if len(emotes) == 0 {
		return line
	}
	switch req.Persona.Style.EmotePolicy {
	case config.EmotesNever:
		return line
	case config.EmotesSometimes:
		if seed%2 != 0 {
			return line
		}
	case config.EmotesOften:
		// always append
	default:
		return line
	}
	emote := pick(emotes, seed>>24)
	if strings.HasSuffix(line, emote) {
		return line
	}
	return line + " " + emote
}

func deriveSeed(req Request) uint64 {
	id := ""
	switch {
	case req.Trigger != nil:
		id = req.Trigger.ID
	case req.Observation != nil:
		id = req.Observation.ID
	}
	h := sha256.Sum256([]byte(req.Persona.ID + "|" + id))
	return binary.BigEndian.Uint64(h[:8])
}

func pick(options []string, seed uint64) string {
	return options[seed%uint64(len(options))]
}

func pickString(options []string, seed uint64, fallback string) string {
	if len(options) == 0 {
		return fallback
	}
	return pick(options, seed)
}
