// Package safety normalizes chat content and applies the moderation filter.
//
// The gateway runs every ingest message through Filter before broadcast, and
// the persona workers run their own generated lines through the same filter
// before publishing. Normalization always happens first: control characters
// are stripped, whitespace is collapsed, the text is forced onto a single
// line and truncated to the room limit. Moderation then checks the
// normalized text against the blocklist (drop) and the PII patterns
// (redact). The result is a ModerationMeta stamped onto the message.
package safety

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// DefaultMaxChars bounds content length when a room does not set its own.
const DefaultMaxChars = 500

// Pattern is one redaction rule. Matches are replaced in-place and recorded
// on the moderation metadata.
type Pattern struct {
	// Kind names the category, e.g. "email" or "phone".
	Kind string `yaml:"kind"`

	// Expr is the regular expression matching the spans to rewrite.
	Expr string `yaml:"expr"`

	// Replacement is the placeholder written over each match.
	Replacement string `yaml:"replacement"`
}

// Rules is the on-disk shape of a moderation rule file.
type Rules struct {
	// Blocklist terms cause the whole message to be dropped when matched
	// case-insensitively as a substring of the normalized content.
	Blocklist []string `yaml:"blocklist"`

	// Redact lists the PII patterns rewritten in place.
	Redact []Pattern `yaml:"redact"`
}

// Filter applies normalization and moderation. Construct with NewFilter;
// the zero value allows everything. A Filter is immutable and safe for
// concurrent use.
type Filter struct {
	blocklist []string
	patterns  []compiledPattern
}

type compiledPattern struct {
	kind        string
	re          *regexp.Regexp
	replacement string
}

// DefaultRules are the rules used when no rule file is configured: redact
// email addresses and phone numbers, block nothing.
func DefaultRules() Rules {
	return Rules{
		Redact: []Pattern{
			{Kind: "email", Expr: `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`, Replacement: "[email]"},
			{Kind: "phone", Expr: `\+?\d[\d\-\s]{7,}\d`, Replacement: "[phone]"},
		},
	}
}

// NewFilter compiles rules into a Filter.
func NewFilter(rules Rules) (*Filter, error) {
	f := &Filter{}
	for _, term := range rules.Blocklist {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			f.blocklist = append(f.blocklist, term)
		}
	}
	for _, p := range rules.Redact {
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p.Kind, err)
		}
		f.patterns = append(f.patterns, compiledPattern{kind: p.Kind, re: re, replacement: p.Replacement})
	}
	return f, nil
}

// LoadRules reads a YAML rule file from path.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read moderation rules: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse moderation rules %s: %w", path, err)
	}
	return rules, nil
}

// Normalize strips control characters, collapses runs of whitespace into a
// single space, trims, and truncates to maxChars runes. The result is always
// a single line.
func Normalize(content string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	collapsed := strings.Join(strings.Fields(b.String()), " ")
	runes := []rune(collapsed)
	if len(runes) > maxChars {
		collapsed = string(runes[:maxChars])
	}
	return collapsed
}

// Result carries the filter outcome for one message.
type Result struct {
	// Content is the normalized, possibly redacted text. Empty when the
	// action is drop.
	Content string

	Meta types.ModerationMeta
}

// Filter normalizes content and applies the moderation rules. The returned
// meta always has a non-nil Reasons/Redactions only when populated, matching
// the wire shape consumers expect.
func (f *Filter) Filter(content string, maxChars int) Result {
	normalized := Normalize(content, maxChars)

	lowered := strings.ToLower(normalized)
	for _, term := range f.blocklist {
		if strings.Contains(lowered, term) {
			return Result{Meta: types.ModerationMeta{
				Action:  types.ModerationDrop,
				Reasons: []string{"blocklist:" + term},
			}}
		}
	}

	meta := types.ModerationMeta{Action: types.ModerationAllow}
	for _, p := range f.patterns {
		hits := len(p.re.FindAllStringIndex(normalized, -1))
		if hits == 0 {
			continue
		}
		normalized = p.re.ReplaceAllString(normalized, p.replacement)
		meta.Action = types.ModerationRedact
		meta.Reasons = append(meta.Reasons, "pii:"+p.kind)
		for i := 0; i < hits; i++ {
			meta.Redactions = append(meta.Redactions, types.Redaction{
				Kind:        p.kind,
				Replacement: p.replacement,
			})
		}
	}

	if normalized == "" {
		return Result{Meta: types.ModerationMeta{
			Action:  types.ModerationDrop,
			Reasons: append(meta.Reasons, "empty_content"),
		}}
	}
	return Result{Content: normalized, Meta: meta}
}
