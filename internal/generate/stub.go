package generate

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stub replays canned replies from a fixtures file. End-to-end tests run
// the worker in stub mode so assertions never depend on model output.
//
// Fixture keys are "{persona_id}::{content_prefix}": the reply fires when
// the trigger content starts with the prefix. The most specific (longest)
// matching prefix wins. Triggers with no fixture fall through to the
// deterministic generator.
type Stub struct {
	fixtures map[string][]fixture
	fallback *Deterministic
}

type fixture struct {
	prefix string
	reply  string
}

// NewStub loads the fixtures file. The file is a flat YAML map:
//
//	hypebeast::E2E_TEST_greet: "yo chat we live"
//	lurker::: "default lurker line"
func NewStub(path string) (*Stub, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("generate: read fixtures: %w", err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("generate: parse fixtures %s: %w", path, err)
	}

	s := &Stub{
		fixtures: make(map[string][]fixture),
		fallback: NewDeterministic(),
	}
	for key, reply := range raw {
		personaID, prefix, ok := strings.Cut(key, "::")
		if !ok {
			return nil, fmt.Errorf("generate: fixture key %q missing \"::\" separator", key)
		}
		s.fixtures[personaID] = append(s.fixtures[personaID], fixture{prefix: prefix, reply: reply})
	}
	return s, nil
}

// Generate implements Generator.
func (s *Stub) Generate(ctx context.Context, req Request) (Result, error) {
	if req.Trigger != nil {
		// Canned fixtures win over the marker echo: fixture keys use the
		// test-marker prefixes themselves.
		var best *fixture
		for i, f := range s.fixtures[req.Persona.ID] {
			if !strings.HasPrefix(req.Trigger.Content, f.prefix) {
				continue
			}
			if best == nil || len(f.prefix) > len(best.prefix) {
				best = &s.fixtures[req.Persona.ID][i]
			}
		}
		if best != nil {
			return finalize(best.reply, req, SourceStub), nil
		}

		if token, ok := markerToken(req.Trigger.Content); ok {
			return finalize(echoReply(token), req, SourceMarkerEcho), nil
		}
	}
	res, err := s.fallback.Generate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
