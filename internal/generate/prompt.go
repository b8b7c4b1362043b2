package generate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/itsDarianNgo/Chatter/internal/config"
	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// Prompts holds the parsed prompt templates and their content manifest.
// The manifest hash is logged at startup so a transcript can be traced back
// to the exact prompt text that produced it.
type Prompts struct {
	system   *template.Template
	reactive *template.Template
	auto     *template.Template

	manifest map[string]string
	combined string
}

// Template file names looked up under the prompt directory.
const (
	promptSystemFile   = "system.tmpl"
	promptReactiveFile = "reactive.tmpl"
	promptAutoFile     = "auto.tmpl"
)

// promptVars is the data handed to every template.
type promptVars struct {
	Persona     *config.Persona
	Room        config.Room
	Trigger     *types.ChatMessage
	Observation *types.StreamObservation
	Recent      []types.ChatMessage
	Memories    []string
	Mentioned   bool
}

// LoadPrompts reads and parses the three template files from dir and
// computes their SHA-256 manifest over the canonical text of each file:
// line endings normalized to "\n", trailing newlines trimmed, exactly one
// newline appended.
func LoadPrompts(dir string) (*Prompts, error) {
	p := &Prompts{manifest: make(map[string]string)}
	var all []byte

	load := func(name string) (*template.Template, error) {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("generate: read prompt %s: %w", path, err)
		}
		canon := strings.ReplaceAll(string(data), "\r\n", "\n")
		canon = strings.TrimRight(strings.ReplaceAll(canon, "\r", "\n"), "\n") + "\n"
		sum := sha256.Sum256([]byte(canon))
		p.manifest[name] = hex.EncodeToString(sum[:])
		all = append(all, canon...)
		t, err := template.New(name).Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("generate: parse prompt %s: %w", path, err)
		}
		return t, nil
	}

	var err error
	if p.system, err = load(promptSystemFile); err != nil {
		return nil, err
	}
	if p.reactive, err = load(promptReactiveFile); err != nil {
		return nil, err
	}
	if p.auto, err = load(promptAutoFile); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(all)
	p.combined = hex.EncodeToString(sum[:])
	return p, nil
}

// System renders the persona system prompt.
func (p *Prompts) System(req Request) (string, error) {
	return p.render(p.system, req)
}

// User renders the user-turn prompt: reactive for triggers, auto for
// observation-driven commentary.
func (p *Prompts) User(req Request) (string, error) {
	if req.Trigger == nil && req.Observation != nil {
		return p.render(p.auto, req)
	}
	return p.render(p.reactive, req)
}

func (p *Prompts) render(t *template.Template, req Request) (string, error) {
	var b strings.Builder
	err := t.Execute(&b, promptVars{
		Persona:     req.Persona,
		Room:        req.Room,
		Trigger:     req.Trigger,
		Observation: req.Observation,
		Recent:      req.Recent,
		Memories:    req.Memories,
		Mentioned:   req.Mentioned,
	})
	if err != nil {
		return "", fmt.Errorf("generate: render %s: %w", t.Name(), err)
	}
	return b.String(), nil
}

// Manifest returns a copy of the per-file SHA-256 hex digests, keyed by file
// name. Files lists the same names in sorted order.
func (p *Prompts) Manifest() map[string]string {
	out := make(map[string]string, len(p.manifest))
	for k, v := range p.manifest {
		out[k] = v
	}
	return out
}

// CombinedHash is the SHA-256 over the canonical text of all prompt files
// concatenated in load order. One value to log and compare across deployments.
func (p *Prompts) CombinedHash() string {
	return p.combined
}

// Files lists the manifest file names in sorted order.
func (p *Prompts) Files() []string {
	names := make([]string, 0, len(p.manifest))
	for k := range p.manifest {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
