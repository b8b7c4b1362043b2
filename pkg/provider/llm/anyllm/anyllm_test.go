package anyllm

import (
	"strings"
	"testing"

	"github.com/itsDarianNgo/Chatter/pkg/provider/llm"
)

func TestNewValidation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("empty provider accepted")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("empty model accepted")
	}
	if _, err := New("totally-unknown", "m"); err == nil {
		t.Error("unknown provider accepted")
	} else if !strings.Contains(err.Error(), "unsupported provider") {
		t.Errorf("error = %v", err)
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	req := llm.CompletionRequest{
		SystemPrompt: "you are a chat persona",
		Messages: []llm.Message{
			{Role: "user", Content: "hello", Name: "Viewer1"},
			{Role: "assistant", Content: "hey"},
		},
		Temperature: 0.9,
		MaxTokens:   60,
	}

	params := p.buildParams(req)
	if params.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("messages = %d, want 3 (system + 2)", len(params.Messages))
	}
	if params.Messages[0].Content != "you are a chat persona" {
		t.Errorf("system message = %q", params.Messages[0].Content)
	}
	if params.Messages[1].Name != "Viewer1" {
		t.Errorf("speaker name lost: %+v", params.Messages[1])
	}
	if params.Temperature == nil || *params.Temperature != 0.9 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 60 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestBuildParamsZeroDefaults(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "x"}},
	})
	if params.Temperature != nil {
		t.Error("zero temperature should not be sent")
	}
	if params.MaxTokens != nil {
		t.Error("zero max tokens should not be sent")
	}
}

func TestCountTokensDoesNotUndercount(t *testing.T) {
	p := &Provider{model: "m"}
	messages := []llm.Message{
		{Role: "user", Content: "twelve chars"},
		{Role: "assistant", Content: strings.Repeat("a", 400)},
	}
	n, err := p.CountTokens(messages)
	if err != nil {
		t.Fatal(err)
	}
	// ~103 content tokens plus per-message overhead.
	if n < 103 {
		t.Errorf("count = %d, too low", n)
	}
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model  string
		window int
		vision bool
	}{
		{"gpt-4o-mini", 128_000, true},
		{"claude-sonnet-4-5", 200_000, true},
		{"gemini-1.5-pro", 2_097_152, true},
		{"llama3.2", 32_768, false},
		{"some-unknown-model", 128_000, false},
	}
	for _, tt := range tests {
		caps := modelCapabilities(tt.model)
		if caps.ContextWindow != tt.window || caps.SupportsVision != tt.vision {
			t.Errorf("%s: caps = %+v", tt.model, caps)
		}
	}
}
