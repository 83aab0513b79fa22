package ai

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"moebot/internal/domain"
	"moebot/internal/function"
	"moebot/internal/prompt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubProvider struct {
	content string
	err     error
	last    domain.ChatRequest
}

func (p *stubProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ChatResponse{Content: p.content, Usage: &domain.Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
}

func (p *stubProvider) Name() string                      { return "stub" }
func (p *stubProvider) Healthy(ctx context.Context) error { return nil }

func newTestService(t *testing.T, p domain.Provider) (*Service, *function.Registry) {
	t.Helper()
	reg := function.NewRegistry(testLogger())
	err := reg.Register(domain.FunctionDefinition{
		Name:       "echo",
		Parameters: []domain.Parameter{{Name: "text", Type: domain.TypeString, Required: true}},
	}, function.HandlerFunc(func(ctx context.Context, fctx function.Context, args map[string]any) (domain.FunctionResult, error) {
		return domain.FunctionResult{Success: true, Message: fctx.AuthorName + " said " + function.ArgString(args, "text")}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	b := prompt.NewBuilder(prompt.Persona{Name: "Moe", Template: "You are {{bot_name}}."}, reg)
	return NewService(ServiceConfig{Provider: p, Prompt: b, Functions: reg, Logger: testLogger()}), reg
}

func TestGenerateResponse_ExtractsCalls(t *testing.T) {
	p := &stubProvider{content: `on it <function_call name="echo">{"text": "hi"}</function_call> <function_call name="echo">{bad}</function_call>`}
	svc, _ := newTestService(t, p)

	history := []domain.Message{{Author: "alice", AuthorID: "1", Content: "say hi"}}
	resp, err := svc.GenerateResponse(context.Background(), history)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != "on it" {
		t.Fatalf("content not stripped: %q", resp.Content)
	}
	if resp.RawContent != p.content {
		t.Fatal("raw content must be kept verbatim")
	}
	if len(resp.FunctionCalls) != 1 || resp.FunctionCalls[0].Name != "echo" {
		t.Fatalf("unexpected calls %+v", resp.FunctionCalls)
	}
	if len(resp.Malformed) != 1 || !resp.HasFunctionCalls() {
		t.Fatalf("expected one malformed block, got %+v", resp.Malformed)
	}

	if !strings.HasPrefix(p.last.SystemPrompt, "You are Moe.") || !strings.Contains(p.last.SystemPrompt, "echo") {
		t.Fatalf("system prompt not assembled: %q", p.last.SystemPrompt)
	}
	want := []domain.ChatMessage{{Role: domain.RoleUser, Content: "[alice|1]: say hi", Name: "alice"}}
	if diff := cmp.Diff(want, p.last.Messages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateResponse_PlainText(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{content: "just chatting"})
	resp, err := svc.GenerateResponse(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "just chatting" || resp.HasFunctionCalls() {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestGenerateResponse_ProviderError(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{err: errors.New("connection refused")})
	_, err := svc.GenerateResponse(context.Background(), nil)

	var perr *domain.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Provider != "stub" || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestExecuteFunctionCalls_Lines(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{})
	calls := []domain.FunctionCall{
		{Name: "echo", Args: map[string]any{"text": "one"}},
		{Name: "nope"},
		{Name: "echo", Args: map[string]any{}},
	}
	origin := domain.Inbound{Platform: "discord", Message: domain.Message{ChannelID: "c", Author: "alice", AuthorID: "1"}}

	got := svc.ExecuteFunctionCalls(context.Background(), calls, origin)
	want := []string{
		"[FUNCTION: echo - alice said one]",
		"[FUNCTION: nope failed - unknown function: nope]",
		"[FUNCTION: echo failed - missing required parameter text]",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestReportMalformed(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{})
	got := svc.ReportMalformed([]domain.MalformedCall{
		{Name: "echo", Reason: "missing </function_call>"},
		{Reason: "missing name attribute"},
	})
	want := []string{
		"[FUNCTION: echo failed - malformed call: missing </function_call>]",
		"[FUNCTION: unknown failed - malformed call: missing name attribute]",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
}
