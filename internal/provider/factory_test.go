package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"moebot/internal/config"
)

func testConfig(providers map[string]config.ProviderConfig) *config.Config {
	cfg := config.Defaults()
	cfg.Providers = providers
	return cfg
}

func TestFactory_GetCachesAndSelectsType(t *testing.T) {
	cfg := testConfig(map[string]config.ProviderConfig{
		"ollama": {Enabled: true},
		"groq":   {Enabled: true, Type: "openai", APIKey: "k", APIBase: "https://example.invalid/v1"},
		"claude": {Enabled: true, APIKey: "k"},
	})
	f := NewFactory(cfg, testLogger())

	p1, err := f.Get("ollama")
	if err != nil {
		t.Fatalf("Get(ollama): %v", err)
	}
	p2, _ := f.Get("")
	if p1 != p2 {
		t.Fatal("default provider should be the cached ollama instance")
	}

	groq, err := f.Get("groq")
	if err != nil {
		t.Fatalf("Get(groq): %v", err)
	}
	if _, ok := groq.(*OpenAI); !ok || groq.Name() != "groq" {
		t.Fatalf("groq should be an OpenAI provider named groq, got %T %q", groq, groq.Name())
	}

	c, err := f.Get("claude")
	if err != nil {
		t.Fatalf("Get(claude): %v", err)
	}
	if _, ok := c.(*Claude); !ok {
		t.Fatalf("expected *Claude, got %T", c)
	}
}

func TestFactory_GetErrors(t *testing.T) {
	cfg := testConfig(map[string]config.ProviderConfig{
		"off":     {Enabled: false},
		"mystery": {Enabled: true, Type: "mystery"},
	})
	f := NewFactory(cfg, testLogger())

	for _, name := range []string{"absent", "off", "mystery"} {
		if _, err := f.Get(name); err == nil {
			t.Errorf("Get(%q) should fail", name)
		}
	}
}

func TestFactory_RateLimitWraps(t *testing.T) {
	cfg := testConfig(map[string]config.ProviderConfig{
		"ollama": {Enabled: true, RateLimitPerMin: 30, RateLimitBurst: 2},
	})
	p, err := NewFactory(cfg, testLogger()).Get("ollama")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*Throttled); !ok {
		t.Fatalf("expected *Throttled, got %T", p)
	}
}

func TestFactory_Build(t *testing.T) {
	cfg := testConfig(map[string]config.ProviderConfig{
		"ollama": {Enabled: true},
		"openai": {Enabled: true, APIKey: "k"},
		"off":    {Enabled: false},
	})

	p, err := NewFactory(cfg, testLogger()).Build()
	if err != nil || p.Name() != "ollama" {
		t.Fatalf("without a chain Build should return the default, got %v %v", p, err)
	}

	cfg.General.FailoverChain = []string{"openai", "off", "ollama"}
	p, err = NewFactory(cfg, testLogger()).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fp, ok := p.(*FailoverProvider)
	if !ok {
		t.Fatalf("expected *FailoverProvider, got %T", p)
	}
	if len(fp.providers) != 2 || !strings.Contains(fp.Name(), "openai") {
		t.Fatalf("disabled members should be skipped, got %s", fp.Name())
	}

	cfg.General.FailoverChain = []string{"off"}
	if _, err := NewFactory(cfg, testLogger()).Build(); err == nil {
		t.Fatal("expected error when no chain member is usable")
	}
}

func TestFactory_CheckAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":[]}`)
	}))
	defer srv.Close()

	cfg := testConfig(map[string]config.ProviderConfig{
		"ollama": {Enabled: true, APIBase: srv.URL},
		"claude": {Enabled: true},
	})
	f := NewFactory(cfg, testLogger())

	statuses := f.CheckAll(context.Background())
	if len(statuses) != 2 || statuses[0].Name != "claude" || statuses[1].Name != "ollama" {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
	if statuses[0].Err == nil {
		t.Error("claude without a key should be unhealthy")
	}
	if statuses[1].Err != nil {
		t.Errorf("ollama should be healthy: %v", statuses[1].Err)
	}
}

func TestFactory_Settings(t *testing.T) {
	cfg := testConfig(map[string]config.ProviderConfig{
		"ollama": {Enabled: true, DefaultModel: "qwen", MaxTokens: 300, Temperature: 0.5},
	})
	model, maxTokens, temp := NewFactory(cfg, testLogger()).Settings("")
	if model != "qwen" || maxTokens != 300 || temp != 0.5 {
		t.Fatalf("Settings = %q %d %v", model, maxTokens, temp)
	}
}
