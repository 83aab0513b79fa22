package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MaxConcurrentMessages(t *testing.T) {
	for _, n := range []int{0, 101} {
		cfg := Defaults()
		cfg.General.MaxConcurrentMessages = n
		if err := Validate(cfg); err == nil {
			t.Fatalf("expected error for maxConcurrentMessages=%d", n)
		}
	}
	for _, n := range []int{1, 100} {
		cfg := Defaults()
		cfg.General.MaxConcurrentMessages = n
		if err := Validate(cfg); err != nil {
			t.Fatalf("maxConcurrentMessages=%d should be valid: %v", n, err)
		}
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
	cfg.General.LogLevel = "DEBUG"
	if err := Validate(cfg); err != nil {
		t.Fatalf("log level should be case-insensitive: %v", err)
	}
}

func TestValidate_FilterMode(t *testing.T) {
	cfg := Defaults()
	cfg.Filter.Mode = "shout"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid filter mode")
	}
	for _, mode := range []string{"", "redact", "block"} {
		cfg.Filter.Mode = mode
		if err := Validate(cfg); err != nil {
			t.Fatalf("filter mode %q should be valid: %v", mode, err)
		}
	}
}

func TestValidate_InvalidMemoryConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.MaxMessages = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxMessages=0")
	}

	cfg = Defaults()
	cfg.Memory.RetentionDays = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for retentionDays=-1")
	}
}

func TestValidate_ProviderReferences(t *testing.T) {
	cfg := Defaults()
	cfg.General.DefaultProvider = "missing"
	cfg.General.FailoverChain = []string{"ollama", "ghost"}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown providers")
	}
	for _, want := range []string{"defaultProvider references unknown provider: missing", "failoverChain references unknown provider: ghost"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestValidate_ProviderCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["claude"] = ProviderConfig{Enabled: true}
	cfg.Providers["groq"] = ProviderConfig{Enabled: true, APIKey: "k"}
	cfg.Providers["off"] = ProviderConfig{Enabled: false}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "providers.claude: apiKey is required") {
		t.Errorf("missing claude error in %q", msg)
	}
	if !strings.Contains(msg, "providers.groq") {
		t.Errorf("missing groq error in %q", msg)
	}
	if strings.Contains(msg, "providers.off") {
		t.Errorf("disabled provider should not be validated: %q", msg)
	}

	cfg.Providers["groq"] = ProviderConfig{Enabled: true, Type: "openai", APIKey: "k", APIBase: "https://api.groq.com/openai/v1"}
	cfg.Providers["claude"] = ProviderConfig{Enabled: true, APIKey: "k"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_ChannelTokens(t *testing.T) {
	cfg := Defaults()
	cfg.Discord.Enabled = true
	cfg.Telegram.Enabled = true
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for enabled channels without tokens")
	}
	if !strings.Contains(err.Error(), "discord.token") || !strings.Contains(err.Error(), "telegram.token") {
		t.Fatalf("both problems should be reported, got %v", err)
	}
}

func TestValidate_Metrics(t *testing.T) {
	cfg := Defaults()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Endpoint = "metrics"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for endpoint without leading slash")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Bot.Name = "Moe"
	original.Bot.Priming = true

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Bot.Name != "Moe" || !loaded.Bot.Priming {
		t.Fatalf("bot section not preserved: %+v", loaded.Bot)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"memory": {
			"maxMessages": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for maxMessages=0")
	}
}

func TestLoad_InlinePersonaFields(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"bot": {
			"name": "Moe",
			"persona": "a sleepy cat",
			"personaFile": "/etc/moebot/persona.yaml",
			"exchanges": [{"userName": "alice", "userMessage": "hi", "assistantResponse": "nya"}]
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bot.Name != "Moe" || cfg.Bot.Description != "a sleepy cat" {
		t.Fatalf("unexpected bot config: %+v", cfg.Bot)
	}
	if cfg.Bot.PersonaFile != "/etc/moebot/persona.yaml" {
		t.Fatalf("personaFile = %q", cfg.Bot.PersonaFile)
	}
	if len(cfg.Bot.Exchanges) != 1 || cfg.Bot.Exchanges[0].AssistantResponse != "nya" {
		t.Fatalf("exchanges = %+v", cfg.Bot.Exchanges)
	}
	if cfg.Bot.Template == "" {
		t.Fatal("default template should survive a partial bot section")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_MOEBOT_DISCORD_TOKEN", "discord-token-value")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"general": {
			"logLevel": "${TEST_MOEBOT_LOG_LEVEL:-debug}"
		},
		"discord": {
			"enabled": true,
			"token": "${TEST_MOEBOT_DISCORD_TOKEN}"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Discord.Token != "discord-token-value" {
		t.Fatalf("expected substituted token, got %q", cfg.Discord.Token)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("expected default log level 'debug', got %q", cfg.General.LogLevel)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "general.defaultProvider")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "ollama" {
		t.Fatalf("expected 'ollama', got %v", val)
	}

	val, err = GetByPath(cfg, "bot.name")
	if err != nil {
		t.Fatalf("get bot.name: %v", err)
	}
	if val != "moebot" {
		t.Fatalf("expected 'moebot', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "general.defaultProvider", "claude"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.General.DefaultProvider != "claude" {
		t.Fatalf("expected 'claude', got %q", cfg.General.DefaultProvider)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "filter.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.Filter.Enabled {
		t.Fatal("expected filter.enabled=true")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "memory.maxMessages", "80"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Memory.MaxMessages != 80 {
		t.Fatalf("expected 80, got %d", cfg.Memory.MaxMessages)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Discord.Token = "MTIzNDU2Nzg5MDEyMzQ1Njc4.abcdef.ghijklmnop"
	cfg.Providers["openai"] = ProviderConfig{
		Enabled: true,
		APIKey:  "sk-1234567890abcdefghijklmnop",
	}

	sanitized := Sanitize(cfg)

	if sanitized.Telegram.Token == cfg.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.Discord.Token != "MTIz****mnop" {
		t.Fatalf("discord token masked as %q", sanitized.Discord.Token)
	}
	if sanitized.Providers["openai"].APIKey == cfg.Providers["openai"].APIKey {
		t.Fatal("API key should be masked")
	}
	if cfg.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Telegram.Token)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	for _, expected := range []string{"general.logLevel", "memory.maxMessages", "bot.template", "metrics.endpoint"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	input := `["hello", 123, "world", 456.0]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[2] != "world" {
		t.Fatal("string items mismatch")
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	err := json.Unmarshal([]byte(`not json`), &list)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	t.Setenv("MY_PORT", "9090")
	t.Setenv("EMPTY_VAR", "")
	os.Unsetenv("NONEXISTENT_VAR_12345")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", `{"apiKey": "${TEST_API_KEY}"}`, `{"apiKey": "sk-abc123"}`},
		{"default used", `"${NONEXISTENT_VAR_12345:-8080}"`, `"8080"`},
		{"set var wins over default", `"${MY_PORT:-8080}"`, `"9090"`},
		{"multiple", `"${TEST_API_KEY}:${MY_PORT}"`, `"sk-abc123:9090"`},
		{"unset without default kept", `"${NONEXISTENT_VAR_12345}"`, `"${NONEXISTENT_VAR_12345}"`},
		{"empty var uses default", `"${EMPTY_VAR:-fallback}"`, `"fallback"`},
		{"no vars", `{"key": "value", "number": 42}`, `{"key": "value", "number": 42}`},
		{"bare dollar", `"$HOME is not substituted"`, `"$HOME is not substituted"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnvVars(tt.input); got != tt.want {
				t.Fatalf("ExpandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.General.DefaultProvider != "ollama" {
		t.Fatalf("default provider should be 'ollama', got %q", cfg.General.DefaultProvider)
	}
	if cfg.Memory.MaxMessages != 50 {
		t.Fatalf("default maxMessages should be 50, got %d", cfg.Memory.MaxMessages)
	}
	for _, ph := range []string{"{{bot_name}}", "{{persona_description}}", "{{messaging_rules}}", "{{dialogue_examples}}", "{{context_information}}"} {
		if !strings.Contains(cfg.Bot.Template, ph) {
			t.Errorf("default template lacks %s", ph)
		}
	}
}
