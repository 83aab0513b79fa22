package provider

import (
	"context"
	"testing"
	"time"

	"moebot/internal/domain"
)

func TestRateLimiter_ImmediateBurst(t *testing.T) {
	rl := NewRateLimiter(5, 60.0)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("burst token %d failed: %v", i, err)
		}
	}
}

func TestRateLimiter_WaitsAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 600.0) // 10/sec refill

	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected some wait time, got %v", elapsed)
	}
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	rl := NewRateLimiter(1, 1.0) // one per minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected context error while waiting for a token")
	}
}

func TestThrottled_DelegatesAndLimits(t *testing.T) {
	inner := &mockProvider{name: "inner", healthy: true, chatResp: &domain.ChatResponse{Content: "ok"}}
	p := NewThrottled(inner, NewRateLimiter(1, 1.0))

	if p.Name() != "inner" {
		t.Fatalf("Name() = %q, want inner", p.Name())
	}
	resp, err := p.Chat(context.Background(), domain.ChatRequest{})
	if err != nil || resp.Content != "ok" {
		t.Fatalf("first chat = %v, %v", resp, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Chat(ctx, domain.ChatRequest{}); err == nil {
		t.Fatal("second chat should be throttled until the context expires")
	}
	if inner.calls != 1 {
		t.Fatalf("inner called %d times, want 1", inner.calls)
	}
}
