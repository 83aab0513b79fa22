package channel

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessage_Short(t *testing.T) {
	chunks := splitMessage("short message", 100)
	if len(chunks) != 1 || chunks[0] != "short message" {
		t.Fatalf("unexpected chunks %q", chunks)
	}
}

func TestSplitMessage_Long(t *testing.T) {
	long := strings.Repeat("word ", 100)
	chunks := splitMessage(long, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if utf8.RuneCountInString(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, utf8.RuneCountInString(c))
		}
	}
	if strings.Join(chunks, "") != long {
		t.Fatal("chunks must reassemble to the original text")
	}
}

func TestSplitMessage_PrefersNewline(t *testing.T) {
	msg := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	chunks := splitMessage(msg, 40)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != strings.Repeat("a", 30)+"\n" {
		t.Fatalf("first chunk should end at the newline, got %q", chunks[0])
	}
}

func TestSplitMessage_IgnoresEarlyNewline(t *testing.T) {
	msg := "a\n" + strings.Repeat("b", 60)
	chunks := splitMessage(msg, 40)
	if utf8.RuneCountInString(chunks[0]) != 40 {
		t.Fatalf("newline in the first half should not shorten the chunk, got %q", chunks[0])
	}
}

func TestSplitMessage_MultibyteSafe(t *testing.T) {
	msg := strings.Repeat("猫", 25)
	chunks := splitMessage(msg, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %q is not valid UTF-8", c)
		}
	}
}
