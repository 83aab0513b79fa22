// Package filter screens outbound replies for disallowed words.
package filter

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"moebot/internal/domain"
)

// Mode decides what a match turns the reply into.
type Mode string

const (
	// ModeRedact masks each match with asterisks and delivers the rest.
	ModeRedact Mode = "redact"
	// ModeBlock withholds the whole reply behind a placeholder.
	ModeBlock Mode = "block"
)

type pattern struct {
	word string
	re   *regexp.Regexp
}

// WordList is a domain.WordFilter over a fixed set of words and patterns.
type WordList struct {
	mode     Mode
	patterns []pattern
}

var _ domain.WordFilter = (*WordList)(nil)

// NewWordList compiles words. Plain words match whole words, case
// insensitively; entries containing regex syntax are compiled as given.
func NewWordList(words []string, mode Mode) (*WordList, error) {
	switch mode {
	case "":
		mode = ModeRedact
	case ModeRedact, ModeBlock:
	default:
		return nil, fmt.Errorf("unknown filter mode %q", mode)
	}

	compiled, err := compilePatterns(words)
	if err != nil {
		return nil, fmt.Errorf("invalid filter word: %w", err)
	}
	return &WordList{mode: mode, patterns: compiled}, nil
}

func (w *WordList) CheckMessage(text string) domain.FilterResult {
	var matched []string
	redacted := text
	for _, p := range w.patterns {
		if !p.re.MatchString(redacted) {
			continue
		}
		matched = append(matched, p.word)
		if w.mode == ModeRedact {
			redacted = p.re.ReplaceAllStringFunc(redacted, mask)
		}
	}
	if len(matched) == 0 {
		return domain.FilterResult{}
	}

	res := domain.FilterResult{IsFiltered: true, MatchedWords: matched}
	if w.mode == ModeRedact {
		res.FilteredContent = redacted
	}
	return res
}

func mask(s string) string {
	return strings.Repeat("*", utf8.RuneCountInString(s))
}

func compilePatterns(words []string) ([]pattern, error) {
	compiled := make([]pattern, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, raw := range words {
		w := strings.TrimSpace(raw)
		if w == "" || seen[strings.ToLower(w)] {
			continue
		}
		seen[strings.ToLower(w)] = true

		var re *regexp.Regexp
		var err error
		if isRegex(w) {
			re, err = regexp.Compile(`(?i)` + w)
		} else {
			re, err = regexp.Compile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
		}
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", w, err)
		}
		compiled = append(compiled, pattern{word: w, re: re})
	}
	return compiled, nil
}

func isRegex(s string) bool {
	for _, c := range s {
		switch c {
		case '(', ')', '[', ']', '{', '}', '|', '^', '$', '.', '*', '+', '?', '\\':
			return true
		}
	}
	return false
}

type wordsFile struct {
	Words []string `yaml:"words"`
}

// LoadWordsFile reads a YAML document of the form `words: [a, b]`.
func LoadWordsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read words file: %w", err)
	}
	var f wordsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse words file %s: %w", path, err)
	}
	return f.Words, nil
}
