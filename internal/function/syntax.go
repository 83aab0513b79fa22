package function

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"moebot/internal/domain"
)

// GrammarVersion identifies the embedded call syntax the prompt teaches and
// the parser accepts:
//
//	<function_call name="NAME">{"arg": "value"}</function_call>
//	<function_call name="NAME"/>
const GrammarVersion = 1

const (
	openTag  = "<function_call"
	closeTag = "</function_call>"
)

var (
	namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	attrPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_-]*)\s*=\s*("[^"]*"|'[^']*')`)
)

// ParseResult separates usable calls from blocks that look intentional but
// could not be parsed. Both are in order of appearance.
type ParseResult struct {
	Calls     []domain.FunctionCall
	Malformed []domain.MalformedCall
}

// Empty reports whether the text contained no call block at all.
func (r ParseResult) Empty() bool {
	return len(r.Calls) == 0 && len(r.Malformed) == 0
}

type callSpan struct {
	start, end int
	call       *domain.FunctionCall
	bad        *domain.MalformedCall
}

// Parse scans text for call blocks.
func Parse(text string) ParseResult {
	var res ParseResult
	for _, s := range scanCalls(text) {
		if s.call != nil {
			res.Calls = append(res.Calls, *s.call)
		} else {
			res.Malformed = append(res.Malformed, *s.bad)
		}
	}
	return res
}

// Strip removes every recognized block, well-formed or not. Text without a
// block is returned untouched; elsewhere only the whitespace where a block
// was cut out is tidied.
func Strip(text string) string {
	spans := scanCalls(text)
	if len(spans) == 0 {
		return text
	}

	out := text[:spans[0].start]
	for i, s := range spans {
		next := len(text)
		if i+1 < len(spans) {
			next = spans[i+1].start
		}
		out = splice(out, text[s.end:next])
	}
	return strings.TrimSpace(out)
}

// splice joins the text on either side of a removed block. The whitespace
// meeting at the cut becomes a paragraph break, a newline or one space.
func splice(left, right string) string {
	r := strings.TrimLeft(right, " \t\r\n")
	if r == "" {
		// Another block or the end follows; keep the whitespace for that cut.
		return left + right
	}
	l := strings.TrimRight(left, " \t\r\n")
	cut := left[len(l):] + right[:len(right)-len(r)]

	sep := ""
	switch n := strings.Count(cut, "\n"); {
	case l == "":
	case n >= 2:
		sep = "\n\n"
	case n == 1:
		sep = "\n"
	case cut != "":
		sep = " "
	}
	return l + sep + r
}

// FormatCall renders a call in the v1 syntax.
func FormatCall(name string, args map[string]any) string {
	if len(args) == 0 {
		return fmt.Sprintf(`<function_call name="%s">{}</function_call>`, name)
	}
	body, err := json.Marshal(args)
	if err != nil {
		body = []byte("{}")
	}
	return fmt.Sprintf(`<function_call name="%s">%s</function_call>`, name, body)
}

func scanCalls(text string) []callSpan {
	var spans []callSpan
	i := 0
	for i < len(text) {
		rel := strings.Index(text[i:], openTag)
		if rel < 0 {
			break
		}
		start := i + rel
		after := start + len(openTag)

		// "<function_calls>" and friends are not ours.
		if after < len(text) && !isTagBoundary(text[after]) {
			i = after
			continue
		}

		s := scanOne(text, start, after)
		spans = append(spans, s)
		i = s.end
	}
	return spans
}

func scanOne(text string, start, after int) callSpan {
	gt := strings.IndexByte(text[after:], '>')
	nextOpen := strings.Index(text[after:], openTag)
	if gt < 0 || (nextOpen >= 0 && nextOpen < gt) {
		end := len(text)
		if nextOpen >= 0 {
			end = after + nextOpen
		}
		return malformedSpan(text, start, end, "", "unterminated <function_call> tag")
	}
	headerEnd := after + gt
	header := text[after:headerEnd]
	selfClosing := strings.HasSuffix(strings.TrimSpace(header), "/")
	if selfClosing {
		header = strings.TrimSuffix(strings.TrimSpace(header), "/")
	}

	name, nameErr := headerName(header)
	bodyStart := headerEnd + 1

	if selfClosing {
		if nameErr != nil {
			return malformedSpan(text, start, bodyStart, name, nameErr.Error())
		}
		return callSpan{start: start, end: bodyStart, call: &domain.FunctionCall{Name: name, Args: map[string]any{}}}
	}

	// A JSON object body is measured string-aware, so a closing tag quoted
	// inside an argument does not end the block.
	searchFrom := bodyStart
	obj := leadingObjectEnd(text, bodyStart)
	if obj > 0 {
		k := obj
		for k < len(text) && isSpace(text[k]) {
			k++
		}
		if strings.HasPrefix(text[k:], closeTag) {
			return finishSpan(text, start, k+len(closeTag), name, nameErr, text[bodyStart:obj])
		}
		searchFrom = obj
	}

	closeRel := strings.Index(text[searchFrom:], closeTag)
	openRel := strings.Index(text[searchFrom:], openTag)
	if closeRel < 0 || (openRel >= 0 && openRel < closeRel) {
		end := bodyStart
		// Swallow a JSON object that directly follows the header so it
		// does not leak into display text.
		if obj > 0 {
			end = obj
		}
		return malformedSpan(text, start, end, name, "missing </function_call>")
	}
	bodyEnd := searchFrom + closeRel
	return finishSpan(text, start, bodyEnd+len(closeTag), name, nameErr, text[bodyStart:bodyEnd])
}

func finishSpan(text string, start, end int, name string, nameErr error, body string) callSpan {
	if nameErr != nil {
		return malformedSpan(text, start, end, name, nameErr.Error())
	}
	args, err := decodeArgs(body)
	if err != nil {
		return malformedSpan(text, start, end, name, err.Error())
	}
	return callSpan{start: start, end: end, call: &domain.FunctionCall{Name: name, Args: args}}
}

func malformedSpan(text string, start, end int, name, reason string) callSpan {
	return callSpan{
		start: start,
		end:   end,
		bad:   &domain.MalformedCall{Name: name, Raw: text[start:end], Reason: reason},
	}
}

func headerName(header string) (string, error) {
	var name string
	found := false
	for _, m := range attrPattern.FindAllStringSubmatch(header, -1) {
		if m[1] != "name" {
			continue
		}
		name = strings.TrimSpace(m[2][1 : len(m[2])-1])
		found = true
		break
	}
	if !found {
		return "", errors.New("missing name attribute")
	}
	if !namePattern.MatchString(name) {
		return name, fmt.Errorf("invalid function name %q", name)
	}
	return name, nil
}

// decodeArgs parses a call body into a flat argument map. Numbers stay as
// json.Number so large ids survive intact.
func decodeArgs(body string) (map[string]any, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return map[string]any{}, nil
	}
	if body[0] != '{' {
		return nil, errors.New("arguments must be a JSON object")
	}

	args, err := decodeObject(body)
	if err != nil {
		// Models often emit escapes JSON does not allow; retry once cleaned.
		args, err = decodeObject(sanitizeJSONEscapes(body))
		if err != nil {
			return nil, fmt.Errorf("invalid JSON arguments: %v", err)
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	for k, v := range args {
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("argument %s must be a flat value", k)
		}
	}
	return args, nil
}

func decodeObject(body string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after arguments")
	}
	return args, nil
}

// leadingObjectEnd returns the end offset of a JSON object that starts at
// from (after optional whitespace), or -1.
func leadingObjectEnd(s string, from int) int {
	i := from
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	if i >= len(s) || s[i] != '{' {
		return -1
	}
	depth := 0
	inStr := false
	for j := i; j < len(s); j++ {
		ch := s[j]
		if inStr {
			if ch == '\\' {
				j++
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return -1
}

// sanitizeJSONEscapes drops the backslash from escape sequences JSON does
// not define (e.g. \% or \Y).
func sanitizeJSONEscapes(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '"' {
			inString = !inString
			buf.WriteByte(ch)
			continue
		}
		if inString && ch == '\\' && i+1 < len(s) {
			next := s[i+1]
			switch next {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				buf.WriteByte(ch)
				buf.WriteByte(next)
				i++
			default:
				// drop the backslash
			}
			continue
		}
		buf.WriteByte(ch)
	}
	return buf.String()
}

func isTagBoundary(b byte) bool {
	return isSpace(b) || b == '>' || b == '/'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}
