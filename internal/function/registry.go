package function

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"moebot/internal/domain"
	"moebot/internal/metrics"
)

// Context is the capability scope handed to a handler. It carries identifiers
// of the originating message, never a platform client.
type Context struct {
	Platform   string
	ChannelID  string
	GuildID    string
	MessageID  string
	AuthorID   string
	AuthorName string
	Bot        domain.BotIdentity
}

// Handler executes one catalog entry. Arguments have already been validated
// against the entry's parameters.
type Handler interface {
	Execute(ctx context.Context, fctx Context, args map[string]any) (domain.FunctionResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, fctx Context, args map[string]any) (domain.FunctionResult, error)

func (f HandlerFunc) Execute(ctx context.Context, fctx Context, args map[string]any) (domain.FunctionResult, error) {
	return f(ctx, fctx, args)
}

type entry struct {
	def     domain.FunctionDefinition
	handler Handler
}

// Registry is the closed function catalog. Register every entry before the
// registry is shared; lookups take no locks.
type Registry struct {
	entries []entry
	index   map[string]int
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		index:  make(map[string]int),
		logger: logger,
	}
}

func (r *Registry) Register(def domain.FunctionDefinition, h Handler) error {
	if !namePattern.MatchString(def.Name) {
		return fmt.Errorf("register function: invalid name %q", def.Name)
	}
	if h == nil {
		return fmt.Errorf("register function %s: nil handler", def.Name)
	}
	if _, ok := r.index[def.Name]; ok {
		return fmt.Errorf("register function %s: %w", def.Name, domain.ErrDuplicateFunction)
	}
	seen := make(map[string]bool, len(def.Parameters))
	for _, p := range def.Parameters {
		if seen[p.Name] {
			return fmt.Errorf("register function %s: duplicate parameter %s", def.Name, p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case domain.TypeString, domain.TypeNumber, domain.TypeInteger, domain.TypeBoolean:
		default:
			return fmt.Errorf("register function %s: parameter %s has unsupported type %q", def.Name, p.Name, p.Type)
		}
	}

	r.index[def.Name] = len(r.entries)
	r.entries = append(r.entries, entry{def: def, handler: h})
	r.logger.Debug("registered function", "name", def.Name)
	return nil
}

// Entry is a catalog entry that describes itself.
type Entry interface {
	Handler
	Definition() domain.FunctionDefinition
}

// RegisterAll registers self-describing entries in order.
func (r *Registry) RegisterAll(entries ...Entry) error {
	for _, e := range entries {
		if err := r.Register(e.Definition(), e); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the catalog's names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.def.Name
	}
	return names
}

// GeneratePromptSection renders the catalog and the call syntax as
// instructions for the model. Empty catalog, empty section.
func (r *Registry) GeneratePromptSection() string {
	if len(r.entries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n\n## Functions\n")
	fmt.Fprintf(&sb, "You can take actions by placing function calls in your reply (function call syntax v%d):\n", GrammarVersion)
	sb.WriteString(`<function_call name="FUNCTION_NAME">{"parameter": "value"}</function_call>` + "\n")
	sb.WriteString("Arguments are a flat JSON object of strings, numbers and booleans. ")
	sb.WriteString("Use {} for a function without arguments. ")
	sb.WriteString("Function calls are hidden from the chat; everything else you write is shown. ")
	sb.WriteString("Results come back as system messages starting with [FUNCTION:.\n")
	sb.WriteString("\nAvailable functions:\n")

	for _, e := range r.entries {
		fmt.Fprintf(&sb, "- %s: %s\n", e.def.Name, e.def.Description)
		for _, p := range e.def.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&sb, "    - %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}

	first := r.entries[0].def
	fmt.Fprintf(&sb, "\nExample:\n%s\n", FormatCall(first.Name, exampleArgs(first)))
	return sb.String()
}

// ParseFunctionCalls returns the well-formed calls in raw, in order.
func (r *Registry) ParseFunctionCalls(raw string) []domain.FunctionCall {
	return Parse(raw).Calls
}

// Parse returns well-formed and malformed call blocks separately.
func (r *Registry) Parse(raw string) ParseResult {
	return Parse(raw)
}

// RemoveFunctionCalls strips every call block from raw.
func (r *Registry) RemoveFunctionCalls(raw string) string {
	return Strip(raw)
}

// ExecuteFunction validates args and runs the named handler. It never
// returns an error: every failure becomes an unsuccessful result.
func (r *Registry) ExecuteFunction(ctx context.Context, name string, fctx Context, args map[string]any) (result domain.FunctionResult) {
	metrics.FunctionExecutions.Inc()
	defer func() {
		if !result.Success {
			metrics.FunctionFailures.Inc()
		}
	}()

	i, ok := r.index[name]
	if !ok {
		err := &domain.UnknownFunctionError{Name: name}
		r.logger.Warn("function call rejected", "function", name, "err", err)
		return domain.FunctionResult{Success: false, Message: err.Error()}
	}
	e := r.entries[i]

	if err := validateArgs(e.def, args); err != nil {
		r.logger.Warn("function call rejected", "function", name, "err", err)
		return domain.FunctionResult{Success: false, Message: err.Error()}
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := r.invoke(ctx, e, fctx, args)
	if err != nil {
		herr := &domain.HandlerError{Function: name, Err: err}
		r.logger.Error("function failed", "function", name, "err", herr)
		return domain.FunctionResult{Success: false, Message: err.Error()}
	}

	r.logger.Info("function executed", "function", name, "success", res.Success, "channel", fctx.ChannelID)
	return res
}

func (r *Registry) invoke(ctx context.Context, e entry, fctx Context, args map[string]any) (res domain.FunctionResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return e.handler.Execute(ctx, fctx, args)
}

func validateArgs(def domain.FunctionDefinition, args map[string]any) error {
	for _, p := range def.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return &domain.ValidationError{Function: def.Name, Param: p.Name, Reason: "missing required parameter " + p.Name}
			}
			continue
		}
		if !matchesType(p.Type, v) {
			return &domain.ValidationError{
				Function: def.Name,
				Param:    p.Name,
				Reason:   fmt.Sprintf("parameter %s must be a %s, got %s", p.Name, p.Type, describeType(v)),
			}
		}
	}
	return nil
}

func matchesType(t domain.ParamType, v any) bool {
	switch t {
	case domain.TypeString:
		_, ok := v.(string)
		return ok
	case domain.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case domain.TypeNumber:
		_, ok := toFloat(v)
		return ok
	case domain.TypeInteger:
		if n, ok := v.(json.Number); ok {
			_, err := n.Int64()
			return err == nil
		}
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func describeType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, float32, int, int64, int32:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func exampleArgs(def domain.FunctionDefinition) map[string]any {
	args := make(map[string]any)
	for _, p := range def.Parameters {
		if !p.Required {
			continue
		}
		switch p.Type {
		case domain.TypeString:
			args[p.Name] = "..."
		case domain.TypeBoolean:
			args[p.Name] = true
		default:
			args[p.Name] = 1
		}
	}
	return args
}

// ArgString returns a string argument, or "" when absent.
func ArgString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// ArgInt returns an integer argument, or def when absent or not integral.
func ArgInt(args map[string]any, key string, def int64) int64 {
	switch n := args[key].(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
	}
	return def
}

