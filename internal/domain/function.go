package domain

// ParamType is the declared type of a function parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Parameter describes one named argument of a catalog entry.
type Parameter struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Required    bool      `json:"required" yaml:"required"`
	Description string    `json:"description" yaml:"description"`
}

// FunctionDefinition is the declarative half of a catalog entry.
type FunctionDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// FunctionCall is a call parsed out of model output.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// MalformedCall is a call block that was recognized but could not be parsed.
// Name is empty when the block did not carry a usable name.
type MalformedCall struct {
	Name   string
	Raw    string
	Reason string
}

// FunctionResult is what a catalog entry reports back.
type FunctionResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
