package assistant

import "encoding/json"

// Tool is a function-tool declaration attached to a run.
type Tool struct {
	Type     string       `json:"type"`
	Function *FunctionDef `json:"function,omitempty"`
}

// FunctionDef declares a callable function and its JSON-schema parameters.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// NewFunctionTool builds a function-tool declaration.
func NewFunctionTool(name, description string, parameters json.RawMessage) Tool {
	return Tool{
		Type: "function",
		Function: &FunctionDef{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}
