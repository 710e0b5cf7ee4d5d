package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// validator is implemented by requests that check their own required fields.
type validator interface {
	validate() error
}

// decode unmarshals MCP request arguments into a typed struct and runs its
// validation when it has one.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("unmarshal args: %w", err)
	}
	if v, ok := any(&result).(validator); ok {
		if err := v.validate(); err != nil {
			return result, err
		}
	}
	return result, nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}
