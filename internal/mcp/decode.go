package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// decode converts loosely typed tool arguments into an ops input struct by
// round-tripping them through JSON. A nil argument map decodes to the zero value.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var input T
	args := req.GetArguments()
	if len(args) == 0 {
		return input, nil
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return input, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return input, fmt.Errorf("invalid arguments: %w", err)
	}
	return input, nil
}
