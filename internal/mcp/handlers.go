package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	deps ops.Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps ops.Deps) *Handlers {
	return &Handlers{deps: deps}
}

// HandleNextTokens handles the sampler_next_tokens tool call.
func (h *Handlers) HandleNextTokens(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.NextTokensInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.NextTokens(ctx, h.deps.Engine, h.deps.Config, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExplore handles the sampler_explore tool call.
func (h *Handlers) HandleExplore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.ExploreInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Explore(ctx, h.deps.Engine, h.deps.Explorer, h.deps.Config, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleModelList handles the model_list tool call.
func (h *Handlers) HandleModelList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.ListModels(h.deps.DB, h.deps.Config, h.deps.Engine.Model())
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleModelLookup handles the model_lookup tool call.
func (h *Handlers) HandleModelLookup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.LookupModelsInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.LookupModels(ctx, h.deps.Hub, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleModelSwitch handles the model_switch tool call.
func (h *Handlers) HandleModelSwitch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.SwitchModelInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.SwitchModel(ctx, h.deps.Engine, h.deps.Config, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleModelRename handles the model_rename tool call.
func (h *Handlers) HandleModelRename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.RenameModelInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.RenameModel(h.deps.DB, h.deps.Config, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleModelCard handles the model_card tool call.
func (h *Handlers) HandleModelCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.ModelCardInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ModelCard(ctx, h.deps.Hub, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDownloadStart handles the download_start tool call.
func (h *Handlers) HandleDownloadStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.StartDownloadInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.StartDownload(h.deps.Downloads, h.deps.Config, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDownloadStatus handles the download_status tool call.
func (h *Handlers) HandleDownloadStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.DownloadStatusInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DownloadStatus(h.deps.Downloads, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDownloadList handles the download_list tool call.
func (h *Handlers) HandleDownloadList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.ListDownloadsInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return successResult(ops.ListDownloads(h.deps.Downloads, input))
}

// HandleDownloadCancel handles the download_cancel tool call.
func (h *Handlers) HandleDownloadCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.CancelDownloadInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.CancelDownload(h.deps.Downloads, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDownloadCleanup handles the download_cleanup tool call.
func (h *Handlers) HandleDownloadCleanup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.CleanupDownloadsInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.CleanupDownloads(h.deps.Downloads, h.deps.Config, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// errorResult renders err as an MCP error result. Wrapped SiftErrors keep
// their code and the wrapper's message; anything else is reported as INTERNAL.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var siftErr *errors.SiftError
	if stderrors.As(err, &siftErr) {
		errorObj := map[string]any{
			"code":    siftErr.Code,
			"message": err.Error(),
			"status":  siftErr.Status,
		}
		// INTERNAL details may carry paths or SQL
		if siftErr.Code != errors.ErrInternal && siftErr.Details != nil {
			errorObj["details"] = siftErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
