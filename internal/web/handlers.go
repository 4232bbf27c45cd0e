package web

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/ops"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Handlers contains HTTP route handlers for the API and explorer page.
type Handlers struct {
	deps     ops.Deps
	renderer *Renderer
	started  time.Time
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	model := ""
	if active := h.deps.Engine.Model(); active != "" {
		model = filepath.Base(active)
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"model":   model,
		"version": h.renderer.version,
		"uptime":  int64(time.Since(h.started).Seconds()),
	})
}

// HandleIndex handles GET /, the explorer page.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	listed, err := ops.ListModels(h.deps.DB, h.deps.Config, h.deps.Engine.Model())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	cfg := h.deps.Config
	h.renderer.renderPage(w, "index", IndexPageData{
		PageData: PageData{
			Title:   "Explore",
			Version: h.renderer.version,
			Nav:     "explore",
		},
		Models:   listed.Models,
		Active:   listed.Active,
		CanSwap:  h.deps.Engine.CanSwap(),
		Sampling: cfg.Sampling,
		MaxPaths: cfg.Explore.MaxPaths,
		MaxDepth: cfg.Explore.MaxDepth,
	})
}

// HandleNextTokens handles POST /next-tokens.
func (h *Handlers) HandleNextTokens(w http.ResponseWriter, r *http.Request) {
	var input ops.NextTokensInput
	if err := decodeBody(w, r, &input, false); err != nil {
		renderJSONError(w, err)
		return
	}

	result, err := ops.NextTokens(r.Context(), h.deps.Engine, h.deps.Config, input)
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleExplore handles POST /explore.
func (h *Handlers) HandleExplore(w http.ResponseWriter, r *http.Request) {
	var input ops.ExploreInput
	if err := decodeBody(w, r, &input, false); err != nil {
		renderJSONError(w, err)
		return
	}

	result, err := ops.Explore(r.Context(), h.deps.Engine, h.deps.Explorer, h.deps.Config, input)
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleModels handles GET /models.
func (h *Handlers) HandleModels(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListModels(h.deps.DB, h.deps.Config, h.deps.Engine.Model())
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleLookup handles GET /models/lookup?repo_id=.
func (h *Handlers) HandleLookup(w http.ResponseWriter, r *http.Request) {
	result, err := ops.LookupModels(r.Context(), h.deps.Hub, ops.LookupModelsInput{
		RepoID: r.URL.Query().Get("repo_id"),
	})
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleCard handles GET /models/card?repo_id=. Browsers get the rendered
// card; clients sending Accept: application/json get the raw markdown.
func (h *Handlers) HandleCard(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ModelCard(r.Context(), h.deps.Hub, ops.ModelCardInput{
		RepoID: r.URL.Query().Get("repo_id"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, "card", CardPageData{
		PageData: PageData{
			Title:   result.RepoID,
			Version: h.renderer.version,
			Nav:     "models",
		},
		RepoID:       result.RepoID,
		RenderedHTML: renderMarkdown(result.Markdown),
	})
}

// HandleSwitch handles POST /models/switch.
func (h *Handlers) HandleSwitch(w http.ResponseWriter, r *http.Request) {
	var input ops.SwitchModelInput
	if err := decodeBody(w, r, &input, false); err != nil {
		renderJSONError(w, err)
		return
	}

	result, err := ops.SwitchModel(r.Context(), h.deps.Engine, h.deps.Config, input)
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleRename handles POST /models/rename.
func (h *Handlers) HandleRename(w http.ResponseWriter, r *http.Request) {
	var input ops.RenameModelInput
	if err := decodeBody(w, r, &input, false); err != nil {
		renderJSONError(w, err)
		return
	}

	result, err := ops.RenameModel(h.deps.DB, h.deps.Config, input)
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleDownloadStart handles POST /models/download.
func (h *Handlers) HandleDownloadStart(w http.ResponseWriter, r *http.Request) {
	var input ops.StartDownloadInput
	if err := decodeBody(w, r, &input, false); err != nil {
		renderJSONError(w, err)
		return
	}

	result, err := ops.StartDownload(h.deps.Downloads, h.deps.Config, input)
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusAccepted, result)
}

// HandleDownloads handles GET /downloads[?active=true].
func (h *Handlers) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	result := ops.ListDownloads(h.deps.Downloads, ops.ListDownloadsInput{
		ActiveOnly: parseBoolParam(r, "active"),
	})
	renderJSON(w, http.StatusOK, result)
}

// HandleDownloadStatus handles GET /downloads/{id}.
func (h *Handlers) HandleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	result, err := ops.DownloadStatus(h.deps.Downloads, ops.DownloadStatusInput{DownloadID: r.PathValue("id")})
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleDownloadCancel handles DELETE /downloads/{id}.
func (h *Handlers) HandleDownloadCancel(w http.ResponseWriter, r *http.Request) {
	result, err := ops.CancelDownload(h.deps.Downloads, ops.CancelDownloadInput{DownloadID: r.PathValue("id")})
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleDownloadCleanup handles POST /downloads/cleanup. The body is optional.
func (h *Handlers) HandleDownloadCleanup(w http.ResponseWriter, r *http.Request) {
	var input ops.CleanupDownloadsInput
	if err := decodeBody(w, r, &input, true); err != nil {
		renderJSONError(w, err)
		return
	}

	result, err := ops.CleanupDownloads(h.deps.Downloads, h.deps.Config, input)
	if err != nil {
		renderJSONError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// decodeBody reads a JSON object from the request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(dst)
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, io.EOF) && allowEmpty:
		return nil
	case stderrors.Is(err, io.EOF):
		return errors.NewInvalidRequest("request body is required")
	default:
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.NewInvalidRequest("request body too large")
		}
		return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
