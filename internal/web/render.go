package web

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/sift/internal/config"
	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/hub"
	"github.com/hpungsan/sift/internal/models"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "explore", "models"
}

// IndexPageData is the template data for the explorer page.
type IndexPageData struct {
	PageData
	Models   []models.Model
	Active   string
	CanSwap  bool
	Sampling config.SamplingConfig
	MaxPaths int
	MaxDepth int
}

// CardPageData is the template data for a rendered model card.
type CardPageData struct {
	PageData
	RepoID       string
	RenderedHTML template.HTML
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string) *Renderer {
	funcMap := template.FuncMap{
		"formatTime": formatTime,
		"formatMB":   formatMB,
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"index": "index.html",
		"card":  "card.html",
		"error": "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, name string, data any) {
	r.renderPageStatus(w, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template into a buffer first so a
// template failure never leaves a half-written page.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		log.Printf("template %q not found", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Printf("template execution error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error as JSON when the client asks for it and as
// the error page otherwise.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	if wantsJSON(req) {
		renderJSONError(w, err)
		return
	}

	sErr := asSiftError(err)
	r.renderPageStatus(w, sErr.Status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", sErr.Status),
			Version: r.version,
		},
		StatusCode: sErr.Status,
		Message:    sErr.Message,
	})
}

// asSiftError unwraps err to a SiftError. Untyped errors become INTERNAL and
// are logged since their text is not shown to clients.
func asSiftError(err error) *errors.SiftError {
	var sErr *errors.SiftError
	if stderrors.As(err, &sErr) {
		return sErr
	}
	log.Printf("internal error: %v", err)
	return errors.NewInternal(err)
}

// renderJSONError writes {"error":{code,message,status}}. INTERNAL details are withheld.
func renderJSONError(w http.ResponseWriter, err error) {
	sErr := asSiftError(err)

	errObj := map[string]any{
		"code":    string(sErr.Code),
		"message": sErr.Message,
		"status":  sErr.Status,
	}
	if sErr.Code != errors.ErrInternal && sErr.Details != nil {
		errObj["details"] = sErr.Details
	}
	renderJSON(w, sErr.Status, map[string]any{"error": errObj})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderMarkdown converts a model card to HTML. Raw HTML in the source is
// dropped by goldmark's default renderer, and a leading YAML front matter
// block (common in hub READMEs) is not shown.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(hub.ParseCard(md).Body), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats a timestamp as "2006-01-02 15:04" UTC; nil renders empty.
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// formatMB renders a size in megabytes, switching to GB above 1024.
func formatMB(mb float64) string {
	if mb >= 1024 {
		return fmt.Sprintf("%.2f GB", mb/1024)
	}
	return fmt.Sprintf("%.2f MB", mb)
}
