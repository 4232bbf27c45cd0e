package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/sift/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewServer creates the HTTP server for the sift API and explorer page.
func NewServer(deps ops.Deps, version, bind string, port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           NewHandler(deps, version),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewHandler builds the routed handler tree, wrapped with security headers.
func NewHandler(deps ops.Deps, version string) http.Handler {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatalf("failed to create template sub-FS: %v", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatalf("failed to create static sub-FS: %v", err)
	}

	h := &Handlers{
		deps:     deps,
		renderer: NewRenderer(templateSub, version),
		started:  time.Now(),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.HandleIndex)
	mux.HandleFunc("GET /health", h.HandleHealth)

	mux.HandleFunc("POST /next-tokens", h.HandleNextTokens)
	mux.HandleFunc("POST /explore", h.HandleExplore)

	mux.HandleFunc("GET /models", h.HandleModels)
	mux.HandleFunc("GET /models/lookup", h.HandleLookup)
	mux.HandleFunc("GET /models/card", h.HandleCard)
	mux.HandleFunc("POST /models/switch", h.HandleSwitch)
	mux.HandleFunc("POST /models/rename", h.HandleRename)
	mux.HandleFunc("POST /models/download", h.HandleDownloadStart)

	mux.HandleFunc("GET /downloads", h.HandleDownloads)
	mux.HandleFunc("POST /downloads/cleanup", h.HandleDownloadCleanup)
	mux.HandleFunc("GET /downloads/{id}", h.HandleDownloadStatus)
	mux.HandleFunc("DELETE /downloads/{id}", h.HandleDownloadCancel)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self' https: data:")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
// onShutdown runs after the listener has drained.
func Run(srv *http.Server, onShutdown func()) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("sift running at http://%s", srv.Addr)

	if strings.HasPrefix(srv.Addr, "0.0.0.0:") || strings.HasPrefix(srv.Addr, ":") || strings.Contains(srv.Addr, "::") {
		log.Printf("WARNING: Server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if onShutdown != nil {
			onShutdown()
		}
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(ctx)
		if onShutdown != nil {
			onShutdown()
		}
		return err
	}
}
