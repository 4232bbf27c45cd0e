package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hpungsan/sift/internal/config"
	"github.com/hpungsan/sift/internal/db"
	"github.com/hpungsan/sift/internal/download"
	"github.com/hpungsan/sift/internal/hub"
	"github.com/hpungsan/sift/internal/inference"
	"github.com/hpungsan/sift/internal/mcp"
	"github.com/hpungsan/sift/internal/models"
	"github.com/hpungsan/sift/internal/ops"
	"github.com/hpungsan/sift/internal/sampling"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "next": true, "explore": true,
	"models": true, "lookup": true, "card": true,
	"rename": true, "download": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	return isTerminalFile(os.Stdin)
}

func printBanner() {
	fmt.Println(`
       _  __ _
   ___(_)/ _| |_
  / __| | |_| __|
  \__ \ |  _| |_
  |___/_|_|  \__|

  Next-token distribution explorer

  Usage: sift <command> [options]
         sift serve
         sift --help

  MCP server mode requires piped input.`)
}

// buildDeps wires the engine, hub client and download manager around an
// open database. The returned cleanup stops the download workers and any
// backend process sift started.
func buildDeps(database *sql.DB, cfg *config.Config) (ops.Deps, func()) {
	backend := inference.NewLlamaServer(cfg.Backend.URL, time.Duration(cfg.Backend.RequestTimeoutSeconds)*time.Second)

	var (
		loader inference.Loader
		model  string
	)
	if cfg.Backend.Command != "" {
		loader = inference.NewLauncher(cfg.Backend.Command, cfg.Backend.Args, backend,
			time.Duration(cfg.Backend.StartupTimeoutSeconds)*time.Second)
	} else if cfg.DefaultModel != "" {
		// externally managed server; the name is informational
		model = filepath.Join(cfg.ModelsDir, cfg.DefaultModel)
	}
	engine := inference.NewEngine(backend, loader, model)

	hubClient := hub.NewClient(cfg.Hub.URL, cfg.Hub.Token)
	mgr := download.NewManager(download.NewRegistry(), hubClient, db.NameStore{DB: database}, download.Options{
		DestDir:          cfg.ModelsDir,
		MaxConcurrent:    cfg.Downloads.MaxConcurrent,
		ProgressInterval: cfg.ProgressInterval(),
		Retention:        time.Duration(cfg.Downloads.RetentionHours) * time.Hour,
		SweepInterval:    cfg.SweepInterval(),
	})

	deps := ops.Deps{
		DB:        database,
		Config:    cfg,
		Engine:    engine,
		Explorer:  sampling.NewExplorer(engine, cfg.Explore.Seed),
		Hub:       hubClient,
		Downloads: mgr,
	}
	cleanup := func() {
		mgr.Close()
		if err := engine.Close(); err != nil {
			log.Printf("failed to stop backend: %v", err)
		}
	}
	return deps, cleanup
}

// loadDefaultModel starts the backend on cfg.DefaultModel when sift manages
// the backend process. Failures leave the engine without a model.
func loadDefaultModel(deps ops.Deps) {
	cfg := deps.Config
	if cfg.DefaultModel == "" || !deps.Engine.CanSwap() {
		return
	}
	path, err := models.Resolve(cfg.ModelsDir, cfg.DefaultModel)
	if err != nil {
		log.Printf("default model unavailable: %v", err)
		return
	}
	ctx, cancel := startupContext(cfg)
	defer cancel()
	if err := deps.Engine.LoadModel(ctx, path); err != nil {
		log.Printf("failed to load default model %s: %v", cfg.DefaultModel, err)
		return
	}
	log.Printf("loaded model %s", cfg.DefaultModel)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(ops.Deps{})
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cliMode := isCLIMode()

	// Unknown argument + terminal → show error (don't start MCP server)
	if !cliMode && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'sift --help' for usage.\n")
		os.Exit(1)
	}

	// stdout is the MCP transport
	log.SetOutput(os.Stderr)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".sift")

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	for _, name := range mcp.ValidateDisabledTools(cfg.DisabledTools) {
		log.Printf("warning: unknown tool in disabled_tools: %s", name)
	}
	for _, name := range mcp.ValidateDisabledTypes(cfg.DisabledTypes) {
		log.Printf("warning: unknown type in disabled_types: %s", name)
	}

	deps, cleanup := buildDeps(database, cfg)
	defer cleanup()

	if cliMode {
		if needsModel(os.Args[1]) {
			loadDefaultModel(deps)
		}
		app := newCLIApp(deps)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			cleanup()
			os.Exit(1)
		}
		return
	}

	loadDefaultModel(deps)
	if err := mcp.Run(deps, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		cleanup()
		os.Exit(1)
	}
}

// needsModel reports whether a subcommand talks to the inference backend.
func needsModel(cmd string) bool {
	return cmd == "serve" || cmd == "next" || cmd == "explore"
}
