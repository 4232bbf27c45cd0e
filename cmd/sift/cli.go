package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/sift/internal/config"
	"github.com/hpungsan/sift/internal/download"
	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/hub"
	"github.com/hpungsan/sift/internal/ops"
	"github.com/hpungsan/sift/internal/web"
)

// maxStdinBytes bounds prompt text read from stdin.
const maxStdinBytes = 1 << 20

// downloadPollInterval is how often the download command checks its job.
var downloadPollInterval = 500 * time.Millisecond

// newCLIApp creates the CLI application with all commands.
func newCLIApp(deps ops.Deps) *cli.App {
	app := &cli.App{
		Name:    "sift",
		Usage:   "Next-token distribution explorer",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(deps),
			nextCmd(deps),
			exploreCmd(deps),
			modelsCmd(deps),
			lookupCmd(deps),
			cardCmd(deps),
			renameCmd(deps),
			downloadCmd(deps),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func serveCmd(deps ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and explorer page",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Aliases: []string{"b"}, Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8080, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(deps, Version, c.String("bind"), c.Int("port"))
			if err := web.Run(srv, deps.Downloads.Close); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}

// samplingFlags are shared by next and explore.
func samplingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{Name: "temperature", Aliases: []string{"t"}, Usage: "Sampling temperature (0 = greedy)"},
		&cli.IntFlag{Name: "top-k", Aliases: []string{"k"}, Usage: "Candidates requested from the model"},
		&cli.Float64Flag{Name: "top-p", Usage: "Nucleus cutoff (1 disables)"},
		&cli.Float64Flag{Name: "repeat-penalty", Usage: "Penalty for tokens already in the text"},
	}
}

// samplingInput copies explicitly set sampling flags; the rest take config defaults.
func samplingInput(c *cli.Context) ops.SamplingInput {
	var in ops.SamplingInput
	if c.IsSet("temperature") {
		v := c.Float64("temperature")
		in.Temperature = &v
	}
	if c.IsSet("top-k") {
		v := c.Int("top-k")
		in.TopK = &v
	}
	if c.IsSet("top-p") {
		v := c.Float64("top-p")
		in.TopP = &v
	}
	if c.IsSet("repeat-penalty") {
		v := c.Float64("repeat-penalty")
		in.RepeatPenalty = &v
	}
	return in
}

func nextCmd(deps ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "next",
		Usage:     "Show the next-token distribution (text from args or stdin)",
		ArgsUsage: "[text]",
		Flags:     samplingFlags(),
		Action: func(c *cli.Context) error {
			text, err := promptText(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.NextTokens(c.Context, deps.Engine, deps.Config, ops.NextTokensInput{
				Text:          text,
				SamplingInput: samplingInput(c),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

func exploreCmd(deps ops.Deps) *cli.Command {
	flags := append(samplingFlags(),
		&cli.IntFlag{Name: "paths", Aliases: []string{"n"}, Usage: "Number of paths (default 3)"},
		&cli.IntFlag{Name: "depth", Aliases: []string{"d"}, Usage: "Tokens per path (default 5)"},
		&cli.Int64Flag{Name: "seed", Usage: "Fix the start-candidate draw"},
	)
	return &cli.Command{
		Name:      "explore",
		Usage:     "Grow divergent continuations (text from args or stdin)",
		ArgsUsage: "[text]",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			text, err := promptText(c)
			if err != nil {
				return outputError(err)
			}

			input := ops.ExploreInput{
				Text:          text,
				NumPaths:      c.Int("paths"),
				Depth:         c.Int("depth"),
				SamplingInput: samplingInput(c),
			}
			if c.IsSet("seed") {
				seed := c.Int64("seed")
				input.Seed = &seed
			}

			output, err := ops.Explore(c.Context, deps.Engine, deps.Explorer, deps.Config, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

func modelsCmd(deps ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "List installed models",
		Action: func(c *cli.Context) error {
			output, err := ops.ListModels(deps.DB, deps.Config, deps.Engine.Model())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

func lookupCmd(deps ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "List the GGUF files of a hub repository",
		ArgsUsage: "<owner/name>",
		Action: func(c *cli.Context) error {
			output, err := ops.LookupModels(c.Context, deps.Hub, ops.LookupModelsInput{RepoID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

func cardCmd(deps ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "card",
		Usage:     "Print the model card (README) of a hub repository",
		ArgsUsage: "<owner/name>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Wrap the markdown and front matter in a JSON object"},
			&cli.BoolFlag{Name: "raw", Usage: "Print the markdown source even on a terminal"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ModelCard(c.Context, deps.Hub, ops.ModelCardInput{RepoID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, output)
			}

			text := output.Markdown
			if !c.Bool("raw") && c.App.Writer == os.Stdout && isTerminalFile(os.Stdout) {
				if rendered, err := renderCard(output.Markdown); err == nil {
					text = rendered
				}
			}
			_, err = fmt.Fprintln(c.App.Writer, text)
			return err
		},
	}
}

func renameCmd(deps ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "rename",
		Usage:     "Set the friendly name of an installed model",
		ArgsUsage: "<filename> <friendly name>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewInvalidRequest("usage: sift rename <filename> <friendly name>"))
			}
			output, err := ops.RenameModel(deps.DB, deps.Config, ops.RenameModelInput{
				Filename:     c.Args().First(),
				FriendlyName: strings.Join(c.Args().Tail(), " "),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// downloadCmd runs one download in the foreground. Jobs live in process
// memory, so the command waits for a terminal state before exiting.
func downloadCmd(deps ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download a GGUF file from a hub repository into the models directory",
		ArgsUsage: "<owner/name> <filename>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewInvalidRequest("usage: sift download <owner/name> <filename>"))
			}
			started, err := ops.StartDownload(deps.Downloads, deps.Config, ops.StartDownloadInput{
				RepoID:   c.Args().Get(0),
				Filename: c.Args().Get(1),
			})
			if err != nil {
				return outputError(err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			job, err := waitForDownload(ctx, deps, started.DownloadID, c.App.ErrWriter)
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(c.App.Writer, job); err != nil {
				return err
			}
			if job.State != download.StateCompleted {
				return cli.Exit(fmt.Sprintf("download %s %s", job.State, job.ErrorMessage), 1)
			}
			return nil
		},
	}
}

// waitForDownload polls a job until it finishes, printing progress to errw.
// Cancelling ctx cancels the download.
func waitForDownload(ctx context.Context, deps ops.Deps, id string, errw io.Writer) (*download.Job, error) {
	ticker := time.NewTicker(downloadPollInterval)
	defer ticker.Stop()

	input := ops.DownloadStatusInput{DownloadID: id}
	for {
		job, err := ops.DownloadStatus(deps.Downloads, input)
		if err != nil {
			return nil, err
		}
		if job.State.Terminal() {
			return job, nil
		}
		if errw != nil && job.TotalBytes > 0 {
			fmt.Fprintf(errw, "%s: %.1f%%\n", job.Filename, job.Progress)
		}

		select {
		case <-ctx.Done():
			_, _ = ops.CancelDownload(deps.Downloads, ops.CancelDownloadInput{DownloadID: id})
			ctx = context.Background()
		case <-ticker.C:
		}
	}
}

// Helper functions

// renderCard styles a model card body for the terminal.
func renderCard(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return r.Render(hub.ParseCard(md).Body)
}

func isTerminalFile(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// startupContext bounds the initial model load.
func startupContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	timeout := time.Duration(cfg.Backend.StartupTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	return context.WithTimeout(context.Background(), timeout)
}

// promptText returns the positional args joined by spaces, or stdin when
// no args are given. Prompt whitespace is significant and kept as is.
func promptText(c *cli.Context) (string, error) {
	if c.NArg() > 0 {
		return strings.Join(c.Args().Slice(), " "), nil
	}
	if !stdinHasData() {
		return "", errors.NewInvalidRequest("text must be given as arguments or piped via stdin")
	}
	text, err := readStdin(maxStdinBytes)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(text, "\n"), nil
}

// outputJSON writes v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if sErr, ok := err.(*errors.SiftError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return string(data), nil
}
