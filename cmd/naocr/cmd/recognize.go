package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/naocr/internal/config"
	"github.com/MeKo-Tech/naocr/internal/console"
	"github.com/MeKo-Tech/naocr/internal/imageio"
	"github.com/MeKo-Tech/naocr/internal/mainloop"
	"github.com/MeKo-Tech/naocr/internal/progress"
	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/spf13/cobra"
)

// addRecognitionFlags registers the flags shared by recognition commands.
func addRecognitionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "text", "output format (text, json, csv)")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	cmd.Flags().StringP("language", "l", "eng", "OCR language, e.g. eng, de or deu+eng")
	cmd.Flags().Duration("progress-interval", 0, "minimum time between progress updates (default from config)")
	cmd.Flags().BoolP("quiet", "q", false, "do not draw a progress bar")
	cmd.Flags().Int("progress-width", 40, "width of the progress bar in characters")
	cmd.Flags().Int("progress-every", 1, "log progress only every N pages")
}

// recognitionConfig returns the configuration with flag overrides applied.
func (a *app) recognitionConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := *a.cfg
	if cmd.Flags().Changed("format") {
		cfg.Output.Format, _ = cmd.Flags().GetString("format")
	}
	if cmd.Flags().Changed("output") {
		cfg.Output.File, _ = cmd.Flags().GetString("output")
	}
	if cmd.Flags().Changed("language") {
		cfg.Engine.Language, _ = cmd.Flags().GetString("language")
	}
	if cmd.Flags().Changed("progress-interval") {
		cfg.Session.ProgressInterval, _ = cmd.Flags().GetDuration("progress-interval")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (a *app) engine(cfg config.Config) (recog.Engine, error) {
	opts := cfg.EngineOptions()
	opts.Logger = a.logger
	engine, err := newEngine(opts)
	if err != nil {
		return nil, fmt.Errorf("creating OCR engine: %w", err)
	}
	return engine, nil
}

// openOutput returns the writer results go to and a function closing it.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path) //nolint:gosec // G304: user-provided output path
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, f.Close, nil
}

// progressReporter logs progress and, unless --quiet, draws a bar on stderr.
func (a *app) progressReporter(cmd *cobra.Command, source string) progress.Reporter {
	every, _ := cmd.Flags().GetInt("progress-every")
	var bar progress.Reporter = progress.Nop{}
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		width, _ := cmd.Flags().GetInt("progress-width")
		bar = progress.NewConsole(cmd.ErrOrStderr(), source+" ").WithWidth(width)
	}
	return progress.NewMulti(progress.NewLog(a.logger, slog.LevelDebug, source+": ").WithEvery(every), bar)
}

// recognizeFiles runs one multi-page session over paths and prints the
// merged result. An interrupt aborts the run after the page in progress.
func (a *app) recognizeFiles(cmd *cobra.Command, source string, paths []string) error {
	cfg, err := a.recognitionConfig(cmd)
	if err != nil {
		return err
	}
	engine, err := a.engine(cfg)
	if err != nil {
		return err
	}
	w, closeOut, err := openOutput(cmd, cfg.Output.File)
	if err != nil {
		return err
	}
	defer func() { _ = closeOut() }()

	reporter := a.progressReporter(cmd, source)

	queue := mainloop.NewQueue(a.logger)
	session := recog.NewSession(recog.SessionDeps{
		Engine:     engine,
		Slot:       recog.NewSlot(),
		Loader:     imageio.Loader{},
		Announcer:  console.NewAnnouncer(cmd.ErrOrStderr(), a.logger),
		Dispatcher: queue,
		Logger:     a.logger,
	})

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		session.Abort()
	}()

	var outcome recog.Outcome
	session.RecognizeFiles(source, paths, recog.FileOptions{
		OnProgress:       progress.Func(reporter),
		ProgressInterval: cfg.Session.ProgressInterval,
		OnFinish: func(out recog.Outcome) {
			outcome = out
			reporter.Finish(out)
			queue.Close()
		},
	})
	if err := queue.Run(context.Background()); err != nil {
		return err
	}

	switch {
	case outcome.Err != nil:
		return outcome.Err
	case outcome.Aborted() && !engine.Available():
		return recog.ErrEngineUnavailable
	case outcome.Aborted():
		return fmt.Errorf("%s: %w", source, recog.ErrAborted)
	}
	return console.NewPrinter(w, cfg.Output.Format, source).PrintOutcome(outcome)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// errNoInput is returned when the arguments expand to no page images.
var errNoInput = errors.New("no input images found")
