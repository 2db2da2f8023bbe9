package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/naocr/internal/config"
	"github.com/MeKo-Tech/naocr/internal/engine/tesseract"
	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/MeKo-Tech/naocr/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newEngine builds the OCR engine for a command. Tests replace it.
var newEngine = func(opts tesseract.Options) (recog.Engine, error) {
	return tesseract.New(opts)
}

// app is the state shared by one command tree.
type app struct {
	v       *viper.Viper
	loader  *config.Loader
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCommand builds the naocr command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	a.loader = config.NewLoaderWith(a.v)

	rootCmd := &cobra.Command{
		Use:   "naocr",
		Short: "Multi-page OCR with cancellable recognition sessions",
		Long: `naocr recognizes text in images, PDFs and screenshots.

Multi-page input is recognized one page at a time and merged into a single
result with page offsets. A new recognition preempts a running one, and
Ctrl+C stops a run after the page in progress.

Examples:
  naocr files scan-1.png scan-2.png
  naocr files ./scans --recursive --format json
  naocr pdf letter.pdf --pages 1-3
  naocr screen --capture screenshot.png
  naocr serve --port 8080`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "naocr version "+version.String())
				return nil
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/naocr, /etc/naocr)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("version", false, "print version information and exit")

	_ = a.v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = a.v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(
		newFilesCommand(a),
		newPDFCommand(a),
		newScreenCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
	)
	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// init loads the configuration and installs the logger.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := a.loader.LoadWithFile(a.cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg)
	slog.SetDefault(a.logger)
	if used := a.loader.GetConfigFileUsed(); used != "" {
		a.logger.Debug("Configuration loaded", "file", used)
	}
	return nil
}

// newLogger writes JSON records to w. Logs go to stderr so results on
// stdout stay machine readable.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
