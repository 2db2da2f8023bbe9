package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/MeKo-Tech/naocr/internal/console"
	"github.com/MeKo-Tech/naocr/internal/mainloop"
	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/spf13/cobra"
)

var errScreenFailed = errors.New("screen recognition failed")

func newScreenCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Recognize a screenshot",
		Long: `Recognize a single screenshot. Without a display server the screenshot is
read from the image given with --capture.

Examples:
  naocr screen --capture screenshot.png
  naocr screen --capture screenshot.png --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			capture, _ := cmd.Flags().GetString("capture")
			if capture == "" {
				return errors.New("--capture is required")
			}
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

			printer := console.NewPrinter(w, cfg.Output.Format, capture)
			queue := mainloop.NewQueue(a.logger)
			recognizer := recog.NewScreenRecognizer(recog.ScreenDeps{
				Engine:     engine,
				Slot:       recog.NewSlot(),
				Capturer:   console.FileCapture{Path: capture},
				Focus:      console.NoFocus{},
				Curtain:    console.NoCurtain{},
				Acceptor:   printer,
				Announcer:  console.NewAnnouncer(cmd.ErrOrStderr(), a.logger),
				Dispatcher: queue,
				Logger:     a.logger,
			})

			finished, success := false, false
			started := recognizer.RecognizeLiveScreen(recog.ScreenOptions{
				OnFinish: func(ok bool, _ any) {
					finished, success = true, ok
					queue.Close()
				},
			})
			if !started && !finished {
				if !engine.Available() {
					return recog.ErrEngineUnavailable
				}
				return errScreenFailed
			}
			if err := queue.Run(context.Background()); err != nil {
				return err
			}
			if !success {
				return errScreenFailed
			}
			if err := printer.Err(); err != nil {
				return fmt.Errorf("writing result: %w", err)
			}
			return nil
		},
	}
	addRecognitionFlags(cmd)
	cmd.Flags().String("capture", "", "screenshot image to recognize")
	return cmd
}
