package support

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/MeKo-Tech/naocr/internal/recog/recogtest"
	"github.com/cucumber/godog"
)

func (tc *TestContext) focusIsInAResult() error {
	tc.Host.InResult = true
	return nil
}

func (tc *TestContext) theScreenCurtainIsActive() error {
	tc.Host.Curtain = true
	return nil
}

func (tc *TestContext) theEngineIsUnavailable() error {
	tc.Engine.Unavailable = true
	return nil
}

func (tc *TestContext) theScreenCannotBeCaptured() error {
	tc.Host.CaptureErr = errors.New("no display")
	return nil
}

func (tc *TestContext) iRecognizeTheScreen() error {
	started := tc.Screen.RecognizeLiveScreen(recog.ScreenOptions{
		OnFinish: func(success bool, _ any) {
			tc.mu.Lock()
			defer tc.mu.Unlock()
			tc.screenFinishes = append(tc.screenFinishes, success)
		},
	})
	tc.mu.Lock()
	tc.screenStarted = started
	tc.mu.Unlock()
	return nil
}

func (tc *TestContext) theScreenRecognitionIsRejected() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.screenStarted {
		return errors.New("screen recognition started")
	}
	if n := len(tc.screenFinishes); n != 0 {
		return fmt.Errorf("rejected recognition reported %d finish(es)", n)
	}
	return nil
}

func (tc *TestContext) theScreenRecognitionStarts() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if !tc.screenStarted {
		return errors.New("screen recognition did not start")
	}
	return nil
}

func (tc *TestContext) theEngineRecognizesTheScreenAs(text string) error {
	for {
		job, err := tc.Engine.Next(StepTimeout)
		if err != nil {
			return fmt.Errorf("waiting for the screen submission: %w", err)
		}
		// preempted pages are still queued ahead of the screen
		if job.Cancelled() {
			continue
		}
		if !job.Complete(recogtest.PageResult(job.Info, text), nil) {
			return errors.New("screen job was already completed")
		}
		return nil
	}
}

// screenFinished waits for the screen finish callback.
func (tc *TestContext) screenFinished(success bool) error {
	deadline := time.Now().Add(StepTimeout)
	for {
		tc.Dispatcher.Drain()
		tc.mu.Lock()
		finishes := append([]bool(nil), tc.screenFinishes...)
		tc.mu.Unlock()
		if len(finishes) > 0 {
			if len(finishes) != 1 {
				return fmt.Errorf("finish reported %d times", len(finishes))
			}
			if finishes[0] != success {
				return fmt.Errorf("expected finish(%v), got finish(%v)", success, finishes[0])
			}
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("screen recognition never finished")
		}
		time.Sleep(time.Millisecond)
	}
}

func (tc *TestContext) theScreenRecognitionSucceeds() error {
	return tc.screenFinished(true)
}

func (tc *TestContext) theScreenRecognitionFails() error {
	return tc.screenFinished(false)
}

func (tc *TestContext) theResultPresentedIs(text string) error {
	text = strings.ReplaceAll(text, `\n`, "\n")
	accepted := tc.Host.Accepted()
	if len(accepted) != 1 {
		return fmt.Errorf("expected one presented result, got %d", len(accepted))
	}
	if got := accepted[0].Text(); got != text {
		return fmt.Errorf("expected presented text %q, got %q", text, got)
	}
	return nil
}

func (tc *TestContext) nothingIsPresented() error {
	if n := len(tc.Host.Accepted()); n != 0 {
		return fmt.Errorf("expected nothing presented, got %d result(s)", n)
	}
	return nil
}

func (tc *TestContext) theScreenOwnsTheEngine() error {
	if got, _ := tc.Slot.Owner(); got != string(recog.KindScreen) {
		return fmt.Errorf("expected the screen to own the engine, owner is %q", got)
	}
	return nil
}

// RegisterScreenSteps registers the live screen recognition steps.
func (tc *TestContext) RegisterScreenSteps(sc *godog.ScenarioContext) {
	sc.Step(`^focus is inside a recognition result$`, tc.focusIsInAResult)
	sc.Step(`^the screen curtain is active$`, tc.theScreenCurtainIsActive)
	sc.Step(`^the OCR engine is unavailable$`, tc.theEngineIsUnavailable)
	sc.Step(`^the screen cannot be captured$`, tc.theScreenCannotBeCaptured)

	sc.Step(`^I recognize the screen$`, tc.iRecognizeTheScreen)
	sc.Step(`^the engine recognizes the screen as "([^"]*)"$`, tc.theEngineRecognizesTheScreenAs)

	sc.Step(`^the screen recognition is rejected$`, tc.theScreenRecognitionIsRejected)
	sc.Step(`^the screen recognition starts$`, tc.theScreenRecognitionStarts)
	sc.Step(`^the screen recognition succeeds$`, tc.theScreenRecognitionSucceeds)
	sc.Step(`^the screen recognition fails$`, tc.theScreenRecognitionFails)
	sc.Step(`^the presented text is "([^"]*)"$`, tc.theResultPresentedIs)
	sc.Step(`^nothing is presented$`, tc.nothingIsPresented)
	sc.Step(`^the screen owns the engine$`, tc.theScreenOwnsTheEngine)
}
