// Package support holds the step definitions of the session acceptance
// suite. Scenarios run in process against the recogtest fakes.
package support

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/MeKo-Tech/naocr/internal/recog/recogtest"
)

// StepTimeout bounds how long a step waits for asynchronous completions.
const StepTimeout = 2 * time.Second

// TestContext holds the state of one scenario.
type TestContext struct {
	Engine     *recogtest.Engine
	Slot       *recog.Slot
	Loader     *recogtest.Loader
	Host       *recogtest.Host
	Announcer  *recogtest.Announcer
	Dispatcher *recogtest.Dispatcher
	Observer   *recogtest.Observer
	Logger     *slog.Logger

	Session *recog.Session
	Screen  *recog.ScreenRecognizer

	// Document under test
	Source  string
	Paths   []string
	Lengths []int

	mu             sync.Mutex
	outcomes       []recog.Outcome
	progress       []string
	screenStarted  bool
	screenFinishes []bool
}

// NewTestContext wires a session and a screen recognizer around fresh
// fakes sharing one slot.
func NewTestContext() *TestContext {
	tc := &TestContext{
		Engine:     recogtest.NewEngine(),
		Slot:       recog.NewSlot(),
		Loader:     &recogtest.Loader{Errs: map[string]error{}},
		Host:       &recogtest.Host{},
		Announcer:  &recogtest.Announcer{},
		Dispatcher: &recogtest.Dispatcher{},
		Observer:   &recogtest.Observer{},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	tc.Session = recog.NewSession(recog.SessionDeps{
		Engine:     tc.Engine,
		Slot:       tc.Slot,
		Loader:     tc.Loader,
		Announcer:  tc.Announcer,
		Dispatcher: tc.Dispatcher,
		Observer:   tc.Observer,
		Logger:     tc.Logger,
	})
	tc.Screen = recog.NewScreenRecognizer(recog.ScreenDeps{
		Engine:     tc.Engine,
		Slot:       tc.Slot,
		Capturer:   tc.Host,
		Focus:      tc.Host,
		Curtain:    tc.Host,
		Acceptor:   tc.Host,
		Announcer:  tc.Announcer,
		Dispatcher: tc.Dispatcher,
		Observer:   tc.Observer,
		Logger:     tc.Logger,
	})
	return tc
}

// Cleanup cancels whatever still holds the engine and runs pending
// callbacks so no goroutine outlives the scenario.
func (tc *TestContext) Cleanup() {
	tc.Session.Abort()
	tc.Slot.CancelActive()
	deadline := time.Now().Add(StepTimeout)
	for time.Now().Before(deadline) {
		if tc.Dispatcher.Drain() == 0 && tc.Dispatcher.Pending() == 0 {
			return
		}
	}
}

func (tc *TestContext) recordOutcome(out recog.Outcome) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.outcomes = append(tc.outcomes, out)
}

func (tc *TestContext) recordProgress(done, total int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.progress = append(tc.progress, fmt.Sprintf("%d/%d", done, total))
}

func (tc *TestContext) outcomesSoFar() []recog.Outcome {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]recog.Outcome(nil), tc.outcomes...)
}

// awaitOutcome drains the dispatcher until n outcomes were delivered.
func (tc *TestContext) awaitOutcome(n int) ([]recog.Outcome, error) {
	deadline := time.Now().Add(StepTimeout)
	for {
		tc.Dispatcher.Drain()
		if got := tc.outcomesSoFar(); len(got) >= n {
			return got, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("expected %d outcome(s), got %d", n, len(tc.outcomesSoFar()))
		}
		time.Sleep(time.Millisecond)
	}
}

// lastOutcome waits for the first outcome and fails if more arrived.
func (tc *TestContext) lastOutcome() (recog.Outcome, error) {
	got, err := tc.awaitOutcome(1)
	if err != nil {
		return recog.Outcome{}, err
	}
	if len(got) != 1 {
		return recog.Outcome{}, fmt.Errorf("expected exactly one outcome, got %d", len(got))
	}
	return got[0], nil
}
