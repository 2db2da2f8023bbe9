package support

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/MeKo-Tech/naocr/internal/recog/recogtest"
	"github.com/cucumber/godog"
)

func parseInts(list string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", part, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (tc *TestContext) aDocumentWithPageLengths(source, lengths string) error {
	ls, err := parseInts(lengths)
	if err != nil {
		return err
	}
	tc.Source = source
	tc.Lengths = ls
	tc.Paths = make([]string, len(ls))
	for i := range ls {
		tc.Paths[i] = fmt.Sprintf("%s/page-%d.png", source, i+1)
	}
	return nil
}

func (tc *TestContext) anEmptyDocument(source string) error {
	tc.Source = source
	tc.Paths = nil
	tc.Lengths = nil
	return nil
}

func (tc *TestContext) pageCannotBeLoaded(page int) error {
	if page < 1 || page > len(tc.Paths) {
		return fmt.Errorf("document has no page %d", page)
	}
	tc.Loader.Errs[tc.Paths[page-1]] = errors.New("corrupt image")
	return nil
}

func (tc *TestContext) iRecognizeTheDocument() error {
	tc.Session.RecognizeFiles(tc.Source, tc.Paths, recog.FileOptions{
		OnProgress: tc.recordProgress,
		OnFinish:   tc.recordOutcome,
	})
	return nil
}

func (tc *TestContext) iAbortTheSession() error {
	tc.Session.Abort()
	return nil
}

// completePage completes the next submitted job, which must be page n.
func (tc *TestContext) completePage(n int, res *recog.Result, err error) error {
	job, nextErr := tc.Engine.Next(StepTimeout)
	if nextErr != nil {
		return fmt.Errorf("waiting for page %d: %w", n, nextErr)
	}
	if job.Index != n-1 {
		return fmt.Errorf("expected submission of page %d, got submission %d", n, job.Index+1)
	}
	if !job.Complete(res, err) {
		return fmt.Errorf("page %d was already completed", n)
	}
	return nil
}

func (tc *TestContext) theEngineCompletesPage(n int) error {
	if n < 1 || n > len(tc.Lengths) {
		return fmt.Errorf("document has no page %d", n)
	}
	return tc.completePage(n, recogtest.ResultOfLen(tc.Lengths[n-1]), nil)
}

func (tc *TestContext) theEngineCompletesEveryPage() error {
	for i := range tc.Lengths {
		if err := tc.theEngineCompletesPage(i + 1); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) theEngineFailsPage(n int, message string) error {
	return tc.completePage(n, nil, errors.New(message))
}

func (tc *TestContext) theRunSucceeds() error {
	out, err := tc.lastOutcome()
	if err != nil {
		return err
	}
	if out.Result == nil || out.Err != nil {
		return fmt.Errorf("expected a result, got err=%v aborted=%v", out.Err, out.Aborted())
	}
	if out.Source != tc.Source {
		return fmt.Errorf("expected source %q, got %q", tc.Source, out.Source)
	}
	return nil
}

func (tc *TestContext) thePageOffsetsAre(expected string) error {
	out, err := tc.lastOutcome()
	if err != nil {
		return err
	}
	parts := make([]string, len(out.Offsets))
	for i, o := range out.Offsets {
		parts[i] = fmt.Sprintf("%d-%d", o.Start, o.End)
	}
	if got := strings.Join(parts, ","); got != expected {
		return fmt.Errorf("expected offsets %s, got %s", expected, got)
	}
	return nil
}

func (tc *TestContext) theCombinedTextLengthIs(n int) error {
	out, err := tc.lastOutcome()
	if err != nil {
		return err
	}
	if out.Result == nil {
		return errors.New("no result")
	}
	if out.Result.TextLen != n {
		return fmt.Errorf("expected text length %d, got %d", n, out.Result.TextLen)
	}
	if got := len([]rune(out.Result.Text())); got != n {
		return fmt.Errorf("text has %d characters, length says %d", got, n)
	}
	return nil
}

func (tc *TestContext) progressWasReportedAs(expected string) error {
	tc.mu.Lock()
	got := strings.Join(tc.progress, ",")
	tc.mu.Unlock()
	if got != expected {
		return fmt.Errorf("expected progress %q, got %q", expected, got)
	}
	return nil
}

func (tc *TestContext) theRunFailsOnPage(page int) error {
	out, err := tc.lastOutcome()
	if err != nil {
		return err
	}
	var recErr *recog.RecognitionError
	if !errors.As(out.Err, &recErr) {
		return fmt.Errorf("expected a recognition error, got %v", out.Err)
	}
	if recErr.Page != page-1 {
		return fmt.Errorf("expected failure on page %d, got page %d", page, recErr.Page+1)
	}
	return nil
}

func (tc *TestContext) theRunFailsMentioning(text string) error {
	out, err := tc.lastOutcome()
	if err != nil {
		return err
	}
	if out.Err == nil || !strings.Contains(out.Err.Error(), text) {
		return fmt.Errorf("expected an error mentioning %q, got %v", text, out.Err)
	}
	return nil
}

func (tc *TestContext) theRunIsAborted() error {
	out, err := tc.lastOutcome()
	if err != nil {
		return err
	}
	if !out.Aborted() {
		return fmt.Errorf("expected an aborted run, got result=%v err=%v", out.Result != nil, out.Err)
	}
	return nil
}

// theRunFinishedSynchronously checks the outcome arrived without draining
// the dispatcher.
func (tc *TestContext) theRunFinishedSynchronously() error {
	got := tc.outcomesSoFar()
	if len(got) != 1 {
		return fmt.Errorf("expected an immediate outcome, got %d", len(got))
	}
	if tc.Dispatcher.Pending() != 0 {
		return errors.New("outcome was deferred")
	}
	return nil
}

func (tc *TestContext) pagesWereSubmitted(n int) error {
	if got := tc.Engine.Submissions(); got != n {
		return fmt.Errorf("expected %d submitted pages, got %d", n, got)
	}
	return nil
}

func (tc *TestContext) theSessionIs(state string) error {
	tc.Dispatcher.Drain()
	if got := tc.Session.State().String(); got != state {
		return fmt.Errorf("expected session %s, got %s", state, got)
	}
	return nil
}

// RegisterSessionSteps registers the multi-page session steps.
func (tc *TestContext) RegisterSessionSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a document "([^"]*)" with pages of text lengths ([\d, ]+)$`, tc.aDocumentWithPageLengths)
	sc.Step(`^an empty document "([^"]*)"$`, tc.anEmptyDocument)
	sc.Step(`^page (\d+) cannot be loaded$`, tc.pageCannotBeLoaded)

	sc.Step(`^I recognize the document$`, tc.iRecognizeTheDocument)
	sc.Step(`^I abort the session$`, tc.iAbortTheSession)
	sc.Step(`^the engine completes every page$`, tc.theEngineCompletesEveryPage)
	sc.Step(`^the engine completes page (\d+)$`, tc.theEngineCompletesPage)
	sc.Step(`^the engine fails page (\d+) with "([^"]*)"$`, tc.theEngineFailsPage)

	sc.Step(`^the run succeeds$`, tc.theRunSucceeds)
	sc.Step(`^the page offsets are "([^"]*)"$`, tc.thePageOffsetsAre)
	sc.Step(`^the combined text length is (\d+)$`, tc.theCombinedTextLengthIs)
	sc.Step(`^progress was reported as "([^"]*)"$`, tc.progressWasReportedAs)
	sc.Step(`^the run fails on page (\d+)$`, tc.theRunFailsOnPage)
	sc.Step(`^the run fails mentioning "([^"]*)"$`, tc.theRunFailsMentioning)
	sc.Step(`^the run is aborted$`, tc.theRunIsAborted)
	sc.Step(`^the run finished synchronously$`, tc.theRunFinishedSynchronously)
	sc.Step(`^(\d+) pages? (?:was|were) submitted$`, tc.pagesWereSubmitted)
	sc.Step(`^the session is (idle|running)$`, tc.theSessionIs)
}
