package support

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cucumber/godog"
)

func (tc *TestContext) wasAnnounced(text string) error {
	said, queued := tc.Announcer.Said(), tc.Announcer.Queued()
	if slices.Contains(said, text) || slices.Contains(queued, text) {
		return nil
	}
	return fmt.Errorf("%q was not announced (said %q, queued %q)", text, said, queued)
}

func (tc *TestContext) nothingWasAnnounced() error {
	said, queued := tc.Announcer.Said(), tc.Announcer.Queued()
	if len(said)+len(queued) != 0 {
		return fmt.Errorf("expected silence, said %q, queued %q", said, queued)
	}
	return nil
}

func (tc *TestContext) theRecordedStatusesAre(expected string) error {
	var got []string
	for _, s := range tc.Observer.Statuses() {
		got = append(got, string(s))
	}
	if strings.Join(got, ",") != expected {
		return fmt.Errorf("expected statuses %q, got %q", expected, strings.Join(got, ","))
	}
	return nil
}

func (tc *TestContext) theEngineIsFree() error {
	tc.Dispatcher.Drain()
	if owner, held := tc.Slot.Owner(); held {
		return fmt.Errorf("engine still owned by %q", owner)
	}
	return nil
}

// RegisterCommonSteps registers steps shared by all features.
func (tc *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^"([^"]*)" was announced$`, tc.wasAnnounced)
	sc.Step(`^nothing was announced$`, tc.nothingWasAnnounced)
	sc.Step(`^the recorded statuses are "([^"]*)"$`, tc.theRecordedStatusesAre)
	sc.Step(`^the engine is free$`, tc.theEngineIsFree)
}
