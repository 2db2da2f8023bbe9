package recog_test

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/MeKo-Tech/naocr/internal/recog/recogtest"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// runPages drives a session over pages with the given text lengths and
// returns the single outcome, or false if the session misbehaved.
func runPages(lengths []int) (recog.Outcome, []*recog.Result, bool) {
	engine := recogtest.NewEngine()
	disp := &recogtest.Dispatcher{}
	var outcomes []recog.Outcome

	session := recog.NewSession(recog.SessionDeps{
		Engine:     engine,
		Slot:       recog.NewSlot(),
		Loader:     &recogtest.Loader{},
		Announcer:  &recogtest.Announcer{},
		Dispatcher: disp,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	paths := make([]string, len(lengths))
	session.RecognizeFiles("prop", paths, recog.FileOptions{
		OnFinish: func(o recog.Outcome) { outcomes = append(outcomes, o) },
	})

	pages := make([]*recog.Result, 0, len(lengths))
	for _, n := range lengths {
		job, err := engine.Next(jobTimeout)
		if err != nil {
			return recog.Outcome{}, nil, false
		}
		res := recogtest.ResultOfLen(n)
		pages = append(pages, res)
		job.Complete(res, nil)
	}
	disp.Drain()

	if len(outcomes) != 1 || engine.Submissions() != len(lengths) {
		return recog.Outcome{}, nil, false
	}
	return outcomes[0], pages, true
}

// TestSession_OffsetsProperty verifies the offsets tile the combined text.
func TestSession_OffsetsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("offsets are contiguous and match page lengths", prop.ForAll(
		func(lengths []int) bool {
			if len(lengths) == 0 {
				return true
			}
			out, _, ok := runPages(lengths)
			if !ok || out.Result == nil || len(out.Offsets) != len(lengths) {
				return false
			}

			start := 0
			for i, o := range out.Offsets {
				if o.Start != start || o.Len() != lengths[i] {
					return false
				}
				start = o.End
			}
			return out.Result.TextLen == start
		},
		gen.SliceOf(gen.IntRange(1, 40)),
	))

	properties.Property("splitting the combined text restores every page", prop.ForAll(
		func(lengths []int) bool {
			if len(lengths) == 0 {
				return true
			}
			out, pages, ok := runPages(lengths)
			if !ok || out.Result == nil {
				return false
			}

			split := recog.SplitPages(out.Result, out.Offsets)
			var joined strings.Builder
			for i, page := range pages {
				if split[i] != page.Text() {
					return false
				}
				joined.WriteString(page.Text())
			}
			return joined.String() == out.Result.Text()
		},
		gen.SliceOfN(8, gen.IntRange(1, 25)),
	))

	properties.TestingRun(t)
}
