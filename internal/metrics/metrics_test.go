package metrics

import (
	"testing"
	"time"

	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	var _ recog.Observer = m

	m.RecognitionStarted(recog.KindFiles)
	m.PageRecognized(recog.KindFiles, 120)
	m.PageRecognized(recog.KindFiles, 30)
	m.RecognitionFinished(recog.KindFiles, recog.StatusSuccess, 2*time.Second)
	m.RecognitionFinished(recog.KindScreen, recog.StatusRejected, 0)

	assert.InDelta(t, 1, testutil.ToFloat64(m.recognitionsStarted.WithLabelValues("files")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.pagesRecognized.WithLabelValues("files")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.recognitionsFinished.WithLabelValues("files", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.recognitionsFinished.WithLabelValues("screen", "rejected")), 0)

	count, err := testutil.GatherAndCount(reg, "naocr_recognition_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "rejections are not timed")
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordHTTPRequest("GET", "/health", "200", 5*time.Millisecond)
	assert.InDelta(t, 1, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/health", "200")), 0)
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
