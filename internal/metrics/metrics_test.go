package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSelection(t *testing.T) {
	r := NewRecorder()
	r.ObserveSelection(3, 5, 2, 8)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.changedFiles))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.changedFunctions))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.impactedTests))
	assert.Equal(t, 0.25, testutil.ToFloat64(r.selectionRatio))
}

func TestObserveSelection_NoKnownTests(t *testing.T) {
	r := NewRecorder()
	r.ObserveSelection(1, 1, 0, 0)
	assert.Zero(t, testutil.ToFloat64(r.selectionRatio))
}

func TestObserveLearnAndPhase(t *testing.T) {
	r := NewRecorder()
	r.ObserveLearn(12, 30)
	r.ObservePhase("learn", 1500*time.Millisecond)

	assert.Equal(t, 12.0, testutil.ToFloat64(r.learnFunctions))
	assert.Equal(t, 30.0, testutil.ToFloat64(r.learnLinksCreated))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.runDuration.WithLabelValues("learn")))
}

func TestFallback(t *testing.T) {
	r := NewRecorder()
	r.Fallback(ReasonNoImpacted)
	r.Fallback(ReasonNoImpacted)
	r.Fallback(ReasonVCSError)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.fallbackTotal.WithLabelValues(ReasonNoImpacted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbackTotal.WithLabelValues(ReasonVCSError)))
	assert.Equal(t, 2, testutil.CollectAndCount(r.fallbackTotal))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveSelection(1, 2, 3, 4)
		r.ObserveLearn(1, 2)
		r.ObservePhase("select", time.Second)
		r.Fallback(ReasonNoChanges)
		require.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "none.prom")))
	})
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveSelection(1, 1, 1, 4)
	r.Fallback(ReasonNoChanges)

	path := filepath.Join(t.TempDir(), "buildlens.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# TYPE buildlens_selection_ratio gauge")
	assert.Contains(t, text, "buildlens_selection_ratio 0.25")
	assert.Contains(t, text, `buildlens_fallback_total{reason="no_changes"} 1`)

	expected := `
# HELP buildlens_impacted_tests Learned tests linked to a changed function.
# TYPE buildlens_impacted_tests gauge
buildlens_impacted_tests 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "buildlens_impacted_tests"))
}
