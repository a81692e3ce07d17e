package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageSynthesize, 500)
	w.Observe(StageSynthesize, 700)
	w.Observe(StageSynthesize, 900)
	w.Observe("", 100)
	w.Observe(StageRecognize, -1)
	w.ObserveIndicator("recognition_retry")
	w.ObserveIndicator("recognition_retry")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageSynthesize || s.Samples != 3 {
		t.Fatalf("stage = %+v, want 3 synthesize samples", s)
	}
	if s.LastMS != 900 || s.MaxMS != 900 {
		t.Fatalf("LastMS/MaxMS = %.2f/%.2f, want 900/900", s.LastMS, s.MaxMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1500 {
		t.Fatalf("TargetP95MS = %.2f, want 1500", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one indicator with count 2", snap.Indicators)
	}
}

func TestStageWindowOverwritesOldest(t *testing.T) {
	w := newStageWindow(4)
	for i := 1; i <= 10; i++ {
		w.Observe(StageRespond, float64(i*100))
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", s.Samples)
	}
	if s.AvgMS != 850 {
		t.Fatalf("AvgMS = %.2f, want 850 (last four samples)", s.AvgMS)
	}
}

func TestMetricsObserveStage(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("test_obs_%d", time.Now().UnixNano()))
	m.ObserveStage(StageTurnTotal, 1200*time.Millisecond)
	m.ObserveIndicator("silence_fallback")

	snap := m.SnapshotStages()
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 1200 {
		t.Fatalf("SnapshotStages() = %+v, want one 1200ms turn_total sample", snap.Stages)
	}
}
