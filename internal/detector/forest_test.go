package detector

import "testing"

// clusteredData builds a dense cluster near (1,1) plus a handful of points
// far outside it.
func clusteredData() [][]float64 {
	data := make([][]float64, 0, 100)
	for i := 0; i < 95; i++ {
		data = append(data, []float64{
			1 + 0.01*float64(i%10),
			1 + 0.01*float64(i%7),
		})
	}
	for i := 0; i < 5; i++ {
		data = append(data, []float64{10 + float64(i), 10 + float64(i)})
	}
	return data
}

func TestForestScoresOutlierAboveInlier(t *testing.T) {
	f := newIsolationForest(100, 64, 42)
	if err := f.Fit(clusteredData()); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	inlier, err := f.Score([]float64{1.05, 1.03})
	if err != nil {
		t.Fatalf("Score inlier: %v", err)
	}
	outlier, err := f.Score([]float64{12, 12})
	if err != nil {
		t.Fatalf("Score outlier: %v", err)
	}

	if outlier <= inlier {
		t.Fatalf("expected outlier (%v) to score above inlier (%v)", outlier, inlier)
	}
	for _, s := range []float64{inlier, outlier} {
		if s <= 0 || s > 1 {
			t.Fatalf("score %v out of (0,1]", s)
		}
	}
}

func TestForestScoreBeforeFitFails(t *testing.T) {
	f := newIsolationForest(10, 16, 42)
	if _, err := f.Score([]float64{1, 2}); err == nil {
		t.Fatalf("expected error for unfitted forest")
	}
}

func TestForestFitRejectsEmptyData(t *testing.T) {
	f := newIsolationForest(10, 16, 42)
	if err := f.Fit(nil); err == nil {
		t.Fatalf("expected error for empty training data")
	}
}

func TestForestFitHandlesSampleLargerThanData(t *testing.T) {
	f := newIsolationForest(10, 256, 42)
	if err := f.Fit(clusteredData()); err != nil {
		t.Fatalf("Fit with oversized sample: %v", err)
	}
	if _, err := f.Score([]float64{1, 1}); err != nil {
		t.Fatalf("Score: %v", err)
	}
}

func TestAvgPathLength(t *testing.T) {
	if got := avgPathLength(0); got != 0 {
		t.Fatalf("expected 0 for empty leaf, got %v", got)
	}
	if got := avgPathLength(1); got != 0 {
		t.Fatalf("expected 0 for singleton leaf, got %v", got)
	}
	prev := 0.0
	for n := 2; n <= 512; n *= 2 {
		got := avgPathLength(n)
		if got <= prev {
			t.Fatalf("expected monotonic growth, c(%d)=%v after %v", n, got, prev)
		}
		prev = got
	}
}
