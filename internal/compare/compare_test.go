package compare

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"ddosguard/pkg/models"
)

// floodBatch mixes background traffic from many sources with two flooding
// sources that exceed the per-window threshold.
func floodBatch(base time.Time) []models.RequestEvent {
	var events []models.RequestEvent
	for i := 0; i < 200; i++ {
		events = append(events, models.RequestEvent{
			SourceID:  fmt.Sprintf("172.16.0.%d", i%40),
			Timestamp: base.Add(time.Duration(i) * 100 * time.Millisecond),
		})
	}
	for _, src := range []string{"10.0.0.1", "10.0.0.2"} {
		for i := 0; i < 30; i++ {
			events = append(events, models.RequestEvent{
				SourceID:  src,
				Timestamp: base.Add(5*time.Second + time.Duration(i)*50*time.Millisecond),
			})
		}
	}
	return events
}

func TestStrategiesAgreeOnFloodBatch(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := floodBatch(base)
	opts := Options{Window: 10 * time.Second, Threshold: 20, Timeout: 30 * time.Second}

	results := Run(context.Background(), events, Strategies(), opts)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	want := []string{"10.0.0.1", "10.0.0.2"}
	for _, res := range results {
		if res.Skipped || res.Err != "" {
			t.Fatalf("%s: unexpected failure: %+v", res.Strategy, res)
		}
		if !reflect.DeepEqual(res.Suspects, want) {
			t.Fatalf("%s: expected suspects %v, got %v", res.Strategy, want, res.Suspects)
		}
	}
}

func TestSlidingWindowHandlesUnsortedInput(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := floodBatch(base)
	// Reverse the batch; SlidingWindow must sort before scanning.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	got, err := SlidingWindow(context.Background(), events, Options{Window: 10 * time.Second, Threshold: 20})
	if err != nil {
		t.Fatalf("SlidingWindow: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"10.0.0.1", "10.0.0.2"}) {
		t.Fatalf("unexpected suspects: %v", got)
	}
}

func TestRunSkipsStrategyPastItsDeadline(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := floodBatch(base)

	slow := Strategy{
		Name: "slow",
		Fn: func(ctx context.Context, _ []models.RequestEvent, _ Options) ([]string, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	strategies := append([]Strategy{slow}, Strategies()...)

	results := Run(context.Background(), events, strategies, Options{
		Window:    10 * time.Second,
		Threshold: 20,
		Timeout:   50 * time.Millisecond,
	})

	if !results[0].Skipped || results[0].Suspects != nil {
		t.Fatalf("expected slow strategy skipped, got %+v", results[0])
	}
	for _, res := range results[1:] {
		if res.Skipped {
			t.Fatalf("%s: must not be affected by the slow strategy, got %+v", res.Strategy, res)
		}
		if len(res.Suspects) != 2 {
			t.Fatalf("%s: expected 2 suspects, got %v", res.Strategy, res.Suspects)
		}
	}
}

func TestBruteForceBelowThresholdFlagsNothing(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []models.RequestEvent
	for i := 0; i < 50; i++ {
		events = append(events, models.RequestEvent{
			SourceID:  fmt.Sprintf("172.16.0.%d", i%10),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	got, err := BruteForce(context.Background(), events, Options{Window: 10 * time.Second, Threshold: 20})
	if err != nil {
		t.Fatalf("BruteForce: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no suspects, got %v", got)
	}
}
