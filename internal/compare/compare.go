package compare

import (
	"context"
	"sort"
	"time"

	"ddosguard/pkg/models"
)

// Options control an offline detection run.
type Options struct {
	// Window is the neighborhood inside which requests from one source are
	// counted together.
	Window time.Duration
	// Threshold is the per-source request count above which a source is
	// flagged.
	Threshold int
	// Timeout bounds each strategy individually; a strategy past its
	// deadline is reported skipped without affecting the others.
	Timeout time.Duration
}

// Strategy is one offline detection algorithm over an event batch.
type Strategy struct {
	Name string
	Fn   func(ctx context.Context, events []models.RequestEvent, opts Options) ([]string, error)
}

// Result is the outcome of one strategy run.
type Result struct {
	Strategy string        `json:"strategy"`
	Suspects []string      `json:"suspects"`
	Elapsed  time.Duration `json:"elapsed"`
	Skipped  bool          `json:"skipped"`
	Err      string        `json:"error,omitempty"`
}

// Strategies returns the built-in strategy set: the quadratic reference
// implementation and the optimized sliding-window pass.
func Strategies() []Strategy {
	return []Strategy{
		{Name: "brute_force", Fn: BruteForce},
		{Name: "sliding_window", Fn: SlidingWindow},
	}
}

// Run executes every strategy against the same batch, each under its own
// deadline.
func Run(ctx context.Context, events []models.RequestEvent, strategies []Strategy, opts Options) []Result {
	if opts.Window <= 0 {
		opts.Window = 10 * time.Second
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	results := make([]Result, 0, len(strategies))
	for _, strat := range strategies {
		runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		start := time.Now()
		suspects, err := strat.Fn(runCtx, events, opts)
		elapsed := time.Since(start)
		cancel()

		res := Result{Strategy: strat.Name, Suspects: suspects, Elapsed: elapsed}
		if err != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				res.Skipped = true
				res.Suspects = nil
			}
			res.Err = err.Error()
		}
		results = append(results, res)
	}
	return results
}

// BruteForce counts, for every request, the same-source requests within the
// window around it. Quadratic; kept as the correctness reference for the
// optimized pass.
func BruteForce(ctx context.Context, events []models.RequestEvent, opts Options) ([]string, error) {
	flagged := make(map[string]struct{})
	for i, ev := range events {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if _, done := flagged[ev.SourceID]; done {
			continue
		}
		count := 0
		for _, other := range events {
			if other.SourceID != ev.SourceID {
				continue
			}
			d := other.Timestamp.Sub(ev.Timestamp)
			if d < 0 {
				d = -d
			}
			if d <= opts.Window {
				count++
			}
		}
		if count > opts.Threshold {
			flagged[ev.SourceID] = struct{}{}
		}
	}
	return sortedKeys(flagged), nil
}

// SlidingWindow sorts the batch once and advances a per-source window with
// two pointers, flagging sources whose in-window count exceeds the
// threshold.
func SlidingWindow(ctx context.Context, events []models.RequestEvent, opts Options) ([]string, error) {
	sorted := make([]models.RequestEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	type state struct {
		times []time.Time
		head  int
	}
	perSource := make(map[string]*state)
	flagged := make(map[string]struct{})

	for i, ev := range sorted {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		st := perSource[ev.SourceID]
		if st == nil {
			st = &state{}
			perSource[ev.SourceID] = st
		}
		st.times = append(st.times, ev.Timestamp)
		cutoff := ev.Timestamp.Add(-opts.Window)
		for st.head < len(st.times) && st.times[st.head].Before(cutoff) {
			st.head++
		}
		if len(st.times)-st.head > opts.Threshold {
			flagged[ev.SourceID] = struct{}{}
		}
	}
	return sortedKeys(flagged), nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
