package task

import "time"

// Snapshot is an immutable progress view for the presenter.
type Snapshot struct {
	ID     string
	Kind   Kind
	Source string
	Target string

	Skip  int
	Limit int
	Total int

	Fetched   int
	Forwarded int
	Duplicate int
	Filtered  int
	Skipped   int

	Percent float64
	// Rate is fetched items per second since MarkStart.
	Rate    float64
	ETA     time.Duration
	Elapsed time.Duration

	Cancelled bool
}

func makeSnapshot(st *State, now time.Time) Snapshot {
	snap := Snapshot{
		ID:        st.ID,
		Kind:      st.Kind,
		Source:    st.Source.String(),
		Target:    st.Target.String(),
		Skip:      st.Skip,
		Limit:     st.Limit,
		Total:     st.Total,
		Fetched:   st.FetchedN,
		Forwarded: st.ForwardedN,
		Duplicate: st.DuplicateN,
		Filtered:  st.FilteredN,
		Skipped:   st.SkippedN,
		Cancelled: st.CancelRequested(),
	}

	total := snap.Total
	if total < 1 {
		total = 1
	}
	snap.Percent = float64(snap.Fetched) * 100 / float64(total)
	if snap.Percent > 100 {
		snap.Percent = 100
	}

	if !st.StartedAt.IsZero() {
		snap.Elapsed = now.Sub(st.StartedAt)
		secs := snap.Elapsed.Seconds()
		if secs > 0 {
			snap.Rate = float64(snap.Fetched) / secs
		}
		remaining := snap.Total - snap.Fetched
		if remaining > 0 {
			rate := snap.Rate
			if rate < 1e-6 {
				rate = 1e-6
			}
			snap.ETA = time.Duration(float64(remaining)/rate) * time.Second
		}
	}
	return snap
}
