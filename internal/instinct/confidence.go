package instinct

import "time"

// Score computes the Laplace-smoothed confidence for the given counters.
//
// This is the mean of a Beta(successes+1, failures+1) posterior under a
// uniform Beta(1,1) prior: (successes+1)/(applications+2). The result is
// always strictly inside (0,1) for non-negative counters.
func Score(applications, successes int) float64 {
	return float64(successes+1) / float64(applications+2)
}

// RecordSuccess applies a successful outcome: both counters advance,
// confidence is recomputed, and the application timestamp moves to now.
func (in *Instinct) RecordSuccess(now time.Time) {
	in.Successes++
	in.Applications++
	in.recompute(now)
}

// RecordFailure applies a failed or user-corrected outcome: only the
// application counter advances, so confidence decreases or stays flat.
func (in *Instinct) RecordFailure(now time.Time) {
	in.Applications++
	in.recompute(now)
}

func (in *Instinct) recompute(now time.Time) {
	in.Confidence = Score(in.Applications, in.Successes)
	in.LastAppliedAt = now
	in.UpdatedAt = now
	// A fresh application resets the staleness clock.
	in.DecayWindows = 0
}

// Decay pulls confidence toward the uninformative prior (0.5) for
// instincts that have not been applied within the staleness window.
//
// The pass is a trust adjustment only: counters are untouched, so the
// pre-decay confidence remains re-derivable from them. Idempotence is
// guaranteed by DecayWindows: each elapsed window is applied at most once
// regardless of how often the pass runs.
//
// Returns true if confidence changed.
func (in *Instinct) Decay(now time.Time, window time.Duration, factor float64) bool {
	if window <= 0 || factor <= 0 {
		return false
	}
	anchor := in.LastAppliedAt
	if anchor.IsZero() {
		anchor = in.CreatedAt
	}
	elapsed := int(now.Sub(anchor) / window)
	if elapsed <= in.DecayWindows {
		return false
	}
	for i := in.DecayWindows; i < elapsed; i++ {
		in.Confidence += (0.5 - in.Confidence) * factor
	}
	in.DecayWindows = elapsed
	in.UpdatedAt = now
	return true
}
