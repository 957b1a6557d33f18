// Package instinct defines the core data model of the instinct lifecycle
// engine: atomic trigger→action records with Bayesian confidence scoring.
//
// An instinct pairs exactly one trigger (the condition under which a
// behavior applies) with exactly one action (the prescribed behavior).
// Instincts are created from session observations with a low seed
// confidence and earn or lose trust through application outcomes.
//
// # Confidence
//
// Confidence uses Laplace smoothing over the application counters:
//
//	confidence = (successes + 1) / (applications + 2)
//
// This is the mean of a Beta(successes+1, failures+1) posterior under a
// uniform prior. It is strictly inside (0,1) and converges toward the
// empirical success rate as applications grow.
//
// # Similarity
//
// Merge and contradiction detection depend on text similarity. The
// Similarity function type is injectable so callers and tests can
// substitute deterministic implementations; TokenJaccard is the default.
// Contradiction additionally requires opposite-polarity actions, detected
// via a shallow negation keyword check. Pattern handling in this package
// is structural/textual only; no semantic interpretation is attempted.
package instinct
