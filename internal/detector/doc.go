// Package detector turns per-session observation sequences into candidate
// instincts. Three independent passes run over the same sequence and their
// results are unioned:
//
//   - correction: an agent action the user explicitly corrected, where the
//     corrective text materially differs from the original.
//   - error-resolution: a failing tool outcome followed in-session by a
//     successful retry of the same tool.
//   - repeated-workflow: an identical ordered tool sub-sequence (length
//     >= 2) recurring at least twice in the session.
//
// Candidates are domain-tagged via ordered regex rules; sessions producing
// no qualifying pattern yield an empty result, not an error.
package detector
