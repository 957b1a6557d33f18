// Package evolution promotes mature instincts into higher-order artifact
// proposals (skills, commands, specialist agents).
//
// Clustering is a batch operation modeled as a pure function from a store
// snapshot to cluster proposals: no mutation happens at proposal time.
// Active, non-contradicted instincts are grouped by domain, then by
// action similarity within the domain. A group is a valid cluster only
// when it has at least MinClusterSize members, every member's confidence
// exceeds the floor, and no two members mutually contradict (re-checked
// here because contradiction can cross domains). Invalid groups are
// reported with a reason code rather than dropped.
//
// Archival happens only after the external artifact emitter accepts a
// cluster; members transition to archived with a back-reference to the
// generated artifact, preserving history. Scheduling is the caller's
// responsibility: run Propose on demand or on a coarse periodic trigger
// once the store has changed.
package evolution
