// Package store provides the durable instinct collection: one Markdown
// record per instinct under a store directory, with concurrency-safe
// create-or-merge and outcome application.
//
// Mutations are scoped to one record at a time and committed with
// compare-and-swap on the record version: a writer reads the current
// version, computes the new state, and commits only if the stored version
// still matches, retrying on mismatch up to a bounded attempt count. No
// global lock is held across a whole operation, so independent session
// processes can update the store concurrently.
//
// Records are never hard-deleted. Archival (on evolution or manual
// retirement) preserves the evidence trail for auditability. Malformed
// records encountered during load are skipped with a warning and do not
// abort loading the rest of the store.
package store
