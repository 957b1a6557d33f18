package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/instinctd/internal/instinct"
)

func TestExport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = s.ApplyOutcome(ctx, id, true)
		require.NoError(t, err)
	}

	archived := testCandidate()
	archived.Trigger = "an already evolved habit"
	archived.Action = "covered by a skill artifact"
	archivedID, _, err := s.CreateOrMerge(ctx, archived)
	require.NoError(t, err)
	require.NoError(t, s.Archive(ctx, archivedID, "skill-old"))

	dir := t.TempDir()
	res, err := s.Export(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Exported)
	assert.Equal(t, 1, res.Skipped, "archived records are history, not transferable habits")

	data, err := os.ReadFile(filepath.Join(dir, id+".md"))
	require.NoError(t, err)

	out, err := UnmarshalRecord(data)
	require.NoError(t, err)
	assert.Equal(t, "editing SQL query construction", out.Trigger)
	assert.Equal(t, "use parameterized queries", out.Action)

	// The receiving store re-earns trust: counters and history stay home.
	assert.Equal(t, 0, out.Applications)
	assert.Equal(t, 0, out.Successes)
	assert.Equal(t, 1, out.Version)
	assert.Empty(t, out.ArtifactRef)

	_, err = os.Stat(filepath.Join(dir, archivedID+".md"))
	assert.True(t, os.IsNotExist(err))
}

func TestExport_StripsEvidenceNotes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cand := testCandidate()
	cand.Evidence = []string{"obs-1", "note:reviewer said the query builder leaks table names"}
	id, _, err := s.CreateOrMerge(ctx, cand)
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = s.Export(ctx, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, id+".md"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "query builder leaks")

	out, err := UnmarshalRecord(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"obs-1", "note:reviewer"}, out.Evidence)
}

func TestImport(t *testing.T) {
	ctx := context.Background()

	src := openTestStore(t)
	_, _, err := src.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)

	second := testCandidate()
	second.Trigger = "reviewing goroutine lifecycles"
	second.Action = "tie every goroutine to a context"
	second.Domain = instinct.DomainArchitecture
	_, _, err = src.CreateOrMerge(ctx, second)
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = src.Export(ctx, dir)
	require.NoError(t, err)

	dst := openTestStore(t)
	res, err := dst.Import(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 0, res.Merged)

	id := instinct.DeriveID("editing SQL query construction", "use parameterized queries")
	rec, err := dst.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, instinct.SourceInherited, rec.Source, "provenance is the receiving store's, not the sender's")
	assert.Equal(t, instinct.SeedConfidence, rec.Confidence)
	assert.Equal(t, 0, rec.Applications)

	// Importing the same batch again merges instead of duplicating.
	res, err = dst.Import(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 2, res.Merged)
	assert.Len(t, dst.Snapshot(ctx), 2)
}

func TestImport_SimilarTriggerCountsAsMerged(t *testing.T) {
	ctx := context.Background()

	src := openTestStore(t)
	cand := testCandidate()
	cand.Action = "always bind query parameters"
	_, _, err := src.CreateOrMerge(ctx, cand)
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = src.Export(ctx, dir)
	require.NoError(t, err)

	// The receiving store already holds the same habit under a different
	// content-derived ID. The merge path absorbs the import, and the
	// result counts as merged rather than imported.
	dst := openTestStore(t)
	existing, _, err := dst.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)

	res, err := dst.Import(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 1, res.Merged)
	assert.Len(t, dst.Snapshot(ctx), 1)

	rec, err := dst.Get(ctx, existing)
	require.NoError(t, err)
	assert.Equal(t, "use parameterized queries", rec.Action, "the established action wins")
}

func TestImport_SkipsMalformed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.md"), []byte("not a record"), 0600))

	src := openTestStore(t)
	_, _, err := src.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)
	_, err = src.Export(ctx, dir)
	require.NoError(t, err)

	dst := openTestStore(t)
	res, err := dst.Import(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)
}

func TestExportImport_RoundTripKeepsPattern(t *testing.T) {
	ctx := context.Background()

	src := openTestStore(t)
	cand := testCandidate()
	cand.Pattern = instinct.PatternErrorResolution
	id, _, err := src.CreateOrMerge(ctx, cand)
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = src.Export(ctx, dir)
	require.NoError(t, err)

	dst := openTestStore(t)
	_, err = dst.Import(ctx, dir)
	require.NoError(t, err)

	rec, err := dst.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, instinct.PatternErrorResolution, rec.Pattern)
}
