package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/instinctd/internal/instinct"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DefaultConfig(t.TempDir()), nil, nil)
	require.NoError(t, err)
	return s
}

func testCandidate() *instinct.Candidate {
	return &instinct.Candidate{
		Trigger:  "editing SQL query construction",
		Action:   "use parameterized queries",
		Domain:   instinct.DomainSecurity,
		Source:   instinct.SourceSession,
		Pattern:  instinct.PatternCorrection,
		Evidence: []string{"obs-1", "obs-2"},
	}
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Config{}, nil, nil)
	assert.Error(t, err)
}

func TestCreateOrMerge_CreatesRecordOnDisk(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)
	assert.Equal(t, instinct.DeriveID("editing SQL query construction", "use parameterized queries"), id)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, instinct.SeedConfidence, rec.Confidence)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, instinct.StatusActive, rec.Status)

	// One record file per instinct, named by ID.
	_, err = os.Stat(filepath.Join(s.cfg.Dir, id+".md"))
	assert.NoError(t, err)
}

func TestCreateOrMerge_InvalidCandidate(t *testing.T) {
	s := openTestStore(t)

	cand := testCandidate()
	cand.Trigger = ""
	_, _, err := s.CreateOrMerge(context.Background(), cand)
	assert.ErrorIs(t, err, ErrInvalidCandidate)
	assert.Empty(t, s.Snapshot(context.Background()))
}

func TestCreateOrMerge_IdenticalCandidateMerges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)

	dup := testCandidate()
	dup.Evidence = []string{"obs-2", "obs-3"}
	second, _, err := s.CreateOrMerge(ctx, dup)
	require.NoError(t, err)

	assert.Equal(t, first, second, "same content resolves to the same instinct")
	assert.Len(t, s.Snapshot(ctx), 1)

	rec, err := s.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, []string{"obs-1", "obs-2", "obs-3"}, rec.Evidence, "evidence unions without duplicates")
	assert.Equal(t, 0, rec.Applications, "an unproven merge is not an application")
	assert.Equal(t, instinct.SeedConfidence, rec.Confidence)
}

func TestCreateOrMerge_SimilarTriggerMerges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)

	// Same trigger, differently phrased action: still the same instinct.
	similar := testCandidate()
	similar.Action = "always bind query parameters"
	similar.Evidence = []string{"obs-9"}
	second, _, err := s.CreateOrMerge(ctx, similar)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, s.Snapshot(ctx), 1)

	rec, err := s.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "use parameterized queries", rec.Action, "the established action wins")
	assert.Contains(t, rec.Evidence, "obs-9")
}

func TestCreateOrMerge_ProvenMergeScoresSuccess(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)

	proven := testCandidate()
	proven.Proven = true
	proven.Evidence = []string{"obs-7"}
	_, _, err = s.CreateOrMerge(ctx, proven)
	require.NoError(t, err)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Applications)
	assert.Equal(t, 1, rec.Successes)
	assert.InDelta(t, 2.0/3.0, rec.Confidence, 1e-9)
}

func TestCreateOrMerge_DifferentDomainsStaySeparate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)

	other := testCandidate()
	other.Domain = instinct.DomainTesting
	other.Action = "a different action entirely"
	_, _, err = s.CreateOrMerge(ctx, other)
	require.NoError(t, err)

	assert.Len(t, s.Snapshot(ctx), 2)
}

func TestApplyOutcome(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)

	// First outcome switches from the seed to the counter-derived score.
	conf, err := s.ApplyOutcome(ctx, id, true)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, conf, 1e-9)

	conf, err = s.ApplyOutcome(ctx, id, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, conf, 1e-9)

	conf, err = s.ApplyOutcome(ctx, id, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, conf, 1e-9)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Applications)
	assert.Equal(t, 2, rec.Successes)
	assert.Equal(t, 4, rec.Version, "every committed outcome bumps the version")
}

func TestApplyOutcome_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ApplyOutcome(context.Background(), "inst-missing", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyOutcome_ArchivedRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)
	require.NoError(t, s.Archive(ctx, id, "skill-1234"))

	_, err = s.ApplyOutcome(ctx, id, true)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(DefaultConfig(dir), nil, nil)
	require.NoError(t, err)
	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)
	_, err = s.ApplyOutcome(ctx, id, true)
	require.NoError(t, err)

	reopened, err := Open(DefaultConfig(dir), nil, nil)
	require.NoError(t, err)

	rec, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Applications)
	assert.Equal(t, 1, rec.Successes)
	assert.InDelta(t, 2.0/3.0, rec.Confidence, 1e-9)
	assert.Equal(t, 2, rec.Version)
}

func TestOpen_SkipsMalformedRecords(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(DefaultConfig(dir), nil, nil)
	require.NoError(t, err)
	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)

	// A corrupt neighbor must not block the load.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inst-corrupt.md"), []byte("not a record"), 0600))

	reopened, err := Open(DefaultConfig(dir), nil, nil)
	require.NoError(t, err)
	assert.Len(t, reopened.Snapshot(ctx), 1)
	_, err = reopened.Get(ctx, id)
	assert.NoError(t, err)
}

func TestListByDomain(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	high, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.ApplyOutcome(ctx, high, true)
		require.NoError(t, err)
	}

	mid := testCandidate()
	mid.Trigger = "reviewing authentication middleware"
	mid.Action = "check token expiry explicitly"
	midID, _, err := s.CreateOrMerge(ctx, mid)
	require.NoError(t, err)
	_, err = s.ApplyOutcome(ctx, midID, true)
	require.NoError(t, err)

	low := testCandidate()
	low.Trigger = "handling file uploads"
	low.Action = "reject absolute paths"
	_, _, err = s.CreateOrMerge(ctx, low)
	require.NoError(t, err)

	// Threshold filters the seed-confidence newcomer.
	got, err := s.ListByDomain(ctx, instinct.DomainSecurity, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, high, got[0].ID, "highest confidence first")
	assert.Equal(t, midID, got[1].ID)

	all, err := s.ListByDomain(ctx, instinct.DomainSecurity, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	empty, err := s.ListByDomain(ctx, instinct.DomainStyle, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.ListByDomain(ctx, "devops", 0)
	assert.ErrorIs(t, err, instinct.ErrInvalidDomain)
}

func TestListByDomain_ExcludesArchivedKeepsContradicted(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.MergeSimilarity = 1.1 // disable merging so opposing records coexist
	s, err := Open(cfg, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	a := testCandidate()
	a.Action = "always run the linter before committing"
	aID, _, err := s.CreateOrMerge(ctx, a)
	require.NoError(t, err)

	b := testCandidate()
	b.Action = "never run the linter before committing"
	bID, _, err := s.CreateOrMerge(ctx, b)
	require.NoError(t, err)

	archived := testCandidate()
	archived.Trigger = "something else entirely"
	archivedID, _, err := s.CreateOrMerge(ctx, archived)
	require.NoError(t, err)
	require.NoError(t, s.Archive(ctx, archivedID, ""))

	_, err = s.DetectContradictions(ctx)
	require.NoError(t, err)

	got, err := s.ListByDomain(ctx, instinct.DomainSecurity, 0)
	require.NoError(t, err)
	require.Len(t, got, 2, "contradicted stay visible, archived drop out")
	ids := []string{got[0].ID, got[1].ID}
	assert.ElementsMatch(t, []string{aID, bID}, ids)
	for _, rec := range got {
		assert.Equal(t, instinct.StatusContradicted, rec.Status)
	}
}

func TestArchive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)
	require.NoError(t, s.Archive(ctx, id, "skill-ab12cd34"))

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, instinct.StatusArchived, rec.Status)
	assert.Equal(t, "skill-ab12cd34", rec.ArtifactRef)
	assert.Equal(t, []string{"obs-1", "obs-2"}, rec.Evidence, "evidence trail is preserved")

	assert.ErrorIs(t, s.Archive(ctx, "inst-missing", ""), ErrNotFound)
}

func TestArchive_RepeatKeepsFirstArtifactRef(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)
	require.NoError(t, s.Archive(ctx, id, "skill-first"))

	first, err := s.Get(ctx, id)
	require.NoError(t, err)

	// Re-archival is a no-op: the original back-reference survives and
	// no new version is committed.
	require.NoError(t, s.Archive(ctx, id, "skill-second"))

	second, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "skill-first", second.ArtifactRef)
	assert.Equal(t, first.Version, second.Version)
}

func TestMergeInto_RetiredTargetRefused(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A merge target found active can be retired before the commit; the
	// merge must refuse instead of mutating the archived record.
	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)
	require.NoError(t, s.Archive(ctx, id, "skill-1"))

	before, err := s.Get(ctx, id)
	require.NoError(t, err)

	cand := testCandidate()
	cand.Proven = true
	cand.Evidence = []string{"obs-late"}
	merged, err := s.mergeInto(ctx, id, cand)
	require.NoError(t, err)
	assert.False(t, merged)

	after, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Applications, after.Applications)
	assert.NotContains(t, after.Evidence, "obs-late")
	assert.Equal(t, before.Version, after.Version)

	// The refused candidate inserts as its own instinct instead.
	fresh := testCandidate()
	fresh.Action = "bind every query parameter"
	freshID, created, err := s.CreateOrMerge(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, id, freshID)
}

func TestDecayPass(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = s.ApplyOutcome(ctx, id, true)
		require.NoError(t, err)
	}

	// Age the instinct past one staleness window.
	stale := time.Now().Add(-s.cfg.DecayWindow - time.Hour)
	_, err = s.update(ctx, id, func(in *instinct.Instinct) error {
		in.LastAppliedAt = stale
		return nil
	})
	require.NoError(t, err)

	before, err := s.Get(ctx, id)
	require.NoError(t, err)

	now := time.Now()
	decayed, err := s.DecayPass(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, decayed)

	after, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Less(t, after.Confidence, before.Confidence)
	assert.Greater(t, after.Confidence, 0.5)
	assert.Equal(t, before.Applications, after.Applications, "counters are untouched")
	assert.Equal(t, before.Successes, after.Successes)

	// Idempotent: re-running within the same window decays nothing and
	// commits nothing.
	again, err := s.DecayPass(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, again)

	final, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, after.Version, final.Version, "a no-op pass does not churn versions")
}

func TestDecayPass_FreshAndArchivedUntouched(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fresh, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)
	_, err = s.ApplyOutcome(ctx, fresh, true)
	require.NoError(t, err)

	before, err := s.Get(ctx, fresh)
	require.NoError(t, err)

	decayed, err := s.DecayPass(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, decayed)

	after, err := s.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version, "untouched records keep their version")
}

func TestDetectContradictions(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.MergeSimilarity = 1.1 // disable merging so opposing records coexist
	s, err := Open(cfg, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	a := testCandidate()
	a.Action = "always validate input at the boundary"
	aID, _, err := s.CreateOrMerge(ctx, a)
	require.NoError(t, err)

	b := testCandidate()
	b.Action = "never validate input at the boundary"
	bID, _, err := s.CreateOrMerge(ctx, b)
	require.NoError(t, err)

	unrelated := testCandidate()
	unrelated.Trigger = "choosing between channels and mutexes"
	unrelated.Action = "prefer channels for ownership transfer"
	unrelatedID, _, err := s.CreateOrMerge(ctx, unrelated)
	require.NoError(t, err)

	pairs, err := s.DetectContradictions(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.ElementsMatch(t, []string{aID, bID}, []string{pairs[0].A, pairs[0].B})

	for _, id := range []string{aID, bID} {
		rec, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, instinct.StatusContradicted, rec.Status)
	}
	rec, err := s.Get(ctx, unrelatedID)
	require.NoError(t, err)
	assert.Equal(t, instinct.StatusActive, rec.Status)

	// A second sweep finds nothing: contradicted records are no longer
	// active participants.
	pairs, err = s.DetectContradictions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestUpdate_RetriesThroughConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)

	// The first attempt races against an interleaved writer and must be
	// retried against the fresh version.
	calls := 0
	_, err = s.update(ctx, id, func(in *instinct.Instinct) error {
		calls++
		if calls == 1 {
			_, err := s.ApplyOutcome(ctx, id, true)
			require.NoError(t, err)
		}
		in.Evidence = appendNewEvidence(in.Evidence, []string{"obs-late"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Applications, "the interleaved outcome survived")
	assert.Contains(t, rec.Evidence, "obs-late")
}

func TestUpdate_ConflictBoundExhausted(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.RetryLimit = 1
	s, err := Open(cfg, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)

	_, err = s.update(ctx, id, func(in *instinct.Instinct) error {
		// Invalidate our own read before committing.
		_, aerr := s.ApplyOutcome(ctx, id, true)
		require.NoError(t, aerr)
		return nil
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestApplyOutcome_ConcurrentWritersLoseNothing(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.RetryLimit = 100
	s, err := Open(cfg, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ApplyOutcome(ctx, id, i%2 == 0)
		}(i)
	}
	wg.Wait()

	committed, succeeded := 0, 0
	for i, e := range errs {
		if e == nil {
			committed++
			if i%2 == 0 {
				succeeded++
			}
		}
	}
	require.Equal(t, writers, committed)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, committed, rec.Applications, "no committed outcome is lost")
	assert.Equal(t, succeeded, rec.Successes)
	assert.InDelta(t, instinct.Score(rec.Applications, rec.Successes), rec.Confidence, 1e-9)
}

func TestGet_ReturnsIsolatedCopy(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _, err := s.CreateOrMerge(ctx, testCandidate())
	require.NoError(t, err)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	rec.Confidence = 0.99
	rec.Evidence = append(rec.Evidence, "obs-tampered")

	fresh, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, instinct.SeedConfidence, fresh.Confidence)
	assert.NotContains(t, fresh.Evidence, "obs-tampered")
}
