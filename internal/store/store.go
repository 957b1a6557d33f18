package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/instinctd/internal/instinct"
)

const instrumentationName = "github.com/fyrsmithlabs/instinctd/internal/store"

// Errors for store operations.
var (
	ErrNotFound         = errors.New("instinct not found")
	ErrVersionConflict  = errors.New("version conflict: concurrent update exceeded retry bound, resubmit the operation")
	ErrInvalidCandidate = errors.New("invalid candidate")
	ErrNotActive        = errors.New("instinct is not active")
)

// errNoChange is returned by mutate closures that found nothing to do.
// update treats it as success without bumping the version or rewriting
// the record file.
var errNoChange = errors.New("no change")

// Config holds store tunables.
type Config struct {
	// Dir is the store directory holding one record file per instinct.
	Dir string

	// MergeSimilarity is the trigger similarity at or above which a new
	// candidate is treated as the same instinct and merged.
	MergeSimilarity float64

	// ContradictionSimilarity is the trigger similarity at or above
	// which two opposing active instincts are marked contradicted.
	ContradictionSimilarity float64

	// RetryLimit bounds compare-and-swap commit attempts. Unbounded
	// retry is disallowed to avoid livelock under sustained contention.
	RetryLimit int

	// DecayWindow is the inactivity span after which the staleness pass
	// pulls confidence toward the uninformative prior.
	DecayWindow time.Duration

	// DecayFactor is the fraction pulled toward 0.5 per elapsed window.
	DecayFactor float64
}

// DefaultConfig returns the store defaults.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                     dir,
		MergeSimilarity:         0.85,
		ContradictionSimilarity: 0.85,
		RetryLimit:              5,
		DecayWindow:             720 * time.Hour,
		DecayFactor:             0.25,
	}
}

// Store is a durable keyed collection of instinct records. Callers obtain
// a handle via Open and pass it through every operation; it is not a
// singleton.
type Store struct {
	cfg        Config
	similarity instinct.Similarity
	logger     *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	mergeCounter    metric.Int64Counter
	outcomeCounter  metric.Int64Counter
	conflictCounter metric.Int64Counter

	mu      sync.RWMutex
	records map[string]*instinct.Instinct
}

// Open loads the store from dir, creating it if absent. Malformed record
// files are skipped with a warning. similarity may be nil to use the
// default token-Jaccard implementation; logger may be nil.
func Open(cfg Config, similarity instinct.Similarity, logger *zap.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("store directory is required")
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 5
	}
	if similarity == nil {
		similarity = instinct.TokenJaccard
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	s := &Store{
		cfg:        cfg,
		similarity: similarity,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
		records:    make(map[string]*instinct.Instinct),
	}
	s.initMetrics()

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initMetrics() {
	var err error
	s.mergeCounter, err = s.meter.Int64Counter(
		"instinctd.store.merges_total",
		metric.WithDescription("Candidates merged into existing instincts"),
		metric.WithUnit("{merge}"),
	)
	if err != nil {
		s.logger.Warn("failed to create merge counter", zap.Error(err))
	}
	s.outcomeCounter, err = s.meter.Int64Counter(
		"instinctd.store.outcomes_total",
		metric.WithDescription("Outcome applications committed"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		s.logger.Warn("failed to create outcome counter", zap.Error(err))
	}
	s.conflictCounter, err = s.meter.Int64Counter(
		"instinctd.store.conflicts_total",
		metric.WithDescription("Compare-and-swap commit conflicts"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		s.logger.Warn("failed to create conflict counter", zap.Error(err))
	}
}

// load reads every record file under the store directory.
func (s *Store) load() error {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return fmt.Errorf("reading store directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(s.cfg.Dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable record", zap.String("path", path), zap.Error(err))
			continue
		}
		rec, err := UnmarshalRecord(data)
		if err != nil {
			s.logger.Warn("skipping malformed record", zap.String("path", path), zap.Error(err))
			continue
		}
		s.records[rec.ID] = rec
	}
	s.logger.Info("store loaded",
		zap.String("dir", s.cfg.Dir),
		zap.Int("records", len(s.records)))
	return nil
}

// CreateOrMerge inserts a candidate as a new instinct or merges it into an
// existing active instinct in the same domain whose trigger is similar
// enough to count as the same instinct. Returns the instinct ID and
// whether a new record was created.
func (s *Store) CreateOrMerge(ctx context.Context, cand *instinct.Candidate) (string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.CreateOrMerge")
	defer span.End()

	if err := cand.Validate(); err != nil {
		span.RecordError(err)
		return "", false, fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}

	if target := s.findMergeTarget(cand); target != "" {
		merged, err := s.mergeInto(ctx, target, cand)
		if err != nil {
			return "", false, err
		}
		if merged {
			return target, false, nil
		}
		// The target was retired between lookup and commit; fall
		// through to the insert path.
	}

	rec, err := instinct.New(cand, time.Now())
	if err != nil {
		span.RecordError(err)
		return "", false, fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}

	s.mu.Lock()
	if existing, ok := s.records[rec.ID]; ok {
		// Content-identical candidate raced in; extend its evidence
		// under the lock instead of inserting a duplicate.
		existing.Evidence = appendNewEvidence(existing.Evidence, cand.Evidence)
		existing.UpdatedAt = time.Now()
		existing.Version++
		err = s.persistLocked(existing)
		s.mu.Unlock()
		if err != nil {
			return "", false, err
		}
		return rec.ID, false, nil
	}
	s.records[rec.ID] = rec
	err = s.persistLocked(rec)
	s.mu.Unlock()
	if err != nil {
		return "", false, err
	}

	s.logger.Info("instinct created",
		zap.String("id", rec.ID),
		zap.String("domain", string(rec.Domain)),
		zap.String("pattern", string(rec.Pattern)))
	return rec.ID, true, nil
}

// mergeInto folds a candidate's evidence and outcome into the target
// instinct. The status is re-checked inside the commit loop so a target
// retired after lookup reports merged=false instead of mutating a
// non-active record.
func (s *Store) mergeInto(ctx context.Context, target string, cand *instinct.Candidate) (bool, error) {
	_, err := s.update(ctx, target, func(in *instinct.Instinct) error {
		if in.Status != instinct.StatusActive {
			return ErrNotActive
		}
		in.Evidence = appendNewEvidence(in.Evidence, cand.Evidence)
		if cand.Proven {
			in.RecordSuccess(time.Now())
		} else {
			in.UpdatedAt = time.Now()
		}
		return nil
	})
	if errors.Is(err, ErrNotActive) || errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if s.mergeCounter != nil {
		s.mergeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("domain", string(cand.Domain))))
	}
	s.logger.Debug("candidate merged",
		zap.String("id", target),
		zap.String("domain", string(cand.Domain)))
	return true, nil
}

// findMergeTarget returns the ID of the active same-domain instinct with
// the highest trigger similarity at or above the merge threshold, or "".
func (s *Store) findMergeTarget(cand *instinct.Candidate) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := ""
	bestScore := 0.0
	for id, rec := range s.records {
		if rec.Status != instinct.StatusActive || rec.Domain != cand.Domain {
			continue
		}
		score := s.similarity(rec.Trigger, cand.Trigger)
		if score >= s.cfg.MergeSimilarity && score > bestScore {
			best, bestScore = id, score
		}
	}
	return best
}

// ApplyOutcome records an application outcome for an instinct and returns
// the updated confidence. Only active instincts accept outcomes.
func (s *Store) ApplyOutcome(ctx context.Context, id string, success bool) (float64, error) {
	ctx, span := s.tracer.Start(ctx, "store.ApplyOutcome",
		trace.WithAttributes(attribute.Bool("success", success)))
	defer span.End()

	rec, err := s.update(ctx, id, func(in *instinct.Instinct) error {
		if in.Status != instinct.StatusActive {
			return fmt.Errorf("%w: %s is %s", ErrNotActive, in.ID, in.Status)
		}
		if success {
			in.RecordSuccess(time.Now())
		} else {
			in.RecordFailure(time.Now())
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if s.outcomeCounter != nil {
		s.outcomeCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
	}
	return rec.Confidence, nil
}

// Get returns a copy of the instinct with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*instinct.Instinct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// ListByDomain returns non-archived instincts in the given domain with
// confidence at or above minConfidence, highest confidence first.
// Contradicted instincts are included so their status is visible to
// callers; archived ones are history and excluded.
func (s *Store) ListByDomain(ctx context.Context, domain instinct.Domain, minConfidence float64) ([]*instinct.Instinct, error) {
	if !domain.Valid() {
		return nil, instinct.ErrInvalidDomain
	}
	s.mu.RLock()
	var out []*instinct.Instinct
	for _, rec := range s.records {
		if rec.Domain != domain || rec.Status == instinct.StatusArchived {
			continue
		}
		if rec.Confidence < minConfidence {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Archive retires an instinct, optionally back-referencing the artifact it
// evolved into. The record and its evidence are preserved. Archiving an
// already-archived instinct is a no-op that keeps the original artifact
// reference.
func (s *Store) Archive(ctx context.Context, id, artifactRef string) error {
	_, err := s.update(ctx, id, func(in *instinct.Instinct) error {
		if in.Status == instinct.StatusArchived {
			return errNoChange
		}
		in.Status = instinct.StatusArchived
		if artifactRef != "" {
			in.ArtifactRef = artifactRef
		}
		in.UpdatedAt = time.Now()
		return nil
	})
	if err == nil {
		s.logger.Info("instinct archived",
			zap.String("id", id),
			zap.String("artifact_ref", artifactRef))
	}
	return err
}

// Snapshot returns copies of all records. Readers may observe a snapshot
// stale by at most one in-flight writer generation; the clusterer
// re-validates confidence and contradiction at proposal time.
func (s *Store) Snapshot(ctx context.Context) []*instinct.Instinct {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*instinct.Instinct, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// DecayPass pulls stale active instincts' confidence toward the
// uninformative prior. Idempotent within a window boundary: re-running in
// the same window changes nothing. Returns the IDs that decayed.
func (s *Store) DecayPass(ctx context.Context, now time.Time) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "store.DecayPass")
	defer span.End()

	var decayed []string
	for _, rec := range s.Snapshot(ctx) {
		if rec.Status != instinct.StatusActive {
			continue
		}
		changed := false
		_, err := s.update(ctx, rec.ID, func(in *instinct.Instinct) error {
			if in.Status != instinct.StatusActive {
				return errNoChange
			}
			changed = in.Decay(now, s.cfg.DecayWindow, s.cfg.DecayFactor)
			if !changed {
				return errNoChange
			}
			return nil
		})
		if err != nil {
			span.RecordError(err)
			return decayed, err
		}
		if changed {
			decayed = append(decayed, rec.ID)
		}
	}
	if len(decayed) > 0 {
		s.logger.Info("staleness decay applied", zap.Int("instincts", len(decayed)))
	}
	return decayed, nil
}

// ContradictionPair names two mutually contradicting instincts.
type ContradictionPair struct {
	A, B string
}

// DetectContradictions marks pairs of active same-domain instincts whose
// triggers are near-identical but whose actions are mutually exclusive.
// Both members of a pair transition to contradicted and stay excluded
// from confidence-based automation until resolved externally. Detection
// only; resolution is never this engine's responsibility.
func (s *Store) DetectContradictions(ctx context.Context) ([]ContradictionPair, error) {
	ctx, span := s.tracer.Start(ctx, "store.DetectContradictions")
	defer span.End()

	snapshot := s.Snapshot(ctx)
	var active []*instinct.Instinct
	for _, rec := range snapshot {
		if rec.Status == instinct.StatusActive {
			active = append(active, rec)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	var pairs []ContradictionPair
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if a.Domain != b.Domain {
				continue
			}
			if s.similarity(a.Trigger, b.Trigger) < s.cfg.ContradictionSimilarity {
				continue
			}
			if !instinct.Opposed(a.Action, b.Action) {
				continue
			}
			pairs = append(pairs, ContradictionPair{A: a.ID, B: b.ID})
		}
	}

	marked := map[string]bool{}
	for _, pair := range pairs {
		for _, id := range []string{pair.A, pair.B} {
			if marked[id] {
				continue
			}
			marked[id] = true
			if _, err := s.update(ctx, id, func(in *instinct.Instinct) error {
				if in.Status != instinct.StatusActive {
					return errNoChange
				}
				in.Status = instinct.StatusContradicted
				in.UpdatedAt = time.Now()
				return nil
			}); err != nil {
				span.RecordError(err)
				return pairs, err
			}
		}
		s.logger.Warn("contradiction detected",
			zap.String("a", pair.A),
			zap.String("b", pair.B))
	}
	return pairs, nil
}

// update applies mutate to the record under optimistic versioning: read a
// copy, mutate, commit if the stored version is unchanged, retry on
// mismatch up to the configured bound.
func (s *Store) update(ctx context.Context, id string, mutate func(*instinct.Instinct) error) (*instinct.Instinct, error) {
	for attempt := 0; attempt < s.cfg.RetryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		expected := rec.Version
		if err := mutate(rec); err != nil {
			if errors.Is(err, errNoChange) {
				return rec, nil
			}
			return nil, err
		}
		rec.Version = expected + 1

		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("update produced invalid instinct %s: %w", id, err)
		}

		committed, err := s.commit(rec, expected)
		if err != nil {
			return nil, err
		}
		if committed {
			return rec, nil
		}
		if s.conflictCounter != nil {
			s.conflictCounter.Add(ctx, 1)
		}
	}
	return nil, fmt.Errorf("updating %s: %w", id, ErrVersionConflict)
}

// commit swaps the record in if the stored version still matches expected,
// persisting the new state to disk under the lock.
func (s *Store) commit(rec *instinct.Instinct, expected int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[rec.ID]
	if !ok {
		return false, ErrNotFound
	}
	if current.Version != expected {
		return false, nil
	}
	if err := s.persistLocked(rec); err != nil {
		return false, err
	}
	s.records[rec.ID] = rec.Clone()
	return true, nil
}

// persistLocked writes the record file atomically (temp file + rename).
// Callers must hold s.mu.
func (s *Store) persistLocked(rec *instinct.Instinct) error {
	data, err := MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("marshaling record %s: %w", rec.ID, err)
	}
	path := filepath.Join(s.cfg.Dir, rec.ID+".md")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing record %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing record %s: %w", rec.ID, err)
	}
	return nil
}

// appendNewEvidence extends the append-only evidence list with references
// it does not already contain, preserving order.
func appendNewEvidence(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, ref := range existing {
		seen[ref] = struct{}{}
	}
	for _, ref := range incoming {
		if _, ok := seen[ref]; !ok {
			existing = append(existing, ref)
			seen[ref] = struct{}{}
		}
	}
	return existing
}
