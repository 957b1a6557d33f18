package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/instinctd/internal/instinct"
)

// ExportResult summarizes an export run.
type ExportResult struct {
	Exported int
	Skipped  int
}

// ImportResult summarizes an import run.
type ImportResult struct {
	Imported int
	Merged   int
	Skipped  int
}

// Export writes non-archived instinct records into dir using the same
// per-record format as the store itself.
//
// Only trigger, action, domain, confidence, source, and evidence
// references leave the store: application counters, timestamps, and any
// free-text evidence notes are withheld, and raw observation payloads are
// never part of a record in the first place. Confidence on the receiving
// side is recomputed through the merge path, not fabricated from ours.
func (s *Store) Export(ctx context.Context, dir string) (*ExportResult, error) {
	ctx, span := s.tracer.Start(ctx, "store.Export")
	defer span.End()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}

	res := &ExportResult{}
	now := time.Now()
	for _, rec := range s.Snapshot(ctx) {
		if rec.Status == instinct.StatusArchived {
			res.Skipped++
			continue
		}
		out := &instinct.Instinct{
			ID:         rec.ID,
			Trigger:    rec.Trigger,
			Action:     rec.Action,
			Domain:     rec.Domain,
			Confidence: rec.Confidence,
			Source:     rec.Source,
			Pattern:    rec.Pattern,
			Evidence:   exportableEvidence(rec.Evidence),
			Status:     instinct.StatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
			Version:    1,
		}
		data, err := MarshalRecord(out)
		if err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("exporting %s: %w", rec.ID, err)
		}
		path := filepath.Join(dir, rec.ID+".md")
		if err := os.WriteFile(path, data, 0600); err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("writing export %s: %w", rec.ID, err)
		}
		res.Exported++
	}

	s.logger.Info("store exported",
		zap.String("dir", dir),
		zap.Int("exported", res.Exported),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// Import reads exported records from dir and feeds each through the same
// create-or-merge path as internally generated candidates, with source
// forced to "inherited". Malformed files are skipped with a warning.
func (s *Store) Import(ctx context.Context, dir string) (*ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "store.Import")
	defer span.End()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading import directory: %w", err)
	}

	res := &ImportResult{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable import", zap.String("path", path), zap.Error(err))
			res.Skipped++
			continue
		}
		rec, err := UnmarshalRecord(data)
		if err != nil {
			s.logger.Warn("skipping malformed import", zap.String("path", path), zap.Error(err))
			res.Skipped++
			continue
		}

		cand := &instinct.Candidate{
			Trigger:  rec.Trigger,
			Action:   rec.Action,
			Domain:   rec.Domain,
			Source:   instinct.SourceInherited,
			Pattern:  rec.Pattern,
			Evidence: exportableEvidence(rec.Evidence),
		}
		_, created, err := s.CreateOrMerge(ctx, cand)
		if err != nil {
			if errors.Is(err, ErrInvalidCandidate) {
				s.logger.Warn("skipping invalid import", zap.String("path", path), zap.Error(err))
				res.Skipped++
				continue
			}
			span.RecordError(err)
			return res, err
		}
		if created {
			res.Imported++
		} else {
			res.Merged++
		}
	}

	s.logger.Info("store imported",
		zap.String("dir", dir),
		zap.Int("imported", res.Imported),
		zap.Int("merged", res.Merged),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// exportableEvidence strips evidence entries down to references: free-text
// notes are reduced to their leading token so no captured content crosses
// the export boundary.
func exportableEvidence(evidence []string) []string {
	out := make([]string, 0, len(evidence))
	for _, ref := range evidence {
		if rest, ok := strings.CutPrefix(ref, "note:"); ok {
			fields := strings.Fields(rest)
			if len(fields) > 0 {
				out = append(out, "note:"+fields[0])
			}
			continue
		}
		out = append(out, ref)
	}
	return out
}
