package detector

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/instinctd/internal/instinct"
	"github.com/fyrsmithlabs/instinctd/internal/observation"
)

// Config holds detector tunables.
type Config struct {
	// CorrectionDiffThreshold is the similarity below which a corrective
	// text is considered to materially differ from the original.
	CorrectionDiffThreshold float64

	// MinSequenceLen is the minimum repeated sub-sequence length.
	MinSequenceLen int

	// MaxSequenceLen bounds the repeated sub-sequence search.
	MaxSequenceLen int

	// MinRepeats is how often a sub-sequence must recur to qualify.
	MinRepeats int
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		CorrectionDiffThreshold: 0.5,
		MinSequenceLen:          2,
		MaxSequenceLen:          4,
		MinRepeats:              2,
	}
}

// Detector extracts candidate instincts from one session's observations.
type Detector struct {
	cfg         Config
	similarity  instinct.Similarity
	domainRules []*domainRule
	logger      *zap.Logger
}

// New creates a detector. similarity may be nil to use the default
// token-Jaccard implementation; logger may be nil.
func New(cfg Config, similarity instinct.Similarity, logger *zap.Logger) *Detector {
	if similarity == nil {
		similarity = instinct.TokenJaccard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinSequenceLen < 2 {
		cfg.MinSequenceLen = 2
	}
	if cfg.MaxSequenceLen < cfg.MinSequenceLen {
		cfg.MaxSequenceLen = cfg.MinSequenceLen
	}
	if cfg.MinRepeats < 2 {
		cfg.MinRepeats = 2
	}
	return &Detector{
		cfg:         cfg,
		similarity:  similarity,
		domainRules: buildDomainRules(),
		logger:      logger,
	}
}

// Detect runs the three detection passes over the ordered observation
// sequence and returns the unioned, overlap-merged candidates. A session
// with no qualifying pattern returns an empty slice.
func (d *Detector) Detect(ctx context.Context, obs []observation.Observation) ([]instinct.Candidate, error) {
	if len(obs) == 0 {
		return nil, nil
	}

	// The passes are independent reads over the same slice; run them
	// concurrently and combine before the sequential merge phase.
	var corrections, resolutions, workflows []instinct.Candidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		corrections = d.correctionPass(gctx, obs)
		return gctx.Err()
	})
	g.Go(func() error {
		resolutions = d.resolutionPass(gctx, obs)
		return gctx.Err()
	})
	g.Go(func() error {
		workflows = d.workflowPass(gctx, obs)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("detection passes: %w", err)
	}

	merged := mergeOverlapping(append(append(corrections, resolutions...), workflows...))

	d.logger.Debug("detection completed",
		zap.String("session_id", obs[0].SessionID),
		zap.Int("observations", len(obs)),
		zap.Int("corrections", len(corrections)),
		zap.Int("resolutions", len(resolutions)),
		zap.Int("workflows", len(workflows)),
		zap.Int("candidates", len(merged)))

	return merged, nil
}

// correctionPass finds explicit user corrections whose corrective text
// differs from the agent's original action beyond the threshold.
//
// Trigger: the context (nearest preceding prompt) before the rejected
// action. Action: the corrected behavior.
func (d *Detector) correctionPass(ctx context.Context, obs []observation.Observation) []instinct.Candidate {
	var out []instinct.Candidate
	for i := range obs {
		if ctx.Err() != nil {
			return out
		}
		if obs[i].Kind != observation.KindCorrection {
			continue
		}
		origIdx := lastIndexBefore(obs, i, observation.KindToolCall)
		if origIdx < 0 {
			continue
		}
		// Corrections too close to the original are rephrasings, not
		// behavior changes.
		if d.similarity(obs[origIdx].Payload, obs[i].Payload) >= d.cfg.CorrectionDiffThreshold {
			continue
		}
		trigger := obs[origIdx].Payload
		if promptIdx := lastIndexBefore(obs, origIdx, observation.KindPrompt); promptIdx >= 0 {
			trigger = obs[promptIdx].Payload
		}
		action := strings.TrimSpace(obs[i].Payload)
		out = append(out, instinct.Candidate{
			Trigger:  strings.TrimSpace(trigger),
			Action:   action,
			Domain:   d.classifyDomain(trigger + " " + action),
			Source:   instinct.SourceSession,
			Pattern:  instinct.PatternCorrection,
			Evidence: []string{obs[origIdx].Ref(), obs[i].Ref()},
		})
	}
	return out
}

// resolutionPass finds failing tool outcomes followed in-session by a
// successful retry of the same tool. The fix is the retried invocation.
func (d *Detector) resolutionPass(ctx context.Context, obs []observation.Observation) []instinct.Candidate {
	var out []instinct.Candidate
	for i := range obs {
		if ctx.Err() != nil {
			return out
		}
		if obs[i].Kind != observation.KindOutcome || obs[i].Success {
			continue
		}
		failedCallIdx := lastIndexBefore(obs, i, observation.KindToolCall)
		if failedCallIdx < 0 {
			continue
		}
		tool := obs[failedCallIdx].Tool
		class := classifyError(obs[i].Payload)

		// Look ahead for a successful outcome of the same tool.
		for j := i + 1; j < len(obs); j++ {
			if obs[j].Kind != observation.KindOutcome || !obs[j].Success {
				continue
			}
			fixIdx := lastIndexBefore(obs, j, observation.KindToolCall)
			if fixIdx <= failedCallIdx || obs[fixIdx].Tool != tool {
				continue
			}
			trigger := fmt.Sprintf("%s fails with %s", toolLabel(tool), class)
			action := strings.TrimSpace(obs[fixIdx].Payload)
			out = append(out, instinct.Candidate{
				Trigger: trigger,
				Action:  action,
				Domain:  d.classifyDomain(obs[i].Payload + " " + action),
				Source:  instinct.SourceSession,
				Pattern: instinct.PatternErrorResolution,
				Evidence: []string{
					obs[failedCallIdx].Ref(), obs[i].Ref(),
					obs[fixIdx].Ref(), obs[j].Ref(),
				},
				// The fix was observed to work in this session.
				Proven: true,
			})
			break
		}
	}
	return out
}

// workflowPass finds identical ordered tool sub-sequences recurring within
// the session. Longer sequences win: shorter n-grams fully contained in an
// emitted longer one are suppressed.
func (d *Detector) workflowPass(ctx context.Context, obs []observation.Observation) []instinct.Candidate {
	type call struct {
		idx  int
		name string
	}
	var calls []call
	for i := range obs {
		if obs[i].Kind == observation.KindToolCall {
			calls = append(calls, call{idx: i, name: toolLabel(obs[i].Tool)})
		}
	}
	if len(calls) < d.cfg.MinSequenceLen*d.cfg.MinRepeats {
		return nil
	}

	var out []instinct.Candidate
	emitted := map[string]bool{}
	for n := d.cfg.MaxSequenceLen; n >= d.cfg.MinSequenceLen; n-- {
		if ctx.Err() != nil {
			return out
		}
		counts := map[string][]int{} // joined n-gram -> starting positions in calls
		for i := 0; i+n <= len(calls); i++ {
			names := make([]string, n)
			for k := 0; k < n; k++ {
				names[k] = calls[i+k].name
			}
			key := strings.Join(names, " → ")
			counts[key] = append(counts[key], i)
		}
		for key, starts := range counts {
			if countNonOverlapping(starts, n) < d.cfg.MinRepeats {
				continue
			}
			if subsumed(emitted, key) {
				continue
			}
			emitted[key] = true

			first := calls[starts[0]].idx
			trigger := "completing a related change"
			if promptIdx := lastIndexBefore(obs, first, observation.KindPrompt); promptIdx >= 0 {
				trigger = strings.TrimSpace(obs[promptIdx].Payload)
			}
			action := "run " + strings.ReplaceAll(key, " → ", ", then ")
			evidence := make([]string, 0, n*len(starts))
			for _, s := range starts {
				for k := 0; k < n; k++ {
					evidence = append(evidence, obs[calls[s+k].idx].Ref())
				}
			}
			out = append(out, instinct.Candidate{
				Trigger:  trigger,
				Action:   action,
				Domain:   d.classifyDomain(trigger + " " + key),
				Source:   instinct.SourceSession,
				Pattern:  instinct.PatternRepeatedFlow,
				Evidence: evidence,
			})
		}
	}
	return out
}

// mergeOverlapping unions candidates covering the same observation window.
// Candidates with identical content merge by derived ID; candidates from
// different passes sharing evidence references merge into the first.
func mergeOverlapping(cands []instinct.Candidate) []instinct.Candidate {
	// First: collapse identical trigger/action pairs.
	byID := map[string]int{}
	var collapsed []instinct.Candidate
	for _, c := range cands {
		id := instinct.DeriveID(c.Trigger, c.Action)
		if at, ok := byID[id]; ok {
			collapsed[at].Evidence = unionEvidence(collapsed[at].Evidence, c.Evidence)
			collapsed[at].Proven = collapsed[at].Proven || c.Proven
			continue
		}
		byID[id] = len(collapsed)
		collapsed = append(collapsed, c)
	}

	// Second: merge cross-pass candidates whose evidence windows overlap.
	var out []instinct.Candidate
	for _, c := range collapsed {
		mergedInto := -1
		for i := range out {
			if out[i].Pattern != c.Pattern && evidenceOverlaps(out[i].Evidence, c.Evidence) {
				mergedInto = i
				break
			}
		}
		if mergedInto >= 0 {
			out[mergedInto].Evidence = unionEvidence(out[mergedInto].Evidence, c.Evidence)
			out[mergedInto].Proven = out[mergedInto].Proven || c.Proven
			continue
		}
		out = append(out, c)
	}
	return out
}

func unionEvidence(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, ref := range a {
		seen[ref] = struct{}{}
	}
	for _, ref := range b {
		if _, ok := seen[ref]; !ok {
			a = append(a, ref)
			seen[ref] = struct{}{}
		}
	}
	return a
}

func evidenceOverlaps(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, ref := range a {
		set[ref] = struct{}{}
	}
	for _, ref := range b {
		if _, ok := set[ref]; ok {
			return true
		}
	}
	return false
}

// countNonOverlapping counts occurrences at the given sorted start
// positions that do not overlap a previously counted occurrence.
func countNonOverlapping(starts []int, n int) int {
	count := 0
	next := -1
	for _, s := range starts {
		if s >= next {
			count++
			next = s + n
		}
	}
	return count
}

// subsumed reports whether key is a contiguous sub-sequence of an
// already-emitted longer sequence.
func subsumed(emitted map[string]bool, key string) bool {
	for e := range emitted {
		if len(e) > len(key) && strings.Contains(e, key) {
			return true
		}
	}
	return false
}

// lastIndexBefore returns the index of the nearest observation of the
// given kind strictly before i, or -1.
func lastIndexBefore(obs []observation.Observation, i int, kind observation.Kind) int {
	for j := i - 1; j >= 0; j-- {
		if obs[j].Kind == kind {
			return j
		}
	}
	return -1
}

func toolLabel(tool string) string {
	if tool == "" {
		return "tool"
	}
	return tool
}
