package evolution

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/instinctd/internal/instinct"
)

const instrumentationName = "github.com/fyrsmithlabs/instinctd/internal/evolution"

// Invalidity reason codes reported on clusters that fail validation.
const (
	ReasonTooFewMembers = "too few members"
	ReasonLowConfidence = "confidence below threshold"
	ReasonContradiction = "unresolved contradiction"
)

// ArtifactType classifies what a cluster should evolve into.
type ArtifactType string

const (
	// ArtifactSkill captures durable cross-cutting facts or conventions.
	ArtifactSkill ArtifactType = "skill"

	// ArtifactCommand packages a repeated workflow as a single command.
	ArtifactCommand ArtifactType = "command"

	// ArtifactAgent bundles a multi-domain specialization theme.
	ArtifactAgent ArtifactType = "agent"
)

// Cluster is a transient domain-and-similarity grouping of mature
// instincts proposed for evolution. It is never persisted as a
// first-class store entity.
type Cluster struct {
	// Domain is the dominant domain across members.
	Domain instinct.Domain `json:"domain"`

	// MemberIDs identifies the clustered instincts (set semantics).
	MemberIDs []string `json:"member_ids"`

	// Members carries summaries for the artifact emitter boundary:
	// trigger, action, domain, confidence. Raw evidence stays local.
	Members []MemberSummary `json:"members"`

	// ArtifactType is the proposed artifact kind.
	ArtifactType ArtifactType `json:"artifact_type"`

	// Valid reports whether the cluster passed the acceptance rules.
	Valid bool `json:"valid"`

	// Reason is the invalidity reason code when Valid is false.
	Reason string `json:"reason,omitempty"`
}

// MemberSummary is the per-instinct payload handed across the artifact
// emitter boundary. The emitter alone synthesizes artifact content.
type MemberSummary struct {
	ID         string           `json:"id"`
	Trigger    string           `json:"trigger"`
	Action     string           `json:"action"`
	Domain     instinct.Domain  `json:"domain"`
	Confidence float64          `json:"confidence"`
	Pattern    instinct.Pattern `json:"pattern,omitempty"`
}

// ArtifactEmitter is the external collaborator that turns an accepted
// cluster into a generated skill, command, or agent. It returns the
// generated artifact identifier used as the archival back-reference.
type ArtifactEmitter interface {
	Emit(ctx context.Context, cluster Cluster) (artifactID string, err error)
}

// InstinctSource provides the store snapshot and archival operations the
// clusterer needs, typically satisfied by *store.Store.
type InstinctSource interface {
	Snapshot(ctx context.Context) []*instinct.Instinct
	Archive(ctx context.Context, id, artifactRef string) error
}

// Config holds clusterer tunables.
type Config struct {
	// MinClusterSize is the minimum member count for validity.
	MinClusterSize int

	// ConfidenceFloor is the exclusive lower bound every member's
	// confidence must exceed.
	ConfidenceFloor float64

	// ActionSimilarity is the greedy grouping threshold for actions
	// within one domain.
	ActionSimilarity float64

	// TriggerSimilarity is the member-pair trigger threshold for the
	// contradiction re-check.
	TriggerSimilarity float64

	// ThemeSimilarity is the cross-domain trigger-theme threshold used
	// to detect specialist-agent clusters.
	ThemeSimilarity float64
}

// DefaultConfig returns the clusterer defaults.
func DefaultConfig() Config {
	return Config{
		MinClusterSize:    3,
		ConfidenceFloor:   0.75,
		ActionSimilarity:  0.75,
		TriggerSimilarity: 0.85,
		ThemeSimilarity:   0.6,
	}
}

// Clusterer proposes evolution clusters from store snapshots and applies
// archival once the emitter boundary accepts a proposal.
type Clusterer struct {
	cfg        Config
	source     InstinctSource
	similarity instinct.Similarity
	logger     *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	proposalCounter metric.Int64Counter
}

// New creates a clusterer. similarity may be nil to use the default
// token-Jaccard implementation; logger may be nil.
func New(cfg Config, source InstinctSource, similarity instinct.Similarity, logger *zap.Logger) (*Clusterer, error) {
	if source == nil {
		return nil, errors.New("instinct source cannot be nil")
	}
	if similarity == nil {
		similarity = instinct.TokenJaccard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinClusterSize < 1 {
		cfg.MinClusterSize = 3
	}

	c := &Clusterer{
		cfg:        cfg,
		source:     source,
		similarity: similarity,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
	}

	var err error
	c.proposalCounter, err = c.meter.Int64Counter(
		"instinctd.evolution.proposals_total",
		metric.WithDescription("Cluster proposals produced"),
		metric.WithUnit("{cluster}"),
	)
	if err != nil {
		logger.Warn("failed to create proposal counter", zap.Error(err))
	}
	return c, nil
}

// ProposeClusters groups active, non-contradicted instincts and validates
// evolution eligibility. Both valid and invalid clusters are returned;
// invalid ones carry a reason code. Proposal mutates nothing.
func (c *Clusterer) ProposeClusters(ctx context.Context) ([]Cluster, error) {
	ctx, span := c.tracer.Start(ctx, "evolution.ProposeClusters")
	defer span.End()

	snapshot := c.source.Snapshot(ctx)
	var eligible []*instinct.Instinct
	for _, rec := range snapshot {
		if rec.Status == instinct.StatusActive {
			eligible = append(eligible, rec)
		}
	}
	// Stable ordering keeps proposals deterministic across runs.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	var clusters []Cluster
	grouped := map[string]bool{}

	// Per-domain clustering by action similarity.
	byDomain := map[instinct.Domain][]*instinct.Instinct{}
	for _, rec := range eligible {
		byDomain[rec.Domain] = append(byDomain[rec.Domain], rec)
	}
	evolving := map[string]bool{}
	for _, domain := range instinct.Domains() {
		for _, group := range c.greedyGroups(byDomain[domain], func(a, b *instinct.Instinct) bool {
			return c.similarity(a.Action, b.Action) >= c.cfg.ActionSimilarity
		}) {
			cluster := c.buildCluster(group, false)
			clusters = append(clusters, cluster)
			for _, id := range cluster.MemberIDs {
				grouped[id] = true
				if cluster.Valid {
					evolving[id] = true
				}
			}
		}
	}

	// Cross-domain pass: specialization themes spanning several domains
	// become agent proposals. Members of a valid per-domain cluster are
	// already evolving and stay out of this pass so no instinct is
	// archived into two artifacts.
	var themePool []*instinct.Instinct
	for _, rec := range eligible {
		if !evolving[rec.ID] {
			themePool = append(themePool, rec)
		}
	}
	for _, group := range c.greedyGroups(themePool, func(a, b *instinct.Instinct) bool {
		return c.similarity(a.Trigger, b.Trigger) >= c.cfg.ThemeSimilarity
	}) {
		if domainSpan(group) < 2 {
			continue
		}
		cluster := c.buildCluster(group, true)
		clusters = append(clusters, cluster)
		for _, id := range cluster.MemberIDs {
			grouped[id] = true
		}
	}

	// Instincts no pass grouped are still reported, as singleton
	// proposals that fail the size rule.
	for _, rec := range eligible {
		if !grouped[rec.ID] {
			clusters = append(clusters, c.buildCluster([]*instinct.Instinct{rec}, false))
		}
	}

	valid := 0
	for i := range clusters {
		if clusters[i].Valid {
			valid++
		}
		if c.proposalCounter != nil {
			c.proposalCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.Bool("valid", clusters[i].Valid),
				attribute.String("artifact_type", string(clusters[i].ArtifactType))))
		}
	}
	c.logger.Info("cluster proposal completed",
		zap.Int("instincts", len(eligible)),
		zap.Int("clusters", len(clusters)),
		zap.Int("valid", valid))
	return clusters, nil
}

// Accept archives a cluster's members with a back-reference to the
// generated artifact. Called only after the emitter boundary accepted
// the proposal; this is the sole mutation the clusterer performs.
func (c *Clusterer) Accept(ctx context.Context, cluster Cluster, artifactID string) error {
	ctx, span := c.tracer.Start(ctx, "evolution.Accept",
		trace.WithAttributes(attribute.String("artifact_id", artifactID)))
	defer span.End()

	if !cluster.Valid {
		return fmt.Errorf("cannot accept invalid cluster: %s", cluster.Reason)
	}
	if artifactID == "" {
		return errors.New("artifact ID cannot be empty")
	}
	for _, id := range cluster.MemberIDs {
		if err := c.source.Archive(ctx, id, artifactID); err != nil {
			span.RecordError(err)
			return fmt.Errorf("archiving member %s: %w", id, err)
		}
	}
	c.logger.Info("cluster evolved",
		zap.String("artifact_id", artifactID),
		zap.String("artifact_type", string(cluster.ArtifactType)),
		zap.Int("members", len(cluster.MemberIDs)))
	return nil
}

// Evolve proposes clusters, hands each valid one to the emitter, and
// archives members of accepted clusters. Returns all proposals with
// validity state for reporting.
func (c *Clusterer) Evolve(ctx context.Context, emitter ArtifactEmitter) ([]Cluster, error) {
	if emitter == nil {
		return nil, errors.New("artifact emitter cannot be nil")
	}
	clusters, err := c.ProposeClusters(ctx)
	if err != nil {
		return nil, err
	}
	for _, cluster := range clusters {
		if !cluster.Valid {
			continue
		}
		artifactID, err := emitter.Emit(ctx, cluster)
		if err != nil {
			return clusters, fmt.Errorf("emitting cluster: %w", err)
		}
		if err := c.Accept(ctx, cluster, artifactID); err != nil {
			return clusters, err
		}
	}
	return clusters, nil
}

// greedyGroups partitions records into groups where every member relates
// to the group's seed under the provided predicate. Leftover singletons
// are not groups; ProposeClusters reports them separately.
func (c *Clusterer) greedyGroups(records []*instinct.Instinct, related func(a, b *instinct.Instinct) bool) [][]*instinct.Instinct {
	var groups [][]*instinct.Instinct
	used := make(map[string]bool, len(records))
	for _, seed := range records {
		if used[seed.ID] {
			continue
		}
		group := []*instinct.Instinct{seed}
		used[seed.ID] = true
		for _, other := range records {
			if used[other.ID] {
				continue
			}
			if related(seed, other) {
				group = append(group, other)
				used[other.ID] = true
			}
		}
		if len(group) >= 2 {
			groups = append(groups, group)
		}
	}
	return groups
}

// buildCluster validates a group and selects its artifact type.
func (c *Clusterer) buildCluster(group []*instinct.Instinct, crossDomain bool) Cluster {
	cluster := Cluster{
		Domain:    dominantDomain(group),
		MemberIDs: make([]string, 0, len(group)),
		Members:   make([]MemberSummary, 0, len(group)),
	}
	for _, rec := range group {
		cluster.MemberIDs = append(cluster.MemberIDs, rec.ID)
		cluster.Members = append(cluster.Members, MemberSummary{
			ID:         rec.ID,
			Trigger:    rec.Trigger,
			Action:     rec.Action,
			Domain:     rec.Domain,
			Confidence: rec.Confidence,
			Pattern:    rec.Pattern,
		})
	}
	cluster.ArtifactType = c.selectArtifactType(group, crossDomain)

	switch {
	case len(group) < c.cfg.MinClusterSize:
		cluster.Reason = ReasonTooFewMembers
	case !confidenceAbove(group, c.cfg.ConfidenceFloor):
		cluster.Reason = ReasonLowConfidence
	case c.hasContradiction(group):
		cluster.Reason = ReasonContradiction
	default:
		cluster.Valid = true
	}
	return cluster
}

// selectArtifactType applies the artifact selection rules: repeated
// workflows become commands, multi-domain specialization themes become
// agents, and durable conventions become skills.
func (c *Clusterer) selectArtifactType(group []*instinct.Instinct, crossDomain bool) ArtifactType {
	if crossDomain && domainSpan(group) >= 2 {
		return ArtifactAgent
	}
	workflows := 0
	for _, rec := range group {
		if rec.Pattern == instinct.PatternRepeatedFlow {
			workflows++
		}
	}
	if workflows*2 > len(group) {
		return ArtifactCommand
	}
	return ArtifactSkill
}

// hasContradiction re-checks member pairs for mutual exclusion. Status
// alone is not sufficient: contradiction can cross domains, and the
// snapshot may predate the latest sweep.
func (c *Clusterer) hasContradiction(group []*instinct.Instinct) bool {
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			if group[i].Status == instinct.StatusContradicted || group[j].Status == instinct.StatusContradicted {
				return true
			}
			if c.similarity(group[i].Trigger, group[j].Trigger) >= c.cfg.TriggerSimilarity &&
				instinct.Opposed(group[i].Action, group[j].Action) {
				return true
			}
		}
	}
	return false
}

func confidenceAbove(group []*instinct.Instinct, floor float64) bool {
	for _, rec := range group {
		if rec.Confidence <= floor {
			return false
		}
	}
	return true
}

func dominantDomain(group []*instinct.Instinct) instinct.Domain {
	counts := map[instinct.Domain]int{}
	for _, rec := range group {
		counts[rec.Domain]++
	}
	best := group[0].Domain
	for _, domain := range instinct.Domains() {
		if counts[domain] > counts[best] {
			best = domain
		}
	}
	return best
}

func domainSpan(group []*instinct.Instinct) int {
	seen := map[instinct.Domain]struct{}{}
	for _, rec := range group {
		seen[rec.Domain] = struct{}{}
	}
	return len(seen)
}
