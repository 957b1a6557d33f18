package instinct

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Common errors for instinct operations.
var (
	ErrEmptyTrigger      = errors.New("instinct trigger cannot be empty")
	ErrEmptyAction       = errors.New("instinct action cannot be empty")
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")
	ErrInvalidCounters   = errors.New("applications must be >= successes >= 0")
	ErrInvalidDomain     = errors.New("unknown domain")
	ErrInvalidSource     = errors.New("source must be session-observation, inherited, or manual")
	ErrInvalidStatus     = errors.New("status must be active, contradicted, or archived")
)

// SeedConfidence is the initial confidence assigned to detector candidates.
// Unproven instincts start below the uninformative prior; the first outcome
// application recomputes confidence from the counters.
const SeedConfidence = 0.3

// Domain is a fixed category tag grouping instincts.
type Domain string

const (
	DomainSecurity     Domain = "security"
	DomainTesting      Domain = "testing"
	DomainWorkflow     Domain = "workflow"
	DomainArchitecture Domain = "architecture"
	DomainStyle        Domain = "style"
)

// Domains enumerates all valid domains in a stable order.
func Domains() []Domain {
	return []Domain{DomainSecurity, DomainTesting, DomainWorkflow, DomainArchitecture, DomainStyle}
}

// Valid reports whether d is a member of the fixed domain enumeration.
func (d Domain) Valid() bool {
	switch d {
	case DomainSecurity, DomainTesting, DomainWorkflow, DomainArchitecture, DomainStyle:
		return true
	}
	return false
}

// Source is the provenance tag of an instinct.
type Source string

const (
	// SourceSession marks instincts detected from session observations.
	SourceSession Source = "session-observation"

	// SourceInherited marks instincts imported from another store.
	SourceInherited Source = "inherited"

	// SourceManual marks instincts recorded by hand.
	SourceManual Source = "manual"
)

// Valid reports whether s is a known provenance tag.
func (s Source) Valid() bool {
	switch s {
	case SourceSession, SourceInherited, SourceManual:
		return true
	}
	return false
}

// Status is the lifecycle state of an instinct.
type Status string

const (
	// StatusActive indicates the instinct participates in merging,
	// outcome scoring, and evolution.
	StatusActive Status = "active"

	// StatusContradicted indicates the instinct conflicts with another
	// active instinct and is excluded from confidence-based automation
	// until resolved.
	StatusContradicted Status = "contradicted"

	// StatusArchived indicates the instinct was evolved into an artifact
	// or manually retired. Archived instincts are never deleted; their
	// evidence trail is preserved for auditability.
	StatusArchived Status = "archived"
)

// Valid reports whether st is a known lifecycle state.
func (st Status) Valid() bool {
	switch st {
	case StatusActive, StatusContradicted, StatusArchived:
		return true
	}
	return false
}

// Pattern identifies which detection pass produced an instinct.
// The evolution clusterer uses the dominant pattern across cluster
// members to select an artifact type.
type Pattern string

const (
	PatternCorrection      Pattern = "correction"
	PatternErrorResolution Pattern = "error-resolution"
	PatternRepeatedFlow    Pattern = "repeated-workflow"
)

// Instinct is an atomic, confidence-scored trigger→action record.
//
// Instincts are mutated only through the store's merge and outcome paths;
// Version supports optimistic concurrency (compare-and-swap on commit).
type Instinct struct {
	// ID is the stable identifier, derived from trigger+action content.
	// Immutable after creation.
	ID string `json:"id" yaml:"id"`

	// Trigger is the condition text describing when the behavior applies.
	Trigger string `json:"trigger" yaml:"trigger"`

	// Action is the prescribed behavior text.
	Action string `json:"action" yaml:"action"`

	// Domain is the category tag, one of the fixed enumeration.
	Domain Domain `json:"domain" yaml:"domain"`

	// Confidence is the Laplace-smoothed reliability estimate in [0,1].
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Source is the provenance tag.
	Source Source `json:"source" yaml:"source"`

	// Pattern is the detection pattern that produced this instinct.
	// Empty for inherited and manual instincts.
	Pattern Pattern `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Applications counts outcome applications (successes + failures).
	Applications int `json:"applications" yaml:"applications"`

	// Successes counts successful applications. Always <= Applications.
	Successes int `json:"successes" yaml:"successes"`

	// Evidence is the append-only ordered list of evidence references
	// (observation ids or free-text notes). Never shrinks.
	Evidence []string `json:"evidence" yaml:"evidence"`

	// Status is the lifecycle state.
	Status Status `json:"status" yaml:"status"`

	// ArtifactRef back-references the generated artifact this instinct
	// was evolved into. Set when Status transitions to archived via
	// cluster acceptance.
	ArtifactRef string `json:"artifact_ref,omitempty" yaml:"artifact_ref,omitempty"`

	// DecayWindows counts staleness windows already applied, making the
	// decay pass idempotent within a window boundary.
	DecayWindows int `json:"decay_windows,omitempty" yaml:"decay_windows,omitempty"`

	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
	LastAppliedAt time.Time `json:"last_applied_at,omitempty" yaml:"last_applied_at,omitempty"`

	// Version increments on every committed mutation and is the
	// compare-and-swap token for concurrent writers.
	Version int `json:"version" yaml:"version"`

	// Extra preserves unrecognized metadata fields verbatim across
	// load/rewrite cycles (forward compatibility).
	Extra map[string]any `json:"-" yaml:"-"`
}

// Validate checks the instinct's invariants.
func (in *Instinct) Validate() error {
	if in.ID == "" {
		return errors.New("instinct ID cannot be empty")
	}
	if in.Trigger == "" {
		return ErrEmptyTrigger
	}
	if in.Action == "" {
		return ErrEmptyAction
	}
	if !in.Domain.Valid() {
		return ErrInvalidDomain
	}
	if in.Confidence < 0.0 || in.Confidence > 1.0 {
		return ErrInvalidConfidence
	}
	if !in.Source.Valid() {
		return ErrInvalidSource
	}
	if in.Successes < 0 || in.Applications < in.Successes {
		return ErrInvalidCounters
	}
	if !in.Status.Valid() {
		return ErrInvalidStatus
	}
	if in.Version < 1 {
		return errors.New("version must be >= 1")
	}
	return nil
}

// Clone returns a deep copy. Store reads hand out clones so callers can
// never mutate shared state.
func (in *Instinct) Clone() *Instinct {
	cp := *in
	cp.Evidence = append([]string(nil), in.Evidence...)
	if in.Extra != nil {
		cp.Extra = make(map[string]any, len(in.Extra))
		for k, v := range in.Extra {
			cp.Extra[k] = v
		}
	}
	return &cp
}

// Candidate is a detector-produced instinct proposal, not yet persisted.
type Candidate struct {
	Trigger  string
	Action   string
	Domain   Domain
	Source   Source
	Pattern  Pattern
	Evidence []string

	// Proven is set when the candidate was produced together with a
	// fresh successful application (e.g. an error-resolution pattern
	// whose fix was observed to work). Merging a proven candidate routes
	// through the scorer's success path.
	Proven bool
}

// Validate rejects malformed candidates before they reach the store.
func (c *Candidate) Validate() error {
	if c.Trigger == "" {
		return ErrEmptyTrigger
	}
	if c.Action == "" {
		return ErrEmptyAction
	}
	if !c.Domain.Valid() {
		return ErrInvalidDomain
	}
	if !c.Source.Valid() {
		return ErrInvalidSource
	}
	return nil
}

// DeriveID computes the stable content-derived identifier for a
// trigger+action pair. Identical candidates always map to the same ID.
func DeriveID(trigger, action string) string {
	h := sha256.New()
	h.Write([]byte(trigger))
	h.Write([]byte{0})
	h.Write([]byte(action))
	return "inst-" + hex.EncodeToString(h.Sum(nil))[:12]
}

// New materializes a candidate into a fresh instinct record at version 1
// with the detector seed confidence and zeroed counters.
func New(c *Candidate, now time.Time) (*Instinct, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Instinct{
		ID:         DeriveID(c.Trigger, c.Action),
		Trigger:    c.Trigger,
		Action:     c.Action,
		Domain:     c.Domain,
		Confidence: SeedConfidence,
		Source:     c.Source,
		Pattern:    c.Pattern,
		Evidence:   append([]string(nil), c.Evidence...),
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}, nil
}
