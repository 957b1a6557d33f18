package store

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/instinctd/internal/instinct"
)

// Record wire format: a YAML metadata block delimited by "---" lines,
// followed by free-text Markdown sections for the action description and
// the evidence list. Field names and the metadata/body split are
// compatibility-sensitive and must stay stable; unknown metadata fields
// are preserved verbatim on rewrite.

const (
	metaDelimiter   = "---"
	actionHeading   = "## Action"
	evidenceHeading = "## Evidence"
)

// ErrMalformedRecord marks records that cannot be parsed on load. Loading
// skips them with a warning rather than aborting.
var ErrMalformedRecord = errors.New("malformed instinct record")

// recordMeta is the strict schema of the metadata block. Required fields
// are rejected when missing; anything not listed here round-trips through
// the Extra passthrough map.
type recordMeta struct {
	ID            string  `yaml:"id"`
	Trigger       string  `yaml:"trigger"`
	Domain        string  `yaml:"domain"`
	Confidence    float64 `yaml:"confidence"`
	Source        string  `yaml:"source"`
	Pattern       string  `yaml:"pattern,omitempty"`
	Applications  int     `yaml:"applications"`
	Successes     int     `yaml:"successes"`
	Status        string  `yaml:"status"`
	ArtifactRef   string  `yaml:"artifact_ref,omitempty"`
	DecayWindows  int     `yaml:"decay_windows,omitempty"`
	CreatedAt     string  `yaml:"created_at"`
	UpdatedAt     string  `yaml:"updated_at"`
	LastAppliedAt string  `yaml:"last_applied_at,omitempty"`
	Version       int     `yaml:"version"`
}

// knownMetaFields lists every field owned by the engine. Used to separate
// unknown passthrough fields during parsing.
var knownMetaFields = map[string]struct{}{
	"id": {}, "trigger": {}, "domain": {}, "confidence": {}, "source": {},
	"pattern": {}, "applications": {}, "successes": {}, "status": {},
	"artifact_ref": {}, "decay_windows": {}, "created_at": {},
	"updated_at": {}, "last_applied_at": {}, "version": {},
}

// MarshalRecord serializes an instinct into the persisted record format.
func MarshalRecord(in *instinct.Instinct) ([]byte, error) {
	meta := recordMeta{
		ID:           in.ID,
		Trigger:      in.Trigger,
		Domain:       string(in.Domain),
		Confidence:   in.Confidence,
		Source:       string(in.Source),
		Pattern:      string(in.Pattern),
		Applications: in.Applications,
		Successes:    in.Successes,
		Status:       string(in.Status),
		ArtifactRef:  in.ArtifactRef,
		DecayWindows: in.DecayWindows,
		CreatedAt:    in.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    in.UpdatedAt.UTC().Format(time.RFC3339),
		Version:      in.Version,
	}
	if !in.LastAppliedAt.IsZero() {
		meta.LastAppliedAt = in.LastAppliedAt.UTC().Format(time.RFC3339)
	}

	metaBytes, err := yaml.Marshal(&meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(metaDelimiter + "\n")
	buf.Write(metaBytes)
	if len(in.Extra) > 0 {
		extraBytes, err := yaml.Marshal(in.Extra)
		if err != nil {
			return nil, fmt.Errorf("marshaling passthrough fields: %w", err)
		}
		buf.Write(extraBytes)
	}
	buf.WriteString(metaDelimiter + "\n\n")

	buf.WriteString(actionHeading + "\n\n")
	buf.WriteString(strings.TrimSpace(in.Action) + "\n\n")

	buf.WriteString(evidenceHeading + "\n\n")
	for _, ref := range in.Evidence {
		buf.WriteString("- " + ref + "\n")
	}
	return buf.Bytes(), nil
}

// UnmarshalRecord parses the persisted record format back into an
// instinct. Unknown metadata fields land in Extra; missing required
// fields or an unparseable block return ErrMalformedRecord.
func UnmarshalRecord(data []byte) (*instinct.Instinct, error) {
	metaBlock, body, err := splitRecord(data)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(metaBlock, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	var meta recordMeta
	if err := yaml.Unmarshal(metaBlock, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if meta.ID == "" || meta.Trigger == "" || meta.Domain == "" || meta.Version == 0 {
		return nil, fmt.Errorf("%w: missing required metadata field", ErrMalformedRecord)
	}

	extra := map[string]any{}
	for k, v := range raw {
		if _, known := knownMetaFields[k]; !known {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		extra = nil
	}

	action, evidence := parseBody(body)
	if action == "" {
		return nil, fmt.Errorf("%w: missing action section", ErrMalformedRecord)
	}

	in := &instinct.Instinct{
		ID:           meta.ID,
		Trigger:      meta.Trigger,
		Action:       action,
		Domain:       instinct.Domain(meta.Domain),
		Confidence:   meta.Confidence,
		Source:       instinct.Source(meta.Source),
		Pattern:      instinct.Pattern(meta.Pattern),
		Applications: meta.Applications,
		Successes:    meta.Successes,
		Evidence:     evidence,
		Status:       instinct.Status(meta.Status),
		ArtifactRef:  meta.ArtifactRef,
		DecayWindows: meta.DecayWindows,
		Version:      meta.Version,
		Extra:        extra,
	}
	if in.CreatedAt, err = parseTime(meta.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", ErrMalformedRecord, err)
	}
	if in.UpdatedAt, err = parseTime(meta.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%w: updated_at: %v", ErrMalformedRecord, err)
	}
	if meta.LastAppliedAt != "" {
		if in.LastAppliedAt, err = parseTime(meta.LastAppliedAt); err != nil {
			return nil, fmt.Errorf("%w: last_applied_at: %v", ErrMalformedRecord, err)
		}
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return in, nil
}

// splitRecord separates the metadata block from the Markdown body.
func splitRecord(data []byte) (meta, body []byte, err error) {
	text := string(data)
	if !strings.HasPrefix(text, metaDelimiter+"\n") {
		return nil, nil, fmt.Errorf("%w: missing metadata delimiter", ErrMalformedRecord)
	}
	rest := text[len(metaDelimiter)+1:]
	end := strings.Index(rest, "\n"+metaDelimiter+"\n")
	if end < 0 {
		return nil, nil, fmt.Errorf("%w: unterminated metadata block", ErrMalformedRecord)
	}
	return []byte(rest[:end+1]), []byte(rest[end+len(metaDelimiter)+2:]), nil
}

// parseBody extracts the action text and evidence references from the
// Markdown body sections.
func parseBody(body []byte) (action string, evidence []string) {
	lines := strings.Split(string(body), "\n")
	section := ""
	var actionLines []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == actionHeading:
			section = "action"
		case trimmed == evidenceHeading:
			section = "evidence"
		case section == "action":
			actionLines = append(actionLines, line)
		case section == "evidence":
			if strings.HasPrefix(trimmed, "- ") {
				evidence = append(evidence, strings.TrimPrefix(trimmed, "- "))
			}
		}
	}
	return strings.TrimSpace(strings.Join(actionLines, "\n")), evidence
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(time.RFC3339, s)
}
