// Package observation defines the ingest boundary of the instinct engine:
// per-session behavioral events consumed once, lazily, from a replayable
// source. The package holds no persistent state.
package observation

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Errors for observation ingest.
var (
	ErrEmptySessionID = errors.New("session ID cannot be empty")
	ErrInvalidKind    = errors.New("observation kind must be prompt, tool-call, outcome, or explicit-correction")

	// ErrMalformedLine marks a single undecodable or invalid line.
	// Line-local: the reader continues past it. Errors from the
	// underlying stream are terminal instead and never carry it.
	ErrMalformedLine = errors.New("malformed observation line")
)

// Kind is the event kind of an observation.
type Kind string

const (
	// KindPrompt is a user prompt or task statement.
	KindPrompt Kind = "prompt"

	// KindToolCall is a tool invocation (build, test, edit, shell, ...).
	KindToolCall Kind = "tool-call"

	// KindOutcome reports the result of the preceding tool call.
	KindOutcome Kind = "outcome"

	// KindCorrection is an explicit user correction of agent behavior.
	KindCorrection Kind = "explicit-correction"
)

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPrompt, KindToolCall, KindOutcome, KindCorrection:
		return true
	}
	return false
}

// Observation is a single timestamped session event. Observations are
// transient: the engine consumes them to produce candidates and evidence
// references, and never persists the raw payload.
type Observation struct {
	// ID is the observation reference used in instinct evidence trails.
	ID string `json:"id"`

	// SessionID groups observations belonging to one session.
	SessionID string `json:"session_id"`

	// Kind is the event kind.
	Kind Kind `json:"kind"`

	// Tool names the invoked tool for tool-call events.
	Tool string `json:"tool,omitempty"`

	// Success reports the result for outcome events.
	Success bool `json:"success,omitempty"`

	// Payload is the free-form event text: prompt text, tool arguments,
	// error output, or corrective instruction.
	Payload string `json:"payload"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks required fields, assigning an ID when missing.
func (o *Observation) Validate() error {
	if o.SessionID == "" {
		return ErrEmptySessionID
	}
	if !o.Kind.Valid() {
		return ErrInvalidKind
	}
	if strings.TrimSpace(o.Payload) == "" && o.Kind != KindOutcome {
		return fmt.Errorf("observation payload cannot be empty for kind %q", o.Kind)
	}
	if o.ID == "" {
		o.ID = "obs-" + uuid.New().String()
	}
	return nil
}

// Ref returns the evidence reference string for this observation.
func (o *Observation) Ref() string {
	return o.ID
}

// Reader lazily decodes a JSONL stream of observations. One JSON object
// per line; blank lines are skipped. The reader consumes the stream once;
// replay is achieved by constructing a new Reader over the same source.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	err     error
}

// NewReader wraps r for lazy observation decoding.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	// Allow large payload lines (error output can be verbose).
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{scanner: sc}
}

// Next returns the next observation, or io.EOF when the stream is
// exhausted. Malformed lines are returned as ErrMalformedLine errors
// carrying the line number; callers decide whether to skip or abort.
// Stream errors (including a line exceeding the buffer) are terminal:
// every subsequent call returns the same error.
func (r *Reader) Next() (*Observation, error) {
	if r.err != nil {
		return nil, r.err
	}
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		var obs Observation
		if err := json.Unmarshal([]byte(line), &obs); err != nil {
			return nil, fmt.Errorf("line %d: %w: %w", r.line, ErrMalformedLine, err)
		}
		if err := obs.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w: %w", r.line, ErrMalformedLine, err)
		}
		return &obs, nil
	}
	if err := r.scanner.Err(); err != nil {
		r.err = fmt.Errorf("reading observations: %w", err)
		return nil, r.err
	}
	r.err = io.EOF
	return nil, io.EOF
}

// ReadAll drains the reader, skipping malformed lines via the skip
// callback (may be nil). Used by the detector, which needs the full
// ordered session sequence for its windowed passes. Only line-local
// decode failures are skippable; stream errors abort the read.
func ReadAll(r *Reader, skip func(error)) ([]Observation, error) {
	var out []Observation
	for {
		obs, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if errors.Is(err, ErrMalformedLine) && skip != nil {
			skip(err)
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, *obs)
	}
}
