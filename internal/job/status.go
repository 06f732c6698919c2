// Package job drives a Historical PowerTrack job through its lifecycle.
package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// State is the lifecycle phase of a job as understood by the driver.
type State string

// State constants
const (
	StateNew        State = "new"
	StateEstimating State = "estimating"
	StateQuoted     State = "quoted"
	StateAccepted   State = "accepted"
	StateRejected   State = "rejected"
	StateRunning    State = "running"
	StateFinished   State = "finished"
	StateError      State = "error"
)

// knownStates maps provider status strings to states. The provider also reports
// "opened" for a freshly created job and "delivered" once data is available.
var knownStates = map[string]State{
	"new":        StateNew,
	"opened":     StateNew,
	"estimating": StateEstimating,
	"quoted":     StateQuoted,
	"accepted":   StateAccepted,
	"rejected":   StateRejected,
	"running":    StateRunning,
	"finished":   StateFinished,
	"delivered":  StateFinished,
	"error":      StateError,
}

// rank orders the happy path; Rejected sits beside Accepted as the other branch out of Quoted.
var rank = map[State]int{
	StateNew:        0,
	StateEstimating: 1,
	StateQuoted:     2,
	StateAccepted:   3,
	StateRejected:   3,
	StateRunning:    4,
	StateFinished:   5,
}

// Terminal reports whether the session stops once the job reaches s.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateRejected || s == StateError
}

// regresses reports whether moving from s to next goes backwards along the happy path.
// Error is reachable from anywhere and never counts as a regression.
func (s State) regresses(next State) bool {
	from, ok1 := rank[s]
	to, ok2 := rank[next]
	if !ok1 || !ok2 {
		return false
	}
	return to < from
}

// Results describes where a finished job's data can be fetched.
type Results struct {
	DataURL           string          `json:"dataURL"`
	SuspectMinutesURL string          `json:"suspectMinutesURL,omitempty"`
	ExpiresAt         string          `json:"expiresAt,omitempty"`
	CompletedAt       string          `json:"completedAt,omitempty"`
	Raw               json.RawMessage `json:"-"`
}

// Status is an immutable snapshot of a job's state. Sessions replace it wholesale on
// every poll so fields that belong to an earlier phase never leak into a later one.
type Status struct {
	State           State
	PercentComplete float64         // only meaningful while Running
	Quote           json.RawMessage // only meaningful while Quoted, kept verbatim
	Results         *Results        // only present once Finished
	Message         string          // provider statusMessage, or why the payload mapped to Error
}

// String renders the status for logs.
func (s Status) String() string {
	switch s.State {
	case StateRunning:
		return fmt.Sprintf("%s (%.0f%%)", s.State, s.PercentComplete)
	case StateError:
		if s.Message != "" {
			return fmt.Sprintf("%s: %s", s.State, s.Message)
		}
	}
	return string(s.State)
}

// ParseStatus maps a job resource body to a Status.
//
// Unrecognized or missing status strings map to Error, as do bodies that are not a
// JSON object. A Quoted status without a quote is inconsistent and also maps to Error.
// Running progress defaults to 0 and is clamped to [0,100].
func ParseStatus(body []byte) Status {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return errorStatus("status payload is not a JSON object")
	}
	return statusFromFields(fields, true)
}

// statusFromFields applies the mapping rule. The job list only carries summaries, so
// list entries are read with strict=false and skip the quote consistency check.
func statusFromFields(fields map[string]json.RawMessage, strict bool) Status {
	var name string
	if raw, ok := fields["status"]; ok {
		_ = json.Unmarshal(raw, &name)
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return errorStatus("status is missing")
	}

	state, ok := knownStates[name]
	if !ok {
		return errorStatus(fmt.Sprintf("unrecognized status %q", name))
	}

	st := Status{State: state, Message: stringField(fields, "statusMessage")}
	switch state {
	case StateRunning:
		st.PercentComplete = clampPercent(numberField(fields, "percentComplete"))
	case StateQuoted:
		quote := present(fields["quote"])
		if quote == nil && strict {
			return errorStatus("status is quoted but no quote was provided")
		}
		st.Quote = quote
	case StateFinished:
		st.Results = parseResults(present(fields["results"]))
	}
	return st
}

func errorStatus(reason string) Status {
	return Status{State: StateError, Message: reason}
}

// present returns raw unless it is absent or JSON null.
func present(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	out := make(json.RawMessage, len(trimmed))
	copy(out, trimmed)
	return out
}

func parseResults(raw json.RawMessage) *Results {
	if raw == nil {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return &Results{
		DataURL:           stringField(fields, "dataURL"),
		SuspectMinutesURL: stringField(fields, "suspectMinutesURL"),
		ExpiresAt:         stringField(fields, "expiresAt"),
		CompletedAt:       stringField(fields, "completedAt"),
		Raw:               raw,
	}
}

func stringField(fields map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := fields[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// numberField accepts a JSON number or a numeric string; anything else reads as 0.
func numberField(fields map[string]json.RawMessage, key string) float64 {
	raw, ok := fields[key]
	if !ok {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return n
		}
	}
	return 0
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
