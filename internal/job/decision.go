package job

import (
	"fmt"
	"strings"

	"historical/internal/apperrors"
)

// Decision is the instruction applied once the job is quoted.
type Decision int

// Decision values. Pending stops the run at Quoted until the driver is invoked again
// with an explicit decision.
const (
	DecisionPending Decision = iota
	DecisionAccept
	DecisionReject
)

func (d Decision) String() string {
	switch d {
	case DecisionPending:
		return "pending"
	case DecisionAccept:
		return "accept"
	case DecisionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseDecision reads the accept flag. An empty value means no decision was given.
func ParseDecision(value string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return DecisionPending, nil
	case "true", "yes", "accept":
		return DecisionAccept, nil
	case "false", "no", "reject":
		return DecisionReject, nil
	default:
		return DecisionPending, apperrors.Config("accept", fmt.Sprintf("accept flag must be true or false, got %q", value))
	}
}
