package job

import (
	"context"
	"time"
)

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status code is in [200,300).
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport performs authenticated requests against the provider. An error means no
// response was received; non-2xx responses are returned, not converted to errors.
type Transport interface {
	Get(ctx context.Context, url string) (*Response, error)
	Post(ctx context.Context, url string, body []byte) (*Response, error)
	Put(ctx context.Context, url string, body []byte) (*Response, error)
}

// DescriptionSource supplies the job title and the submission payload.
type DescriptionSource interface {
	Title() string
	Payload() ([]byte, error)
}

// Finisher runs the terminal actions for a finished job. It is called at most once per run.
type Finisher interface {
	Finish(ctx context.Context, id Identity, status Status) error
}

// Transition is a change of status observed by a session.
type Transition struct {
	Identity Identity
	From     Status
	To       Status
	At       time.Time
}

// Reporter receives every transition. Reporters must not block the session for long.
type Reporter interface {
	Report(ctx context.Context, t Transition)
}

// ProgressReporter is implemented by reporters that also want snapshots whose state
// did not change, such as a new percent complete while Running.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, t Transition)
}

// PollRecorder records poll outcomes for metrics.
type PollRecorder interface {
	RecordPoll(ctx context.Context, status Status, ok bool)
}
