package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"historical/internal/apperrors"
	"historical/pkg/backoff"
)

// Config wires a Session to its collaborators and polling policy.
type Config struct {
	Transport   Transport
	Description DescriptionSource
	Finisher    Finisher     // optional
	Reporters   []Reporter   // optional
	Metrics     PollRecorder // optional

	JobsURL  string // job list and submission resource
	Decision Decision

	SubmitCooldown    time.Duration     // fixed pause after a successful submission
	PollInterval      time.Duration     // default: 5m
	MaxPolls          int               // 0 means no ceiling
	MaxPollFailures   int               // default: 5
	DiscoveryAttempts int               // default: 3
	DiscoveryBackoff  backoff.Config    // wait between job list lookups
	ReviewFreshQuotes bool              // stop at Quoted for jobs not quoted when the run started
	Sleep             backoff.SleepFunc // default: backoff.Sleep
	Now               func() time.Time  // default: time.Now
	Logger            *slog.Logger      // default: slog.Default()
}

// Session drives one job from submission to its terminal actions. It is not safe
// for concurrent use; each job gets its own Session.
type Session struct {
	cfg      Config
	log      *slog.Logger
	identity Identity
	status   Status
	quote    json.RawMessage
	decision Decision

	synced   bool // the job resource has been read at least once
	accepted bool // an accept PUT succeeded during this run
	polls    int
	failures int
}

// NewSession validates cfg and returns a session for the job it describes.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, apperrors.Config("transport", "transport is required")
	}
	if cfg.Description == nil {
		return nil, apperrors.Config("job", "job description is required")
	}
	if cfg.Description.Title() == "" {
		return nil, apperrors.Config("job.title", "job title is required")
	}
	if cfg.JobsURL == "" {
		return nil, apperrors.Config("jobs_url", "jobs URL is required")
	}
	if cfg.SubmitCooldown < 0 {
		return nil, apperrors.Config("submit_cooldown", "submit cooldown cannot be negative")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.MaxPollFailures <= 0 {
		cfg.MaxPollFailures = 5
	}
	if cfg.DiscoveryAttempts <= 0 {
		cfg.DiscoveryAttempts = 3
	}
	if cfg.Sleep == nil {
		cfg.Sleep = backoff.Sleep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	title := cfg.Description.Title()
	return &Session{
		cfg:      cfg,
		log:      cfg.Logger.With("title", title),
		identity: Identity{Title: title},
		decision: cfg.Decision,
	}, nil
}

// Identity returns the job identity as currently known.
func (s *Session) Identity() Identity { return s.identity }

// Status returns the latest status snapshot.
func (s *Session) Status() Status { return s.status }

// Quote returns the most recent quote seen, if any.
func (s *Session) Quote() json.RawMessage { return s.quote }

// Run executes the lifecycle until the job reaches a terminal state or a point where
// it needs a human decision. A nil error covers Rejected, a quote left pending, a
// failed accept or reject, and a finished job whose terminal actions succeeded.
func (s *Session) Run(ctx context.Context) error {
	if err := s.discover(ctx); err != nil {
		return err
	}

	// first read of the job resource happens without waiting
	if _, err := s.refresh(ctx); err != nil {
		return err
	}
	return s.drive(ctx)
}

// discover finds the job in the account's list, submitting it first if it is absent.
func (s *Session) discover(ctx context.Context) error {
	entry, err := s.lookup(ctx, false)
	if err != nil {
		return err
	}

	submitted := false
	if entry == nil {
		if err := s.submit(ctx); err != nil {
			return err
		}
		if err := s.cfg.Sleep(ctx, s.cfg.SubmitCooldown); err != nil {
			return err
		}
		if entry, err = s.lookup(ctx, true); err != nil {
			return err
		}
		submitted = true
	}

	id, err := entry.Identity()
	if err != nil {
		return err
	}
	s.identity = id
	s.log = s.log.With("jobId", id.ID)

	st := entry.Status()
	s.setStatus(ctx, st)
	if st.State == StateError {
		return s.errorState()
	}
	if submitted || st.State == StateNew || st.State == StateEstimating {
		s.reviewFreshQuote()
	}
	return nil
}

// lookup searches the job list for this session's title, retrying failed requests
// with exponential backoff. With mustFind, an absent title is retried too.
func (s *Session) lookup(ctx context.Context, mustFind bool) (*ListEntry, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.DiscoveryAttempts; attempt++ {
		if attempt > 1 {
			if err := s.cfg.Sleep(ctx, backoff.Exponential(attempt-1, &s.cfg.DiscoveryBackoff)); err != nil {
				return nil, err
			}
		}

		entry, err := s.findInList(ctx)
		switch {
		case err == nil && (entry != nil || !mustFind):
			return entry, nil
		case err == nil:
			lastErr = apperrors.Protocol("jobs.discover",
				fmt.Sprintf("job %q not found after %d attempts", s.identity.Title, s.cfg.DiscoveryAttempts))
			s.log.Info("job not listed yet", "attempt", attempt)
		case errors.Is(err, apperrors.ErrTransport) && ctx.Err() == nil:
			lastErr = err
			s.log.Warn("job list request failed", "attempt", attempt, "error", err)
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *Session) findInList(ctx context.Context) (*ListEntry, error) {
	resp, err := s.cfg.Transport.Get(ctx, s.cfg.JobsURL)
	if err != nil {
		return nil, apperrors.Transport("jobs.list", 0, err)
	}
	if !resp.OK() {
		return nil, apperrors.Transport("jobs.list", resp.StatusCode, bodyError(resp.Body))
	}
	entries, err := ParseJobList(resp.Body)
	if err != nil {
		return nil, err
	}
	return FindByTitle(entries, s.identity.Title)
}

// submit posts the job description. There is no retry: a failed submission may still
// have created the job, and submitting twice would duplicate the title.
func (s *Session) submit(ctx context.Context) error {
	payload, err := s.cfg.Description.Payload()
	if err != nil {
		return err
	}
	resp, err := s.cfg.Transport.Post(ctx, s.cfg.JobsURL, payload)
	if err != nil {
		return apperrors.Transport("jobs.submit", 0, err)
	}
	if !resp.OK() {
		return apperrors.Transport("jobs.submit", resp.StatusCode, bodyError(resp.Body))
	}
	s.log.Info("job submitted", "httpStatus", resp.StatusCode, "cooldown", s.cfg.SubmitCooldown.String())
	return nil
}

// drive is the state machine proper. Each iteration acts on the current snapshot.
func (s *Session) drive(ctx context.Context) error {
	for {
		if !s.synced {
			if err := s.waitAndPoll(ctx); err != nil {
				return err
			}
			continue
		}

		switch s.status.State {
		case StateError:
			return s.errorState()
		case StateFinished:
			return s.finish(ctx)
		case StateRejected:
			s.log.Info("job was rejected, nothing left to do")
			return nil
		case StateQuoted:
			if !s.accepted {
				proceed, err := s.decide(ctx)
				if err != nil || !proceed {
					return err
				}
				continue
			}
			if err := s.waitAndPoll(ctx); err != nil {
				return err
			}
		default:
			if err := s.waitAndPoll(ctx); err != nil {
				return err
			}
		}
	}
}

// decide applies the decision to a quoted job. It reports whether the lifecycle
// continues; accept and reject failures leave the job quoted and end the run.
func (s *Session) decide(ctx context.Context) (bool, error) {
	s.log.Info("job has been quoted", "quote", s.quote, "decision", s.decision.String())

	var payload []byte
	switch s.decision {
	case DecisionAccept:
		payload = AcceptPayload()
	case DecisionReject:
		payload = RejectPayload()
	default:
		s.log.Info("job needs to be accepted or rejected, rerun with -a true or -a false")
		return false, nil
	}

	resp, err := s.cfg.Transport.Put(ctx, s.identity.URL, payload)
	if err != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil || !resp.OK() {
		code := 0
		if resp != nil {
			code = resp.StatusCode
			err = bodyError(resp.Body)
		}
		s.log.Error("could not apply decision, job is still quoted",
			"decision", s.decision.String(), "error", apperrors.Transport("job."+s.decision.String(), code, err))
		return false, nil
	}

	if s.decision == DecisionReject {
		s.setStatus(ctx, Status{State: StateRejected})
		s.log.Info("job was rejected")
		return true, nil
	}
	s.accepted = true
	s.setStatus(ctx, Status{State: StateAccepted})
	s.log.Info("job was accepted")
	return true, nil
}

// waitAndPoll sleeps one poll interval and refreshes the status.
func (s *Session) waitAndPoll(ctx context.Context) error {
	if s.cfg.MaxPolls > 0 && s.polls >= s.cfg.MaxPolls {
		return apperrors.Stalled("job.poll", s.polls)
	}

	wait := s.cfg.PollInterval.String()
	switch s.status.State {
	case StateRunning:
		s.log.Info("job is running", "percentComplete", s.status.PercentComplete, "wait", wait)
	case StateNew, StateEstimating:
		s.log.Info("estimate not ready yet", "wait", wait)
	default:
		s.log.Info("waiting for job", "status", string(s.status.State), "wait", wait)
	}

	if err := s.cfg.Sleep(ctx, s.cfg.PollInterval); err != nil {
		return err
	}
	s.polls++
	_, err := s.refresh(ctx)
	return err
}

// refresh reads the job resource. Failed reads are counted and tolerated until
// MaxPollFailures consecutive failures; the snapshot is left untouched meanwhile.
func (s *Session) refresh(ctx context.Context) (bool, error) {
	resp, err := s.cfg.Transport.Get(ctx, s.identity.URL)
	if err != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		err = apperrors.Transport("job.poll", 0, err)
	} else if !resp.OK() {
		err = apperrors.Transport("job.poll", resp.StatusCode, bodyError(resp.Body))
	}
	if err != nil {
		s.failures++
		s.recordPoll(ctx, s.status, false)
		if s.failures >= s.cfg.MaxPollFailures {
			return false, fmt.Errorf("giving up after %d consecutive failed polls: %w", s.failures, err)
		}
		s.log.Warn("poll failed, retrying at next interval", "failures", s.failures, "error", err)
		return false, nil
	}
	s.failures = 0

	next := ParseStatus(resp.Body)
	s.recordPoll(ctx, next, true)

	if s.synced && s.status.State.regresses(next.State) {
		if s.accepted && next.State == StateQuoted {
			s.log.Info("accept not visible yet, still quoted")
			return true, nil
		}
		return false, apperrors.Protocol("job.poll",
			fmt.Sprintf("status went back from %s to %s", s.status.State, next.State))
	}

	first := !s.synced
	s.synced = true
	s.setStatus(ctx, next)
	if first && (next.State == StateNew || next.State == StateEstimating) {
		s.reviewFreshQuote()
	}
	return true, nil
}

// setStatus replaces the snapshot and reports a transition when the state changes.
func (s *Session) setStatus(ctx context.Context, next Status) {
	prev := s.status
	s.status = next
	if next.State == StateQuoted && next.Quote != nil {
		s.quote = next.Quote
	}
	if prev.State == next.State {
		if prev.PercentComplete != next.PercentComplete || prev.Message != next.Message {
			s.reportProgress(ctx, prev, next)
		}
		return
	}

	attrs := []any{"from", string(prev.State), "to", string(next.State)}
	if next.State == StateRunning {
		attrs = append(attrs, "percentComplete", next.PercentComplete)
	}
	if next.Message != "" {
		attrs = append(attrs, "message", next.Message)
	}
	s.log.Info("job status changed", attrs...)

	t := Transition{Identity: s.identity, From: prev, To: next, At: s.cfg.Now()}
	for _, r := range s.cfg.Reporters {
		r.Report(ctx, t)
	}
}

// reportProgress hands a same-state snapshot change to the reporters that want it.
func (s *Session) reportProgress(ctx context.Context, prev, next Status) {
	t := Transition{Identity: s.identity, From: prev, To: next, At: s.cfg.Now()}
	for _, r := range s.cfg.Reporters {
		if pr, ok := r.(ProgressReporter); ok {
			pr.ReportProgress(ctx, t)
		}
	}
}

// reviewFreshQuote holds back the decision for a job that was not quoted when the
// run started, so its quote is seen before anything is spent.
func (s *Session) reviewFreshQuote() {
	if !s.cfg.ReviewFreshQuotes || s.decision == DecisionPending {
		return
	}
	s.log.Info("new quote will need review, ignoring decision for this run", "decision", s.decision.String())
	s.decision = DecisionPending
}

func (s *Session) finish(ctx context.Context) error {
	s.log.Info("job finished")
	if s.cfg.Finisher == nil {
		return nil
	}
	if err := s.cfg.Finisher.Finish(ctx, s.identity, s.status); err != nil {
		return fmt.Errorf("retrieving results for %q: %w", s.identity.Title, err)
	}
	return nil
}

func (s *Session) errorState() error {
	msg := s.status.Message
	if msg == "" {
		msg = "provider reported an error"
	}
	return apperrors.Protocol("job.status", fmt.Sprintf("job %q is in error state: %s", s.identity.Title, msg))
}

func (s *Session) recordPoll(ctx context.Context, st Status, ok bool) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordPoll(ctx, st, ok)
	}
}

// bodyError turns the start of a response body into an error for diagnostics.
func bodyError(body []byte) error {
	const limit = 256
	if len(body) == 0 {
		return nil
	}
	if len(body) > limit {
		body = body[:limit]
	}
	return errors.New(string(body))
}
