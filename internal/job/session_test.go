package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"historical/internal/apperrors"
	"historical/pkg/backoff"
)

const (
	testJobsURL = "https://api.test/accounts/acme/publishers/twitter/jobs.json"
	testJobURL  = "https://api.test/accounts/acme/publishers/twitter/historical/jobs/abc123.json"
)

type reply struct {
	status int
	body   string
	err    error
}

type call struct {
	method string
	url    string
	body   string
}

// fakeTransport serves scripted replies per method and URL. The last reply for a
// key repeats once the script runs out.
type fakeTransport struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   []call
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: make(map[string][]reply)}
}

func (f *fakeTransport) on(method, url string, replies ...reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method+" "+url] = append(f.replies[method+" "+url], replies...)
}

func (f *fakeTransport) do(method, url string, body []byte) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: method, url: url, body: string(body)})

	key := method + " " + url
	queue := f.replies[key]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unexpected request %s", key)
	}
	r := queue[0]
	if len(queue) > 1 {
		f.replies[key] = queue[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Response{StatusCode: r.status, Body: []byte(r.body)}, nil
}

func (f *fakeTransport) Get(_ context.Context, url string) (*Response, error) {
	return f.do("GET", url, nil)
}

func (f *fakeTransport) Post(_ context.Context, url string, body []byte) (*Response, error) {
	return f.do("POST", url, body)
}

func (f *fakeTransport) Put(_ context.Context, url string, body []byte) (*Response, error) {
	return f.do("PUT", url, body)
}

func (f *fakeTransport) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (f *fakeTransport) bodies(method string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c.body)
		}
	}
	return out
}

// sleepRecorder stands in for backoff.Sleep and returns immediately.
type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

type description struct {
	title   string
	payload []byte
}

func (d description) Title() string            { return d.title }
func (d description) Payload() ([]byte, error) { return d.payload, nil }

type finisher struct {
	calls  int
	status Status
	err    error
}

func (f *finisher) Finish(_ context.Context, _ Identity, st Status) error {
	f.calls++
	f.status = st
	return f.err
}

type recorder struct {
	transitions []Transition
}

func (r *recorder) Report(_ context.Context, t Transition) {
	r.transitions = append(r.transitions, t)
}

func (r *recorder) states() []State {
	out := make([]State, 0, len(r.transitions))
	for _, t := range r.transitions {
		out = append(out, t.To.State)
	}
	return out
}

// progressRecorder also receives same-state snapshot changes.
type progressRecorder struct {
	recorder
	progress []Transition
}

func (r *progressRecorder) ReportProgress(_ context.Context, t Transition) {
	r.progress = append(r.progress, t)
}

type harness struct {
	transport *fakeTransport
	sleeper   *sleepRecorder
	finisher  *finisher
	reporter  *recorder
	session   *Session
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		sleeper:   &sleepRecorder{},
		finisher:  &finisher{},
		reporter:  &recorder{},
	}
	cfg := Config{
		Transport:         h.transport,
		Description:       description{title: "T", payload: []byte(`{"title":"T"}`)},
		Finisher:          h.finisher,
		Reporters:         []Reporter{h.reporter},
		JobsURL:           testJobsURL,
		SubmitCooldown:    60 * time.Second,
		PollInterval:      5 * time.Minute,
		MaxPollFailures:   3,
		DiscoveryAttempts: 3,
		DiscoveryBackoff:  backoff.Config{Initial: 30 * time.Second, Max: 2 * time.Minute},
		Sleep:             h.sleeper.Sleep,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	h.session = s
	return h
}

func listed(status string) reply {
	if status == "" {
		return reply{status: 200, body: fmt.Sprintf(`{"jobs":[{"title":"T","jobURL":%q}]}`, testJobURL)}
	}
	return reply{status: 200, body: fmt.Sprintf(`{"jobs":[{"title":"T","jobURL":%q,"status":%q}]}`, testJobURL, status)}
}

func emptyList() reply { return reply{status: 200, body: `{"jobs":[]}`} }

func jobStatus(status string) reply {
	return reply{status: 200, body: fmt.Sprintf(`{"status":%q}`, status)}
}

func quoted() reply {
	return reply{status: 200, body: `{"status":"quoted","quote":{"costDollars":5000}}`}
}

func running(percent int) reply {
	return reply{status: 200, body: fmt.Sprintf(`{"status":"running","percentComplete":%d}`, percent)}
}

func finished() reply {
	return reply{status: 200, body: `{"status":"finished","percentComplete":100,"results":{"dataURL":"https://api.test/data.json"}}`}
}

func assertWaits(t *testing.T, got []time.Duration, want ...time.Duration) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("waits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("waits = %v, want %v", got, want)
		}
	}
}

func TestNewSession_Validation(t *testing.T) {
	t.Parallel()
	valid := Config{
		Transport:   newFakeTransport(),
		Description: description{title: "T"},
		JobsURL:     testJobsURL,
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing transport", func(c *Config) { c.Transport = nil }},
		{"missing description", func(c *Config) { c.Description = nil }},
		{"empty title", func(c *Config) { c.Description = description{} }},
		{"missing jobs URL", func(c *Config) { c.JobsURL = "" }},
		{"negative cooldown", func(c *Config) { c.SubmitCooldown = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewSession(cfg); !errors.Is(err, apperrors.ErrConfig) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}

	if _, err := NewSession(valid); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestSession_SubmitsNewJobAndWaitsForQuote(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.transport.on("GET", testJobsURL, emptyList(), listed("estimating"))
	h.transport.on("POST", testJobsURL, reply{status: 201, body: `{"jobURL":"x"}`})
	h.transport.on("GET", testJobURL, jobStatus("estimating"), jobStatus("estimating"), quoted())

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// cool-down after submission, then exactly two poll waits before the quote
	assertWaits(t, h.sleeper.waits, 60*time.Second, 5*time.Minute, 5*time.Minute)

	if got := h.transport.bodies("POST"); len(got) != 1 || got[0] != `{"title":"T"}` {
		t.Errorf("POST bodies = %v", got)
	}
	if h.transport.count("PUT") != 0 {
		t.Error("pending decision must not issue a PUT")
	}
	if h.session.Status().State != StateQuoted {
		t.Errorf("final status = %s, want quoted", h.session.Status())
	}
	if string(h.session.Quote()) != `{"costDollars":5000}` {
		t.Errorf("Quote() = %s", h.session.Quote())
	}
	if id := h.session.Identity(); id.ID != "abc123" || id.URL != testJobURL {
		t.Errorf("Identity() = %+v", id)
	}
	if h.finisher.calls != 0 {
		t.Error("finisher must not run before the job finishes")
	}
}

func TestSession_RunningToFinishedTriggersTerminalActionsOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.transport.on("GET", testJobsURL, listed("running"))
	h.transport.on("GET", testJobURL, running(10), running(55), finished())

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if h.transport.count("GET") != 4 {
		t.Errorf("expected 1 list read and 3 polls, got %d GETs", h.transport.count("GET"))
	}
	assertWaits(t, h.sleeper.waits, 5*time.Minute, 5*time.Minute)
	if h.finisher.calls != 1 {
		t.Fatalf("finisher called %d times, want 1", h.finisher.calls)
	}
	if h.finisher.status.Results == nil || h.finisher.status.Results.DataURL != "https://api.test/data.json" {
		t.Errorf("finisher got status %+v", h.finisher.status)
	}
	if h.transport.count("POST") != 0 {
		t.Error("a listed job must never be resubmitted")
	}
}

func TestSession_Decisions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		decision  Decision
		putStatus int
		wantState State
		wantPUT   string
	}{
		{"accept succeeds", DecisionAccept, 200, StateFinished, `{"status":"accept"}`},
		{"accept fails", DecisionAccept, 500, StateQuoted, `{"status":"accept"}`},
		{"reject succeeds", DecisionReject, 204, StateRejected, `{"status":"reject"}`},
		{"reject fails", DecisionReject, 403, StateQuoted, `{"status":"reject"}`},
		{"pending", DecisionPending, 0, StateQuoted, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, func(c *Config) { c.Decision = tt.decision })
			h.transport.on("GET", testJobsURL, listed("quoted"))
			h.transport.on("GET", testJobURL, quoted(), jobStatus("accepted"), finished())
			h.transport.on("PUT", testJobURL, reply{status: tt.putStatus})

			if err := h.session.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if got := h.session.Status().State; got != tt.wantState {
				t.Errorf("final state = %s, want %s", got, tt.wantState)
			}
			puts := h.transport.bodies("PUT")
			if tt.wantPUT == "" {
				if len(puts) != 0 {
					t.Errorf("expected no PUT, got %v", puts)
				}
				return
			}
			if len(puts) != 1 || puts[0] != tt.wantPUT {
				t.Errorf("PUT bodies = %v, want [%s]", puts, tt.wantPUT)
			}
		})
	}
}

func TestSession_AcceptMovesToAccepted(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) {
		c.Decision = DecisionAccept
		c.MaxPolls = 1
	})
	h.transport.on("GET", testJobsURL, listed("quoted"))
	h.transport.on("GET", testJobURL, quoted(), jobStatus("accepted"))
	h.transport.on("PUT", testJobURL, reply{status: 200})

	err := h.session.Run(context.Background())
	if !errors.Is(err, apperrors.ErrStalled) {
		t.Fatalf("expected stall once the poll ceiling is hit, got %v", err)
	}
	if got := h.session.Status().State; got != StateAccepted {
		t.Errorf("state = %s, want accepted", got)
	}
}

func TestSession_AcceptNotYetVisible(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) { c.Decision = DecisionAccept })
	h.transport.on("GET", testJobsURL, listed("quoted"))
	h.transport.on("GET", testJobURL, quoted(), quoted(), running(20), finished())
	h.transport.on("PUT", testJobURL, reply{status: 200})

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.transport.count("PUT") != 1 {
		t.Errorf("accept must be sent once, got %d PUTs", h.transport.count("PUT"))
	}
	if h.finisher.calls != 1 {
		t.Errorf("finisher called %d times", h.finisher.calls)
	}
}

func TestSession_ReportsTransitions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) { c.Decision = DecisionAccept })
	h.transport.on("GET", testJobsURL, listed("quoted"))
	h.transport.on("GET", testJobURL, quoted(), running(40), running(80), finished())
	h.transport.on("PUT", testJobURL, reply{status: 200})

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []State{StateQuoted, StateAccepted, StateRunning, StateFinished}
	got := h.reporter.states()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
	if h.reporter.transitions[1].Identity.ID != "abc123" {
		t.Errorf("transition identity = %+v", h.reporter.transitions[1].Identity)
	}
}

func TestSession_ReportsProgressWhileRunning(t *testing.T) {
	t.Parallel()
	progress := &progressRecorder{}
	h := newHarness(t, func(c *Config) {
		c.MaxPolls = 1
		c.Reporters = []Reporter{progress}
	})
	h.transport.on("GET", testJobsURL, listed("running"))
	h.transport.on("GET", testJobURL, running(10), running(55))

	err := h.session.Run(context.Background())
	if !errors.Is(err, apperrors.ErrStalled) {
		t.Fatalf("Run() error = %v, want ErrStalled", err)
	}

	if got := progress.states(); len(got) != 1 || got[0] != StateRunning {
		t.Errorf("transitions = %v, want [running]", got)
	}
	if len(progress.progress) != 2 {
		t.Fatalf("progress reports = %d, want 2", len(progress.progress))
	}
	for i, want := range []float64{10, 55} {
		p := progress.progress[i]
		if p.To.State != StateRunning || p.To.PercentComplete != want {
			t.Errorf("progress %d = %+v, want running %v", i, p.To, want)
		}
		if p.Identity.ID != "abc123" {
			t.Errorf("progress %d identity = %+v", i, p.Identity)
		}
	}
	if progress.progress[1].From.PercentComplete != 10 {
		t.Errorf("progress from = %v, want 10", progress.progress[1].From.PercentComplete)
	}
}

func TestSession_UnchangedPollIsNotReported(t *testing.T) {
	t.Parallel()
	progress := &progressRecorder{}
	h := newHarness(t, func(c *Config) {
		c.MaxPolls = 2
		c.Reporters = []Reporter{progress}
	})
	h.transport.on("GET", testJobsURL, listed("running"))
	h.transport.on("GET", testJobURL, running(30))

	_ = h.session.Run(context.Background())

	if len(progress.progress) != 1 {
		t.Errorf("progress reports = %d, want 1 for a repeated 30%%", len(progress.progress))
	}
}

func TestSession_ListedJobWithoutStatusIsNotResubmitted(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.transport.on("GET", testJobsURL, listed(""))
	h.transport.on("GET", testJobURL, jobStatus("estimating"), quoted())

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := h.transport.count("POST"); n != 0 {
		t.Errorf("POST count = %d, want 0 for a job already listed", n)
	}
	if h.session.Status().State != StateQuoted {
		t.Errorf("state = %s, want quoted", h.session.Status().State)
	}
}

func TestSession_DuplicateTitles(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.transport.on("GET", testJobsURL, reply{status: 200, body: `{"jobs":[
		{"title":"T","jobURL":"https://api.test/jobs/a.json"},
		{"title":"T","jobURL":"https://api.test/jobs/b.json"}]}`})

	err := h.session.Run(context.Background())
	if !errors.Is(err, apperrors.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if h.transport.count("POST") != 0 {
		t.Error("must not submit when the title is ambiguous")
	}
}

func TestSession_SubmitFailureIsFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.transport.on("GET", testJobsURL, emptyList())
	h.transport.on("POST", testJobsURL, reply{status: 400, body: `{"reason":"bad rules"}`})

	err := h.session.Run(context.Background())
	if !errors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if apperrors.StatusCode(err) != 400 {
		t.Errorf("StatusCode = %d, want 400", apperrors.StatusCode(err))
	}
	if h.transport.count("POST") != 1 {
		t.Errorf("submission must not be retried, got %d POSTs", h.transport.count("POST"))
	}
	if len(h.sleeper.waits) != 0 {
		t.Errorf("expected no waits, got %v", h.sleeper.waits)
	}
}

func TestSession_NotListedAfterSubmission(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.transport.on("GET", testJobsURL, emptyList())
	h.transport.on("POST", testJobsURL, reply{status: 201})

	err := h.session.Run(context.Background())
	if !errors.Is(err, apperrors.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	assertWaits(t, h.sleeper.waits, 60*time.Second, 30*time.Second, 60*time.Second)
	if h.transport.count("POST") != 1 {
		t.Errorf("expected a single submission, got %d", h.transport.count("POST"))
	}
}

func TestSession_DiscoveryRetriesTransportFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.transport.on("GET", testJobsURL,
		reply{err: errors.New("connection refused")},
		reply{status: 502},
		listed("finished"))
	h.transport.on("GET", testJobURL, finished())

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	assertWaits(t, h.sleeper.waits, 30*time.Second, 60*time.Second)
	if h.finisher.calls != 1 {
		t.Errorf("finisher called %d times", h.finisher.calls)
	}
}

func TestSession_DiscoveryGivesUp(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.transport.on("GET", testJobsURL, reply{status: 503})

	err := h.session.Run(context.Background())
	if !errors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if h.transport.count("GET") != 3 {
		t.Errorf("expected 3 attempts, got %d", h.transport.count("GET"))
	}
}

func TestSession_ErrorStatusIsFatal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		listed  reply
		polls   []reply
		wantGET int
	}{
		{"listed as error", listed("error"), nil, 1},
		{"error while estimating", listed("estimating"), []reply{jobStatus("estimating"), jobStatus("error")}, 3},
		{"quoted without quote", listed("quoted"), []reply{jobStatus("quoted")}, 2},
		{"unrecognized status", listed("running"), []reply{jobStatus("halted")}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, func(c *Config) { c.Decision = DecisionAccept })
			h.transport.on("GET", testJobsURL, tt.listed)
			if tt.polls != nil {
				h.transport.on("GET", testJobURL, tt.polls...)
			}

			err := h.session.Run(context.Background())
			if !errors.Is(err, apperrors.ErrProtocol) {
				t.Fatalf("expected protocol error, got %v", err)
			}
			if h.transport.count("GET") != tt.wantGET {
				t.Errorf("GETs = %d, want %d", h.transport.count("GET"), tt.wantGET)
			}
			if h.transport.count("PUT") != 0 || h.finisher.calls != 0 {
				t.Error("error state must stop the lifecycle")
			}
		})
	}
}

func TestSession_TransientPollFailuresAreRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.transport.on("GET", testJobsURL, listed("running"))
	h.transport.on("GET", testJobURL,
		running(10),
		reply{status: 503},
		reply{err: errors.New("timeout")},
		running(70),
		finished())

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(h.sleeper.waits) != 4 {
		t.Errorf("expected a wait before every poll, got %v", h.sleeper.waits)
	}
	if h.finisher.calls != 1 {
		t.Errorf("finisher called %d times", h.finisher.calls)
	}
}

func TestSession_ConsecutivePollFailuresEscalate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.transport.on("GET", testJobsURL, listed("running"))
	h.transport.on("GET", testJobURL, running(10), reply{status: 500})

	err := h.session.Run(context.Background())
	if !errors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if got := h.transport.count("GET"); got != 5 {
		t.Errorf("expected 1 list read, 1 good poll and 3 failed polls, got %d GETs", got)
	}
	if h.session.Status().State != StateRunning {
		t.Errorf("failed polls must not change the snapshot, got %s", h.session.Status())
	}
}

func TestSession_FirstReadFailureWaitsBeforeActing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) { c.Decision = DecisionAccept })
	h.transport.on("GET", testJobsURL, listed("quoted"))
	h.transport.on("GET", testJobURL, reply{status: 502}, quoted(), finished())
	h.transport.on("PUT", testJobURL, reply{status: 200})

	if err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.transport.count("PUT") != 1 {
		t.Errorf("expected one accept, got %d", h.transport.count("PUT"))
	}
	if h.finisher.calls != 1 {
		t.Errorf("finisher called %d times", h.finisher.calls)
	}
}

func TestSession_PollCeiling(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) { c.MaxPolls = 3 })
	h.transport.on("GET", testJobsURL, listed("estimating"))
	h.transport.on("GET", testJobURL, jobStatus("estimating"))

	err := h.session.Run(context.Background())
	if !errors.Is(err, apperrors.ErrStalled) {
		t.Fatalf("expected stalled error, got %v", err)
	}
	if len(h.sleeper.waits) != 3 {
		t.Errorf("waits = %v, want 3", h.sleeper.waits)
	}
}

func TestSession_StatusRegressionIsFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.transport.on("GET", testJobsURL, listed("running"))
	h.transport.on("GET", testJobURL, running(50), jobStatus("estimating"))

	err := h.session.Run(context.Background())
	if !errors.Is(err, apperrors.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestSession_ReviewFreshQuotes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		listed  reply
		wantPUT int
	}{
		{"job quoted before this run", listed("quoted"), 1},
		{"job estimating when the run started", listed("estimating"), 0},
		{"job listed without status", listed(""), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, func(c *Config) {
				c.Decision = DecisionAccept
				c.ReviewFreshQuotes = true
			})
			h.transport.on("GET", testJobsURL, tt.listed)
			h.transport.on("GET", testJobURL, quoted(), finished())
			h.transport.on("PUT", testJobURL, reply{status: 200})

			if err := h.session.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := h.transport.count("PUT"); got != tt.wantPUT {
				t.Errorf("PUTs = %d, want %d", got, tt.wantPUT)
			}
		})
	}
}

func TestSession_FinisherErrorPropagates(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.finisher.err = apperrors.Protocol("results", "finished job has no results")
	h.transport.on("GET", testJobsURL, listed("finished"))
	h.transport.on("GET", testJobURL, jobStatus("finished"))

	err := h.session.Run(context.Background())
	if !errors.Is(err, apperrors.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if h.finisher.calls != 1 {
		t.Errorf("finisher called %d times", h.finisher.calls)
	}
}

func TestSession_CancelledDuringWait(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.transport.on("GET", testJobsURL, listed("running"))
	h.transport.on("GET", testJobURL, running(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.session.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(h.sleeper.waits) != 1 {
		t.Errorf("expected the first wait to be interrupted, got %v", h.sleeper.waits)
	}
}
