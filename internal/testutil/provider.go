package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Doc is one job status document served by the fake provider.
type Doc map[string]any

// FakeJob is a job known to the fake provider. Each GET of the job resource serves
// the next document of Script; the last document repeats.
type FakeJob struct {
	ID     string
	Title  string
	Script []Doc
	served int
}

func (j *FakeJob) current() Doc {
	if len(j.Script) == 0 {
		return Doc{"status": "estimating"}
	}
	i := j.served
	if i >= len(j.Script) {
		i = len(j.Script) - 1
	}
	return j.Script[i]
}

func (j *FakeJob) next() Doc {
	doc := j.current()
	j.served++
	return doc
}

// FakeProvider is an in-process Historical PowerTrack API for tests.
type FakeProvider struct {
	Server    *httptest.Server
	Account   string
	Publisher string
	Username  string
	Password  string

	// NewJobScript is the script given to jobs created by a submission.
	NewJobScript []Doc
	// AcceptScript replaces a job's script once it is accepted.
	AcceptScript []Doc
	// Usage is served as the account usage document.
	Usage Doc

	mu          sync.Mutex
	jobs        []*FakeJob
	nextID      int
	submissions []json.RawMessage
	decisions   []string
	files       map[string][]byte
	failures    map[string][]int
	requests    []string
}

// NewFakeProvider starts a fake provider that is closed when the test ends.
func NewFakeProvider(tb testing.TB) *FakeProvider {
	tb.Helper()
	p := &FakeProvider{
		Account:   "acme",
		Publisher: "twitter",
		Username:  "user@example.com",
		Password:  "s3cret",
		Usage:     Doc{"account": "acme", "historicalPowerTrack": Doc{"jobs": 0}},
		files:     make(map[string][]byte),
		failures:  make(map[string][]int),
	}

	r := chi.NewRouter()
	r.Use(p.recordRequest, p.injectFailures)
	r.Group(func(r chi.Router) {
		r.Use(p.basicAuth)
		r.Get("/accounts/{account}/usage.json", p.getUsage)
		r.Get("/accounts/{account}/publishers/{publisher}/jobs.json", p.listJobs)
		r.Post("/accounts/{account}/publishers/{publisher}/jobs.json", p.submitJob)
		r.Get("/accounts/{account}/publishers/{publisher}/historical/jobs/{file}", p.getJob)
		r.Put("/accounts/{account}/publishers/{publisher}/historical/jobs/{file}", p.decideJob)
		r.Get("/accounts/{account}/publishers/{publisher}/historical/jobs/{id}/results.json", p.getManifest)
	})
	r.Get("/files/*", p.getFile)

	p.Server = httptest.NewServer(r)
	tb.Cleanup(p.Server.Close)
	return p
}

// BaseURL is the API root to configure the driver with.
func (p *FakeProvider) BaseURL() string {
	return p.Server.URL
}

// UsageURL is the account usage resource.
func (p *FakeProvider) UsageURL() string {
	return fmt.Sprintf("%s/accounts/%s/usage.json", p.Server.URL, p.Account)
}

// JobsURL is the account's job list and submission resource.
func (p *FakeProvider) JobsURL() string {
	return fmt.Sprintf("%s/accounts/%s/publishers/%s/jobs.json", p.Server.URL, p.Account, p.Publisher)
}

// JobURL is the resource of the job with the given id.
func (p *FakeProvider) JobURL(id string) string {
	return fmt.Sprintf("%s/accounts/%s/publishers/%s/historical/jobs/%s.json", p.Server.URL, p.Account, p.Publisher, id)
}

// DataURL is the results manifest of the job with the given id.
func (p *FakeProvider) DataURL(id string) string {
	return fmt.Sprintf("%s/accounts/%s/publishers/%s/historical/jobs/%s/results.json", p.Server.URL, p.Account, p.Publisher, id)
}

// FileURL is where a file registered with AddFile is served.
func (p *FakeProvider) FileURL(name string) string {
	return p.Server.URL + "/files/" + name
}

// AddJob registers an existing job and returns it.
func (p *FakeProvider) AddJob(id, title string, script ...Doc) *FakeJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	j := &FakeJob{ID: id, Title: title, Script: script}
	p.jobs = append(p.jobs, j)
	return j
}

// AddFile serves content under /files/name. Data files are unauthenticated, as
// signed archive URLs are.
func (p *FakeProvider) AddFile(name string, content []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[name] = content
}

// FailNext makes the next requests matching method and path prefix fail with the
// given status codes, one per request.
func (p *FakeProvider) FailNext(method, pathPrefix string, statuses ...int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := method + " " + pathPrefix
	p.failures[key] = append(p.failures[key], statuses...)
}

// Submissions returns the bodies POSTed to the jobs resource.
func (p *FakeProvider) Submissions() []json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]json.RawMessage(nil), p.submissions...)
}

// Decisions returns the status values PUT to job resources, in order.
func (p *FakeProvider) Decisions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.decisions...)
}

// Requests returns "METHOD path" for every request received.
func (p *FakeProvider) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

func (p *FakeProvider) recordRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.requests = append(p.requests, r.Method+" "+r.URL.Path)
		p.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (p *FakeProvider) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		status := 0
		for key, queue := range p.failures {
			method, prefix, _ := strings.Cut(key, " ")
			if method == r.Method && strings.HasPrefix(r.URL.Path, prefix) && len(queue) > 0 {
				status = queue[0]
				p.failures[key] = queue[1:]
				break
			}
		}
		p.mu.Unlock()

		if status != 0 {
			http.Error(w, `{"error":"injected failure"}`, status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *FakeProvider) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != p.Username || pass != p.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="historical"`)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if chi.URLParam(r, "account") != p.Account {
			http.Error(w, `{"error":"unknown account"}`, http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *FakeProvider) getUsage(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	usage := p.Usage
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, usage)
}

func (p *FakeProvider) listJobs(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	entries := make([]Doc, 0, len(p.jobs))
	for _, j := range p.jobs {
		entries = append(entries, Doc{
			"title":  j.Title,
			"jobURL": p.JobURL(j.ID),
			"status": j.current()["status"],
		})
	}
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, Doc{"jobs": entries})
}

func (p *FakeProvider) submitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Title == "" {
		writeJSON(w, http.StatusBadRequest, Doc{"error": "title is required"})
		return
	}

	p.mu.Lock()
	p.submissions = append(p.submissions, body)
	p.nextID++
	j := &FakeJob{ID: fmt.Sprintf("job%03d", p.nextID), Title: req.Title, Script: p.NewJobScript}
	p.jobs = append(p.jobs, j)
	p.mu.Unlock()

	writeJSON(w, http.StatusCreated, Doc{"jobURL": p.JobURL(j.ID), "status": "opened"})
}

func (p *FakeProvider) getJob(w http.ResponseWriter, r *http.Request) {
	j := p.find(chi.URLParam(r, "file"))
	if j == nil {
		writeJSON(w, http.StatusNotFound, Doc{"error": "no such job"})
		return
	}
	p.mu.Lock()
	doc := j.next()
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, doc)
}

func (p *FakeProvider) decideJob(w http.ResponseWriter, r *http.Request) {
	j := p.find(chi.URLParam(r, "file"))
	if j == nil {
		writeJSON(w, http.StatusNotFound, Doc{"error": "no such job"})
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Status != "accept" && req.Status != "reject") {
		writeJSON(w, http.StatusBadRequest, Doc{"error": "status must be accept or reject"})
		return
	}

	p.mu.Lock()
	p.decisions = append(p.decisions, req.Status)
	j.served = 0
	if req.Status == "accept" {
		j.Script = p.AcceptScript
	} else {
		j.Script = []Doc{{"status": "rejected"}}
	}
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, Doc{"status": req.Status})
}

func (p *FakeProvider) getManifest(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	urls := make([]string, 0, len(p.files))
	for name := range p.files {
		urls = append(urls, p.FileURL(name))
	}
	p.mu.Unlock()
	slices.Sort(urls)
	writeJSON(w, http.StatusOK, Doc{"urlCount": len(urls), "urlList": urls})
}

func (p *FakeProvider) getFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	p.mu.Lock()
	content, ok := p.files[name]
	p.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(content)
}

// find resolves a "{id}.json" path segment to a job.
func (p *FakeProvider) find(file string) *FakeJob {
	id := strings.TrimSuffix(file, ".json")
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, j := range p.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
