package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

func request(t *testing.T, p *FakeProvider, method, url, body string, auth bool) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if auth {
		req.SetBasicAuth(p.Username, p.Password)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var doc map[string]any
	_ = json.Unmarshal(raw, &doc)
	return resp.StatusCode, doc
}

func TestFakeProvider_RequiresBasicAuth(t *testing.T) {
	t.Parallel()
	p := NewFakeProvider(t)

	if status, _ := request(t, p, "GET", p.JobsURL(), "", false); status != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", status)
	}
	if status, _ := request(t, p, "GET", p.JobsURL(), "", true); status != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", status)
	}
}

func TestFakeProvider_SubmitAndAdvance(t *testing.T) {
	t.Parallel()
	p := NewFakeProvider(t)
	p.NewJobScript = []Doc{{"status": "estimating"}, {"status": "quoted", "quote": Doc{"costDollars": 10}}}
	p.AcceptScript = []Doc{{"status": "running", "percentComplete": 50}}

	status, doc := request(t, p, "POST", p.JobsURL(), `{"title":"T"}`, true)
	if status != http.StatusCreated {
		t.Fatalf("submit status = %d", status)
	}
	jobURL, _ := doc["jobURL"].(string)
	if jobURL != p.JobURL("job001") {
		t.Errorf("jobURL = %q", jobURL)
	}

	_, list := request(t, p, "GET", p.JobsURL(), "", true)
	jobs, _ := list["jobs"].([]any)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 listed job, got %v", list)
	}

	want := []string{"estimating", "quoted", "quoted"}
	for i, w := range want {
		_, doc := request(t, p, "GET", jobURL, "", true)
		if doc["status"] != w {
			t.Errorf("poll %d status = %v, want %s", i+1, doc["status"], w)
		}
	}

	if status, _ := request(t, p, "PUT", jobURL, `{"status":"accept"}`, true); status != http.StatusOK {
		t.Fatalf("accept status = %d", status)
	}
	if _, doc := request(t, p, "GET", jobURL, "", true); doc["status"] != "running" {
		t.Errorf("status after accept = %v", doc["status"])
	}
	if got := p.Decisions(); len(got) != 1 || got[0] != "accept" {
		t.Errorf("Decisions() = %v", got)
	}
	if len(p.Submissions()) != 1 {
		t.Errorf("Submissions() = %d", len(p.Submissions()))
	}
}

func TestFakeProvider_FailNext(t *testing.T) {
	t.Parallel()
	p := NewFakeProvider(t)
	p.FailNext("GET", "/accounts/", 503, 500)

	for _, want := range []int{503, 500, 200} {
		if status, _ := request(t, p, "GET", p.JobsURL(), "", true); status != want {
			t.Errorf("status = %d, want %d", status, want)
		}
	}
}

func TestFakeProvider_ManifestAndFiles(t *testing.T) {
	t.Parallel()
	p := NewFakeProvider(t)
	p.AddFile("b.json.gz", []byte("b"))
	p.AddFile("a.json.gz", []byte("a"))

	_, doc := request(t, p, "GET", p.DataURL("abc"), "", true)
	urls, _ := doc["urlList"].([]any)
	if len(urls) != 2 || urls[0] != p.FileURL("a.json.gz") {
		t.Fatalf("manifest = %v", doc)
	}

	resp, err := http.Get(p.FileURL("a.json.gz"))
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "a" {
		t.Errorf("file content = %q", body)
	}
}
