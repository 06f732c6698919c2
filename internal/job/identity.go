package job

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"historical/internal/apperrors"
)

// Identity names a job. Title is known up front; ID and URL are filled in once the
// provider's job list contains the title.
type Identity struct {
	Title string
	ID    string
	URL   string
}

// Resolved reports whether the job-specific resource is known.
func (id Identity) Resolved() bool {
	return id.URL != ""
}

// ListEntry is one job from the account's job list.
type ListEntry struct {
	Title  string
	JobURL string
	Raw    map[string]json.RawMessage
}

// ParseJobList decodes a job list body of the form {"jobs":[{"title":..,"jobURL":..},..]}.
func ParseJobList(body []byte) ([]ListEntry, error) {
	var doc struct {
		Jobs []map[string]json.RawMessage `json:"jobs"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperrors.Protocol("jobs.list", fmt.Sprintf("malformed job list: %v", err))
	}

	entries := make([]ListEntry, 0, len(doc.Jobs))
	for _, fields := range doc.Jobs {
		if fields == nil {
			continue
		}
		entries = append(entries, ListEntry{
			Title:  stringField(fields, "title"),
			JobURL: stringField(fields, "jobURL"),
			Raw:    fields,
		})
	}
	return entries, nil
}

// FindByTitle returns the entry with the given title, or nil if there is none.
// Titles identify jobs, so more than one match is a protocol error.
func FindByTitle(entries []ListEntry, title string) (*ListEntry, error) {
	var found *ListEntry
	for i := range entries {
		if entries[i].Title != title {
			continue
		}
		if found != nil {
			return nil, apperrors.Protocol("jobs.list", fmt.Sprintf("more than one job titled %q", title))
		}
		found = &entries[i]
	}
	return found, nil
}

// ResolveIdentifier extracts the job identifier from a job resource URL: the last
// path segment without its extension. ".../jobs/abc123.json" yields "abc123".
func ResolveIdentifier(jobURL string) (string, error) {
	p := jobURL
	if u, err := url.Parse(jobURL); err == nil && u.Path != "" {
		p = u.Path
	}
	last := path.Base(strings.TrimRight(p, "/"))
	id, _, _ := strings.Cut(last, ".")
	if id == "" || id == "/" {
		return "", apperrors.Protocol("jobs.resolve", fmt.Sprintf("cannot derive identifier from job URL %q", jobURL))
	}
	return id, nil
}

// Identity builds the resolved identity for this entry.
func (e *ListEntry) Identity() (Identity, error) {
	if e.JobURL == "" {
		return Identity{}, apperrors.Protocol("jobs.resolve", fmt.Sprintf("job %q has no jobURL", e.Title))
	}
	id, err := ResolveIdentifier(e.JobURL)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Title: e.Title, ID: id, URL: e.JobURL}, nil
}

// Status derives a status from the list entry. The list may carry only a title and a
// URL, in which case the job is treated as New.
func (e *ListEntry) Status() Status {
	if _, ok := e.Raw["status"]; !ok {
		return Status{State: StateNew}
	}
	return statusFromFields(e.Raw, false)
}
