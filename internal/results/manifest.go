package results

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"historical/internal/apperrors"
	"historical/internal/job"
)

// Manifest lists the data files of a finished job.
type Manifest struct {
	URLCount           int      `json:"urlCount"`
	URLList            []string `json:"urlList"`
	ExpiresAt          string   `json:"expiresAt,omitempty"`
	TotalFileSizeBytes int64    `json:"totalFileSizeBytes,omitempty"`
}

// FetchManifest reads the file list behind a job's dataURL.
func FetchManifest(ctx context.Context, transport job.Transport, dataURL string) (*Manifest, error) {
	resp, err := transport.Get(ctx, dataURL)
	if err != nil {
		return nil, apperrors.Transport("results.manifest", 0, err)
	}
	if !resp.OK() {
		return nil, apperrors.Transport("results.manifest", resp.StatusCode, nil)
	}

	var m Manifest
	if err := json.Unmarshal(resp.Body, &m); err != nil {
		return nil, apperrors.Protocol("results.manifest", fmt.Sprintf("malformed manifest: %v", err))
	}
	if m.URLCount != 0 && m.URLCount != len(m.URLList) {
		return nil, apperrors.Protocol("results.manifest",
			fmt.Sprintf("manifest announces %d files but lists %d", m.URLCount, len(m.URLList)))
	}
	return &m, nil
}

// FileName derives a flat local name for a data file. Archive URLs nest files under
// a folder named after the job, e.g. .../20120101-20120102_abc123/2012/01/01/00/00_activities.json.gz,
// and the segments below that folder become 2012_01_01_00_00_activities.json.gz.
// URLs without such a folder fall back to an index prefix to keep names unique.
func FileName(rawURL, jobID string, index int) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	segments := strings.Split(strings.Trim(p, "/"), "/")

	if jobID != "" {
		for i, seg := range segments {
			if strings.Contains(seg, jobID) && i < len(segments)-1 {
				return sanitize(strings.Join(segments[i+1:], "_"))
			}
		}
	}
	return fmt.Sprintf("%05d_%s", index, sanitize(path.Base(p)))
}

func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
