package results

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// StatusError is a download that got a response other than 200.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download failed with status %d", e.StatusCode)
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Download fetches one data file to a local path.
type Download struct {
	URL  string
	Path string

	httpClient *http.Client
}

// NewDownload creates a Download with the given HTTP client.
func NewDownload(httpClient *http.Client, url, path string) *Download {
	return &Download{URL: url, Path: path, httpClient: httpClient}
}

// Apply downloads the file. Data is written to a temporary name first, so a failed
// transfer never leaves a truncated file under the final name.
func (d *Download) Apply(ctx context.Context) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(d.Path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	client := d.httpClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{StatusCode: resp.StatusCode}
	}

	tmp := d.Path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(file, resp.Body)
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tmp, d.Path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to move file into place: %w", err)
	}
	return written, nil
}
