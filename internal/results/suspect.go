package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"historical/internal/apperrors"
	"historical/internal/job"
)

// SuspectMinutesFile is written next to the data files when the provider flags
// minutes whose data may be incomplete.
const SuspectMinutesFile = "suspect_minutes.json"

// SaveSuspectMinutes fetches the suspect minutes list and writes it, indented,
// into dir. It returns the written path.
func SaveSuspectMinutes(ctx context.Context, transport job.Transport, suspectURL, dir string) (string, error) {
	resp, err := transport.Get(ctx, suspectURL)
	if err != nil {
		return "", apperrors.Transport("results.suspect_minutes", 0, err)
	}
	if !resp.OK() {
		return "", apperrors.Transport("results.suspect_minutes", resp.StatusCode, nil)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp.Body, "", "  "); err != nil {
		return "", apperrors.Protocol("results.suspect_minutes", fmt.Sprintf("malformed suspect minutes: %v", err))
	}
	pretty.WriteByte('\n')

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	path := filepath.Join(dir, SuspectMinutesFile)
	if err := os.WriteFile(path, pretty.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write suspect minutes: %w", err)
	}
	return path, nil
}
