package results

import (
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Decompress gunzips every .gz file directly inside dir, writing each next to its
// archive and removing the archive afterwards. It returns the decompressed paths.
// A file that fails is left compressed and reported; the rest are still processed.
func Decompress(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var (
		out  []string
		errs []string
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".gz") {
			continue
		}
		src := filepath.Join(dir, e.Name())
		dest := strings.TrimSuffix(src, ".gz")
		if err := gunzip(src, dest); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", e.Name(), err))
			continue
		}
		if err := os.Remove(src); err != nil {
			errs = append(errs, fmt.Sprintf("%s: failed to remove archive: %v", e.Name(), err))
		}
		out = append(out, dest)
	}

	slog.Debug("Decompressed files", "dir", dir, "files", len(out), "failed", len(errs))
	if len(errs) > 0 {
		return out, fmt.Errorf("failed to decompress %d file(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return out, nil
}

func gunzip(src, dest string) error {
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	tmp := dest + ".part"
	outFile, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(outFile, gzReader); err != nil {
		outFile.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to extract file: %w", err)
	}
	if err := outFile.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close file: %w", err)
	}
	return os.Rename(tmp, dest)
}
