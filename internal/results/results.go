// Package results retrieves and stores the data of a finished job.
package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"historical/internal/apperrors"
	"historical/internal/config"
	"historical/internal/job"
)

// Config holds the settings for the terminal action of a finished job.
type Config struct {
	OutputFolder string        // artifacts go to <OutputFolder>/<jobId>/
	Storage      string        // config.StorageFiles or config.StorageDatabase
	ActivityDSN  string        // database target, defaults to activities.db in the job folder
	Transport    job.Transport // authenticated provider access for manifest and suspect minutes
	Downloader   *Downloader
	Logger       *slog.Logger
}

// Service downloads the artifacts of a finished job and stores them according
// to the account's storage mode. It implements job.Finisher.
type Service struct {
	cfg    Config
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Transport == nil {
		return nil, apperrors.Config("results", "transport is required")
	}
	if cfg.OutputFolder == "" {
		return nil, apperrors.Config("historical.output_folder", "output folder is required")
	}
	switch cfg.Storage {
	case "":
		cfg.Storage = config.StorageFiles
	case config.StorageFiles, config.StorageDatabase:
	default:
		return nil, apperrors.Config("historical.storage", fmt.Sprintf("unknown storage mode %q", cfg.Storage))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Downloader == nil {
		cfg.Downloader = NewDownloader(DownloaderConfig{}, nil, cfg.Logger)
	}
	return &Service{cfg: cfg, logger: cfg.Logger.With("component", "results")}, nil
}

// Dir returns the output folder of a job.
func (s *Service) Dir(jobID string) string {
	return filepath.Join(s.cfg.OutputFolder, jobID)
}

// Finish retrieves the results of a finished job. Every file is attempted even when
// some fail; the failures are then reported together.
func (s *Service) Finish(ctx context.Context, id job.Identity, status job.Status) error {
	if status.Results == nil || status.Results.DataURL == "" {
		return apperrors.Protocol("results", "finished job has no dataURL to download")
	}
	log := s.logger.With("jobId", id.ID)
	dir := s.Dir(id.ID)

	manifest, err := FetchManifest(ctx, s.cfg.Transport, status.Results.DataURL)
	if err != nil {
		return err
	}
	log.Info("Downloading results", "files", len(manifest.URLList), "dir", dir)

	report := s.cfg.Downloader.Download(ctx, manifest.URLList, dir, id.ID)
	if err := ctx.Err(); err != nil {
		return err
	}

	if u := status.Results.SuspectMinutesURL; u != "" {
		if path, err := SaveSuspectMinutes(ctx, s.cfg.Transport, u, dir); err != nil {
			log.Warn("Failed to save suspect minutes", "error", err)
		} else {
			log.Info("Saved suspect minutes", "path", path)
		}
	}

	var storeErr error
	switch {
	case len(report.Paths()) == 0:
		log.Warn("No data files to store")
	case s.cfg.Storage == config.StorageDatabase:
		storeErr = s.load(ctx, log, dir, report.Paths())
	default:
		files, err := Decompress(dir)
		storeErr = err
		log.Info("Decompressed results", "files", len(files))
	}

	failed := report.Failed()
	if len(failed) > 0 {
		errs := make([]error, 0, len(failed))
		for _, f := range failed {
			log.Error("File not downloaded", "url", f.URL, "attempts", f.Attempts, "error", f.Err)
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(f.Path), f.Err))
		}
		return apperrors.Transport("results.download", 0,
			fmt.Errorf("%d of %d files failed: %w", len(failed), len(report.Files), errors.Join(errs...)))
	}
	if storeErr != nil {
		return fmt.Errorf("storing results: %w", storeErr)
	}

	log.Info("Results retrieved", "files", len(report.Files), "bytes", report.Bytes(), "storage", s.cfg.Storage)
	return nil
}

// load inserts the downloaded files into the activity store.
func (s *Service) load(ctx context.Context, log *slog.Logger, dir string, paths []string) error {
	dsn := s.cfg.ActivityDSN
	if dsn == "" {
		dsn = filepath.Join(dir, "activities.db")
	}
	store, err := OpenStore(ctx, dsn, s.cfg.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var errs []error
	total := 0
	for _, p := range paths {
		n, err := store.LoadFile(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(p), err))
			continue
		}
		total += n
	}
	log.Info("Loaded activities", "files", len(paths), "activities", total)
	return errors.Join(errs...)
}

var _ job.Finisher = (*Service)(nil)
