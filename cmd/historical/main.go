// historical drives one Historical PowerTrack job from submission to downloaded data.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"historical/internal/api"
	"historical/internal/apperrors"
	"historical/internal/config"
	"historical/internal/health"
	"historical/internal/job"
	"historical/internal/jobdesc"
	"historical/internal/notify"
	"historical/internal/observability"
	"historical/internal/provider"
	"historical/internal/results"
	"historical/pkg/backoff"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if err != nil {
		slog.Error("Run failed", "error", err)
	}
	os.Exit(apperrors.ExitCode(err))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("historical", flag.ContinueOnError)
	flags.SetOutput(stderr)
	accountPath := flags.String("c", "./PowerTrackConfig_private.yaml", "account configuration file")
	jobPath := flags.String("j", "./jobDescriptions/HistoricalRequest.yaml", "job description file")
	accept := flags.String("a", "", "accept the quote: true or false; omit to stop at the quote")
	usage := flags.Bool("u", false, "print the account usage and exit")
	if err := flags.Parse(args); err != nil {
		return apperrors.Config("flags", err.Error())
	}

	// Load configuration
	runCfg, err := config.LoadRunConfig()
	if err != nil {
		return err
	}
	acct, err := config.LoadAccount(*accountPath)
	if err != nil {
		return err
	}
	if *usage {
		return printUsage(ctx, runCfg, acct, stdout)
	}
	desc, err := jobdesc.Load(*jobPath, acct, runCfg.Publisher)
	if err != nil {
		return err
	}
	decision, err := job.ParseDecision(*accept)
	if err != nil {
		return err
	}

	logger := slog.Default().With("title", desc.Title())

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Provider transport
	client, err := provider.New(acct, provider.Options{
		Timeout: runCfg.HTTPTimeout,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	// Terminal actions
	finisher, err := results.NewService(results.Config{
		OutputFolder: acct.OutputFolder,
		Storage:      acct.Storage,
		ActivityDSN:  runCfg.ActivityDSN,
		Transport:    client,
		Downloader: results.NewDownloader(results.DownloaderConfig{
			Workers: runCfg.DownloadWorkers,
			Retries: runCfg.DownloadRetries,
			Timeout: runCfg.DownloadTimeout,
		}, metrics, logger),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	// Transition reporting
	reporters := []job.Reporter{metrics}
	var circuit health.CircuitReporter
	if runCfg.NotifyURL != "" {
		notifier := notify.New(notify.LoadConfigFromEnv(runCfg.NotifyURL, runCfg.NotifyKey), metrics, logger)
		defer closeNotifier(notifier)
		reporters = append(reporters, notifier)
		circuit = notifier
	}
	checker := health.NewChecker(circuit)
	reporters = append(reporters, checker)

	if runCfg.MetricsPort != "" {
		stopStatus := serveStatus(runCfg.MetricsPort, api.NewRouter(api.RouterConfig{
			HealthChecker:  checker,
			MetricsHandler: metricsHandler,
			Logger:         logger,
		}))
		defer stopStatus()
		defer checker.SetShuttingDown()
	}

	session, err := job.NewSession(job.Config{
		Transport:         client,
		Description:       desc,
		Finisher:          finisher,
		Reporters:         reporters,
		Metrics:           metrics,
		JobsURL:           runCfg.JobsURL(acct.Name),
		Decision:          decision,
		SubmitCooldown:    runCfg.SubmitCooldown,
		PollInterval:      runCfg.PollInterval,
		MaxPolls:          runCfg.MaxPolls,
		MaxPollFailures:   runCfg.MaxPollFailures,
		DiscoveryAttempts: runCfg.DiscoveryAttempts,
		DiscoveryBackoff: backoff.Config{
			Initial: runCfg.DiscoveryBackoff,
			Max:     runCfg.DiscoveryBackoffMax,
		},
		ReviewFreshQuotes: runCfg.ReviewFreshQuotes,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	logger.Info("Starting job run", "account", acct.Name, "decision", decision.String(), "storage", acct.Storage)
	if err := session.Run(ctx); err != nil {
		return err
	}

	final := session.Status()
	logger.Info("Run complete", "jobId", session.Identity().ID, "status", final.String())
	return nil
}

// printUsage writes the account usage document, indented, to w.
func printUsage(ctx context.Context, runCfg *config.RunConfig, acct *config.Account, w io.Writer) error {
	client, err := provider.New(acct, provider.Options{Timeout: runCfg.HTTPTimeout})
	if err != nil {
		return err
	}
	usage, err := job.FetchUsage(ctx, client, runCfg.UsageURL(acct.Name))
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, usage, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(w)
	return err
}

// serveStatus starts the status and metrics server and returns a function that stops it.
func serveStatus(port string, handler http.Handler) func() {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting status server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Status server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Status server shutdown error", "error", err)
		}
	}
}

// closeNotifier drains pending notifications before exit.
func closeNotifier(n *notify.Notifier) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		slog.Warn("Notifier shutdown error", "error", err)
	}

	stats := n.Stats()
	slog.Info("Notifier stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)
}
